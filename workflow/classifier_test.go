// Copyright 2025 FieldLine
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldline/platform/llm"
	"fieldline/platform/shared/logger"
)

func testLogger() *logger.Logger {
	log := logger.New("test")
	log.SetOutput(io.Discard)
	return log
}

// stubCompleter returns a fixed model output and records the request.
type stubCompleter struct {
	text     string
	err      error
	requests []llm.CompletionRequest
}

func (s *stubCompleter) Complete(ctx context.Context, execCtx llm.ExecutionContext, useCase string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Text: s.text}, nil
}

func testExecCtx() llm.ExecutionContext {
	return llm.ExecutionContext{UserID: "u1", AccountID: "acct-1", Role: "admin"}
}

const validPlan = `{
	"workflow": "invoice_billing",
	"confidence": 0.92,
	"reasoning": "user wants an estimate emailed",
	"variables": {"customer": "Acme"},
	"missing_info": [],
	"steps": [
		{"id": "est", "tool": "create_estimate", "description": "create the estimate",
		 "parameters": [{"name": "customer", "type": "string", "required": true}]},
		{"id": "mail", "tool": "send_email", "description": "email it", "optional": true,
		 "depends_on": ["step_est.id"],
		 "parameters": [{"name": "id", "type": "string", "required": true}]}
	]
}`

func TestClassifyParsesPlan(t *testing.T) {
	completer := &stubCompleter{text: validPlan}
	classifier := NewClassifier(completer, NewRegistry(), testLogger())

	c, err := classifier.Classify(context.Background(), "estimate for Acme then email it", testExecCtx(), nil)
	require.NoError(t, err)
	assert.Equal(t, WorkflowInvoiceBilling, c.Workflow)
	assert.InDelta(t, 0.92, c.Confidence, 0.001)
	assert.Equal(t, "Acme", c.Variables["customer"])
	require.Len(t, c.Definition.Steps, 2)
	assert.Equal(t, TargetToolRPC, c.Definition.Steps[0].Target.Kind)

	// Always temperature zero.
	require.Len(t, completer.requests, 1)
	require.NotNil(t, completer.requests[0].Temperature)
	assert.Equal(t, 0.0, *completer.requests[0].Temperature)
}

func TestClassifyIsDeterministicUnderRepeat(t *testing.T) {
	completer := &stubCompleter{text: validPlan}
	classifier := NewClassifier(completer, NewRegistry(), testLogger())

	first, err := classifier.Classify(context.Background(), "estimate for Acme", testExecCtx(), nil)
	require.NoError(t, err)
	second, err := classifier.Classify(context.Background(), "estimate for Acme", testExecCtx(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Workflow, second.Workflow)

	toolsOf := func(c *Classification) []string {
		var tools []string
		for _, s := range c.Definition.Steps {
			tools = append(tools, s.Tool)
		}
		return tools
	}
	assert.Equal(t, toolsOf(first), toolsOf(second))
}

func TestClassifyStripsCodeFences(t *testing.T) {
	completer := &stubCompleter{text: "```json\n" + validPlan + "\n```"}
	classifier := NewClassifier(completer, NewRegistry(), testLogger())

	c, err := classifier.Classify(context.Background(), "estimate", testExecCtx(), nil)
	require.NoError(t, err)
	assert.Equal(t, WorkflowInvoiceBilling, c.Workflow)
}

func TestClassifyFallsBackOnMalformedJSON(t *testing.T) {
	completer := &stubCompleter{text: "I think you want a job created! {not json"}
	classifier := NewClassifier(completer, NewRegistry(), testLogger())

	c, err := classifier.Classify(context.Background(), "whatever", testExecCtx(), nil)
	require.NoError(t, err, "classification failures never error")
	assert.Equal(t, FallbackWorkflow, c.Workflow)
	assert.Zero(t, c.Confidence)
	assert.Empty(t, c.Definition.Steps)
}

func TestClassifyFallsBackOnUnknownWorkflow(t *testing.T) {
	completer := &stubCompleter{text: `{"workflow": "time_travel", "confidence": 0.9, "steps": []}`}
	classifier := NewClassifier(completer, NewRegistry(), testLogger())

	c, err := classifier.Classify(context.Background(), "go back to 1999", testExecCtx(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackWorkflow, c.Workflow)
	assert.Zero(t, c.Confidence)
}

func TestClassifyFallsBackOnOutOfVocabularyTool(t *testing.T) {
	completer := &stubCompleter{text: `{
		"workflow": "job_management", "confidence": 0.8,
		"steps": [{"tool": "launch_rocket"}]
	}`}
	classifier := NewClassifier(completer, NewRegistry(), testLogger())

	c, err := classifier.Classify(context.Background(), "launch", testExecCtx(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackWorkflow, c.Workflow)
}

func TestClassifyFallsBackOnModelError(t *testing.T) {
	completer := &stubCompleter{err: llm.Errorf(llm.ErrCodeTransport, "provider down")}
	classifier := NewClassifier(completer, NewRegistry(), testLogger())

	c, err := classifier.Classify(context.Background(), "anything", testExecCtx(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackWorkflow, c.Workflow)
}

func TestClassifyPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	completer := &stubCompleter{err: context.Canceled}
	classifier := NewClassifier(completer, NewRegistry(), testLogger())

	_, err := classifier.Classify(ctx, "anything", testExecCtx(), nil)
	assert.Error(t, err)
}
