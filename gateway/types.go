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

// Package gateway exposes the FieldLine AI gateway over HTTP: context
// resolution from the three trust paths, the /api/v1/llm endpoint with its
// blocking, streaming, and workflow modes, and operational endpoints.
package gateway

import (
	"fieldline/platform/llm"
	"fieldline/platform/workflow"
)

// WorkflowOptions selects workflow mode on a generate request.
type WorkflowOptions struct {
	Enable bool `json:"enable"`

	// Context carries caller-supplied hints forwarded to the classifier.
	Context map[string]interface{} `json:"context,omitempty"`

	// AutoExecute runs the classified plan immediately instead of
	// returning it for confirmation.
	AutoExecute bool `json:"autoExecute,omitempty"`
}

// GenerateRequest is the /api/v1/llm request body.
type GenerateRequest struct {
	AccountID     string     `json:"accountId,omitempty"`
	UseCase       string     `json:"useCase,omitempty"`
	Prompt        string     `json:"prompt"`
	SystemPrompt  string     `json:"systemPrompt,omitempty"`
	MaxTokens     int        `json:"maxTokens,omitempty"`
	Temperature   *float64   `json:"temperature,omitempty"`
	ModelOverride string     `json:"modelOverride,omitempty"`
	Stream        bool       `json:"stream,omitempty"`
	Tools         []llm.Tool `json:"tools,omitempty"`
	ToolChoice    string     `json:"toolChoice,omitempty"`
	MaxSteps      int        `json:"maxSteps,omitempty"`

	Workflow *WorkflowOptions `json:"workflow,omitempty"`
}

// GenerateResponse is the blocking non-workflow response.
type GenerateResponse struct {
	Success   bool           `json:"success"`
	Text      string         `json:"text"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	ToolCalls []llm.ToolCall `json:"toolCalls,omitempty"`
	Usage     llm.UsageStats `json:"usage"`
}

// WorkflowResponse covers the workflow-mode response shapes: classify-only,
// missing-input, and executed.
type WorkflowResponse struct {
	Success  bool   `json:"success"`
	Workflow string `json:"workflow"`

	// Classify-only fields.
	Plan           *workflow.Definition     `json:"plan,omitempty"`
	Classification *workflow.Classification `json:"classification,omitempty"`

	// Missing-input fields.
	RequiresInput      bool                   `json:"requiresInput,omitempty"`
	MissingInfo        []string               `json:"missingInfo,omitempty"`
	ExtractedVariables map[string]interface{} `json:"extractedVariables,omitempty"`

	// Execution field.
	Execution *workflow.Result `json:"execution,omitempty"`
}

// ErrorResponse is the error body for every failure status.
type ErrorResponse struct {
	Error string `json:"error"`
}
