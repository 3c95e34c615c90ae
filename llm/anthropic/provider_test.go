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

package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	lastRequest *http.Request
	lastBody    map[string]interface{}
	response    string
	status      int
}

func (c *stubClient) Do(req *http.Request) (*http.Response, error) {
	c.lastRequest = req
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(raw, &c.lastBody)
	}
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(c.response)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func TestNewProviderRequiresAPIKey(t *testing.T) {
	_, err := NewProvider(Config{})
	assert.Error(t, err)
}

func TestCompleteParsesResponse(t *testing.T) {
	client := &stubClient{response: `{
		"model": "claude-sonnet-4-20250514",
		"content": [{"type": "text", "text": "hello"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 3}
	}`}

	provider, err := NewProvider(Config{APIKey: "sk-ant-test", Client: client})
	require.NoError(t, err)

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Prompt:       "say hello",
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "sk-ant-test", client.lastRequest.Header.Get("x-api-key"))
	assert.Equal(t, APIVersion, client.lastRequest.Header.Get("anthropic-version"))
	assert.Equal(t, "be brief", client.lastBody["system"])
}

func TestCompleteParsesToolUse(t *testing.T) {
	client := &stubClient{response: `{
		"model": "claude-sonnet-4-20250514",
		"content": [{"type": "tool_use", "id": "tu_1", "name": "create_job", "input": {"customer": "Acme"}}],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 5, "output_tokens": 5}
	}`}

	provider, err := NewProvider(Config{APIKey: "sk-ant-test", Client: client})
	require.NoError(t, err)

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Prompt: "make a job",
		Tools:  []Tool{{Name: "create_job", Parameters: map[string]interface{}{"type": "object"}}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "create_job", resp.ToolCalls[0].Name)
	assert.Equal(t, "Acme", resp.ToolCalls[0].Arguments["customer"])
}

func TestCompleteStreamAggregatesDeltas(t *testing.T) {
	events := strings.Join([]string{
		`event: message_start`,
		`data: {"type": "message_start", "message": {"model": "claude-sonnet-4-20250514", "usage": {"input_tokens": 4}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type": "content_block_delta", "delta": {"type": "text_delta", "text": "hel"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type": "content_block_delta", "delta": {"type": "text_delta", "text": "lo"}}`,
		``,
		`event: message_delta`,
		`data: {"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 2}}`,
		``,
		`event: message_stop`,
		`data: {"type": "message_stop"}`,
		``,
	}, "\n")

	client := &stubClient{response: events}
	provider, err := NewProvider(Config{APIKey: "sk-ant-test", Client: client})
	require.NoError(t, err)

	var chunks []string
	resp, err := provider.CompleteStream(context.Background(), CompletionRequest{Prompt: "hi"}, func(chunk StreamChunk) error {
		if !chunk.Done {
			chunks = append(chunks, chunk.Content)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, []string{"hel", "lo"}, chunks)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	client := &stubClient{status: http.StatusTooManyRequests, response: `{"error": {"type": "rate_limit_error", "message": "slow down"}}`}
	provider, err := NewProvider(Config{APIKey: "sk-ant-test", Client: client})
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}
