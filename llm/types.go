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

// Package llm provides the provider model for the FieldLine AI gateway:
// tenant-scoped provider configuration, credential resolution, a unified
// completion interface across vendors, and the resilience primitives the
// router composes around raw model calls.
package llm

import (
	"context"
	"time"
)

// Family identifies an LLM vendor family.
type Family string

const (
	// FamilyOpenAI represents OpenAI GPT models.
	FamilyOpenAI Family = "openai"

	// FamilyAnthropic represents Anthropic Claude models.
	FamilyAnthropic Family = "anthropic"

	// FamilyBedrock represents AWS Bedrock managed models.
	FamilyBedrock Family = "bedrock"
)

// Use-case identifiers that provider records can be scoped to.
const (
	UseCaseGeneral        = "general"
	UseCaseClassification = "classification"
	UseCaseEstimation     = "estimation"
	UseCaseDrafting       = "drafting"
)

// ExecutionContext carries the resolved caller identity for one request.
// It is immutable once resolved and is never persisted.
type ExecutionContext struct {
	UserID      string   `json:"user_id"`
	AccountID   string   `json:"account_id"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`

	// ForwardedCredential is the caller's original bearer credential,
	// forwarded to downstream targets so they can enforce their own
	// access control. Never logged.
	ForwardedCredential string `json:"-"`
}

// ProviderRecord is a tenant-configured AI provider. Records are created and
// edited by tenant configuration elsewhere in the system; the gateway only
// reads them.
type ProviderRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Family Family `json:"family"`
	Model  string `json:"model"`

	// APIKeyEncrypted holds the AES-GCM encrypted per-provider API key,
	// base64 encoded. Empty when the environment-level key is expected
	// to be used. Stripped before the record enters any cache.
	APIKeyEncrypted string `json:"-"`

	IsDefault bool     `json:"is_default"`
	UseCases  []string `json:"use_cases"`
	MaxTokens int      `json:"max_tokens"`
	Active    bool     `json:"active"`

	// AccountID is the owning tenant; empty for global records.
	AccountID string `json:"account_id,omitempty"`
}

// DefaultProvider is the hardcoded fallback used when a tenant has no
// matching configuration. It guarantees the router never hard-fails purely
// because providers were never set up.
func DefaultProvider() ProviderRecord {
	return ProviderRecord{
		ID:        "default",
		Name:      "Default (GPT-4o mini)",
		Family:    FamilyOpenAI,
		Model:     "gpt-4o-mini",
		IsDefault: true,
		UseCases:  []string{UseCaseGeneral},
		MaxTokens: 4096,
		Active:    true,
	}
}

// Tool describes a function the model may call, in JSON-schema form.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolCall is a model-requested function invocation.
type ToolCall struct {
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CompletionRequest is the unified text-generation request across vendors.
type CompletionRequest struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Model        string   `json:"model,omitempty"`

	Tools      []Tool `json:"tools,omitempty"`
	ToolChoice string `json:"tool_choice,omitempty"`

	StopSequences []string `json:"stop_sequences,omitempty"`
}

// UsageStats tracks token usage for budgeting and metering.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the unified text-generation result.
type CompletionResponse struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	Usage        UsageStats    `json:"usage"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Latency      time.Duration `json:"-"`
}

// StreamChunk is one incremental piece of a streaming completion.
type StreamChunk struct {
	Text string
	Done bool
}

// StreamHandler consumes streaming chunks. Returning an error aborts the
// stream.
type StreamHandler func(chunk StreamChunk) error

// Model is a callable model handle produced by the invocation adapter from a
// ProviderRecord plus a resolved credential.
type Model interface {
	Family() Family
	ModelID() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error)
}

// Float64 returns a pointer to v, for optional temperature fields.
func Float64(v float64) *float64 { return &v }
