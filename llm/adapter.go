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

package llm

import (
	"context"
	"os"

	"fieldline/platform/llm/anthropic"
	"fieldline/platform/llm/openai"
	"fieldline/platform/shared/logger"
)

// Environment variables consulted for provider credentials, in preference
// order ahead of the per-provider encrypted column.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvCredentialKey = "LLM_CREDENTIAL_KEY"
)

// modelAliases maps deprecated or dated model identifiers to their current
// equivalents. Tenant rows outlive vendor deprecation cycles; normalizing
// here means stale configuration keeps working without a migration.
var modelAliases = map[string]string{
	// OpenAI dated snapshots
	"gpt-4o-2024-05-13":      "gpt-4o",
	"gpt-4o-2024-08-06":      "gpt-4o",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt-4-turbo-2024-04-09": "gpt-4-turbo",
	"gpt-4-1106-preview":     "gpt-4-turbo",

	// Anthropic renames and dated snapshots
	"claude-3-sonnet-20240229":   anthropic.ModelClaudeSonnet,
	"claude-3-5-sonnet-20240620": anthropic.ModelClaudeSonnet,
	"claude-3-5-sonnet-20241022": anthropic.ModelClaudeSonnet,
	"claude-3-haiku-20240307":    anthropic.ModelClaudeHaiku,
	"claude-3-opus-20240229":     anthropic.ModelClaudeOpus,
}

// NormalizeModel resolves deprecated model identifiers to their current
// equivalents. Unknown identifiers pass through unchanged.
func NormalizeModel(model string) string {
	if current, ok := modelAliases[model]; ok {
		return current
	}
	return model
}

// Adapter turns ProviderRecords into callable Model handles. It owns
// credential resolution: environment key first, then the provider's
// encrypted column, then failure. Bedrock models authenticate through the
// ambient AWS credential chain and skip key resolution entirely.
type Adapter struct {
	source ProviderSource
	logger *logger.Logger

	// lookupEnv is replaceable in tests.
	lookupEnv func(string) (string, bool)

	// bedrockFactory is replaceable in tests to avoid real AWS config.
	bedrockFactory func(ctx context.Context, modelID string, maxTokens int) (Model, error)
}

// NewAdapter creates a model invocation adapter backed by source.
func NewAdapter(source ProviderSource, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.New("llm-adapter")
	}
	return &Adapter{
		source:         source,
		logger:         log,
		lookupEnv:      os.LookupEnv,
		bedrockFactory: newBedrockModel,
	}
}

// ResolveCredential returns the API key for a provider record:
// environment variable for the family first, then the record's encrypted
// column decrypted with LLM_CREDENTIAL_KEY. The empty string with nil error
// never happens; a missing key is a configuration error.
func (a *Adapter) ResolveCredential(ctx context.Context, record ProviderRecord, accountID string) (string, error) {
	var envVar string
	switch record.Family {
	case FamilyOpenAI:
		envVar = EnvOpenAIKey
	case FamilyAnthropic:
		envVar = EnvAnthropicKey
	case FamilyBedrock:
		// IAM-authenticated; no API key involved.
		return "", nil
	default:
		return "", Errorf(ErrCodeConfig, "unsupported provider family %q", record.Family)
	}

	if key, ok := a.lookupEnv(envVar); ok && key != "" {
		return key, nil
	}

	encrypted := record.APIKeyEncrypted
	if encrypted == "" {
		// Cached records carry no credential material; read through.
		stored, err := a.source.GetCredential(ctx, record.ID, accountID)
		if err != nil {
			return "", err
		}
		encrypted = stored
	}
	if encrypted == "" {
		return "", Errorf(ErrCodeConfig, "no API key configured for provider %s", record.Name)
	}

	credKey, ok := a.lookupEnv(EnvCredentialKey)
	if !ok || credKey == "" {
		return "", Errorf(ErrCodeConfig, "%s is not set but provider %s has a stored credential", EnvCredentialKey, record.Name)
	}

	plaintext, err := DecryptCredential(encrypted, credKey)
	if err != nil {
		return "", NewError(ErrCodeConfig, "stored credential for provider "+record.Name+" could not be decrypted", err)
	}
	return plaintext, nil
}

// Resolve builds a callable Model from a provider record, resolving the
// credential and normalizing the model identifier.
func (a *Adapter) Resolve(ctx context.Context, record ProviderRecord, accountID string) (Model, error) {
	modelID := NormalizeModel(record.Model)
	if modelID != record.Model {
		a.logger.Debug(accountID, "", "normalized deprecated model identifier", map[string]interface{}{
			"configured": record.Model,
			"resolved":   modelID,
		})
	}

	key, err := a.ResolveCredential(ctx, record, accountID)
	if err != nil {
		return nil, err
	}

	switch record.Family {
	case FamilyOpenAI:
		provider, err := openai.NewProvider(openai.Config{APIKey: key, Model: modelID})
		if err != nil {
			return nil, NewError(ErrCodeConfig, "openai provider init failed", err)
		}
		return &openaiModel{provider: provider, modelID: modelID}, nil

	case FamilyAnthropic:
		provider, err := anthropic.NewProvider(anthropic.Config{APIKey: key, Model: modelID})
		if err != nil {
			return nil, NewError(ErrCodeConfig, "anthropic provider init failed", err)
		}
		return &anthropicModel{provider: provider, modelID: modelID}, nil

	case FamilyBedrock:
		model, err := a.bedrockFactory(ctx, modelID, record.MaxTokens)
		if err != nil {
			return nil, NewError(ErrCodeConfig, "bedrock provider init failed", err)
		}
		return model, nil
	}

	return nil, Errorf(ErrCodeConfig, "unsupported provider family %q", record.Family)
}

// openaiModel adapts the openai package to the unified Model interface.
type openaiModel struct {
	provider *openai.Provider
	modelID  string
}

func (m *openaiModel) Family() Family  { return FamilyOpenAI }
func (m *openaiModel) ModelID() string { return m.modelID }

func toOpenAIRequest(req CompletionRequest) openai.CompletionRequest {
	out := openai.CompletionRequest{
		Prompt:        req.Prompt,
		SystemPrompt:  req.SystemPrompt,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Model:         req.Model,
		ToolChoice:    req.ToolChoice,
		StopSequences: req.StopSequences,
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return out
}

func fromOpenAIResponse(resp *openai.CompletionResponse) *CompletionResponse {
	out := &CompletionResponse{
		Text:         resp.Content,
		Model:        resp.Model,
		Provider:     string(FamilyOpenAI),
		FinishReason: resp.FinishReason,
		Usage: UsageStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: resp.Latency,
	}
	for _, call := range resp.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
	}
	return out
}

func (m *openaiModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := m.provider.Complete(ctx, toOpenAIRequest(req))
	if err != nil {
		return nil, NewError(ErrCodeTransport, "openai completion failed", err)
	}
	return fromOpenAIResponse(resp), nil
}

func (m *openaiModel) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	resp, err := m.provider.CompleteStream(ctx, toOpenAIRequest(req), func(chunk openai.StreamChunk) error {
		return handler(StreamChunk{Text: chunk.Content, Done: chunk.Done})
	})
	if err != nil {
		return nil, NewError(ErrCodeTransport, "openai stream failed", err)
	}
	return fromOpenAIResponse(resp), nil
}

// anthropicModel adapts the anthropic package to the unified Model interface.
type anthropicModel struct {
	provider *anthropic.Provider
	modelID  string
}

func (m *anthropicModel) Family() Family  { return FamilyAnthropic }
func (m *anthropicModel) ModelID() string { return m.modelID }

func toAnthropicRequest(req CompletionRequest) anthropic.CompletionRequest {
	out := anthropic.CompletionRequest{
		Prompt:        req.Prompt,
		SystemPrompt:  req.SystemPrompt,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		Model:         req.Model,
		ToolChoice:    req.ToolChoice,
		StopSequences: req.StopSequences,
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return out
}

func fromAnthropicResponse(resp *anthropic.CompletionResponse) *CompletionResponse {
	out := &CompletionResponse{
		Text:         resp.Content,
		Model:        resp.Model,
		Provider:     string(FamilyAnthropic),
		FinishReason: resp.FinishReason,
		Usage: UsageStats{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: resp.Latency,
	}
	for _, call := range resp.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
	}
	return out
}

func (m *anthropicModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := m.provider.Complete(ctx, toAnthropicRequest(req))
	if err != nil {
		return nil, NewError(ErrCodeTransport, "anthropic completion failed", err)
	}
	return fromAnthropicResponse(resp), nil
}

func (m *anthropicModel) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	resp, err := m.provider.CompleteStream(ctx, toAnthropicRequest(req), func(chunk anthropic.StreamChunk) error {
		return handler(StreamChunk{Text: chunk.Content, Done: chunk.Done})
	})
	if err != nil {
		return nil, NewError(ErrCodeTransport, "anthropic stream failed", err)
	}
	return fromAnthropicResponse(resp), nil
}
