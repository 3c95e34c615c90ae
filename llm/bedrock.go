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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const bedrockDefaultMaxTokens = 4096

// bedrockInvoker is the slice of the bedrockruntime client the model uses.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

// bedrockModel invokes managed models through AWS Bedrock. Authentication
// rides the ambient AWS credential chain (IAM role, env, shared config), so
// no API key resolution happens for this family.
type bedrockModel struct {
	client    bedrockInvoker
	modelID   string
	maxTokens int
}

func newBedrockModel(ctx context.Context, modelID string, maxTokens int) (Model, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = bedrockDefaultMaxTokens
	}
	return &bedrockModel{
		client:    bedrockruntime.NewFromConfig(cfg),
		modelID:   modelID,
		maxTokens: maxTokens,
	}, nil
}

func (m *bedrockModel) Family() Family  { return FamilyBedrock }
func (m *bedrockModel) ModelID() string { return m.modelID }

// Bedrock routes the request body to the underlying vendor, so the payload
// schema depends on the model identifier prefix.

type bedrockClaudeRequest struct {
	AnthropicVersion string                 `json:"anthropic_version"`
	MaxTokens        int                    `json:"max_tokens"`
	System           string                 `json:"system,omitempty"`
	Messages         []bedrockClaudeMessage `json:"messages"`
	Temperature      *float64               `json:"temperature,omitempty"`
	StopSequences    []string               `json:"stop_sequences,omitempty"`
}

type bedrockClaudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockClaudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type bedrockTitanRequest struct {
	InputText            string `json:"inputText"`
	TextGenerationConfig struct {
		MaxTokenCount int      `json:"maxTokenCount"`
		Temperature   float64  `json:"temperature"`
		StopSequences []string `json:"stopSequences,omitempty"`
	} `json:"textGenerationConfig"`
}

type bedrockTitanResponse struct {
	InputTextTokenCount int `json:"inputTextTokenCount"`
	Results             []struct {
		TokenCount       int    `json:"tokenCount"`
		OutputText       string `json:"outputText"`
		CompletionReason string `json:"completionReason"`
	} `json:"results"`
}

func (m *bedrockModel) encode(req CompletionRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = m.maxTokens
	}

	switch {
	case strings.HasPrefix(m.modelID, "anthropic."):
		body := bedrockClaudeRequest{
			AnthropicVersion: "bedrock-2023-05-31",
			MaxTokens:        maxTokens,
			System:           req.SystemPrompt,
			Messages:         []bedrockClaudeMessage{{Role: "user", Content: req.Prompt}},
			Temperature:      req.Temperature,
			StopSequences:    req.StopSequences,
		}
		return json.Marshal(body)

	case strings.HasPrefix(m.modelID, "amazon.titan"):
		var body bedrockTitanRequest
		prompt := req.Prompt
		if req.SystemPrompt != "" {
			prompt = req.SystemPrompt + "\n\n" + req.Prompt
		}
		body.InputText = prompt
		body.TextGenerationConfig.MaxTokenCount = maxTokens
		if req.Temperature != nil {
			body.TextGenerationConfig.Temperature = *req.Temperature
		}
		body.TextGenerationConfig.StopSequences = req.StopSequences
		return json.Marshal(body)
	}

	return nil, fmt.Errorf("unsupported bedrock model %q", m.modelID)
}

func (m *bedrockModel) decode(payload []byte) (*CompletionResponse, error) {
	out := &CompletionResponse{
		Model:    m.modelID,
		Provider: string(FamilyBedrock),
	}

	switch {
	case strings.HasPrefix(m.modelID, "anthropic."):
		var parsed bedrockClaudeResponse
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode bedrock response: %w", err)
		}
		var text strings.Builder
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		out.Text = text.String()
		out.FinishReason = parsed.StopReason
		out.Usage = UsageStats{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		}
		return out, nil

	case strings.HasPrefix(m.modelID, "amazon.titan"):
		var parsed bedrockTitanResponse
		if err := json.Unmarshal(payload, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode bedrock response: %w", err)
		}
		if len(parsed.Results) == 0 {
			return nil, fmt.Errorf("bedrock returned no results")
		}
		result := parsed.Results[0]
		out.Text = result.OutputText
		out.FinishReason = result.CompletionReason
		out.Usage = UsageStats{
			PromptTokens:     parsed.InputTextTokenCount,
			CompletionTokens: result.TokenCount,
			TotalTokens:      parsed.InputTextTokenCount + result.TokenCount,
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported bedrock model %q", m.modelID)
}

// Complete performs a blocking invocation.
func (m *bedrockModel) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	payload, err := m.encode(req)
	if err != nil {
		return nil, NewError(ErrCodeConfig, "bedrock request encoding failed", err)
	}

	resp, err := m.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(m.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, NewError(ErrCodeTransport, "bedrock invocation failed", err)
	}

	out, err := m.decode(resp.Body)
	if err != nil {
		return nil, NewError(ErrCodeTransport, "bedrock response decoding failed", err)
	}
	out.Latency = time.Since(start)
	return out, nil
}

type bedrockStreamChunk struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`

	// Titan streaming fields
	OutputText                string `json:"outputText"`
	CompletionReason          string `json:"completionReason"`
	TotalOutputTextTokenCount int    `json:"totalOutputTextTokenCount"`
}

// CompleteStream performs a streaming invocation.
func (m *bedrockModel) CompleteStream(ctx context.Context, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	start := time.Now()

	payload, err := m.encode(req)
	if err != nil {
		return nil, NewError(ErrCodeConfig, "bedrock request encoding failed", err)
	}

	resp, err := m.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(m.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, NewError(ErrCodeTransport, "bedrock invocation failed", err)
	}

	out := &CompletionResponse{
		Model:    m.modelID,
		Provider: string(FamilyBedrock),
	}

	var content strings.Builder
	stream := resp.GetStream()
	defer stream.Close()

	for event := range stream.Events() {
		chunk, ok := event.(*brtypes.ResponseStreamMemberChunk)
		if !ok {
			continue
		}

		var parsed bedrockStreamChunk
		if err := json.Unmarshal(chunk.Value.Bytes, &parsed); err != nil {
			continue
		}

		text := ""
		switch parsed.Type {
		case "message_start":
			out.Usage.PromptTokens = parsed.Message.Usage.InputTokens
		case "content_block_delta":
			text = parsed.Delta.Text
		case "message_delta":
			if parsed.Delta.StopReason != "" {
				out.FinishReason = parsed.Delta.StopReason
			}
			out.Usage.CompletionTokens = parsed.Usage.OutputTokens
		default:
			// Titan chunks have no type discriminator.
			if parsed.OutputText != "" {
				text = parsed.OutputText
			}
			if parsed.CompletionReason != "" {
				out.FinishReason = parsed.CompletionReason
			}
			if parsed.TotalOutputTextTokenCount > 0 {
				out.Usage.CompletionTokens = parsed.TotalOutputTextTokenCount
			}
		}

		if text == "" {
			continue
		}
		content.WriteString(text)
		if handler != nil {
			if err := handler(StreamChunk{Text: text}); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, NewError(ErrCodeTransport, "bedrock stream failed", err)
	}

	if handler != nil {
		if err := handler(StreamChunk{Done: true}); err != nil {
			return nil, err
		}
	}

	out.Text = content.String()
	out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	out.Latency = time.Since(start)
	return out, nil
}

var _ Model = (*bedrockModel)(nil)
