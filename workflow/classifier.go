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
	"encoding/json"
	"fmt"
	"strings"

	"fieldline/platform/llm"
	"fieldline/platform/shared/logger"
)

// Completer is the slice of the LLM router the classifier depends on.
type Completer interface {
	Complete(ctx context.Context, execCtx llm.ExecutionContext, useCase string, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Classifier turns free-text user input into a workflow category and an
// ordered tool-call plan. Classification always runs at temperature zero;
// any failure degrades to the zero-step fallback workflow instead of an
// error, so a broken model never takes the request down.
type Classifier struct {
	completer Completer
	registry  *Registry
	logger    *logger.Logger
}

// NewClassifier creates an intent classifier.
func NewClassifier(completer Completer, registry *Registry, log *logger.Logger) *Classifier {
	if log == nil {
		log = logger.New("workflow-classifier")
	}
	return &Classifier{
		completer: completer,
		registry:  registry,
		logger:    log,
	}
}

// planResponse is the strict JSON shape the model is instructed to return.
type planResponse struct {
	Workflow    string                 `json:"workflow"`
	Confidence  float64                `json:"confidence"`
	Reasoning   string                 `json:"reasoning"`
	Variables   map[string]interface{} `json:"variables"`
	MissingInfo []string               `json:"missing_info"`
	Steps       []planStep             `json:"steps"`
}

type planStep struct {
	ID          string      `json:"id"`
	Tool        string      `json:"tool"`
	Description string      `json:"description"`
	Target      string      `json:"target"`
	Method      string      `json:"method"`
	Parameters  []planParam `json:"parameters"`
	Optional    bool        `json:"optional"`
	DependsOn   []string    `json:"depends_on"`
}

type planParam struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default"`
	Pattern  string      `json:"pattern"`
	Min      *float64    `json:"min"`
	Max      *float64    `json:"max"`
}

func (c *Classifier) systemPrompt(hints map[string]interface{}) string {
	var b strings.Builder
	b.WriteString("You are the planning engine of a field service management platform. ")
	b.WriteString("Classify the user's request into exactly one workflow category and produce an ordered plan of tool calls.\n\n")
	b.WriteString("Workflow categories:\n")
	b.WriteString(c.registry.CategoryPrompt())
	b.WriteString("\nAvailable tools (you may ONLY use these):\n")
	b.WriteString(c.registry.VocabularyPrompt())
	b.WriteString("\nRespond with ONLY a JSON object, no prose, no code fences:\n")
	b.WriteString(`{"workflow": "<category id>", "confidence": <0..1>, "reasoning": "<one sentence>", "variables": {<values extracted from the request>}, "missing_info": [<required values the user did not supply>], "steps": [{"id": "<short id>", "tool": "<tool name>", "description": "<what this step does>", "target": "<tool target>", "method": "<HTTP method>", "parameters": [{"name": "...", "type": "string|number|boolean|array|object", "required": true}], "optional": false, "depends_on": ["step_<id>.<field>"]}]}`)
	b.WriteString("\n\nIf the request is a question with no action to take, use workflow general_query with an empty steps array.")

	if len(hints) > 0 {
		hintJSON, err := json.Marshal(hints)
		if err == nil {
			b.WriteString("\n\nRequest context: ")
			b.Write(hintJSON)
		}
	}
	return b.String()
}

// Classify produces a Classification for prompt. It never returns an error
// for classification failures; only context cancellation propagates.
func (c *Classifier) Classify(ctx context.Context, prompt string, execCtx llm.ExecutionContext, hints map[string]interface{}) (*Classification, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	resp, err := c.completer.Complete(ctx, execCtx, llm.UseCaseClassification, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: c.systemPrompt(hints),
		Temperature:  llm.Float64(0),
		MaxTokens:    2048,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn(execCtx.AccountID, "", "classification call failed, using fallback", map[string]interface{}{
			"error": err.Error(),
		})
		return c.fallback("model call failed"), nil
	}

	plan, err := parsePlan(resp.Text)
	if err != nil {
		c.logger.Warn(execCtx.AccountID, "", "classification output unparseable, using fallback", map[string]interface{}{
			"error": err.Error(),
		})
		return c.fallback("unparseable plan"), nil
	}

	steps := make([]Step, 0, len(plan.Steps))
	for _, ps := range plan.Steps {
		step := Step{
			ID:          ps.ID,
			Tool:        ps.Tool,
			Description: ps.Description,
			Method:      ps.Method,
			Optional:    ps.Optional,
			DependsOn:   ps.DependsOn,
		}
		for _, pp := range ps.Parameters {
			step.Parameters = append(step.Parameters, StepParameter{
				Name:     pp.Name,
				Type:     pp.Type,
				Required: pp.Required,
				Default:  pp.Default,
				Pattern:  pp.Pattern,
				Min:      pp.Min,
				Max:      pp.Max,
			})
		}
		steps = append(steps, step)
	}

	definition, err := c.registry.Hydrate(plan.Workflow, steps)
	if err != nil {
		c.logger.Warn(execCtx.AccountID, "", "plan rejected, using fallback", map[string]interface{}{
			"workflow": plan.Workflow,
			"error":    err.Error(),
		})
		return c.fallback(err.Error()), nil
	}

	return &Classification{
		Workflow:    definition.ID,
		Confidence:  plan.Confidence,
		Reasoning:   plan.Reasoning,
		Variables:   plan.Variables,
		MissingInfo: plan.MissingInfo,
		Definition:  definition,
	}, nil
}

func (c *Classifier) fallback(reason string) *Classification {
	def := c.registry.Fallback()
	return &Classification{
		Workflow:   def.ID,
		Confidence: 0,
		Reasoning:  reason,
		Definition: &def,
	}
}

// parsePlan extracts the JSON plan from model output. Models wrap JSON in
// code fences or prose despite instructions, so the parser strips fences
// and falls back to the outermost brace pair.
func parsePlan(text string) (*planResponse, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in model output")
	}

	var plan planResponse
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("plan JSON parse failed: %w", err)
	}
	if plan.Workflow == "" {
		return nil, fmt.Errorf("plan has no workflow id")
	}
	return &plan, nil
}
