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

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fieldline/platform/llm"
	"fieldline/platform/shared/logger"
	"fieldline/platform/workflow"
)

// completionRouter is the slice of the LLM router the handler depends on.
type completionRouter interface {
	Complete(ctx context.Context, execCtx llm.ExecutionContext, useCase string, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteStream(ctx context.Context, execCtx llm.ExecutionContext, useCase string, req llm.CompletionRequest, handler llm.StreamHandler) (*llm.CompletionResponse, error)
}

// intentClassifier is the slice of the classifier the handler depends on.
type intentClassifier interface {
	Classify(ctx context.Context, prompt string, execCtx llm.ExecutionContext, hints map[string]interface{}) (*workflow.Classification, error)
}

// planExecutor is the slice of the engine the handler depends on.
type planExecutor interface {
	Execute(ctx context.Context, execCtx llm.ExecutionContext, def *workflow.Definition, input map[string]interface{}) *workflow.Result
}

// Handler serves POST /api/v1/llm.
type Handler struct {
	resolver   *ContextResolver
	router     completionRouter
	classifier intentClassifier
	engine     planExecutor
	logger     *logger.Logger
}

// NewHandler creates the generate handler.
func NewHandler(resolver *ContextResolver, router completionRouter, classifier intentClassifier, engine planExecutor, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.New("gateway-handler")
	}
	return &Handler{
		resolver:   resolver,
		router:     router,
		classifier: classifier,
		engine:     engine,
		logger:     log,
	}
}

// Generate handles POST /api/v1/llm.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	execCtx, err := h.resolver.ResolveWithAccount(r, req.AccountID)
	if err != nil {
		status := http.StatusBadRequest
		if llm.IsCode(err, llm.ErrCodeAuth) {
			status = http.StatusUnauthorized
		}
		h.logger.Warn("", "", "context resolution failed", map[string]interface{}{
			"error":  err.Error(),
			"status": status,
		})
		promRequestsTotal.WithLabelValues("generate", fmt.Sprint(status)).Inc()
		writeError(w, status, err.Error())
		return
	}

	mode := "generate"
	switch {
	case req.Workflow != nil && req.Workflow.Enable:
		mode = "workflow"
		h.handleWorkflow(w, r, req, *execCtx)
	case req.Stream:
		mode = "stream"
		h.handleStream(w, r, req, *execCtx)
	default:
		h.handleBlocking(w, r, req, *execCtx)
	}

	promRequestDuration.WithLabelValues(mode).Observe(float64(time.Since(start).Milliseconds()))
}

func (h *Handler) completionRequest(req GenerateRequest) llm.CompletionRequest {
	return llm.CompletionRequest{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
		Model:        req.ModelOverride,
		Tools:        req.Tools,
		ToolChoice:   req.ToolChoice,
	}
}

func (h *Handler) useCase(req GenerateRequest) string {
	if req.UseCase != "" {
		return req.UseCase
	}
	return llm.UseCaseGeneral
}

// handleBlocking serves the non-workflow, non-streaming path.
func (h *Handler) handleBlocking(w http.ResponseWriter, r *http.Request, req GenerateRequest, execCtx llm.ExecutionContext) {
	resp, err := h.router.Complete(r.Context(), execCtx, h.useCase(req), h.completionRequest(req))
	if err != nil {
		status := statusForError(err)
		h.logger.ErrorWithCode(execCtx.AccountID, "", "completion failed", status, err, nil)
		promRequestsTotal.WithLabelValues("generate", fmt.Sprint(status)).Inc()
		writeError(w, status, err.Error())
		return
	}

	promRequestsTotal.WithLabelValues("generate", "200").Inc()
	writeJSON(w, http.StatusOK, GenerateResponse{
		Success:   true,
		Text:      resp.Text,
		Provider:  resp.Provider,
		Model:     resp.Model,
		ToolCalls: resp.ToolCalls,
		Usage:     resp.Usage,
	})
}

// handleStream serves the non-workflow streaming path: incremental text
// chunks, each flushed as it arrives.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, req GenerateRequest, execCtx llm.ExecutionContext) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	started := false
	_, err := h.router.CompleteStream(r.Context(), execCtx, h.useCase(req), h.completionRequest(req), func(chunk llm.StreamChunk) error {
		if chunk.Done {
			return nil
		}
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(chunk.Text)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if !started {
			status := statusForError(err)
			h.logger.ErrorWithCode(execCtx.AccountID, "", "stream failed", status, err, nil)
			promRequestsTotal.WithLabelValues("stream", fmt.Sprint(status)).Inc()
			writeError(w, status, err.Error())
			return
		}
		// Headers are gone; the truncated stream is all we can signal.
		h.logger.ErrorWithCode(execCtx.AccountID, "", "stream aborted mid-response", http.StatusOK, err, nil)
	}
	promRequestsTotal.WithLabelValues("stream", "200").Inc()
}

// handleWorkflow serves workflow mode: classify, then either report missing
// input, return the plan for confirmation, or execute it.
func (h *Handler) handleWorkflow(w http.ResponseWriter, r *http.Request, req GenerateRequest, execCtx llm.ExecutionContext) {
	var hints map[string]interface{}
	if req.Workflow.Context != nil {
		hints = req.Workflow.Context
	}

	classification, err := h.classifier.Classify(r.Context(), req.Prompt, execCtx, hints)
	if err != nil {
		status := statusForError(err)
		h.logger.ErrorWithCode(execCtx.AccountID, "", "classification failed", status, err, nil)
		promRequestsTotal.WithLabelValues("workflow", fmt.Sprint(status)).Inc()
		writeError(w, status, err.Error())
		return
	}

	if classification.Workflow == workflow.FallbackWorkflow && classification.Confidence == 0 {
		promClassificationFallbacks.Inc()
	}

	if len(classification.MissingInfo) > 0 {
		promRequestsTotal.WithLabelValues("workflow", "200").Inc()
		writeJSON(w, http.StatusOK, WorkflowResponse{
			Success:            false,
			Workflow:           classification.Workflow,
			RequiresInput:      true,
			MissingInfo:        classification.MissingInfo,
			ExtractedVariables: classification.Variables,
		})
		return
	}

	definition := classification.Definition
	if req.MaxSteps > 0 && len(definition.Steps) > req.MaxSteps {
		definition.Steps = definition.Steps[:req.MaxSteps]
	}

	if req.Workflow.AutoExecute && len(definition.Steps) > 0 {
		input := make(map[string]interface{}, len(hints)+len(classification.Variables))
		for k, v := range hints {
			input[k] = v
		}
		for k, v := range classification.Variables {
			input[k] = v
		}

		result := h.engine.Execute(r.Context(), execCtx, definition, input)

		promWorkflowExecutions.WithLabelValues(result.WorkflowID, result.Status).Inc()
		for _, sr := range result.Results {
			stepStatus := "failed"
			if sr.Success {
				stepStatus = "succeeded"
			}
			promWorkflowSteps.WithLabelValues(sr.Tool, stepStatus).Inc()
		}

		promRequestsTotal.WithLabelValues("workflow", "200").Inc()
		writeJSON(w, http.StatusOK, WorkflowResponse{
			Success:   result.Success,
			Workflow:  classification.Workflow,
			Execution: result,
		})
		return
	}

	promRequestsTotal.WithLabelValues("workflow", "200").Inc()
	writeJSON(w, http.StatusOK, WorkflowResponse{
		Success:        true,
		Workflow:       classification.Workflow,
		Plan:           definition,
		Classification: classification,
	})
}

// statusForError maps the gateway error taxonomy to HTTP statuses.
func statusForError(err error) int {
	if errors.Is(err, ErrAccountUnresolved) {
		return http.StatusBadRequest
	}
	switch llm.CodeOf(err) {
	case llm.ErrCodeAuth:
		return http.StatusUnauthorized
	case llm.ErrCodeBudget:
		return http.StatusPaymentRequired
	case llm.ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case llm.ErrCodeParameter:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
