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
	"errors"
	"time"

	"fieldline/platform/shared/logger"
)

// errStreamAborted marks a stream failure that happened after output reached
// the client. Failover would duplicate already-sent text, so dispatch treats
// this as final.
var errStreamAborted = errors.New("stream aborted after partial output")

// estimatedRequestTokens sizes the pre-call budget check before actual usage
// is known.
var estimatedRequestTokens = UsageStats{PromptTokens: 1000, CompletionTokens: 1000}

// Router selects a tenant provider for a use case and calls it with rate,
// budget, and failover protection. Provider order follows the repository's
// ordering (default first); a failed call fails over to the next candidate
// unless the error is terminal.
type Router struct {
	source  ProviderSource
	adapter *Adapter
	limiter RateLimiter
	budget  BudgetGuard
	logger  *logger.Logger
}

// NewRouter creates a router. limiter and budget may be the Noop
// implementations but not nil.
func NewRouter(source ProviderSource, adapter *Adapter, limiter RateLimiter, budget BudgetGuard, log *logger.Logger) *Router {
	if log == nil {
		log = logger.New("llm-router")
	}
	return &Router{
		source:  source,
		adapter: adapter,
		limiter: limiter,
		budget:  budget,
		logger:  log,
	}
}

// candidates returns the ordered provider list for a use case. A use case
// with no matching providers falls back to the tenant's general list, and an
// empty tenant falls back to the hardcoded default.
func (r *Router) candidates(ctx context.Context, execCtx ExecutionContext, useCase string) ([]ProviderRecord, error) {
	if useCase != "" {
		records, err := r.source.GetProvidersByUseCase(ctx, useCase, execCtx.AccountID)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return records, nil
		}
	}

	records, err := r.source.GetProviders(ctx, execCtx.AccountID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		records = []ProviderRecord{DefaultProvider()}
	}
	return records, nil
}

func (r *Router) admit(ctx context.Context, execCtx ExecutionContext, model string) error {
	if err := r.limiter.Allow(ctx, execCtx.AccountID); err != nil {
		return err
	}
	return r.budget.Check(ctx, execCtx.AccountID, EstimateCostCents(model, estimatedRequestTokens))
}

type callFunc func(ctx context.Context, model Model) (*CompletionResponse, error)

// dispatch runs the failover loop: each candidate is resolved and called in
// order until one succeeds or a terminal error stops the loop.
func (r *Router) dispatch(ctx context.Context, execCtx ExecutionContext, useCase string, call callFunc) (*CompletionResponse, error) {
	records, err := r.candidates(ctx, execCtx, useCase)
	if err != nil {
		return nil, err
	}

	if err := r.admit(ctx, execCtx, records[0].Model); err != nil {
		return nil, err
	}

	var lastErr error
	for _, record := range records {
		model, err := r.adapter.Resolve(ctx, record, execCtx.AccountID)
		if err != nil {
			r.logger.Warn(execCtx.AccountID, "", "provider resolution failed, trying next", map[string]interface{}{
				"provider": record.Name,
				"error":    err.Error(),
			})
			lastErr = err
			continue
		}

		start := time.Now()
		resp, err := call(ctx, model)
		if err != nil {
			if IsTerminal(err) || ctx.Err() != nil || errors.Is(err, errStreamAborted) {
				return nil, err
			}
			r.logger.Warn(execCtx.AccountID, "", "provider call failed, trying next", map[string]interface{}{
				"provider": record.Name,
				"model":    model.ModelID(),
				"error":    err.Error(),
			})
			lastErr = err
			continue
		}

		resp.Provider = record.Name
		if resp.Latency == 0 {
			resp.Latency = time.Since(start)
		}

		if err := r.budget.Record(ctx, execCtx.AccountID, EstimateCostCents(resp.Model, resp.Usage)); err != nil {
			r.logger.Warn(execCtx.AccountID, "", "budget accrual failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, Errorf(ErrCodeConfig, "no providers available for use case %q", useCase)
}

// Complete routes a blocking completion.
func (r *Router) Complete(ctx context.Context, execCtx ExecutionContext, useCase string, req CompletionRequest) (*CompletionResponse, error) {
	return r.dispatch(ctx, execCtx, useCase, func(ctx context.Context, model Model) (*CompletionResponse, error) {
		return model.Complete(ctx, req)
	})
}

// CompleteStream routes a streaming completion. Failover applies only until
// the first chunk reaches the handler; afterwards an error aborts the
// request, since partial output has already been sent.
func (r *Router) CompleteStream(ctx context.Context, execCtx ExecutionContext, useCase string, req CompletionRequest, handler StreamHandler) (*CompletionResponse, error) {
	return r.dispatch(ctx, execCtx, useCase, func(ctx context.Context, model Model) (*CompletionResponse, error) {
		started := false
		resp, err := model.CompleteStream(ctx, req, func(chunk StreamChunk) error {
			started = true
			return handler(chunk)
		})
		if err != nil && started {
			// Built directly so errStreamAborted survives Unwrap; the
			// underlying error text is sanitized into the message.
			return nil, &Error{
				Code:    ErrCodeTransport,
				Message: Sanitize(err.Error()),
				Cause:   errStreamAborted,
			}
		}
		return resp, err
	})
}
