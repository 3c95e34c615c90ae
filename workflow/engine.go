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
	"fmt"
	"strings"
	"time"

	"fieldline/platform/llm"
	"fieldline/platform/shared/logger"
)

// Default execution bounds.
const (
	DefaultStepTimeout     = 30 * time.Second
	DefaultWorkflowTimeout = 5 * time.Minute
)

// StepDispatcher executes one resolved step.
type StepDispatcher interface {
	Dispatch(ctx context.Context, execCtx llm.ExecutionContext, step Step, params map[string]interface{}) (*DispatchOutcome, error)
}

// EngineConfig configures the execution engine.
type EngineConfig struct {
	StepTimeout     time.Duration
	WorkflowTimeout time.Duration

	// ContinueOnError keeps executing after a required-step failure.
	// Off by default: a halted workflow is easier to reason about than a
	// half-applied one.
	ContinueOnError bool

	Logger *logger.Logger
}

// Engine executes hydrated workflow definitions step by step. Steps run
// strictly sequentially; a later step can always assume every earlier step
// has written its variables. All run state lives in one execution value per
// call, so the engine itself is safe for concurrent use.
type Engine struct {
	dispatcher      StepDispatcher
	stepTimeout     time.Duration
	workflowTimeout time.Duration
	continueOnError bool
	logger          *logger.Logger
}

// NewEngine creates a workflow execution engine.
func NewEngine(dispatcher StepDispatcher, cfg EngineConfig) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.WorkflowTimeout <= 0 {
		cfg.WorkflowTimeout = DefaultWorkflowTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("workflow-engine")
	}
	return &Engine{
		dispatcher:      dispatcher,
		stepTimeout:     cfg.StepTimeout,
		workflowTimeout: cfg.WorkflowTimeout,
		continueOnError: cfg.ContinueOnError,
		logger:          cfg.Logger,
	}
}

// execution is the per-run mutable state. It is owned by exactly one
// Execute call and discarded when the run completes.
type execution struct {
	definition *Definition
	execCtx    llm.ExecutionContext
	input      map[string]interface{}
	variables  map[string]interface{}
	results    []StepResult
	errors     []string
}

// setVariable records a step payload under its step_<id> key. Keys are
// write-once: a later step may read but never silently overwrite.
func (e *execution) setVariable(key string, value interface{}) error {
	if _, exists := e.variables[key]; exists {
		return fmt.Errorf("variable %s already set", key)
	}
	e.variables[key] = value
	return nil
}

// Execute runs def to completion under the workflow timeout and returns the
// aggregated result. Completed steps are never rolled back.
func (e *Engine) Execute(ctx context.Context, execCtx llm.ExecutionContext, def *Definition, input map[string]interface{}) *Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.workflowTimeout)
	defer cancel()

	run := &execution{
		definition: def,
		execCtx:    execCtx,
		input:      input,
		variables:  make(map[string]interface{}, len(def.Steps)),
	}

	requiredFailed := false
	optionalFailed := false

	for i, step := range def.Steps {
		if ctx.Err() != nil {
			run.errors = append(run.errors, fmt.Sprintf("workflow timeout before step %s", stepLabel(step, i)))
			requiredFailed = requiredFailed || !step.Optional
			break
		}

		result := e.runStep(ctx, run, step, i)
		run.results = append(run.results, result)

		if result.Success {
			key := "step_" + result.StepID
			if err := run.setVariable(key, result.Payload); err != nil {
				e.logger.Warn(execCtx.AccountID, "", "step variable collision", map[string]interface{}{
					"workflow": def.ID,
					"variable": key,
				})
			}
			continue
		}

		run.errors = append(run.errors, fmt.Sprintf("step %s: %s", result.StepID, result.Error.Message))

		if step.Optional {
			optionalFailed = true
			continue
		}
		requiredFailed = true
		if !e.continueOnError {
			break
		}
	}

	status := StatusSucceeded
	switch {
	case requiredFailed:
		status = StatusFailed
	case optionalFailed:
		status = StatusPartiallyFailed
	}

	result := &Result{
		WorkflowID: def.ID,
		Status:     status,
		Success:    !requiredFailed,
		Results:    run.results,
		Variables:  run.variables,
		Errors:     run.errors,
		Duration:   time.Since(start),
	}

	e.logger.InfoWithDuration(execCtx.AccountID, "", "workflow execution finished", float64(result.Duration.Milliseconds()), map[string]interface{}{
		"workflow": def.ID,
		"status":   status,
		"steps":    len(run.results),
	})
	return result
}

// runStep resolves, validates, and dispatches one step under the step
// timeout.
func (e *Engine) runStep(ctx context.Context, run *execution, step Step, index int) StepResult {
	stepID := step.ID
	if stepID == "" {
		stepID = stepLabel(step, index)
	}
	start := time.Now()

	result := StepResult{StepID: stepID, Tool: step.Tool}

	params, err := e.resolveParameters(run, step)
	if err != nil {
		result.Error = stepError(err)
		result.Duration = time.Since(start)
		return result
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	outcome, err := e.dispatcher.Dispatch(stepCtx, run.execCtx, step, params)
	result.Duration = time.Since(start)
	if outcome != nil {
		result.StatusCode = outcome.StatusCode
		result.RequestID = outcome.RequestID
	}
	if err != nil {
		if stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			// Step deadline, not workflow deadline: only this step
			// fails.
			err = llm.Errorf(llm.ErrCodeTimeout, "step %s timed out after %s", stepID, e.stepTimeout)
		}
		result.Error = stepError(err)
		return result
	}

	result.Success = true
	result.Payload = outcome.Payload
	return result
}

// resolveParameters resolves each declared parameter in precedence order:
// caller input, prior-step payload fields, dependency paths, declared
// default. A required parameter still unresolved after all four fails the
// step before any dispatch happens.
func (e *Engine) resolveParameters(run *execution, step Step) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(step.Parameters))

	for _, param := range step.Parameters {
		value, ok := run.input[param.Name]

		if !ok {
			value, ok = e.lookupPriorStep(run, param.Name)
		}
		if !ok {
			value, ok = e.lookupDependency(run, step.DependsOn, param.Name)
		}
		if !ok && param.Default != nil {
			value, ok = param.Default, true
		}
		if !ok {
			if param.Required {
				return nil, llm.Errorf(llm.ErrCodeParameter, "required parameter %s could not be resolved", param.Name)
			}
			continue
		}

		if err := param.Validate(value); err != nil {
			return nil, llm.NewError(llm.ErrCodeParameter, err.Error(), nil)
		}
		resolved[param.Name] = value
	}

	return resolved, nil
}

// lookupPriorStep searches prior step payloads for a field named name, most
// recent step first.
func (e *Engine) lookupPriorStep(run *execution, name string) (interface{}, bool) {
	for i := len(run.results) - 1; i >= 0; i-- {
		result := run.results[i]
		if !result.Success {
			continue
		}
		if value, ok := result.Payload[name]; ok {
			return value, true
		}
	}
	return nil, false
}

// lookupDependency resolves dependency paths of the form
// "step_<id>.field.subfield" whose final segment matches the parameter
// name.
func (e *Engine) lookupDependency(run *execution, paths []string, name string) (interface{}, bool) {
	for _, path := range paths {
		segments := strings.Split(path, ".")
		if len(segments) < 2 || segments[len(segments)-1] != name {
			continue
		}

		root, ok := run.variables[segments[0]]
		if !ok {
			continue
		}
		value, ok := walkPath(root, segments[1:])
		if ok {
			return value, true
		}
	}
	return nil, false
}

func walkPath(value interface{}, segments []string) (interface{}, bool) {
	for _, segment := range segments {
		object, ok := value.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, ok = object[segment]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

func stepLabel(step Step, index int) string {
	if step.ID != "" {
		return step.ID
	}
	return fmt.Sprintf("%s_%d", step.Tool, index+1)
}

// stepError maps an error to the wire-level step error descriptor.
func stepError(err error) *StepError {
	code := string(llm.CodeOf(err))
	if code == "" {
		code = string(llm.ErrCodeTransport)
	}
	return &StepError{
		Code:    code,
		Message: err.Error(),
	}
}
