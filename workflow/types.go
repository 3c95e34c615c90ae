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

// Package workflow implements intent classification and step-by-step plan
// execution for the FieldLine AI gateway. Free-text user input is classified
// into one of a closed set of workflow categories with an ordered tool-call
// plan, and the engine executes that plan against internal REST endpoints,
// the tool RPC service, or the client.
package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Step and workflow status values.
const (
	StatusPending     = "pending"
	StatusResolving   = "resolving"
	StatusDispatching = "dispatching"
	StatusRunning     = "running"
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"

	// StatusPartiallyFailed applies to workflows where only optional
	// steps failed.
	StatusPartiallyFailed = "partially_failed"
)

// TargetKind discriminates the three dispatch target kinds.
type TargetKind string

const (
	// TargetClientAction produces an action descriptor for the UI layer;
	// no server-side side effect.
	TargetClientAction TargetKind = "client_action"

	// TargetToolRPC invokes the internal tool RPC service with a
	// tools/call envelope.
	TargetToolRPC TargetKind = "tool_rpc"

	// TargetRestEndpoint calls an internal REST path.
	TargetRestEndpoint TargetKind = "rest_endpoint"
)

// DispatchTarget is the parsed form of a step's target marker. Markers are
// strings in step definitions ("client:navigate", "rpc:create_estimate",
// "/api/v1/jobs/{jobId}") and are resolved to this tagged form at hydration
// so the engine never re-parses them.
type DispatchTarget struct {
	Kind TargetKind `json:"kind"`

	// Action is the client action type for TargetClientAction.
	Action string `json:"action,omitempty"`

	// Tool is the RPC tool name for TargetToolRPC.
	Tool string `json:"tool,omitempty"`

	// Path is the REST path, possibly with {param} segments, for
	// TargetRestEndpoint.
	Path string `json:"path,omitempty"`
}

// ParseTarget resolves a target marker string into its tagged form.
func ParseTarget(marker string) (DispatchTarget, error) {
	switch {
	case marker == "":
		return DispatchTarget{}, fmt.Errorf("empty dispatch target")
	case strings.HasPrefix(marker, "client:"):
		action := strings.TrimPrefix(marker, "client:")
		if action == "" {
			return DispatchTarget{}, fmt.Errorf("client target %q has no action", marker)
		}
		return DispatchTarget{Kind: TargetClientAction, Action: action}, nil
	case strings.HasPrefix(marker, "rpc:"):
		tool := strings.TrimPrefix(marker, "rpc:")
		if tool == "" {
			return DispatchTarget{}, fmt.Errorf("rpc target %q has no tool", marker)
		}
		return DispatchTarget{Kind: TargetToolRPC, Tool: tool}, nil
	case strings.HasPrefix(marker, "/"):
		return DispatchTarget{Kind: TargetRestEndpoint, Path: marker}, nil
	}
	return DispatchTarget{}, fmt.Errorf("unrecognized dispatch target %q", marker)
}

// Marker renders the target back to its string form for logs and responses.
func (t DispatchTarget) Marker() string {
	switch t.Kind {
	case TargetClientAction:
		return "client:" + t.Action
	case TargetToolRPC:
		return "rpc:" + t.Tool
	case TargetRestEndpoint:
		return t.Path
	}
	return ""
}

// Parameter kinds.
const (
	ParamString  = "string"
	ParamNumber  = "number"
	ParamBoolean = "boolean"
	ParamArray   = "array"
	ParamObject  = "object"
)

// StepParameter declares one parameter of a workflow step with its
// validation rules.
type StepParameter struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default,omitempty"`

	// Pattern is a regex constraint for string parameters.
	Pattern string `json:"pattern,omitempty"`

	// Min and Max bound number parameters.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Validate checks a resolved value against the parameter's declared type and
// constraints.
func (p StepParameter) Validate(value interface{}) error {
	switch p.Type {
	case ParamString, "":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("parameter %s: expected string, got %T", p.Name, value)
		}
		if p.Pattern != "" {
			re, err := regexp.Compile(p.Pattern)
			if err != nil {
				return fmt.Errorf("parameter %s: invalid pattern: %v", p.Name, err)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("parameter %s: value does not match pattern %s", p.Name, p.Pattern)
			}
		}
	case ParamNumber:
		n, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("parameter %s: expected number, got %T", p.Name, value)
		}
		if p.Min != nil && n < *p.Min {
			return fmt.Errorf("parameter %s: %v is below minimum %v", p.Name, n, *p.Min)
		}
		if p.Max != nil && n > *p.Max {
			return fmt.Errorf("parameter %s: %v is above maximum %v", p.Name, n, *p.Max)
		}
	case ParamBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %s: expected boolean, got %T", p.Name, value)
		}
	case ParamArray:
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("parameter %s: expected array, got %T", p.Name, value)
		}
	case ParamObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("parameter %s: expected object, got %T", p.Name, value)
		}
	default:
		return fmt.Errorf("parameter %s: unknown type %q", p.Name, p.Type)
	}
	return nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Step is one step of a hydrated workflow plan.
type Step struct {
	ID          string          `json:"id,omitempty"`
	Tool        string          `json:"tool"`
	Description string          `json:"description,omitempty"`
	Target      DispatchTarget  `json:"target"`
	Method      string          `json:"method,omitempty"`
	Parameters  []StepParameter `json:"parameters,omitempty"`
	Optional    bool            `json:"optional,omitempty"`

	// DependsOn lists dependency paths into earlier step payloads, e.g.
	// "step_create_estimate.id".
	DependsOn []string `json:"depends_on,omitempty"`
}

// Definition is a workflow: a registry category identity plus, once
// hydrated, the per-request plan the classifier generated. Hydrated
// definitions live for one request and are never persisted.
type Definition struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Steps       []Step `json:"steps,omitempty"`
}

// StepResult records the outcome of one executed step. Results are
// append-only within an execution.
type StepResult struct {
	StepID   string                 `json:"step_id"`
	Tool     string                 `json:"tool"`
	Success  bool                   `json:"success"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Error    *StepError             `json:"error,omitempty"`
	Duration time.Duration          `json:"duration_ms"`

	// StatusCode and RequestID carry transport metadata for REST and RPC
	// dispatches.
	StatusCode int    `json:"status_code,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// StepError describes a step failure.
type StepError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Result aggregates a whole workflow run.
type Result struct {
	WorkflowID string                 `json:"workflow_id"`
	Status     string                 `json:"status"`
	Success    bool                   `json:"success"`
	Results    []StepResult           `json:"results"`
	Variables  map[string]interface{} `json:"variables,omitempty"`
	Errors     []string               `json:"errors,omitempty"`
	Duration   time.Duration          `json:"duration_ms"`
}

// Classification is the outcome of intent classification: a workflow
// category, a hydrated plan, extracted variables, and what is still missing
// from the user.
type Classification struct {
	Workflow    string                 `json:"workflow"`
	Confidence  float64                `json:"confidence"`
	Reasoning   string                 `json:"reasoning,omitempty"`
	Variables   map[string]interface{} `json:"variables,omitempty"`
	MissingInfo []string               `json:"missing_info,omitempty"`
	Definition  *Definition            `json:"-"`
}
