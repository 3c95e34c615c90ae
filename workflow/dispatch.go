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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldline/platform/llm"
	"fieldline/platform/shared/logger"
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DispatcherConfig wires the dispatcher to its downstream surfaces.
type DispatcherConfig struct {
	// ToolRPCEndpoint receives tools/call envelopes.
	ToolRPCEndpoint string

	// APIBase prefixes REST target paths.
	APIBase string

	// ServiceSecret authenticates the gateway to downstream services.
	ServiceSecret string

	Client HTTPClient
	Logger *logger.Logger
}

// Dispatcher executes a resolved step against its target: a client action
// descriptor (no network), the tool RPC service, or an internal REST
// endpoint. Downstream services enforce their own access control using the
// forwarded user credential.
type Dispatcher struct {
	toolRPCEndpoint string
	apiBase         string
	serviceSecret   string
	client          HTTPClient
	logger          *logger.Logger
}

// DispatchOutcome is the payload and transport metadata of one dispatch.
type DispatchOutcome struct {
	Payload    map[string]interface{}
	StatusCode int
	RequestID  string
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.New("workflow-dispatcher")
	}
	return &Dispatcher{
		toolRPCEndpoint: strings.TrimRight(cfg.ToolRPCEndpoint, "/"),
		apiBase:         strings.TrimRight(cfg.APIBase, "/"),
		serviceSecret:   cfg.ServiceSecret,
		client:          cfg.Client,
		logger:          cfg.Logger,
	}
}

// Dispatch executes step with its resolved parameters.
func (d *Dispatcher) Dispatch(ctx context.Context, execCtx llm.ExecutionContext, step Step, params map[string]interface{}) (*DispatchOutcome, error) {
	switch step.Target.Kind {
	case TargetClientAction:
		return d.clientAction(execCtx, step, params), nil
	case TargetToolRPC:
		return d.toolRPC(ctx, execCtx, step, params)
	case TargetRestEndpoint:
		return d.restCall(ctx, execCtx, step, params)
	}
	return nil, llm.Errorf(llm.ErrCodeConfig, "step %s has unresolved dispatch target", step.ID)
}

// clientAction builds the action descriptor for the UI layer. It performs
// no server-side side effect.
func (d *Dispatcher) clientAction(execCtx llm.ExecutionContext, step Step, params map[string]interface{}) *DispatchOutcome {
	return &DispatchOutcome{
		Payload: map[string]interface{}{
			"type":       step.Target.Action,
			"parameters": params,
			"context": map[string]interface{}{
				"account_id": execCtx.AccountID,
				"user_id":    execCtx.UserID,
			},
		},
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type rpcResponse struct {
	Result map[string]interface{} `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// toolRPC invokes the internal tool RPC service with a tools/call envelope,
// authenticating with the service secret and forwarding the caller's own
// credential for downstream access control.
func (d *Dispatcher) toolRPC(ctx context.Context, execCtx llm.ExecutionContext, step Step, params map[string]interface{}) (*DispatchOutcome, error) {
	requestID := uuid.New().String()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  "tools/call",
		Params:  rpcParams{Name: step.Target.Tool, Arguments: params},
	})
	if err != nil {
		return nil, llm.NewError(llm.ErrCodeTransport, "tool call encoding failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.toolRPCEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewError(llm.ErrCodeTransport, "tool call request build failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.serviceSecret)
	req.Header.Set("X-Account-ID", execCtx.AccountID)
	req.Header.Set("X-User-ID", execCtx.UserID)
	req.Header.Set("X-Request-ID", requestID)
	if execCtx.ForwardedCredential != "" {
		req.Header.Set("X-Forwarded-Authorization", "Bearer "+execCtx.ForwardedCredential)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, d.transportErr(ctx, "tool call failed", err)
	}
	defer resp.Body.Close()

	outcome := &DispatchOutcome{StatusCode: resp.StatusCode, RequestID: requestID}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return outcome, llm.Errorf(llm.ErrCodeTransport, "tool %s returned status %d", step.Target.Tool, resp.StatusCode)
	}

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return outcome, llm.NewError(llm.ErrCodeTransport, "tool response decoding failed", err)
	}
	if parsed.Error != nil {
		return outcome, llm.Errorf(llm.ErrCodeTransport, "tool %s failed: %s (code %d)",
			step.Target.Tool, parsed.Error.Message, parsed.Error.Code)
	}

	outcome.Payload = parsed.Result
	return outcome, nil
}

// restCall invokes an internal REST endpoint. Path {param} segments are
// substituted from resolved parameters; remaining parameters become the
// query string for GET and the JSON body for mutating methods.
func (d *Dispatcher) restCall(ctx context.Context, execCtx llm.ExecutionContext, step Step, params map[string]interface{}) (*DispatchOutcome, error) {
	remaining := make(map[string]interface{}, len(params))
	for k, v := range params {
		remaining[k] = v
	}

	path := step.Target.Path
	for name, value := range params {
		placeholder := "{" + name + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, url.PathEscape(fmt.Sprintf("%v", value)))
			delete(remaining, name)
		}
	}
	if strings.Contains(path, "{") {
		return nil, llm.Errorf(llm.ErrCodeParameter, "step %s: unresolved path segment in %s", step.ID, path)
	}

	method := step.Method
	if method == "" {
		method = http.MethodPost
	}

	endpoint := d.apiBase + path
	var reqBody io.Reader

	if method == http.MethodGet {
		if len(remaining) > 0 {
			query := url.Values{}
			for k, v := range remaining {
				query.Set(k, fmt.Sprintf("%v", v))
			}
			endpoint += "?" + query.Encode()
		}
	} else if len(remaining) > 0 {
		encoded, err := json.Marshal(remaining)
		if err != nil {
			return nil, llm.NewError(llm.ErrCodeTransport, "request body encoding failed", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, llm.NewError(llm.ErrCodeTransport, "request build failed", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.serviceSecret)
	req.Header.Set("X-Account-ID", execCtx.AccountID)
	req.Header.Set("X-User-ID", execCtx.UserID)
	req.Header.Set("X-User-Role", execCtx.Role)
	req.Header.Set("X-Request-ID", requestID)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, d.transportErr(ctx, "api call failed", err)
	}
	defer resp.Body.Close()

	outcome := &DispatchOutcome{StatusCode: resp.StatusCode, RequestID: requestID}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return outcome, llm.NewError(llm.ErrCodeTransport, "response read failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return outcome, llm.Errorf(llm.ErrCodeTransport, "%s %s returned status %d", method, path, resp.StatusCode)
	}

	payload := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			// Non-JSON bodies are preserved raw rather than failing
			// an otherwise successful call.
			payload = map[string]interface{}{"_raw": string(raw)}
		}
	}
	outcome.Payload = payload
	return outcome, nil
}

// transportErr maps a failed round trip to a timeout or transport error.
func (d *Dispatcher) transportErr(ctx context.Context, message string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return llm.NewError(llm.ErrCodeTimeout, message, ctx.Err())
	}
	return llm.NewError(llm.ErrCodeTransport, message, err)
}
