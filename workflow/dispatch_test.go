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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldline/platform/llm"
)

func forwardedCtx() llm.ExecutionContext {
	return llm.ExecutionContext{
		UserID:              "u1",
		AccountID:           "acct-1",
		Role:                "admin",
		ForwardedCredential: "user-session-token",
	}
}

func TestClientActionDispatchMakesNoNetworkCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("client actions must not reach the network")
	}))
	defer server.Close()

	dispatcher := NewDispatcher(DispatcherConfig{
		ToolRPCEndpoint: server.URL,
		APIBase:         server.URL,
		ServiceSecret:   "svc-secret",
		Logger:          testLogger(),
	})

	step := Step{
		ID:     "nav",
		Tool:   "navigate",
		Target: DispatchTarget{Kind: TargetClientAction, Action: "navigate"},
	}

	outcome, err := dispatcher.Dispatch(context.Background(), forwardedCtx(), step,
		map[string]interface{}{"screen": "job_board"})
	require.NoError(t, err)

	assert.Equal(t, "navigate", outcome.Payload["type"])
	params := outcome.Payload["parameters"].(map[string]interface{})
	assert.Equal(t, "job_board", params["screen"])
	actionCtx := outcome.Payload["context"].(map[string]interface{})
	assert.Equal(t, "acct-1", actionCtx["account_id"])
	assert.Equal(t, "u1", actionCtx["user_id"])
}

func TestToolRPCDispatchSendsEnvelopeAndCredentials(t *testing.T) {
	var gotBody map[string]interface{}
	var gotHeader http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": {"estimateId": "est-7"}}`))
	}))
	defer server.Close()

	dispatcher := NewDispatcher(DispatcherConfig{
		ToolRPCEndpoint: server.URL,
		ServiceSecret:   "svc-secret",
		Logger:          testLogger(),
	})

	step := Step{
		ID:     "est",
		Tool:   "create_estimate",
		Target: DispatchTarget{Kind: TargetToolRPC, Tool: "create_estimate"},
	}

	outcome, err := dispatcher.Dispatch(context.Background(), forwardedCtx(), step,
		map[string]interface{}{"customer": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "est-7", outcome.Payload["estimateId"])
	assert.NotEmpty(t, outcome.RequestID)

	assert.Equal(t, "2.0", gotBody["jsonrpc"])
	assert.Equal(t, "tools/call", gotBody["method"])
	params := gotBody["params"].(map[string]interface{})
	assert.Equal(t, "create_estimate", params["name"])
	args := params["arguments"].(map[string]interface{})
	assert.Equal(t, "Acme", args["customer"])

	assert.Equal(t, "Bearer svc-secret", gotHeader.Get("Authorization"))
	assert.Equal(t, "Bearer user-session-token", gotHeader.Get("X-Forwarded-Authorization"))
	assert.Equal(t, "acct-1", gotHeader.Get("X-Account-ID"))
}

func TestToolRPCDispatchSurfacesRPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": {"code": -32000, "message": "tool exploded"}}`))
	}))
	defer server.Close()

	dispatcher := NewDispatcher(DispatcherConfig{ToolRPCEndpoint: server.URL, Logger: testLogger()})
	step := Step{ID: "s", Target: DispatchTarget{Kind: TargetToolRPC, Tool: "assign_technician"}}

	_, err := dispatcher.Dispatch(context.Background(), forwardedCtx(), step, nil)
	require.Error(t, err)
	assert.Equal(t, llm.ErrCodeTransport, llm.CodeOf(err))
	assert.Contains(t, err.Error(), "tool exploded")
}

func TestRestDispatchSubstitutesPathAndSendsBody(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"updated": true}`))
	}))
	defer server.Close()

	dispatcher := NewDispatcher(DispatcherConfig{
		APIBase:       server.URL,
		ServiceSecret: "svc-secret",
		Logger:        testLogger(),
	})

	step := Step{
		ID:     "upd",
		Tool:   "update_job",
		Target: DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/jobs/{jobId}"},
		Method: http.MethodPatch,
	}

	outcome, err := dispatcher.Dispatch(context.Background(), forwardedCtx(), step,
		map[string]interface{}{"jobId": "job-3", "status": "done"})
	require.NoError(t, err)
	assert.Equal(t, true, outcome.Payload["updated"])

	assert.Equal(t, "/api/v1/jobs/job-3", gotPath)
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "done", gotBody["status"])
	_, pathParamInBody := gotBody["jobId"]
	assert.False(t, pathParamInBody, "path parameters are not repeated in the body")
}

func TestRestDispatchGetUsesQueryString(t *testing.T) {
	var gotQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"jobs": []}`))
	}))
	defer server.Close()

	dispatcher := NewDispatcher(DispatcherConfig{APIBase: server.URL, Logger: testLogger()})
	step := Step{
		ID:     "list",
		Target: DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/jobs"},
		Method: http.MethodGet,
	}

	_, err := dispatcher.Dispatch(context.Background(), forwardedCtx(), step,
		map[string]interface{}{"status": "open"})
	require.NoError(t, err)
	assert.Equal(t, "status=open", gotQuery)
}

func TestRestDispatchUnresolvedPathSegment(t *testing.T) {
	dispatcher := NewDispatcher(DispatcherConfig{APIBase: "http://unused", Logger: testLogger()})
	step := Step{
		ID:     "upd",
		Target: DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/jobs/{jobId}"},
		Method: http.MethodPatch,
	}

	_, err := dispatcher.Dispatch(context.Background(), forwardedCtx(), step,
		map[string]interface{}{"status": "done"})
	require.Error(t, err)
	assert.Equal(t, llm.ErrCodeParameter, llm.CodeOf(err))
}

func TestRestDispatchNon2xxFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	dispatcher := NewDispatcher(DispatcherConfig{APIBase: server.URL, Logger: testLogger()})
	step := Step{
		ID:     "del",
		Target: DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/jobs"},
		Method: http.MethodPost,
	}

	outcome, err := dispatcher.Dispatch(context.Background(), forwardedCtx(), step, nil)
	require.Error(t, err)
	assert.Equal(t, llm.ErrCodeTransport, llm.CodeOf(err))
	require.NotNil(t, outcome)
	assert.Equal(t, http.StatusForbidden, outcome.StatusCode)
}
