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
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Workflow category identifiers. The set is closed; the classifier may only
// choose from it, and anything unrecognized collapses to FallbackWorkflow.
const (
	WorkflowJobManagement         = "job_management"
	WorkflowDispatchOperations    = "dispatch_operations"
	WorkflowInvoiceBilling        = "invoice_billing"
	WorkflowCustomerCommunication = "customer_communication"
	WorkflowSalesPipeline         = "sales_pipeline"
	WorkflowGeneralQuery          = "general_query"

	// FallbackWorkflow is substituted whenever classification fails.
	FallbackWorkflow = WorkflowGeneralQuery
)

// ToolSpec declares one entry of the closed tool vocabulary: its canonical
// dispatch target and method. The classifier may propose tools only from
// this vocabulary, and the registry's target always wins over whatever the
// model emitted.
type ToolSpec struct {
	Name        string
	Description string
	Target      DispatchTarget
	Method      string
}

// Registry holds the fixed workflow categories and the tool vocabulary.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	categories map[string]Definition
	tools      map[string]ToolSpec
}

// NewRegistry builds the registry with the built-in categories and tools.
func NewRegistry() *Registry {
	r := &Registry{
		categories: make(map[string]Definition),
		tools:      make(map[string]ToolSpec),
	}

	for _, def := range []Definition{
		{ID: WorkflowJobManagement, Description: "Create, update, schedule, and look up field service jobs"},
		{ID: WorkflowDispatchOperations, Description: "Assign technicians and manage dispatch board operations"},
		{ID: WorkflowInvoiceBilling, Description: "Create estimates and invoices, record payments"},
		{ID: WorkflowCustomerCommunication, Description: "Send emails and SMS messages to customers"},
		{ID: WorkflowSalesPipeline, Description: "Manage leads and sales opportunities"},
		{ID: WorkflowGeneralQuery, Description: "General question answering with no side effects"},
	} {
		r.categories[def.ID] = def
	}

	for _, tool := range []ToolSpec{
		{
			Name:        "create_job",
			Description: "Create a new field service job",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/jobs"},
			Method:      http.MethodPost,
		},
		{
			Name:        "update_job",
			Description: "Update an existing job",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/jobs/{jobId}"},
			Method:      http.MethodPatch,
		},
		{
			Name:        "get_job",
			Description: "Fetch a job by id",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/jobs/{jobId}"},
			Method:      http.MethodGet,
		},
		{
			Name:        "schedule_job",
			Description: "Set or move a job's scheduled window",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/jobs/{jobId}/schedule"},
			Method:      http.MethodPut,
		},
		{
			Name:        "assign_technician",
			Description: "Assign a technician to a job",
			Target:      DispatchTarget{Kind: TargetToolRPC, Tool: "assign_technician"},
			Method:      http.MethodPost,
		},
		{
			Name:        "check_availability",
			Description: "Check technician availability for a time window",
			Target:      DispatchTarget{Kind: TargetToolRPC, Tool: "check_availability"},
			Method:      http.MethodPost,
		},
		{
			Name:        "create_estimate",
			Description: "Create an estimate for a customer",
			Target:      DispatchTarget{Kind: TargetToolRPC, Tool: "create_estimate"},
			Method:      http.MethodPost,
		},
		{
			Name:        "create_invoice",
			Description: "Create an invoice, optionally from an estimate",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/invoices"},
			Method:      http.MethodPost,
		},
		{
			Name:        "record_payment",
			Description: "Record a payment against an invoice",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/invoices/{invoiceId}/payments"},
			Method:      http.MethodPost,
		},
		{
			Name:        "send_email",
			Description: "Send an email to a customer",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/communications/email"},
			Method:      http.MethodPost,
		},
		{
			Name:        "send_sms",
			Description: "Send an SMS to a customer",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/communications/sms"},
			Method:      http.MethodPost,
		},
		{
			Name:        "create_lead",
			Description: "Create a sales lead",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/leads"},
			Method:      http.MethodPost,
		},
		{
			Name:        "update_lead",
			Description: "Update a sales lead's stage or details",
			Target:      DispatchTarget{Kind: TargetRestEndpoint, Path: "/api/v1/leads/{leadId}"},
			Method:      http.MethodPatch,
		},
		{
			Name:        "navigate",
			Description: "Navigate the client UI to a screen",
			Target:      DispatchTarget{Kind: TargetClientAction, Action: "navigate"},
		},
		{
			Name:        "open_form",
			Description: "Open a prefilled form in the client UI",
			Target:      DispatchTarget{Kind: TargetClientAction, Action: "open_form"},
		},
	} {
		r.tools[tool.Name] = tool
	}

	return r
}

// Get returns a category definition by id.
func (r *Registry) Get(id string) (Definition, bool) {
	def, ok := r.categories[id]
	return def, ok
}

// Tool returns a vocabulary entry by name.
func (r *Registry) Tool(name string) (ToolSpec, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Fallback returns the zero-step fallback workflow.
func (r *Registry) Fallback() Definition {
	return r.categories[FallbackWorkflow]
}

// WorkflowIDs returns the category ids in sorted order, for prompts and
// introspection.
func (r *Registry) WorkflowIDs() []string {
	ids := make([]string, 0, len(r.categories))
	for id := range r.categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToolNames returns the vocabulary names in sorted order.
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VocabularyPrompt renders the tool vocabulary for the classifier's system
// prompt.
func (r *Registry) VocabularyPrompt() string {
	var b strings.Builder
	for _, name := range r.ToolNames() {
		tool := r.tools[name]
		fmt.Fprintf(&b, "- %s: %s (target %s", tool.Name, tool.Description, tool.Target.Marker())
		if tool.Method != "" {
			fmt.Fprintf(&b, ", method %s", tool.Method)
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// CategoryPrompt renders the workflow category enum for the classifier's
// system prompt.
func (r *Registry) CategoryPrompt() string {
	var b strings.Builder
	for _, id := range r.WorkflowIDs() {
		fmt.Fprintf(&b, "- %s: %s\n", id, r.categories[id].Description)
	}
	return b.String()
}

// Hydrate attaches classifier-generated steps to a category, enforcing the
// closed vocabulary and resolving each step's canonical dispatch target. An
// unknown workflow id or out-of-vocabulary tool fails the whole hydration;
// the caller substitutes the fallback.
func (r *Registry) Hydrate(workflowID string, steps []Step) (*Definition, error) {
	category, ok := r.categories[workflowID]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", workflowID)
	}

	hydrated := Definition{ID: category.ID, Description: category.Description}
	for i, step := range steps {
		tool, ok := r.tools[step.Tool]
		if !ok {
			return nil, fmt.Errorf("step %d: tool %q is not in the vocabulary", i, step.Tool)
		}

		if step.ID == "" {
			step.ID = fmt.Sprintf("%s_%d", step.Tool, i+1)
		}
		// The registry's target and method are canonical; whatever the
		// model emitted for them is discarded.
		step.Target = tool.Target
		step.Method = tool.Method

		hydrated.Steps = append(hydrated.Steps, step)
	}

	return &hydrated, nil
}
