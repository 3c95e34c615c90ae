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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCategories(t *testing.T) {
	registry := NewRegistry()

	ids := registry.WorkflowIDs()
	assert.ElementsMatch(t, []string{
		WorkflowJobManagement,
		WorkflowDispatchOperations,
		WorkflowInvoiceBilling,
		WorkflowCustomerCommunication,
		WorkflowSalesPipeline,
		WorkflowGeneralQuery,
	}, ids)

	for _, id := range ids {
		def, ok := registry.Get(id)
		require.True(t, ok)
		assert.Empty(t, def.Steps, "registry categories carry no steps")
	}

	fallback := registry.Fallback()
	assert.Equal(t, WorkflowGeneralQuery, fallback.ID)
}

func TestHydrateAttachesStepsWithCanonicalTargets(t *testing.T) {
	registry := NewRegistry()

	def, err := registry.Hydrate(WorkflowInvoiceBilling, []Step{
		{
			Tool: "create_estimate",
			// The model claims a bogus target; the registry must win.
			Target: DispatchTarget{Kind: TargetRestEndpoint, Path: "/evil"},
			Method: "DELETE",
		},
		{ID: "notify", Tool: "send_email", Optional: true},
	})
	require.NoError(t, err)
	require.Len(t, def.Steps, 2)

	first := def.Steps[0]
	assert.Equal(t, TargetToolRPC, first.Target.Kind)
	assert.Equal(t, "create_estimate", first.Target.Tool)
	assert.Equal(t, "POST", first.Method)
	assert.Equal(t, "create_estimate_1", first.ID, "missing step ids are generated")

	second := def.Steps[1]
	assert.Equal(t, "notify", second.ID)
	assert.Equal(t, "/api/v1/communications/email", second.Target.Path)
	assert.True(t, second.Optional)
}

func TestHydrateRejectsUnknownWorkflow(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Hydrate("world_domination", nil)
	assert.Error(t, err)
}

func TestHydrateRejectsOutOfVocabularyTool(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Hydrate(WorkflowJobManagement, []Step{
		{Tool: "create_job"},
		{Tool: "rm_rf_slash"},
	})
	assert.Error(t, err)
}

func TestVocabularyPromptListsEveryTool(t *testing.T) {
	registry := NewRegistry()
	prompt := registry.VocabularyPrompt()
	for _, name := range registry.ToolNames() {
		assert.Contains(t, prompt, name)
	}
}
