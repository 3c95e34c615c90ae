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

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("client:navigate")
	require.NoError(t, err)
	assert.Equal(t, TargetClientAction, target.Kind)
	assert.Equal(t, "navigate", target.Action)

	target, err = ParseTarget("rpc:create_estimate")
	require.NoError(t, err)
	assert.Equal(t, TargetToolRPC, target.Kind)
	assert.Equal(t, "create_estimate", target.Tool)

	target, err = ParseTarget("/api/v1/jobs/{jobId}")
	require.NoError(t, err)
	assert.Equal(t, TargetRestEndpoint, target.Kind)
	assert.Equal(t, "/api/v1/jobs/{jobId}", target.Path)

	for _, bad := range []string{"", "client:", "rpc:", "jobs"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, "marker %q should be rejected", bad)
	}
}

func TestTargetMarkerRoundTrip(t *testing.T) {
	for _, marker := range []string{"client:open_form", "rpc:assign_technician", "/api/v1/invoices"} {
		target, err := ParseTarget(marker)
		require.NoError(t, err)
		assert.Equal(t, marker, target.Marker())
	}
}

func TestParameterValidation(t *testing.T) {
	min, max := 0.0, 100.0

	cases := []struct {
		name  string
		param StepParameter
		value interface{}
		ok    bool
	}{
		{"string ok", StepParameter{Name: "n", Type: ParamString}, "hi", true},
		{"string wrong type", StepParameter{Name: "n", Type: ParamString}, 42, false},
		{"pattern match", StepParameter{Name: "email", Type: ParamString, Pattern: `^[^@]+@[^@]+$`}, "a@b.com", true},
		{"pattern miss", StepParameter{Name: "email", Type: ParamString, Pattern: `^[^@]+@[^@]+$`}, "nope", false},
		{"number in range", StepParameter{Name: "qty", Type: ParamNumber, Min: &min, Max: &max}, 50.0, true},
		{"number below min", StepParameter{Name: "qty", Type: ParamNumber, Min: &min}, -1.0, false},
		{"number above max", StepParameter{Name: "qty", Type: ParamNumber, Max: &max}, 101.0, false},
		{"number from int", StepParameter{Name: "qty", Type: ParamNumber}, 3, true},
		{"boolean ok", StepParameter{Name: "flag", Type: ParamBoolean}, true, true},
		{"boolean wrong type", StepParameter{Name: "flag", Type: ParamBoolean}, "true", false},
		{"array ok", StepParameter{Name: "items", Type: ParamArray}, []interface{}{"a"}, true},
		{"object ok", StepParameter{Name: "meta", Type: ParamObject}, map[string]interface{}{"k": "v"}, true},
		{"unknown type", StepParameter{Name: "x", Type: "uuid"}, "v", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.param.Validate(tc.value)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
