// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probekit/probekit/pkg/errutil"
)

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, SchemaID, schema["$id"])
	assert.Equal(t, "Probekit Scenario", schema["title"])

	required, ok := schema["required"].([]any)
	require.True(t, ok, "schema should mark required fields")
	assert.Contains(t, required, "name")
	assert.Contains(t, required, "steps")
}

func TestCheckSchema(t *testing.T) {
	t.Run("valid scenario", func(t *testing.T) {
		assert.NoError(t, CheckSchema([]byte(orderScenario)))
	})

	t.Run("empty input", func(t *testing.T) {
		err := CheckSchema(nil)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SCENARIO_SCHEMA_FAILED")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		err := CheckSchema([]byte("steps: [\n"))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SCENARIO_PARSE_FAILED")
	})

	t.Run("missing required steps", func(t *testing.T) {
		err := CheckSchema([]byte("name: incomplete\n"))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SCENARIO_SCHEMA_FAILED")
	})

	t.Run("wrong type for steps", func(t *testing.T) {
		err := CheckSchema([]byte("name: bad\nsteps: 42\n"))
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SCENARIO_SCHEMA_FAILED")
	})
}
