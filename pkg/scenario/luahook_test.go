// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probekit/probekit/pkg/errutil"
)

func TestNewLuaHooks_EmptyIsNil(t *testing.T) {
	assert.Nil(t, newLuaHooks(Hooks{}))

	var h *luaHooks
	step := requestStep("get")
	assert.NoError(t, h.runBefore(&step, nil))
	assert.NoError(t, h.runAfter(&step, &StepResult{}))
}

func TestLuaHooks_BeforeSeesStepAndSavedNames(t *testing.T) {
	h := newLuaHooks(Hooks{BeforeStep: `
		if step.kind ~= "request" then error("unexpected kind " .. step.kind) end
		if not saved.order then error("order not saved yet") end
	`})

	step := requestStep("fetch")
	saved := map[string]any{"order": map[string]any{"id": "o-1"}}

	assert.NoError(t, h.runBefore(&step, saved))

	err := h.runBefore(&step, map[string]any{})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SCENARIO_HOOK_FAILED")
	assert.Contains(t, err.Error(), "order not saved yet")
}

func TestLuaHooks_AfterSeesResult(t *testing.T) {
	h := newLuaHooks(Hooks{AfterStep: `
		if result.failed then error("step failed with status " .. result.status) end
	`})

	step := requestStep("place")

	assert.NoError(t, h.runAfter(&step, &StepResult{Status: 201}))

	err := h.runAfter(&step, &StepResult{Status: 500, Error: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step failed with status 500")
}

func TestLuaHooks_SyntaxErrorFailsTheStep(t *testing.T) {
	h := newLuaHooks(Hooks{BeforeStep: `this is not lua`})

	step := requestStep("get")
	err := h.runBefore(&step, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SCENARIO_HOOK_FAILED")
}

func TestRunner_HookFailureFailsStep(t *testing.T) {
	sc := &Scenario{
		Name: "hooked",
		Steps: []Step{
			{Name: "guarded", Assert: &AssertStep{Saved: "order.id", Exists: false}},
		},
		Hooks: Hooks{BeforeStep: `error("precondition unmet")`},
	}

	hooks := newLuaHooks(sc.Hooks)
	require.NotNil(t, hooks)

	err := hooks.runBefore(&sc.Steps[0], nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "precondition unmet")
}
