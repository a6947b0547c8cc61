// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// luaHooks runs the scenario's optional Lua snippets. Each invocation
// gets a fresh interpreter: hooks observe step results, they do not carry
// state between steps.
type luaHooks struct {
	before string
	after  string
}

func newLuaHooks(h Hooks) *luaHooks {
	if h.BeforeStep == "" && h.AfterStep == "" {
		return nil
	}
	return &luaHooks{before: h.BeforeStep, after: h.AfterStep}
}

func (h *luaHooks) runBefore(step *Step, saved map[string]any) error {
	if h == nil || h.before == "" {
		return nil
	}
	return h.run(h.before, "before_step", step, nil, saved)
}

func (h *luaHooks) runAfter(step *Step, sr *StepResult) error {
	if h == nil || h.after == "" {
		return nil
	}
	return h.run(h.after, "after_step", step, sr, nil)
}

// run executes a hook script. The script sees a read-only "step" table
// and, for after hooks, a "result" table. Calling error(...) from the
// script fails the step.
func (h *luaHooks) run(script, name string, step *Step, sr *StepResult, saved map[string]any) error {
	L := lua.NewState()
	defer L.Close()

	stepTbl := L.NewTable()
	L.SetField(stepTbl, "name", lua.LString(step.Name))
	L.SetField(stepTbl, "kind", lua.LString(step.Kind()))
	L.SetGlobal("step", stepTbl)

	if sr != nil {
		resTbl := L.NewTable()
		L.SetField(resTbl, "failed", lua.LBool(sr.Failed()))
		L.SetField(resTbl, "status", lua.LNumber(sr.Status))
		L.SetField(resTbl, "error", lua.LString(sr.Error))
		L.SetField(resTbl, "matched_seq", lua.LNumber(sr.MatchedSeq))
		L.SetGlobal("result", resTbl)
	}

	if saved != nil {
		savedTbl := L.NewTable()
		for k := range saved {
			L.SetField(savedTbl, k, lua.LTrue)
		}
		L.SetGlobal("saved", savedTbl)
	}

	if err := L.DoString(script); err != nil {
		return oops.Code("SCENARIO_HOOK_FAILED").
			With("hook", name).
			With("step", step.Name).
			Wrap(err)
	}
	return nil
}
