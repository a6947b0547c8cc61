// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/probekit/probekit/pkg/apiclient"
	"github.com/probekit/probekit/pkg/eventwait"
	"github.com/probekit/probekit/pkg/eventwait/filter"
	"github.com/probekit/probekit/pkg/schemacheck"
)

// Observer receives finished step outcomes and successful wait
// latencies, typically backed by a Prometheus registry on soak runs.
type Observer interface {
	ObserveStep(kind string, failed bool)
	ObserveWait(waited time.Duration)
}

// Runner executes scenarios. Client is required; Listener is required
// only for scenarios with wait steps; Schemas only for expect_schema.
// Observer, when set, is notified of every finished step.
type Runner struct {
	Client   *apiclient.Client
	Listener *eventwait.Listener
	Schemas  *schemacheck.Registry
	Observer Observer
	Logger   *slog.Logger
}

// Run executes one scenario. A setup failure or structural problem is an
// error; step failures are recorded in the Result. After the first failed
// step the remaining steps are skipped.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if r.Client == nil {
		return nil, oops.Code("SCENARIO_NO_CLIENT").Errorf("runner has no API client")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := r.Client
	if sc.Tenant != "" {
		client = client.WithTenant(sc.Tenant)
	}

	hooks := newLuaHooks(sc.Hooks)
	saved := make(map[string]any)
	res := newResult(sc.Name)

	for i := range sc.Setup {
		sr := r.runStep(ctx, client, &sc.Setup[i], saved, hooks)
		if sr.Failed() {
			return nil, oops.Code("SCENARIO_SETUP_FAILED").
				With("scenario", sc.Name).
				With("step", sc.Setup[i].Name).
				Errorf("%s", sr.Error)
		}
	}

	for i := range sc.Steps {
		step := &sc.Steps[i]
		sr := r.runStep(ctx, client, step, saved, hooks)
		res.add(sr)
		logger.Info("scenario step finished",
			"scenario", sc.Name,
			"step", step.Name,
			"kind", sr.Kind,
			"failed", sr.Failed(),
		)
		if sr.Failed() {
			break
		}
	}

	res.Duration = time.Since(res.Started)
	return res, nil
}

func (r *Runner) runStep(ctx context.Context, client *apiclient.Client, step *Step, saved map[string]any, hooks *luaHooks) StepResult {
	sr := StepResult{Name: step.Name, Kind: step.Kind()}
	start := time.Now()
	defer func() {
		sr.Duration = time.Since(start)
		if r.Observer != nil {
			r.Observer.ObserveStep(sr.Kind, sr.Failed())
		}
	}()

	if err := hooks.runBefore(step, saved); err != nil {
		sr.Error = err.Error()
		return sr
	}

	var err error
	switch {
	case step.Request != nil && step.Wait != nil:
		err = r.runRequestWait(ctx, client, step, saved, &sr)
	case step.Request != nil:
		err = r.runRequest(ctx, client, step.Request, saved, &sr)
	case step.Wait != nil:
		err = r.runWait(ctx, step.Wait, nil, saved, &sr)
	case step.Assert != nil:
		err = runAssert(step.Assert, saved)
	}
	if err != nil {
		sr.Error = err.Error()
	}

	if err := hooks.runAfter(step, &sr); err != nil && sr.Error == "" {
		sr.Error = err.Error()
	}
	return sr
}

// runRequestWait pairs the request with the wait through the listener so
// an event fired before the request returns is still observed.
func (r *Runner) runRequestWait(ctx context.Context, client *apiclient.Client, step *Step, saved map[string]any, sr *StepResult) error {
	return r.runWait(ctx, step.Wait, func(ctx context.Context) error {
		return r.runRequest(ctx, client, step.Request, saved, sr)
	}, saved, sr)
}

func (r *Runner) runWait(ctx context.Context, w *WaitStep, action func(context.Context) error, saved map[string]any, sr *StepResult) error {
	if r.Listener == nil {
		return oops.Code("SCENARIO_NO_LISTENER").Errorf("wait step requires an event listener")
	}
	// Syntax check up front; placeholders inside string literals parse fine.
	if _, err := filter.Compile(w.Filter); err != nil {
		return err
	}
	timeout, err := w.TimeoutDuration()
	if err != nil {
		return err
	}

	// The filter may reference values the paired request saves (for
	// example ${order.id} from its own save_as), so interpolation and the
	// final compile are deferred until the first event is evaluated, which
	// happens after the action has completed.
	var pred eventwait.Predicate
	var predErr error
	lazy := func(e eventwait.Entry) bool {
		if pred == nil && predErr == nil {
			src, ierr := interpolate(w.Filter, saved)
			if ierr != nil {
				predErr = ierr
			} else {
				pred, predErr = filter.Compile(src)
			}
		}
		if predErr != nil {
			// Report a match so the waiter wakes immediately instead of
			// burning the timeout; the caller returns predErr.
			return true
		}
		return pred(e)
	}

	opts := []eventwait.WaitOption{eventwait.WithTimeout(timeout)}
	if w.RequireNoGap {
		opts = append(opts, eventwait.RequireNoGap())
	}

	var result *eventwait.WaitResult
	if action != nil {
		result, err = r.Listener.ExecuteAndWait(ctx, action, lazy, opts...)
	} else {
		result, err = r.Listener.WaitFor(ctx, lazy, opts...)
	}
	if predErr != nil {
		return predErr
	}
	if err != nil {
		return err
	}
	sr.MatchedSeq = result.Entry.Seq
	if r.Observer != nil {
		r.Observer.ObserveWait(result.Waited)
	}
	return nil
}

func (r *Runner) runRequest(ctx context.Context, client *apiclient.Client, req *RequestStep, saved map[string]any, sr *StepResult) error {
	path, err := interpolate(req.Path, saved)
	if err != nil {
		return err
	}
	var body any
	if req.Body != nil {
		body, err = interpolateBody(req.Body, saved)
		if err != nil {
			return err
		}
	}

	status, respBody, err := client.Do(ctx, req.Method, path, body)
	sr.Status = status
	if err != nil {
		// A non-2xx the step explicitly expects is a pass.
		if req.ExpectStatus < 400 || apiclient.StatusOf(err) != req.ExpectStatus {
			return err
		}
	}

	if req.ExpectStatus != 0 {
		if status != req.ExpectStatus {
			return oops.Code("SCENARIO_STATUS_MISMATCH").
				With("path", path).
				With("want", req.ExpectStatus).
				With("got", status).
				Errorf("expected status %d, got %d", req.ExpectStatus, status)
		}
	} else if status < 200 || status > 299 {
		return oops.Code("SCENARIO_STATUS_MISMATCH").
			With("path", path).
			With("got", status).
			Errorf("expected a 2xx status, got %d", status)
	}

	if req.ExpectSchema != "" {
		if r.Schemas == nil {
			return oops.Code("SCENARIO_NO_SCHEMAS").
				Errorf("expect_schema %q requires a schema registry", req.ExpectSchema)
		}
		if err := r.Schemas.Validate(req.ExpectSchema, respBody); err != nil {
			return err
		}
	}

	if req.SaveAs != "" {
		var doc any
		if len(respBody) > 0 {
			if err := json.Unmarshal(respBody, &doc); err != nil {
				return oops.Code("SCENARIO_SAVE_FAILED").
					With("save_as", req.SaveAs).
					Wrapf(err, "response is not JSON")
			}
		}
		saved[req.SaveAs] = doc
	}
	return nil
}

func runAssert(a *AssertStep, saved map[string]any) error {
	got, ok := lookupSaved(saved, a.Saved)
	if !ok {
		if a.Exists || a.Equals != nil {
			return oops.Code("SCENARIO_ASSERT_FAILED").
				With("saved", a.Saved).
				Errorf("no saved value at %q", a.Saved)
		}
		return nil
	}
	if a.Equals != nil && stringifyValue(got) != stringifyValue(a.Equals) {
		return oops.Code("SCENARIO_ASSERT_FAILED").
			With("saved", a.Saved).
			With("want", a.Equals).
			With("got", got).
			Errorf("saved value %q = %v, want %v", a.Saved, got, a.Equals)
	}
	return nil
}
