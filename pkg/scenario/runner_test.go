// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"context"
	"net/http"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probekit/probekit/pkg/apiclient"
	"github.com/probekit/probekit/pkg/errutil"
	"github.com/probekit/probekit/pkg/eventwait"
	"github.com/probekit/probekit/pkg/schemacheck"
	"github.com/probekit/probekit/pkg/sse"
	"github.com/probekit/probekit/pkg/stub"
)

func newTestRunner(t *testing.T, s *stub.Server, withListener bool) *Runner {
	t.Helper()

	client, err := apiclient.New(s.URL())
	require.NoError(t, err)

	r := &Runner{Client: client}
	if withListener {
		stream, err := sse.Dial(context.Background(), s.URL()+"/events")
		require.NoError(t, err)
		t.Cleanup(stream.Close)

		listener, err := eventwait.Listen(context.Background(), stream)
		require.NoError(t, err)
		t.Cleanup(listener.Close)
		r.Listener = listener
	}
	return r
}

func TestRunner_RequestSaveAndAssert(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.HandleJSON(http.MethodPost, "/orders", http.StatusCreated,
		map[string]any{"id": "o-1", "status": "placed", "total": 42})

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name: "place-order",
		Steps: []Step{
			{Name: "place", Request: &RequestStep{
				Method:       http.MethodPost,
				Path:         "/orders",
				Body:         map[string]any{"book_id": "b-1"},
				ExpectStatus: http.StatusCreated,
				SaveAs:       "order",
			}},
			{Name: "id assigned", Assert: &AssertStep{Saved: "order.id", Equals: "o-1"}},
			{Name: "total", Assert: &AssertStep{Saved: "order.total", Equals: 42}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, http.StatusCreated, res.Steps[0].Status)
	assert.NotZero(t, res.RunID)
}

func TestRunner_InterpolatesSavedValues(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.HandleJSON(http.MethodPost, "/orders", http.StatusCreated, map[string]any{"id": "o-1"})
	s.HandleJSON(http.MethodGet, "/orders/{id}", http.StatusOK, map[string]any{"id": "o-1"})

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name: "fetch-by-saved-id",
		Steps: []Step{
			{Name: "place", Request: &RequestStep{Method: "POST", Path: "/orders", SaveAs: "order"}},
			{Name: "fetch", Request: &RequestStep{Method: "GET", Path: "/orders/${order.id}"}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	reqs := s.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/orders/o-1", reqs[1].Path)
}

func TestRunner_RequestPairedWithWait(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.ServeSSE("/events")
	s.Handle(http.MethodPost, "/orders", func(w http.ResponseWriter, _ *http.Request) {
		// The event lands before the response does, the exact ordering
		// the paired wait has to tolerate.
		s.Emit(stub.Event{ID: "1", Type: "OrderPlaced", Data: `{"order_id":"o-1"}`})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o-1"}`))
	})

	r := newTestRunner(t, s, true)
	sc := &Scenario{
		Name: "place-and-wait",
		Steps: []Step{
			{
				Name: "place",
				Request: &RequestStep{
					Method: "POST",
					Path:   "/orders",
					SaveAs: "order",
				},
				Wait: &WaitStep{
					Filter:  `type == "OrderPlaced" && data.order_id == "${order.id}"`,
					Timeout: "5s",
				},
			},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.True(t, res.Passed, "steps: %+v", res.Steps)
	assert.NotZero(t, res.Steps[0].MatchedSeq)
}

type recordingObserver struct {
	steps []string
	waits []time.Duration
}

func (o *recordingObserver) ObserveStep(kind string, failed bool) {
	status := "pass"
	if failed {
		status = "fail"
	}
	o.steps = append(o.steps, kind+" "+status)
}

func (o *recordingObserver) ObserveWait(waited time.Duration) {
	o.waits = append(o.waits, waited)
}

func TestRunner_ObserverSeesStepsAndWaits(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.ServeSSE("/events")
	s.Handle(http.MethodPost, "/orders", func(w http.ResponseWriter, _ *http.Request) {
		s.Emit(stub.Event{ID: "1", Type: "OrderPlaced", Data: `{"order_id":"o-1"}`})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o-1"}`))
	})

	obs := &recordingObserver{}
	r := newTestRunner(t, s, true)
	r.Observer = obs
	sc := &Scenario{
		Name: "observed",
		Steps: []Step{
			{
				Name:    "place",
				Request: &RequestStep{Method: "POST", Path: "/orders", SaveAs: "order"},
				Wait:    &WaitStep{Filter: `type == "OrderPlaced"`, Timeout: "5s"},
			},
			{Name: "id assigned", Assert: &AssertStep{Saved: "order.id", Equals: "o-1"}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	require.True(t, res.Passed, "steps: %+v", res.Steps)

	assert.Equal(t, []string{"request+wait pass", "assert pass"}, obs.steps)
	require.Len(t, obs.waits, 1)
	assert.GreaterOrEqual(t, obs.waits[0], time.Duration(0))
}

func TestRunner_ObserverSeesFailedSteps(t *testing.T) {
	s := stub.New()
	defer s.Close()

	obs := &recordingObserver{}
	r := newTestRunner(t, s, false)
	r.Observer = obs
	sc := &Scenario{
		Name:  "observed-failure",
		Steps: []Step{{Name: "missing", Request: &RequestStep{Method: "GET", Path: "/nope"}}},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"request fail"}, obs.steps)
	assert.Empty(t, obs.waits)
}

func TestRunner_UnresolvedWaitFilterFailsFast(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.ServeSSE("/events")
	s.Handle(http.MethodPost, "/orders", func(w http.ResponseWriter, _ *http.Request) {
		s.Emit(stub.Event{ID: "1", Type: "OrderPlaced", Data: `{"order_id":"o-1"}`})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o-1"}`))
	})

	r := newTestRunner(t, s, true)
	sc := &Scenario{
		Name: "typo-in-filter",
		Steps: []Step{{
			Name:    "place",
			Request: &RequestStep{Method: "POST", Path: "/orders", SaveAs: "order"},
			Wait: &WaitStep{
				// "ordr" is never saved, the wait can only ever fail.
				Filter:  `type == "OrderPlaced" && data.order_id == "${ordr.id}"`,
				Timeout: "30s",
			},
		}},
	}

	start := time.Now()
	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Steps[0].Error, "ordr")
	assert.Less(t, time.Since(start), 5*time.Second,
		"a bad saved-value reference should surface on the first event, not at the wait timeout")
}

func TestRunner_WaitTimesOutWithoutEvent(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.ServeSSE("/events")

	r := newTestRunner(t, s, true)
	sc := &Scenario{
		Name: "wait-nothing",
		Steps: []Step{
			{Name: "wait", Wait: &WaitStep{Filter: `type == "Never"`, Timeout: "100ms"}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Steps[0].Error, "no matching event")
}

func TestRunner_StatusMismatchStopsTheRun(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.HandleJSON(http.MethodGet, "/books", http.StatusOK, []any{})

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name: "wrong-status",
		Steps: []Step{
			{Name: "list", Request: &RequestStep{Method: "GET", Path: "/books", ExpectStatus: http.StatusNoContent}},
			{Name: "never runs", Request: &RequestStep{Method: "GET", Path: "/books"}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Steps, 1, "remaining steps are skipped after a failure")
	assert.Contains(t, res.Steps[0].Error, "expected status 204")
}

func TestRunner_ExpectedErrorStatusPasses(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.Handle(http.MethodPost, "/books", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":409,"title":"duplicate isbn"}`))
	})

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name: "duplicate-rejected",
		Steps: []Step{
			{Name: "dup", Request: &RequestStep{Method: "POST", Path: "/books", ExpectStatus: http.StatusConflict}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.True(t, res.Passed, "steps: %+v", res.Steps)
}

func TestRunner_SchemaExpectation(t *testing.T) {
	schemas, err := schemacheck.Load(fstest.MapFS{
		"book.json": {Data: []byte(`{
			"type": "object",
			"required": ["id", "title"],
			"properties": {"id": {"type": "string"}, "title": {"type": "string"}}
		}`)},
	}, ".")
	require.NoError(t, err)

	s := stub.New()
	defer s.Close()
	s.HandleJSON(http.MethodGet, "/books/{id}", http.StatusOK,
		map[string]any{"id": "b-1"}) // title missing

	r := newTestRunner(t, s, false)
	r.Schemas = schemas
	sc := &Scenario{
		Name: "shape-check",
		Steps: []Step{
			{Name: "get", Request: &RequestStep{Method: "GET", Path: "/books/b-1", ExpectSchema: "book"}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Steps[0].Error, "title")
}

func TestRunner_SchemaExpectationWithoutRegistry(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.HandleJSON(http.MethodGet, "/books", http.StatusOK, []any{})

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name: "no-registry",
		Steps: []Step{
			{Name: "get", Request: &RequestStep{Method: "GET", Path: "/books", ExpectSchema: "book"}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestRunner_TenantScopesRequests(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.HandleJSON(http.MethodGet, "/books", http.StatusOK, []any{})

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name:   "tenant-scoped",
		Tenant: "acme",
		Steps:  []Step{{Name: "list", Request: &RequestStep{Method: "GET", Path: "/books"}}},
	}

	_, err := r.Run(context.Background(), sc)
	require.NoError(t, err)

	reqs := s.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "acme", reqs[0].Header.Get("X-Tenant-Id"))
}

func TestRunner_SetupFailureIsAnError(t *testing.T) {
	s := stub.New()
	defer s.Close()

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name:  "bad-setup",
		Setup: []Step{{Name: "seed", Request: &RequestStep{Method: "POST", Path: "/seed"}}},
		Steps: []Step{{Name: "list", Request: &RequestStep{Method: "GET", Path: "/books"}}},
	}

	_, err := r.Run(context.Background(), sc)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SCENARIO_SETUP_FAILED")
}

func TestRunner_NoClient(t *testing.T) {
	r := &Runner{}
	_, err := r.Run(context.Background(), &Scenario{Name: "x", Steps: []Step{requestStep("get")}})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "SCENARIO_NO_CLIENT")
}

func TestRunner_WaitWithoutListener(t *testing.T) {
	s := stub.New()
	defer s.Close()

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name:  "no-listener",
		Steps: []Step{{Name: "wait", Wait: &WaitStep{Filter: `type == "x"`}}},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Steps[0].Error, "listener")
}

func TestRunner_AssertAgainstMissingSave(t *testing.T) {
	s := stub.New()
	defer s.Close()

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name: "missing-save",
		Steps: []Step{
			{Name: "check", Assert: &AssertStep{Saved: "order.id", Exists: true}},
		},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestRunner_RecordsStepDurations(t *testing.T) {
	s := stub.New()
	defer s.Close()
	s.Handle(http.MethodGet, "/slow", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	})

	r := newTestRunner(t, s, false)
	sc := &Scenario{
		Name:  "timing",
		Steps: []Step{{Name: "slow", Request: &RequestStep{Method: "GET", Path: "/slow"}}},
	}

	res, err := r.Run(context.Background(), sc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Steps[0].Duration, 20*time.Millisecond)
	assert.GreaterOrEqual(t, res.Duration, res.Steps[0].Duration)
}
