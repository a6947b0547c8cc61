// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probekit/probekit/pkg/apiclient"
	"github.com/probekit/probekit/pkg/errutil"
)

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := apiclient.New("not-a-url")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CLIENT_BAD_URL")

	_, err = apiclient.New("/just/a/path")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CLIENT_BAD_URL")
}

func TestClient_GetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/books/42", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42","title":"Domain Modeling"}`))
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL)
	require.NoError(t, err)

	var book struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, client.Get(context.Background(), "/books/42", &book))
	assert.Equal(t, "42", book.ID)
	assert.Equal(t, "Domain Modeling", book.Title)
}

func TestClient_PostSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Domain Modeling", body["title"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL)
	require.NoError(t, err)

	var created struct {
		ID string `json:"id"`
	}
	err = client.Post(context.Background(), "/books", map[string]string{"title": "Domain Modeling"}, &created)
	require.NoError(t, err)
	assert.Equal(t, "42", created.ID)
}

func TestClient_TenantHeader(t *testing.T) {
	var gotDefault, gotCustom atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDefault.Store(r.Header.Get("X-Tenant-Id"))
		gotCustom.Store(r.Header.Get("X-Org"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL)
	require.NoError(t, err)

	// Without tenant: no header.
	require.NoError(t, client.Get(context.Background(), "/", nil))
	assert.Equal(t, "", gotDefault.Load())

	// Derived tenant client sends the header; the parent stays clean.
	tenant := client.WithTenant("acme")
	assert.Equal(t, "acme", tenant.Tenant())
	assert.Equal(t, "", client.Tenant())

	require.NoError(t, tenant.Get(context.Background(), "/", nil))
	assert.Equal(t, "acme", gotDefault.Load())

	// Custom header name.
	custom, err := apiclient.New(srv.URL, apiclient.WithTenantHeader("X-Org"))
	require.NoError(t, err)
	require.NoError(t, custom.WithTenant("acme").Get(context.Background(), "/", nil))
	assert.Equal(t, "acme", gotCustom.Load())
}

func TestClient_BearerToken(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, apiclient.WithTokenSource(apiclient.StaticToken("tok-1")))
	require.NoError(t, err)

	require.NoError(t, client.Get(context.Background(), "/", nil))
	assert.Equal(t, "Bearer tok-1", gotAuth.Load())
}

func TestClient_RefreshRotationOn401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	source := apiclient.NewRotatingTokenSource("access-1", "refresh-1",
		func(_ context.Context, refreshToken string) (string, string, error) {
			assert.Equal(t, "refresh-1", refreshToken)
			return "access-2", "refresh-2", nil
		})

	client, err := apiclient.New(srv.URL, apiclient.WithTokenSource(source))
	require.NoError(t, err)

	require.NoError(t, client.Get(context.Background(), "/", nil))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "refresh-2", source.RefreshToken(), "refresh token should have rotated")
}

func TestClient_401AfterRefreshSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, apiclient.WithTokenSource(apiclient.StaticToken("stale")))
	require.NoError(t, err)

	err = client.Get(context.Background(), "/", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apiclient.StatusOf(err))
}

func TestClient_ProblemJSONDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":409,"title":"book already exists","detail":"isbn taken","code":"DUPLICATE"}`))
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL)
	require.NoError(t, err)

	err = client.Post(context.Background(), "/books", map[string]string{}, nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CLIENT_API_ERROR")
	assert.Equal(t, http.StatusConflict, apiclient.StatusOf(err))
	assert.Contains(t, err.Error(), "book already exists")
}

func TestClient_GetRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, apiclient.WithRetry(5, time.Millisecond))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, client.Get(context.Background(), "/", &out))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PostIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, apiclient.WithRetry(5, time.Millisecond))
	require.NoError(t, err)

	err = client.Post(context.Background(), "/", map[string]string{}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "non-idempotent requests must not be retried")
}

func TestClient_DoReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL)
	require.NoError(t, err)

	status, body, err := client.Do(context.Background(), http.MethodGet, "/", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusTeapot, status)
	assert.Equal(t, "short and stout", string(body))
}

func TestClient_StaticHeaders(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("X-Request-Source"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := apiclient.New(srv.URL, apiclient.WithHeader("X-Request-Source", "probekit"))
	require.NoError(t, err)

	require.NoError(t, client.Delete(context.Background(), "/things/1"))
	assert.Equal(t, "probekit", got.Load())
}

func TestStatusOf_NonAPIError(t *testing.T) {
	assert.Zero(t, apiclient.StatusOf(context.Canceled))
	assert.Zero(t, apiclient.StatusOf(nil))
}

func TestRotatingTokenSource_NoRefreshToken(t *testing.T) {
	source := apiclient.NewRotatingTokenSource("access", "", nil)

	_, err := source.Refresh(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CLIENT_NO_REFRESH_TOKEN")
}
