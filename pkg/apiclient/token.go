// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package apiclient

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

// TokenSource supplies bearer tokens. Refresh is called by the client
// after a 401 and must return the replacement access token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token; Refresh returns the
// same token, so a 401 is retried once and then surfaces as an APIError.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Refresh returns the fixed token unchanged.
func (t StaticToken) Refresh(context.Context) (string, error) { return string(t), nil }

// RefreshFunc exchanges a refresh token for a new access/refresh pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (access, refresh string, err error)

// RotatingTokenSource implements refresh-token rotation: every refresh
// consumes the stored refresh token and stores its replacement before the
// new access token is handed out, so a retried request can never race a
// stale rotation.
type RotatingTokenSource struct {
	mu      sync.Mutex
	access  string
	refresh string
	fn      RefreshFunc
}

// NewRotatingTokenSource creates a rotating source from an initial token
// pair and an exchange function.
func NewRotatingTokenSource(access, refresh string, fn RefreshFunc) *RotatingTokenSource {
	return &RotatingTokenSource{access: access, refresh: refresh, fn: fn}
}

// Token returns the current access token.
func (s *RotatingTokenSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, nil
}

// Refresh rotates the token pair. The new refresh token is stored before
// the new access token is handed out, so a retried request never runs
// against a half-rotated pair.
func (s *RotatingTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refresh == "" {
		return "", oops.Code("CLIENT_NO_REFRESH_TOKEN").Errorf("no refresh token available")
	}
	access, refresh, err := s.fn(ctx, s.refresh)
	if err != nil {
		return "", oops.Code("CLIENT_REFRESH_FAILED").Wrap(err)
	}
	s.access = access
	s.refresh = refresh
	return access, nil
}

// RefreshToken returns the currently stored refresh token, for tests
// asserting rotation.
func (s *RotatingTokenSource) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh
}
