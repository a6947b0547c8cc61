// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

// Package harness orchestrates the environment an integration run needs:
// a throwaway Postgres, the service under test as a child process, and
// readiness gating before any test traffic flows.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultPostgresImage = "postgres:16-alpine"
	defaultReadyTimeout  = 60 * time.Second
	defaultStopGrace     = 5 * time.Second
)

// Options configures Start.
type Options struct {
	// PostgresImage is the database image (default postgres:16-alpine).
	// SkipDatabase disables the database entirely.
	PostgresImage string
	Database      string
	Username      string
	Password      string
	SkipDatabase  bool

	// ServicePath and ServiceArgs launch the service under test. The
	// harness injects DATABASE_URL and PORT into its environment, plus
	// everything in Env. Leave ServicePath empty and set ExternalBaseURL
	// to run against an already-deployed instance.
	ServicePath     string
	ServiceArgs     []string
	Env             map[string]string
	ExternalBaseURL string

	// HealthPath is the readiness endpoint, default "/healthz".
	HealthPath string

	// GRPCHealthAddr enables an additional gRPC health v1 readiness check.
	GRPCHealthAddr string

	// VersionConstraint gates Start on the semver the health payload
	// reports, e.g. ">= 2.3". Empty disables the gate.
	VersionConstraint string

	ReadyTimeout time.Duration
	StopGrace    time.Duration
	Logger       *slog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PostgresImage == "" {
		out.PostgresImage = defaultPostgresImage
	}
	if out.Database == "" {
		out.Database = "test"
	}
	if out.Username == "" {
		out.Username = "test"
	}
	if out.Password == "" {
		out.Password = "test"
	}
	if out.HealthPath == "" {
		out.HealthPath = "/healthz"
	}
	if out.ReadyTimeout == 0 {
		out.ReadyTimeout = defaultReadyTimeout
	}
	if out.StopGrace == 0 {
		out.StopGrace = defaultStopGrace
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Env is a running test environment. Stop releases everything Start
// acquired, in reverse order, and is safe to call on a partially started
// environment.
type Env struct {
	opts    Options
	baseURL string
	dsn     string

	pg  *postgres.PostgresContainer
	cmd *exec.Cmd

	stderr *tailBuffer

	exitOnce sync.Once
	exitCh   chan error

	stopOnce sync.Once
	stopErr  error
}

// Start brings up the environment and blocks until the service reports
// ready (or the environment cannot come up, in which case everything
// already started is released).
func Start(ctx context.Context, opts Options) (*Env, error) {
	o := opts.withDefaults()
	env := &Env{opts: o, exitCh: make(chan error, 1)}

	if !o.SkipDatabase {
		if err := env.startDatabase(ctx); err != nil {
			return nil, err
		}
	}

	switch {
	case o.ServicePath != "":
		if err := env.startService(); err != nil {
			env.release(ctx)
			return nil, err
		}
	case o.ExternalBaseURL != "":
		env.baseURL = o.ExternalBaseURL
	default:
		env.release(ctx)
		return nil, oops.Code("HARNESS_NO_SERVICE").
			Errorf("either ServicePath or ExternalBaseURL must be set")
	}

	if err := env.awaitReady(ctx); err != nil {
		env.release(ctx)
		return nil, err
	}

	o.Logger.Info("environment ready", "base_url", env.baseURL, "database", !o.SkipDatabase)
	return env, nil
}

// BaseURL returns the service base URL.
func (e *Env) BaseURL() string { return e.baseURL }

// DSN returns the database connection string, empty when SkipDatabase.
func (e *Env) DSN() string { return e.dsn }

// StderrTail returns the last captured stderr output of the service.
func (e *Env) StderrTail() string {
	if e.stderr == nil {
		return ""
	}
	return e.stderr.String()
}

// Stop releases the environment. Repeated calls return the first result.
func (e *Env) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.stopErr = e.release(ctx)
	})
	return e.stopErr
}

func (e *Env) startDatabase(ctx context.Context) error {
	o := e.opts
	pg, err := postgres.Run(ctx,
		o.PostgresImage,
		postgres.WithDatabase(o.Database),
		postgres.WithUsername(o.Username),
		postgres.WithPassword(o.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		return oops.Code("HARNESS_DB_START_FAILED").With("image", o.PostgresImage).Wrap(err)
	}
	e.pg = pg

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return oops.Code("HARNESS_DB_DSN_FAILED").Wrap(err)
	}
	e.dsn = dsn
	return nil
}

// startService launches the child process. It deliberately does not tie
// the process lifetime to the start context; Stop owns shutdown.
func (e *Env) startService() error {
	o := e.opts

	port, err := freePort()
	if err != nil {
		return oops.Code("HARNESS_PORT_FAILED").Wrap(err)
	}
	e.baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	cmd := exec.Command(o.ServicePath, o.ServiceArgs...) //nolint:gosec // path comes from the test author
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PORT=%d", port),
		fmt.Sprintf("DATABASE_URL=%s", e.dsn),
	)
	for k, v := range o.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	e.stderr = newTailBuffer(16 << 10)
	cmd.Stderr = e.stderr
	cmd.Stdout = e.stderr

	if err := cmd.Start(); err != nil {
		return oops.Code("HARNESS_SERVICE_START_FAILED").
			With("path", o.ServicePath).
			Wrap(err)
	}
	e.cmd = cmd

	go func() {
		err := cmd.Wait()
		e.exitOnce.Do(func() { e.exitCh <- err })
	}()
	return nil
}

// awaitReady polls readiness while watching for premature service exit.
func (e *Env) awaitReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, e.opts.ReadyTimeout)
	defer cancel()

	readyErr := make(chan error, 1)
	go func() {
		readyErr <- e.checkReady(readyCtx)
	}()

	select {
	case err := <-readyErr:
		return err
	case exitErr := <-e.exitCh:
		// Put the exit back so Stop sees it too.
		e.exitCh <- exitErr
		return oops.Code("HARNESS_SERVICE_EXITED").
			With("stderr_tail", e.StderrTail()).
			Wrapf(coalesceExit(exitErr), "service exited before becoming ready")
	}
}

func (e *Env) checkReady(ctx context.Context) error {
	health, err := WaitReady(ctx, e.baseURL+e.opts.HealthPath, ReadyOptions{
		Logger: e.opts.Logger,
	})
	if err != nil {
		return err
	}
	if c := e.opts.VersionConstraint; c != "" {
		if err := CheckVersion(health.Version, c); err != nil {
			return err
		}
	}
	if addr := e.opts.GRPCHealthAddr; addr != "" {
		if err := WaitReadyGRPC(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

// release tears down in reverse start order and collects every error.
func (e *Env) release(ctx context.Context) error {
	var errs []error

	if e.cmd != nil && e.cmd.Process != nil {
		if err := e.stopProcess(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.pg != nil {
		if err := e.pg.Terminate(ctx); err != nil {
			errs = append(errs, oops.Code("HARNESS_DB_STOP_FAILED").Wrap(err))
		}
	}
	return errors.Join(errs...)
}

// stopProcess sends SIGTERM, waits out the grace period, then kills.
func (e *Env) stopProcess() error {
	_ = e.cmd.Process.Signal(syscall.SIGTERM) //nolint:errcheck // already-dead process is fine

	select {
	case <-e.exitCh:
		return nil
	case <-time.After(e.opts.StopGrace):
		if err := e.cmd.Process.Kill(); err != nil {
			return oops.Code("HARNESS_SERVICE_KILL_FAILED").Wrap(err)
		}
		<-e.exitCh
		return nil
	}
}

func coalesceExit(err error) error {
	if err == nil {
		return errors.New("exit status 0")
	}
	return err
}

// freePort reserves an ephemeral TCP port and releases it for the service
// to bind. The gap between release and bind is a known, accepted race.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", l.Addr())
	}
	return addr.Port, nil
}
