// Package testutils holds helpers shared by package tests.
package testutils

import (
	"sync"
	"testing"

	"github.com/decred/slog"
)

// TestLogBackend is a slog backend suitable for using with tests.
type TestLogBackend struct {
	mtx     sync.Mutex
	tb      testing.TB
	done    bool
	showLog bool
}

func (tlb *TestLogBackend) Write(b []byte) (int, error) {
	tlb.mtx.Lock()
	if !tlb.done && tlb.showLog {
		tlb.tb.Log(string(b[:len(b)-1]))
	}
	tlb.mtx.Unlock()
	return len(b), nil
}

// Loggers returns a function that generates per-subsystem loggers backed
// by this backend.
func (tlb *TestLogBackend) Loggers() func(subsys string) slog.Logger {
	bknd := slog.NewBackend(tlb)
	return func(subsys string) slog.Logger {
		logg := bknd.Logger(subsys)
		logg.SetLevel(slog.LevelTrace)
		return logg
	}
}

type TestLogBackendOption func(t *TestLogBackend)

// WithShowLog makes the backend forward log lines to t.Log.
func WithShowLog(showLog bool) TestLogBackendOption {
	return func(t *TestLogBackend) {
		t.showLog = showLog
	}
}

// NewTestLogBackend returns a log backend that can be used as an io.Writer
// to write logs to during a test.
func NewTestLogBackend(t testing.TB, opts ...TestLogBackendOption) *TestLogBackend {
	tlb := &TestLogBackend{tb: t}
	for _, opt := range opts {
		opt(tlb)
	}
	t.Cleanup(func() {
		tlb.mtx.Lock()
		tlb.done = true
		tlb.mtx.Unlock()
	})
	return tlb
}
