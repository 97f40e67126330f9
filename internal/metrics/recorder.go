// Package metrics exposes dev server observability hooks.
package metrics

import (
	"net/http"
	"time"
)

// CompileOutcome labels a finished compile.
type CompileOutcome string

const (
	OutcomeSuccess  CompileOutcome = "success"
	OutcomeFailed   CompileOutcome = "failed"
	OutcomeCanceled CompileOutcome = "canceled"
)

// Recorder defines observability hooks for compiles, live clients and served
// requests. Implementations must be safe for concurrent use.
type Recorder interface {
	ObserveCompile(outcome CompileOutcome, d time.Duration)
	SetLiveClients(n int)
	InstrumentHandler(source string, next http.Handler) http.Handler
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveCompile(CompileOutcome, time.Duration) {}
func (NoopRecorder) SetLiveClients(int)                           {}

func (NoopRecorder) InstrumentHandler(_ string, next http.Handler) http.Handler { return next }
