package devserver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.trai.ch/zerr"

	"github.com/rathix/cashier-devkit/internal/compiler"
	"github.com/rathix/cashier-devkit/internal/metrics"
	"github.com/rathix/cashier-devkit/internal/pipeline"
	"github.com/rathix/cashier-devkit/internal/state"
)

// ErrSessionClosed is returned by WaitValid once the session has been closed.
var ErrSessionClosed = zerr.New("compile session closed")

// Session is the compile-watch loop. It serializes compiles, coalesces change
// notifications that arrive mid-compile into a single follow-up, and keeps the
// last good artifact set for serving.
type Session struct {
	compiler compiler.Compiler
	store    *state.CompileStore
	recorder metrics.Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	desc    pipeline.Description
	current *compiler.ArtifactSet
	cancel  context.CancelFunc

	trigger   chan struct{}
	settled   chan struct{}
	stopped   chan struct{}
	loopDone  chan struct{}
	settle    sync.Once
	closeOnce sync.Once
}

// NewSession creates an idle session. Nothing compiles until Start.
func NewSession(c compiler.Compiler, desc pipeline.Description, store *state.CompileStore, recorder metrics.Recorder, logger *slog.Logger) *Session {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Session{
		compiler: c,
		store:    store,
		recorder: recorder,
		logger:   logger,
		desc:     desc,
		trigger:  make(chan struct{}, 1),
		settled:  make(chan struct{}),
		stopped:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start launches the loop and schedules the initial compile. Calling Start on a
// running or closed session does nothing.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.isStopped() {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(loopCtx)
	s.Invalidate()
}

// Invalidate schedules a compile. At most one compile is pending at a time, so
// bursts of changes during a compile produce exactly one follow-up.
func (s *Session) Invalidate() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Reconfigure swaps the description used for subsequent compiles and schedules one.
func (s *Session) Reconfigure(desc pipeline.Description) {
	s.mu.Lock()
	s.desc = desc
	s.mu.Unlock()
	s.Invalidate()
}

// Description returns the description the next compile will use.
func (s *Session) Description() pipeline.Description {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// Current returns the last good artifact set, or nil if no compile has succeeded.
func (s *Session) Current() *compiler.ArtifactSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// WaitValid blocks until the first compile has settled, successfully or not,
// and returns the last good artifact set.
func (s *Session) WaitValid(ctx context.Context) (*compiler.ArtifactSet, error) {
	select {
	case <-s.settled:
		return s.Current(), nil
	default:
	}
	select {
	case <-s.settled:
		return s.Current(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopped:
		return nil, ErrSessionClosed
	}
}

// Close stops the loop and waits for an in-flight compile to return. It is
// safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopped)
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-s.loopDone
		}
	})
	return nil
}

func (s *Session) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			s.compile(ctx)
		}
	}
}

func (s *Session) compile(ctx context.Context) {
	desc := s.Description()

	s.store.Dispatch(state.CompileStarted{})
	generation := s.store.GetState().Generation
	s.logger.Debug("compiling", "generation", generation, "entry", desc.Entry.Name)

	start := time.Now()
	set, err := s.compiler.Compile(ctx, desc)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		s.recorder.ObserveCompile(metrics.OutcomeCanceled, elapsed)
		s.logger.Debug("compile abandoned", "generation", generation)
		return
	}

	if err != nil {
		var compileErr *compiler.CompileError
		if !errors.As(err, &compileErr) {
			compileErr = &compiler.CompileError{Errors: []compiler.Message{{Text: err.Error()}}}
		}
		s.store.Dispatch(state.CompileFailed{
			Errors:   compileErr.Errors,
			Warnings: compileErr.Warnings,
			Duration: elapsed,
		})
		s.recorder.ObserveCompile(metrics.OutcomeFailed, elapsed)
		for _, m := range compileErr.Errors {
			s.logger.Error("compile error", "message", m.String())
		}
		s.logger.Warn("compile failed, serving last good build",
			"generation", generation,
			"errors", len(compileErr.Errors),
			"duration", elapsed,
		)
		s.settle.Do(func() { close(s.settled) })
		return
	}

	s.mu.Lock()
	s.current = set
	s.mu.Unlock()

	s.store.Dispatch(state.CompileSucceeded{
		Hash:     set.Hash,
		Warnings: set.Warnings,
		Duration: elapsed,
	})
	s.recorder.ObserveCompile(metrics.OutcomeSuccess, elapsed)
	for _, m := range set.Warnings {
		s.logger.Warn("compile warning", "message", m.String())
	}
	s.logger.Info("compiled",
		"generation", generation,
		"hash", set.Hash,
		"files", set.Len(),
		"duration", elapsed,
	)
	s.settle.Do(func() { close(s.settled) })
}
