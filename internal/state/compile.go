package state

import (
	"time"

	"github.com/rathix/cashier-devkit/internal/compiler"
)

// Phase is the compile-watch lifecycle position.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseBuilding Phase = "building"
	PhaseBuilt    Phase = "built"
	PhaseFailed   Phase = "failed"
)

// CompileStatus is the observable outcome of the most recent compile.
// Hash always refers to the last successful build, even while failed.
type CompileStatus struct {
	Phase      Phase              `json:"phase"`
	Generation uint64             `json:"generation"`
	Hash       string             `json:"hash,omitempty"`
	Errors     []compiler.Message `json:"errors"`
	Warnings   []compiler.Message `json:"warnings"`
	Duration   time.Duration      `json:"durationNs"`
}

// Valid reports whether a good artifact set is available to serve.
func (s CompileStatus) Valid() bool {
	return s.Phase == PhaseBuilt
}

// CompileAction is an event emitted by the compile-watch loop.
type CompileAction interface {
	compileAction()
}

// CompileStarted marks the beginning of a compile.
type CompileStarted struct{}

// CompileSucceeded carries the outcome of a successful compile.
type CompileSucceeded struct {
	Hash     string
	Warnings []compiler.Message
	Duration time.Duration
}

// CompileFailed carries the diagnostics of a failed compile.
type CompileFailed struct {
	Errors   []compiler.Message
	Warnings []compiler.Message
	Duration time.Duration
}

func (CompileStarted) compileAction()   {}
func (CompileSucceeded) compileAction() {}
func (CompileFailed) compileAction()    {}

// ReduceCompile folds compile events into the status.
func ReduceCompile(s CompileStatus, action CompileAction) CompileStatus {
	switch a := action.(type) {
	case CompileStarted:
		s.Phase = PhaseBuilding
		s.Generation++
	case CompileSucceeded:
		s.Phase = PhaseBuilt
		s.Hash = a.Hash
		s.Errors = nil
		s.Warnings = a.Warnings
		s.Duration = a.Duration
	case CompileFailed:
		s.Phase = PhaseFailed
		s.Errors = a.Errors
		s.Warnings = a.Warnings
		s.Duration = a.Duration
	}
	return s
}

// CompileStore is the store type shared by the dev server components.
type CompileStore = Store[CompileStatus, CompileAction]

// NewCompileStore returns a store in the idle phase.
func NewCompileStore() *CompileStore {
	return NewStore(ReduceCompile, CompileStatus{Phase: PhaseIdle})
}
