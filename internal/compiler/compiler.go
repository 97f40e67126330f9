// Package compiler turns a pipeline description into an in-memory artifact set.
package compiler

import (
	"context"
	"fmt"
	"strings"

	"go.trai.ch/zerr"

	"github.com/rathix/cashier-devkit/internal/pipeline"
)

// Compiler builds the artifacts described by a pipeline description.
type Compiler interface {
	Compile(ctx context.Context, desc pipeline.Description) (*ArtifactSet, error)
}

var (
	// ErrUnsupportedTransform is returned when a rule names a transform chain the compiler cannot run.
	ErrUnsupportedTransform = zerr.New("unsupported transform chain")
	// ErrUnsupportedPlugin is returned for unknown plugin kinds.
	ErrUnsupportedPlugin = zerr.New("unsupported plugin")
	// ErrInvalidOption is returned for plugin or loader options with unusable values.
	ErrInvalidOption = zerr.New("invalid option")
)

// Message is one diagnostic produced by a compile.
type Message struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Text   string `json:"text"`
	Plugin string `json:"plugin,omitempty"`
}

func (m Message) String() string {
	var b strings.Builder
	if m.File != "" {
		b.WriteString(m.File)
		if m.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", m.Line, m.Column)
		}
		b.WriteString(": ")
	}
	if m.Plugin != "" {
		fmt.Fprintf(&b, "[%s] ", m.Plugin)
	}
	b.WriteString(m.Text)
	return b.String()
}

// CompileError reports a compile that produced errors. No artifacts are emitted
// for a failed compile.
type CompileError struct {
	Errors   []Message
	Warnings []Message
}

func (e *CompileError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "compile failed"
	case 1:
		return "compile failed: " + e.Errors[0].String()
	default:
		return fmt.Sprintf("compile failed with %d errors: %s", len(e.Errors), e.Errors[0].String())
	}
}
