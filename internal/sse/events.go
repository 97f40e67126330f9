package sse

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rathix/cashier-devkit/internal/compiler"
	"github.com/rathix/cashier-devkit/internal/state"
)

// Event names written to the live-update stream.
const (
	EventSync     = "sync"
	EventBuilding = "building"
	EventBuilt    = "built"
)

// StatusPayload is the JSON payload for "sync" and "built" events.
type StatusPayload struct {
	Phase      state.Phase        `json:"phase"`
	Generation uint64             `json:"generation"`
	Hash       string             `json:"hash,omitempty"`
	Errors     []compiler.Message `json:"errors"`
	Warnings   []compiler.Message `json:"warnings"`
	DurationMs int64              `json:"durationMs"`
}

// BuildingPayload is the JSON payload for "building" events.
type BuildingPayload struct {
	Generation uint64 `json:"generation"`
}

func statusPayload(s state.CompileStatus) StatusPayload {
	p := StatusPayload{
		Phase:      s.Phase,
		Generation: s.Generation,
		Hash:       s.Hash,
		Errors:     s.Errors,
		Warnings:   s.Warnings,
		DurationMs: s.Duration.Milliseconds(),
	}
	if p.Errors == nil {
		p.Errors = []compiler.Message{}
	}
	if p.Warnings == nil {
		p.Warnings = []compiler.Message{}
	}
	return p
}

// eventForStatus picks the stream event announcing a status change. Idle
// statuses produce nothing.
func eventForStatus(s state.CompileStatus) ([]byte, bool, error) {
	switch s.Phase {
	case state.PhaseBuilding:
		data, err := formatSSEEvent(EventBuilding, BuildingPayload{Generation: s.Generation})
		return data, true, err
	case state.PhaseBuilt, state.PhaseFailed:
		data, err := formatSSEEvent(EventBuilt, statusPayload(s))
		return data, true, err
	default:
		return nil, false, nil
	}
}

// formatSSEEvent formats an SSE event with the given type and JSON-encoded data.
func formatSSEEvent(eventType string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal SSE event data: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", eventType, jsonData)
	return buf.Bytes(), nil
}

// formatKeepalive returns a SSE keepalive comment.
func formatKeepalive() []byte {
	return []byte(":keepalive\n\n")
}
