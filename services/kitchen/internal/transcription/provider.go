package transcription

import (
	"context"
	"strings"
)

// Transcript is the structured order a speech-to-text provider extracts
// from audio.
type Transcript struct {
	Text     string `json:"text,omitempty"`
	TableRef string `json:"table_ref,omitempty"`
	Items    []Item `json:"items"`
	// Cost is what the call was billed, in minor currency units. Zero means
	// the provider does not report it and the estimate is used.
	Cost int64 `json:"cost,omitempty"`
}

type Item struct {
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"`
}

// Provider is a billable speech-to-text backend.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte) (Transcript, error)
}

// BatchTranscriber is implemented by providers that accept several
// recordings in one call. Results are in input order.
type BatchTranscriber interface {
	Provider
	TranscribeBatch(ctx context.Context, audio [][]byte) ([]Transcript, error)
}

type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// ParsePriority defaults anything but "low" to high.
func ParsePriority(s string) Priority {
	if strings.EqualFold(strings.TrimSpace(s), string(PriorityLow)) {
		return PriorityLow
	}
	return PriorityHigh
}
