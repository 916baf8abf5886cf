package transcription

import (
	"errors"
	"fmt"
)

var (
	ErrBudgetExceeded      = errors.New("transcription budget exceeded")
	ErrManualEntryRequired = errors.New("enter the order manually")
	ErrEmptyAudio          = errors.New("audio is empty")
	ErrEmptyTranscript     = errors.New("transcript has no items")
)

// ProviderError is a failed speech-to-text call. Calls are never retried.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s transcription failed with status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s transcription failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
