package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel is returned for ids missing from the catalog.
	ErrUnknownModel = errors.New("models: unknown model")

	// ErrDownloadInProgress is returned when a download for the same model
	// is already running.
	ErrDownloadInProgress = errors.New("models: download already in progress")

	// ErrDownloadFailed is matched by every [*DownloadError].
	ErrDownloadFailed = errors.New("models: download failed")

	// ErrExtractionFailed is returned when a downloaded archive could not be
	// unpacked into a usable model folder.
	ErrExtractionFailed = errors.New("models: extraction failed")
)

// DownloadError reports a download that failed on every mirror tried.
type DownloadError struct {
	ModelID string

	// Reason is a short human-readable explanation.
	Reason string

	// Attempts is the number of mirrors tried.
	Attempts int

	// Err is the last underlying error.
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("models: download %s failed after %d attempt(s): %s", e.ModelID, e.Attempts, e.Reason)
}

// Unwrap lets errors.Is match both [ErrDownloadFailed] and the cause.
func (e *DownloadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDownloadFailed}
	}
	return []error{ErrDownloadFailed, e.Err}
}
