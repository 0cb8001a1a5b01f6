package engine

import (
	"errors"
	"fmt"
)

// RunErrorCode categorises fatal engine errors. Per-feature problems are
// never errors at this level - they become recorded warnings on the step
// report instead.
type RunErrorCode string

const (
	// ErrCodeEmptyAOI indicates the area of interest has zero or negative
	// area. Fatal at engine construction.
	ErrCodeEmptyAOI RunErrorCode = "EMPTY_AREA_OF_INTEREST"

	// ErrCodeLayerUnavailable indicates the layer loader cannot supply a
	// requested layer. Fatal for the run; diagnostics accumulated up to
	// that point are still surfaced.
	ErrCodeLayerUnavailable RunErrorCode = "LAYER_UNAVAILABLE"

	// ErrCodeFinalized indicates a mutation was attempted after the
	// engine reached its terminal state.
	ErrCodeFinalized RunErrorCode = "FINALIZED"

	// ErrCodeNoMatchAbort indicates an unmapped attribute value was hit
	// while the engine was configured to abort on no-match.
	ErrCodeNoMatchAbort RunErrorCode = "NO_MATCH_ABORT"

	// ErrCodeReplayCorrupt indicates a persisted commit log failed
	// integrity checks during replay.
	ErrCodeReplayCorrupt RunErrorCode = "REPLAY_CORRUPT"
)

// RunError is a fatal engine error with structured diagnostic fields.
type RunError struct {
	Code    RunErrorCode
	Message string
	StepID  int
	Layer   string
	Err     error
}

func (e *RunError) Error() string {
	if e.Layer != "" {
		return fmt.Sprintf("%s: %s (step=%d, layer=%s)", e.Code, e.Message, e.StepID, e.Layer)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// NewEmptyAOIError creates a RunError for a degenerate area of interest.
func NewEmptyAOIError(area float64) *RunError {
	return &RunError{
		Code:    ErrCodeEmptyAOI,
		Message: fmt.Sprintf("area of interest has no area (%g)", area),
	}
}

// NewLayerUnavailableError creates a RunError for a missing source layer.
func NewLayerUnavailableError(stepID int, layer string, cause error) *RunError {
	return &RunError{
		Code:    ErrCodeLayerUnavailable,
		Message: "layer loader cannot supply layer",
		StepID:  stepID,
		Layer:   layer,
		Err:     cause,
	}
}

// NewFinalizedError creates a RunError for mutation after finalization.
func NewFinalizedError() *RunError {
	return &RunError{
		Code:    ErrCodeFinalized,
		Message: "engine is finalized and accepts no further commits",
	}
}

// NewNoMatchAbortError creates a RunError for the abort-on-no-match policy.
func NewNoMatchAbortError(stepID int, cause error) *RunError {
	return &RunError{
		Code:    ErrCodeNoMatchAbort,
		Message: "unmapped attribute value with abort policy",
		StepID:  stepID,
		Err:     cause,
	}
}

// IsCode reports whether err is a RunError with the given code,
// unwrapping as needed.
func IsCode(err error, code RunErrorCode) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}
