package bayes

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotTrained is returned when scoring is attempted with no training documents.
	ErrModelNotTrained = errors.New("model not trained")
	// ErrInputShape is returned when paired inputs have different lengths.
	ErrInputShape = errors.New("input shape mismatch")
	// ErrPersistence wraps every failure to save or load model state.
	ErrPersistence = errors.New("model persistence failed")
	// ErrNoPredictions is returned when accuracy is requested over zero predictions.
	ErrNoPredictions = errors.New("no predictions to evaluate")
)

// MalformedRowError describes a training row dropped for data-quality reasons.
// It is recoverable: the row is excluded and training continues.
type MalformedRowError struct {
	Row    int    `json:"row"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (e MalformedRowError) Error() string {
	return fmt.Sprintf("row %d: %s (value %q)", e.Row, e.Reason, e.Value)
}
