package predict

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotTrained = errors.New("predict: model not trained")
	ErrTrainingData    = errors.New("predict: training data unavailable")
)

// TrainingDataError reports a training file that is missing, unreadable or
// has no usable rows.
type TrainingDataError struct {
	Path   string
	Reason string
	Err    error
}

func (e *TrainingDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("training data %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("training data %s: %s", e.Path, e.Reason)
}

func (e *TrainingDataError) Unwrap() error { return e.Err }

func (e *TrainingDataError) Is(target error) bool { return target == ErrTrainingData }

// RowCountMismatchError means the model returned a different number of
// predictions than rows it was given.
type RowCountMismatchError struct {
	Rows        int
	Predictions int
}

func (e *RowCountMismatchError) Error() string {
	return fmt.Sprintf("predict: %d predictions for %d rows", e.Predictions, e.Rows)
}
