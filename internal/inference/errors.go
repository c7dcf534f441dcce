package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a run that cannot start or continue because its
	// parameters are wrong. It is fatal for the whole batch.
	ErrConfiguration = errors.New("configuration error")

	// ErrDegenerate marks a sample that no candidate can explain at the
	// current resolution and error tolerance. It is fatal for that sample only.
	ErrDegenerate = errors.New("degenerate sample")

	// ErrInvalidSample marks a sample whose readings do not match the array.
	ErrInvalidSample = errors.New("invalid sample")
)

// DegenerateError reports the cycle at which every candidate's joint
// probability vanished.
type DegenerateError struct {
	Cycle    int
	SampleID string
}

func (e *DegenerateError) Error() string {
	return fmt.Sprintf("sample %q: joint probability is zero for every candidate at cycle %d", e.SampleID, e.Cycle)
}

func (e *DegenerateError) Unwrap() error { return ErrDegenerate }

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
