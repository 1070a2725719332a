package navigator

import (
	"errors"
	"fmt"

	"flowfarm/pkg/types"
)

var (
	// ErrUnsupported marks an item this pipeline does not handle.
	ErrUnsupported = errors.New("item not supported")
	// ErrTargetNotFound means the target account never appeared in the list.
	ErrTargetNotFound = errors.New("target not found")
	// ErrControlAbsent means an expected control was not on screen.
	ErrControlAbsent = errors.New("expected control absent")
)

// AmbiguousStateError reports a step whose action could not be verified.
type AmbiguousStateError struct {
	Step     string
	Expected string
	Observed string
	Attempts int
}

func (e *AmbiguousStateError) Error() string {
	return fmt.Sprintf("%s: expected %s, observed %s after %d checks", e.Step, e.Expected, e.Observed, e.Attempts)
}

// Classify maps a step error to the item outcome it implies.
func Classify(err error) types.ItemStatus {
	if err == nil {
		return types.ItemSuccess
	}
	switch {
	case errors.Is(err, ErrUnsupported):
		return types.ItemSkipped
	case errors.Is(err, ErrTargetNotFound), errors.Is(err, ErrControlAbsent):
		return types.ItemFailed
	}
	// verification, parse, transport and anything unclassified
	return types.ItemError
}
