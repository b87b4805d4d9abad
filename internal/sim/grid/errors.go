package grid

import (
	"fmt"

	"emberguide.ai/internal/sim/simerr"
)

// GridMismatchError reports layers that cannot be aligned cell for cell, a
// missing required layer, or an unusable no-data mask. It unwraps to
// simerr.ErrInputValidation.
type GridMismatchError struct {
	Layer  string
	Reason string
}

func (e *GridMismatchError) Error() string {
	if e.Layer == "" {
		return fmt.Sprintf("grid mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("grid mismatch: layer %s: %s", e.Layer, e.Reason)
}

func (e *GridMismatchError) Unwrap() error { return simerr.ErrInputValidation }

func mismatch(layer, format string, args ...any) error {
	return &GridMismatchError{Layer: layer, Reason: fmt.Sprintf(format, args...)}
}
