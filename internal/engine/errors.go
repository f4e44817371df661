package engine

import (
	"github.com/pkg/errors"
)

// ErrNotInitialized is returned by Solve when Initialize was never called.
var ErrNotInitialized = errors.New("engine: Solve called before Initialize")

func errUnknownEngine(kind string) error {
	return errors.Errorf("engine: unknown engine %q, valid values are serial, consistent and inconsistent", kind)
}

func errDimension(engineDim, lossDim int) error {
	return errors.Errorf("engine: iterate has dimension %d but loss expects %d", engineDim, lossDim)
}
