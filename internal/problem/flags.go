package problem

import (
	"flag"

	"github.com/pkg/errors"
)

// SyntheticConfig selects a Synthetic problem from the command line. Every
// process of a run must use the same values.
type SyntheticConfig struct {
	Rows, Cols int
	Seed       uint64
}

// RegisterFlags binds c to command line flags, using its values as defaults.
func (c *SyntheticConfig) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Rows, "rows", c.Rows, "rows (components) of the synthetic least-squares problem")
	fs.IntVar(&c.Cols, "cols", c.Cols, "columns (dimension) of the synthetic least-squares problem")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "seed of the synthetic least-squares problem")
}

// Build generates the problem.
func (c SyntheticConfig) Build() (*LeastSquares, error) {
	if c.Rows <= 0 || c.Cols <= 0 {
		return nil, errors.Errorf("synthetic problem needs positive rows and cols, got %dx%d", c.Rows, c.Cols)
	}
	return Synthetic(c.Rows, c.Cols, c.Seed), nil
}
