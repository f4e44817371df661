package engine

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/problem"
)

// Serial is the single-threaded reference engine.
type Serial struct {
	policy policy.Policy
	x, g   []float64
	k      int
	fval   float64
}

// NewSerial returns a Serial engine applying p on every iteration.
func NewSerial(p policy.Policy) *Serial {
	return &Serial{policy: p.WithDefaults()}
}

func (s *Serial) Initialize(x0 []float64) {
	s.x = cloneOf(x0)
	s.g = make([]float64, len(x0))
	s.k = 0
	s.fval = math.Inf(1)
}

func (s *Serial) Solve(ctx context.Context, loss problem.Loss, terminate Terminator, logger Logger) (Result, error) {
	if s.x == nil {
		return Result{}, ErrNotInitialized
	}
	if loss.Dim() != len(s.x) {
		return Result{}, errDimension(len(s.x), loss.Dim())
	}
	if logger == nil {
		logger = NopLogger
	}
	for !terminate(s.k, s.fval, s.x, s.g) {
		if err := ctx.Err(); err != nil {
			return s.result(), errors.Wrapf(err, "serial engine stopped at iteration %d", s.k)
		}
		s.fval = loss.Evaluate(s.x, s.g)
		s.policy.Apply(0, s.k, s.k, s.fval, s.x, s.g)
		logger(s.k, s.fval, s.x, s.g)
		s.k++
	}
	return s.result(), nil
}

func (s *Serial) result() Result {
	return Result{X: cloneOf(s.x), FVal: s.fval, Iterations: s.k}
}
