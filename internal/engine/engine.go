// Package engine drives the proximal-gradient update loop in a single process.
//
// Three engines share the same contract:
//
//   - Serial owns x and g exclusively and runs the reference loop.
//   - Consistent runs a pool of goroutines; each evaluates the loss on a
//     private snapshot of x and applies its gradient inside one mutex-guarded
//     critical section, so every iterate mutation is totally ordered.
//   - Inconsistent stores x and g in atomic arrays. Goroutines read x without
//     a lock (the view may mix coordinates from different iterations) but the
//     policy invocation is still serialized under a mutex.
//
// With a single worker, all three produce bit-identical trajectories.
//
// One iteration is:
//
//	fval, g = loss(x)
//	boost(g); smooth(k, x, g); step = step(k, fval, x, g); prox(step, x, g)
//	logger(k, fval, x, g); k++
//
// and the loop runs while terminate(k, fval, x, g) is false. Before the first
// iteration fval is +Inf and g is zero.
package engine

import (
	"context"
	"runtime"

	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/problem"
)

// Terminator decides whether the loop stops. It sees the state after k iterations.
type Terminator func(k int, fval float64, x, g []float64) bool

// Logger observes the state right after an update, before k is incremented.
type Logger func(k int, fval float64, x, g []float64)

// Engine is the common interface of the shared-memory engines.
type Engine interface {
	// Initialize copies x0 into the engine and resets the iteration counter.
	Initialize(x0 []float64)

	// Solve runs the loop until terminate returns true or ctx is done.
	Solve(ctx context.Context, loss problem.Loss, terminate Terminator, logger Logger) (Result, error)
}

// Result is the final state of a Solve call.
type Result struct {
	X          []float64
	FVal       float64
	Iterations int
}

// Options configure the multithreaded engines.
type Options struct {
	// Threads is the size of the pool. Zero means runtime.NumCPU().
	Threads int
}

func (o Options) threads() int {
	if o.Threads > 0 {
		return o.Threads
	}
	return runtime.NumCPU()
}

// New returns the engine named by kind ("serial", "consistent" or "inconsistent").
func New(kind string, p policy.Policy, opts Options) (Engine, error) {
	switch kind {
	case "serial":
		return NewSerial(p), nil
	case "consistent":
		return NewConsistent(p, opts), nil
	case "inconsistent":
		return NewInconsistent(p, opts), nil
	}
	return nil, errUnknownEngine(kind)
}

// NopLogger discards every iteration.
func NopLogger(int, float64, []float64, []float64) {}

func cloneOf(v []float64) []float64 {
	return append([]float64(nil), v...)
}
