package engine

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/atomicf"
	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/problem"
)

// Inconsistent is a Hogwild-style engine. x and g are atomic arrays read
// without a lock, so a gradient may be computed against a view of x that
// mixes coordinates from different iterations. Policies keep per-coordinate
// state that is not safe for concurrent updates, so the policy sequence still
// runs inside a mutex and updates are totally ordered. The policy's result
// reaches x through per-coordinate compare-and-swap (atomicf.Array.Publish).
type Inconsistent struct {
	opts Options
	x, g *atomicf.Array

	// mu serializes the policy invocation and guards the fields below.
	mu      sync.Mutex
	policy  policy.Policy
	k       int
	fval    float64
	done    bool
	scratch []float64 // plain copy of x used by the policy
	prev    []float64 // x as read before the policy ran
	gPlain  []float64 // plain copy of g used by the policy
}

// NewInconsistent returns an Inconsistent engine.
func NewInconsistent(p policy.Policy, opts Options) *Inconsistent {
	return &Inconsistent{policy: p.WithDefaults(), opts: opts}
}

func (e *Inconsistent) Initialize(x0 []float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.x = atomicf.NewArray(x0)
	e.g = atomicf.NewArray(make([]float64, len(x0)))
	e.scratch = cloneOf(x0)
	e.prev = cloneOf(x0)
	e.gPlain = make([]float64, len(x0))
	e.k = 0
	e.fval = math.Inf(1)
	e.done = false
}

func (e *Inconsistent) Solve(ctx context.Context, loss problem.Loss, terminate Terminator, logger Logger) (Result, error) {
	e.mu.Lock()
	if e.x == nil {
		e.mu.Unlock()
		return Result{}, ErrNotInitialized
	}
	dim := e.x.Len()
	e.done = false
	e.mu.Unlock()
	if loss.Dim() != dim {
		return Result{}, errDimension(dim, loss.Dim())
	}
	if logger == nil {
		logger = NopLogger
	}

	threads := e.opts.threads()
	klog.V(1).Infof("inconsistent engine: starting %d threads, dim=%d", threads, dim)
	var group errgroup.Group
	for id := 0; id < threads; id++ {
		group.Go(func() error {
			return e.run(ctx, id, loss, terminate, logger)
		})
	}
	err := group.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	return Result{X: e.x.Snapshot(make([]float64, dim)), FVal: e.fval, Iterations: e.k}, err
}

// lockedTerminated evaluates the terminate predicate; e.mu must be held.
func (e *Inconsistent) lockedTerminated(terminate Terminator) bool {
	if e.done {
		return true
	}
	e.x.Snapshot(e.scratch)
	e.g.Snapshot(e.gPlain)
	e.done = terminate(e.k, e.fval, e.scratch, e.gPlain)
	return e.done
}

func (e *Inconsistent) run(ctx context.Context, id int, loss problem.Loss, terminate Terminator, logger Logger) error {
	dim := loss.Dim()
	xLocal := make([]float64, dim)
	gLocal := make([]float64, dim)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "inconsistent engine thread %d", id)
		}

		e.mu.Lock()
		stop := e.lockedTerminated(terminate)
		e.mu.Unlock()
		if stop {
			return nil
		}

		// Dirty read: no lock, element-wise atomic loads only.
		e.x.Snapshot(xLocal)
		fval := loss.Evaluate(xLocal, gLocal)

		e.mu.Lock()
		if e.lockedTerminated(terminate) {
			e.mu.Unlock()
			return nil
		}
		// lockedTerminated refreshed scratch from the shared x.
		copy(e.gPlain, gLocal)
		e.fval = fval
		copy(e.prev, e.scratch)
		e.policy.Apply(id, e.k, e.k, e.fval, e.scratch, e.gPlain)
		if n := e.x.Publish(e.prev, e.scratch); n > 0 {
			klog.V(2).Infof("inconsistent engine: k=%d merged %d concurrently written coordinates", e.k, n)
		}
		e.g.StoreFrom(e.gPlain)
		logger(e.k, e.fval, e.scratch, e.gPlain)
		e.k++
		e.mu.Unlock()
	}
}
