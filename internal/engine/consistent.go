package engine

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/problem"
)

// Consistent is a multithreaded engine where every read of x used for a
// gradient and every update of the shared state happens under one mutex.
// Loss evaluations run unlocked and may overlap.
type Consistent struct {
	opts Options

	// mu guards every field below.
	mu     sync.Mutex
	policy policy.Policy
	x, g   []float64
	k      int
	fval   float64
	done   bool
}

// NewConsistent returns a Consistent engine.
func NewConsistent(p policy.Policy, opts Options) *Consistent {
	return &Consistent{policy: p.WithDefaults(), opts: opts}
}

func (c *Consistent) Initialize(x0 []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x = cloneOf(x0)
	c.g = make([]float64, len(x0))
	c.k = 0
	c.fval = math.Inf(1)
	c.done = false
}

func (c *Consistent) Solve(ctx context.Context, loss problem.Loss, terminate Terminator, logger Logger) (Result, error) {
	c.mu.Lock()
	if c.x == nil {
		c.mu.Unlock()
		return Result{}, ErrNotInitialized
	}
	dim := len(c.x)
	c.done = false
	c.mu.Unlock()
	if loss.Dim() != dim {
		return Result{}, errDimension(dim, loss.Dim())
	}
	if logger == nil {
		logger = NopLogger
	}

	threads := c.opts.threads()
	klog.V(1).Infof("consistent engine: starting %d threads, dim=%d", threads, dim)
	var group errgroup.Group
	for id := 0; id < threads; id++ {
		group.Go(func() error {
			return c.run(ctx, id, loss, terminate, logger)
		})
	}
	err := group.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{X: cloneOf(c.x), FVal: c.fval, Iterations: c.k}, err
}

// run is the body of one pool thread.
func (c *Consistent) run(ctx context.Context, id int, loss problem.Loss, terminate Terminator, logger Logger) error {
	dim := loss.Dim()
	xLocal := make([]float64, dim)
	gLocal := make([]float64, dim)
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "consistent engine thread %d", id)
		}

		c.mu.Lock()
		if c.done || terminate(c.k, c.fval, c.x, c.g) {
			c.done = true
			c.mu.Unlock()
			return nil
		}
		copy(xLocal, c.x)
		c.mu.Unlock()

		fval := loss.Evaluate(xLocal, gLocal)

		c.mu.Lock()
		// The gradient may be stale relative to the terminate condition by now.
		if c.done || terminate(c.k, c.fval, c.x, c.g) {
			c.done = true
			c.mu.Unlock()
			return nil
		}
		copy(c.g, gLocal)
		c.fval = fval
		c.policy.Apply(id, c.k, c.k, c.fval, c.x, c.g)
		logger(c.k, c.fval, c.x, c.g)
		c.k++
		c.mu.Unlock()
	}
}
