package engine

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/proxima/internal/policy"
	"github.com/dreamware/proxima/internal/problem"
)

// newPolicy returns a fresh stateful policy; every engine under comparison
// needs its own instance.
func newPolicy() policy.Policy {
	return policy.Policy{
		Booster:  &policy.Momentum{Beta: 0.3},
		Smoother: &policy.Adagrad{Epsilon: 1e-8},
		Stepper:  policy.DecreasingStep{Gamma: 0.2, Decay: 0.1},
		Proxer:   policy.L1{Lambda: 0.01},
	}
}

type trajectory struct {
	mu sync.Mutex
	xs [][]float64
	fs []float64
}

func (tr *trajectory) logger(_ int, fval float64, x, _ []float64) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.xs = append(tr.xs, cloneOf(x))
	tr.fs = append(tr.fs, fval)
}

func runEngine(t *testing.T, e Engine, loss problem.Loss, iters int) (*trajectory, Result) {
	t.Helper()
	tr := &trajectory{}
	e.Initialize(make([]float64, loss.Dim()))
	res, err := e.Solve(context.Background(), loss, MaxIterations(iters), tr.logger)
	require.NoError(t, err)
	return tr, res
}

func TestSerialReducesObjective(t *testing.T) {
	loss := problem.Synthetic(40, 8, 3)
	tr, res := runEngine(t, NewSerial(policy.Policy{Stepper: policy.ConstantStep{Gamma: 0.1}}), loss, 200)
	require.Len(t, tr.fs, 200)
	assert.Equal(t, 200, res.Iterations)
	assert.Less(t, tr.fs[len(tr.fs)-1], tr.fs[0])
}

// TestSingleThreadEquivalence checks that with one thread the multithreaded
// engines follow the serial trajectory bit for bit.
func TestSingleThreadEquivalence(t *testing.T) {
	loss := problem.Synthetic(30, 6, 11)
	const iters = 50

	serial, serialRes := runEngine(t, NewSerial(newPolicy()), loss, iters)
	engines := map[string]Engine{
		"consistent":   NewConsistent(newPolicy(), Options{Threads: 1}),
		"inconsistent": NewInconsistent(newPolicy(), Options{Threads: 1}),
	}
	for name, e := range engines {
		t.Run(name, func(t *testing.T) {
			tr, res := runEngine(t, e, loss, iters)
			require.Len(t, tr.xs, iters)
			for k := range serial.xs {
				assert.Equal(t, serial.xs[k], tr.xs[k], "iterate %d", k)
				assert.Equal(t, serial.fs[k], tr.fs[k], "value %d", k)
			}
			assert.Equal(t, serialRes.X, res.X)
			assert.Equal(t, serialRes.Iterations, res.Iterations)
		})
	}
}

// TestMultithreadedStopsExactly checks that the termination re-check prevents
// any update past the limit, whatever the number of threads.
func TestMultithreadedStopsExactly(t *testing.T) {
	loss := problem.Synthetic(50, 10, 5)
	for _, kind := range []string{"consistent", "inconsistent"} {
		t.Run(kind, func(t *testing.T) {
			e, err := New(kind, policy.Policy{Stepper: policy.ConstantStep{Gamma: 0.05}}, Options{Threads: 8})
			require.NoError(t, err)
			var mu sync.Mutex
			var ks []int
			logger := func(k int, _ float64, _, _ []float64) {
				mu.Lock()
				ks = append(ks, k)
				mu.Unlock()
			}
			e.Initialize(make([]float64, loss.Dim()))
			res, err := e.Solve(context.Background(), loss, MaxIterations(100), logger)
			require.NoError(t, err)
			assert.Equal(t, 100, res.Iterations)
			require.Len(t, ks, 100)
			for i, k := range ks {
				assert.Equal(t, i, k, "updates must be totally ordered")
			}
		})
	}
}

func TestSolveBeforeInitialize(t *testing.T) {
	loss := problem.Synthetic(3, 2, 1)
	for _, kind := range []string{"serial", "consistent", "inconsistent"} {
		e, err := New(kind, policy.Policy{}, Options{Threads: 2})
		require.NoError(t, err)
		_, err = e.Solve(context.Background(), loss, MaxIterations(1), nil)
		assert.ErrorIs(t, err, ErrNotInitialized, kind)
	}
}

func TestDimensionMismatch(t *testing.T) {
	e := NewSerial(policy.Policy{})
	e.Initialize(make([]float64, 5))
	_, err := e.Solve(context.Background(), problem.Synthetic(3, 2, 1), MaxIterations(1), nil)
	assert.Error(t, err)
}

func TestUnknownEngine(t *testing.T) {
	_, err := New("hogwild", policy.Policy{}, Options{})
	assert.Error(t, err)
}

func TestSolveHonorsContext(t *testing.T) {
	loss := problem.Synthetic(20, 4, 2)
	e := NewConsistent(policy.Policy{Stepper: policy.ConstantStep{Gamma: 0.01}}, Options{Threads: 4})
	e.Initialize(make([]float64, loss.Dim()))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	never := func(int, float64, []float64, []float64) bool { return false }
	res, err := e.Solve(ctx, loss, never, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, res.Iterations, 0)
}

func TestTerminators(t *testing.T) {
	assert.True(t, MaxIterations(3)(3, 0, nil, nil))
	assert.False(t, MaxIterations(3)(2, 0, nil, nil))
	assert.True(t, ValueTolerance(0.1)(0, 0.05, nil, nil))
	assert.False(t, GradientNormTolerance(1)(0, 0, nil, []float64{0}))
	assert.True(t, GradientNormTolerance(1)(1, 0, nil, []float64{0.5}))
	assert.True(t, Any(MaxIterations(10), ValueTolerance(1))(0, 0.5, nil, nil))
	assert.False(t, Diverged()(0, math.Inf(1), nil, nil))
	assert.True(t, Diverged()(1, math.NaN(), nil, nil))
}
