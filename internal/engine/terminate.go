package engine

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// Terminators must be pure functions of their arguments: the multithreaded
// engines evaluate them more than once per iteration.

// MaxIterations stops after n iterations.
func MaxIterations(n int) Terminator {
	return func(k int, _ float64, _, _ []float64) bool {
		return k >= n
	}
}

// ValueTolerance stops once the objective drops to tol or below.
func ValueTolerance(tol float64) Terminator {
	return func(_ int, fval float64, _, _ []float64) bool {
		return fval <= tol
	}
}

// GradientNormTolerance stops once ||g||_2 <= tol. It never fires before the
// first iteration, where g is still zero.
func GradientNormTolerance(tol float64) Terminator {
	return func(k int, _ float64, _, g []float64) bool {
		return k > 0 && floats.Norm(g, 2) <= tol
	}
}

// Any stops as soon as one of ts does.
func Any(ts ...Terminator) Terminator {
	return func(k int, fval float64, x, g []float64) bool {
		for _, t := range ts {
			if t(k, fval, x, g) {
				return true
			}
		}
		return false
	}
}

// ValueLogger logs the objective every `every` iterations at verbosity 1.
func ValueLogger(every int) Logger {
	if every <= 0 {
		every = 1
	}
	return func(k int, fval float64, x, g []float64) {
		if k%every != 0 {
			return
		}
		klog.V(1).Infof("k=%d f=%.6g |g|=%.4g |x|=%.4g", k, fval, floats.Norm(g, 2), floats.Norm(x, 2))
	}
}

// finite reports whether v is neither NaN nor infinite.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Diverged stops when the objective is no longer finite after the first iteration.
func Diverged() Terminator {
	return func(k int, fval float64, _, _ []float64) bool {
		return k > 0 && !finite(fval)
	}
}
