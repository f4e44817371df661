// Package policy defines the per-iteration numerical capabilities that the
// engines invoke: boosting (momentum-like transforms of the gradient),
// smoothing (per-coordinate scaling), step-size selection and the proximal
// operator. Each capability is its own interface so that a Policy can be
// assembled from independent pieces.
//
// All methods operate on contiguous ranges: in the shared-memory engines the
// ranges are the full iterate, in the parameter server they are a master's
// shard. Implementations may keep per-coordinate state; such state is sized
// lazily to the length of the first range it sees and is not safe for
// concurrent use. Engines serialize every call.
package policy

import (
	"github.com/gomlx/exceptions"
)

// Booster transforms the gradient in place, e.g. by adding momentum.
type Booster interface {
	Boost(workerID, kLocal, kGlobal int, g []float64)
}

// Smoother rescales the gradient in place using the current iterate.
type Smoother interface {
	Smooth(kLocal, kGlobal int, x, g []float64)
}

// Stepper returns the step size for the current iteration.
type Stepper interface {
	Step(kLocal, kGlobal int, fval float64, x, g []float64) float64
}

// Proxer updates x in place given a step size and the (boosted, smoothed) gradient.
type Proxer interface {
	Prox(step float64, x, g []float64)
}

// Policy bundles the four capabilities applied on every iteration.
// Nil members default to NoBoost, NoSmooth, ConstantStep{Gamma: 1} and NoProx.
type Policy struct {
	Booster  Booster
	Smoother Smoother
	Stepper  Stepper
	Proxer   Proxer
}

// WithDefaults returns a copy of p where nil members are replaced by defaults.
func (p Policy) WithDefaults() Policy {
	if p.Booster == nil {
		p.Booster = NoBoost{}
	}
	if p.Smoother == nil {
		p.Smoother = NoSmooth{}
	}
	if p.Stepper == nil {
		p.Stepper = ConstantStep{Gamma: 1}
	}
	if p.Proxer == nil {
		p.Proxer = NoProx{}
	}
	return p
}

// Apply runs boost, smooth, step and prox in that order, mutating g and x.
// It returns the step size used. x and g must have the same length.
func (p Policy) Apply(workerID, kLocal, kGlobal int, fval float64, x, g []float64) float64 {
	if len(x) != len(g) {
		exceptions.Panicf("policy.Apply: len(x)=%d != len(g)=%d", len(x), len(g))
	}
	p.Booster.Boost(workerID, kLocal, kGlobal, g)
	p.Smoother.Smooth(kLocal, kGlobal, x, g)
	step := p.Stepper.Step(kLocal, kGlobal, fval, x, g)
	p.Proxer.Prox(step, x, g)
	return step
}

// resize returns buf with length n, reallocating (zeroed) when the length differs.
func resize(buf []float64, n int) []float64 {
	if len(buf) == n {
		return buf
	}
	return make([]float64, n)
}
