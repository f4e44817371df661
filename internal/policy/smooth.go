package policy

import (
	"math"
)

// NoSmooth leaves the gradient untouched.
type NoSmooth struct{}

func (NoSmooth) Smooth(int, int, []float64, []float64) {}

// Adagrad divides each coordinate by the root of its accumulated squared gradients.
type Adagrad struct {
	Epsilon float64
	sum     []float64
}

func (a *Adagrad) Smooth(_, _ int, _, g []float64) {
	a.sum = resize(a.sum, len(g))
	for i, gi := range g {
		a.sum[i] += gi * gi
		g[i] = gi / (math.Sqrt(a.sum[i]) + a.Epsilon)
	}
}

// RMSProp divides each coordinate by the root of an exponential moving
// average of squared gradients.
type RMSProp struct {
	Decay   float64
	Epsilon float64
	avg     []float64
}

func (r *RMSProp) Smooth(_, _ int, _, g []float64) {
	r.avg = resize(r.avg, len(g))
	for i, gi := range g {
		r.avg[i] = r.Decay*r.avg[i] + (1-r.Decay)*gi*gi
		g[i] = gi / (math.Sqrt(r.avg[i]) + r.Epsilon)
	}
}
