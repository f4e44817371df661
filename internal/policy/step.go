package policy

import "math"

// ConstantStep always returns Gamma.
type ConstantStep struct {
	Gamma float64
}

func (c ConstantStep) Step(int, int, float64, []float64, []float64) float64 {
	return c.Gamma
}

// DecreasingStep returns Gamma / (1 + Decay*k)^0.5 where k is the global iteration.
type DecreasingStep struct {
	Gamma float64
	Decay float64
}

func (d DecreasingStep) Step(_, kGlobal int, _ float64, _, _ []float64) float64 {
	return d.Gamma / math.Sqrt(1+d.Decay*float64(kGlobal))
}
