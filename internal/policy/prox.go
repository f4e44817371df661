package policy

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// NoProx takes a plain gradient step: x = x - step*g.
type NoProx struct{}

func (NoProx) Prox(step float64, x, g []float64) {
	floats.AddScaled(x, -step, g)
}

// L1 is the proximal operator of Lambda*||x||_1 (soft thresholding).
type L1 struct {
	Lambda float64
}

func (l L1) Prox(step float64, x, g []float64) {
	floats.AddScaled(x, -step, g)
	t := step * l.Lambda
	for i, xi := range x {
		switch {
		case xi > t:
			x[i] = xi - t
		case xi < -t:
			x[i] = xi + t
		default:
			x[i] = 0
		}
	}
}

// Box projects the gradient step onto [Lo, Hi] coordinate-wise.
type Box struct {
	Lo, Hi float64
}

func (b Box) Prox(step float64, x, g []float64) {
	floats.AddScaled(x, -step, g)
	for i, xi := range x {
		x[i] = math.Min(b.Hi, math.Max(b.Lo, xi))
	}
}
