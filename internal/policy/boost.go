package policy

import (
	"gonum.org/v1/gonum/floats"
)

// NoBoost leaves the gradient untouched.
type NoBoost struct{}

func (NoBoost) Boost(int, int, int, []float64) {}

// Momentum is heavy-ball momentum: v = Beta*v + g; g = v.
type Momentum struct {
	Beta     float64
	velocity []float64
}

func (m *Momentum) Boost(_, _, _ int, g []float64) {
	m.velocity = resize(m.velocity, len(g))
	floats.Scale(m.Beta, m.velocity)
	floats.Add(m.velocity, g)
	copy(g, m.velocity)
}

// Nesterov applies the look-ahead form of momentum: v = Beta*v + g; g = g + Beta*v.
type Nesterov struct {
	Beta     float64
	velocity []float64
}

func (n *Nesterov) Boost(_, _, _ int, g []float64) {
	n.velocity = resize(n.velocity, len(g))
	floats.Scale(n.Beta, n.velocity)
	floats.Add(n.velocity, g)
	floats.AddScaled(g, n.Beta, n.velocity)
}
