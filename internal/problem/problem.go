// Package problem defines the Loss consumed by the engines and workers and a
// least-squares reference problem used by the binaries and tests.
package problem

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/mat"
)

// Loss evaluates the objective at x and writes its gradient into g.
// len(g) == len(x) == Dim(). Implementations must be safe for concurrent
// calls with distinct x and g buffers.
type Loss interface {
	Dim() int
	Evaluate(x, g []float64) float64
}

// BatchLoss is a Loss that is a sum over components and can be evaluated on a
// subset of them (stochastic mini-batches).
type BatchLoss interface {
	Loss
	NumComponents() int
	EvaluateBatch(x, g []float64, batch []int) float64
}

// LossFunc adapts a plain function to Loss.
type LossFunc struct {
	N  int
	Fn func(x, g []float64) float64
}

func (f LossFunc) Dim() int { return f.N }

func (f LossFunc) Evaluate(x, g []float64) float64 { return f.Fn(x, g) }

// LeastSquares is f(x) = 1/(2m) ||Ax - b||^2 over the m rows of A.
type LeastSquares struct {
	A *mat.Dense
	B *mat.VecDense
}

// NewLeastSquares validates the shapes of a and b.
func NewLeastSquares(a *mat.Dense, b *mat.VecDense) *LeastSquares {
	rows, _ := a.Dims()
	if b.Len() != rows {
		exceptions.Panicf("least squares: A has %d rows but b has length %d", rows, b.Len())
	}
	return &LeastSquares{A: a, B: b}
}

// Synthetic builds a reproducible least-squares problem with a planted
// solution. The same seed always yields the same data, so separate worker
// processes agree on the problem without shipping it over the network.
func Synthetic(rows, cols int, seed uint64) *LeastSquares {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	a := mat.NewDense(rows, cols, data)
	planted := make([]float64, cols)
	for i := range planted {
		planted[i] = rng.NormFloat64()
	}
	b := mat.NewVecDense(rows, nil)
	b.MulVec(a, mat.NewVecDense(cols, planted))
	for i := 0; i < rows; i++ {
		b.SetVec(i, b.AtVec(i)+0.01*rng.NormFloat64())
	}
	return NewLeastSquares(a, b)
}

func (l *LeastSquares) Dim() int {
	_, cols := l.A.Dims()
	return cols
}

func (l *LeastSquares) NumComponents() int {
	rows, _ := l.A.Dims()
	return rows
}

// Evaluate computes the full-data value and gradient.
func (l *LeastSquares) Evaluate(x, g []float64) float64 {
	rows, cols := l.A.Dims()
	l.checkDims(x, g)
	r := mat.NewVecDense(rows, nil)
	r.MulVec(l.A, mat.NewVecDense(cols, x))
	r.SubVec(r, l.B)
	gv := mat.NewVecDense(cols, g)
	gv.MulVec(l.A.T(), r)
	gv.ScaleVec(1/float64(rows), gv)
	return 0.5 * mat.Dot(r, r) / float64(rows)
}

// EvaluateBatch computes value and gradient restricted to the given rows.
func (l *LeastSquares) EvaluateBatch(x, g []float64, batch []int) float64 {
	if len(batch) == 0 {
		return l.Evaluate(x, g)
	}
	_, cols := l.A.Dims()
	l.checkDims(x, g)
	for i := range g {
		g[i] = 0
	}
	xv := mat.NewVecDense(cols, x)
	gv := mat.NewVecDense(cols, g)
	var fval float64
	for _, row := range batch {
		ai := l.A.RowView(row)
		ri := mat.Dot(ai, xv) - l.B.AtVec(row)
		fval += 0.5 * ri * ri
		gv.AddScaledVec(gv, ri, ai)
	}
	scale := 1 / float64(len(batch))
	gv.ScaleVec(scale, gv)
	return fval * scale
}

func (l *LeastSquares) checkDims(x, g []float64) {
	if len(x) != l.Dim() || len(g) != l.Dim() {
		exceptions.Panicf("least squares: want x, g of length %d, got %d and %d", l.Dim(), len(x), len(g))
	}
}
