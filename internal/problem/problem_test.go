package problem

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLeastSquaresEvaluate(t *testing.T) {
	// A = I (2x2), b = [1, 2]
	a := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	b := mat.NewVecDense(2, []float64{1, 2})
	l := NewLeastSquares(a, b)

	x := []float64{0, 0}
	g := make([]float64, 2)
	f := l.Evaluate(x, g)
	assert.InDelta(t, 0.5*(1+4)/2, f, 1e-12)
	assert.InDeltaSlice(t, []float64{-0.5, -1}, g, 1e-12)
}

func TestLeastSquaresBatchMatchesFullOnAllRows(t *testing.T) {
	l := Synthetic(6, 3, 7)
	x := []float64{0.1, -0.2, 0.3}
	full := make([]float64, 3)
	batch := make([]float64, 3)
	f1 := l.Evaluate(x, full)
	f2 := l.EvaluateBatch(x, batch, []int{0, 1, 2, 3, 4, 5})
	assert.InDelta(t, f1, f2, 1e-12)
	assert.InDeltaSlice(t, full, batch, 1e-12)
}

func TestSyntheticIsReproducible(t *testing.T) {
	a, b := Synthetic(4, 2, 42), Synthetic(4, 2, 42)
	require.True(t, mat.Equal(a.A, b.A))
	require.True(t, mat.Equal(a.B, b.B))
	assert.Equal(t, 2, a.Dim())
	assert.Equal(t, 4, a.NumComponents())
}

func TestLeastSquaresDimMismatchPanics(t *testing.T) {
	l := Synthetic(3, 2, 1)
	assert.Panics(t, func() { l.Evaluate(make([]float64, 3), make([]float64, 3)) })
}

func TestSyntheticConfig(t *testing.T) {
	cfg := SyntheticConfig{Rows: 10, Cols: 3, Seed: 1}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-rows=20", "-seed=9"}))
	assert.Equal(t, SyntheticConfig{Rows: 20, Cols: 3, Seed: 9}, cfg)

	l, err := cfg.Build()
	require.NoError(t, err)
	assert.Equal(t, 3, l.Dim())
	assert.Equal(t, 20, l.NumComponents())
	assert.Equal(t, Synthetic(20, 3, 9).B.RawVector().Data, l.B.RawVector().Data)

	_, err = SyntheticConfig{Rows: 0, Cols: 3}.Build()
	assert.Error(t, err)
}
