package encoder

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sample = []float64{-5, 1, 12, -7, 0, 0, -100, 500, 6, -30}

func allEncoders() []Encoder {
	return []Encoder{
		DenseEncoder{},
		TopK{K: 3},
		RandomK{K: 4, Rand: rand.New(rand.NewPCG(1, 2))},
		TernaryEncoder{Rand: rand.New(rand.NewPCG(3, 4))},
		TernaryEncoder{},
		HalfEncoder{},
	}
}

func TestTopKSelectsLargestMagnitudes(t *testing.T) {
	e := TopK{K: 3}.Encode(sample, 0)
	s, ok := e.(*Sparse)
	require.True(t, ok)
	assert.Equal(t, []int{6, 7, 9}, s.Indices)
	assert.Equal(t, []float64{-100, 500, -30}, s.Values)

	out := make([]float64, len(sample))
	e.Decode(out, 0)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, -100, 500, 0, -30}, out)
}

func TestTopKLargerThanInput(t *testing.T) {
	e := TopK{K: 50}.Encode([]float64{1, -2}, 7)
	assert.Equal(t, 2, e.Selected())
	assert.Equal(t, []float64{1, -2}, DecodeDense(e))
}

// TestRoundTrip decodes every encoder's output into a zeroed buffer and
// checks that selected coordinates carry their encoded value and every
// other coordinate stays zero.
func TestRoundTrip(t *testing.T) {
	for _, enc := range allEncoders() {
		t.Run(enc.Name(), func(t *testing.T) {
			e := enc.Encode(sample, 0)
			lo, hi := e.Range()
			require.Equal(t, 0, lo)
			require.Equal(t, len(sample), hi)

			out := DecodeDense(e)
			switch p := e.(type) {
			case *Dense:
				assert.Equal(t, sample, out)
			case *Half:
				for i := range sample {
					assert.InDelta(t, sample[i], out[i], math.Abs(sample[i])*1e-3)
				}
			case *Sparse:
				selected := map[int]bool{}
				for _, i := range p.Indices {
					selected[i] = true
				}
				for i := range sample {
					if selected[i] {
						assert.Equal(t, sample[i], out[i])
					} else {
						assert.Zero(t, out[i])
					}
				}
			case *Ternary:
				assert.Equal(t, 500.0, p.Norm)
				nonzero := 0
				for i, v := range out {
					if v == 0 {
						continue
					}
					nonzero++
					assert.Equal(t, p.Norm, math.Abs(v))
					assert.Equal(t, math.Signbit(sample[i]), math.Signbit(v), "sign of coordinate %d", i)
				}
				assert.Equal(t, p.Selected(), nonzero)
			default:
				t.Fatalf("unexpected payload %T", e)
			}
		})
	}
}

func TestDecodeAtOffsetLeavesOthersUntouched(t *testing.T) {
	e := TopK{K: 1}.Encode([]float64{0, 3, -1}, 10)
	out := []float64{9, 9, 9, 9, 9}
	e.Decode(out, 8)
	assert.Equal(t, []float64{9, 9, 9, 3, 9}, out)
}

func TestDecodeOutOfBufferPanics(t *testing.T) {
	e := DenseEncoder{}.Encode([]float64{1, 2, 3}, 5)
	assert.Panics(t, func() { e.Decode(make([]float64, 3), 0) })
	assert.Panics(t, func() { e.Decode(make([]float64, 2), 5) })
}

// TestSliceCompose checks that decoding the two halves of a split payload
// at their own offsets equals decoding the whole payload.
func TestSliceCompose(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	g := make([]float64, 37)
	for i := range g {
		g[i] = rng.NormFloat64()
	}
	const offset = 5
	for _, enc := range allEncoders() {
		t.Run(enc.Name(), func(t *testing.T) {
			e := enc.Encode(g, offset)
			want := DecodeDense(e)
			for b := offset; b <= offset+len(g); b++ {
				left := make([]float64, b-offset)
				right := make([]float64, offset+len(g)-b)
				e.Slice(offset, b).Decode(left, offset)
				e.Slice(b, offset+len(g)).Decode(right, b)
				assert.Equal(t, want, append(left, right...), "boundary %d", b)
			}
		})
	}
}

func TestSliceOutOfRangePanics(t *testing.T) {
	for _, enc := range allEncoders() {
		e := enc.Encode(sample, 0)
		assert.Panics(t, func() { e.Slice(-1, 3) }, enc.Name())
		assert.Panics(t, func() { e.Slice(3, 11) }, enc.Name())
		assert.Panics(t, func() { e.Slice(5, 4) }, enc.Name())
	}
}

// TestMarshalPreservesDecoding checks the wire form through what matters:
// the decoded values and the slicing behavior after a trip over the wire.
func TestMarshalPreservesDecoding(t *testing.T) {
	for _, enc := range allEncoders() {
		t.Run(enc.Name(), func(t *testing.T) {
			e := enc.Encode(sample, 3)
			got, err := Unmarshal(Marshal(nil, e))
			require.NoError(t, err)
			assert.Equal(t, e.Kind(), got.Kind())
			assert.Equal(t, DecodeDense(e), DecodeDense(got))
			assert.Equal(t, DecodeDense(e.Slice(6, 9)), DecodeDense(got.Slice(6, 9)))
		})
	}
}

func TestCompressionShrinksPayload(t *testing.T) {
	g := make([]float64, 1000)
	for i := range g {
		g[i] = float64(i%17) - 8
	}
	dense := Size(DenseEncoder{}.Encode(g, 0))
	assert.Less(t, Size(TopK{K: 10}.Encode(g, 0)), dense/10)
	assert.Less(t, Size(TernaryEncoder{}.Encode(g, 0)), dense/10)
	assert.Less(t, Size(HalfEncoder{}.Encode(g, 0)), dense/3)
}

func TestUnmarshalMalformed(t *testing.T) {
	valid := Marshal(nil, TopK{K: 2}.Encode(sample, 0))
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown kind", []byte{'Z', 0, 1}},
		{"truncated", valid[:len(valid)-3]},
		{"trailing bytes", append(append([]byte(nil), valid...), 1)},
		{"inverted range", []byte{byte(KindDense), 5, 2}},
		{"too many sparse entries", []byte{byte(KindSparse), 0, 1, 2}},
		{"sparse index out of range", append([]byte{byte(KindSparse), 0, 2, 1, 4}, make([]byte, 8)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range Names {
		enc, err := ByName(name, 3, 1)
		require.NoError(t, err, name)
		assert.Equal(t, name, enc.Name())
	}
	_, err := ByName("topk", 0, 1)
	assert.Error(t, err)
	_, err = ByName("gzip", 1, 1)
	assert.Error(t, err)
}
