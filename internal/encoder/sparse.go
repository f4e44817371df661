package encoder

import (
	"math"
	"math/rand/v2"

	"golang.org/x/exp/slices"
)

// Sparse carries (index, value) pairs; Indices are global and strictly increasing.
type Sparse struct {
	Lo, Hi  int
	Indices []int
	Values  []float64
}

func (s *Sparse) Kind() Kind        { return KindSparse }
func (s *Sparse) Range() (int, int) { return s.Lo, s.Hi }
func (s *Sparse) Selected() int     { return len(s.Indices) }

func (s *Sparse) Decode(out []float64, offset int) {
	checkDecode(s.Lo, s.Hi, offset, len(out))
	for j, i := range s.Indices {
		out[i-offset] = s.Values[j]
	}
}

func (s *Sparse) Slice(lo, hi int) Encoded {
	checkSlice(lo, hi, s.Lo, s.Hi)
	from, _ := slices.BinarySearch(s.Indices, lo)
	to, _ := slices.BinarySearch(s.Indices, hi)
	return &Sparse{Lo: lo, Hi: hi, Indices: s.Indices[from:to], Values: s.Values[from:to]}
}

func (s *Sparse) appendPayload(b []byte) []byte {
	b = appendUvarint(b, uint64(len(s.Indices)))
	prev := s.Lo
	for _, i := range s.Indices {
		b = appendUvarint(b, uint64(i-prev))
		prev = i
	}
	for _, v := range s.Values {
		b = appendFloat64(b, v)
	}
	return b
}

// TopK keeps the K coordinates of largest magnitude. Ties go to the lower index.
type TopK struct {
	K int
}

func (t TopK) Name() string { return "topk" }

func (t TopK) Encode(g []float64, offset int) Encoded {
	order := make([]int, len(g))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ma, mb := math.Abs(g[a]), math.Abs(g[b])
		switch {
		case ma > mb:
			return -1
		case ma < mb:
			return 1
		}
		return 0
	})
	k := min(t.K, len(g))
	chosen := order[:k]
	slices.Sort(chosen)
	return newSparse(g, offset, chosen)
}

// RandomK keeps K coordinates chosen uniformly without replacement.
// Values are carried unscaled.
type RandomK struct {
	K    int
	Rand *rand.Rand
}

func (r RandomK) Name() string { return "randomk" }

func (r RandomK) Encode(g []float64, offset int) Encoded {
	k := min(r.K, len(g))
	chosen := r.Rand.Perm(len(g))[:k]
	slices.Sort(chosen)
	return newSparse(g, offset, chosen)
}

// newSparse builds a Sparse payload from local indices into g.
func newSparse(g []float64, offset int, local []int) *Sparse {
	s := &Sparse{
		Lo:      offset,
		Hi:      offset + len(g),
		Indices: make([]int, len(local)),
		Values:  make([]float64, len(local)),
	}
	for j, i := range local {
		s.Indices[j] = offset + i
		s.Values[j] = g[i]
	}
	return s
}
