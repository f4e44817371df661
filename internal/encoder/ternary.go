package encoder

import (
	"math"
	"math/rand/v2"
)

// Codes of the ternary quantizer, two bits per coordinate.
const (
	codeZero     = 0
	codePositive = 1
	codeNegative = 2
)

// Ternary quantizes every coordinate to one of {-Norm, 0, +Norm}. Codes are
// packed four per byte, coordinate Lo+i at bits 2*(i%4) of byte i/4.
type Ternary struct {
	Lo, Hi int
	Norm   float64
	Codes  []byte
}

func (t *Ternary) Kind() Kind        { return KindTernary }
func (t *Ternary) Range() (int, int) { return t.Lo, t.Hi }

func (t *Ternary) code(i int) byte {
	local := i - t.Lo
	return (t.Codes[local/4] >> (2 * (local % 4))) & 0x3
}

func (t *Ternary) Selected() int {
	n := 0
	for i := t.Lo; i < t.Hi; i++ {
		if c := t.code(i); c == codePositive || c == codeNegative {
			n++
		}
	}
	return n
}

func (t *Ternary) Decode(out []float64, offset int) {
	checkDecode(t.Lo, t.Hi, offset, len(out))
	for i := t.Lo; i < t.Hi; i++ {
		switch t.code(i) {
		case codePositive:
			out[i-offset] = t.Norm
		case codeNegative:
			out[i-offset] = -t.Norm
		}
	}
}

// Slice repacks the codes of [lo, hi); the norm is shared with the parent.
func (t *Ternary) Slice(lo, hi int) Encoded {
	checkSlice(lo, hi, t.Lo, t.Hi)
	out := &Ternary{Lo: lo, Hi: hi, Norm: t.Norm, Codes: make([]byte, packedLen(hi-lo))}
	for i := lo; i < hi; i++ {
		out.setCode(i, t.code(i))
	}
	return out
}

func (t *Ternary) setCode(i int, c byte) {
	local := i - t.Lo
	t.Codes[local/4] |= c << (2 * (local % 4))
}

func (t *Ternary) appendPayload(b []byte) []byte {
	b = appendFloat64(b, t.Norm)
	return append(b, t.Codes...)
}

func packedLen(n int) int {
	return (n + 3) / 4
}

// TernaryEncoder is a QSGD-style sign quantizer with norm max|g_i|. A
// coordinate is kept with probability |g_i|/norm when Rand is set, or when
// |g_i| >= norm/2 otherwise.
type TernaryEncoder struct {
	Rand *rand.Rand
}

func (TernaryEncoder) Name() string { return "ternary" }

func (e TernaryEncoder) Encode(g []float64, offset int) Encoded {
	t := &Ternary{Lo: offset, Hi: offset + len(g), Codes: make([]byte, packedLen(len(g)))}
	for _, v := range g {
		t.Norm = math.Max(t.Norm, math.Abs(v))
	}
	if t.Norm == 0 {
		return t
	}
	for i, v := range g {
		p := math.Abs(v) / t.Norm
		keep := p >= 0.5
		if e.Rand != nil {
			keep = e.Rand.Float64() < p
		}
		switch {
		case !keep || v == 0:
		case v > 0:
			t.setCode(offset+i, codePositive)
		default:
			t.setCode(offset+i, codeNegative)
		}
	}
	return t
}
