// Package encoder compresses gradients for transport between workers and
// masters.
//
// An Encoder turns a gradient range g (covering global coordinates
// [offset, offset+len(g))) into an Encoded payload. Every Encoded value knows
// the global range it covers and can be:
//
//   - decoded into a caller-owned buffer at a global offset, writing exactly
//     the coordinates the encoder selected and leaving every other element of
//     the buffer untouched;
//   - sliced to a sub-range without re-running the encoder, so a worker can
//     split one gradient into the per-shard pieces owned by each master.
//
// Slicing composes with decoding: decoding e.Slice(lo, b) at offset lo and
// e.Slice(b, hi) at offset b is the same as decoding e at offset lo.
//
// Four payload kinds exist: dense float64 values, sparse (index, value)
// pairs, ternary quantization (one shared norm plus a 2-bit sign code per
// coordinate) and half-precision (IEEE binary16) values.
package encoder

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Kind discriminates the payload variants on the wire.
type Kind byte

const (
	KindDense   Kind = 'D'
	KindSparse  Kind = 'S'
	KindTernary Kind = 'T'
	KindHalf    Kind = 'H'
)

func (k Kind) String() string {
	switch k {
	case KindDense:
		return "dense"
	case KindSparse:
		return "sparse"
	case KindTernary:
		return "ternary"
	case KindHalf:
		return "half"
	}
	return "unknown"
}

// ErrMalformed is returned when a payload cannot be decoded.
var ErrMalformed = errors.New("encoder: malformed payload")

// Encoded is a compressed gradient covering the global range [lo, hi).
type Encoded interface {
	Kind() Kind

	// Range returns the global half-open range covered by the payload.
	Range() (lo, hi int)

	// Decode writes every selected coordinate i into out[i-offset].
	// It panics if a selected coordinate falls outside out.
	Decode(out []float64, offset int)

	// Slice returns the part of the payload covering [lo, hi), which must be
	// contained in Range().
	Slice(lo, hi int) Encoded

	// Selected returns the number of coordinates carried by the payload.
	Selected() int

	// appendPayload appends the kind specific body to b.
	appendPayload(b []byte) []byte
}

// Encoder compresses a gradient range.
type Encoder interface {
	// Encode compresses g, whose first element is global coordinate offset.
	Encode(g []float64, offset int) Encoded

	// Name identifies the encoder in configuration and logs.
	Name() string
}

// DecodeDense is a convenience that decodes e into a fresh zeroed buffer
// covering exactly its range.
func DecodeDense(e Encoded) []float64 {
	lo, hi := e.Range()
	out := make([]float64, hi-lo)
	e.Decode(out, lo)
	return out
}

// checkSlice panics when [lo, hi) is not inside [rlo, rhi).
func checkSlice(lo, hi, rlo, rhi int) {
	if lo < rlo || hi > rhi || lo > hi {
		exceptions.Panicf("encoder: slice [%d, %d) outside of payload range [%d, %d)", lo, hi, rlo, rhi)
	}
}

// checkDecode panics when [lo, hi) does not fit into out at offset.
func checkDecode(lo, hi, offset, n int) {
	if lo < offset || hi-offset > n {
		exceptions.Panicf("encoder: payload range [%d, %d) does not fit buffer [%d, %d)", lo, hi, offset, offset+n)
	}
}
