package encoder

import (
	"encoding/binary"

	"github.com/x448/float16"
)

// Half carries every coordinate as an IEEE binary16 value.
type Half struct {
	Lo     int
	Values []float16.Float16
}

func (h *Half) Kind() Kind        { return KindHalf }
func (h *Half) Range() (int, int) { return h.Lo, h.Lo + len(h.Values) }
func (h *Half) Selected() int     { return len(h.Values) }

func (h *Half) Decode(out []float64, offset int) {
	lo, hi := h.Range()
	checkDecode(lo, hi, offset, len(out))
	for i, v := range h.Values {
		out[lo-offset+i] = float64(v.Float32())
	}
}

func (h *Half) Slice(lo, hi int) Encoded {
	rlo, rhi := h.Range()
	checkSlice(lo, hi, rlo, rhi)
	return &Half{Lo: lo, Values: h.Values[lo-h.Lo : hi-h.Lo]}
}

func (h *Half) appendPayload(b []byte) []byte {
	for _, v := range h.Values {
		b = binary.LittleEndian.AppendUint16(b, v.Bits())
	}
	return b
}

// HalfEncoder rounds every coordinate to half precision.
type HalfEncoder struct{}

func (HalfEncoder) Name() string { return "half" }

func (HalfEncoder) Encode(g []float64, offset int) Encoded {
	h := &Half{Lo: offset, Values: make([]float16.Float16, len(g))}
	for i, v := range g {
		h.Values[i] = float16.Fromfloat32(float32(v))
	}
	return h
}
