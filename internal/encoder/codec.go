package encoder

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Marshal appends the binary form of e to b: kind | lo | hi | payload,
// with lo and hi as uvarints and floats little-endian.
func Marshal(b []byte, e Encoded) []byte {
	lo, hi := e.Range()
	b = append(b, byte(e.Kind()))
	b = appendUvarint(b, uint64(lo))
	b = appendUvarint(b, uint64(hi))
	return e.appendPayload(b)
}

// Unmarshal parses a payload produced by Marshal. It never panics on bad
// input; every inconsistency yields an error wrapping ErrMalformed.
func Unmarshal(b []byte) (Encoded, error) {
	r := reader{buf: b}
	kind := Kind(r.readByte())
	lo := r.readInt()
	hi := r.readInt()
	if r.err != nil {
		return nil, r.err
	}
	if hi < lo {
		return nil, errors.Wrapf(ErrMalformed, "range [%d, %d)", lo, hi)
	}
	n := hi - lo

	var e Encoded
	switch kind {
	case KindDense:
		d := &Dense{Lo: lo, Values: make([]float64, 0, min(n, len(b)/8))}
		for i := 0; i < n && r.err == nil; i++ {
			d.Values = append(d.Values, r.readFloat64())
		}
		e = d

	case KindSparse:
		count := r.readInt()
		if r.err == nil && count > n {
			return nil, errors.Wrapf(ErrMalformed, "%d sparse entries in a range of %d", count, n)
		}
		s := &Sparse{Lo: lo, Hi: hi}
		prev := lo
		for i := 0; i < count && r.err == nil; i++ {
			idx := prev + r.readInt()
			if i > 0 && idx <= prev || idx >= hi {
				return nil, errors.Wrapf(ErrMalformed, "sparse index %d out of order or range", idx)
			}
			s.Indices = append(s.Indices, idx)
			prev = idx
		}
		for i := 0; i < count && r.err == nil; i++ {
			s.Values = append(s.Values, r.readFloat64())
		}
		e = s

	case KindTernary:
		t := &Ternary{Lo: lo, Hi: hi, Norm: r.readFloat64()}
		t.Codes = r.readBytes(packedLen(n))
		e = t

	case KindHalf:
		h := &Half{Lo: lo, Values: make([]float16.Float16, 0, min(n, len(b)/2))}
		for i := 0; i < n && r.err == nil; i++ {
			h.Values = append(h.Values, float16.Frombits(r.readUint16()))
		}
		e = h

	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown payload kind %q", byte(kind))
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, errors.Wrapf(ErrMalformed, "%d trailing bytes after %s payload", len(r.buf), kind)
	}
	return e, nil
}

// Size returns the number of bytes Marshal produces for e.
func Size(e Encoded) int {
	return len(Marshal(nil, e))
}

func appendUvarint(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

func appendFloat64(b []byte, v float64) []byte {
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
}

// reader consumes a byte slice and records the first error.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrMalformed, "truncated %s", what)
	}
}

func (r *reader) readByte() byte {
	if r.err != nil || len(r.buf) < 1 {
		r.fail("kind")
		return 0
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v
}

func (r *reader) readInt() int {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 || v > math.MaxInt32 {
		r.fail("varint")
		return 0
	}
	r.buf = r.buf[n:]
	return int(v)
}

func (r *reader) readFloat64() float64 {
	if r.err != nil || len(r.buf) < 8 {
		r.fail("float64")
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf))
	r.buf = r.buf[8:]
	return v
}

func (r *reader) readUint16() uint16 {
	if r.err != nil || len(r.buf) < 2 {
		r.fail("float16")
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf)
	r.buf = r.buf[2:]
	return v
}

func (r *reader) readBytes(n int) []byte {
	if r.err != nil || len(r.buf) < n {
		r.fail("codes")
		return nil
	}
	v := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return v
}
