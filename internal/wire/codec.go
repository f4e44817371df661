package wire

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// maxCount bounds length prefixes so a corrupt frame cannot force a huge allocation.
const maxCount = 1 << 28

type writer struct {
	buf []byte
}

func (w *writer) u8(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) varint(v int) {
	w.buf = binary.AppendVarint(w.buf, int64(v))
}

func (w *writer) bytes(b []byte) {
	w.varint(len(b))
	w.buf = append(w.buf, b...)
}

func (w *writer) str(s string) {
	w.varint(len(s))
	w.buf = append(w.buf, s...)
}

func (w *writer) f64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *writer) f64s(vs []float64) {
	w.varint(len(vs))
	for _, v := range vs {
		w.f64(v)
	}
}

// reader consumes a payload and keeps the first error; later reads return zero values.
type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = errors.Wrapf(ErrMalformed, format, args...)
	}
}

func (r *reader) u8() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 1 {
		r.fail("truncated byte")
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) varint() int {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail("truncated varint")
		return 0
	}
	r.buf = r.buf[n:]
	return int(v)
}

// count reads a length prefix and checks it against the remaining bytes.
func (r *reader) count() int {
	n := r.varint()
	if r.err == nil && (n < 0 || n > maxCount || n > len(r.buf)) {
		r.fail("invalid length %d with %d bytes left", n, len(r.buf))
		return 0
	}
	return n
}

func (r *reader) bytes() []byte {
	n := r.count()
	if r.err != nil {
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) str() string {
	return string(r.bytes())
}

func (r *reader) f64() float64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.fail("truncated float64")
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf))
	r.buf = r.buf[8:]
	return v
}

func (r *reader) f64s() []float64 {
	n := r.varint()
	if r.err == nil && (n < 0 || n > maxCount || 8*n > len(r.buf)) {
		r.fail("invalid float count %d with %d bytes left", n, len(r.buf))
	}
	if r.err != nil || n == 0 {
		return nil
	}
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = r.f64()
	}
	return vs
}
