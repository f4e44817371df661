package encoder

// Dense carries every coordinate as a float64.
type Dense struct {
	Lo     int
	Values []float64
}

func (d *Dense) Kind() Kind        { return KindDense }
func (d *Dense) Range() (int, int) { return d.Lo, d.Lo + len(d.Values) }
func (d *Dense) Selected() int     { return len(d.Values) }

func (d *Dense) Decode(out []float64, offset int) {
	lo, hi := d.Range()
	checkDecode(lo, hi, offset, len(out))
	copy(out[lo-offset:], d.Values)
}

func (d *Dense) Slice(lo, hi int) Encoded {
	rlo, rhi := d.Range()
	checkSlice(lo, hi, rlo, rhi)
	return &Dense{Lo: lo, Values: d.Values[lo-d.Lo : hi-d.Lo]}
}

func (d *Dense) appendPayload(b []byte) []byte {
	for _, v := range d.Values {
		b = appendFloat64(b, v)
	}
	return b
}

// DenseEncoder sends the gradient uncompressed.
type DenseEncoder struct{}

func (DenseEncoder) Name() string { return "dense" }

func (DenseEncoder) Encode(g []float64, offset int) Encoded {
	return &Dense{Lo: offset, Values: append([]float64(nil), g...)}
}
