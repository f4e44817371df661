package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ShardKey names the record holding the values of shard [start, end).
func ShardKey(start, end int) string {
	return fmt.Sprintf("shard-%d-%d", start, end)
}

// PutVector stores v as little-endian float64s.
func PutVector(s Store, key string, v []float64) error {
	b := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(f))
	}
	return s.Put(key, b)
}

// GetVector loads a vector written by PutVector.
func GetVector(s Store, key string) ([]float64, error) {
	b, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if len(b)%8 != 0 {
		return nil, errors.Errorf("record %q has %d bytes, not a float64 vector", key, len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}
