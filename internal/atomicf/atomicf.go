// Package atomicf provides lock-free float64 cells and arrays.
//
// Values are stored as their IEEE-754 bit pattern in a uint64 and every access
// goes through sync/atomic, so loads and stores are sequentially consistent
// with respect to each other (the Go memory model guarantee for sync/atomic).
// This is the only place in the module that reinterprets float bits.
package atomicf

import (
	"math"
	"sync/atomic"
)

// Float64 is an atomically accessed float64. The zero value holds 0.0.
type Float64 struct {
	bits atomic.Uint64
}

// Load returns the current value.
func (f *Float64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// Store sets the value.
func (f *Float64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

// Add adds delta with a compare-and-swap loop and returns the new value.
func (f *Float64) Add(delta float64) float64 {
	for {
		old := f.bits.Load()
		next := math.Float64frombits(old) + delta
		if f.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return next
		}
	}
}

// CompareAndSwap swaps in next if the current value is bitwise equal to old.
func (f *Float64) CompareAndSwap(old, next float64) bool {
	return f.bits.CompareAndSwap(math.Float64bits(old), math.Float64bits(next))
}

// Array is a fixed-length array of atomic float64 values.
// Element accesses are individually atomic; a whole-array Snapshot is not,
// and may observe a mix of old and new elements under concurrent writers.
type Array struct {
	cells []Float64
}

// NewArray returns an Array holding a copy of values.
func NewArray(values []float64) *Array {
	a := &Array{cells: make([]Float64, len(values))}
	a.StoreFrom(values)
	return a
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return len(a.cells)
}

// Load returns element i.
func (a *Array) Load(i int) float64 {
	return a.cells[i].Load()
}

// Store sets element i.
func (a *Array) Store(i int, v float64) {
	a.cells[i].Store(v)
}

// Add atomically adds delta to element i and returns the new value.
func (a *Array) Add(i int, delta float64) float64 {
	return a.cells[i].Add(delta)
}

// CompareAndSwap swaps next into element i if it still holds old.
func (a *Array) CompareAndSwap(i int, old, next float64) bool {
	return a.cells[i].CompareAndSwap(old, next)
}

// Publish moves every element from prev to next. An element that still
// holds prev is swapped to next exactly; one that changed since prev was
// read gets next-prev added instead, so a concurrent writer's change is
// merged rather than overwritten. It returns the number of merged elements.
// prev and next must have length Len().
func (a *Array) Publish(prev, next []float64) (merged int) {
	for i := range a.cells {
		if a.CompareAndSwap(i, prev[i], next[i]) {
			continue
		}
		a.Add(i, next[i]-prev[i])
		merged++
	}
	return merged
}

// Snapshot copies every element into dst, which must have length Len().
// It returns dst.
func (a *Array) Snapshot(dst []float64) []float64 {
	for i := range a.cells {
		dst[i] = a.cells[i].Load()
	}
	return dst
}

// StoreFrom stores src element by element; len(src) must equal Len().
func (a *Array) StoreFrom(src []float64) {
	for i, v := range src {
		a.cells[i].Store(v)
	}
}
