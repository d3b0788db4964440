// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// elementSizes lists the dtypes that can back a Memory.
var elementSizes = map[dtypes.DType]int{
	dtypes.Float32:  4,
	dtypes.Float64:  8,
	dtypes.Float16:  2,
	dtypes.BFloat16: 2,
	dtypes.Int32:    4,
}

// IsSupported returns whether a Memory can hold elements of the given dtype.
func IsSupported(dtype dtypes.DType) bool {
	_, found := elementSizes[dtype]
	return found
}

// Memory binds a Desc to a flat slice of data, its "handle".
//
// The handle can be rebound with SetHandle, as long as the new slice has the same dtype and
// enough elements. Primitives hold on to the *Memory, not to the slice, so rebinding is all it
// takes to run a primitive over new data.
type Memory struct {
	desc Desc
	flat any
}

// New allocates a zeroed Memory for the given descriptor.
func New(desc Desc) (*Memory, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Format == FormatAny {
		return nil, errors.Errorf("cannot allocate memory with format Any (%s), the format must be resolved first", desc)
	}
	flat, err := MakeFlat(desc.DType, desc.Size())
	if err != nil {
		return nil, err
	}
	return &Memory{desc: desc, flat: flat}, nil
}

// NewWithHandle creates a Memory using the given flat slice as storage. The slice is not copied.
func NewWithHandle(desc Desc, flat any) (*Memory, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	m := &Memory{desc: desc}
	if err := m.SetHandle(flat); err != nil {
		return nil, err
	}
	return m, nil
}

// Desc returns the descriptor of the memory.
func (m *Memory) Desc() Desc { return m.desc }

// Handle returns the flat slice currently bound.
func (m *Memory) Handle() any { return m.flat }

// SetHandle rebinds the memory to a new flat slice, which must be of the Go type matching the
// descriptor dtype and hold at least Desc.Size() elements.
func (m *Memory) SetHandle(flat any) error {
	n, err := flatLen(m.desc.DType, flat)
	if err != nil {
		return errors.WithMessagef(err, "Memory.SetHandle(%T) for %s", flat, m.desc)
	}
	if n < m.desc.Size() {
		return errors.Errorf("Memory.SetHandle(%T): slice has %d elements, but %s requires %d",
			flat, n, m.desc, m.desc.Size())
	}
	m.flat = flat
	return nil
}

// Zero sets all elements of the bound handle to zero.
func (m *Memory) Zero() {
	switch flat := m.flat.(type) {
	case []float32:
		clear(flat)
	case []float64:
		clear(flat)
	case []float16.Float16:
		clear(flat)
	case []bfloat16.BFloat16:
		clear(flat)
	case []int32:
		clear(flat)
	}
}

// MakeFlat allocates a zeroed flat slice of the Go type corresponding to dtype.
func MakeFlat(dtype dtypes.DType, size int) (any, error) {
	switch dtype {
	case dtypes.Float32:
		return make([]float32, size), nil
	case dtypes.Float64:
		return make([]float64, size), nil
	case dtypes.Float16:
		return make([]float16.Float16, size), nil
	case dtypes.BFloat16:
		return make([]bfloat16.BFloat16, size), nil
	case dtypes.Int32:
		return make([]int32, size), nil
	}
	return nil, errors.Errorf("dtype %s not supported for memory buffers", dtype)
}

// flatLen returns the length of flat, after checking that its Go type matches dtype.
func flatLen(dtype dtypes.DType, flat any) (int, error) {
	var n int
	var ok bool
	switch dtype {
	case dtypes.Float32:
		var s []float32
		s, ok = flat.([]float32)
		n = len(s)
	case dtypes.Float64:
		var s []float64
		s, ok = flat.([]float64)
		n = len(s)
	case dtypes.Float16:
		var s []float16.Float16
		s, ok = flat.([]float16.Float16)
		n = len(s)
	case dtypes.BFloat16:
		var s []bfloat16.BFloat16
		s, ok = flat.([]bfloat16.BFloat16)
		n = len(s)
	case dtypes.Int32:
		var s []int32
		s, ok = flat.([]int32)
		n = len(s)
	default:
		return 0, errors.Errorf("dtype %s not supported for memory buffers", dtype)
	}
	if !ok {
		return 0, errors.Errorf("flat slice of type %T does not match dtype %s", flat, dtype)
	}
	return n, nil
}

// FlatAs returns the handle of the memory as a []T. It panics if T doesn't match the handle type,
// which indicates a bug in the caller.
func FlatAs[T any](m *Memory) []T {
	flat, ok := m.flat.([]T)
	if !ok {
		var t T
		exceptions.Panicf("memory %s holds %T, not []%T", m.desc, m.flat, t)
	}
	return flat
}
