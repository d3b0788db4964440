// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"slices"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// elementsPerTask is the minimum number of elements per parallel task for element-wise kernels.
const elementsPerTask = 16 * 1024

func (e *Engine) reorderDesc(desc primitive.ReorderDesc) (*primitiveDesc, error) {
	for _, d := range []memory.Desc{desc.Src, desc.Dst} {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if d.Format == memory.FormatAny {
			return nil, errors.Errorf("reorder requires concrete formats, got %s", d)
		}
	}
	if !slices.Equal(desc.Src.Dims, desc.Dst.Dims) {
		return nil, errors.Errorf("reorder source %s and destination %s have different dimensions", desc.Src, desc.Dst)
	}
	pd := newPrimitiveDesc(primitive.KindReorder, func(args map[primitive.Arg]*memory.Memory) func() error {
		src, dst := args[primitive.ArgSrc], args[primitive.ArgDst]
		return func() error {
			e.reorder(src, dst)
			return nil
		}
	})
	pd.args[primitive.ArgSrc] = desc.Src
	pd.args[primitive.ArgDst] = desc.Dst
	return pd, nil
}

// reorder copies src into dst, converting layout and dtype.
func (e *Engine) reorder(src, dst *memory.Memory) {
	srcDesc, dstDesc := src.Desc(), dst.Desc()
	read, write := reader(src), writer(dst)
	if srcDesc.WithDType(dstDesc.DType).SameLayout(dstDesc) {
		// Only the dtype changes (or nothing): convert the flat buffers, including padding.
		e.pool.RunRange(srcDesc.Size(), elementsPerTask, func(start, end int) {
			for pos := start; pos < end; pos++ {
				write(pos, read(pos))
			}
		})
		return
	}

	if dstDesc.Size() > dstDesc.NumElements() {
		// Keep the padding of blocked layouts zeroed.
		dst.Zero()
	}
	e.pool.RunRange(srcDesc.Dims[0], 1, func(start, end int) {
		forEachIndex(srcDesc.Dims, start, end, func(idx []int) {
			write(dstDesc.Offset(idx...), read(srcDesc.Offset(idx...)))
		})
	})
}

// reader returns a function that reads the element at the given flat position as a float64.
func reader(m *memory.Memory) func(pos int) float64 {
	switch flat := m.Handle().(type) {
	case []float32:
		return floatReader(flat)
	case []float64:
		return floatReader(flat)
	case []int32:
		return func(pos int) float64 { return float64(flat[pos]) }
	case []float16.Float16:
		return func(pos int) float64 { return float64(flat[pos].Float32()) }
	case []bfloat16.BFloat16:
		return func(pos int) float64 { return float64(flat[pos].Float32()) }
	}
	exceptions.Panicf("reference engine: cannot read memory %s of type %T", m.Desc(), m.Handle())
	return nil
}

// writer returns a function that writes a float64 at the given flat position, converting to the memory dtype.
func writer(m *memory.Memory) func(pos int, value float64) {
	switch flat := m.Handle().(type) {
	case []float32:
		return floatWriter(flat)
	case []float64:
		return floatWriter(flat)
	case []int32:
		return func(pos int, value float64) { flat[pos] = int32(value) }
	case []float16.Float16:
		return func(pos int, value float64) { flat[pos] = float16.Fromfloat32(float32(value)) }
	case []bfloat16.BFloat16:
		return func(pos int, value float64) { flat[pos] = bfloat16.FromFloat32(float32(value)) }
	}
	exceptions.Panicf("reference engine: cannot write memory %s of type %T", m.Desc(), m.Handle())
	return nil
}

func floatReader[T constraints.Float](flat []T) func(pos int) float64 {
	return func(pos int) float64 { return float64(flat[pos]) }
}

func floatWriter[T constraints.Float](flat []T) func(pos int, value float64) {
	return func(pos int, value float64) { flat[pos] = T(value) }
}
