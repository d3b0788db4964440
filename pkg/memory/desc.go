// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memory describes buffers exchanged with a primitive engine: their element type,
// their logical dimensions and their physical layout (Format).
//
// A Desc is a value type, cheap to copy and compare. A Memory binds a Desc to a flat Go slice
// (the "handle"), which can be rebound to a different slice of the same size without touching
// whatever primitive was built around the Memory.
//
// Go float16 support uses github.com/x448/float16, and bfloat16 uses
// github.com/gomlx/gopjrt/dtypes/bfloat16.
package memory

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Desc describes a buffer: dtype, logical dimensions and physical layout.
//
// Use MakeDesc to create a new one.
type Desc struct {
	DType  dtypes.DType
	Dims   []int
	Format Format
}

// MakeDesc returns a Desc with the given values. Dims are copied.
func MakeDesc(dtype dtypes.DType, format Format, dims ...int) Desc {
	return Desc{DType: dtype, Format: format, Dims: slices.Clone(dims)}
}

// Rank returns the number of logical axes.
func (d Desc) Rank() int { return len(d.Dims) }

// Ok returns whether the Desc has been set. The zero Desc{} is not ok.
func (d Desc) Ok() bool { return d.DType != dtypes.InvalidDType && d.Format != FormatUndef }

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (d Desc) Dim(axis int) int {
	if axis < 0 {
		axis += d.Rank()
	}
	if axis < 0 || axis >= d.Rank() {
		exceptions.Panicf("Desc.Dim(%d) out-of-bounds for %s", axis, d)
	}
	return d.Dims[axis]
}

// Validate checks that dtype, dims and format are consistent.
func (d Desc) Validate() error {
	if d.DType == dtypes.InvalidDType {
		return errors.Errorf("invalid dtype in memory descriptor %s", d)
	}
	if _, found := elementSizes[d.DType]; !found {
		return errors.Errorf("dtype %s not supported in memory descriptor %s", d.DType, d)
	}
	if d.Format == FormatUndef {
		return errors.Errorf("undefined format in memory descriptor %s", d)
	}
	if d.Rank() == 0 {
		return errors.Errorf("memory descriptor %s has no dimensions", d)
	}
	for axis, dim := range d.Dims {
		if dim <= 0 {
			return errors.Errorf("memory descriptor %s has dimension %d <= 0 on axis %d", d, dim, axis)
		}
	}
	if d.Format != FormatAny && d.Format.Rank() != d.Rank() {
		return errors.Errorf("format %s requires rank %d, but memory descriptor %s has rank %d",
			d.Format, d.Format.Rank(), d, d.Rank())
	}
	return nil
}

// Equal compares dtype, dims and format exactly.
func (d Desc) Equal(other Desc) bool {
	return d.DType == other.DType && d.Format == other.Format && slices.Equal(d.Dims, other.Dims)
}

// SameLayout returns whether both descriptors lay out the same elements in the same positions,
// so a buffer of one can be used as a buffer of the other without a reorder.
//
// It differs from Equal in that equivalent formats (NC and OI, NCHW and OIHW) match.
func (d Desc) SameLayout(other Desc) bool {
	return d.DType == other.DType && d.Format.canonical() == other.Format.canonical() &&
		slices.Equal(d.Dims, other.Dims)
}

// String implements fmt.Stringer. E.g.: "(Float32)[8 16 27 27]@NChw8c".
func (d Desc) String() string {
	parts := make([]string, len(d.Dims))
	for ii, dim := range d.Dims {
		parts[ii] = fmt.Sprintf("%d", dim)
	}
	return fmt.Sprintf("(%s)[%s]@%s", d.DType, strings.Join(parts, " "), d.Format)
}

// WithFormat returns a copy of the descriptor with the format replaced.
func (d Desc) WithFormat(format Format) Desc {
	return Desc{DType: d.DType, Dims: slices.Clone(d.Dims), Format: format}
}

// WithDType returns a copy of the descriptor with the dtype replaced.
func (d Desc) WithDType(dtype dtypes.DType) Desc {
	return Desc{DType: dtype, Dims: slices.Clone(d.Dims), Format: d.Format}
}

// Plain returns the descriptor in the row-major format of its rank, keeping the weights/activations flavor.
func (d Desc) Plain() Desc {
	return d.WithFormat(PlainFormat(d.Rank(), d.Format.IsWeights()))
}

// NumElements returns the number of logical elements.
func (d Desc) NumElements() int {
	size := 1
	for _, dim := range d.Dims {
		size *= dim
	}
	return size
}

// Size returns the number of elements physically stored, including the padding of blocked formats.
func (d Desc) Size() int {
	block := d.Format.BlockSize()
	if block == 0 {
		return d.NumElements()
	}
	if d.Format.IsWeights() {
		return roundUp(d.Dims[0], block) * roundUp(d.Dims[1], block) * d.Dims[2] * d.Dims[3]
	}
	return d.Dims[0] * roundUp(d.Dims[1], block) * d.Dims[2] * d.Dims[3]
}

// Bytes returns the memory used by a buffer with this descriptor.
func (d Desc) Bytes() uintptr {
	return d.DType.Memory() * uintptr(d.Size())
}

func roundUp(value, multiple int) int {
	return (value + multiple - 1) / multiple * multiple
}

// Offset returns the physical position in the flat buffer of the element with the given logical
// index. The index must have one value per axis, in the canonical order ([N, C, H, W] or [O, I, H, W]).
//
// It panics for FormatAny or FormatUndef.
func (d Desc) Offset(idx ...int) int {
	dims := d.Dims
	switch d.Format {
	case FormatX:
		return idx[0]
	case FormatNC, FormatOI:
		return idx[0]*dims[1] + idx[1]
	case FormatNCHW, FormatOIHW:
		return ((idx[0]*dims[1]+idx[1])*dims[2]+idx[2])*dims[3] + idx[3]
	case FormatNHWC:
		return ((idx[0]*dims[2]+idx[2])*dims[3]+idx[3])*dims[1] + idx[1]
	case FormatCHWN:
		return ((idx[1]*dims[2]+idx[2])*dims[3]+idx[3])*dims[0] + idx[0]
	case FormatHWIO:
		return ((idx[2]*dims[3]+idx[3])*dims[1]+idx[1])*dims[0] + idx[0]
	case FormatNChw8c, FormatNChw16c:
		block := d.Format.BlockSize()
		numBlocks := roundUp(dims[1], block) / block
		c := idx[1]
		return (((idx[0]*numBlocks+c/block)*dims[2]+idx[2])*dims[3]+idx[3])*block + c%block
	case FormatOIhw8i8o, FormatOIhw16i16o:
		block := d.Format.BlockSize()
		inBlocks := roundUp(dims[1], block) / block
		o, i := idx[0], idx[1]
		pos := ((o/block*inBlocks+i/block)*dims[2]+idx[2])*dims[3] + idx[3]
		return (pos*block+i%block)*block + o%block
	}
	exceptions.Panicf("Desc.Offset() not defined for format %s (%s)", d.Format, d)
	return -1
}

// Strides returns the strides of each logical axis for non-blocked formats, or nil for blocked ones.
// It can be used by kernels to avoid calling Offset for every element.
func (d Desc) Strides() []int {
	if d.Format.IsBlocked() || d.Format == FormatAny || d.Format == FormatUndef {
		return nil
	}
	strides := make([]int, d.Rank())
	base := make([]int, d.Rank())
	for axis := range strides {
		base[axis] = 1
		strides[axis] = d.Offset(base...)
		base[axis] = 0
	}
	return strides
}
