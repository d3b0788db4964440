// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors holds the arrays of the host framework: the values callers pass to and receive
// from the layers package.
//
// A Tensor is a memory.Desc plus a flat Go slice. Tensors created by the caller are usually in the
// plain (row-major) layout, but tensors returned by layers may carry an engine internal layout
// (e.g. memory.FormatNChw8c), so they can be fed to the next layer without conversion. Use
// layers.Runtime.ToPlain to get a plain copy.
package tensors

import (
	"fmt"
	"strings"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a host array with a layout.
type Tensor struct {
	desc memory.Desc
	flat any
}

// Supported lists the Go element types a Tensor can hold.
type Supported interface {
	float32 | float64 | float16.Float16 | bfloat16.BFloat16 | int32
}

// FromFlat creates a Tensor in the plain layout for the given dimensions, using flat as its storage.
// The slice is not copied.
//
// Rank-4 tensors are created as activations (NCHW). Use FromFlatWithFormat for weights or other layouts.
func FromFlat[T Supported](flat []T, dims ...int) (*Tensor, error) {
	return FromFlatWithFormat(flat, memory.PlainFormat(len(dims), false), dims...)
}

// FromFlatWithFormat creates a Tensor with the given layout, using flat as its storage.
func FromFlatWithFormat[T Supported](flat []T, format memory.Format, dims ...int) (*Tensor, error) {
	desc := memory.MakeDesc(dtypes.FromGenericsType[T](), format, dims...)
	return FromDesc(desc, flat)
}

// FromDesc creates a Tensor for the descriptor with the given flat storage.
func FromDesc(desc memory.Desc, flat any) (*Tensor, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Format == memory.FormatAny {
		return nil, errors.Errorf("tensors cannot have format Any: %s", desc)
	}
	// Borrow the checks from memory.
	if _, err := memory.NewWithHandle(desc, flat); err != nil {
		return nil, errors.WithMessage(err, "tensors.FromDesc")
	}
	return &Tensor{desc: desc, flat: flat}, nil
}

// Zeros creates a zero-initialized Tensor for the descriptor.
func Zeros(desc memory.Desc) (*Tensor, error) {
	m, err := memory.New(desc)
	if err != nil {
		return nil, err
	}
	return &Tensor{desc: desc, flat: m.Handle()}, nil
}

// Desc returns the descriptor of the tensor.
func (t *Tensor) Desc() memory.Desc { return t.desc }

// DType returns the element type.
func (t *Tensor) DType() dtypes.DType { return t.desc.DType }

// Dims returns the logical dimensions. The returned slice must not be changed.
func (t *Tensor) Dims() []int { return t.desc.Dims }

// Format returns the layout of the flat data.
func (t *Tensor) Format() memory.Format { return t.desc.Format }

// IsPlain returns whether the tensor is in the row-major layout.
func (t *Tensor) IsPlain() bool { return t.desc.Format.IsPlain() }

// Flat returns the underlying flat slice, e.g. a []float32.
func (t *Tensor) Flat() any { return t.flat }

// FlatAs returns the underlying flat slice as []T, or an error if the type doesn't match.
func FlatAs[T Supported](t *Tensor) ([]T, error) {
	flat, ok := t.flat.([]T)
	if !ok {
		var zero T
		return nil, errors.Errorf("tensor %s holds %T, not []%T", t.desc, t.flat, zero)
	}
	return flat, nil
}

// String implements fmt.Stringer. It doesn't print the values.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	return fmt.Sprintf("Tensor%s", t.desc)
}

// Summary prints the descriptor plus the first few values of the flat storage, in physical order.
func (t *Tensor) Summary(maxValues int) string {
	var sb strings.Builder
	sb.WriteString(t.String())
	sb.WriteString(": ")
	switch flat := t.flat.(type) {
	case []float32:
		writeValues(&sb, flat, maxValues)
	case []float64:
		writeValues(&sb, flat, maxValues)
	case []int32:
		writeValues(&sb, flat, maxValues)
	case []float16.Float16:
		writeValues(&sb, flat, maxValues)
	case []bfloat16.BFloat16:
		writeValues(&sb, flat, maxValues)
	}
	return sb.String()
}

func writeValues[T any](sb *strings.Builder, flat []T, maxValues int) {
	n := min(len(flat), maxValues)
	fmt.Fprintf(sb, "%v", flat[:n])
	if n < len(flat) {
		fmt.Fprintf(sb, "...(%d more)", len(flat)-n)
	}
}
