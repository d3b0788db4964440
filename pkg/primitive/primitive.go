// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package primitive defines the API of a deep-learning primitive library (an "engine"):
// how operations are described, how the engine reports the memory layouts it wants, and how
// primitives are created and executed.
//
// The flow mirrors the one of native primitive libraries:
//
//  1. Describe the operation with an OpDesc (e.g. ConvDesc), leaving memory formats as
//     memory.FormatAny wherever the engine should choose.
//  2. Engine.CreatePrimitiveDesc resolves the formats, which can be inspected with
//     PrimitiveDesc.Query.
//  3. PrimitiveDesc.Create binds memories to the primitive arguments.
//  4. Primitives are submitted to a Stream, and reran after the memory handles are rebound.
//
// Reorders (layout and dtype conversions) are primitives too, described with ReorderDesc.
package primitive

import (
	"fmt"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/pkg/errors"
)

// Kind of primitive.
type Kind int

//go:generate go tool enumer -type=Kind -trimprefix=Kind -output=gen_kind_enumer.go primitive.go

const (
	KindInvalid Kind = iota
	KindReorder
	KindConvolution
	KindConvolutionBackwardData
	KindConvolutionBackwardWeights
	KindPooling
	KindPoolingBackward
	KindInnerProduct
	KindInnerProductBackwardData
	KindInnerProductBackwardWeights
	KindLRN
	KindLRNBackward
	KindSoftmax
	KindConcat
	KindSum
	KindReLU
	KindReLUBackward
	KindConcatBackward
)

// Arg identifies an argument (input or output memory) of a primitive.
type Arg int

const (
	ArgSrc Arg = iota + 1
	ArgWeights
	ArgBias
	ArgDst
	ArgDiffSrc
	ArgDiffDst
	ArgDiffWeights
	ArgDiffBias
	ArgWorkspace

	// ArgMultipleSrc is the first of the sources of Concat and Sum: source i is ArgMultipleSrc+Arg(i).
	ArgMultipleSrc Arg = 1024

	// ArgMultipleDiffSrc is the first of the gradients computed by ConcatBackward, one per source.
	ArgMultipleDiffSrc Arg = 2048
)

var argNames = map[Arg]string{
	ArgSrc:         "Src",
	ArgWeights:     "Weights",
	ArgBias:        "Bias",
	ArgDst:         "Dst",
	ArgDiffSrc:     "DiffSrc",
	ArgDiffDst:     "DiffDst",
	ArgDiffWeights: "DiffWeights",
	ArgDiffBias:    "DiffBias",
	ArgWorkspace:   "Workspace",
}

// String implements fmt.Stringer.
func (a Arg) String() string {
	if a >= ArgMultipleDiffSrc {
		return fmt.Sprintf("MultipleDiffSrc#%d", a-ArgMultipleDiffSrc)
	}
	if a >= ArgMultipleSrc {
		return fmt.Sprintf("MultipleSrc#%d", a-ArgMultipleSrc)
	}
	if name, found := argNames[a]; found {
		return name
	}
	return fmt.Sprintf("Arg(%d)", int(a))
}

// SrcArg returns the argument of the i-th source of a multi-source primitive (Concat, Sum).
func SrcArg(i int) Arg { return ArgMultipleSrc + Arg(i) }

// DiffSrcArg returns the argument of the gradient of the i-th source of ConcatBackward.
func DiffSrcArg(i int) Arg { return ArgMultipleDiffSrc + Arg(i) }

// ErrNotImplemented is returned (wrapped) by engines for operation descriptors they don't support.
var ErrNotImplemented = errors.New("not implemented")

// Engine is the API a primitive library implements.
type Engine interface {
	// Name returns the short name of the engine, as used in the configuration string.
	Name() string

	// Description is a longer description of the Engine that can be used to pretty-print.
	Description() string

	// CreatePrimitiveDesc resolves the operation descriptor: it validates it and chooses the memory
	// formats left as memory.FormatAny.
	CreatePrimitiveDesc(op OpDesc) (PrimitiveDesc, error)

	// Finalize releases the engine resources. The engine is invalid afterward.
	Finalize()
}

// PrimitiveDesc is an operation descriptor resolved by an Engine.
type PrimitiveDesc interface {
	// Kind of primitive this descriptor creates.
	Kind() Kind

	// Query returns the memory descriptor chosen for the argument, with all formats resolved.
	// It returns the zero memory.Desc if the argument is not used by the primitive.
	Query(arg Arg) memory.Desc

	// Create binds memories to the arguments and returns the primitive.
	// Every memory must have exactly the layout returned by Query for its argument.
	Create(args map[Arg]*memory.Memory) (Primitive, error)
}

// Primitive is an executable compute kernel bound to its argument memories.
//
// Executing a primitive reads/writes whatever handles its memories are bound to at that time.
type Primitive interface {
	Kind() Kind
	Execute() error
}
