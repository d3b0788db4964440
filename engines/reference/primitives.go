// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"maps"
	"slices"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/pkg/errors"
)

// kernelBuilder returns the function that executes the primitive, given its bound memories.
// The memories' handles must be read at execution time, since they can be rebound between runs.
type kernelBuilder func(args map[primitive.Arg]*memory.Memory) func() error

// primitiveDesc implements primitive.PrimitiveDesc for all kinds.
type primitiveDesc struct {
	kind  primitive.Kind
	args  map[primitive.Arg]memory.Desc
	build kernelBuilder
}

func newPrimitiveDesc(kind primitive.Kind, build kernelBuilder) *primitiveDesc {
	return &primitiveDesc{kind: kind, args: make(map[primitive.Arg]memory.Desc), build: build}
}

// Kind implements primitive.PrimitiveDesc.
func (pd *primitiveDesc) Kind() primitive.Kind { return pd.kind }

// Query implements primitive.PrimitiveDesc.
func (pd *primitiveDesc) Query(arg primitive.Arg) memory.Desc {
	return pd.args[arg]
}

// Create implements primitive.PrimitiveDesc.
func (pd *primitiveDesc) Create(args map[primitive.Arg]*memory.Memory) (primitive.Primitive, error) {
	for _, arg := range slices.Sorted(maps.Keys(pd.args)) {
		want := pd.args[arg]
		m := args[arg]
		if m == nil {
			return nil, errors.Errorf("%s primitive: missing memory for argument %s (%s)", pd.kind, arg, want)
		}
		if !m.Desc().SameLayout(want) {
			return nil, errors.Errorf("%s primitive: argument %s has memory %s, but %s is required -- a reorder is needed",
				pd.kind, arg, m.Desc(), want)
		}
	}
	for arg := range args {
		if _, found := pd.args[arg]; !found {
			return nil, errors.Errorf("%s primitive: unexpected argument %s", pd.kind, arg)
		}
	}
	return &kernelPrimitive{kind: pd.kind, run: pd.build(maps.Clone(args))}, nil
}

// kernelPrimitive implements primitive.Primitive.
type kernelPrimitive struct {
	kind primitive.Kind
	run  func() error
}

// Kind implements primitive.Primitive.
func (p *kernelPrimitive) Kind() primitive.Kind { return p.kind }

// Execute implements primitive.Primitive.
func (p *kernelPrimitive) Execute() error { return p.run() }

// f32 returns the float32 flat handle of the memory.
func f32(m *memory.Memory) []float32 { return memory.FlatAs[float32](m) }

// dims4 returns the 4 dimensions of a rank-4 descriptor.
func dims4(desc memory.Desc) (int, int, int, int) {
	return desc.Dims[0], desc.Dims[1], desc.Dims[2], desc.Dims[3]
}
