// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"context"
	"fmt"
	"sync"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// computeDType is the dtype used by the primitives. Host tensors of other dtypes are converted by reorders.
const computeDType = dtypes.Float32

// layer is a constructed primitive graph for one signature: the caller memories it binds to,
// the internal memories, and the stream that runs it.
//
// A layer is built once, with the tensors of the first call, and on later calls only the
// handles of its input and output memories are rebound.
type layer struct {
	name, key string

	// mu serializes runs: the memories are shared by all calls.
	mu        sync.Mutex
	stream    *primitive.Stream
	submitted bool

	primitives  []primitive.Primitive
	inputs      []*memory.Memory // In the caller's layout, one per input tensor.
	outputs     []*memory.Memory // In the returned layout, one per output tensor.
	numReorders int
}

// LayerInfo describes a cached layer.
type LayerInfo struct {
	Name, Key string

	// Kinds of the primitives of the layer graph, in execution order.
	Kinds []primitive.Kind

	// NumReorders is the number of reorders inserted to convert inputs and outputs.
	NumReorders int
}

func (l *layer) info() LayerInfo {
	kinds := make([]primitive.Kind, len(l.primitives))
	for ii, p := range l.primitives {
		kinds[ii] = p.Kind()
	}
	return LayerInfo{Name: l.name, Key: l.key, Kinds: kinds, NumReorders: l.numReorders}
}

// run rebinds the input handles to the given tensors, allocates new output buffers and executes the graph.
func (l *layer) run(ctx context.Context, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(inputs) != len(l.inputs) {
		return nil, errors.Errorf("layer %s expects %d inputs, got %d", l.name, len(l.inputs), len(inputs))
	}
	for ii, t := range inputs {
		if err := l.inputs[ii].SetHandle(t.Flat()); err != nil {
			return nil, errors.WithMessagef(err, "layer %s: binding input #%d", l.name, ii)
		}
	}
	for ii, m := range l.outputs {
		desc := m.Desc()
		flat, err := memory.MakeFlat(desc.DType, desc.Size())
		if err != nil {
			return nil, err
		}
		if err = m.SetHandle(flat); err != nil {
			return nil, errors.WithMessagef(err, "layer %s: binding output #%d", l.name, ii)
		}
	}

	var err error
	if !l.submitted {
		// Submit records the primitives in the stream even if the execution fails.
		l.submitted = true
		err = l.stream.Submit(ctx, l.primitives...)
	} else {
		err = l.stream.Rerun(ctx)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "layer %s", l.name)
	}

	results := make([]*tensors.Tensor, len(l.outputs))
	for ii, m := range l.outputs {
		results[ii], err = tensors.FromDesc(m.Desc(), m.Handle())
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// graphBuilder constructs a layer. Its methods panic on errors, which are caught by Runtime.buildLayer.
type graphBuilder struct {
	rt      *Runtime
	l       *layer
	tensors []*tensors.Tensor

	// outDType is the dtype of plain outputs: the one of the first input.
	outDType dtypes.DType

	// converted caches the reordered version of inputs, keyed by input index and layout.
	converted map[string]*memory.Memory

	before, main, after []primitive.Primitive
}

func newGraphBuilder(rt *Runtime, name, key string, inputs []*tensors.Tensor, numOutputs int) *graphBuilder {
	b := &graphBuilder{
		rt: rt,
		l: &layer{
			name:    name,
			key:     key,
			stream:  primitive.NewStream(name),
			inputs:  make([]*memory.Memory, len(inputs)),
			outputs: make([]*memory.Memory, numOutputs),
		},
		tensors:   inputs,
		outDType:  computeDType,
		converted: make(map[string]*memory.Memory),
	}
	if len(inputs) > 0 {
		b.outDType = inputs[0].DType()
	}
	return b
}

// primitiveDesc asks the engine for the primitive descriptor.
func (b *graphBuilder) primitiveDesc(op primitive.OpDesc) primitive.PrimitiveDesc {
	pd, err := b.rt.engine.CreatePrimitiveDesc(op)
	if err != nil {
		panic(err)
	}
	return pd
}

// input returns the memory to bind to a primitive argument requiring want, for the input tensor idx.
// A reorder is inserted only if the tensor's layout or dtype differs from want.
func (b *graphBuilder) input(idx int, want memory.Desc) *memory.Memory {
	userMem := b.l.inputs[idx]
	if userMem == nil {
		var err error
		t := b.tensors[idx]
		userMem, err = memory.NewWithHandle(t.Desc(), t.Flat())
		if err != nil {
			panic(errors.WithMessagef(err, "input #%d", idx))
		}
		b.l.inputs[idx] = userMem
	}
	if userMem.Desc().SameLayout(want) {
		return userMem
	}
	cacheKey := fmt.Sprintf("%d:%s", idx, want)
	if internal, found := b.converted[cacheKey]; found {
		return internal
	}
	internal := b.alloc(want)
	b.before = append(b.before, b.reorder(userMem, internal))
	b.converted[cacheKey] = internal
	return internal
}

// output returns the memory to bind to a primitive output argument with descriptor got, for the
// output idx. If the runtime returns plain outputs and got isn't plain, the primitive writes
// to an internal memory and a reorder converts it.
func (b *graphBuilder) output(idx int, got memory.Desc) *memory.Memory {
	if !b.rt.plainOutputs {
		return b.exactOutput(idx, got)
	}
	outDesc := got.Plain()
	if got.DType == computeDType {
		outDesc = outDesc.WithDType(b.outDType)
	}
	outMem := b.exactOutput(idx, outDesc)
	if outDesc.SameLayout(got) {
		return outMem
	}
	internal := b.alloc(got)
	b.after = append(b.after, b.reorder(internal, outMem))
	return internal
}

// exactOutput returns the memory for output idx, with the given descriptor.
func (b *graphBuilder) exactOutput(idx int, desc memory.Desc) *memory.Memory {
	if b.l.outputs[idx] != nil {
		exceptions.Panicf("output #%d of layer %s bound twice", idx, b.l.name)
	}
	m := b.alloc(desc)
	b.l.outputs[idx] = m
	return m
}

func (b *graphBuilder) alloc(desc memory.Desc) *memory.Memory {
	m, err := memory.New(desc)
	if err != nil {
		panic(err)
	}
	return m
}

// reorder creates a reorder primitive from src to dst.
func (b *graphBuilder) reorder(src, dst *memory.Memory) primitive.Primitive {
	pd := b.primitiveDesc(primitive.ReorderDesc{Src: src.Desc(), Dst: dst.Desc()})
	p, err := pd.Create(map[primitive.Arg]*memory.Memory{primitive.ArgSrc: src, primitive.ArgDst: dst})
	if err != nil {
		panic(err)
	}
	b.l.numReorders++
	klog.V(2).Infof("layer %s: reorder %s -> %s", b.l.name, src.Desc(), dst.Desc())
	return p
}

// add creates the primitive and appends it to the main section of the graph.
func (b *graphBuilder) add(pd primitive.PrimitiveDesc, args map[primitive.Arg]*memory.Memory) {
	p, err := pd.Create(args)
	if err != nil {
		panic(err)
	}
	b.main = append(b.main, p)
}

// finish assembles the graph: input reorders, the main primitives, output reorders.
func (b *graphBuilder) finish() *layer {
	for ii, m := range b.l.inputs {
		if m == nil {
			exceptions.Panicf("input #%d of layer %s not used", ii, b.l.name)
		}
	}
	for ii, m := range b.l.outputs {
		if m == nil {
			exceptions.Panicf("output #%d of layer %s not bound", ii, b.l.name)
		}
	}
	b.l.primitives = make([]primitive.Primitive, 0, len(b.before)+len(b.main)+len(b.after))
	b.l.primitives = append(b.l.primitives, b.before...)
	b.l.primitives = append(b.l.primitives, b.main...)
	b.l.primitives = append(b.l.primitives, b.after...)
	return b.l
}

// anyDesc describes a compute argument whose layout the engine chooses.
func anyDesc(dims ...int) memory.Desc {
	return memory.MakeDesc(computeDType, memory.FormatAny, dims...)
}

// followDesc describes a compute argument keeping the layout of the tensor, for primitives that
// can work on any layout.
func followDesc(t *tensors.Tensor) memory.Desc {
	return t.Desc().WithDType(computeDType)
}
