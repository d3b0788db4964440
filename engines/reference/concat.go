// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/pkg/errors"
)

// concatDims validates the sources of a concatenation along the channels axis and returns the
// dimensions of the concatenation and the format shared by all sources (FormatUndef if none).
func concatDims(srcs []memory.Desc) (dims []int, shared memory.Format, err error) {
	rank := srcs[0].Rank()
	dims = append([]int(nil), srcs[0].Dims...)
	dims[1] = 0
	shared = srcs[0].Format
	for ii, src := range srcs {
		if err = checkCompute("concat source", src, 2, 4); err != nil {
			return nil, 0, errors.WithMessagef(err, "source #%d", ii)
		}
		if src.Rank() != rank {
			return nil, 0, errors.Errorf("concat source #%d %s has rank %d, expected %d", ii, src, src.Rank(), rank)
		}
		for axis, dim := range src.Dims {
			if axis != 1 && dim != dims[axis] {
				return nil, 0, errors.Errorf("concat source #%d %s doesn't match source #0 %s on axis %d",
					ii, src, srcs[0], axis)
			}
		}
		dims[1] += src.Dims[1]
		if src.Format != shared {
			shared = memory.FormatUndef
		}
	}
	return dims, shared, nil
}

// activationsOrPlain returns format if it is a concrete activations format of the given rank,
// and the plain format otherwise.
func activationsOrPlain(format memory.Format, rank int) memory.Format {
	if format == memory.FormatUndef || format == memory.FormatAny || format.Rank() != rank || format.IsWeights() {
		return memory.PlainFormat(rank, false)
	}
	return format
}

func (e *Engine) concatDesc(desc primitive.ConcatDesc) (*primitiveDesc, error) {
	if len(desc.Srcs) == 0 {
		return nil, errors.New("concat requires at least one source")
	}
	if desc.Axis != 1 {
		return nil, errors.Wrapf(primitive.ErrNotImplemented, "concat over axis %d, only axis 1 (channels) is supported", desc.Axis)
	}
	rank := desc.Srcs[0].Rank()
	dstDims, shared, err := concatDims(desc.Srcs)
	if err != nil {
		return nil, err
	}
	shared = activationsOrPlain(shared, rank)

	dst := desc.Dst
	if !dst.Ok() {
		if desc.Direction != primitive.Forward {
			return nil, errors.New("concat backward requires the descriptor of the output gradient")
		}
		dst = memory.Desc{DType: desc.Srcs[0].DType, Dims: dstDims, Format: memory.FormatAny}
	}
	if err := checkCompute("concat destination", dst, rank); err != nil {
		return nil, err
	}
	for axis, dim := range dstDims {
		if dst.Dims[axis] != dim {
			return nil, errors.Errorf("concat destination %s should have dimensions %v", dst, dstDims)
		}
	}
	if desc.Direction != primitive.Forward {
		return e.concatBackwardDesc(desc, dst)
	}
	dst = dst.WithFormat(resolve(dst.Format, shared))

	numSrcs := len(desc.Srcs)
	pd := newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
		return func() error {
			dstMem := args[primitive.ArgDst]
			dstDesc, dstFlat := dstMem.Desc(), f32(dstMem)
			channelOffset := 0
			for ii := range numSrcs {
				srcMem := args[primitive.SrcArg(ii)]
				srcDesc, srcFlat := srcMem.Desc(), f32(srcMem)
				shift := channelOffset
				e.pool.RunRange(srcDesc.Dims[0], 1, func(start, end int) {
					forEachIndex(srcDesc.Dims, start, end, func(idx []int) {
						value := srcFlat[srcDesc.Offset(idx...)]
						idx[1] += shift
						dstFlat[dstDesc.Offset(idx...)] = value
						idx[1] -= shift
					})
				})
				channelOffset += srcDesc.Dims[1]
			}
			return nil
		}
	})
	for ii, src := range desc.Srcs {
		pd.args[primitive.SrcArg(ii)] = src.WithFormat(resolve(src.Format, shared))
	}
	pd.args[primitive.ArgDst] = dst
	return pd, nil
}

// concatBackwardDesc splits the output gradient (dst) into the gradients of the sources, each one
// a range of channels of dst. Gradients with FormatAny take the layout of dst.
func (e *Engine) concatBackwardDesc(desc primitive.ConcatDesc, diffDst memory.Desc) (*primitiveDesc, error) {
	rank := diffDst.Rank()
	diffDst = diffDst.WithFormat(resolve(diffDst.Format, memory.PlainFormat(rank, false)))
	if diffDst.Format.Rank() != rank || diffDst.Format.IsWeights() {
		return nil, errors.Errorf("concat backward: output gradient %s must have an activations format", diffDst)
	}
	numSrcs := len(desc.Srcs)
	pd := newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
		return func() error {
			dyMem := args[primitive.ArgDiffDst]
			dyDesc, dyFlat := dyMem.Desc(), f32(dyMem)
			channelOffset := 0
			for ii := range numSrcs {
				dxMem := args[primitive.DiffSrcArg(ii)]
				dxDesc := dxMem.Desc()
				if dxDesc.Size() > dxDesc.NumElements() {
					dxMem.Zero()
				}
				dxFlat := f32(dxMem)
				shift := channelOffset
				e.pool.RunRange(dxDesc.Dims[0], 1, func(start, end int) {
					forEachIndex(dxDesc.Dims, start, end, func(idx []int) {
						pos := dxDesc.Offset(idx...)
						idx[1] += shift
						dxFlat[pos] = dyFlat[dyDesc.Offset(idx...)]
						idx[1] -= shift
					})
				})
				channelOffset += dxDesc.Dims[1]
			}
			return nil
		}
	})
	for ii, src := range desc.Srcs {
		pd.args[primitive.DiffSrcArg(ii)] = src.WithFormat(resolve(src.Format, diffDst.Format))
	}
	pd.args[primitive.ArgDiffDst] = diffDst
	return pd, nil
}

// forEachIndex calls fn with every logical index of dims whose first axis is in [start, end).
// The index slice is reused between calls.
func forEachIndex(dims []int, start, end int, fn func(idx []int)) {
	idx := make([]int, len(dims))
	innerSize := 1
	for _, dim := range dims[1:] {
		innerSize *= dim
	}
	for i0 := start; i0 < end; i0++ {
		clear(idx)
		idx[0] = i0
		for range innerSize {
			fn(idx)
			for axis := len(idx) - 1; axis >= 1; axis-- {
				idx[axis]++
				if idx[axis] < dims[axis] {
					break
				}
				idx[axis] = 0
			}
		}
	}
}
