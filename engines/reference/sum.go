// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"slices"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/pkg/errors"
)

func (e *Engine) sumDesc(desc primitive.SumDesc) (*primitiveDesc, error) {
	if len(desc.Srcs) == 0 {
		return nil, errors.New("sum requires at least one source")
	}
	scales := desc.Scales
	if len(scales) == 0 {
		scales = make([]float32, len(desc.Srcs))
		for ii := range scales {
			scales[ii] = 1
		}
	} else if len(scales) != len(desc.Srcs) {
		return nil, errors.Errorf("sum has %d sources but %d scales", len(desc.Srcs), len(scales))
	} else {
		scales = slices.Clone(scales)
	}
	first := desc.Srcs[0]
	for ii, src := range desc.Srcs {
		if err := checkCompute("sum source", src); err != nil {
			return nil, errors.WithMessagef(err, "source #%d", ii)
		}
		if !slices.Equal(src.Dims, first.Dims) {
			return nil, errors.Errorf("sum source #%d %s doesn't match source #0 %s", ii, src, first)
		}
	}
	dst := desc.Dst
	if !dst.Ok() {
		dst = first.WithFormat(memory.FormatAny)
	}
	if err := checkCompute("sum destination", dst); err != nil {
		return nil, err
	}
	if !slices.Equal(dst.Dims, first.Dims) {
		return nil, errors.Errorf("sum destination %s doesn't match sources %s", dst, first)
	}

	// All arguments share the layout of the destination, so the sum is done over the flat buffers.
	format := followFormat(memory.PlainFormat(first.Rank(), false), append([]memory.Desc{dst}, desc.Srcs...)...)
	dst = dst.WithFormat(format)
	size := dst.Size()
	numSrcs := len(desc.Srcs)
	pd := newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
		return func() error {
			out := f32(args[primitive.ArgDst])
			srcs := make([][]float32, numSrcs)
			for ii := range srcs {
				srcs[ii] = f32(args[primitive.SrcArg(ii)])
			}
			e.pool.RunRange(size, elementsPerTask, func(start, end int) {
				for pos := start; pos < end; pos++ {
					var sum float32
					for ii, src := range srcs {
						sum += scales[ii] * src[pos]
					}
					out[pos] = sum
				}
			})
			return nil
		}
	})
	for ii := range desc.Srcs {
		pd.args[primitive.SrcArg(ii)] = dst
	}
	pd.args[primitive.ArgDst] = dst
	return pd, nil
}
