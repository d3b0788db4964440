// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/pkg/errors"
)

func (e *Engine) reluDesc(desc primitive.ReLUDesc) (*primitiveDesc, error) {
	if err := checkCompute("ReLU source", desc.Src); err != nil {
		return nil, err
	}
	preferred := memory.PlainFormat(desc.Src.Rank(), false)
	if desc.Src.Rank() == 4 {
		preferred = e.activationsFormat(4, desc.Src.Dims[1])
	}
	src := desc.Src.WithFormat(resolve(desc.Src.Format, preferred))
	if src.Format == memory.FormatUndef {
		return nil, errors.Errorf("ReLU of %s: no plain format for rank %d", desc.Src, desc.Src.Rank())
	}
	slope := desc.NegativeSlope
	size := src.Size()

	var pd *primitiveDesc
	switch desc.Direction {
	case primitive.Forward:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				x, y := f32(args[primitive.ArgSrc]), f32(args[primitive.ArgDst])
				e.pool.RunRange(size, elementsPerTask, func(start, end int) {
					for pos := start; pos < end; pos++ {
						if v := x[pos]; v > 0 {
							y[pos] = v
						} else {
							y[pos] = v * slope
						}
					}
				})
				return nil
			}
		})
		pd.args[primitive.ArgSrc] = src
		pd.args[primitive.ArgDst] = src

	case primitive.BackwardData:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				x, dy, dx := f32(args[primitive.ArgSrc]), f32(args[primitive.ArgDiffDst]), f32(args[primitive.ArgDiffSrc])
				e.pool.RunRange(size, elementsPerTask, func(start, end int) {
					for pos := start; pos < end; pos++ {
						if x[pos] > 0 {
							dx[pos] = dy[pos]
						} else {
							dx[pos] = dy[pos] * slope
						}
					}
				})
				return nil
			}
		})
		pd.args[primitive.ArgSrc] = src
		pd.args[primitive.ArgDiffDst] = src
		pd.args[primitive.ArgDiffSrc] = src

	default:
		return nil, errors.Errorf("invalid ReLU direction %s", desc.Direction)
	}
	return pd, nil
}
