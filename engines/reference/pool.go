// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"math"
	"slices"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// followFormat returns the first concrete format among descs, or preferred if they are all FormatAny.
// Element-wise-like primitives (pooling, LRN, ReLU) work on whatever layout their inputs come in.
func followFormat(preferred memory.Format, descs ...memory.Desc) memory.Format {
	for _, d := range descs {
		if d.Format != memory.FormatAny {
			return d.Format
		}
	}
	return preferred
}

type poolGeometry struct {
	n, c, h, w     int
	kh, kw         int
	oh, ow         int
	sh, sw         int
	padTop, padLft int
	// padded height and width: input plus padding on both sides.
	paddedH, paddedW int
}

// window returns the top-left corner of the window of the output position (y, x) in input coordinates
// (it may be negative), and the number of padded positions it covers, used as divisor when
// padding is included in averages.
func (g poolGeometry) window(y, x int) (top, left, paddedCount int) {
	top = y*g.sh - g.padTop
	left = x*g.sw - g.padLft
	rows := min(top+g.kh, g.paddedH-g.padTop) - top
	cols := min(left+g.kw, g.paddedW-g.padLft) - left
	return top, left, rows * cols
}

func (e *Engine) poolDesc(desc primitive.PoolDesc) (*primitiveDesc, error) {
	if err := checkCompute("pooling source", desc.Src, 4); err != nil {
		return nil, err
	}
	if err := checkCompute("pooling destination", desc.Dst, 4); err != nil {
		return nil, err
	}
	if !desc.Algorithm.IsAPoolAlgorithm() {
		return nil, errors.Errorf("invalid pooling algorithm %d", desc.Algorithm)
	}
	var g poolGeometry
	g.n, g.c, g.h, g.w = dims4(desc.Src)
	g.kh, g.kw = desc.Kernel[0], desc.Kernel[1]
	if g.kh <= 0 || g.kw <= 0 {
		return nil, errors.Errorf("invalid pooling kernel %v", desc.Kernel)
	}
	g.oh = desc.Window.OutputDim(0, g.h, g.kh)
	g.ow = desc.Window.OutputDim(1, g.w, g.kw)
	if g.oh <= 0 || g.ow <= 0 {
		return nil, errors.Errorf("pooling of %s with kernel %v and %+v yields an empty output",
			desc.Src, desc.Kernel, desc.Window)
	}
	if !slices.Equal(desc.Dst.Dims, []int{g.n, g.c, g.oh, g.ow}) {
		return nil, errors.Errorf("pooling destination %s should have dimensions %v",
			desc.Dst, []int{g.n, g.c, g.oh, g.ow})
	}
	g.sh, g.sw = desc.Window.Stride(0), desc.Window.Stride(1)
	g.padTop, g.padLft = desc.Window.PaddingLow[0], desc.Window.PaddingLow[1]
	g.paddedH = g.h + g.padTop + desc.Window.PaddingHigh[0]
	g.paddedW = g.w + g.padLft + desc.Window.PaddingHigh[1]

	common := followFormat(e.activationsFormat(4, g.c), desc.Src, desc.Dst)
	src := desc.Src.WithFormat(resolve(desc.Src.Format, common))
	dst := desc.Dst.WithFormat(resolve(desc.Dst.Format, common))
	isMax := desc.Algorithm == primitive.PoolMax
	workspace := dst.WithDType(dtypes.Int32)

	var pd *primitiveDesc
	switch desc.Direction {
	case primitive.Forward:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				e.poolForward(g, desc.Algorithm, args[primitive.ArgSrc], args[primitive.ArgDst], args[primitive.ArgWorkspace])
				return nil
			}
		})
		pd.args[primitive.ArgSrc] = src
		pd.args[primitive.ArgDst] = dst

	case primitive.BackwardData:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				e.poolBackward(g, desc.Algorithm, args[primitive.ArgDiffDst], args[primitive.ArgDiffSrc], args[primitive.ArgWorkspace])
				return nil
			}
		})
		pd.args[primitive.ArgDiffDst] = dst
		pd.args[primitive.ArgDiffSrc] = src

	default:
		return nil, errors.Errorf("invalid pooling direction %s", desc.Direction)
	}
	if isMax {
		pd.args[primitive.ArgWorkspace] = workspace
	}
	return pd, nil
}

// poolForward computes the pooling. For max pooling it stores in the workspace the position
// (h*W + w) of the maximum of each window, or -1 if the window only covers padding.
func (e *Engine) poolForward(g poolGeometry, algorithm primitive.PoolAlgorithm, src, dst, workspace *memory.Memory) {
	srcDesc, srcFlat := src.Desc(), f32(src)
	dstDesc, dstFlat := dst.Desc(), f32(dst)
	var wsFlat []int32
	if workspace != nil {
		wsFlat = memory.FlatAs[int32](workspace)
	}
	e.pool.RunRange(g.n, 1, func(start, end int) {
		for n := start; n < end; n++ {
			for c := range g.c {
				for y := range g.oh {
					for x := range g.ow {
						top, left, paddedCount := g.window(y, x)
						var value float32
						switch algorithm {
						case primitive.PoolMax:
							best, argmax := float32(math.Inf(-1)), int32(-1)
							for ih := max(top, 0); ih < min(top+g.kh, g.h); ih++ {
								for iw := max(left, 0); iw < min(left+g.kw, g.w); iw++ {
									if v := srcFlat[srcDesc.Offset(n, c, ih, iw)]; argmax < 0 || v > best {
										best, argmax = v, int32(ih*g.w+iw)
									}
								}
							}
							if argmax >= 0 {
								value = best
							}
							wsFlat[dstDesc.Offset(n, c, y, x)] = argmax
						default:
							var sum float32
							var count int
							for ih := max(top, 0); ih < min(top+g.kh, g.h); ih++ {
								for iw := max(left, 0); iw < min(left+g.kw, g.w); iw++ {
									sum += srcFlat[srcDesc.Offset(n, c, ih, iw)]
									count++
								}
							}
							if algorithm == primitive.PoolAvgIncludePadding {
								count = paddedCount
							}
							if count > 0 {
								value = sum / float32(count)
							}
						}
						dstFlat[dstDesc.Offset(n, c, y, x)] = value
					}
				}
			}
		}
	})
}

// poolBackward routes (max) or distributes (average) the output gradient back to the input positions.
func (e *Engine) poolBackward(g poolGeometry, algorithm primitive.PoolAlgorithm, diffDst, diffSrc, workspace *memory.Memory) {
	dyDesc, dyFlat := diffDst.Desc(), f32(diffDst)
	dxDesc, dxFlat := diffSrc.Desc(), f32(diffSrc)
	var wsFlat []int32
	if workspace != nil {
		wsFlat = memory.FlatAs[int32](workspace)
	}
	diffSrc.Zero()
	e.pool.RunRange(g.n, 1, func(start, end int) {
		for n := start; n < end; n++ {
			for c := range g.c {
				for y := range g.oh {
					for x := range g.ow {
						pos := dyDesc.Offset(n, c, y, x)
						dy := dyFlat[pos]
						if algorithm == primitive.PoolMax {
							if argmax := int(wsFlat[pos]); argmax >= 0 {
								dxFlat[dxDesc.Offset(n, c, argmax/g.w, argmax%g.w)] += dy
							}
							continue
						}
						top, left, count := g.window(y, x)
						if algorithm == primitive.PoolAvgExcludePadding {
							rows := min(top+g.kh, g.h) - max(top, 0)
							cols := min(left+g.kw, g.w) - max(left, 0)
							count = max(rows, 0) * max(cols, 0)
						}
						if count <= 0 {
							continue
						}
						share := dy / float32(count)
						for ih := max(top, 0); ih < min(top+g.kh, g.h); ih++ {
							for iw := max(left, 0); iw < min(left+g.kw, g.w); iw++ {
								dxFlat[dxDesc.Offset(n, c, ih, iw)] += share
							}
						}
					}
				}
			}
		}
	})
}
