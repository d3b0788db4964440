// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"math"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/pkg/errors"
)

type lrnParams struct {
	localSize      int
	alpha, beta, k float32
}

// channelWindow returns the range of channels [first, last) summed for channel c.
func (p lrnParams) channelWindow(c, channels int) (first, last int) {
	half := (p.localSize - 1) / 2
	return max(c-half, 0), min(c-half+p.localSize, channels)
}

func (e *Engine) lrnDesc(desc primitive.LRNDesc) (*primitiveDesc, error) {
	if err := checkCompute("LRN source", desc.Src, 4); err != nil {
		return nil, err
	}
	if desc.LocalSize <= 0 {
		return nil, errors.Errorf("LRN local size must be > 0, got %d", desc.LocalSize)
	}
	params := lrnParams{localSize: desc.LocalSize, alpha: desc.Alpha, beta: desc.Beta, k: desc.K}
	src := desc.Src.WithFormat(resolve(desc.Src.Format, e.activationsFormat(4, desc.Src.Dims[1])))

	var pd *primitiveDesc
	switch desc.Direction {
	case primitive.Forward:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				e.lrnForward(params, args[primitive.ArgSrc], args[primitive.ArgDst])
				return nil
			}
		})
		pd.args[primitive.ArgSrc] = src
		pd.args[primitive.ArgDst] = src

	case primitive.BackwardData:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				e.lrnBackward(params, args[primitive.ArgSrc], args[primitive.ArgDiffDst], args[primitive.ArgDiffSrc])
				return nil
			}
		})
		pd.args[primitive.ArgSrc] = src
		pd.args[primitive.ArgDiffDst] = src
		pd.args[primitive.ArgDiffSrc] = src

	default:
		return nil, errors.Errorf("invalid LRN direction %s", desc.Direction)
	}
	return pd, nil
}

// lrnScales computes, for image n and spatial position (h, w), the scale of every channel:
// s[c] = k + alpha/localSize * sum_{c' in window(c)} x[c']^2.
func (p lrnParams) lrnScales(desc memory.Desc, x []float32, n, h, w int, scales []float32) {
	channels := desc.Dims[1]
	for c := range channels {
		first, last := p.channelWindow(c, channels)
		var sum float32
		for ci := first; ci < last; ci++ {
			v := x[desc.Offset(n, ci, h, w)]
			sum += v * v
		}
		scales[c] = p.k + p.alpha/float32(p.localSize)*sum
	}
}

func (e *Engine) lrnForward(p lrnParams, src, dst *memory.Memory) {
	desc, x, y := src.Desc(), f32(src), f32(dst)
	n, c, h, w := dims4(desc)
	e.pool.RunRange(n, 1, func(start, end int) {
		scales := make([]float32, c)
		for ni := start; ni < end; ni++ {
			for hi := range h {
				for wi := range w {
					p.lrnScales(desc, x, ni, hi, wi, scales)
					for ci, s := range scales {
						pos := desc.Offset(ni, ci, hi, wi)
						y[pos] = x[pos] * float32(math.Pow(float64(s), -float64(p.beta)))
					}
				}
			}
		}
	})
}

// lrnBackward computes the gradient with respect to the input, recomputing the scales:
//
//	dx[c] = dy[c] * s[c]^-beta - 2*alpha*beta/localSize * x[c] * sum_{c': c in window(c')} dy[c'] * y[c'] / s[c']
func (e *Engine) lrnBackward(p lrnParams, src, diffDst, diffSrc *memory.Memory) {
	desc, x, dy, dx := src.Desc(), f32(src), f32(diffDst), f32(diffSrc)
	n, c, h, w := dims4(desc)
	factor := 2 * p.alpha * p.beta / float32(p.localSize)
	e.pool.RunRange(n, 1, func(start, end int) {
		scales := make([]float32, c)
		ratios := make([]float32, c) // dy * y / s
		for ni := start; ni < end; ni++ {
			for hi := range h {
				for wi := range w {
					p.lrnScales(desc, x, ni, hi, wi, scales)
					for ci, s := range scales {
						pos := desc.Offset(ni, ci, hi, wi)
						y := x[pos] * float32(math.Pow(float64(s), -float64(p.beta)))
						ratios[ci] = dy[pos] * y / s
					}
					for ci, s := range scales {
						pos := desc.Offset(ni, ci, hi, wi)
						// Channels c' whose window contains ci.
						var sum float32
						for cj := max(ci-p.localSize, 0); cj < min(ci+p.localSize+1, c); cj++ {
							if first, last := p.channelWindow(cj, c); ci >= first && ci < last {
								sum += ratios[cj]
							}
						}
						dx[pos] = dy[pos]*float32(math.Pow(float64(s), -float64(p.beta))) - factor*x[pos]*sum
					}
				}
			}
		}
	})
}
