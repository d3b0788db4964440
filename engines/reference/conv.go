// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"slices"
	"sync"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// convGeometry holds the static sizes of a convolution, derived once when the descriptor is created.
type convGeometry struct {
	n, c, h, w     int // Input.
	o, kh, kw      int // Kernel.
	oh, ow         int // Output spatial dimensions.
	sh, sw         int // Strides.
	padTop, padLft int
}

// k is the size of the reduced axis of the GEMM: input channels x kernel window.
func (g convGeometry) k() int { return g.c * g.kh * g.kw }

// p is the number of output spatial positions.
func (g convGeometry) p() int { return g.oh * g.ow }

func (e *Engine) convDesc(desc primitive.ConvDesc) (*primitiveDesc, error) {
	if err := checkCompute("convolution source", desc.Src, 4); err != nil {
		return nil, err
	}
	if err := checkCompute("convolution weights", desc.Weights, 4); err != nil {
		return nil, err
	}
	if err := checkCompute("convolution destination", desc.Dst, 4); err != nil {
		return nil, err
	}
	var g convGeometry
	g.n, g.c, g.h, g.w = dims4(desc.Src)
	var weightsChannels int
	g.o, weightsChannels, g.kh, g.kw = dims4(desc.Weights)
	if weightsChannels != g.c {
		return nil, errors.Errorf("convolution weights %s input channels don't match source %s", desc.Weights, desc.Src)
	}
	g.oh = desc.Window.OutputDim(0, g.h, g.kh)
	g.ow = desc.Window.OutputDim(1, g.w, g.kw)
	if g.oh <= 0 || g.ow <= 0 {
		return nil, errors.Errorf("convolution of %s with kernel %s and %+v yields an empty output",
			desc.Src, desc.Weights, desc.Window)
	}
	if !slices.Equal(desc.Dst.Dims, []int{g.n, g.o, g.oh, g.ow}) {
		return nil, errors.Errorf("convolution destination %s should have dimensions %v",
			desc.Dst, []int{g.n, g.o, g.oh, g.ow})
	}
	g.sh, g.sw = desc.Window.Stride(0), desc.Window.Stride(1)
	g.padTop, g.padLft = desc.Window.PaddingLow[0], desc.Window.PaddingLow[1]

	src := desc.Src.WithFormat(resolve(desc.Src.Format, e.activationsFormat(4, g.c)))
	weights := desc.Weights.WithFormat(resolve(desc.Weights.Format, e.weightsFormat(g.o, g.c)))
	dst := desc.Dst.WithFormat(resolve(desc.Dst.Format, e.activationsFormat(4, g.o)))
	var bias memory.Desc
	if desc.HasBias() {
		if err := checkCompute("convolution bias", desc.Bias, 1); err != nil {
			return nil, err
		}
		if desc.Bias.Dims[0] != g.o {
			return nil, errors.Errorf("convolution bias %s doesn't match %d output channels", desc.Bias, g.o)
		}
		bias = desc.Bias.WithFormat(memory.FormatX)
	}

	var pd *primitiveDesc
	switch desc.Direction {
	case primitive.Forward:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				e.convForward(g, args[primitive.ArgSrc], args[primitive.ArgWeights], args[primitive.ArgBias], args[primitive.ArgDst])
				return nil
			}
		})
		pd.args[primitive.ArgSrc] = src
		pd.args[primitive.ArgWeights] = weights
		pd.args[primitive.ArgDst] = dst
		if bias.Ok() {
			pd.args[primitive.ArgBias] = bias
		}

	case primitive.BackwardData:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				e.convBackwardData(g, args[primitive.ArgDiffDst], args[primitive.ArgWeights], args[primitive.ArgDiffSrc])
				return nil
			}
		})
		pd.args[primitive.ArgDiffDst] = dst
		pd.args[primitive.ArgWeights] = weights
		pd.args[primitive.ArgDiffSrc] = src

	case primitive.BackwardWeights:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				e.convBackwardWeights(g, args[primitive.ArgSrc], args[primitive.ArgDiffDst],
					args[primitive.ArgDiffWeights], args[primitive.ArgDiffBias])
				return nil
			}
		})
		pd.args[primitive.ArgSrc] = src
		pd.args[primitive.ArgDiffDst] = dst
		pd.args[primitive.ArgDiffWeights] = weights
		if bias.Ok() {
			pd.args[primitive.ArgDiffBias] = bias
		}

	default:
		return nil, errors.Errorf("invalid convolution direction %s", desc.Direction)
	}
	return pd, nil
}

// general wraps a row-major matrix for gonum's BLAS.
func general(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// im2col gathers the input windows of image n into col, a [K, P] row-major matrix.
// Positions falling in the padding are set to zero.
func (g convGeometry) im2col(srcDesc memory.Desc, src []float32, n int, col []float32) {
	p := g.p()
	for ci := range g.c {
		for ki := range g.kh {
			for kj := range g.kw {
				row := col[((ci*g.kh+ki)*g.kw+kj)*p:][:p]
				for y := range g.oh {
					ih := y*g.sh - g.padTop + ki
					if ih < 0 || ih >= g.h {
						clear(row[y*g.ow : (y+1)*g.ow])
						continue
					}
					for x := range g.ow {
						iw := x*g.sw - g.padLft + kj
						if iw < 0 || iw >= g.w {
							row[y*g.ow+x] = 0
							continue
						}
						row[y*g.ow+x] = src[srcDesc.Offset(n, ci, ih, iw)]
					}
				}
			}
		}
	}
}

// col2im zeroes image n of dst and accumulates col, a [K, P] matrix, into it.
func (g convGeometry) col2im(dstDesc memory.Desc, dst []float32, n int, col []float32) {
	for ci := range g.c {
		for hi := range g.h {
			for wi := range g.w {
				dst[dstDesc.Offset(n, ci, hi, wi)] = 0
			}
		}
	}
	p := g.p()
	for ci := range g.c {
		for ki := range g.kh {
			for kj := range g.kw {
				row := col[((ci*g.kh+ki)*g.kw+kj)*p:][:p]
				for y := range g.oh {
					ih := y*g.sh - g.padTop + ki
					if ih < 0 || ih >= g.h {
						continue
					}
					for x := range g.ow {
						iw := x*g.sw - g.padLft + kj
						if iw < 0 || iw >= g.w {
							continue
						}
						dst[dstDesc.Offset(n, ci, ih, iw)] += row[y*g.ow+x]
					}
				}
			}
		}
	}
}

// weightsMatrix gathers the weights into a row-major [O, K] matrix.
func (g convGeometry) weightsMatrix(weights *memory.Memory) []float32 {
	desc, flat := weights.Desc(), f32(weights)
	k := g.k()
	wmat := make([]float32, g.o*k)
	for oi := range g.o {
		for ci := range g.c {
			for ki := range g.kh {
				for kj := range g.kw {
					wmat[oi*k+(ci*g.kh+ki)*g.kw+kj] = flat[desc.Offset(oi, ci, ki, kj)]
				}
			}
		}
	}
	return wmat
}

// gatherOutput copies image n of an output-shaped memory into a row-major [O, P] matrix.
func (g convGeometry) gatherOutput(desc memory.Desc, flat []float32, n int, out []float32) {
	p := g.p()
	for oi := range g.o {
		for y := range g.oh {
			for x := range g.ow {
				out[oi*p+y*g.ow+x] = flat[desc.Offset(n, oi, y, x)]
			}
		}
	}
}

func (e *Engine) convForward(g convGeometry, src, weights, bias, dst *memory.Memory) {
	srcDesc, srcFlat := src.Desc(), f32(src)
	dstDesc, dstFlat := dst.Desc(), f32(dst)
	var biasFlat []float32
	if bias != nil {
		biasFlat = f32(bias)
	}
	wmat := g.weightsMatrix(weights)
	k, p := g.k(), g.p()
	e.pool.RunRange(g.n, 1, func(start, end int) {
		col := make([]float32, k*p)
		out := make([]float32, g.o*p)
		for n := start; n < end; n++ {
			g.im2col(srcDesc, srcFlat, n, col)
			blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, general(g.o, k, wmat), general(k, p, col), 0, general(g.o, p, out))
			for oi := range g.o {
				var b float32
				if biasFlat != nil {
					b = biasFlat[oi]
				}
				for y := range g.oh {
					for x := range g.ow {
						dstFlat[dstDesc.Offset(n, oi, y, x)] = out[oi*p+y*g.ow+x] + b
					}
				}
			}
		}
	})
}

func (e *Engine) convBackwardData(g convGeometry, diffDst, weights, diffSrc *memory.Memory) {
	dyDesc, dyFlat := diffDst.Desc(), f32(diffDst)
	dxDesc, dxFlat := diffSrc.Desc(), f32(diffSrc)
	wmat := g.weightsMatrix(weights)
	k, p := g.k(), g.p()
	e.pool.RunRange(g.n, 1, func(start, end int) {
		dy := make([]float32, g.o*p)
		dcol := make([]float32, k*p)
		for n := start; n < end; n++ {
			g.gatherOutput(dyDesc, dyFlat, n, dy)
			blas32.Gemm(blas.Trans, blas.NoTrans, 1, general(g.o, k, wmat), general(g.o, p, dy), 0, general(k, p, dcol))
			g.col2im(dxDesc, dxFlat, n, dcol)
		}
	})
}

func (e *Engine) convBackwardWeights(g convGeometry, src, diffDst, diffWeights, diffBias *memory.Memory) {
	srcDesc, srcFlat := src.Desc(), f32(src)
	dyDesc, dyFlat := diffDst.Desc(), f32(diffDst)
	k, p := g.k(), g.p()
	dwmat := make([]float32, g.o*k)
	db := make([]float32, g.o)
	var mu sync.Mutex
	e.pool.RunRange(g.n, 1, func(start, end int) {
		col := make([]float32, k*p)
		dy := make([]float32, g.o*p)
		partialW := make([]float32, g.o*k)
		partialB := make([]float32, g.o)
		for n := start; n < end; n++ {
			g.im2col(srcDesc, srcFlat, n, col)
			g.gatherOutput(dyDesc, dyFlat, n, dy)
			blas32.Gemm(blas.NoTrans, blas.Trans, 1, general(g.o, p, dy), general(k, p, col), 1, general(g.o, k, partialW))
			for oi := range g.o {
				for _, v := range dy[oi*p : (oi+1)*p] {
					partialB[oi] += v
				}
			}
		}
		mu.Lock()
		defer mu.Unlock()
		for ii, v := range partialW {
			dwmat[ii] += v
		}
		for ii, v := range partialB {
			db[ii] += v
		}
	})

	dwDesc, dwFlat := diffWeights.Desc(), f32(diffWeights)
	for oi := range g.o {
		for ci := range g.c {
			for ki := range g.kh {
				for kj := range g.kw {
					dwFlat[dwDesc.Offset(oi, ci, ki, kj)] = dwmat[oi*k+(ci*g.kh+ki)*g.kw+kj]
				}
			}
		}
	}
	if diffBias != nil {
		copy(f32(diffBias), db)
	}
}
