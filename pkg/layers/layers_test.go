// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/gomlx/dnnbridge/engines/reference"
	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T, options ...Option) *Runtime {
	engine, err := reference.New("block=8,parallelism=2")
	require.NoError(t, err)
	return New(engine, options...)
}

func randomValues(rng *rand.Rand, size int) []float32 {
	values := make([]float32, size)
	for ii := range values {
		values[ii] = rng.Float32()*2 - 1
	}
	return values
}

func newTensor(t *testing.T, values []float32, format memory.Format, dims ...int) *tensors.Tensor {
	x, err := tensors.FromFlatWithFormat(values, format, dims...)
	require.NoError(t, err)
	return x
}

// plainValues returns the values of x in the plain layout, as float32.
func plainValues(t *testing.T, rt *Runtime, x *tensors.Tensor) []float32 {
	plain, err := rt.ToPlain(context.Background(), x)
	require.NoError(t, err)
	values, err := tensors.FlatAs[float32](plain)
	require.NoError(t, err)
	return values
}

// layerInfo returns the most recently used cached layer with the given name.
func layerInfo(t *testing.T, rt *Runtime, name string) LayerInfo {
	for _, info := range rt.Factory().Layers() {
		if info.Name == name {
			return info
		}
	}
	require.Failf(t, "layer not found", "no cached layer named %q", name)
	return LayerInfo{}
}

func kinds(kinds ...primitive.Kind) []primitive.Kind { return kinds }

// naiveConv2D computes a convolution over plain NCHW / OIHW arrays.
func naiveConv2D(x []float32, xDims []int, w []float32, wDims []int, b []float32, window primitive.Window2D) []float32 {
	n, c, h, width := xDims[0], xDims[1], xDims[2], xDims[3]
	o, kh, kw := wDims[0], wDims[2], wDims[3]
	oh, ow := window.OutputDim(0, h, kh), window.OutputDim(1, width, kw)
	y := make([]float32, n*o*oh*ow)
	for ni := range n {
		for oi := range o {
			for yy := range oh {
				for xx := range ow {
					var sum float32
					if b != nil {
						sum = b[oi]
					}
					for ci := range c {
						for ki := range kh {
							for kj := range kw {
								ih := yy*window.Stride(0) - window.PaddingLow[0] + ki
								iw := xx*window.Stride(1) - window.PaddingLow[1] + kj
								if ih < 0 || ih >= h || iw < 0 || iw >= width {
									continue
								}
								sum += x[((ni*c+ci)*h+ih)*width+iw] * w[((oi*c+ci)*kh+ki)*kw+kj]
							}
						}
					}
					y[((ni*o+oi)*oh+yy)*ow+xx] = sum
				}
			}
		}
	}
	return y
}

var samePadding = primitive.Window2D{PaddingLow: [2]int{1, 1}, PaddingHigh: [2]int{1, 1}}

func TestConv2DCaching(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rng := rand.New(rand.NewPCG(1, 2))
	xDims, wDims := []int{2, 8, 5, 5}, []int{8, 8, 3, 3}
	xValues := randomValues(rng, 2*8*5*5)
	wValues := randomValues(rng, 8*8*3*3)
	bValues := randomValues(rng, 8)
	x := newTensor(t, xValues, memory.FormatNCHW, xDims...)
	w := newTensor(t, wValues, memory.FormatOIHW, wDims...)
	b := newTensor(t, bValues, memory.FormatX, 8)

	y, err := rt.Conv2D(ctx, x, w, b, samePadding)
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNChw8c, y.Format())
	assert.Equal(t, []int{2, 8, 5, 5}, y.Dims())
	info := layerInfo(t, rt, "Conv2D")
	assert.Equal(t, kinds(primitive.KindReorder, primitive.KindReorder, primitive.KindConvolution), info.Kinds)
	assert.Equal(t, 2, info.NumReorders)
	assert.Equal(t, Stats{Misses: 1, Entries: 1}, rt.Factory().Stats())

	// Same signature, new data: the cached layer is reused, with its handles rebound.
	x2Values := randomValues(rng, len(xValues))
	y2, err := rt.Conv2D(ctx, newTensor(t, x2Values, memory.FormatNCHW, xDims...), w, b, samePadding)
	require.NoError(t, err)
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Entries: 1}, rt.Factory().Stats())

	assert.InDeltaSlice(t, naiveConv2D(x2Values, xDims, wValues, wDims, bValues, samePadding), plainValues(t, rt, y2), 1e-4)
	// Outputs are new tensors on every call: y keeps the first result.
	assert.InDeltaSlice(t, naiveConv2D(xValues, xDims, wValues, wDims, bValues, samePadding), plainValues(t, rt, y), 1e-4)

	// A new shape or a new layout of the same dims builds a new layer.
	numEntries := rt.Factory().Len()
	_, err = rt.Conv2D(ctx, newTensor(t, xValues[:8*5*5], memory.FormatNCHW, 1, 8, 5, 5), w, b, samePadding)
	require.NoError(t, err)
	_, err = rt.Conv2D(ctx, newTensor(t, xValues, memory.FormatNHWC, xDims...), w, b, samePadding)
	require.NoError(t, err)
	_, err = rt.Conv2D(ctx, x, w, nil, samePadding)
	require.NoError(t, err)
	assert.Equal(t, numEntries+3, rt.Factory().Len())
}

func TestLayoutPropagation(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rng := rand.New(rand.NewPCG(3, 4))
	x := newTensor(t, randomValues(rng, 2*3*9*9), memory.FormatNCHW, 2, 3, 9, 9)
	w := newTensor(t, randomValues(rng, 16*3*3*3), memory.FormatOIHW, 16, 3, 3, 3)

	y, err := rt.Conv2D(ctx, x, w, nil, primitive.Window2D{Strides: [2]int{2, 2}})
	require.NoError(t, err)
	require.Equal(t, memory.FormatNChw8c, y.Format())
	// 3 input channels can't be blocked: neither the input nor the weights are reordered.
	assert.Equal(t, kinds(primitive.KindConvolution), layerInfo(t, rt, "Conv2D").Kinds)

	y, err = rt.ReLU(ctx, y, 0)
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNChw8c, y.Format())
	assert.Equal(t, kinds(primitive.KindReLU), layerInfo(t, rt, "ReLU").Kinds)

	y, err = rt.LRN(ctx, y, DefaultLRNConfig())
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNChw8c, y.Format())
	assert.Equal(t, kinds(primitive.KindLRN), layerInfo(t, rt, "LRN").Kinds)

	pooled, workspace, err := rt.Pool2D(ctx, y, PoolConfig{
		Algorithm: primitive.PoolMax,
		Kernel:    [2]int{2, 2},
		Window:    primitive.Window2D{Strides: [2]int{2, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 16, 2, 2}, pooled.Dims())
	assert.Equal(t, memory.FormatNChw8c, pooled.Format())
	assert.Equal(t, dtypes.Int32, workspace.DType())
	assert.Equal(t, kinds(primitive.KindPooling), layerInfo(t, rt, "Pool2D").Kinds)

	fc := newTensor(t, randomValues(rng, 10*16*2*2), memory.FormatOIHW, 10, 16, 2, 2)
	logits, err := rt.Linear(ctx, pooled, fc, nil)
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNC, logits.Format())
	// The inner product wants the plain layout.
	assert.Equal(t, kinds(primitive.KindReorder, primitive.KindInnerProduct), layerInfo(t, rt, "Linear").Kinds)

	probs, err := rt.Softmax(ctx, logits)
	require.NoError(t, err)
	assert.Zero(t, layerInfo(t, rt, "Softmax").NumReorders)
	logitsValues, err := tensors.FlatAs[float32](logits)
	require.NoError(t, err)
	values, err := tensors.FlatAs[float32](probs)
	require.NoError(t, err)
	assert.InDeltaSlice(t, naiveSoftmax(logitsValues, 10), values, 1e-6)
}

// naiveSoftmax computes the softmax of each row of classes values, in float64.
func naiveSoftmax(x []float32, classes int) []float64 {
	y := make([]float64, len(x))
	for start := 0; start < len(x); start += classes {
		var sum float64
		for ii := start; ii < start+classes; ii++ {
			y[ii] = math.Exp(float64(x[ii]))
			sum += y[ii]
		}
		for ii := start; ii < start+classes; ii++ {
			y[ii] /= sum
		}
	}
	return y
}

func TestSoftmax(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(21, 22))
	const batch, classes = 3, 5
	xValues := randomValues(rng, batch*classes)
	for ii := range xValues {
		xValues[ii] *= 5
	}
	want := naiveSoftmax(xValues, classes)

	t.Run("Float32", func(t *testing.T) {
		rt := newRuntime(t)
		probs, err := rt.Softmax(ctx, newTensor(t, xValues, memory.FormatNC, batch, classes))
		require.NoError(t, err)
		assert.Equal(t, memory.MakeDesc(dtypes.Float32, memory.FormatNC, batch, classes), probs.Desc())
		got, err := tensors.FlatAs[float32](probs)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-6)

		logProbs, err := rt.LogSoftmax(ctx, newTensor(t, xValues, memory.FormatNC, batch, classes))
		require.NoError(t, err)
		got, err = tensors.FlatAs[float32](logProbs)
		require.NoError(t, err)
		for ii, p := range want {
			assert.InDeltaf(t, math.Log(p), float64(got[ii]), 1e-5, "element %d", ii)
		}
		assert.Equal(t, kinds(primitive.KindSoftmax), layerInfo(t, rt, "LogSoftmax").Kinds)
	})

	t.Run("Float64", func(t *testing.T) {
		rt := newRuntime(t, WithPlainOutputs(true))
		x64 := make([]float64, len(xValues))
		for ii, v := range xValues {
			x64[ii] = float64(v)
		}
		x, err := tensors.FromFlat(x64, batch, classes)
		require.NoError(t, err)
		probs, err := rt.Softmax(ctx, x)
		require.NoError(t, err)
		assert.Equal(t, memory.MakeDesc(dtypes.Float64, memory.FormatNC, batch, classes), probs.Desc())
		assert.Equal(t, kinds(primitive.KindReorder, primitive.KindSoftmax, primitive.KindReorder),
			layerInfo(t, rt, "Softmax").Kinds)
		got, err := tensors.FlatAs[float64](probs)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-6)
	})
}

func TestSoftmaxCrossEntropyBackward(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	const classes = 3
	probsValues := []float32{0.2, 0.3, 0.5, 0.6, 0.3, 0.1}
	probs := newTensor(t, probsValues, memory.FormatNC, 2, classes)

	testCases := []struct {
		name   string
		labels []int32
		want   []float32
	}{
		{"valid", []int32{2, 0}, []float32{0.2, 0.3, -0.5, -0.4, 0.3, 0.1}},
		{"negative", []int32{-1, 1}, []float32{0.2, 0.3, 0.5, 0.6, -0.7, 0.1}},
		{"out-of-range", []int32{classes, 0}, []float32{0.2, 0.3, 0.5, -0.4, 0.3, 0.1}},
		{"all-ignored", []int32{-1, classes + 1}, probsValues},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			labels, err := tensors.FromFlat(tc.labels, 2)
			require.NoError(t, err)
			dx, err := rt.SoftmaxCrossEntropyBackward(ctx, probs, labels)
			require.NoError(t, err)
			assert.Equal(t, memory.MakeDesc(dtypes.Float32, memory.FormatNC, 2, classes), dx.Desc())
			got, err := tensors.FlatAs[float32](dx)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tc.want, got, 1e-6)
		})
	}
	// probs is left untouched.
	assert.Equal(t, []float32{0.2, 0.3, 0.5, 0.6, 0.3, 0.1}, probsValues)

	// Labels must be Int32 with one value per example, and probs must have rank 2.
	floatLabels := newTensor(t, []float32{0, 1}, memory.FormatX, 2)
	_, err := rt.SoftmaxCrossEntropyBackward(ctx, probs, floatLabels)
	require.Error(t, err)
	shortLabels, err := tensors.FromFlat([]int32{0}, 1)
	require.NoError(t, err)
	_, err = rt.SoftmaxCrossEntropyBackward(ctx, probs, shortLabels)
	require.Error(t, err)
	_, err = rt.SoftmaxCrossEntropyBackward(ctx, newTensor(t, make([]float32, 8), memory.FormatNCHW, 1, 2, 2, 2), shortLabels)
	require.Error(t, err)
}

func TestPreconvertedWeights(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rng := rand.New(rand.NewPCG(5, 6))
	xDims, wDims := []int{1, 8, 4, 4}, []int{16, 8, 3, 3}
	xValues, wValues := randomValues(rng, 8*4*4), randomValues(rng, 16*8*3*3)
	x := newTensor(t, xValues, memory.FormatNCHW, xDims...)
	w := newTensor(t, wValues, memory.FormatOIHW, wDims...)

	xDesc, wDesc, yDesc, err := rt.PreferredConv2DLayouts(xDims, wDims, samePadding)
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNChw8c, xDesc.Format)
	assert.Equal(t, memory.FormatOIhw8i8o, wDesc.Format)
	assert.Equal(t, []int{1, 16, 4, 4}, yDesc.Dims)

	wInternal, err := rt.ToInternal(ctx, w, wDesc.Format)
	require.NoError(t, err)
	assert.Equal(t, memory.FormatOIhw8i8o, wInternal.Format())
	y, err := rt.Conv2D(ctx, x, wInternal, nil, samePadding)
	require.NoError(t, err)
	assert.Equal(t, kinds(primitive.KindReorder, primitive.KindConvolution), layerInfo(t, rt, "Conv2D").Kinds)

	xInternal, err := rt.ToInternal(ctx, x, xDesc.Format)
	require.NoError(t, err)
	same, err := rt.ToInternal(ctx, xInternal, xDesc.Format)
	require.NoError(t, err)
	assert.Same(t, xInternal, same)
	y2, err := rt.Conv2D(ctx, xInternal, wInternal, nil, samePadding)
	require.NoError(t, err)
	assert.Equal(t, kinds(primitive.KindConvolution), layerInfo(t, rt, "Conv2D").Kinds)

	want := naiveConv2D(xValues, xDims, wValues, wDims, nil, samePadding)
	assert.InDeltaSlice(t, want, plainValues(t, rt, y), 1e-4)
	assert.InDeltaSlice(t, want, plainValues(t, rt, y2), 1e-4)
}

func TestPlainOutputs(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, WithPlainOutputs(true))
	assert.True(t, rt.PlainOutputs())
	rng := rand.New(rand.NewPCG(7, 8))
	xDims, wDims := []int{1, 8, 3, 3}, []int{8, 8, 1, 1}
	xValues, wValues := randomValues(rng, 8*3*3), randomValues(rng, 8*8)
	x64 := make([]float64, len(xValues))
	for ii, v := range xValues {
		x64[ii] = float64(v)
	}
	x, err := tensors.FromFlat(x64, xDims...)
	require.NoError(t, err)
	w := newTensor(t, wValues, memory.FormatOIHW, wDims...)

	y, err := rt.Conv2D(ctx, x, w, nil, primitive.Window2D{})
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNCHW, y.Format())
	assert.Equal(t, dtypes.Float64, y.DType())
	assert.Equal(t, kinds(primitive.KindReorder, primitive.KindReorder, primitive.KindConvolution, primitive.KindReorder),
		layerInfo(t, rt, "Conv2D").Kinds)

	got, err := tensors.FlatAs[float64](y)
	require.NoError(t, err)
	want := naiveConv2D(xValues, xDims, wValues, wDims, nil, primitive.Window2D{})
	for ii := range want {
		assert.InDelta(t, float64(want[ii]), got[ii], 1e-4)
	}
}

func TestEviction(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, WithMaxCacheSize(2))
	relu := func(width int) {
		_, err := rt.ReLU(ctx, newTensor(t, make([]float32, width), memory.FormatNC, 1, width), 0)
		require.NoError(t, err)
	}
	relu(2)
	relu(3)
	relu(4)
	assert.Equal(t, Stats{Misses: 3, Evictions: 1, Entries: 2}, rt.Factory().Stats())
	relu(4)
	relu(2)
	assert.Equal(t, Stats{Hits: 1, Misses: 4, Evictions: 2, Entries: 2}, rt.Factory().Stats())

	rt = newRuntime(t, WithMaxCacheSize(0))
	relu(2)
	relu(2)
	assert.Equal(t, Stats{Misses: 2}, rt.Factory().Stats())
}

func TestBackward(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rng := rand.New(rand.NewPCG(9, 10))
	xDims, wDims := []int{2, 8, 4, 4}, []int{8, 8, 3, 3}
	xValues, wValues := randomValues(rng, 2*8*4*4), randomValues(rng, 8*8*3*3)
	x := newTensor(t, xValues, memory.FormatNCHW, xDims...)
	w := newTensor(t, wValues, memory.FormatOIHW, wDims...)

	t.Run("Conv2D", func(t *testing.T) {
		dyValues := randomValues(rng, 2*8*4*4)
		dy := newTensor(t, dyValues, memory.FormatNCHW, 2, 8, 4, 4)
		dx, err := rt.Conv2DBackwardData(ctx, dy, w, xDims, samePadding)
		require.NoError(t, err)
		assert.Equal(t, xDims, dx.Dims())
		dw, db, err := rt.Conv2DBackwardWeights(ctx, x, dy, [2]int{3, 3}, true, samePadding)
		require.NoError(t, err)
		assert.Equal(t, wDims, dw.Dims())
		assert.Equal(t, []int{8}, db.Dims())

		// Convolution is linear in w, so <dy, conv(x, v)> == <dW, v> for any v.
		v := randomValues(rng, len(wValues))
		var lhs, rhs float64
		for ii, yv := range naiveConv2D(xValues, xDims, v, wDims, nil, samePadding) {
			lhs += float64(yv) * float64(dyValues[ii])
		}
		for ii, g := range plainValues(t, rt, dw) {
			rhs += float64(g) * float64(v[ii])
		}
		assert.InDelta(t, lhs, rhs, 1e-2)

		// And linear in x: <dy, conv(u, w)> == <dX, u>.
		u := randomValues(rng, len(xValues))
		lhs, rhs = 0, 0
		for ii, yv := range naiveConv2D(u, xDims, wValues, wDims, nil, samePadding) {
			lhs += float64(yv) * float64(dyValues[ii])
		}
		for ii, g := range plainValues(t, rt, dx) {
			rhs += float64(g) * float64(u[ii])
		}
		assert.InDelta(t, lhs, rhs, 1e-2)
	})

	t.Run("Pool2D", func(t *testing.T) {
		cfg := PoolConfig{Algorithm: primitive.PoolMax, Kernel: [2]int{2, 2}, Window: primitive.Window2D{Strides: [2]int{2, 2}}}
		y, workspace, err := rt.Pool2D(ctx, x, cfg)
		require.NoError(t, err)
		dy := newTensor(t, randomValues(rng, 2*8*2*2), memory.FormatNCHW, 2, 8, 2, 2)
		dx, err := rt.Pool2DBackward(ctx, dy, workspace, xDims, cfg)
		require.NoError(t, err)
		assert.Equal(t, xDims, dx.Dims())
		// Non-overlapping windows: each output gradient lands on exactly one input.
		dyValues, err := tensors.FlatAs[float32](dy)
		require.NoError(t, err)
		var sumDy, sumDx float64
		for _, v := range dyValues {
			sumDy += float64(v)
		}
		for _, v := range plainValues(t, rt, dx) {
			sumDx += float64(v)
		}
		assert.InDelta(t, sumDy, sumDx, 1e-4)
		assert.Equal(t, []int{2, 8, 2, 2}, y.Dims())

		_, err = rt.Pool2DBackward(ctx, dy, nil, xDims, cfg)
		require.Error(t, err)
	})

	t.Run("Linear", func(t *testing.T) {
		xs := newTensor(t, []float32{1, 2, 3, 4, 5, 6}, memory.FormatNC, 2, 3)
		ws := newTensor(t, []float32{1, 0, -1, 0.5, 0.5, 0.5}, memory.FormatOI, 2, 3)
		dy := newTensor(t, []float32{1, 2, -1, 1}, memory.FormatNC, 2, 2)
		dx, dw, db, err := rt.LinearBackward(ctx, xs, ws, dy, true)
		require.NoError(t, err)
		// dx = dy * W
		assert.InDeltaSlice(t, []float32{2, 1, 0, -0.5, 0.5, 1.5}, plainValues(t, rt, dx), 1e-6)
		// dW = dy^T * x
		assert.InDeltaSlice(t, []float32{-3, -3, -3, 6, 9, 12}, plainValues(t, rt, dw), 1e-6)
		assert.InDeltaSlice(t, []float32{0, 3}, plainValues(t, rt, db), 1e-6)
		// dy is used by both primitives, without reorders.
		info := layerInfo(t, rt, "LinearBackward")
		assert.Equal(t, kinds(primitive.KindInnerProductBackwardData, primitive.KindInnerProductBackwardWeights), info.Kinds)

		y, err := rt.Linear(ctx, xs, ws, newTensor(t, []float32{10, 20}, memory.FormatX, 2))
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{8, 23, 8, 27.5}, plainValues(t, rt, y), 1e-6)
	})

	t.Run("ReLU", func(t *testing.T) {
		xs := newTensor(t, []float32{-1, 2, -3, 4}, memory.FormatNC, 2, 2)
		dy := newTensor(t, []float32{1, 1, 1, 1}, memory.FormatNC, 2, 2)
		dx, err := rt.ReLUBackward(ctx, xs, dy, 0)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 0, 1}, plainValues(t, rt, dx))
	})

	t.Run("LRN", func(t *testing.T) {
		dy := newTensor(t, randomValues(rng, len(xValues)), memory.FormatNCHW, xDims...)
		dx, err := rt.LRNBackward(ctx, x, dy, DefaultLRNConfig())
		require.NoError(t, err)
		assert.Equal(t, xDims, dx.Dims())
		// dx keeps the layout of x.
		assert.Equal(t, memory.FormatNCHW, dx.Format())
		assert.Zero(t, layerInfo(t, rt, "LRNBackward").NumReorders)
	})
}

func TestConcatAndSum(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rng := rand.New(rand.NewPCG(11, 12))
	aValues, bValues := randomValues(rng, 8*2*2), randomValues(rng, 8*2*2)
	a, err := rt.ToInternal(ctx, newTensor(t, aValues, memory.FormatNCHW, 1, 8, 2, 2), memory.FormatNChw8c)
	require.NoError(t, err)
	b := newTensor(t, bValues, memory.FormatNCHW, 1, 8, 2, 2)

	sum, err := rt.Sum(ctx, []float32{1, 2}, a, b)
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNChw8c, sum.Format())
	assert.Equal(t, kinds(primitive.KindReorder, primitive.KindSum), layerInfo(t, rt, "Sum").Kinds)
	want := make([]float32, len(aValues))
	for ii := range want {
		want[ii] = aValues[ii] + 2*bValues[ii]
	}
	assert.InDeltaSlice(t, want, plainValues(t, rt, sum), 1e-6)

	_, err = rt.Sum(ctx, []float32{1}, a, b)
	require.Error(t, err)

	both, err := rt.Concat(ctx, a, a)
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNChw8c, both.Format())
	assert.Equal(t, []int{1, 16, 2, 2}, both.Dims())
	assert.Equal(t, append(append([]float32{}, aValues...), aValues...), plainValues(t, rt, both))

	mixed, err := rt.Concat(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, memory.FormatNCHW, mixed.Format())
	assert.Equal(t, append(append([]float32{}, aValues...), bValues...), plainValues(t, rt, mixed))

	_, err = rt.Concat(ctx, b, newTensor(t, make([]float32, 8*3*3), memory.FormatNCHW, 1, 8, 3, 3))
	require.Error(t, err)
}

func TestConcatBackward(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	rng := rand.New(rand.NewPCG(13, 14))
	aValues, bValues := randomValues(rng, 2*8*2*2), randomValues(rng, 2*4*2*2)

	testCases := []struct {
		name   string
		format memory.Format
	}{
		{"blocked", memory.FormatNChw8c},
		{"plain", memory.FormatNCHW},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := rt.ToInternal(ctx, newTensor(t, aValues, memory.FormatNCHW, 2, 8, 2, 2), tc.format)
			require.NoError(t, err)
			b, err := rt.ToInternal(ctx, newTensor(t, bValues, memory.FormatNCHW, 2, 4, 2, 2), tc.format)
			require.NoError(t, err)
			y, err := rt.Concat(ctx, a, b)
			require.NoError(t, err)
			require.Equal(t, tc.format, y.Format())

			grads, err := rt.ConcatBackward(ctx, y, []int{8, 4})
			require.NoError(t, err)
			require.Len(t, grads, 2)
			assert.Equal(t, kinds(primitive.KindConcatBackward), layerInfo(t, rt, "ConcatBackward").Kinds)
			assert.Equal(t, memory.MakeDesc(dtypes.Float32, tc.format, 2, 8, 2, 2), grads[0].Desc())
			assert.Equal(t, memory.MakeDesc(dtypes.Float32, tc.format, 2, 4, 2, 2), grads[1].Desc())
			assert.Equal(t, aValues, plainValues(t, rt, grads[0]))
			assert.Equal(t, bValues, plainValues(t, rt, grads[1]))
		})
	}

	dy := newTensor(t, make([]float32, 12), memory.FormatNC, 1, 12)
	_, err := rt.ConcatBackward(ctx, dy, []int{8, 3})
	require.Error(t, err)
	_, err = rt.ConcatBackward(ctx, dy, []int{12, 0})
	require.Error(t, err)
	_, err = rt.ConcatBackward(ctx, dy, nil)
	require.Error(t, err)
}

func TestConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	const numGoroutines, numCalls = 8, 10
	var wg sync.WaitGroup
	for g := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for call := range numCalls {
				value := float32(g*numCalls + call)
				x := newTensor(t, []float32{-value, value, value, -value}, memory.FormatNC, 2, 2)
				y, err := rt.ReLU(ctx, x, 0)
				if !assert.NoError(t, err) {
					return
				}
				got, err := tensors.FlatAs[float32](y)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, []float32{0, value, value, 0}, got)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, rt.Factory().Len())
}

func TestErrors(t *testing.T) {
	rt := newRuntime(t)
	x := newTensor(t, make([]float32, 8*4*4), memory.FormatNCHW, 1, 8, 4, 4)
	w := newTensor(t, make([]float32, 8*8*3*3), memory.FormatOIHW, 8, 8, 3, 3)

	_, err := rt.Conv2D(context.Background(), nil, w, nil, samePadding)
	require.ErrorContains(t, err, "x is nil")
	_, err = rt.Conv2D(context.Background(), newTensor(t, make([]float32, 4), memory.FormatNC, 2, 2), w, nil, samePadding)
	require.ErrorContains(t, err, "rank 4")
	_, err = rt.Conv2D(context.Background(), x, w, nil, primitive.Window2D{Strides: [2]int{1, 1}, PaddingHigh: [2]int{-3, 0}})
	require.Error(t, err)
	_, _, err = rt.Pool2D(context.Background(), x, PoolConfig{Kernel: [2]int{5, 5}})
	require.ErrorContains(t, err, "empty output")

	// A canceled context interrupts the stream, but the layer stays cached and usable.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rt.Conv2D(ctx, x, w, nil, samePadding)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	y, err := rt.Conv2D(context.Background(), x, w, nil, samePadding)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8, 4, 4}, y.Dims())
	assert.Equal(t, int64(1), rt.Factory().Stats().Hits)
}
