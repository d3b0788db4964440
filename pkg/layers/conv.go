// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"context"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/pkg/errors"
)

// convOutputDims returns the dimensions of the output of a convolution, or an error if they'd be empty.
func convOutputDims(xDims, wDims []int, window primitive.Window2D) ([]int, error) {
	oh := window.OutputDim(0, xDims[2], wDims[2])
	ow := window.OutputDim(1, xDims[3], wDims[3])
	if oh <= 0 || ow <= 0 {
		return nil, errors.Errorf("convolution of input %v with kernel %v and %+v yields an empty output",
			xDims, wDims, window)
	}
	return []int{xDims[0], wDims[0], oh, ow}, nil
}

// Conv2D computes the 2D convolution of x [N, C, H, W] with weights [O, C, KH, KW], plus the
// optional bias [O]. The output is [N, O, OH, OW].
func (rt *Runtime) Conv2D(ctx context.Context, x, weights, bias *tensors.Tensor, window primitive.Window2D) (*tensors.Tensor, error) {
	if err := checkInputs("Conv2D", []string{"x", "weights"}, []*tensors.Tensor{x, weights}, 4, 4); err != nil {
		return nil, err
	}
	dstDims, err := convOutputDims(x.Dims(), weights.Dims(), window)
	if err != nil {
		return nil, err
	}
	inputs := []*tensors.Tensor{x, weights}
	if bias != nil {
		inputs = append(inputs, bias)
	}
	key := newSignature("Conv2D").inputs(inputs...).param("window", window).String()
	outputs, err := rt.run(ctx, "Conv2D", key, inputs, 1, func(b *graphBuilder) {
		desc := primitive.ConvDesc{
			Src:     anyDesc(x.Dims()...),
			Weights: anyDesc(weights.Dims()...),
			Dst:     anyDesc(dstDims...),
			Window:  window,
		}
		if bias != nil {
			desc.Bias = anyDesc(bias.Dims()...)
		}
		pd := b.primitiveDesc(desc)
		args := map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc:     b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgWeights: b.input(1, pd.Query(primitive.ArgWeights)),
			primitive.ArgDst:     b.output(0, pd.Query(primitive.ArgDst)),
		}
		if bias != nil {
			args[primitive.ArgBias] = b.input(2, pd.Query(primitive.ArgBias))
		}
		b.add(pd, args)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Conv2D(x=%s, weights=%s)", x, weights)
	}
	return outputs[0], nil
}

// Conv2DBackwardData computes the gradient of a convolution with respect to its input, given
// the gradient of its output dy [N, O, OH, OW]. xDims are the dimensions of the input of the forward
// convolution, since they can't always be recovered from the output dimensions.
func (rt *Runtime) Conv2DBackwardData(ctx context.Context, dy, weights *tensors.Tensor, xDims []int,
	window primitive.Window2D) (*tensors.Tensor, error) {
	if err := checkInputs("Conv2DBackwardData", []string{"dy", "weights"}, []*tensors.Tensor{dy, weights}, 4, 4); err != nil {
		return nil, err
	}
	if len(xDims) != 4 {
		return nil, errors.Errorf("Conv2DBackwardData: input dimensions %v must have rank 4", xDims)
	}
	inputs := []*tensors.Tensor{dy, weights}
	key := newSignature("Conv2DBackwardData").inputs(inputs...).param("x", xDims).param("window", window).String()
	outputs, err := rt.run(ctx, "Conv2DBackwardData", key, inputs, 1, func(b *graphBuilder) {
		pd := b.primitiveDesc(primitive.ConvDesc{
			Direction: primitive.BackwardData,
			Src:       anyDesc(xDims...),
			Weights:   anyDesc(weights.Dims()...),
			Dst:       anyDesc(dy.Dims()...),
			Window:    window,
		})
		b.add(pd, map[primitive.Arg]*memory.Memory{
			primitive.ArgDiffDst: b.input(0, pd.Query(primitive.ArgDiffDst)),
			primitive.ArgWeights: b.input(1, pd.Query(primitive.ArgWeights)),
			primitive.ArgDiffSrc: b.output(0, pd.Query(primitive.ArgDiffSrc)),
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Conv2DBackwardData(dy=%s, weights=%s)", dy, weights)
	}
	return outputs[0], nil
}

// Conv2DBackwardWeights computes the gradient of a convolution with respect to its weights and,
// if withBias is set, its bias. x is the input of the forward convolution and dy the gradient of
// its output. The returned bias gradient is nil if withBias is false.
func (rt *Runtime) Conv2DBackwardWeights(ctx context.Context, x, dy *tensors.Tensor, kernel [2]int, withBias bool,
	window primitive.Window2D) (dWeights, dBias *tensors.Tensor, err error) {
	if err = checkInputs("Conv2DBackwardWeights", []string{"x", "dy"}, []*tensors.Tensor{x, dy}, 4, 4); err != nil {
		return
	}
	outputChannels := dy.Dims()[1]
	wDims := []int{outputChannels, x.Dims()[1], kernel[0], kernel[1]}
	inputs := []*tensors.Tensor{x, dy}
	numOutputs := 1
	if withBias {
		numOutputs = 2
	}
	key := newSignature("Conv2DBackwardWeights").inputs(inputs...).
		param("kernel", kernel).param("bias", withBias).param("window", window).String()
	outputs, err := rt.run(ctx, "Conv2DBackwardWeights", key, inputs, numOutputs, func(b *graphBuilder) {
		desc := primitive.ConvDesc{
			Direction: primitive.BackwardWeights,
			Src:       anyDesc(x.Dims()...),
			Weights:   anyDesc(wDims...),
			Dst:       anyDesc(dy.Dims()...),
			Window:    window,
		}
		if withBias {
			desc.Bias = anyDesc(outputChannels)
		}
		pd := b.primitiveDesc(desc)
		args := map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc:         b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgDiffDst:     b.input(1, pd.Query(primitive.ArgDiffDst)),
			primitive.ArgDiffWeights: b.output(0, pd.Query(primitive.ArgDiffWeights)),
		}
		if withBias {
			args[primitive.ArgDiffBias] = b.output(1, pd.Query(primitive.ArgDiffBias))
		}
		b.add(pd, args)
	})
	if err != nil {
		err = errors.WithMessagef(err, "Conv2DBackwardWeights(x=%s, dy=%s)", x, dy)
		return
	}
	dWeights = outputs[0]
	if withBias {
		dBias = outputs[1]
	}
	return
}

// PreferredConv2DLayouts returns the layouts the engine chooses for the input, weights and output
// of a convolution. It can be used to convert weights once, with ToInternal, instead of having
// every call reorder them.
func (rt *Runtime) PreferredConv2DLayouts(xDims, wDims []int, window primitive.Window2D) (x, weights, y memory.Desc, err error) {
	if len(xDims) != 4 || len(wDims) != 4 {
		err = errors.Errorf("PreferredConv2DLayouts: input %v and weights %v must have rank 4", xDims, wDims)
		return
	}
	var dstDims []int
	dstDims, err = convOutputDims(xDims, wDims, window)
	if err != nil {
		return
	}
	var pd primitive.PrimitiveDesc
	pd, err = rt.engine.CreatePrimitiveDesc(primitive.ConvDesc{
		Src:     anyDesc(xDims...),
		Weights: anyDesc(wDims...),
		Dst:     anyDesc(dstDims...),
		Window:  window,
	})
	if err != nil {
		return
	}
	return pd.Query(primitive.ArgSrc), pd.Query(primitive.ArgWeights), pd.Query(primitive.ArgDst), nil
}
