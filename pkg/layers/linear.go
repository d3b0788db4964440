// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"context"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/pkg/errors"
)

// checkLinear validates the inputs of the linear operations: x is [N, C] or [N, C, H, W], and
// weights has the same rank, with the outputs in the first axis.
func checkLinear(op string, x, weights *tensors.Tensor) error {
	if err := checkInputs(op, []string{"x", "weights"}, []*tensors.Tensor{x, weights}); err != nil {
		return err
	}
	rank := x.Desc().Rank()
	if (rank != 2 && rank != 4) || weights.Desc().Rank() != rank {
		return errors.Errorf("%s: x %s and weights %s must have the same rank, 2 or 4", op, x, weights)
	}
	return nil
}

// Linear computes the fully connected layer y = x * weights^T + bias, with x [N, C] or [N, C, H, W],
// weights [O, C] or [O, C, H, W] and the optional bias [O]. The output is [N, O].
func (rt *Runtime) Linear(ctx context.Context, x, weights, bias *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkLinear("Linear", x, weights); err != nil {
		return nil, err
	}
	inputs := []*tensors.Tensor{x, weights}
	if bias != nil {
		inputs = append(inputs, bias)
	}
	key := newSignature("Linear").inputs(inputs...).String()
	outputs, err := rt.run(ctx, "Linear", key, inputs, 1, func(b *graphBuilder) {
		desc := primitive.InnerProductDesc{
			Src:     anyDesc(x.Dims()...),
			Weights: anyDesc(weights.Dims()...),
			Dst:     anyDesc(x.Dims()[0], weights.Dims()[0]),
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
		return nil, errors.WithMessagef(err, "Linear(x=%s, weights=%s)", x, weights)
	}
	return outputs[0], nil
}

// LinearBackward computes the gradients of Linear with respect to its input, its weights and, if
// withBias is set, its bias, given the gradient dy [N, O] of its output.
// Both gradients run in a single layer graph, sharing the conversion of dy. dBias is nil if withBias is false.
func (rt *Runtime) LinearBackward(ctx context.Context, x, weights, dy *tensors.Tensor, withBias bool) (
	dx, dWeights, dBias *tensors.Tensor, err error) {
	if err = checkLinear("LinearBackward", x, weights); err != nil {
		return
	}
	if err = checkInputs("LinearBackward", []string{"dy"}, []*tensors.Tensor{dy}, 2); err != nil {
		return
	}
	numOutputs := 2
	if withBias {
		numOutputs = 3
	}
	inputs := []*tensors.Tensor{x, weights, dy}
	key := newSignature("LinearBackward").inputs(inputs...).param("bias", withBias).String()
	outputs, err := rt.run(ctx, "LinearBackward", key, inputs, numOutputs, func(b *graphBuilder) {
		desc := primitive.InnerProductDesc{
			Direction: primitive.BackwardData,
			Src:       anyDesc(x.Dims()...),
			Weights:   anyDesc(weights.Dims()...),
			Dst:       anyDesc(dy.Dims()...),
		}
		pdData := b.primitiveDesc(desc)
		b.add(pdData, map[primitive.Arg]*memory.Memory{
			primitive.ArgDiffDst: b.input(2, pdData.Query(primitive.ArgDiffDst)),
			primitive.ArgWeights: b.input(1, pdData.Query(primitive.ArgWeights)),
			primitive.ArgDiffSrc: b.output(0, pdData.Query(primitive.ArgDiffSrc)),
		})

		desc.Direction = primitive.BackwardWeights
		if withBias {
			desc.Bias = anyDesc(weights.Dims()[0])
		}
		pdWeights := b.primitiveDesc(desc)
		args := map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc:         b.input(0, pdWeights.Query(primitive.ArgSrc)),
			primitive.ArgDiffDst:     b.input(2, pdWeights.Query(primitive.ArgDiffDst)),
			primitive.ArgDiffWeights: b.output(1, pdWeights.Query(primitive.ArgDiffWeights)),
		}
		if withBias {
			args[primitive.ArgDiffBias] = b.output(2, pdWeights.Query(primitive.ArgDiffBias))
		}
		b.add(pdWeights, args)
	})
	if err != nil {
		err = errors.WithMessagef(err, "LinearBackward(x=%s, weights=%s, dy=%s)", x, weights, dy)
		return
	}
	dx, dWeights = outputs[0], outputs[1]
	if withBias {
		dBias = outputs[2]
	}
	return
}
