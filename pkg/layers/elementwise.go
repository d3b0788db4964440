// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"context"
	"slices"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// LRNConfig holds the parameters of the local response normalization across channels:
//
//	y[c] = x[c] * (K + Alpha/LocalSize * sum_{c' in window(c)} x[c']^2)^-Beta
type LRNConfig struct {
	LocalSize      int
	Alpha, Beta, K float32
}

// DefaultLRNConfig returns the parameters used by AlexNet.
func DefaultLRNConfig() LRNConfig {
	return LRNConfig{LocalSize: 5, Alpha: 1e-4, Beta: 0.75, K: 1}
}

func (cfg LRNConfig) desc(direction primitive.Direction, src memory.Desc) primitive.LRNDesc {
	return primitive.LRNDesc{
		Direction: direction,
		Src:       src,
		LocalSize: cfg.LocalSize,
		Alpha:     cfg.Alpha,
		Beta:      cfg.Beta,
		K:         cfg.K,
	}
}

// LRN computes the local response normalization of x [N, C, H, W]. The output keeps the layout of x.
func (rt *Runtime) LRN(ctx context.Context, x *tensors.Tensor, cfg LRNConfig) (*tensors.Tensor, error) {
	if err := checkInputs("LRN", []string{"x"}, []*tensors.Tensor{x}, 4); err != nil {
		return nil, err
	}
	key := newSignature("LRN").inputs(x).param("cfg", cfg).String()
	outputs, err := rt.run(ctx, "LRN", key, []*tensors.Tensor{x}, 1, func(b *graphBuilder) {
		pd := b.primitiveDesc(cfg.desc(primitive.Forward, followDesc(x)))
		b.add(pd, map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc: b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgDst: b.output(0, pd.Query(primitive.ArgDst)),
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "LRN(x=%s)", x)
	}
	return outputs[0], nil
}

// LRNBackward computes the gradient of LRN with respect to its input x, given the gradient dy of its output.
func (rt *Runtime) LRNBackward(ctx context.Context, x, dy *tensors.Tensor, cfg LRNConfig) (*tensors.Tensor, error) {
	if err := checkInputs("LRNBackward", []string{"x", "dy"}, []*tensors.Tensor{x, dy}, 4, 4); err != nil {
		return nil, err
	}
	inputs := []*tensors.Tensor{x, dy}
	key := newSignature("LRNBackward").inputs(inputs...).param("cfg", cfg).String()
	outputs, err := rt.run(ctx, "LRNBackward", key, inputs, 1, func(b *graphBuilder) {
		pd := b.primitiveDesc(cfg.desc(primitive.BackwardData, followDesc(x)))
		b.add(pd, map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc:     b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgDiffDst: b.input(1, pd.Query(primitive.ArgDiffDst)),
			primitive.ArgDiffSrc: b.output(0, pd.Query(primitive.ArgDiffSrc)),
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "LRNBackward(x=%s, dy=%s)", x, dy)
	}
	return outputs[0], nil
}

// Softmax computes the softmax of x [N, C] over its second axis.
func (rt *Runtime) Softmax(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkInputs("Softmax", []string{"x"}, []*tensors.Tensor{x}, 2); err != nil {
		return nil, err
	}
	key := newSignature("Softmax").inputs(x).String()
	outputs, err := rt.run(ctx, "Softmax", key, []*tensors.Tensor{x}, 1, func(b *graphBuilder) {
		pd := b.primitiveDesc(primitive.SoftmaxDesc{Src: anyDesc(x.Dims()...), Axis: 1})
		b.add(pd, map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc: b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgDst: b.output(0, pd.Query(primitive.ArgDst)),
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Softmax(x=%s)", x)
	}
	return outputs[0], nil
}

// LogSoftmax computes log(softmax(x)) of x [N, C] over its second axis, without computing the
// logarithm of the probabilities, so it stays finite where the softmax underflows to 0.
func (rt *Runtime) LogSoftmax(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkInputs("LogSoftmax", []string{"x"}, []*tensors.Tensor{x}, 2); err != nil {
		return nil, err
	}
	key := newSignature("LogSoftmax").inputs(x).String()
	outputs, err := rt.run(ctx, "LogSoftmax", key, []*tensors.Tensor{x}, 1, func(b *graphBuilder) {
		pd := b.primitiveDesc(primitive.SoftmaxDesc{Src: anyDesc(x.Dims()...), Axis: 1, Log: true})
		b.add(pd, map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc: b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgDst: b.output(0, pd.Query(primitive.ArgDst)),
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "LogSoftmax(x=%s)", x)
	}
	return outputs[0], nil
}

// SoftmaxCrossEntropyBackward returns the gradient of the cross-entropy loss with respect to the
// logits, given probs [N, C] (the output of Softmax) and the Int32 labels [N]:
//
//	dx[n, c] = probs[n, c] - (c == labels[n] ? 1 : 0)
//
// Examples whose label is outside [0, C) keep dx = probs. The gradient is a plain Float32 tensor.
func (rt *Runtime) SoftmaxCrossEntropyBackward(ctx context.Context, probs, labels *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkInputs("SoftmaxCrossEntropyBackward", []string{"probs", "labels"},
		[]*tensors.Tensor{probs, labels}, 2, 1); err != nil {
		return nil, err
	}
	batch, classes := probs.Dims()[0], probs.Dims()[1]
	if labels.DType() != dtypes.Int32 || labels.Dims()[0] != batch {
		return nil, errors.Errorf("SoftmaxCrossEntropyBackward: labels %s must be Int32 with %d elements, one per example of probs %s",
			labels, batch, probs)
	}
	labelsFlat, err := tensors.FlatAs[int32](labels)
	if err != nil {
		return nil, errors.WithMessage(err, "SoftmaxCrossEntropyBackward")
	}
	plain, err := rt.ToInternal(ctx, probs, memory.FormatNC)
	if err != nil {
		return nil, errors.WithMessagef(err, "SoftmaxCrossEntropyBackward(probs=%s)", probs)
	}
	probsFlat, err := tensors.FlatAs[float32](plain)
	if err != nil {
		return nil, errors.WithMessage(err, "SoftmaxCrossEntropyBackward")
	}
	dx := slices.Clone(probsFlat)
	for n, label := range labelsFlat {
		if label >= 0 && int(label) < classes {
			dx[n*classes+int(label)] -= 1
		}
	}
	return tensors.FromFlat(dx, batch, classes)
}

// ReLU computes max(x, 0) + negativeSlope * min(x, 0). The output keeps the layout of x.
func (rt *Runtime) ReLU(ctx context.Context, x *tensors.Tensor, negativeSlope float32) (*tensors.Tensor, error) {
	if err := checkInputs("ReLU", []string{"x"}, []*tensors.Tensor{x}); err != nil {
		return nil, err
	}
	key := newSignature("ReLU").inputs(x).param("slope", negativeSlope).String()
	outputs, err := rt.run(ctx, "ReLU", key, []*tensors.Tensor{x}, 1, func(b *graphBuilder) {
		pd := b.primitiveDesc(primitive.ReLUDesc{Src: followDesc(x), NegativeSlope: negativeSlope})
		b.add(pd, map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc: b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgDst: b.output(0, pd.Query(primitive.ArgDst)),
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "ReLU(x=%s)", x)
	}
	return outputs[0], nil
}

// ReLUBackward computes the gradient of ReLU with respect to its input x, given the gradient dy of its output.
func (rt *Runtime) ReLUBackward(ctx context.Context, x, dy *tensors.Tensor, negativeSlope float32) (*tensors.Tensor, error) {
	if err := checkInputs("ReLUBackward", []string{"x", "dy"}, []*tensors.Tensor{x, dy}); err != nil {
		return nil, err
	}
	inputs := []*tensors.Tensor{x, dy}
	key := newSignature("ReLUBackward").inputs(inputs...).param("slope", negativeSlope).String()
	outputs, err := rt.run(ctx, "ReLUBackward", key, inputs, 1, func(b *graphBuilder) {
		pd := b.primitiveDesc(primitive.ReLUDesc{
			Direction:     primitive.BackwardData,
			Src:           followDesc(x),
			NegativeSlope: negativeSlope,
		})
		b.add(pd, map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc:     b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgDiffDst: b.input(1, pd.Query(primitive.ArgDiffDst)),
			primitive.ArgDiffSrc: b.output(0, pd.Query(primitive.ArgDiffSrc)),
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "ReLUBackward(x=%s, dy=%s)", x, dy)
	}
	return outputs[0], nil
}
