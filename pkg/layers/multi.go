// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"context"
	"fmt"
	"slices"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/pkg/errors"
)

func checkMulti(op string, xs []*tensors.Tensor) error {
	if len(xs) == 0 {
		return errors.Errorf("%s requires at least one input", op)
	}
	names := make([]string, len(xs))
	for ii := range names {
		names[ii] = fmt.Sprintf("input #%d", ii)
	}
	return checkInputs(op, names, xs)
}

// Concat concatenates the tensors along the channels axis (1). They must have the same rank (2 or 4)
// and the same dimensions on the other axes. The output keeps the inputs' layout if they all share one.
func (rt *Runtime) Concat(ctx context.Context, xs ...*tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkMulti("Concat", xs); err != nil {
		return nil, err
	}
	key := newSignature("Concat").inputs(xs...).String()
	outputs, err := rt.run(ctx, "Concat", key, xs, 1, func(b *graphBuilder) {
		srcs := make([]memory.Desc, len(xs))
		for ii, x := range xs {
			srcs[ii] = followDesc(x)
		}
		pd := b.primitiveDesc(primitive.ConcatDesc{Srcs: srcs, Axis: 1})
		args := map[primitive.Arg]*memory.Memory{
			primitive.ArgDst: b.output(0, pd.Query(primitive.ArgDst)),
		}
		for ii := range xs {
			args[primitive.SrcArg(ii)] = b.input(ii, pd.Query(primitive.SrcArg(ii)))
		}
		b.add(pd, args)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Concat(%d inputs)", len(xs))
	}
	return outputs[0], nil
}

// ConcatBackward splits dy, the gradient of the output of Concat, into the gradients of its inputs,
// given the number of channels of each input. The gradients keep the layout of dy.
func (rt *Runtime) ConcatBackward(ctx context.Context, dy *tensors.Tensor, channels []int) ([]*tensors.Tensor, error) {
	if err := checkInputs("ConcatBackward", []string{"dy"}, []*tensors.Tensor{dy}); err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, errors.New("ConcatBackward requires the channels of at least one input")
	}
	dims := dy.Dims()
	if len(dims) < 2 {
		return nil, errors.Errorf("ConcatBackward: dy %s must have a channels axis", dy)
	}
	total := 0
	for ii, c := range channels {
		if c <= 0 {
			return nil, errors.Errorf("ConcatBackward: input #%d has %d channels", ii, c)
		}
		total += c
	}
	if total != dims[1] {
		return nil, errors.Errorf("ConcatBackward: channels %v add up to %d, but dy %s has %d", channels, total, dy, dims[1])
	}
	key := newSignature("ConcatBackward").inputs(dy).param("channels", channels).String()
	outputs, err := rt.run(ctx, "ConcatBackward", key, []*tensors.Tensor{dy}, len(channels), func(b *graphBuilder) {
		srcs := make([]memory.Desc, len(channels))
		for ii, c := range channels {
			srcDims := slices.Clone(dims)
			srcDims[1] = c
			srcs[ii] = anyDesc(srcDims...)
		}
		pd := b.primitiveDesc(primitive.ConcatDesc{
			Direction: primitive.BackwardData,
			Srcs:      srcs,
			Axis:      1,
			Dst:       followDesc(dy),
		})
		args := map[primitive.Arg]*memory.Memory{
			primitive.ArgDiffDst: b.input(0, pd.Query(primitive.ArgDiffDst)),
		}
		for ii := range channels {
			args[primitive.DiffSrcArg(ii)] = b.output(ii, pd.Query(primitive.DiffSrcArg(ii)))
		}
		b.add(pd, args)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "ConcatBackward(dy=%s, channels=%v)", dy, channels)
	}
	return outputs, nil
}

// Sum computes sum_i scales[i] * xs[i]. All tensors must have the same dimensions. If scales is
// nil, every scale is 1. The output takes the layout of the first input, and the other inputs
// are reordered to it if needed.
func (rt *Runtime) Sum(ctx context.Context, scales []float32, xs ...*tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkMulti("Sum", xs); err != nil {
		return nil, err
	}
	if scales != nil && len(scales) != len(xs) {
		return nil, errors.Errorf("Sum: %d scales given for %d inputs", len(scales), len(xs))
	}
	key := newSignature("Sum").inputs(xs...).param("scales", scales).String()
	outputs, err := rt.run(ctx, "Sum", key, xs, 1, func(b *graphBuilder) {
		srcs := make([]memory.Desc, len(xs))
		for ii, x := range xs {
			srcs[ii] = followDesc(x)
		}
		pd := b.primitiveDesc(primitive.SumDesc{Srcs: srcs, Scales: scales})
		args := map[primitive.Arg]*memory.Memory{
			primitive.ArgDst: b.output(0, pd.Query(primitive.ArgDst)),
		}
		for ii := range xs {
			args[primitive.SrcArg(ii)] = b.input(ii, pd.Query(primitive.SrcArg(ii)))
		}
		b.add(pd, args)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Sum(%d inputs)", len(xs))
	}
	return outputs[0], nil
}
