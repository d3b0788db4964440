// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"context"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/pkg/errors"
)

// ToInternal converts a host tensor to the compute dtype (Float32) and the given layout, usually
// one returned by a Preferred*Layouts method. It returns x itself if no conversion is needed.
func (rt *Runtime) ToInternal(ctx context.Context, x *tensors.Tensor, format memory.Format) (*tensors.Tensor, error) {
	if x == nil {
		return nil, errors.New("ToInternal: x is nil")
	}
	target := x.Desc().WithDType(computeDType).WithFormat(format)
	if err := target.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "ToInternal(x=%s, format=%s)", x, format)
	}
	return rt.convert(ctx, "ToInternal", x, target)
}

// ToPlain converts a tensor, usually the output of a layer, to the plain (row-major) layout,
// keeping its dtype. It returns x itself if it's already plain.
func (rt *Runtime) ToPlain(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
	if x == nil {
		return nil, errors.New("ToPlain: x is nil")
	}
	return rt.convert(ctx, "ToPlain", x, x.Desc().Plain())
}

// convert reorders x to the target descriptor, with a cached single reorder layer.
func (rt *Runtime) convert(ctx context.Context, name string, x *tensors.Tensor, target memory.Desc) (*tensors.Tensor, error) {
	if x.Desc().SameLayout(target) {
		return x, nil
	}
	key := newSignature(name).inputs(x).param("target", target).String()
	outputs, err := rt.run(ctx, name, key, []*tensors.Tensor{x}, 1, func(b *graphBuilder) {
		src := b.input(0, x.Desc())
		dst := b.exactOutput(0, target)
		b.main = append(b.main, b.reorder(src, dst))
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "%s(x=%s)", name, x)
	}
	return outputs[0], nil
}

// Reorder converts src into dst, which must have the same dimensions, with a one-off reorder
// primitive that is not cached. It is meant for callers managing their own memories.
func (rt *Runtime) Reorder(ctx context.Context, src, dst *memory.Memory) error {
	pd, err := rt.engine.CreatePrimitiveDesc(primitive.ReorderDesc{Src: src.Desc(), Dst: dst.Desc()})
	if err != nil {
		return err
	}
	p, err := pd.Create(map[primitive.Arg]*memory.Memory{primitive.ArgSrc: src, primitive.ArgDst: dst})
	if err != nil {
		return err
	}
	return primitive.NewStream("reorder").Submit(ctx, p)
}
