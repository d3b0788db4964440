// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"context"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/pkg/errors"
)

// PoolConfig holds the parameters of a 2D pooling.
type PoolConfig struct {
	Algorithm primitive.PoolAlgorithm
	Kernel    [2]int
	Window    primitive.Window2D
}

func (cfg PoolConfig) outputDims(xDims []int) ([]int, error) {
	if cfg.Kernel[0] <= 0 || cfg.Kernel[1] <= 0 {
		return nil, errors.Errorf("invalid pooling kernel %v", cfg.Kernel)
	}
	oh := cfg.Window.OutputDim(0, xDims[2], cfg.Kernel[0])
	ow := cfg.Window.OutputDim(1, xDims[3], cfg.Kernel[1])
	if oh <= 0 || ow <= 0 {
		return nil, errors.Errorf("pooling of input %v with %+v yields an empty output", xDims, cfg)
	}
	return []int{xDims[0], xDims[1], oh, ow}, nil
}

// Pool2D computes the 2D pooling of x [N, C, H, W]. The output keeps the layout of x.
//
// For max pooling it also returns the workspace (an Int32 tensor with the argmax of each window),
// to be passed to Pool2DBackward. For average pooling the workspace is nil.
func (rt *Runtime) Pool2D(ctx context.Context, x *tensors.Tensor, cfg PoolConfig) (y, workspace *tensors.Tensor, err error) {
	if err = checkInputs("Pool2D", []string{"x"}, []*tensors.Tensor{x}, 4); err != nil {
		return
	}
	var dstDims []int
	if dstDims, err = cfg.outputDims(x.Dims()); err != nil {
		return
	}
	isMax := cfg.Algorithm == primitive.PoolMax
	numOutputs := 1
	if isMax {
		numOutputs = 2
	}
	inputs := []*tensors.Tensor{x}
	key := newSignature("Pool2D").inputs(x).param("cfg", cfg).String()
	outputs, err := rt.run(ctx, "Pool2D", key, inputs, numOutputs, func(b *graphBuilder) {
		pd := b.primitiveDesc(primitive.PoolDesc{
			Algorithm: cfg.Algorithm,
			Src:       followDesc(x),
			Dst:       anyDesc(dstDims...),
			Kernel:    cfg.Kernel,
			Window:    cfg.Window,
		})
		args := map[primitive.Arg]*memory.Memory{
			primitive.ArgSrc: b.input(0, pd.Query(primitive.ArgSrc)),
			primitive.ArgDst: b.output(0, pd.Query(primitive.ArgDst)),
		}
		if isMax {
			args[primitive.ArgWorkspace] = b.output(1, pd.Query(primitive.ArgWorkspace))
		}
		b.add(pd, args)
	})
	if err != nil {
		err = errors.WithMessagef(err, "Pool2D(x=%s)", x)
		return
	}
	y = outputs[0]
	if isMax {
		workspace = outputs[1]
	}
	return
}

// Pool2DBackward computes the gradient of a pooling with respect to its input x, of dimensions xDims,
// given the gradient dy of its output. workspace is the one returned by Pool2D, and is only used
// (and required) by max pooling.
func (rt *Runtime) Pool2DBackward(ctx context.Context, dy, workspace *tensors.Tensor, xDims []int, cfg PoolConfig) (*tensors.Tensor, error) {
	if err := checkInputs("Pool2DBackward", []string{"dy"}, []*tensors.Tensor{dy}, 4); err != nil {
		return nil, err
	}
	if len(xDims) != 4 {
		return nil, errors.Errorf("Pool2DBackward: input dimensions %v must have rank 4", xDims)
	}
	isMax := cfg.Algorithm == primitive.PoolMax
	inputs := []*tensors.Tensor{dy}
	if isMax {
		if workspace == nil {
			return nil, errors.New("Pool2DBackward: max pooling requires the workspace returned by Pool2D")
		}
		inputs = append(inputs, workspace)
	}
	key := newSignature("Pool2DBackward").inputs(inputs...).param("x", xDims).param("cfg", cfg).String()
	outputs, err := rt.run(ctx, "Pool2DBackward", key, inputs, 1, func(b *graphBuilder) {
		pd := b.primitiveDesc(primitive.PoolDesc{
			Direction: primitive.BackwardData,
			Algorithm: cfg.Algorithm,
			Src:       anyDesc(xDims...),
			Dst:       followDesc(dy),
			Kernel:    cfg.Kernel,
			Window:    cfg.Window,
		})
		args := map[primitive.Arg]*memory.Memory{
			primitive.ArgDiffDst: b.input(0, pd.Query(primitive.ArgDiffDst)),
			primitive.ArgDiffSrc: b.output(0, pd.Query(primitive.ArgDiffSrc)),
		}
		if isMax {
			args[primitive.ArgWorkspace] = b.input(1, pd.Query(primitive.ArgWorkspace))
		}
		b.add(pd, args)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "Pool2DBackward(dy=%s)", dy)
	}
	return outputs[0], nil
}
