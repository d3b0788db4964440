// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package primitive

import (
	"github.com/gomlx/dnnbridge/pkg/memory"
)

// OpDesc describes an operation, before the engine resolves its memory formats.
type OpDesc interface {
	Kind() Kind
}

// Direction of propagation of an operation.
type Direction int

const (
	Forward Direction = iota

	// BackwardData propagates the gradient with respect to the input (DiffDst -> DiffSrc).
	BackwardData

	// BackwardWeights computes the gradient with respect to weights and bias (Src, DiffDst -> DiffWeights, DiffBias).
	BackwardWeights
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case Forward:
		return "Forward"
	case BackwardData:
		return "BackwardData"
	case BackwardWeights:
		return "BackwardWeights"
	}
	return "Direction(?)"
}

// ReorderDesc converts a memory between layouts and/or dtypes. Neither format can be FormatAny.
type ReorderDesc struct {
	Src, Dst memory.Desc
}

// Kind implements OpDesc.
func (ReorderDesc) Kind() Kind { return KindReorder }

// Window2D holds the geometry of a 2D sliding window: convolution or pooling.
type Window2D struct {
	// Strides along the height and width axes. Zero values are taken as 1.
	Strides [2]int

	// PaddingLow is the padding at the top and left, PaddingHigh at the bottom and right.
	PaddingLow, PaddingHigh [2]int
}

// OutputDim returns the output dimension along the spatial axis (0 for height, 1 for width) for the
// given input and kernel dimensions. It may return a value <= 0 for invalid configurations.
//
// output_dim = floor((padded_input_size - kernel_size) / stride) + 1
func (w Window2D) OutputDim(axis, inputDim, kernelDim int) int {
	stride := max(w.Strides[axis], 1)
	padded := inputDim + w.PaddingLow[axis] + w.PaddingHigh[axis]
	if padded < kernelDim {
		return 0
	}
	return (padded-kernelDim)/stride + 1
}

// Stride returns the stride for the spatial axis, defaulting to 1.
func (w Window2D) Stride(axis int) int { return max(w.Strides[axis], 1) }

// ConvDesc describes a 2D convolution.
//
// Dims: Src [N, C, H, W], Weights [O, C, KH, KW], Bias [O], Dst [N, O, OH, OW].
// For the backward directions, Src and Dst describe the shape of the DiffSrc and DiffDst arguments.
// Bias is optional: leave it as the zero memory.Desc if not used.
type ConvDesc struct {
	Direction               Direction
	Src, Weights, Bias, Dst memory.Desc
	Window                  Window2D
}

// Kind implements OpDesc.
func (c ConvDesc) Kind() Kind {
	switch c.Direction {
	case BackwardData:
		return KindConvolutionBackwardData
	case BackwardWeights:
		return KindConvolutionBackwardWeights
	}
	return KindConvolution
}

// HasBias returns whether the convolution uses a bias.
func (c ConvDesc) HasBias() bool { return c.Bias.Ok() }

// PoolAlgorithm selects the pooling reduction.
type PoolAlgorithm int

//go:generate go tool enumer -type=PoolAlgorithm -trimprefix=Pool -output=gen_poolalgorithm_enumer.go descs.go

const (
	PoolMax PoolAlgorithm = iota
	PoolAvgIncludePadding
	PoolAvgExcludePadding
)

// PoolDesc describes 2D pooling.
//
// Dims: Src [N, C, H, W], Dst [N, C, OH, OW]. Max pooling forward produces an Int32 Workspace, with
// the layout of Dst, holding the argmax of each window; backward max pooling consumes it.
type PoolDesc struct {
	Direction Direction
	Algorithm PoolAlgorithm
	Src, Dst  memory.Desc
	Kernel    [2]int
	Window    Window2D
}

// Kind implements OpDesc.
func (p PoolDesc) Kind() Kind {
	if p.Direction == Forward {
		return KindPooling
	}
	return KindPoolingBackward
}

// InnerProductDesc describes a fully connected (linear) layer: dst = src x weights^T + bias.
//
// Dims: Src [N, C] or [N, C, H, W], Weights [O, C] or [O, C, H, W], Bias [O], Dst [N, O].
type InnerProductDesc struct {
	Direction               Direction
	Src, Weights, Bias, Dst memory.Desc
}

// Kind implements OpDesc.
func (ip InnerProductDesc) Kind() Kind {
	switch ip.Direction {
	case BackwardData:
		return KindInnerProductBackwardData
	case BackwardWeights:
		return KindInnerProductBackwardWeights
	}
	return KindInnerProduct
}

// HasBias returns whether the inner product uses a bias.
func (ip InnerProductDesc) HasBias() bool { return ip.Bias.Ok() }

// LRNDesc describes local response normalization across channels:
//
//	dst[c] = src[c] * (K + Alpha/LocalSize * sum_{c' in window(c)} src[c']^2)^-Beta
//
// The window spans LocalSize channels centered on c.
type LRNDesc struct {
	Direction      Direction
	Src            memory.Desc
	LocalSize      int
	Alpha, Beta, K float32
}

// Kind implements OpDesc.
func (l LRNDesc) Kind() Kind {
	if l.Direction == Forward {
		return KindLRN
	}
	return KindLRNBackward
}

// SoftmaxDesc describes a softmax over Axis. With Log set, the output is log(softmax(x)), computed
// without going through the exponentials of the normalized values.
type SoftmaxDesc struct {
	Src  memory.Desc
	Axis int
	Log  bool
}

// Kind implements OpDesc.
func (SoftmaxDesc) Kind() Kind { return KindSoftmax }

// ConcatDesc concatenates Srcs along Axis. Dst format may be FormatAny.
//
// With Direction BackwardData it splits DiffDst (described by Dst) back into one gradient per
// source: DiffSrcArg(i) receives the slice of Axis that Srcs[i] occupied. The Srcs formats may then
// be FormatAny.
type ConcatDesc struct {
	Direction Direction
	Srcs      []memory.Desc
	Axis      int
	Dst       memory.Desc
}

// Kind implements OpDesc.
func (c ConcatDesc) Kind() Kind {
	if c.Direction == Forward {
		return KindConcat
	}
	return KindConcatBackward
}

// SumDesc describes dst = sum_i Scales[i] * Srcs[i]. All sources have the same dims.
type SumDesc struct {
	Srcs   []memory.Desc
	Scales []float32
	Dst    memory.Desc
}

// Kind implements OpDesc.
func (SumDesc) Kind() Kind { return KindSum }

// ReLUDesc describes the rectified linear unit with a slope for negative values (0 for plain ReLU).
type ReLUDesc struct {
	Direction     Direction
	Src           memory.Desc
	NegativeSlope float32
}

// Kind implements OpDesc.
func (r ReLUDesc) Kind() Kind {
	if r.Direction == Forward {
		return KindReLU
	}
	return KindReLUBackward
}
