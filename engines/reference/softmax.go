// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"math"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/pkg/errors"
)

func (e *Engine) softmaxDesc(desc primitive.SoftmaxDesc) (*primitiveDesc, error) {
	if err := checkCompute("softmax source", desc.Src, 2); err != nil {
		return nil, err
	}
	if desc.Axis != 1 {
		return nil, errors.Wrapf(primitive.ErrNotImplemented, "softmax over axis %d, only axis 1 is supported", desc.Axis)
	}
	src, err := plainOnly("softmax source", desc.Src, false)
	if err != nil {
		return nil, err
	}
	batch, classes := src.Dims[0], src.Dims[1]
	rowFn := softmaxRow
	if desc.Log {
		rowFn = logSoftmaxRow
	}
	pd := newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
		return func() error {
			x, y := f32(args[primitive.ArgSrc]), f32(args[primitive.ArgDst])
			e.pool.RunRange(batch, max(elementsPerTask/classes, 1), func(start, end int) {
				for n := start; n < end; n++ {
					rowFn(x[n*classes:(n+1)*classes], y[n*classes:(n+1)*classes])
				}
			})
			return nil
		}
	})
	pd.args[primitive.ArgSrc] = src
	pd.args[primitive.ArgDst] = src
	return pd, nil
}

// rowMax returns the maximum of x. It is -Inf if all values are -Inf.
func rowMax(x []float32) float32 {
	maxValue := float32(math.Inf(-1))
	for _, v := range x {
		maxValue = max(maxValue, v)
	}
	return maxValue
}

// softmaxRow computes y = exp(x - max(x)) / sum(exp(x - max(x))).
// A row with only -Inf values yields the uniform distribution.
func softmaxRow(x, y []float32) {
	maxValue := rowMax(x)
	if math.IsInf(float64(maxValue), -1) {
		uniform := 1 / float32(len(y))
		for ii := range y {
			y[ii] = uniform
		}
		return
	}
	var sum float32
	for ii, v := range x {
		y[ii] = float32(math.Exp(float64(v - maxValue)))
		sum += y[ii]
	}
	for ii := range y {
		y[ii] /= sum
	}
}

// logSoftmaxRow computes y = x - max(x) - log(sum(exp(x - max(x)))).
// A row with only -Inf values yields log of the uniform distribution.
func logSoftmaxRow(x, y []float32) {
	maxValue := rowMax(x)
	if math.IsInf(float64(maxValue), -1) {
		logUniform := -float32(math.Log(float64(len(y))))
		for ii := range y {
			y[ii] = logUniform
		}
		return
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v - maxValue))
	}
	logSum := float32(math.Log(sum))
	for ii, v := range x {
		y[ii] = v - maxValue - logSum
	}
}
