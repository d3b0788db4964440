// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// plainOnly resolves FormatAny to the plain format and rejects anything that is not plain.
func plainOnly(name string, desc memory.Desc, weights bool) (memory.Desc, error) {
	plain := memory.PlainFormat(desc.Rank(), weights)
	if desc.Format == memory.FormatAny {
		return desc.WithFormat(plain), nil
	}
	if !desc.Format.IsPlain() {
		return memory.Desc{}, errors.Wrapf(primitive.ErrNotImplemented,
			"%s %s: only plain formats are supported", name, desc)
	}
	return desc.WithFormat(plain), nil
}

func (e *Engine) innerProductDesc(desc primitive.InnerProductDesc) (*primitiveDesc, error) {
	if err := checkCompute("inner product source", desc.Src, 2, 4); err != nil {
		return nil, err
	}
	if err := checkCompute("inner product weights", desc.Weights, desc.Src.Rank()); err != nil {
		return nil, err
	}
	if err := checkCompute("inner product destination", desc.Dst, 2); err != nil {
		return nil, err
	}
	batch, outputs := desc.Dst.Dims[0], desc.Dst.Dims[1]
	if desc.Src.Dims[0] != batch || desc.Weights.Dims[0] != outputs {
		return nil, errors.Errorf("inner product: source %s, weights %s and destination %s don't match",
			desc.Src, desc.Weights, desc.Dst)
	}
	for axis := 1; axis < desc.Src.Rank(); axis++ {
		if desc.Src.Dims[axis] != desc.Weights.Dims[axis] {
			return nil, errors.Errorf("inner product: source %s and weights %s don't match on axis %d",
				desc.Src, desc.Weights, axis)
		}
	}
	inputs := desc.Src.NumElements() / batch

	src, err := plainOnly("inner product source", desc.Src, false)
	if err != nil {
		return nil, err
	}
	weights, err := plainOnly("inner product weights", desc.Weights, true)
	if err != nil {
		return nil, err
	}
	dst, err := plainOnly("inner product destination", desc.Dst, false)
	if err != nil {
		return nil, err
	}
	var bias memory.Desc
	if desc.HasBias() {
		if err := checkCompute("inner product bias", desc.Bias, 1); err != nil {
			return nil, err
		}
		if desc.Bias.Dims[0] != outputs {
			return nil, errors.Errorf("inner product bias %s doesn't match %d outputs", desc.Bias, outputs)
		}
		bias = desc.Bias.WithFormat(memory.FormatX)
	}

	// All buffers are row-major, so the flat slices are used directly as matrices:
	// src [batch, inputs], weights [outputs, inputs], dst [batch, outputs].
	var pd *primitiveDesc
	switch desc.Direction {
	case primitive.Forward:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				out := f32(args[primitive.ArgDst])
				blas32.Gemm(blas.NoTrans, blas.Trans, 1,
					general(batch, inputs, f32(args[primitive.ArgSrc])),
					general(outputs, inputs, f32(args[primitive.ArgWeights])),
					0, general(batch, outputs, out))
				if b := args[primitive.ArgBias]; b != nil {
					biasFlat := f32(b)
					for n := range batch {
						row := out[n*outputs : (n+1)*outputs]
						for o := range row {
							row[o] += biasFlat[o]
						}
					}
				}
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
				blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
					general(batch, outputs, f32(args[primitive.ArgDiffDst])),
					general(outputs, inputs, f32(args[primitive.ArgWeights])),
					0, general(batch, inputs, f32(args[primitive.ArgDiffSrc])))
				return nil
			}
		})
		pd.args[primitive.ArgDiffDst] = dst
		pd.args[primitive.ArgWeights] = weights
		pd.args[primitive.ArgDiffSrc] = src

	case primitive.BackwardWeights:
		pd = newPrimitiveDesc(desc.Kind(), func(args map[primitive.Arg]*memory.Memory) func() error {
			return func() error {
				dy := f32(args[primitive.ArgDiffDst])
				blas32.Gemm(blas.Trans, blas.NoTrans, 1,
					general(batch, outputs, dy),
					general(batch, inputs, f32(args[primitive.ArgSrc])),
					0, general(outputs, inputs, f32(args[primitive.ArgDiffWeights])))
				if b := args[primitive.ArgDiffBias]; b != nil {
					db := f32(b)
					clear(db)
					for n := range batch {
						for o, v := range dy[n*outputs : (n+1)*outputs] {
							db[o] += v
						}
					}
				}
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
		return nil, errors.Errorf("invalid inner product direction %s", desc.Direction)
	}
	return pd, nil
}
