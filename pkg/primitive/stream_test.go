// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package primitive

import (
	"context"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePrimitive appends its kind to a log when executed.
type fakePrimitive struct {
	kind    Kind
	log     *[]Kind
	err     error
	doPanic bool
}

func (p *fakePrimitive) Kind() Kind { return p.kind }

func (p *fakePrimitive) Execute() error {
	if p.doPanic {
		exceptions.Panicf("boom in %s", p.kind)
	}
	*p.log = append(*p.log, p.kind)
	return p.err
}

func TestStreamSubmitAndRerun(t *testing.T) {
	var log []Kind
	ctx := context.Background()
	s := NewStream("test")
	require.NotEmpty(t, s.ID())
	require.Error(t, s.Rerun(ctx), "nothing submitted yet")

	reorder := &fakePrimitive{kind: KindReorder, log: &log}
	conv := &fakePrimitive{kind: KindConvolution, log: &log}
	require.NoError(t, s.Submit(ctx, reorder, conv))
	assert.Equal(t, []Kind{KindReorder, KindConvolution}, log)
	assert.Equal(t, 2, s.Len())

	log = log[:0]
	require.NoError(t, s.Rerun(ctx))
	require.NoError(t, s.Rerun(ctx))
	assert.Equal(t, []Kind{KindReorder, KindConvolution, KindReorder, KindConvolution}, log)
	assert.Contains(t, s.String(), "[Reorder Convolution]")
}

func TestStreamErrors(t *testing.T) {
	var log []Kind
	s := NewStream("errors")
	failing := &fakePrimitive{kind: KindSum, log: &log, err: errors.New("bad sum")}
	err := s.Submit(context.Background(), failing, &fakePrimitive{kind: KindReLU, log: &log})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad sum")
	assert.Equal(t, []Kind{KindSum}, log, "execution must stop at the first failure")
	assert.Equal(t, 2, s.Len())

	// Panics are converted to errors.
	s = NewStream("panics")
	err = s.Submit(context.Background(), &fakePrimitive{kind: KindLRN, log: &log, doPanic: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom in LRN")

	// Cancelled context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log = log[:0]
	s = NewStream("cancelled")
	err = s.Submit(ctx, &fakePrimitive{kind: KindSoftmax, log: &log})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log)
}

func TestArgAndKindNames(t *testing.T) {
	assert.Equal(t, "DiffWeights", ArgDiffWeights.String())
	assert.Equal(t, "MultipleSrc#3", SrcArg(3).String())
	assert.Equal(t, "ConvolutionBackwardData", ConvDesc{Direction: BackwardData}.Kind().String())
	assert.Equal(t, KindPoolingBackward, PoolDesc{Direction: BackwardData}.Kind())
	assert.Equal(t, "AvgExcludePadding", PoolAvgExcludePadding.String())
	k, err := KindString("innerproduct")
	require.NoError(t, err)
	assert.Equal(t, KindInnerProduct, k)

	assert.Equal(t, "MultipleDiffSrc#1", DiffSrcArg(1).String())
	assert.Equal(t, KindConcatBackward, ConcatDesc{Direction: BackwardData}.Kind())
	assert.Equal(t, "ConcatBackward", KindConcatBackward.String())
	k, err = KindString("concatbackward")
	require.NoError(t, err)
	assert.Equal(t, KindConcatBackward, k)
}

func TestWindow2DOutputDim(t *testing.T) {
	w := Window2D{Strides: [2]int{4, 2}, PaddingLow: [2]int{0, 1}, PaddingHigh: [2]int{0, 1}}
	assert.Equal(t, 55, w.OutputDim(0, 227, 11))
	assert.Equal(t, 3, w.OutputDim(1, 5, 3))
	assert.Equal(t, 0, w.OutputDim(0, 2, 3))
	assert.Equal(t, 1, Window2D{}.Stride(0))
}

type fakeEngine struct{ config string }

func (e *fakeEngine) Name() string { return "fake" }
func (e *fakeEngine) Description() string { return "fake engine: " + e.config }
func (e *fakeEngine) Finalize() {}
func (e *fakeEngine) CreatePrimitiveDesc(op OpDesc) (PrimitiveDesc, error) {
	return nil, errors.Wrapf(ErrNotImplemented, "%s", op.Kind())
}

func TestRegistry(t *testing.T) {
	Register("fake", func(config string) (Engine, error) {
		if config == "fail" {
			return nil, errors.New("bad config")
		}
		return &fakeEngine{config: config}, nil
	})
	assert.Contains(t, Registered(), "fake")

	engine, err := NewWithConfig("fake:opt=1")
	require.NoError(t, err)
	assert.Equal(t, "fake engine: opt=1", engine.Description())

	engine, err = NewWithConfig("fake")
	require.NoError(t, err)
	assert.Equal(t, "fake engine: ", engine.Description())

	_, err = NewWithConfig("fake:fail")
	require.Error(t, err)
	_, err = NewWithConfig("unknown:x")
	require.Error(t, err)

	t.Setenv(EnvEngineConfig, "fake:from-env")
	engine, err = New()
	require.NoError(t, err)
	assert.Equal(t, "fake engine: from-env", engine.Description())

	_, err = engine.CreatePrimitiveDesc(SoftmaxDesc{})
	require.ErrorIs(t, err, ErrNotImplemented)
}
