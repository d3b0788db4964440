// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers exposes the primitives of an engine as layer operations on host tensors.
//
// Each operation follows the same protocol:
//
//  1. The operation is described to the engine with the memory formats left as memory.FormatAny
//     (or, for layout agnostic primitives, the layout the input already has), so the engine picks
//     its preferred layouts.
//  2. A reorder is inserted for each input whose layout or dtype differs from the one the engine
//     chose, and only then.
//  3. The resulting primitive graph (the "layer") is cached in a Factory, keyed by the signature
//     of the call: operation, input dtypes, layouts, dimensions and parameters.
//  4. Every call rebinds the input and output buffers of the cached layer and reruns its stream.
//
// Outputs are returned in the layout chosen by the engine (e.g. memory.FormatNChw8c), so chained
// layers don't pay for conversions. Use Runtime.ToPlain to convert them back, or create the
// Runtime with WithPlainOutputs(true).
//
// Example:
//
//	engine := must.M1(primitive.New())
//	rt := layers.New(engine)
//	y, err := rt.Conv2D(ctx, x, weights, bias, primitive.Window2D{PaddingLow: [2]int{1, 1}, PaddingHigh: [2]int{1, 1}})
//	y, err = rt.ReLU(ctx, y, 0)
//	y, err = rt.ToPlain(ctx, y)
package layers

import (
	"context"

	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Runtime runs layers on an engine, caching them in a Factory.
// It is safe for concurrent use.
type Runtime struct {
	engine       primitive.Engine
	factory      *Factory
	plainOutputs bool
}

// Option configures a Runtime.
type Option func(rt *Runtime)

// WithMaxCacheSize sets the maximum number of cached layers. See Factory.SetMaxCacheSize.
func WithMaxCacheSize(maxCacheSize int) Option {
	return func(rt *Runtime) {
		rt.factory.SetMaxCacheSize(maxCacheSize)
	}
}

// WithPlainOutputs makes every operation return its outputs in the plain (row-major) layout,
// and in the dtype of its first input.
func WithPlainOutputs(plain bool) Option {
	return func(rt *Runtime) {
		rt.plainOutputs = plain
	}
}

// New creates a Runtime for the engine.
func New(engine primitive.Engine, options ...Option) *Runtime {
	rt := &Runtime{
		engine:  engine,
		factory: NewFactory(DefaultMaxCacheSize),
	}
	for _, option := range options {
		option(rt)
	}
	return rt
}

// NewDefault creates a Runtime for the default engine. See primitive.New.
func NewDefault(options ...Option) (*Runtime, error) {
	engine, err := primitive.New()
	if err != nil {
		return nil, err
	}
	return New(engine, options...), nil
}

// Engine used by the Runtime.
func (rt *Runtime) Engine() primitive.Engine { return rt.engine }

// Factory holding the cached layers.
func (rt *Runtime) Factory() *Factory { return rt.factory }

// PlainOutputs returns whether outputs are converted to the plain layout.
func (rt *Runtime) PlainOutputs() bool { return rt.plainOutputs }

// Finalize drops the cached layers and finalizes the engine. The Runtime shouldn't be used after that.
func (rt *Runtime) Finalize() {
	rt.factory.Reset()
	rt.engine.Finalize()
}

// run fetches (or builds) the layer for key and runs it with the inputs.
func (rt *Runtime) run(ctx context.Context, name, key string, inputs []*tensors.Tensor, numOutputs int,
	build func(b *graphBuilder)) ([]*tensors.Tensor, error) {
	l, err := rt.factory.get(key, func() (*layer, error) {
		return rt.buildLayer(name, key, inputs, numOutputs, build)
	})
	if err != nil {
		return nil, err
	}
	return l.run(ctx, inputs)
}

// buildLayer constructs the layer, converting the panics of the graphBuilder to an error.
func (rt *Runtime) buildLayer(name, key string, inputs []*tensors.Tensor, numOutputs int,
	build func(b *graphBuilder)) (*layer, error) {
	b := newGraphBuilder(rt, name, key, inputs, numOutputs)
	var l *layer
	err := exceptions.TryCatch[error](func() {
		build(b)
		l = b.finish()
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "building layer %s", name)
	}
	return l, nil
}

// checkInputs validates that none of the tensors is nil and that they have the expected ranks.
func checkInputs(op string, names []string, ts []*tensors.Tensor, ranks ...int) error {
	for ii, t := range ts {
		if t == nil {
			return errors.Errorf("%s: %s is nil", op, names[ii])
		}
		if ii < len(ranks) && ranks[ii] > 0 && t.Desc().Rank() != ranks[ii] {
			return errors.Errorf("%s: %s %s must have rank %d", op, names[ii], t, ranks[ii])
		}
	}
	return nil
}
