// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gomlx/dnnbridge/pkg/layers"
	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/dnnbridge/pkg/tensors"
	"github.com/pkg/errors"
)

type alexNetConfig struct {
	Batch, Image, Scale int
	Seed                uint64
}

// channels scales the number of channels, rounded up to a multiple of 8 so blocked layouts can be used.
func (cfg alexNetConfig) channels(n int) int {
	n = max(n/max(cfg.Scale, 1), 1)
	return (n + 7) / 8 * 8
}

// step is one layer of the network.
type step struct {
	name string
	run  func(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error)

	// output of the last run, for reporting.
	output memory.Desc
}

type alexNet struct {
	rt    *layers.Runtime
	input *tensors.Tensor
	steps []*step
}

func (net *alexNet) names() []string {
	names := make([]string, len(net.steps))
	for ii, s := range net.steps {
		names[ii] = s.name
	}
	return names
}

// forward runs all the steps, recording their durations in timings, if not nil.
func (net *alexNet) forward(ctx context.Context, timings *timings) error {
	x := net.input
	for ii, s := range net.steps {
		start := time.Now()
		y, err := s.run(ctx, x)
		if err != nil {
			return errors.WithMessagef(err, "step #%d (%s)", ii, s.name)
		}
		if timings != nil {
			timings.add(ii, time.Since(start))
		}
		s.output = y.Desc()
		x = y
	}
	return nil
}

// builder creates the steps of the network, keeping track of the dimensions of the activations.
type builder struct {
	rt   *layers.Runtime
	rng  *rand.Rand
	net  *alexNet
	dims []int
	err  error
}

func (b *builder) random(format memory.Format, dims ...int) *tensors.Tensor {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	fanIn := size / dims[0]
	scale := float32(1 / math.Sqrt(float64(fanIn)))
	values := make([]float32, size)
	for ii := range values {
		values[ii] = (b.rng.Float32()*2 - 1) * scale
	}
	t, err := tensors.FromFlatWithFormat(values, format, dims...)
	if err != nil && b.err == nil {
		b.err = err
	}
	return t
}

func (b *builder) add(name string, run func(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error)) {
	b.net.steps = append(b.net.steps, &step{name: name, run: run})
}

func (b *builder) conv(name string, outputs, kernel, stride, padding int) {
	if b.err != nil {
		return
	}
	wDims := []int{outputs, b.dims[1], kernel, kernel}
	window := primitive.Window2D{
		Strides:     [2]int{stride, stride},
		PaddingLow:  [2]int{padding, padding},
		PaddingHigh: [2]int{padding, padding},
	}
	weights := b.random(memory.FormatOIHW, wDims...)
	bias := b.random(memory.FormatX, outputs)
	if b.err != nil {
		return
	}
	if *flagPreconvert {
		_, wDesc, _, err := b.rt.PreferredConv2DLayouts(b.dims, wDims, window)
		if err == nil {
			weights, err = b.rt.ToInternal(context.Background(), weights, wDesc.Format)
		}
		if err != nil {
			b.err = errors.WithMessagef(err, "converting weights of %s", name)
			return
		}
	}
	b.add(name, func(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
		return b.rt.Conv2D(ctx, x, weights, bias, window)
	})
	b.dims = []int{b.dims[0], outputs, window.OutputDim(0, b.dims[2], kernel), window.OutputDim(1, b.dims[3], kernel)}
	b.relu(name + "/relu")
}

func (b *builder) relu(name string) {
	b.add(name, func(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
		return b.rt.ReLU(ctx, x, 0)
	})
}

func (b *builder) lrn(name string) {
	cfg := layers.DefaultLRNConfig()
	b.add(name, func(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
		return b.rt.LRN(ctx, x, cfg)
	})
}

func (b *builder) maxPool(name string) {
	cfg := layers.PoolConfig{
		Algorithm: primitive.PoolMax,
		Kernel:    [2]int{3, 3},
		Window:    primitive.Window2D{Strides: [2]int{2, 2}},
	}
	b.add(name, func(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
		y, _, err := b.rt.Pool2D(ctx, x, cfg)
		return y, err
	})
	b.dims = []int{b.dims[0], b.dims[1], cfg.Window.OutputDim(0, b.dims[2], 3), cfg.Window.OutputDim(1, b.dims[3], 3)}
	if b.err == nil && (b.dims[2] <= 0 || b.dims[3] <= 0) {
		b.err = errors.Errorf("image too small: %s yields an empty output", name)
	}
}

func (b *builder) linear(name string, outputs int, withReLU bool) {
	if b.err != nil {
		return
	}
	wDims := append([]int{outputs}, b.dims[1:]...)
	format := memory.FormatOI
	if len(wDims) == 4 {
		format = memory.FormatOIHW
	}
	weights := b.random(format, wDims...)
	bias := b.random(memory.FormatX, outputs)
	b.add(name, func(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
		return b.rt.Linear(ctx, x, weights, bias)
	})
	b.dims = []int{b.dims[0], outputs}
	if withReLU {
		b.relu(name + "/relu")
	}
}

// newAlexNet creates the network with random weights and a random input.
func newAlexNet(rt *layers.Runtime, cfg alexNetConfig) (*alexNet, error) {
	b := &builder{
		rt:   rt,
		rng:  rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		net:  &alexNet{rt: rt},
		dims: []int{cfg.Batch, 3, cfg.Image, cfg.Image},
	}
	b.net.input = b.random(memory.FormatNCHW, b.dims...)
	b.conv("conv1", cfg.channels(96), 11, 4, 0)
	b.lrn("norm1")
	b.maxPool("pool1")
	b.conv("conv2", cfg.channels(256), 5, 1, 2)
	b.lrn("norm2")
	b.maxPool("pool2")
	b.conv("conv3", cfg.channels(384), 3, 1, 1)
	b.conv("conv4", cfg.channels(384), 3, 1, 1)
	b.conv("conv5", cfg.channels(256), 3, 1, 1)
	b.maxPool("pool5")
	b.linear("fc6", cfg.channels(4096), true)
	b.linear("fc7", cfg.channels(4096), true)
	b.linear("fc8", 1000, false)
	b.add("prob", func(ctx context.Context, x *tensors.Tensor) (*tensors.Tensor, error) {
		return rt.Softmax(ctx, x)
	})
	if b.err != nil {
		return nil, b.err
	}
	return b.net, nil
}
