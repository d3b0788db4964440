// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// dnnbench runs the forward pass of an AlexNet shaped network with the layers runtime, and reports
// the time spent on each layer, along with the layer cache statistics.
//
// Usage:
//
//	dnnbench -engine=ref:block=16 -batch=4 -iters=20
//
// Use -v=1 (or -v=2) to log the layer cache misses (and each reorder inserted).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/gomlx/dnnbridge/engines/reference"
	"github.com/gomlx/dnnbridge/pkg/layers"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagEngine = flag.String("engine", "",
		fmt.Sprintf("Engine configuration, formatted as \"<engine_name>:<engine_configuration>\". "+
			"If empty, $%s is used, or the first registered engine.", primitive.EnvEngineConfig))
	flagBatch  = flag.Int("batch", 2, "Batch size.")
	flagImage  = flag.Int("image", 227, "Height and width of the input images.")
	flagScale  = flag.Int("scale", 4, "Divides the number of channels and hidden units of the network, to make it faster.")
	flagIters  = flag.Int("iters", 10, "Number of forward passes to time, after one warm-up pass.")
	flagPlain  = flag.Bool("plain", false, "Return every layer output in the plain layout, converting it back on the next layer.")
	flagCache  = flag.Int("cache", layers.DefaultMaxCacheSize, "Maximum number of cached layers: -1 for unlimited, 0 to disable caching.")
	flagSeed   = flag.Uint64("seed", 42, "Seed for the random weights and inputs.")
	flagLayers = flag.Bool("layers", false, "Also list the cached layers with their primitives.")

	flagPreconvert = flag.Bool("preconvert", false,
		"Convert the convolution weights once to the layout preferred by the engine, instead of on every call.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	var engine primitive.Engine
	if *flagEngine != "" {
		engine = must.M1(primitive.NewWithConfig(*flagEngine))
	} else {
		engine = must.M1(primitive.New())
	}
	rt := layers.New(engine, layers.WithMaxCacheSize(*flagCache), layers.WithPlainOutputs(*flagPlain))
	defer rt.Finalize()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Engine %s", engine.Description())))

	net := must.M1(newAlexNet(rt, alexNetConfig{
		Batch: *flagBatch,
		Image: *flagImage,
		Scale: *flagScale,
		Seed:  *flagSeed,
	}))
	ctx := context.Background()

	// Warm-up: builds (and caches) every layer.
	start := time.Now()
	must.M(net.forward(ctx, nil))
	warmUp := time.Since(start)
	statsAfterWarmUp := rt.Factory().Stats()

	term := termenv.NewOutput(os.Stdout)
	term.HideCursor()
	bar := progressbar.NewOptions(*flagIters,
		progressbar.OptionSetDescription("forward"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("passes"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	timings := newTimings(net.names())
	start = time.Now()
	for range *flagIters {
		must.M(net.forward(ctx, timings))
		_ = bar.Add(1)
	}
	total := time.Since(start)
	_ = bar.Finish()
	term.ShowCursor()

	printTimings(net, timings, *flagIters)
	printSummary(rt, warmUp, total, *flagIters, statsAfterWarmUp)
	if *flagLayers {
		printLayers(rt)
	}
}
