// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements a portable primitive engine in pure Go.
//
// It supports every primitive.Kind for float32 compute. GEMM-shaped work (convolution and
// inner product) is delegated to gonum's BLAS; the other kernels are straightforward loops
// parallelized over the batch.
//
// Its layout choices mimic the ones of optimized native libraries: convolutions prefer channel
// blocked layouts (memory.FormatNChw8c / memory.FormatNChw16c and the matching weights formats),
// with the block width taken from the CPU vector width. This makes it a faithful stand-in to
// exercise layout negotiation and reorders.
//
// Configuration, passed as "ref:<config>" to primitive.NewWithConfig, is a comma separated list of:
//
//   - block=<0|8|16>: channel block width of preferred layouts. 0 disables blocked layouts.
//     Default is 16 with AVX-512, 8 otherwise.
//   - parallelism=<n>: soft limit of worker goroutines. 0 disables parallelism, -1 is unlimited.
//     Default is runtime.NumCPU().
package reference

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/dnnbridge/internal/cpufeatures"
	"github.com/gomlx/dnnbridge/internal/workerspool"
	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/dnnbridge/pkg/primitive"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EngineName to be used in DNNBRIDGE_ENGINE to specify this engine.
const EngineName = "ref"

// Registers New() as the constructor for the "ref" engine.
func init() {
	primitive.Register(EngineName, func(config string) (primitive.Engine, error) {
		return New(config)
	})
}

// Engine implements primitive.Engine.
type Engine struct {
	features  cpufeatures.Features
	blockSize int
	pool      *workerspool.Pool
}

// Compile-time check that reference.Engine implements primitive.Engine.
var _ primitive.Engine = &Engine{}

// New constructs a new reference Engine. See package documentation for the configuration options.
func New(config string) (*Engine, error) {
	e := &Engine{
		features: cpufeatures.Detect(),
		pool:     workerspool.New(),
	}
	e.blockSize = 8
	if e.features.VectorWidth() >= 16 {
		e.blockSize = 16
	}
	if err := e.parseConfig(config); err != nil {
		return nil, err
	}
	klog.V(1).Infof("reference engine created: cpu=%s, block=%d, parallelism=%d",
		e.features, e.blockSize, e.pool.MaxParallelism())
	return e, nil
}

func (e *Engine) parseConfig(config string) error {
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return errors.Errorf("reference engine: invalid configuration %q, expected key=value", part)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "reference engine: invalid value for %q", key)
		}
		switch key {
		case "block":
			if n != 0 && n != 8 && n != 16 {
				return errors.Errorf("reference engine: block must be 0, 8 or 16, got %d", n)
			}
			e.blockSize = n
		case "parallelism":
			e.pool.SetMaxParallelism(n)
		default:
			return errors.Errorf("reference engine: unknown configuration key %q", key)
		}
	}
	return nil
}

// Name implements primitive.Engine.
func (e *Engine) Name() string { return EngineName }

// Description implements primitive.Engine.
func (e *Engine) Description() string {
	return fmt.Sprintf("Reference Go engine (cpu %s, block %d, parallelism %d)",
		e.features, e.blockSize, e.pool.MaxParallelism())
}

// BlockSize returns the channel block width used for preferred layouts, 0 if disabled.
func (e *Engine) BlockSize() int { return e.blockSize }

// Finalize implements primitive.Engine. There is nothing to release.
func (e *Engine) Finalize() {}

// CreatePrimitiveDesc implements primitive.Engine.
func (e *Engine) CreatePrimitiveDesc(op primitive.OpDesc) (primitive.PrimitiveDesc, error) {
	var pd *primitiveDesc
	var err error
	switch desc := op.(type) {
	case primitive.ReorderDesc:
		pd, err = e.reorderDesc(desc)
	case primitive.ConvDesc:
		pd, err = e.convDesc(desc)
	case primitive.PoolDesc:
		pd, err = e.poolDesc(desc)
	case primitive.InnerProductDesc:
		pd, err = e.innerProductDesc(desc)
	case primitive.LRNDesc:
		pd, err = e.lrnDesc(desc)
	case primitive.SoftmaxDesc:
		pd, err = e.softmaxDesc(desc)
	case primitive.ConcatDesc:
		pd, err = e.concatDesc(desc)
	case primitive.SumDesc:
		pd, err = e.sumDesc(desc)
	case primitive.ReLUDesc:
		pd, err = e.reluDesc(desc)
	default:
		return nil, errors.Wrapf(primitive.ErrNotImplemented, "reference engine: operation %T (%s)", op, op.Kind())
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "reference engine: creating %s primitive descriptor", op.Kind())
	}
	return pd, nil
}

// checkCompute validates descriptors used for compute: they must be float32 and have valid dims.
// The format may be FormatAny.
func checkCompute(name string, desc memory.Desc, rank ...int) error {
	if err := desc.Validate(); err != nil {
		return errors.WithMessagef(err, "invalid %s", name)
	}
	if desc.DType != dtypes.Float32 {
		return errors.Wrapf(primitive.ErrNotImplemented, "%s has dtype %s, only Float32 compute is supported", name, desc.DType)
	}
	if len(rank) > 0 {
		for _, r := range rank {
			if desc.Rank() == r {
				return nil
			}
		}
		return errors.Errorf("%s %s must have rank in %v", name, desc, rank)
	}
	return nil
}

// resolve returns format if it's not FormatAny, otherwise the preferred one.
func resolve(format, preferred memory.Format) memory.Format {
	if format == memory.FormatAny {
		return preferred
	}
	return format
}

// activationsFormat returns the preferred format for activations with the given number of channels.
func (e *Engine) activationsFormat(rank, channels int) memory.Format {
	if rank == 4 && e.blockSize > 0 && channels%e.blockSize == 0 {
		return memory.BlockedFormat(e.blockSize, false)
	}
	return memory.PlainFormat(rank, false)
}

// weightsFormat returns the preferred format for convolution weights.
func (e *Engine) weightsFormat(outputs, inputs int) memory.Format {
	if e.blockSize > 0 && outputs%e.blockSize == 0 && inputs%e.blockSize == 0 {
		return memory.BlockedFormat(e.blockSize, true)
	}
	return memory.FormatOIHW
}
