// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cpufeatures probes the SIMD extensions of the host CPU, used to pick the width of
// blocked memory layouts.
package cpufeatures

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// Features of the host CPU relevant to vectorized kernels.
type Features struct {
	HasAVX2    bool // AVX2 + FMA.
	HasAVX512F bool
	HasNEON    bool
}

// Detect returns the features of the CPU running the program.
func Detect() Features {
	return Features{
		HasAVX2:    cpu.X86.HasAVX2 && cpu.X86.HasFMA,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasNEON:    runtime.GOARCH == "arm64" && cpu.ARM64.HasASIMD,
	}
}

// VectorWidth returns the number of float32 lanes of the widest vector unit available.
func (f Features) VectorWidth() int {
	switch {
	case f.HasAVX512F:
		return 16
	case f.HasAVX2:
		return 8
	default:
		return 4
	}
}

// String implements fmt.Stringer.
func (f Features) String() string {
	var names []string
	if f.HasAVX512F {
		names = append(names, "avx512f")
	}
	if f.HasAVX2 {
		names = append(names, "avx2+fma")
	}
	if f.HasNEON {
		names = append(names, "neon")
	}
	if len(names) == 0 {
		names = append(names, "generic")
	}
	return fmt.Sprintf("%s/%s", runtime.GOARCH, strings.Join(names, ","))
}
