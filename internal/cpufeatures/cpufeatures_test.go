// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cpufeatures

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorWidth(t *testing.T) {
	assert.Equal(t, 16, Features{HasAVX2: true, HasAVX512F: true}.VectorWidth())
	assert.Equal(t, 8, Features{HasAVX2: true}.VectorWidth())
	assert.Equal(t, 4, Features{HasNEON: true}.VectorWidth())
	assert.Equal(t, 4, Features{}.VectorWidth())
}

func TestDetect(t *testing.T) {
	f := Detect()
	assert.Contains(t, []int{4, 8, 16}, f.VectorWidth())
	assert.True(t, strings.HasPrefix(f.String(), runtime.GOARCH+"/"))
	if runtime.GOARCH != "amd64" {
		assert.False(t, f.HasAVX2)
		assert.False(t, f.HasAVX512F)
	}
}
