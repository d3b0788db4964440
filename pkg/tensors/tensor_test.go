// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/dnnbridge/pkg/memory"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromFlat(t *testing.T) {
	x, err := FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, x.DType())
	assert.Equal(t, memory.FormatNC, x.Format())
	assert.Equal(t, []int{2, 3}, x.Dims())
	assert.True(t, x.IsPlain())
	assert.Equal(t, "Tensor(Float32)[2 3]@NC", x.String())
	assert.Equal(t, "Tensor(Float32)[2 3]@NC: [1 2 3 4]...(2 more)", x.Summary(4))

	flat, err := FlatAs[float32](x)
	require.NoError(t, err)
	assert.Len(t, flat, 6)
	_, err = FlatAs[float64](x)
	require.Error(t, err)

	h, err := FromFlat(make([]float16.Float16, 24), 1, 2, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float16, h.DType())
	assert.Equal(t, memory.FormatNCHW, h.Format())

	// Not enough elements.
	_, err = FromFlat([]float32{1, 2, 3}, 2, 3)
	require.Error(t, err)

	// Format Any is not a valid tensor layout.
	_, err = FromFlatWithFormat([]float32{1, 2}, memory.FormatAny, 2)
	require.Error(t, err)
}

func TestZeros(t *testing.T) {
	x, err := Zeros(memory.MakeDesc(dtypes.Float64, memory.FormatNChw8c, 2, 3, 2, 2))
	require.NoError(t, err)
	flat, err := FlatAs[float64](x)
	require.NoError(t, err)
	assert.Len(t, flat, 2*8*2*2)
	assert.False(t, x.IsPlain())
}
