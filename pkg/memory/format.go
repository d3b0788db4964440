// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

// Format enumerates the physical layouts a Desc can take.
//
// The logical order of the dimensions of a Desc never changes: activations are always
// described as [N, C, H, W] (or [N, C]), weights as [O, I, H, W] (or [O, I]). The format
// only defines how those logical positions are laid out in the flat buffer.
//
// Blocked formats (e.g. FormatNChw8c) split the channel axis in blocks of 8 or 16 that are
// stored innermost. Channels are padded up to a multiple of the block size, and the padding
// is kept zeroed.
type Format int

//go:generate go tool enumer -type=Format -trimprefix=Format -output=gen_format_enumer.go format.go

const (
	// FormatUndef is the zero value, and it is invalid.
	FormatUndef Format = iota

	// FormatAny is used in operation descriptors to let the engine choose the layout.
	FormatAny

	// FormatX is a 1D buffer, e.g. biases.
	FormatX

	// FormatNC is the row-major 2D layout of activations.
	FormatNC

	// FormatNCHW is the row-major 4D layout of activations.
	FormatNCHW

	// FormatNHWC is the channels-last layout of activations.
	FormatNHWC

	// FormatCHWN is the batch-last layout of activations.
	FormatCHWN

	// FormatNChw8c splits the channels of activations in blocks of 8.
	FormatNChw8c

	// FormatNChw16c splits the channels of activations in blocks of 16.
	FormatNChw16c

	// FormatOI is the row-major 2D layout of weights: [outputs, inputs].
	FormatOI

	// FormatOIHW is the row-major 4D layout of convolution weights.
	FormatOIHW

	// FormatHWIO is the spatial-first layout of convolution weights.
	FormatHWIO

	// FormatOIhw8i8o splits input and output channels of weights in blocks of 8.
	FormatOIhw8i8o

	// FormatOIhw16i16o splits input and output channels of weights in blocks of 16.
	FormatOIhw16i16o
)

// Rank returns the number of logical axes described by the format, or 0 for
// FormatUndef and FormatAny.
func (f Format) Rank() int {
	switch f {
	case FormatX:
		return 1
	case FormatNC, FormatOI:
		return 2
	case FormatNCHW, FormatNHWC, FormatCHWN, FormatNChw8c, FormatNChw16c,
		FormatOIHW, FormatHWIO, FormatOIhw8i8o, FormatOIhw16i16o:
		return 4
	default:
		return 0
	}
}

// IsWeights returns whether the format describes weights ([O, I, ...]) as opposed to activations.
func (f Format) IsWeights() bool {
	switch f {
	case FormatOI, FormatOIHW, FormatHWIO, FormatOIhw8i8o, FormatOIhw16i16o:
		return true
	}
	return false
}

// IsBlocked returns whether channels are split in blocks.
func (f Format) IsBlocked() bool {
	return f.BlockSize() > 0
}

// BlockSize returns the channel block width of blocked formats, or 0.
func (f Format) BlockSize() int {
	switch f {
	case FormatNChw8c, FormatOIhw8i8o:
		return 8
	case FormatNChw16c, FormatOIhw16i16o:
		return 16
	}
	return 0
}

// IsPlain returns whether the format is the row-major layout of its rank.
func (f Format) IsPlain() bool {
	switch f {
	case FormatX, FormatNC, FormatNCHW, FormatOI, FormatOIHW:
		return true
	}
	return false
}

// canonical maps formats that share the same physical layout to a single representative:
// OI and NC are both row-major 2D, OIHW and NCHW are both row-major 4D.
func (f Format) canonical() Format {
	switch f {
	case FormatOI:
		return FormatNC
	case FormatOIHW:
		return FormatNCHW
	}
	return f
}

// PlainFormat returns the row-major format for the given rank. If weights is true,
// the weights flavor (OI, OIHW) is returned.
func PlainFormat(rank int, weights bool) Format {
	switch rank {
	case 1:
		return FormatX
	case 2:
		if weights {
			return FormatOI
		}
		return FormatNC
	case 4:
		if weights {
			return FormatOIHW
		}
		return FormatNCHW
	}
	return FormatUndef
}

// BlockedFormat returns the blocked activations (weights=false) or weights format for
// the given block size, or FormatUndef if the block size is not supported.
func BlockedFormat(blockSize int, weights bool) Format {
	switch blockSize {
	case 8:
		if weights {
			return FormatOIhw8i8o
		}
		return FormatNChw8c
	case 16:
		if weights {
			return FormatOIhw16i16o
		}
		return FormatNChw16c
	}
	return FormatUndef
}
