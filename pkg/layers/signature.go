// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"
	"strings"

	"github.com/gomlx/dnnbridge/pkg/tensors"
)

// signature builds the cache key of a layer by concatenating its parts.
type signature struct {
	sb strings.Builder
}

func newSignature(op string) *signature {
	s := &signature{}
	s.sb.WriteString(op)
	return s
}

// inputs adds the descriptors (dtype, dimensions and layout) of the tensors.
func (s *signature) inputs(ts ...*tensors.Tensor) *signature {
	for _, t := range ts {
		s.sb.WriteByte('|')
		s.sb.WriteString(t.Desc().String())
	}
	return s
}

// param adds a named parameter.
func (s *signature) param(name string, value any) *signature {
	fmt.Fprintf(&s.sb, "|%s=%+v", name, value)
	return s
}

func (s *signature) String() string { return s.sb.String() }
