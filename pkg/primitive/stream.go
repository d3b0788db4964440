// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package primitive

import (
	"context"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Stream is an ordered list of primitives executed as a unit.
//
// Submit executes the given primitives and appends them to the stream. Rerun executes every primitive
// submitted so far, in order: it is how a cached execution graph is run again after the handles of its
// memories are rebound.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	id, name   string
	primitives []Primitive
}

// NewStream creates an empty stream. The name is only used for logging and errors.
func NewStream(name string) *Stream {
	return &Stream{id: uuid.NewString(), name: name}
}

// ID returns a unique identifier of the stream.
func (s *Stream) ID() string { return s.id }

// Name of the stream.
func (s *Stream) Name() string { return s.name }

// Len returns the number of primitives submitted.
func (s *Stream) Len() int { return len(s.primitives) }

// Kinds returns the kinds of the submitted primitives, in execution order.
func (s *Stream) Kinds() []Kind {
	kinds := make([]Kind, len(s.primitives))
	for ii, p := range s.primitives {
		kinds[ii] = p.Kind()
	}
	return kinds
}

// String implements fmt.Stringer.
func (s *Stream) String() string {
	return fmt.Sprintf("Stream(%s, %s, %v)", s.name, s.id, s.Kinds())
}

// Submit executes the primitives in order and appends them to the stream.
//
// Primitives are appended even if the execution fails, so the stream keeps the intended graph.
func (s *Stream) Submit(ctx context.Context, primitives ...Primitive) error {
	s.primitives = append(s.primitives, primitives...)
	if klog.V(2).Enabled() {
		klog.Infof("stream %q (%s): submitted %d primitives, now %v", s.name, s.id, len(primitives), s.Kinds())
	}
	return s.execute(ctx, primitives)
}

// Rerun executes all submitted primitives again, in order.
func (s *Stream) Rerun(ctx context.Context) error {
	if len(s.primitives) == 0 {
		return errors.Errorf("stream %q has no submitted primitives to rerun", s.name)
	}
	return s.execute(ctx, s.primitives)
}

func (s *Stream) execute(ctx context.Context, primitives []Primitive) error {
	for ii, p := range primitives {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "stream %q interrupted before primitive #%d (%s)", s.name, ii, p.Kind())
		}
		if err := executePrimitive(p); err != nil {
			return errors.WithMessagef(err, "stream %q failed executing primitive #%d (%s)", s.name, ii, p.Kind())
		}
	}
	return nil
}

// executePrimitive runs the primitive, converting a panic into an error.
func executePrimitive(p Primitive) (err error) {
	exception := exceptions.TryCatch[error](func() { err = p.Execute() })
	if exception != nil {
		return errors.WithMessagef(exception, "primitive %s panicked", p.Kind())
	}
	return err
}
