// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package lazybuf is the immutable lazy-buffer graph the scheduler
// consumes: a value node with source links, a shape-tracker view, and
// an op tag drawn from the closed set in spec.md §3.
//
// Shaped after plan/pir's table/Trace nodes in the teacher (a value
// node with a base identity and a small equals/walk surface), adapted
// from SQL expression trees to tensor computation nodes.
package lazybuf

import (
	"github.com/kernelsched/kernelsched/ops"
	"github.com/kernelsched/kernelsched/shapetracker"
	"github.com/kernelsched/kernelsched/uop"
)

// Kind is the op tag of a LazyBuffer (spec.md §3: "one of: CONST,
// COPY, EMPTY, CUSTOM, VIEW, ASSIGN, CONTIGUOUS, a unary/binary/
// ternary arithmetic op, or a reduce kind SUM/MAX").
type Kind int

const (
	KindConst Kind = iota
	KindCopy
	KindEmpty
	KindCustom
	KindView
	KindAssign
	KindContiguous
	KindUnary
	KindBinary
	KindTernary
	KindReduce
)

func (k Kind) isMeta() bool {
	switch k {
	case KindConst, KindCopy, KindEmpty, KindCustom, KindView, KindAssign, KindContiguous:
		return true
	default:
		return false
	}
}

// ReduceArg is the axis/kind payload of a KindReduce LazyBuffer.
type ReduceArg struct {
	Kind ops.ReduceKind
	Axes []int
}

// LazyBuffer is a node in the lazy computation graph (spec.md §3).
//
// Invariant: Base.Base == Base (enforced by the constructors in this
// file: View points a new view at its argument's Base, so a view of a
// view still has a base as its Base).
type LazyBuffer struct {
	Kind  Kind
	DType *uop.DType
	Srcs  []*LazyBuffer
	Alu   ops.Alu // meaningful for KindUnary/KindBinary/KindTernary and CAST/BITCAST
	IsCast, IsBitcast bool
	Reduce ReduceArg // meaningful for KindReduce
	Const  any       // meaningful for KindConst; may be a *shapetracker.Var

	ST   shapetracker.ShapeTracker
	Base *LazyBuffer // self when canonical, otherwise the base this is a view of

	Realized *Buffer // non-nil once this base has a backing allocation
	Device   string

	Metadata      *Metadata
	ForcedRealize bool

	// AssignOverrideShape is ASSIGN's out.arg[0] in the original: when
	// set, the assign's output ShapeTracker must be reshaped to it
	// after the normal store shape is computed (spec.md §4.4).
	AssignOverrideShape *shapetracker.ShapeTracker
}

// NewBase constructs a canonical (non-view) LazyBuffer: Base points to
// itself, and ST is the identity tracker over shape.
func NewBase(kind Kind, dtype *uop.DType, srcs []*LazyBuffer, shape []int, device string) *LazyBuffer {
	lb := &LazyBuffer{
		Kind:   kind,
		DType:  dtype,
		Srcs:   srcs,
		ST:     shapetracker.FromShape(shape),
		Device: device,
	}
	lb.Base = lb
	return lb
}

// View wraps base with an additional shape-tracker view; it carries no
// sources of its own (spec.md §3: "A view LB has empty sources; its
// base carries the computation").
func View(base *LazyBuffer, st shapetracker.ShapeTracker) *LazyBuffer {
	return &LazyBuffer{
		DType: base.DType,
		ST:    st,
		Base:  base.Base,
	}
}

// IsBase reports whether lb is its own base (a canonical node).
func (lb *LazyBuffer) IsBase() bool { return lb.Base == lb }

// Shape is the logical shape of lb's own ShapeTracker.
func (lb *LazyBuffer) Shape() []int { return lb.ST.Shape() }

// Size is the element count of Shape().
func (lb *LazyBuffer) Size() int { return lb.ST.Size() }
