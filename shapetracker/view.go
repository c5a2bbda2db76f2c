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

// Package shapetracker implements the composable view algebra that
// lets the scheduler rewrite movement ops (reshape/permute/pad/shrink/
// expand) without materializing them: a ShapeTracker is an ordered
// list of Views, and two trackers compose with Add the same way two
// affine index maps compose.
//
// There is no teacher or pack library for strided-view algebra (the
// rest of the corpus is row-oriented, not tensor-strided), so this is
// built directly from the semantics exercised by
// tinygrad/engine/schedule.py against tinygrad/shape/shapetracker.py
// and tinygrad/shape/view.py (see DESIGN.md).
package shapetracker

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// MaskDim is one [start, end) bound of a View's optional mask.
type MaskDim struct {
	Lo, Hi int
}

// View is a single affine reinterpretation of a flat buffer: a shape,
// a stride per dimension, a scalar offset, and an optional mask that
// zeroes out-of-bounds reads (used to represent pad).
type View struct {
	Shape   []int
	Strides []int
	Offset  int
	Mask    []MaskDim // nil if unmasked
}

// StridesForShape returns the contiguous (row-major) strides for shape.
func StridesForShape(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	for i, s := range shape {
		if s == 1 {
			strides[i] = 0
		}
	}
	return strides
}

// NewContiguousView builds the canonical unmasked view over shape.
func NewContiguousView(shape []int) View {
	return View{Shape: append([]int(nil), shape...), Strides: StridesForShape(shape), Offset: 0}
}

// NewView validates and constructs a view, mirroring View.create.
func NewView(shape, strides []int, offset int, mask []MaskDim) View {
	if len(strides) != len(shape) {
		panic(fmt.Sprintf("shapetracker: shape/strides length mismatch %v %v", shape, strides))
	}
	return View{
		Shape:   append([]int(nil), shape...),
		Strides: append([]int(nil), strides...),
		Offset:  offset,
		Mask:    append([]MaskDim(nil), mask...),
	}
}

// Contiguous reports whether this view is a plain row-major layout
// over its full shape with no mask and zero offset.
func (v View) Contiguous() bool {
	if v.Offset != 0 || v.Mask != nil {
		return false
	}
	return slices.Equal(v.Strides, StridesForShape(v.Shape))
}

func prod(xs []int) int {
	p := 1
	for _, x := range xs {
		p *= x
	}
	return p
}

// Size is the logical element count (product of shape).
func (v View) Size() int { return prod(v.Shape) }

// permute returns a new view with axes reordered by perm (perm[i] is
// the source axis that becomes the new axis i).
func (v View) permute(perm []int) View {
	shape := make([]int, len(perm))
	strides := make([]int, len(perm))
	var mask []MaskDim
	if v.Mask != nil {
		mask = make([]MaskDim, len(perm))
	}
	for i, p := range perm {
		shape[i] = v.Shape[p]
		strides[i] = v.Strides[p]
		if v.Mask != nil {
			mask[i] = v.Mask[p]
		}
	}
	return View{Shape: shape, Strides: strides, Offset: v.Offset, Mask: mask}
}

// reshape is only valid when it doesn't change total element count;
// the scheduler only ever reshapes contiguous-enough views (callers
// are expected to have checked via Contiguous or a reduce-compatible
// shape), matching the original's reliance on ShapeTracker.reshape
// being called in already-safe positions.
func (v View) reshape(shape []int) View {
	return View{Shape: append([]int(nil), shape...), Strides: StridesForShape(shape), Offset: v.Offset, Mask: nil}
}
