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

import "testing"

func TestFromShapeContiguous(t *testing.T) {
	st := FromShape([]int{2, 3, 4})
	if !st.Contiguous() {
		t.Fatalf("identity tracker over %v should be contiguous", st.Shape())
	}
	if got, want := st.Size(), 24; got != want {
		t.Fatalf("Size() = %d, want %d", got, want)
	}
}

func TestReshapePreservesSize(t *testing.T) {
	st := FromShape([]int{2, 6})
	out := st.Reshape([]int{3, 4})
	if got, want := out.Size(), 12; got != want {
		t.Fatalf("Size() after reshape = %d, want %d", got, want)
	}
	if !out.Contiguous() {
		t.Fatalf("reshape of a contiguous view should stay contiguous")
	}
}

func TestPermuteRoundTrip(t *testing.T) {
	st := FromShape([]int{2, 3, 5})
	permuted := st.Permute([]int{2, 0, 1})
	if got, want := permuted.Shape(), []int{5, 2, 3}; !shapeEqual(got, want) {
		t.Fatalf("Shape() after permute = %v, want %v", got, want)
	}
	back := permuted.Permute([]int{1, 2, 0})
	if !shapeEqual(back.Shape(), st.Shape()) {
		t.Fatalf("round-trip permute = %v, want %v", back.Shape(), st.Shape())
	}
}

func TestPadMasksOutOfBounds(t *testing.T) {
	st := FromShape([]int{4})
	padded := st.Pad([][2]int{{1, 1}})
	if got, want := padded.Shape(), []int{6}; !shapeEqual(got, want) {
		t.Fatalf("Shape() after pad = %v, want %v", got, want)
	}
	if padded.Contiguous() {
		t.Fatalf("a padded view carries a mask and must not report contiguous")
	}
	mask := padded.LastMask()
	if len(mask) != 1 || mask[0] != (MaskDim{Lo: 1, Hi: 5}) {
		t.Fatalf("LastMask() = %v, want [{1 5}]", mask)
	}
}

func TestShrinkNarrowsShapeAndAdjustsOffset(t *testing.T) {
	st := FromShape([]int{10})
	shrunk := st.Shrink([][2]int{{2, 6}})
	if got, want := shrunk.Shape(), []int{4}; !shapeEqual(got, want) {
		t.Fatalf("Shape() after shrink = %v, want %v", got, want)
	}
	if got := shrunk.Views[0].Offset; got != 2 {
		t.Fatalf("Offset after shrink = %d, want 2", got)
	}
}

func TestExpandBroadcastsZeroStride(t *testing.T) {
	st := FromShape([]int{1, 3})
	expanded := st.Expand([]int{5, 3})
	strides := expanded.RealStrides(false)
	if strides[0] != 0 {
		t.Fatalf("expanded axis should carry stride 0, got %d", strides[0])
	}
}

func TestKeyIsStableAcrossEqualTrackers(t *testing.T) {
	a := FromShape([]int{2, 3})
	b := FromShape([]int{2, 3})
	if a.Key() != b.Key() {
		t.Fatalf("Key() should agree for structurally equal trackers: %q vs %q", a.Key(), b.Key())
	}
	if !a.Equal(b) {
		t.Fatalf("Equal() should hold for structurally equal trackers")
	}
}

func TestSimplifyCollapsesContiguousViews(t *testing.T) {
	st := FromShape([]int{6}).Add(FromShape([]int{2, 3}))
	if len(st.Views) != 2 {
		t.Fatalf("Add() produced %d views, want 2", len(st.Views))
	}
	simplified := st.Simplify()
	if len(simplified.Views) != 1 {
		t.Fatalf("Simplify() left %d views, want 1", len(simplified.Views))
	}
}

func TestPermuteReduceMovesReduceAxesToEnd(t *testing.T) {
	st := FromShape([]int{2, 3, 4})
	permuted, rshape := PermuteReduce(st, []int{0})
	if got, want := permuted.Shape(), []int{3, 4, 2}; !shapeEqual(got, want) {
		t.Fatalf("PermuteReduce shape = %v, want %v", got, want)
	}
	if !shapeEqual(rshape, []int{2}) {
		t.Fatalf("PermuteReduce reduce-shape = %v, want [2]", rshape)
	}
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
