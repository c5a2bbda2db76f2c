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

package schedule

import (
	"golang.org/x/exp/slices"

	"github.com/kernelsched/kernelsched/config"
	"github.com/kernelsched/kernelsched/shapetracker"
	"github.com/kernelsched/kernelsched/uop"
)

// getOutputST recovers the ShapeTracker a UOp's output is viewed
// through, memoized in uopSts: a buffer op (LOAD/STORE/CONST) carries
// it as its SHAPETRACKER child, a REDUCE_AXIS reduces its source's
// shape, and anything else passes the tracker of its sources (which
// must all agree in shape) through unchanged (schedule.py's
// get_output_st).
func getOutputST(u *uop.UOp, uopSts map[*uop.UOp]*shapetracker.ShapeTracker) *shapetracker.ShapeTracker {
	if st, ok := uopSts[u]; ok {
		return st
	}
	if uop.BufferTags[u.Op] {
		st := u.Src[0].Arg.ST
		return &st
	}
	srcSts := make([]*shapetracker.ShapeTracker, 0, len(u.Src))
	for _, x := range u.Src {
		if xst := getOutputST(x, uopSts); xst != nil {
			srcSts = append(srcSts, xst)
		}
	}
	if len(srcSts) != len(u.Src) || len(srcSts) == 0 {
		return nil
	}
	for _, s := range srcSts[1:] {
		if !slices.Equal(s.Shape(), srcSts[0].Shape()) {
			return nil
		}
	}
	var st shapetracker.ShapeTracker
	if u.Op == uop.REDUCE_AXIS {
		st = shapetracker.FromShape(srcSts[0].Reduce(u.Arg.Reduce.Axes))
	} else {
		st = *srcSts[0]
	}
	uopSts[u] = &st
	return &st
}

// stFixup rewrites every SHAPETRACKER leaf under u by applyToSt,
// hash-consing the result through uc and short-circuiting subtrees
// applyToSt leaves unchanged (schedule.py's st_fixup).
func stFixup(u *uop.UOp, applyToSt func(shapetracker.ShapeTracker) shapetracker.ShapeTracker,
	uopSts map[*uop.UOp]*shapetracker.ShapeTracker, cache map[*uop.UOp]*uop.UOp, uc *uop.Cache) *uop.UOp {
	if n, ok := cache[u]; ok {
		return n
	}
	if st, ok := uopSts[u]; ok && applyToSt(*st).Equal(*st) {
		return u
	}
	if u.Op == uop.SHAPETRACKER {
		newSt := applyToSt(u.Arg.ST)
		if newSt.Equal(u.Arg.ST) {
			return u
		}
		return uc.New(uop.SHAPETRACKER, nil, nil, uop.STArg(newSt))
	}
	newSrcs := make([]*uop.UOp, len(u.Src))
	changed := false
	for i, x := range u.Src {
		ns := stFixup(x, applyToSt, uopSts, cache, uc)
		newSrcs[i] = ns
		if ns != x {
			changed = true
		}
	}
	ret := u
	if changed {
		ret = uc.New(u.Op, u.DType, newSrcs, u.Arg)
	}
	cache[u] = ret
	return ret
}

// pushSwizzleThroughReduce moves a SWIZZLE that wraps a REDUCE_AXIS
// down into the reduce's source, re-deriving the pre-reduce
// ShapeTracker and axes via shapetracker.SwizzleReduceop (spec.md
// §4.5, schedule.py's push_swizzle_through_reduce).
func pushSwizzleThroughReduce(uc *uop.Cache, swizzle, reduceop *uop.UOp) *uop.UOp {
	uopSts := map[*uop.UOp]*shapetracker.ShapeTracker{}
	rsrc := reduceop.Src[0]
	rsrcSt := getOutputST(rsrc, uopSts)
	if rsrcSt == nil {
		return nil
	}
	newInputST, newAxis := shapetracker.SwizzleReduceop(*rsrcSt, swizzle.Arg.ST, reduceop.Arg.Reduce.Axes)
	fixed := stFixup(rsrc, func(shapetracker.ShapeTracker) shapetracker.ShapeTracker { return newInputST }, uopSts, map[*uop.UOp]*uop.UOp{}, uc)
	return uc.New(uop.REDUCE_AXIS, reduceop.DType, []*uop.UOp{fixed}, uop.ReduceOpArg(reduceop.Arg.Reduce.Alu, newAxis))
}

// mergeDoubleReduce collapses a REDUCE_AXIS feeding directly into
// another of the same alu into one reduce over the union of axes,
// refusing to fire if a third nested reduce would be swallowed along
// with it (schedule.py's merge_double_reduce).
func mergeDoubleReduce(uc *uop.Cache, root, firstReduce *uop.UOp) *uop.UOp {
	if root.Arg.Reduce.Alu != firstReduce.Arg.Reduce.Alu {
		return nil
	}
	for _, p := range uop.Parents(firstReduce) {
		if p.Op == uop.REDUCE_AXIS {
			return nil
		}
	}
	axes := append(append([]int(nil), root.Arg.Reduce.Axes...), firstReduce.Arg.Reduce.Axes...)
	return uc.New(uop.REDUCE_AXIS, firstReduce.DType, firstReduce.Src, uop.ReduceOpArg(firstReduce.Arg.Reduce.Alu, axes))
}

// pushReduceopShape reshapes an ALU/CAST/BITCAST/STORE node to match
// the output shape of the first REDUCE_AXIS found among its sources,
// undoing the keepdim-shape mismatch a nested reduce otherwise leaves
// behind (schedule.py's push_reduceop_shape).
func pushReduceopShape(uc *uop.Cache, root *uop.UOp) *uop.UOp {
	var reduceop *uop.UOp
	for _, p := range uop.Parents(root) {
		if p.Op == uop.REDUCE_AXIS {
			reduceop = p
			break
		}
	}
	if reduceop == nil {
		return nil
	}
	uopSts := map[*uop.UOp]*shapetracker.ShapeTracker{}
	rst := getOutputST(reduceop, uopSts)
	if rst == nil {
		return nil
	}
	rshape := rst.Shape()
	if rootSt := getOutputST(root, uopSts); rootSt != nil && slices.Equal(rootSt.Shape(), rshape) {
		return nil
	}
	return stFixup(root, func(st shapetracker.ShapeTracker) shapetracker.ShapeTracker { return st.Reshape(rshape) }, uopSts, map[*uop.UOp]*uop.UOp{}, uc)
}

func hasZeroDim(shape []int) bool {
	for _, s := range shape {
		if s == 0 {
			return true
		}
	}
	return false
}

// splitReduceop rewrites an oversized REDUCE_AXIS into two smaller
// ones joined by a synthetic STORE/LOAD boundary, when its input
// volume divided by its output volume clears
// config.Flags.ReduceopSplitThreshold (spec.md §4.6, schedule.py's
// split_reduceop). The synthetic STORE/LOAD pair marks where a real
// codegen backend would break this into two physical kernels; this
// module stops at the AST boundary, matching spec.md's scope (no
// code generation, no device dispatch).
func splitReduceop(uc *uop.Cache, flags config.Flags, root *uop.UOp) *uop.UOp {
	uopSts := map[*uop.UOp]*shapetracker.ShapeTracker{}
	inputSt := getOutputST(root.Src[0], uopSts)
	if inputSt == nil {
		return nil
	}
	axis := root.Arg.Reduce.Axes
	shape := inputSt.Shape()
	newShape := inputSt.Reduce(axis)
	if hasZeroDim(shape) || shapetracker.Prod(shape)/shapetracker.Prod(newShape) < flags.ReduceopSplitThreshold {
		return nil
	}
	realStrides := inputSt.RealStrides(true)
	maxDivisor := 256
	if d := (1 << uint(flags.ReduceopSplitSize)) / shapetracker.Prod(newShape); d < maxDivisor {
		maxDivisor = d
	}
	dimToSplit, divisor := -1, 0
search:
	for _, i := range axis {
		for x := maxDivisor; x >= 8; x-- {
			if shape[i]%x == 0 && realStrides[i] != 0 {
				dimToSplit, divisor = i, x
				break search
			}
		}
	}
	if dimToSplit < 0 {
		return nil
	}

	splitShape := make([]int, 0, len(shape)+1)
	splitShape = append(splitShape, shape[:dimToSplit]...)
	splitShape = append(splitShape, divisor, shape[dimToSplit]/divisor)
	splitShape = append(splitShape, shape[dimToSplit+1:]...)
	perm := make([]int, 0, len(splitShape))
	for x := range splitShape {
		if x != dimToSplit {
			perm = append(perm, x)
		}
	}
	perm = append(perm, dimToSplit)
	fixSt := func(st shapetracker.ShapeTracker) shapetracker.ShapeTracker {
		return st.Reshape(splitShape).Permute(perm)
	}
	splitted := stFixup(root.Src[0], fixSt, uopSts, map[*uop.UOp]*uop.UOp{}, uc)

	firstReduce := uc.New(uop.REDUCE_AXIS, root.DType, []*uop.UOp{splitted}, uop.ReduceOpArg(root.Arg.Reduce.Alu, axis))
	frSt := getOutputST(firstReduce, uopSts)
	if frSt == nil {
		return nil
	}
	store := uc.New(uop.STORE, root.DType, []*uop.UOp{uop.ShapeTrackerNode(*frSt), firstReduce}, uop.Arg{})
	load := uc.New(uop.LOAD, root.DType, []*uop.UOp{uop.ShapeTrackerNode(*frSt), store}, uop.Arg{})
	secondReduce := uc.New(uop.REDUCE_AXIS, root.DType, []*uop.UOp{load}, uop.ReduceOpArg(root.Arg.Reduce.Alu, []int{len(newShape)}))
	srSt := getOutputST(secondReduce, uopSts)
	if srSt == nil {
		return nil
	}
	return uc.New(uop.SWIZZLE, nil, []*uop.UOp{secondReduce}, uop.STArg(srSt.Reshape(newShape)))
}

// reduceopFusor is the post-lowering rewrite pass run over a kernel's
// finished AST when Flags.ASTRewrite is set: push a swizzle through a
// reduce, merge a double reduce, split an oversized reduce, then
// reshape whatever it feeds into to match (spec.md §4.6,
// schedule.py's reduceop_fusor, in the same rule order).
func (c *Context) reduceopFusor() uop.Matcher {
	return uop.Matcher{
		{
			Pat: uop.UPat{Ops: []uop.Tag{uop.SWIZZLE}, Name: "swizzle",
				Src: []uop.UPat{{Ops: []uop.Tag{uop.REDUCE_AXIS}, Name: "reduceop"}}},
			Fn: func(uc *uop.Cache, cap map[string]*uop.UOp) *uop.UOp {
				return pushSwizzleThroughReduce(uc, cap["swizzle"], cap["reduceop"])
			},
		},
		{
			Pat: uop.UPat{Ops: []uop.Tag{uop.REDUCE_AXIS}, Name: "root",
				Src: []uop.UPat{{Ops: []uop.Tag{uop.REDUCE_AXIS}, Name: "first_reduce"}}},
			Fn: func(uc *uop.Cache, cap map[string]*uop.UOp) *uop.UOp {
				return mergeDoubleReduce(uc, cap["root"], cap["first_reduce"])
			},
		},
		{
			Pat: uop.UPat{Ops: []uop.Tag{uop.REDUCE_AXIS}, Name: "root"},
			Fn: func(uc *uop.Cache, cap map[string]*uop.UOp) *uop.UOp {
				return splitReduceop(uc, c.Flags, cap["root"])
			},
		},
		{
			Pat: uop.UPat{Ops: []uop.Tag{uop.ALU, uop.CAST, uop.BITCAST, uop.STORE}, Name: "root"},
			Fn: func(uc *uop.Cache, cap map[string]*uop.UOp) *uop.UOp {
				return pushReduceopShape(uc, cap["root"])
			},
		},
	}
}
