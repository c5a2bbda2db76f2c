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
	"fmt"

	"github.com/kernelsched/kernelsched/lazybuf"
	"github.com/kernelsched/kernelsched/ops"
	"github.com/kernelsched/kernelsched/shapetracker"
	"github.com/kernelsched/kernelsched/uop"
)

// recursiveGroup grows a candidate fusion group for reduce r by
// walking children of tr, stopping (and forcing r to realize) the
// moment a child can't cleanly fuse: it's itself a reduce, it is
// reached through more than one distinct view, or the ShapeTracker
// accumulated along the path from r to tr is non-contiguous or
// disagrees in size with r.ST (spec.md §4.2, schedule.py:341).
func (c *Context) recursiveGroup(tr *lazybuf.LazyBuffer, st shapetracker.ShapeTracker, r *lazybuf.LazyBuffer, d *discovery,
	reduceForOp *orderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer], group *orderedSet[*lazybuf.LazyBuffer], cache map[string]bool) {
	key := fmt.Sprintf("%p|%s", tr, st.Key())
	if cache[key] {
		return
	}
	cache[key] = true
	if d.realizes.Has(tr) && tr != r {
		if !st.Contiguous() || st.Size() != r.ST.Size() || reduceForOp.Has(tr) {
			group.Add(r)
			group.Add(tr)
			return
		}
		group.Add(tr)
		return
	}
	for _, trNext := range d.childrenOf(tr).Keys() {
		if trNext.Kind == lazybuf.KindReduce {
			group.Add(r)
			return
		}
		stChilds := sourcesWithBase(trNext, tr)
		if len(stChilds) > 1 {
			group.Add(r)
			return
		}
		c.recursiveGroup(trNext, st.Add(stChilds[0].ST).Simplify(), r, d, reduceForOp, group, cache)
	}
}

// sourcesWithBase returns the deduplicated sources of lb whose base
// is tr — used to detect a node reached through more than one
// distinct view of the same base.
func sourcesWithBase(lb, tr *lazybuf.LazyBuffer) []*lazybuf.LazyBuffer {
	var out []*lazybuf.LazyBuffer
	seen := map[string]bool{}
	for _, s := range lb.Srcs {
		if s.Base != tr {
			continue
		}
		k := s.ST.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// getIsolatedChildren recomputes group by intersecting descendants of
// r cleanly reachable through non-reduce, non-multi-view paths,
// aborting (returning {}) if any ancestor up to r is itself a reduce
// (spec.md §4.2).
func (c *Context) getIsolatedChildren(r *lazybuf.LazyBuffer, reduceForOp *orderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer],
	d *discovery, group *orderedSet[*lazybuf.LazyBuffer]) *orderedSet[*lazybuf.LazyBuffer] {
	stack := append([]*lazybuf.LazyBuffer(nil), group.Keys()...)
	seen := map[*lazybuf.LazyBuffer]bool{}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[p] {
			continue
		}
		seen[p] = true
		if p.Kind == lazybuf.KindReduce {
			return newOrderedSet[*lazybuf.LazyBuffer]()
		}
		for _, x := range p.Srcs {
			if x.Base.Realized == nil && x.Base != r {
				stack = append(stack, x.Base)
			}
		}
	}
	descendants := newOrderedSet[*lazybuf.LazyBuffer]()
	for _, tr := range group.Keys() {
		c.recursiveGroup(tr, tr.ST, tr, d, reduceForOp, descendants, map[string]bool{})
	}
	for _, tr := range descendants.Keys() {
		if group.Has(tr) {
			return group
		}
	}
	merged := newOrderedSet[*lazybuf.LazyBuffer]()
	for _, k := range group.Keys() {
		merged.Add(k)
	}
	for _, k := range descendants.Keys() {
		merged.Add(k)
	}
	return merged
}

// outputGroupsResult is getOutputGroups' result: Groups maps each
// kernel's reduce-for-op key (or the buffer itself, outside
// MULTIOUTPUT mode) to the buffers that realize together (spec.md
// §4.3).
type outputGroupsResult struct {
	Groups        *orderedMap[*lazybuf.LazyBuffer, []*lazybuf.LazyBuffer]
	Realizes      *orderedSet[*lazybuf.LazyBuffer]
	AssignTargets *orderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer]
}

// getOutputGroups finds all the realizes in the graph and groups the
// output LazyBuffers into kernels (spec.md §4.2, §4.3).
func (c *Context) getOutputGroups(outs []*lazybuf.LazyBuffer) (*outputGroupsResult, error) {
	d := newDiscovery()
	for _, o := range outs {
		if o.Base.Realized == nil {
			d.realizes.Add(o.Base)
		}
	}
	for _, o := range outs {
		if err := c.recurseLB(o.Base, d, true); err != nil {
			return nil, err
		}
	}

	for _, p := range d.simplePads.Keys() {
		if !isPaddingOkay(p, d.realizes) {
			d.realizes.Add(p)
		}
	}

	reduceForOp := newOrderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer]()
	var reduceOfConst []*lazybuf.LazyBuffer

	for _, r := range d.allbufs.Keys() {
		if r.Kind != lazybuf.KindReduce || d.realizes.Has(r) {
			continue
		}
		group := newOrderedSet[*lazybuf.LazyBuffer]()
		c.recursiveGroup(r, r.ST, r, d, reduceForOp, group, map[string]bool{})

		canChase := true
		for _, tr := range group.Keys() {
			if reduceForOp.Has(tr) {
				canChase = false
				break
			}
		}
		forcedRealize := group.Has(r)
		if !forcedRealize && group.Len() > 1 {
			group = c.getIsolatedChildren(r, reduceForOp, d, group)
		}
		if !forcedRealize && groupHasAssign(group) {
			stack := []*lazybuf.LazyBuffer{r}
			stack = append(stack, group.Keys()...)
			for len(stack) > 0 && !forcedRealize {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				pBase := p.Base
				if pBase.Realized != nil || d.realizes.Has(pBase) {
					if target, ok := d.assignTargets.Get(pBase); ok && !group.Has(target) {
						forcedRealize, canChase = true, false
					}
					continue
				}
				stack = append(stack, pBase.Srcs...)
			}
		}
		if forcedRealize || group.Len() == 0 {
			tr := r
			if canChase {
				st := tr.ST
				for d.childrenOf(tr).Len() == 1 {
					trNext := d.childrenOf(tr).Keys()[0]
					stChilds := sourcesWithBase(trNext, tr)
					if len(stChilds) > 1 {
						break
					}
					if st.Size() != stChilds[0].ST.Size() {
						break
					}
					st = st.Add(stChilds[0].ST).Simplify()
					if !st.Contiguous() || trNext.Kind == lazybuf.KindReduce {
						break
					}
					tr = trNext
				}
				if tr.IsCast && tr.DType != nil && tr.Srcs[0].DType != nil && tr.DType.ItemSize > tr.Srcs[0].DType.ItemSize {
					tr = tr.Srcs[0].Base
				}
				reduceForOp.Set(tr, r)
			}
			d.realizes.Add(tr)
		} else {
			for _, tr := range group.Keys() {
				reduceForOp.Set(tr, r)
			}
		}
		if c.Flags.FuseArange && r.Reduce.Kind == ops.Sum && r.Srcs[0].Base.Kind == lazybuf.KindConst {
			reduceOfConst = append(reduceOfConst, r)
		}
	}

	if c.Flags.FuseConvBW {
		for _, reduceop := range d.doubleReduces.Keys() {
			topReduce := reduceop.Base.Srcs[0].Base
			if d.childrenOf(topReduce).Len() == 1 {
				d.realizes.Delete(topReduce)
			}
		}
	}

	for _, r := range reduceOfConst {
		group := newOrderedSet[*lazybuf.LazyBuffer]()
		for _, tr := range reduceForOp.Keys() {
			if v, _ := reduceForOp.Get(tr); v == r {
				group.Add(tr)
			}
		}
		anyForced := false
		for _, tr := range group.Keys() {
			if tr.ForcedRealize {
				anyForced = true
				break
			}
		}
		anyOutputDescendant := false
		for _, o := range outs {
			if group.Has(o.Base) {
				anyOutputDescendant = true
				break
			}
		}
		if anyForced || anyOutputDescendant {
			continue
		}
		kernelChildren := 0
		for _, tr := range group.Keys() {
			for _, ch := range d.childrenOf(tr).Keys() {
				if ch.Kind != lazybuf.KindCopy && ch.Kind != lazybuf.KindView {
					kernelChildren++
				}
			}
		}
		if kernelChildren == 0 {
			continue
		}
		if c.Flags.DebugArange {
			c.debugf(1, "folding arange reduce %p", r)
		}
		for _, tr := range group.Keys() {
			d.realizes.Delete(tr)
		}
	}

	groups := newOrderedMap[*lazybuf.LazyBuffer, []*lazybuf.LazyBuffer]()
	for _, buf := range d.realizes.Keys() {
		if buf.Realized != nil || buf.Kind == lazybuf.KindConst || c.Seen[buf] {
			continue
		}
		key := buf
		if c.Flags.MultiOutput {
			if r, ok := reduceForOp.Get(buf); ok {
				key = r
			}
		}
		existing, _ := groups.Get(key)
		groups.Set(key, append(existing, buf))

		if buf.DType != nil && buf.DType.IsImage {
			okShape := uopProd(buf.Shape()) == uopProd(buf.DType.ImgShape)
			div4 := false
			for _, ax := range buf.ST.UnitStrideAxes() {
				if buf.Shape()[ax]%4 == 0 {
					div4 = true
					break
				}
			}
			if !okShape || !div4 {
				c.debugf(2, "forcing image %s with shape %v to float32", buf.DType, buf.Shape())
				buf.DType = &uop.DType{Name: "float32", ItemSize: 4}
				if buf.Base == buf && buf.Realized != nil {
					buf.Realized.DType = buf.DType
				}
			}
		}
	}

	return &outputGroupsResult{Groups: groups, Realizes: d.realizes, AssignTargets: d.assignTargets}, nil
}

func groupHasAssign(group *orderedSet[*lazybuf.LazyBuffer]) bool {
	for _, x := range group.Keys() {
		if x.Kind == lazybuf.KindAssign {
			return true
		}
	}
	return false
}

func uopProd(shape []int) int {
	p := 1
	for _, s := range shape {
		p *= s
	}
	return p
}
