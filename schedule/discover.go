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
	"github.com/kernelsched/kernelsched/lazybuf"
	"github.com/kernelsched/kernelsched/ops"
	"github.com/kernelsched/kernelsched/schederr"
	"github.com/kernelsched/kernelsched/shapetracker"
)

// discovery is the mutable state threaded through recurseLB (spec.md
// §4.1). Every field here is an ordered set/map, not a plain Go map,
// so the resulting schedule stays deterministic (spec.md §8).
type discovery struct {
	realizes      *orderedSet[*lazybuf.LazyBuffer]
	allbufs       *orderedSet[*lazybuf.LazyBuffer]
	simplePads    *orderedSet[*lazybuf.LazyBuffer]
	children      map[*lazybuf.LazyBuffer]*orderedSet[*lazybuf.LazyBuffer]
	assignTargets *orderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer]
	doubleReduces *orderedSet[*lazybuf.LazyBuffer]
}

func newDiscovery() *discovery {
	return &discovery{
		realizes:      newOrderedSet[*lazybuf.LazyBuffer](),
		allbufs:       newOrderedSet[*lazybuf.LazyBuffer](),
		simplePads:    newOrderedSet[*lazybuf.LazyBuffer](),
		children:      map[*lazybuf.LazyBuffer]*orderedSet[*lazybuf.LazyBuffer]{},
		assignTargets: newOrderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer](),
		doubleReduces: newOrderedSet[*lazybuf.LazyBuffer](),
	}
}

func (d *discovery) childrenOf(lb *lazybuf.LazyBuffer) *orderedSet[*lazybuf.LazyBuffer] {
	s, ok := d.children[lb]
	if !ok {
		s = newOrderedSet[*lazybuf.LazyBuffer]()
		d.children[lb] = s
	}
	return s
}

// recurseLB walks buf (and transitively its sources), enumerating
// every reachable base LazyBuffer into allbufs, classifying views as
// expand/simple-pad/other-masked, and recording realizes, assign
// targets, and children adjacency (spec.md §4.1). It reports
// schederr.ErrInvariant if an ASSIGN's target isn't already a
// realized base, or a COPY's source isn't contiguous (spec.md §7,
// schedule.py:313-319).
func (c *Context) recurseLB(buf *lazybuf.LazyBuffer, d *discovery, scheduled bool) error {
	if d.allbufs.Has(buf) || buf.Base.Realized != nil {
		return nil
	}
	if c.Flags.Graph {
		c.debugf(1, "lazybuffer %p scheduled=%v", buf, scheduled)
	}
	if !buf.IsBase() {
		views := buf.ST.Views
		last := views[len(views)-1]
		baseShape := buf.Base.ST.Shape()
		switch {
		case len(views) == 1 && last.Mask != nil && shapetracker.Prod(baseShape) >= maskVolume(last.Mask):
			d.simplePads.Add(buf.Base)
		case shapetracker.Prod(baseShape) < shapetracker.Prod(buf.ST.Shape()):
			if buf.Base.IsCast && buf.Base.Srcs[0].DType != nil && buf.Base.Srcs[0].DType.IsImage && buf.Base.DType.IsImage {
				// don't realize image-to-image casts; see spec.md §4.1
				d.simplePads.Add(buf.Base)
			} else {
				d.realizes.Add(buf.Base)
			}
		case anyMasked(views):
			d.simplePads.Add(buf.Base)
		}
		return c.recurseLB(buf.Base, d, scheduled)
	}

	if buf.Kind == lazybuf.KindReduce && buf.Srcs[0].Base.Kind == lazybuf.KindReduce &&
		buf.Srcs[0].Base.Reduce.Kind == buf.Reduce.Kind && buf.Srcs[0] != buf.Srcs[0].Base {
		d.doubleReduces.Add(buf)
	}
	d.allbufs.Add(buf)
	if buf.ForcedRealize || buf.Kind.isMeta() {
		d.realizes.Add(buf)
	}
	if buf.Kind == lazybuf.KindAssign {
		target := buf.Srcs[1]
		if target.Base != target {
			return schederr.Wrap(schederr.ErrInvariant, "assign must be to base")
		}
		if target.Realized == nil {
			return schederr.Wrap(schederr.ErrInvariant, "assign must be already realized to schedule")
		}
		d.assignTargets.Set(target, buf)
	}
	if buf.Kind == lazybuf.KindCopy {
		src := buf.Srcs[0]
		if !src.ST.Contiguous() || src.Size() != src.Base.Size() {
			return schederr.Wrap(schederr.ErrInvariant, "can only copy contig")
		}
		d.realizes.Add(src.Base)
	}
	if buf.Kind == lazybuf.KindView {
		d.realizes.Add(buf.Srcs[0].Base)
	}
	for _, x := range buf.Srcs {
		if x.Base.Realized == nil {
			d.childrenOf(x.Base).Add(buf)
		}
		if err := c.recurseLB(x, d, scheduled); err != nil {
			return err
		}
	}
	return nil
}

func maskVolume(mask []shapetracker.MaskDim) int {
	v := 1
	for _, m := range mask {
		v *= m.Hi - m.Lo
	}
	return v
}

func anyMasked(views []shapetracker.View) bool {
	for _, v := range views {
		if v.Mask != nil {
			return true
		}
	}
	return false
}

// isPaddingOkay checks every simple_pad against UNSAFE_PAD_OPS: a pad
// of a value computed with a division/reciprocal/log2 (the value
// itself or any unrealized ancestor) changes what the padded region
// evaluates to, so that value must be realized instead of fused
// through (spec.md §4.1).
func isPaddingOkay(buf *lazybuf.LazyBuffer, realizes *orderedSet[*lazybuf.LazyBuffer]) bool {
	if realizes.Has(buf) || buf.Realized != nil {
		return true
	}
	if isArithmetic(buf) && ops.UnsafePadOps[buf.Alu] {
		return false
	}
	for _, x := range buf.Srcs {
		if !isPaddingOkay(x.Base, realizes) {
			return false
		}
	}
	return true
}

func isArithmetic(buf *lazybuf.LazyBuffer) bool {
	switch buf.Kind {
	case lazybuf.KindUnary, lazybuf.KindBinary, lazybuf.KindTernary:
		return true
	default:
		return false
	}
}
