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
	"strings"

	"github.com/kernelsched/kernelsched/lazybuf"
	"github.com/kernelsched/kernelsched/ops"
	"github.com/kernelsched/kernelsched/schederr"
	"github.com/kernelsched/kernelsched/shapetracker"
	"github.com/kernelsched/kernelsched/uop"
)

// loweringState is the mutable bag threaded through recursiveUOp,
// mirroring the tuple of accumulator dicts the original passes
// positionally into _recursive_uop (spec.md §4.4).
type loweringState struct {
	uc            *uop.Cache
	outputs       *orderedSet[*lazybuf.LazyBuffer]
	inputs        *orderedSet[*lazybuf.LazyBuffer]
	realizes      *orderedSet[*lazybuf.LazyBuffer]
	assignTargets *orderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer]
	varVals       shapetracker.VarVals
	cache         map[string]*uop.UOp
}

func lowerKey(buf *lazybuf.LazyBuffer, st shapetracker.ShapeTracker) string {
	return fmt.Sprintf("%p|%s", buf, st.Key())
}

// recursiveUOp lowers buf viewed through st into a kernel AST node,
// hash-consed through ls.uc (spec.md §4.4): a view folds into its
// base, a realized buffer becomes a LOAD, a CONST becomes a CONST
// leaf, and an arithmetic/reduce/assign node recurses into its
// sources before building the corresponding UOp.
func (c *Context) recursiveUOp(buf *lazybuf.LazyBuffer, st shapetracker.ShapeTracker, ls *loweringState) (*uop.UOp, error) {
	key := lowerKey(buf, st)
	if v, ok := ls.cache[key]; ok {
		return v, nil
	}

	if buf != buf.Base {
		unbound := st.Add(buf.ST).Simplify()
		n, err := c.recursiveUOp(buf.Base, unbound, ls)
		if err != nil {
			return nil, err
		}
		ls.cache[key] = n
		return n, nil
	}

	if buf.Realized != nil || (ls.realizes.Has(buf) && !ls.outputs.Has(buf)) {
		if buf.Kind == lazybuf.KindConst {
			v := buf.Const
			if vv, ok := v.(*shapetracker.Var); ok {
				ls.varVals[*vv] = vv.Min
				v = vv
			}
			n := ls.uc.New(uop.CONST, buf.DType, []*uop.UOp{uop.ShapeTrackerNode(st)}, uop.ConstArg(v))
			ls.cache[key] = n
			return n, nil
		}
		if ls.assignTargets.Has(buf) && !st.AssignableTarget() {
			return nil, schederr.Wrap(schederr.ErrNotContiguous, "help: consider using .Contiguous() on the view the assign target is read through")
		}
		ls.inputs.Add(buf)
		n := ls.uc.New(uop.LOAD, buf.DType, []*uop.UOp{uop.ShapeTrackerNode(st)}, uop.Arg{})
		ls.cache[key] = n
		return n, nil
	}

	var n *uop.UOp
	switch buf.Kind {
	case lazybuf.KindConst:
		// Reached only when this CONST is itself one of the kernel's
		// outputs (discovery puts every unrealized CONST in realizes);
		// same literal emission as the branch above.
		v := buf.Const
		if vv, ok := v.(*shapetracker.Var); ok {
			ls.varVals[*vv] = vv.Min
			v = vv
		}
		n = ls.uc.New(uop.CONST, buf.DType, []*uop.UOp{uop.ShapeTrackerNode(st)}, uop.ConstArg(v))

	case lazybuf.KindAssign:
		src, err := c.recursiveUOp(buf.Srcs[0], st, ls)
		if err != nil {
			return nil, err
		}
		n = src

	case lazybuf.KindUnary:
		src, err := c.recursiveUOp(buf.Srcs[0], st, ls)
		if err != nil {
			return nil, err
		}
		n = ls.uc.New(uop.ALU, buf.DType, []*uop.UOp{src}, uop.AluArg(buf.Alu))

	case lazybuf.KindBinary:
		srcs := make([]*uop.UOp, len(buf.Srcs))
		for i, s := range buf.Srcs {
			v, err := c.recursiveUOp(s, st, ls)
			if err != nil {
				return nil, err
			}
			srcs[i] = v
		}
		if buf.IsCast {
			n = ls.uc.New(uop.CAST, buf.DType, srcs, uop.Arg{})
		} else if buf.IsBitcast {
			n = ls.uc.New(uop.BITCAST, buf.DType, srcs, uop.Arg{})
		} else {
			n = ls.uc.New(uop.ALU, buf.DType, srcs, uop.AluArg(buf.Alu))
		}

	case lazybuf.KindTernary:
		srcs := make([]*uop.UOp, len(buf.Srcs))
		for i, s := range buf.Srcs {
			v, err := c.recursiveUOp(s, st, ls)
			if err != nil {
				return nil, err
			}
			srcs[i] = v
		}
		n = ls.uc.New(uop.ALU, buf.DType, srcs, uop.AluArg(buf.Alu))

	case lazybuf.KindContiguous:
		src, err := c.recursiveUOp(buf.Srcs[0], st, ls)
		if err != nil {
			return nil, err
		}
		n = src

	case lazybuf.KindReduce:
		r, err := c.recurseReduceOps(buf, st, ls)
		if err != nil {
			return nil, err
		}
		n = r

	default:
		return nil, schederr.Wrap(schederr.ErrInvariant, fmt.Sprintf("unlowerable lazybuffer kind %d", buf.Kind))
	}

	ls.cache[key] = n
	return n, nil
}

// recurseReduceOps lowers a REDUCE_AXIS node by recursing into its
// source under an identity pre-reduce view, then wrapping the result
// in a SWIZZLE carrying the accumulated view st whenever that view
// isn't itself contiguous (spec.md §4.5, schedule.py's AST_REWRITE
// reduce branch). Simplifying the SWIZZLE away — pushing it through
// the reduce, merging double reduces, splitting oversized ones — is
// left entirely to the reduceopFusor rewrite pass over the finished
// AST, which runs only when Flags.ASTRewrite is set; otherwise the
// SWIZZLE stays in the emitted AST.
func (c *Context) recurseReduceOps(buf *lazybuf.LazyBuffer, st shapetracker.ShapeTracker, ls *loweringState) (*uop.UOp, error) {
	alu := ops.ReduceAlu[buf.Reduce.Kind]
	inputST := shapetracker.FromShape(buf.Srcs[0].Shape())
	src, err := c.recursiveUOp(buf.Srcs[0], inputST, ls)
	if err != nil {
		return nil, err
	}
	ret := ls.uc.New(uop.REDUCE_AXIS, buf.DType, []*uop.UOp{src}, uop.ReduceOpArg(alu, buf.Reduce.Axes))
	if st.Contiguous() {
		return ret, nil
	}
	return ls.uc.New(uop.SWIZZLE, buf.DType, []*uop.UOp{ret}, uop.STArg(st)), nil
}

// lowerLazyBuffer lowers one output group into its pre-scheduled form
// (spec.md §4.4): meta-ops (COPY/EMPTY/CUSTOM/VIEW) take a fast path
// that bypasses AST construction entirely, everything else walks
// recursiveUOp from each output and wraps the results in a SINK.
func (c *Context) lowerLazyBuffer(uc *uop.Cache, outs []*lazybuf.LazyBuffer, g *outputGroupsResult) (*lbScheduleItem, error) {
	first := outs[0]
	if first.Kind.isMeta() && first.Kind != lazybuf.KindAssign && first.Kind != lazybuf.KindContiguous {
		return c.lowerMetaOp(uc, first)
	}

	outputSet := newOrderedSet[*lazybuf.LazyBuffer]()
	for _, o := range outs {
		outputSet.Add(o)
	}
	ls := &loweringState{
		uc:            uc,
		outputs:       outputSet,
		inputs:        newOrderedSet[*lazybuf.LazyBuffer](),
		realizes:      g.Realizes,
		assignTargets: g.AssignTargets,
		varVals:       shapetracker.VarVals{},
		cache:         map[string]*uop.UOp{},
	}

	stores := make([]*uop.UOp, len(outs))
	metas := make([]*lazybuf.Metadata, 0, len(outs))
	for i, o := range outs {
		body, err := c.recursiveUOp(o, shapetracker.FromShape(o.Shape()), ls)
		if err != nil {
			return nil, err
		}
		st := o.ST
		if o.AssignOverrideShape != nil {
			st = *o.AssignOverrideShape
		}
		stores[i] = uc.New(uop.STORE, o.DType, []*uop.UOp{uop.ShapeTrackerNode(st), body}, uop.Arg{})
		if o.Metadata != nil {
			metas = append(metas, o.Metadata)
		}
	}
	ast := uc.New(uop.SINK, nil, stores, uop.Arg{})
	if c.Flags.ASTRewrite {
		ast = uop.GraphRewrite(uc, ast, c.reduceopFusor())
	}

	var inputsOut []*lazybuf.LazyBuffer
	inputsOut = append(inputsOut, ls.inputs.Keys()...)

	return &lbScheduleItem{
		AST:      ast,
		Outputs:  outs,
		Inputs:   inputsOut,
		VarVals:  ls.varVals,
		Metadata: metas,
	}, nil
}

// byteDType is the uint8 dtype the USE_COPY_KERNEL byte kernel's
// LOAD/STORE pair is built over, regardless of buf's own dtype.
var byteDType = &uop.DType{Name: "uint8", ItemSize: 1}

// devicePrefix returns the part of a device string before its first
// ":" (e.g. "CPU:1" -> "CPU"), matching out.device.split(":")[0].
func devicePrefix(device string) string {
	if i := strings.IndexByte(device, ':'); i >= 0 {
		return device[:i]
	}
	return device
}

// lowerMetaOp builds the pre-scheduled form of a COPY/EMPTY/CUSTOM/VIEW
// buffer. A COPY with Flags.UseCopyKernel set, whose source and
// destination share a device prefix, lowers to a real byte LOAD/STORE
// kernel instead (spec.md §4.4, schedule.py:245-249); every other
// meta-op carries its payload in an EXT arg rather than a computed
// AST.
func (c *Context) lowerMetaOp(uc *uop.Cache, buf *lazybuf.LazyBuffer) (*lbScheduleItem, error) {
	if buf.Kind == lazybuf.KindCopy && c.Flags.UseCopyKernel && devicePrefix(buf.Device) == devicePrefix(buf.Srcs[0].Base.Device) {
		nbytes := int64(buf.Size()) * int64(itemSizeOf(buf.DType))
		stUop := uop.ShapeTrackerNode(shapetracker.FromShape([]int{int(nbytes)}))
		rd := uc.New(uop.LOAD, byteDType, []*uop.UOp{stUop}, uop.Arg{})
		wr := uc.New(uop.STORE, nil, []*uop.UOp{stUop, rd}, uop.Arg{})
		ast := uc.New(uop.SINK, nil, []*uop.UOp{wr}, uop.Arg{})
		var metas []*lazybuf.Metadata
		if buf.Metadata != nil {
			metas = []*lazybuf.Metadata{buf.Metadata}
		}
		return &lbScheduleItem{
			AST:      ast,
			Outputs:  []*lazybuf.LazyBuffer{buf},
			Inputs:   []*lazybuf.LazyBuffer{buf.Srcs[0].Base},
			VarVals:  nil,
			Metadata: metas,
		}, nil
	}

	var meta ops.MetaOp
	var data any
	var inputs []*lazybuf.LazyBuffer
	switch buf.Kind {
	case lazybuf.KindCopy:
		meta, data = ops.Copy, buf.Device
		inputs = []*lazybuf.LazyBuffer{buf.Srcs[0].Base}
	case lazybuf.KindEmpty:
		meta = ops.Empty
	case lazybuf.KindCustom:
		meta, data = ops.Custom, buf.Const
	case lazybuf.KindView:
		meta = ops.View
		inputs = []*lazybuf.LazyBuffer{buf.Srcs[0].Base}
	}
	ast := &uop.UOp{Op: uop.EXT, DType: buf.DType, Arg: uop.ExtOpArg(meta, data)}
	var metas []*lazybuf.Metadata
	if buf.Metadata != nil {
		metas = []*lazybuf.Metadata{buf.Metadata}
	}
	return &lbScheduleItem{
		AST:      ast,
		Outputs:  []*lazybuf.LazyBuffer{buf},
		Inputs:   inputs,
		VarVals:  nil,
		Metadata: metas,
	}, nil
}

func itemSizeOf(d *uop.DType) int {
	if d == nil {
		return 1
	}
	return d.ItemSize
}

// createScheduleItem binds a pre-scheduled lbScheduleItem's output and
// input LazyBuffers to concrete Buffers, allocating one where needed
// and eliding zero-size buffers from the emitted item (spec.md §4.4,
// §6).
func (c *Context) createScheduleItem(lsi *lbScheduleItem) ScheduleItem {
	bufs := make([]*lazybuf.Buffer, 0, len(lsi.Outputs)+len(lsi.Inputs))
	for _, o := range lsi.Outputs {
		if o.Realized == nil {
			o.Realized = &lazybuf.Buffer{
				ID:     fmt.Sprintf("out-%p", o),
				Nbytes: int64(o.Size()) * int64(itemSizeOf(o.DType)),
				DType:  o.DType,
				Device: o.Device,
			}
		}
		if o.Realized.Nbytes == 0 {
			continue
		}
		bufs = append(bufs, o.Realized)
	}
	for _, in := range lsi.Inputs {
		if in.Realized == nil || in.Realized.Nbytes == 0 {
			continue
		}
		bufs = append(bufs, in.Realized)
	}
	return ScheduleItem{AST: lsi.AST, Bufs: bufs, Metadata: lsi.Metadata}
}
