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

// Package uop implements the kernel AST: an immutable, hash-consed
// DAG of typed operation nodes (spec.md §3), plus the pattern-rewrite
// engine used to push swizzles through reduces, merge double reduces,
// and split oversized reduces (spec.md §4.6).
//
// The node-walk/rewrite shape is grounded on expr.Node/expr.Visitor/
// expr.Rewriter in the teacher's expr package; hash-consing uses
// siphash the same way vm/interphash.go uses it as a fast structural
// pre-check hash, not a cryptographic one.
package uop

import (
	"fmt"
	"strings"

	"github.com/dchest/siphash"

	"github.com/kernelsched/kernelsched/ops"
	"github.com/kernelsched/kernelsched/shapetracker"
)

// Tag is the closed set of kernel AST op tags.
type Tag int

const (
	SINK Tag = iota
	STORE
	LOAD
	CONST
	DEFINE_GLOBAL
	ALU
	CAST
	BITCAST
	REDUCE_AXIS
	SWIZZLE
	SHAPETRACKER
	EXT
)

func (t Tag) String() string {
	switch t {
	case SINK:
		return "SINK"
	case STORE:
		return "STORE"
	case LOAD:
		return "LOAD"
	case CONST:
		return "CONST"
	case DEFINE_GLOBAL:
		return "DEFINE_GLOBAL"
	case ALU:
		return "ALU"
	case CAST:
		return "CAST"
	case BITCAST:
		return "BITCAST"
	case REDUCE_AXIS:
		return "REDUCE_AXIS"
	case SWIZZLE:
		return "SWIZZLE"
	case SHAPETRACKER:
		return "SHAPETRACKER"
	case EXT:
		return "EXT"
	default:
		return "?"
	}
}

// BufferTags is the BUFFER_UOPS set named in spec.md §9.
var BufferTags = map[Tag]bool{LOAD: true, STORE: true, CONST: true}

// DType is a minimal dtype descriptor: enough to drive the image
// dtype downgrade logic (spec.md §4.3) without modelling the whole
// device type system, which is explicitly out of scope.
type DType struct {
	Name      string
	ItemSize  int
	IsImage   bool
	ImgShape  []int // only meaningful when IsImage
}

func (d *DType) String() string {
	if d == nil {
		return "<nil>"
	}
	if d.IsImage {
		return fmt.Sprintf("image(%s,%v)", d.Name, d.ImgShape)
	}
	return d.Name
}

// Base returns the non-image dtype backing an image dtype (identity
// for a non-image dtype), mirroring `buf.dtype.base`.
func (d *DType) Base() *DType {
	if d == nil || !d.IsImage {
		return d
	}
	return &DType{Name: d.Name, ItemSize: d.ItemSize}
}

// Arg is the tagged payload carried by a UOp; exactly one of its
// fields is meaningful, selected by the owning UOp's Tag.
type Arg struct {
	Alu      ops.Alu
	IsAlu    bool
	Reduce   ReduceArg
	IsReduce bool
	BufIndex int
	IsBuf    bool
	Const    any
	IsConst  bool
	ST       shapetracker.ShapeTracker
	IsST     bool
	Ext      ExtArg
	IsExt    bool
}

// ReduceArg is the (alu, axes) payload of a REDUCE_AXIS node.
type ReduceArg struct {
	Alu  ops.Alu
	Axes []int
}

// ExtArg is the payload of a meta-op (COPY/CUSTOM/EMPTY/VIEW) schedule
// item that bypasses normal lowering.
type ExtArg struct {
	Meta ops.MetaOp
	Data any
}

func AluArg(a ops.Alu) Arg            { return Arg{Alu: a, IsAlu: true} }
func ReduceOpArg(a ops.Alu, axes []int) Arg {
	return Arg{Reduce: ReduceArg{Alu: a, Axes: append([]int(nil), axes...)}, IsReduce: true}
}
func BufIndexArg(i int) Arg       { return Arg{BufIndex: i, IsBuf: true} }
func ConstArg(v any) Arg          { return Arg{Const: v, IsConst: true} }
func STArg(st shapetracker.ShapeTracker) Arg { return Arg{ST: st, IsST: true} }
func ExtOpArg(meta ops.MetaOp, data any) Arg { return Arg{Ext: ExtArg{Meta: meta, Data: data}, IsExt: true} }

func (a Arg) equal(b Arg) bool {
	switch {
	case a.IsAlu || b.IsAlu:
		return a.IsAlu == b.IsAlu && a.Alu == b.Alu
	case a.IsReduce || b.IsReduce:
		if a.IsReduce != b.IsReduce || a.Reduce.Alu != b.Reduce.Alu || len(a.Reduce.Axes) != len(b.Reduce.Axes) {
			return false
		}
		for i := range a.Reduce.Axes {
			if a.Reduce.Axes[i] != b.Reduce.Axes[i] {
				return false
			}
		}
		return true
	case a.IsBuf || b.IsBuf:
		return a.IsBuf == b.IsBuf && a.BufIndex == b.BufIndex
	case a.IsConst || b.IsConst:
		return a.IsConst == b.IsConst && fmt.Sprint(a.Const) == fmt.Sprint(b.Const)
	case a.IsST || b.IsST:
		return a.IsST == b.IsST && a.ST.Equal(b.ST)
	case a.IsExt || b.IsExt:
		return a.IsExt == b.IsExt && a.Ext.Meta == b.Ext.Meta && fmt.Sprint(a.Ext.Data) == fmt.Sprint(b.Ext.Data)
	default:
		return true // no arg on either side
	}
}

func (a Arg) repr() string {
	switch {
	case a.IsAlu:
		return "alu:" + a.Alu.String()
	case a.IsReduce:
		return fmt.Sprintf("reduce:%s:%v", a.Reduce.Alu, a.Reduce.Axes)
	case a.IsBuf:
		return fmt.Sprintf("buf:%d", a.BufIndex)
	case a.IsConst:
		return fmt.Sprintf("const:%v", a.Const)
	case a.IsST:
		var sb strings.Builder
		for _, v := range a.ST.Views {
			fmt.Fprintf(&sb, "v%v/%v/%d/%v;", v.Shape, v.Strides, v.Offset, v.Mask)
		}
		return "st:" + sb.String()
	case a.IsExt:
		return fmt.Sprintf("ext:%d:%v", a.Ext.Meta, a.Ext.Data)
	default:
		return "noarg"
	}
}

// UOp is an immutable kernel AST node.
type UOp struct {
	Op    Tag
	DType *DType
	Src   []*UOp
	Arg   Arg
}

// ShapeTrackerNode wraps st as a SHAPETRACKER leaf, standing in for
// ShapeTracker.to_uop from spec.md §3 (kept as a function here, not a
// shapetracker.ShapeTracker method, to avoid an import cycle between
// this package and shapetracker).
func ShapeTrackerNode(st shapetracker.ShapeTracker) *UOp {
	return &UOp{Op: SHAPETRACKER, Arg: STArg(st)}
}

// Cache hash-conses UOp construction: identical (op, dtype, srcs, arg)
// tuples built through the same Cache return the same *UOp pointer,
// per the AST hash-consing invariant in spec.md §3.
type Cache struct {
	buckets map[uint64][]*UOp
}

func NewCache() *Cache { return &Cache{buckets: make(map[uint64][]*UOp)} }

var siphashKey0, siphashKey1 uint64 = 0x6c657a79677261, 0x7075636b6572

func (c *Cache) key(op Tag, dtype *DType, srcs []*UOp, arg Arg) uint64 {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%s|", op, dtype.String())
	for _, s := range srcs {
		fmt.Fprintf(&sb, "%p,", s)
	}
	sb.WriteString(arg.repr())
	return siphash.Hash(siphashKey0, siphashKey1, []byte(sb.String()))
}

// New builds (or reuses) the UOp for (op, dtype, srcs, arg).
func (c *Cache) New(op Tag, dtype *DType, srcs []*UOp, arg Arg) *UOp {
	k := c.key(op, dtype, srcs, arg)
	for _, cand := range c.buckets[k] {
		if cand.Op == op && dtypeEqual(cand.DType, dtype) && sameSrcs(cand.Src, srcs) && cand.Arg.equal(arg) {
			return cand
		}
	}
	n := &UOp{Op: op, DType: dtype, Src: append([]*UOp(nil), srcs...), Arg: arg}
	c.buckets[k] = append(c.buckets[k], n)
	return n
}

func dtypeEqual(a, b *DType) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Name != b.Name || a.ItemSize != b.ItemSize || a.IsImage != b.IsImage || len(a.ImgShape) != len(b.ImgShape) {
		return false
	}
	for i := range a.ImgShape {
		if a.ImgShape[i] != b.ImgShape[i] {
			return false
		}
	}
	return true
}

func sameSrcs(a, b []*UOp) bool {
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

// Sparents returns u and every UOp transitively reachable from it,
// each exactly once, in a stable (sources-first) order — the basis of
// Parents, which the reduce-fusion rewrite rules consult (spec.md
// §4.6).
func Sparents(u *UOp) []*UOp {
	seen := map[*UOp]bool{}
	var order []*UOp
	var walk func(*UOp)
	walk = func(n *UOp) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, s := range n.Src {
			walk(s)
		}
		order = append(order, n)
	}
	walk(u)
	return order
}

// Parents returns the set of UOps that transitively feed u (not
// including u itself), used by the merge-double-reduce safety check.
func Parents(u *UOp) []*UOp {
	all := Sparents(u)
	out := make([]*UOp, 0, len(all))
	for _, n := range all {
		if n != u {
			out = append(out, n)
		}
	}
	return out
}

// String renders a compact single-line form for the LOGOPS dump
// (spec.md §6). Shapes inside it print with spaces (e.g. [4 4]);
// appendLogOp strips spaces before appending a line, as the original
// strips newlines and spaces from its repr.
func (u *UOp) String() string {
	if u == nil {
		return "<nil>"
	}
	var sb strings.Builder
	writeUOp(&sb, u, map[*UOp]bool{})
	return sb.String()
}

func writeUOp(sb *strings.Builder, u *UOp, seen map[*UOp]bool) {
	fmt.Fprintf(sb, "%s(", u.Op)
	for i, s := range u.Src {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeUOp(sb, s, seen)
	}
	if len(u.Src) > 0 {
		sb.WriteByte(';')
	}
	sb.WriteString(u.Arg.repr())
	sb.WriteByte(')')
}
