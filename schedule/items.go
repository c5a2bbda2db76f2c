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

// Package schedule is the four-phase kernel scheduler pipeline:
// graph discovery, realization decision, kernel lowering, and
// ordering (spec.md §2).
package schedule

import (
	"github.com/kernelsched/kernelsched/lazybuf"
	"github.com/kernelsched/kernelsched/shapetracker"
	"github.com/kernelsched/kernelsched/uop"
)

// lbScheduleItem is the pre-scheduled form of a kernel (spec.md §3):
// its identity for ordering purposes is its first output.
type lbScheduleItem struct {
	AST      *uop.UOp
	Outputs  []*lazybuf.LazyBuffer
	Inputs   []*lazybuf.LazyBuffer
	VarVals  shapetracker.VarVals
	Metadata []*lazybuf.Metadata
}

// ScheduleItem is the emitted, buffer-bound form of a kernel
// (spec.md §3 and §6).
type ScheduleItem struct {
	AST      *uop.UOp
	Bufs     []*lazybuf.Buffer
	Metadata []*lazybuf.Metadata
}

// Outputs returns the read/write-or-write-only buffers of the item:
// if the AST is a SINK, its first len(ast.Src) entries in Bufs; for an
// EXT meta-op item, just Bufs[0].
func (si ScheduleItem) Outputs() []*lazybuf.Buffer {
	if si.AST.Op == uop.SINK {
		return si.Bufs[:len(si.AST.Src)]
	}
	return si.Bufs[:1]
}

// Inputs returns the read-only buffers of the item: the remainder of
// Bufs after Outputs.
func (si ScheduleItem) Inputs() []*lazybuf.Buffer {
	if si.AST.Op == uop.SINK {
		return si.Bufs[len(si.AST.Src):]
	}
	return si.Bufs[1:]
}
