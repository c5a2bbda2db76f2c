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
	"github.com/kernelsched/kernelsched/schederr"
	"github.com/kernelsched/kernelsched/shapetracker"
	"github.com/kernelsched/kernelsched/uop"
)

// depGraph is the dependency graph over pre-scheduled kernels built by
// graphSchedule: an edge p -> q means q must be emitted after p
// (spec.md §5). order is the discovery-time sequence used to break
// ties deterministically when more than one item is ready at once.
type depGraph struct {
	order    []*lbScheduleItem
	inDegree map[*lbScheduleItem]int
	edges    map[*lbScheduleItem][]*lbScheduleItem
}

func newDepGraph() *depGraph {
	return &depGraph{
		inDegree: map[*lbScheduleItem]int{},
		edges:    map[*lbScheduleItem][]*lbScheduleItem{},
	}
}

func (g *depGraph) addNode(lsi *lbScheduleItem) {
	if _, ok := g.inDegree[lsi]; ok {
		return
	}
	g.order = append(g.order, lsi)
	g.inDegree[lsi] = 0
}

func (g *depGraph) addEdge(from, to *lbScheduleItem) {
	g.addNode(from)
	g.addNode(to)
	g.edges[from] = append(g.edges[from], to)
	g.inDegree[to]++
}

// graphSchedule wires the producer -> consumer edges between every
// pre-scheduled kernel (an input's writer must precede its reader)
// plus the assign barrier: a writer of a value later overwritten by
// an ASSIGN must follow every kernel that read the pre-assign value
// (spec.md §5's ordering soundness + assign-ordering invariant).
func graphSchedule(items []*lbScheduleItem, assignTargets *orderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer]) *depGraph {
	g := newDepGraph()
	writer := map[*lazybuf.LazyBuffer]*lbScheduleItem{}
	for _, lsi := range items {
		g.addNode(lsi)
		for _, o := range lsi.Outputs {
			writer[o] = lsi
		}
	}
	readers := map[*lazybuf.LazyBuffer][]*lbScheduleItem{}
	for _, lsi := range items {
		for _, in := range lsi.Inputs {
			if w, ok := writer[in]; ok && w != lsi {
				g.addEdge(w, lsi)
			}
			readers[in] = append(readers[in], lsi)
		}
	}
	for _, preAssignValue := range assignTargets.Keys() {
		assignTarget, _ := assignTargets.Get(preAssignValue)
		assigner, ok := writer[assignTarget]
		if !ok {
			continue
		}
		for _, reader := range readers[preAssignValue] {
			if reader != assigner {
				g.addEdge(reader, assigner)
			}
		}
	}
	return g
}

// readyQueue is a deterministic FIFO of kernels whose dependencies
// have all been emitted, in the order they became ready (discovery
// order for the kernels ready from the start) — adapted from
// the teacher's heap/heap.go generic slice-backed queue, simplified
// from a priority heap to a plain queue since discovery order is
// already the tie-break priority spec.md §8 asks for.
type readyQueue struct {
	items []*lbScheduleItem
}

func (q *readyQueue) push(lsi *lbScheduleItem) { q.items = append(q.items, lsi) }

func (q *readyQueue) pop() *lbScheduleItem {
	lsi := q.items[0]
	q.items = q.items[1:]
	return lsi
}

func (q *readyQueue) empty() bool { return len(q.items) == 0 }

// createScheduleWithVars runs Kahn's algorithm over the dependency
// graph built from items, producing a topologically sound, deterministic
// ordering (spec.md §5, §8). It detaches each emitted item's sources so
// a realized LazyBuffer is never re-lowered, and reports ErrCycle if
// the graph can't be fully drained.
func (c *Context) createScheduleWithVars(items []*lbScheduleItem) ([]ScheduleItem, shapetracker.VarVals, error) {
	g := graphSchedule(items, c.lastAssignTargets)
	if c.ReplayHook != nil {
		c.ReplayHook(g)
	}

	remaining := map[*lbScheduleItem]int{}
	for lsi, d := range g.inDegree {
		remaining[lsi] = d
	}

	q := &readyQueue{}
	for _, lsi := range g.order {
		if remaining[lsi] == 0 {
			q.push(lsi)
		}
	}

	var out []ScheduleItem
	varVals := shapetracker.VarVals{}
	emitted := 0
	for !q.empty() {
		lsi := q.pop()
		emitted++

		for _, o := range lsi.Outputs {
			o.Srcs = nil
		}
		varVals = varVals.Merge(lsi.VarVals)

		c.kernelNumber++
		si := c.createScheduleItem(lsi)
		if c.Flags.LogOps != "" {
			_ = c.appendLogOp(lsi.AST.String())
		}
		if c.Flags.SaveSchedule {
			c.snapshots = append(c.snapshots, snapshot{RunID: c.RunID, Text: renderGraph(g)})
		}
		out = append(out, si)

		for _, next := range g.edges[lsi] {
			remaining[next]--
			if remaining[next] == 0 {
				q.push(next)
			}
		}
	}

	if emitted != len(g.order) {
		return nil, nil, schederr.ErrCycle
	}
	return out, varVals, nil
}

// CreateSchedule lowers outs into an ordered sequence of schedule
// items using ctx (spec.md §6's create_schedule entry point). Buffers
// with symbolic constants are rejected with schederr.ErrInvariant; use
// CreateScheduleWithVars when any output may carry one.
func CreateSchedule(outs []*lazybuf.LazyBuffer, ctx *Context) ([]ScheduleItem, error) {
	items, varVals, err := CreateScheduleWithVars(outs, ctx)
	if err != nil {
		return nil, err
	}
	if len(varVals) > 0 {
		return nil, schederr.Wrap(schederr.ErrInvariant, "symbolic variables remain; use CreateScheduleWithVars")
	}
	return items, nil
}

// CreateScheduleWithVars runs the full four-phase pipeline — discovery,
// realization decision, lowering, ordering — over outs and returns the
// resulting schedule items alongside every unbound Var encountered
// while lowering CONST nodes (spec.md §6).
func CreateScheduleWithVars(outs []*lazybuf.LazyBuffer, ctx *Context) ([]ScheduleItem, shapetracker.VarVals, error) {
	g, err := ctx.getOutputGroups(outs)
	if err != nil {
		return nil, nil, err
	}
	ctx.lastAssignTargets = g.AssignTargets

	uc := uop.NewCache()
	var items []*lbScheduleItem
	for _, key := range g.Groups.Keys() {
		group, _ := g.Groups.Get(key)
		lsi, err := ctx.lowerLazyBuffer(uc, group, g)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, lsi)
	}

	out, varVals, err := ctx.createScheduleWithVars(items)
	if err != nil {
		return nil, nil, err
	}
	for _, o := range outs {
		ctx.Seen[o.Base] = true
	}
	return out, varVals, nil
}
