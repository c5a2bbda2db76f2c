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

// schedtool builds a small elementwise-reduce-elementwise lazy graph
// and prints the kernel schedule the scheduler produces for it: two
// lines per kernel, a header with its buffer count and then its
// rendered AST. It exists to
// exercise CreateSchedule end to end the way cmd/dump exercises
// ion.ToJSON end to end, not as a general-purpose tensor frontend.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/kernelsched/kernelsched/config"
	"github.com/kernelsched/kernelsched/lazybuf"
	"github.com/kernelsched/kernelsched/ops"
	"github.com/kernelsched/kernelsched/schedule"
	"github.com/kernelsched/kernelsched/uop"
)

func main() {
	rows := flag.Int("rows", 4, "row count of the demo graph's 2D inputs")
	cols := flag.Int("cols", 4, "column count of the demo graph's 2D inputs")
	flag.Parse()

	flags := config.FromEnv()
	ctx := schedule.NewContext(flags)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	root := demoGraph(*rows, *cols)
	items, err := schedule.CreateSchedule([]*lazybuf.LazyBuffer{root}, ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "schedtool: %s\n", err)
		os.Exit(1)
	}

	for i, item := range items {
		fmt.Fprintf(out, "kernel %d: %d buffers\n", i, len(item.Bufs))
		fmt.Fprintln(out, item.AST.String())
	}
}

// demoGraph builds (a + b).sum(axis=1).neg() over two rows x cols
// float32 inputs: one elementwise add, one reduce, one elementwise
// negate, the same shape the scheduler's fusion tests exercise.
func demoGraph(rows, cols int) *lazybuf.LazyBuffer {
	f32 := &uop.DType{Name: "float32", ItemSize: 4}
	shape := []int{rows, cols}

	a := lazybuf.NewBase(lazybuf.KindEmpty, f32, nil, shape, "CPU")
	b := lazybuf.NewBase(lazybuf.KindEmpty, f32, nil, shape, "CPU")

	sum := lazybuf.NewBase(lazybuf.KindBinary, f32, []*lazybuf.LazyBuffer{a, b}, shape, "CPU")
	sum.Alu = ops.Add

	reduced := lazybuf.NewBase(lazybuf.KindReduce, f32, []*lazybuf.LazyBuffer{sum}, sum.ST.Reduce([]int{1}), "CPU")
	reduced.Reduce = lazybuf.ReduceArg{Kind: ops.Sum, Axes: []int{1}}

	negated := lazybuf.NewBase(lazybuf.KindUnary, f32, []*lazybuf.LazyBuffer{reduced}, reduced.Shape(), "CPU")
	negated.Alu = ops.Neg
	return negated
}
