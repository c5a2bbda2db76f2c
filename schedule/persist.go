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
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// snapshot is one SAVE_SCHEDULE entry: a textual rendering of the
// dependency graph built in graphSchedule, good enough to diff two
// runs offline. The original pickles (graph, in_degree) pairs of
// live LBScheduleItem objects; we snapshot a stable string rendering
// instead; since kernel serialization is a non-goal, the purpose here
// is debugging, not replay.
type snapshot struct {
	RunID string
	Text  string
}

func writeSnapshots(path string, snaps []snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	defer f.Close()
	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	defer enc.Close()
	for _, s := range snaps {
		fmt.Fprintf(enc, "--- run %s ---\n%s\n", s.RunID, s.Text)
	}
	return enc.Close()
}

// renderGraph stringifies a dependency graph for a snapshot.
func renderGraph(g *depGraph) string {
	var sb strings.Builder
	for i, lsi := range g.order {
		fmt.Fprintf(&sb, "item %d: indeg=%d -> %d successors\n", i, g.inDegree[lsi], len(g.edges[lsi]))
	}
	return sb.String()
}

// appendLogOp appends one whitespace-stripped AST rendering to the
// LOGOPS file (spec.md §6, SPEC_FULL.md §4), lazily opening it.
func (c *Context) appendLogOp(line string) error {
	if c.Flags.LogOps == "" {
		return nil
	}
	if c.logOpsFile == nil {
		f, err := os.OpenFile(c.Flags.LogOps, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		c.logOpsFile = f
	}
	clean := strings.NewReplacer("\n", "", " ", "").Replace(line)
	_, err := fmt.Fprintln(c.logOpsFile, clean)
	return err
}
