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

	"github.com/google/uuid"

	"github.com/kernelsched/kernelsched/config"
	"github.com/kernelsched/kernelsched/lazybuf"
)

// Logger is the minimal diagnostics sink the scheduler writes to,
// satisfied trivially by *log.Logger. The teacher has no structured
// logging dependency of its own (cmd/dump et al. just write to
// os.Stderr), so neither does this package — see SPEC_FULL.md §2.
type Logger interface {
	Printf(format string, args ...any)
}

type stderrLogger struct{}

func (stderrLogger) Printf(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }

// Context holds everything the original threaded through module-level
// globals: the kernel numbering counter, the accumulated SAVE_SCHEDULE
// snapshots, an open LOGOPS file handle, and the config knobs — all
// explicit fields instead of hidden singletons (spec.md §9).
type Context struct {
	Flags  config.Flags
	Logger Logger

	// RunID disambiguates snapshots from concurrent Contexts sharing
	// one SAVE_SCHEDULE_PATH; LOGOPS lines do not carry it.
	RunID string

	// Seen tracks buffers already scheduled across multiple
	// create_schedule calls sharing this Context, per spec.md §6.
	Seen map[*lazybuf.LazyBuffer]bool

	// ReplayHook, if set, is invoked with every prescheduled graph
	// before ordering — the extension point the original wires to
	// RUN_PROCESS_REPLAY/COMPARE_SCHEDULE (SPEC_FULL.md §4). No
	// baseline store is implemented here; that lives in the caller's
	// CI infrastructure.
	ReplayHook func(g *depGraph)

	kernelNumber      int
	snapshots         []snapshot
	logOpsFile        *os.File
	lastAssignTargets *orderedMap[*lazybuf.LazyBuffer, *lazybuf.LazyBuffer]
}

// NewContext builds a scheduler context with the given flags. Passing
// config.Default() reproduces the original implementation's defaults.
func NewContext(flags config.Flags) *Context {
	return &Context{
		Flags:  flags,
		Logger: stderrLogger{},
		Seen:   make(map[*lazybuf.LazyBuffer]bool),
		RunID:  uuid.New().String(),
	}
}

// KernelCount is the number of schedule items emitted by this Context
// so far, standing in for the original's GlobalCounters.kernel_count
// (SPEC_FULL.md §4).
func (c *Context) KernelCount() int { return c.kernelNumber }

// Snapshots returns the SAVE_SCHEDULE graph renderings accumulated so
// far by this Context, standing in for the original's process-wide
// SCHEDULES list (SPEC_FULL.md §4). Close writes these out; this
// accessor lets a caller inspect them beforehand, e.g. in tests.
func (c *Context) Snapshots() []string {
	out := make([]string, len(c.snapshots))
	for i, s := range c.snapshots {
		out[i] = s.Text
	}
	return out
}

func (c *Context) debugf(level int, format string, args ...any) {
	if c.Flags.Debug >= level {
		c.Logger.Printf(format, args...)
	}
}

// Close flushes any open LOGOPS handle and, if Flags.SaveSchedule is
// set, zstd-writes the accumulated snapshots to Flags.SaveSchedulePath
// (spec.md §6, SPEC_FULL.md §4) — an explicit lifecycle step instead
// of the original's atexit hook.
func (c *Context) Close() error {
	var err error
	if c.logOpsFile != nil {
		err = c.logOpsFile.Close()
		c.logOpsFile = nil
	}
	if c.Flags.SaveSchedule && len(c.snapshots) > 0 {
		if e := writeSnapshots(c.Flags.SaveSchedulePath, c.snapshots); e != nil && err == nil {
			err = e
		}
	}
	return err
}
