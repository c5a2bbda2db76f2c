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

// Package config holds the scheduler's environment-flag knobs.
//
// These mirror the ad-hoc os.Getenv-driven toggles sprinkled through
// the teacher's cmd/*/main.go entrypoints: no config-file library is
// involved, just typed defaults read once and threaded explicitly
// through a *schedule.Context (never read from a package-level
// global, so two Contexts in the same process can disagree).
package config

import (
	"os"
	"strconv"
)

// Flags is the full set of scheduler knobs named in spec.md §6.
type Flags struct {
	// MultiOutput groups co-reducing outputs into one kernel.
	MultiOutput bool
	// ASTRewrite runs the reduceopFusor rewrite pass over each kernel
	// AST; when unset the AST is emitted as lowered, SWIZZLE nodes
	// included.
	ASTRewrite bool
	// FuseArange allows constant-source reduces to fold into
	// downstream kernels.
	FuseArange bool
	// FuseConvBW fuses double reduces.
	FuseConvBW bool
	// ReduceopSplitThreshold is the reduce volume above which a
	// reduce is split into a two-pass kernel.
	ReduceopSplitThreshold int
	// ReduceopSplitSize bounds the size (log2 elements) of the first
	// pass of a split reduce.
	ReduceopSplitSize int
	// UseCopyKernel materializes same-device copies as byte kernels.
	UseCopyKernel bool
	// SaveSchedule persists schedule graph snapshots on Context.Close.
	SaveSchedule bool
	// SaveSchedulePath is where snapshots are zstd-written.
	SaveSchedulePath string
	// LogOps appends every emitted AST to this file, if non-empty.
	LogOps string
	// Debug is the diagnostic verbosity level.
	Debug int
	// Graph enables lazy-buffer discovery tracing (printed only when
	// Debug >= 1).
	Graph bool
	// DebugArange enables arange-fold-specific tracing (printed only
	// when Debug >= 1).
	DebugArange bool
}

// Default returns the flags the original implementation defaults to.
func Default() Flags {
	return Flags{
		ReduceopSplitThreshold: 32768,
		ReduceopSplitSize:      22,
		SaveSchedulePath:       "schedule.pkl",
	}
}

// FromEnv reads the same knobs from the process environment, falling
// back to Default() for anything unset.
func FromEnv() Flags {
	f := Default()
	f.MultiOutput = getBool("MULTIOUTPUT", f.MultiOutput)
	f.ASTRewrite = getBool("AST_REWRITE", f.ASTRewrite)
	f.FuseArange = getBool("FUSE_ARANGE", f.FuseArange)
	f.FuseConvBW = getBool("FUSE_CONV_BW", f.FuseConvBW)
	f.ReduceopSplitThreshold = getInt("REDUCEOP_SPLIT_THRESHOLD", f.ReduceopSplitThreshold)
	f.ReduceopSplitSize = getInt("REDUCEOP_SPLIT_SIZE", f.ReduceopSplitSize)
	f.UseCopyKernel = getBool("USE_COPY_KERNEL", f.UseCopyKernel)
	f.SaveSchedule = getBool("SAVE_SCHEDULE", f.SaveSchedule)
	f.SaveSchedulePath = getStr("SAVE_SCHEDULE_PATH", f.SaveSchedulePath)
	f.LogOps = getStr("LOGOPS", f.LogOps)
	f.Debug = getInt("DEBUG", f.Debug)
	f.Graph = getBool("GRAPH", f.Graph)
	f.DebugArange = getBool("DEBUG_ARANGE", f.DebugArange)
	return f
}

func getBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err == nil {
		return n != 0
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getStr(name string, def string) string {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def
	}
	return v
}
