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

package config

import "testing"

func TestDefaultMatchesOriginalConstants(t *testing.T) {
	d := Default()
	if d.ReduceopSplitThreshold != 32768 {
		t.Fatalf("ReduceopSplitThreshold = %d, want 32768", d.ReduceopSplitThreshold)
	}
	if d.ReduceopSplitSize != 22 {
		t.Fatalf("ReduceopSplitSize = %d, want 22", d.ReduceopSplitSize)
	}
	if d.SaveSchedulePath != "schedule.pkl" {
		t.Fatalf("SaveSchedulePath = %q, want %q", d.SaveSchedulePath, "schedule.pkl")
	}
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("FUSE_ARANGE", "1")
	t.Setenv("DEBUG", "2")
	t.Setenv("SAVE_SCHEDULE_PATH", "/tmp/custom.pkl")

	f := FromEnv()
	if !f.FuseArange {
		t.Fatalf("FUSE_ARANGE=1 should set FuseArange")
	}
	if f.Debug != 2 {
		t.Fatalf("Debug = %d, want 2", f.Debug)
	}
	if f.SaveSchedulePath != "/tmp/custom.pkl" {
		t.Fatalf("SaveSchedulePath = %q, want /tmp/custom.pkl", f.SaveSchedulePath)
	}
	if f.ReduceopSplitThreshold != 32768 {
		t.Fatalf("unset knobs should keep their default, got %d", f.ReduceopSplitThreshold)
	}
}
