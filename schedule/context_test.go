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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kernelsched/kernelsched/config"
	"github.com/kernelsched/kernelsched/lazybuf"
	"github.com/kernelsched/kernelsched/ops"
)

func TestNewContextStampsDistinctRunIDs(t *testing.T) {
	c1 := NewContext(config.Default())
	c2 := NewContext(config.Default())
	require.NotEmpty(t, c1.RunID)
	require.NotEmpty(t, c2.RunID)
	require.NotEqual(t, c1.RunID, c2.RunID)
}

func TestSnapshotsAccumulateWhenSaveScheduleEnabled(t *testing.T) {
	flags := config.Default()
	flags.SaveSchedule = true
	ctx := NewContext(flags)

	a := mkEmpty([]int{4})
	b := mkUnary(a, ops.Neg)
	_, err := CreateSchedule([]*lazybuf.LazyBuffer{b}, ctx)
	require.NoError(t, err)

	require.NotEmpty(t, ctx.Snapshots(), "SaveSchedule should accumulate at least one graph rendering")
}

func TestSnapshotsEmptyWhenSaveScheduleDisabled(t *testing.T) {
	ctx := NewContext(config.Default())

	a := mkEmpty([]int{4})
	b := mkUnary(a, ops.Neg)
	_, err := CreateSchedule([]*lazybuf.LazyBuffer{b}, ctx)
	require.NoError(t, err)

	require.Empty(t, ctx.Snapshots())
}
