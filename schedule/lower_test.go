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
	"github.com/kernelsched/kernelsched/uop"
)

func TestUseCopyKernelBuildsByteKernelWhenDevicesMatch(t *testing.T) {
	src := lazybuf.NewBase(lazybuf.KindEmpty, byteDType, nil, []int{4}, "CPU:0")
	cp := lazybuf.NewBase(lazybuf.KindCopy, byteDType, []*lazybuf.LazyBuffer{src}, []int{4}, "CPU:1")

	flags := config.Default()
	flags.UseCopyKernel = true
	ctx := NewContext(flags)
	uc := uop.NewCache()

	lsi, err := ctx.lowerMetaOp(uc, cp)
	require.NoError(t, err)
	require.Equal(t, uop.SINK, lsi.AST.Op)
	require.Len(t, lsi.AST.Src, 1)
	store := lsi.AST.Src[0]
	require.Equal(t, uop.STORE, store.Op)
	require.Len(t, store.Src, 2)
	require.Equal(t, uop.LOAD, store.Src[1].Op)
	require.Equal(t, store.Src[0], store.Src[1].Src[0], "STORE and LOAD must share the same byte ShapeTracker")
}

func TestUseCopyKernelFallsBackToExtWhenDevicesDiffer(t *testing.T) {
	src := lazybuf.NewBase(lazybuf.KindEmpty, byteDType, nil, []int{4}, "DISK:0")
	cp := lazybuf.NewBase(lazybuf.KindCopy, byteDType, []*lazybuf.LazyBuffer{src}, []int{4}, "CPU:0")

	flags := config.Default()
	flags.UseCopyKernel = true
	ctx := NewContext(flags)
	uc := uop.NewCache()

	lsi, err := ctx.lowerMetaOp(uc, cp)
	require.NoError(t, err)
	require.Equal(t, uop.EXT, lsi.AST.Op)
}

func TestCopyWithoutUseCopyKernelFallsBackToExt(t *testing.T) {
	src := lazybuf.NewBase(lazybuf.KindEmpty, byteDType, nil, []int{4}, "CPU:0")
	cp := lazybuf.NewBase(lazybuf.KindCopy, byteDType, []*lazybuf.LazyBuffer{src}, []int{4}, "CPU:0")

	ctx := NewContext(config.Default())
	uc := uop.NewCache()

	lsi, err := ctx.lowerMetaOp(uc, cp)
	require.NoError(t, err)
	require.Equal(t, uop.EXT, lsi.AST.Op)
}
