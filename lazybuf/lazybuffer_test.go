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

package lazybuf

import (
	"testing"

	"github.com/kernelsched/kernelsched/shapetracker"
	"github.com/kernelsched/kernelsched/uop"
)

var float32DType = &uop.DType{Name: "float32", ItemSize: 4}

func TestNewBaseIsItsOwnBase(t *testing.T) {
	lb := NewBase(KindEmpty, float32DType, nil, []int{4, 4}, "CPU")
	if !lb.IsBase() {
		t.Fatalf("a freshly constructed LazyBuffer must be its own base")
	}
	if got, want := lb.Size(), 16; got != want {
		t.Fatalf("Size() = %d, want %d", got, want)
	}
}

func TestViewSharesBaseAndCarriesNoSources(t *testing.T) {
	base := NewBase(KindEmpty, float32DType, nil, []int{2, 8}, "CPU")
	st := shapetracker.FromShape([]int{2, 8}).Permute([]int{1, 0})
	v := View(base, st)
	if v.IsBase() {
		t.Fatalf("a view must not be its own base")
	}
	if v.Base != base {
		t.Fatalf("View(base, st).Base = %p, want %p", v.Base, base)
	}
	if len(v.Srcs) != 0 {
		t.Fatalf("a view must carry no sources of its own, got %d", len(v.Srcs))
	}
}

func TestMetadataEqualityIsByID(t *testing.T) {
	m1 := NewMetadata("conv2d")
	m2 := NewMetadata("conv2d")
	if m1.Equal(m2) {
		t.Fatalf("two distinct NewMetadata calls must not be Equal even with the same name")
	}
	if !m1.Equal(m1) {
		t.Fatalf("a Metadata must equal itself")
	}
}

func TestBufferExternalDetectsDiskDevice(t *testing.T) {
	b := &Buffer{ID: "x", Nbytes: 16, DType: float32DType, Device: "DISK:/tmp/x"}
	if !b.External() {
		t.Fatalf("a DISK: device buffer should report External() == true")
	}
	cpu := &Buffer{ID: "y", Nbytes: 16, DType: float32DType, Device: "CPU"}
	if cpu.External() {
		t.Fatalf("a CPU device buffer should report External() == false")
	}
}
