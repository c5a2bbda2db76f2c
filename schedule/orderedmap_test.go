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

import "testing"

func TestOrderedMapPreservesInsertionOrder(t *testing.T) {
	m := newOrderedMap[string, int]()
	m.Set("c", 3)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 10) // re-set of an existing key must not move it

	want := []string{"c", "a", "b"}
	got := m.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	v, ok := m.Get("a")
	if !ok || v != 10 {
		t.Fatalf("Get(a) = (%d, %v), want (10, true)", v, ok)
	}
}

func TestOrderedMapDelete(t *testing.T) {
	m := newOrderedMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)
	m.Delete("b")
	if m.Has("b") {
		t.Fatalf("Delete(b) should remove it from Has()")
	}
	want := []string{"a", "c"}
	got := m.Keys()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Keys() after delete = %v, want %v", got, want)
	}
}

func TestOrderedSetAddIsIdempotent(t *testing.T) {
	s := newOrderedSet[int]()
	s.Add(1)
	s.Add(2)
	s.Add(1)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after re-adding an existing member", s.Len())
	}
	want := []int{1, 2}
	got := s.Keys()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
}

func TestDedupPtrKeepsFirstSeenOrder(t *testing.T) {
	a, b := new(int), new(int)
	out := dedupPtr([]*int{a, b, a, a, b})
	if len(out) != 2 || out[0] != a || out[1] != b {
		t.Fatalf("dedupPtr = %v, want [a b] in first-seen order", out)
	}
}
