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

package schederr

import (
	"errors"
	"testing"
)

func TestWrapPreservesErrorsIs(t *testing.T) {
	err := Wrap(ErrNotContiguous, "assign target must be contiguous")
	if !errors.Is(err, ErrNotContiguous) {
		t.Fatalf("errors.Is(wrapped, ErrNotContiguous) = false, want true")
	}
	if errors.Is(err, ErrCycle) {
		t.Fatalf("errors.Is(wrapped, ErrCycle) = true, want false")
	}
}

func TestWrapMessageIncludesBoth(t *testing.T) {
	err := Wrap(ErrInvariant, "unsupported constant value")
	want := "unsupported constant value: scheduler invariant violated"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	if errors.Is(ErrNotContiguous, ErrCycle) || errors.Is(ErrCycle, ErrInvariant) || errors.Is(ErrNotContiguous, ErrInvariant) {
		t.Fatalf("sentinel errors must not be equal to one another")
	}
}
