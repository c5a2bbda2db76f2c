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

// Package schederr defines the sentinel errors raised by the kernel
// scheduler so callers can use errors.Is instead of string matching.
package schederr

import "errors"

var (
	// ErrNotContiguous is raised when an augmented assign's self
	// operand is neither contiguous nor a mask-preserving shrink of
	// a contiguous view.
	ErrNotContiguous = errors.New("self operand of augmented assign must be contiguous")

	// ErrCycle is raised when the pre-scheduled item graph cannot be
	// fully drained by Kahn's algorithm.
	ErrCycle = errors.New("cycle detected in schedule graph")

	// ErrInvariant covers caller-misuse invariant breaches: an assign
	// target that isn't realized, a non-base assign target, a copy
	// source that isn't contiguous or doesn't match its base's size, a
	// LazyBuffer kind the lowering can't handle, or symbolic variables
	// left over from CreateSchedule.
	ErrInvariant = errors.New("scheduler invariant violated")
)

// Wrap prefixes msg onto sentinel, preserving errors.Is(sentinel).
func Wrap(sentinel error, msg string) error {
	return &wrapped{sentinel: sentinel, msg: msg}
}

type wrapped struct {
	sentinel error
	msg      string
}

func (w *wrapped) Error() string { return w.msg + ": " + w.sentinel.Error() }
func (w *wrapped) Unwrap() error { return w.sentinel }
