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
	"strings"

	"github.com/kernelsched/kernelsched/uop"
)

// Buffer is an opaque device-memory handle. The scheduler never
// allocates or frees one; it only reads Size/Device/External to make
// scheduling decisions (spec.md §1: "Buffer allocator owns device
// memory; the scheduler only references opaque buffer handles").
type Buffer struct {
	ID     string
	Nbytes int64
	DType  *uop.DType
	Device string
}

// Size is the allocation size in bytes.
func (b *Buffer) Size() int64 { return b.Nbytes }

// External reports whether this buffer lives outside the device
// memory the scheduler's kernels can address, i.e. on a DISK: device.
// The LOGOPS trace does not consult it.
func (b *Buffer) External() bool {
	return strings.HasPrefix(b.Device, "DISK:")
}
