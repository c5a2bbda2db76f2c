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

import "github.com/google/uuid"

// Metadata is the per-LazyBuffer provenance tag carried through to
// the emitted ScheduleItem (spec.md §3). ID disambiguates two
// Metadata values with the same Name (e.g. the same named op called
// twice), the same way the teacher disambiguates tenant/request
// records with a google/uuid value.
type Metadata struct {
	Name string
	ID   uuid.UUID
}

// NewMetadata stamps a fresh Metadata with a random ID.
func NewMetadata(name string) *Metadata {
	return &Metadata{Name: name, ID: uuid.New()}
}

func (m *Metadata) Equal(o *Metadata) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil {
		return false
	}
	return m.ID == o.ID
}
