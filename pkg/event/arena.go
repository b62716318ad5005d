// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package event

// Arena is a fixed capacity buffer of packed records. It is allocated
// once and truncated on Reset, it never grows.
type Arena struct {
	buf  []byte
	used int
	peak int
}

// NewArena allocates room for maxEvents records.
func NewArena(maxEvents int) *Arena {
	return &Arena{buf: make([]byte, maxEvents*RecordSize)}
}

// Append packs e after the previously packed records.
func (a *Arena) Append(p Packer, e Event) error {
	return a.AppendRecord(p.Millis(e), e)
}

// AppendRecord packs e with an already relative timestamp.
func (a *Arena) AppendRecord(millis int64, e Event) error {
	used, err := PackRecord(a.buf, a.used, millis, e)
	if err != nil {
		return err
	}
	a.used = used
	if a.used > a.peak {
		a.peak = a.used
	}
	return nil
}

// Bytes returns the packed records. Only valid until the next Reset.
func (a *Arena) Bytes() []byte {
	return a.buf[:a.used]
}

// Len number of packed records.
func (a *Arena) Len() int {
	return a.used / RecordSize
}

// Cap maximum number of records.
func (a *Arena) Cap() int {
	return len(a.buf) / RecordSize
}

// Peak highest number of records held since allocation.
func (a *Arena) Peak() int {
	return a.peak / RecordSize
}

// Reset truncates the arena. Contents are overwritten by later appends.
func (a *Arena) Reset() {
	a.used = 0
}
