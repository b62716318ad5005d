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

// record { // 8 bytes, little-endian.
//   millis   [3]byte // 24 bit timestamp.
//   x        uint16
//   y        uint16
//   polarity uint8   // 1 or 0.
// }

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordSize size of a packed event.
const RecordSize = 8

// MaxRecordMillis first timestamp that does not fit in a record.
const MaxRecordMillis = 1 << 24

// Pack errors.
var (
	ErrTimestampRange = errors.New("timestamp outside 24 bit record range")
	ErrBufferFull     = errors.New("event buffer full")
)

// Packer packs events with timestamps relative to Origin.
// The zero value packs absolute integer milliseconds.
type Packer struct {
	Clock  Clock
	Origin int64 // Milliseconds.
}

// Millis returns the relative millisecond timestamp of e.
func (p Packer) Millis(e Event) int64 {
	return p.Clock.Millis(e.Timestamp) - p.Origin
}

// Pack writes e into buf at offset and returns the next offset.
func (p Packer) Pack(e Event, buf []byte, offset int) (int, error) {
	return PackRecord(buf, offset, p.Millis(e), e)
}

// Pack writes e with its absolute integer millisecond timestamp.
func Pack(e Event, buf []byte, offset int) (int, error) {
	return Packer{}.Pack(e, buf, offset)
}

// PackRecord writes one record with the given millisecond timestamp.
func PackRecord(buf []byte, offset int, millis int64, e Event) (int, error) {
	if millis < 0 || millis >= MaxRecordMillis {
		return offset, fmt.Errorf("%w: %dms", ErrTimestampRange, millis)
	}
	if offset < 0 || len(buf)-offset < RecordSize {
		return offset, fmt.Errorf("%w: offset %d, capacity %d", ErrBufferFull, offset, len(buf))
	}

	out := buf[offset : offset+RecordSize]
	out[0] = uint8(millis)
	out[1] = uint8(millis >> 8)
	out[2] = uint8(millis >> 16)
	binary.LittleEndian.PutUint16(out[3:5], e.X)
	binary.LittleEndian.PutUint16(out[5:7], e.Y)
	if e.Polarity {
		out[7] = 1
	} else {
		out[7] = 0
	}
	return offset + RecordSize, nil
}

// Record unpacked event record.
type Record struct {
	Millis   uint32
	X        uint16
	Y        uint16
	Polarity bool
}

// Unmarshal record from the first RecordSize bytes of buf.
func (r *Record) Unmarshal(buf []byte) {
	r.Millis = uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
	r.X = binary.LittleEndian.Uint16(buf[3:5])
	r.Y = binary.LittleEndian.Uint16(buf[5:7])
	r.Polarity = buf[7] != 0
}

// Unpack decodes every record in buf. Trailing partial records are ignored.
func Unpack(buf []byte) []Record {
	records := make([]Record, len(buf)/RecordSize)
	for i := range records {
		records[i].Unmarshal(buf[i*RecordSize:])
	}
	return records
}
