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

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: Unpack(PackRecord(ms, e)) == (ms, e) for every ms in range.
func TestPackProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("records round trip", prop.ForAll(
		func(millis int64, x, y uint16, polarity bool) bool {
			buf := make([]byte, RecordSize)
			e := Event{X: x, Y: y, Polarity: polarity}
			if _, err := PackRecord(buf, 0, millis, e); err != nil {
				return false
			}
			r := Unpack(buf)[0]
			return int64(r.Millis) == millis &&
				r.X == x && r.Y == y && r.Polarity == polarity
		},
		gen.Int64Range(0, MaxRecordMillis-1),
		gen.UInt16(),
		gen.UInt16(),
		gen.Bool(),
	))

	properties.Property("out of range timestamps are rejected", prop.ForAll(
		func(millis int64) bool {
			buf := make([]byte, RecordSize)
			offset, err := PackRecord(buf, 0, millis, Event{})
			return err != nil && offset == 0
		},
		gen.OneGenOf(
			gen.Int64Range(-1<<40, -1),
			gen.Int64Range(MaxRecordMillis, 1<<40),
		),
	))

	properties.Property("arena never exceeds capacity", prop.ForAll(
		func(capacity int, n int) bool {
			a := NewArena(capacity)
			for i := 0; i < n; i++ {
				err := a.AppendRecord(int64(i), Event{})
				if (i < capacity) != (err == nil) {
					return false
				}
			}
			return a.Len() <= a.Cap() && len(a.Bytes()) == a.Len()*RecordSize
		},
		gen.IntRange(0, 64),
		gen.IntRange(0, 128),
	))

	properties.TestingRun(t)
}

// Property: Decode(Encode(arr)) == arr for coordinates inside the sensor.
func TestEncodeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("event arrays round trip", prop.ForAll(
		func(width, height uint32, coords []uint16, nsecs []uint32) bool {
			arr := EventArray{
				Header: Header{Seq: width, FrameID: "cam"},
				Height: height,
				Width:  width,
			}
			for i := range coords {
				if i >= len(nsecs) {
					break
				}
				arr.Events = append(arr.Events, Event{
					X:         coords[i] % uint16(width),
					Y:         coords[i] % uint16(height),
					Timestamp: Time{Sec: int32(i), Nsec: nsecs[i]},
					Polarity:  i%3 == 0,
				})
			}

			payload, err := Encode(arr)
			if err != nil {
				return false
			}
			decoded, err := Decode(payload, ModeFull)
			if err != nil {
				return false
			}
			if decoded.Width != width || decoded.Height != height ||
				len(decoded.Events) != len(arr.Events) {
				return false
			}
			for i, e := range arr.Events {
				if decoded.Events[i] != e {
					return false
				}
			}

			meta, err := Decode(payload, ModeMetadata)
			return err == nil && meta.Width == width && meta.Events == nil
		},
		gen.UInt32Range(1, 2048),
		gen.UInt32Range(1, 2048),
		gen.SliceOf(gen.UInt16()),
		gen.SliceOf(gen.UInt32Range(0, 999999999)),
	))

	properties.TestingRun(t)
}
