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

// Package event decodes event camera messages and packs
// individual events into fixed width records.
package event

import (
	"errors"
	"fmt"
)

// Time is a ROS timestamp.
type Time struct {
	Sec  int32
	Nsec uint32
}

// Millis returns the timestamp in milliseconds, truncated.
func (t Time) Millis() int64 {
	return int64(t.Sec)*1000 + int64(t.Nsec/1000000)
}

// Micros returns the timestamp in microseconds, truncated.
func (t Time) Micros() int64 {
	return int64(t.Sec)*1000000 + int64(t.Nsec/1000)
}

// Float32Millis returns the timestamp in milliseconds computed with
// a float32 intermediate. Precision is lost beyond about 8000 seconds.
func (t Time) Float32Millis() int64 {
	return int64(float32(float32(t.Sec)*1000) + float32(t.Nsec)/1e6)
}

// Float32Micros is the microsecond counterpart of Float32Millis.
func (t Time) Float32Micros() int64 {
	return int64(float32(float32(t.Sec)*1e6) + float32(t.Nsec)/1e3)
}

// Clock selects how timestamps are converted to milliseconds.
type Clock uint8

// Clocks.
const (
	ClockInteger Clock = iota
	ClockFloat32
)

// ErrUnknownClock unknown clock name.
var ErrUnknownClock = errors.New("unknown clock")

// ParseClock parses "integer" or "float32".
func ParseClock(name string) (Clock, error) {
	switch name {
	case "", "integer":
		return ClockInteger, nil
	case "float32":
		return ClockFloat32, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownClock, name)
}

// Millis converts t to milliseconds.
func (c Clock) Millis(t Time) int64 {
	if c == ClockFloat32 {
		return t.Float32Millis()
	}
	return t.Millis()
}

func (c Clock) String() string {
	if c == ClockFloat32 {
		return "float32"
	}
	return "integer"
}

// Event single brightness change.
type Event struct {
	X         uint16
	Y         uint16
	Timestamp Time
	Polarity  bool
}

// Header message header.
type Header struct {
	Seq     uint32
	Stamp   Time
	FrameID string
}

// EventArray is one decoded message.
type EventArray struct {
	Header Header
	Height uint32
	Width  uint32
	Events []Event
}

