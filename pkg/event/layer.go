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

// Message layout, little-endian.
//
//   seq           uint32
//   stamp.sec     int32
//   stamp.nsec    uint32
//   frameIDLength uint32
//   frameID       [frameIDLength]byte UTF-8
//   height        uint32
//   width         uint32
//   numEvents     uint32
//   events        [numEvents]wireEvent
//
// wireEvent { // 13 bytes.
//   x        uint16
//   y        uint16
//   ts.sec   int32
//   ts.nsec  uint32
//   polarity uint8
// }

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EventArrayLayerNum identifies the layer.
const EventArrayLayerNum = 2100

const wireEventSize = 13

const nsecPerSec = 1000000000

// Decode errors.
var (
	ErrShortPayload    = errors.New("payload too short")
	ErrInvalidFrameID  = errors.New("frame id is not valid UTF-8")
	ErrCoordinateRange = errors.New("coordinate outside frame")
	ErrInvalidTime     = errors.New("nanoseconds not below one second")
)

// Mode selects how much of a message is decoded.
type Mode uint8

// Decode modes.
const (
	ModeFull Mode = iota
	ModeMetadata
)

// EventArrayLayerType is registered in the gopacket layer catalog.
var EventArrayLayerType = gopacket.RegisterLayerType(EventArrayLayerNum,
	gopacket.LayerTypeMetadata{Name: "EventArray", Decoder: gopacket.DecodeFunc(decodeEventArrayLayer)})

// EventArrayLayer decodes and serializes one event array message.
// The layer can be reused, Events keeps its capacity between decodes.
type EventArrayLayer struct {
	layers.BaseLayer
	EventArray

	// Mode used by DecodeFromBytes.
	Mode Mode
}

// LayerType .
func (l *EventArrayLayer) LayerType() gopacket.LayerType { return EventArrayLayerType }

// CanDecode .
func (l *EventArrayLayer) CanDecode() gopacket.LayerClass { return EventArrayLayerType }

// NextLayerType .
func (l *EventArrayLayer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// DecodeFromBytes decodes data into the layer. In metadata mode the
// events are left unparsed in the layer payload and Events is nil.
func (l *EventArrayLayer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	r := reader{data: data}

	l.Header.Seq = r.uint32("seq")
	l.Header.Stamp = r.time("stamp")

	idLen := r.uint32("frame_id length")
	id := r.bytes("frame_id", idLen)
	if r.err == nil && !utf8.Valid(id) {
		return ErrInvalidFrameID
	}
	l.Header.FrameID = string(id)

	l.Height = r.uint32("height")
	l.Width = r.uint32("width")
	numEvents := r.uint32("num_events")
	if r.err != nil {
		if errors.Is(r.err, ErrShortPayload) {
			df.SetTruncated()
		}
		return r.err
	}

	if l.Mode == ModeMetadata {
		l.Events = nil
		l.BaseLayer = layers.BaseLayer{Contents: data[:r.pos], Payload: data[r.pos:]}
		return nil
	}

	if uint64(len(data)-r.pos) < uint64(numEvents)*wireEventSize {
		df.SetTruncated()
		return fmt.Errorf("%w: %d events declared, %d bytes left",
			ErrShortPayload, numEvents, len(data)-r.pos)
	}

	if cap(l.Events) < int(numEvents) {
		l.Events = make([]Event, numEvents)
	}
	l.Events = l.Events[:numEvents]

	for i := range l.Events {
		rawX := r.uint16("x")
		rawY := r.uint16("y")
		x, err := flip(rawX, l.Width)
		if err != nil {
			return fmt.Errorf("event %d x: %w", i, err)
		}
		y, err := flip(rawY, l.Height)
		if err != nil {
			return fmt.Errorf("event %d y: %w", i, err)
		}
		l.Events[i] = Event{
			X:         x,
			Y:         y,
			Timestamp: r.time("ts"),
			Polarity:  r.uint8("polarity") != 0,
		}
		if r.err != nil {
			return fmt.Errorf("event %d: %w", i, r.err)
		}
	}

	l.BaseLayer = layers.BaseLayer{Contents: data[:r.pos], Payload: data[r.pos:]}
	return nil
}

// flip mirrors a coordinate on both axes: dim - raw - 1.
// The transform is its own inverse.
func flip(v uint16, dim uint32) (uint16, error) {
	if uint32(v) >= dim {
		return 0, fmt.Errorf("%w: %d not below %d", ErrCoordinateRange, v, dim)
	}
	return uint16(dim - uint32(v) - 1), nil
}

// SerializeTo writes the message wire format. Coordinates are
// flipped back so that decoding the output restores the events.
func (l *EventArrayLayer) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if err := checkTime("stamp", l.Header.Stamp); err != nil {
		return err
	}
	id := []byte(l.Header.FrameID)
	headerSize := 4 + 8 + 4 + len(id) + 12

	buf, err := b.AppendBytes(headerSize + len(l.Events)*wireEventSize)
	if err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(buf[0:4], l.Header.Seq)
	putTime(buf[4:12], l.Header.Stamp)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(id)))
	copy(buf[16:16+len(id)], id)
	pos := 16 + len(id)
	binary.LittleEndian.PutUint32(buf[pos:pos+4], l.Height)
	binary.LittleEndian.PutUint32(buf[pos+4:pos+8], l.Width)
	binary.LittleEndian.PutUint32(buf[pos+8:pos+12], uint32(len(l.Events)))
	pos += 12

	for i, e := range l.Events {
		x, err := flip(e.X, l.Width)
		if err != nil {
			return fmt.Errorf("event %d x: %w", i, err)
		}
		y, err := flip(e.Y, l.Height)
		if err != nil {
			return fmt.Errorf("event %d y: %w", i, err)
		}
		if err := checkTime(fmt.Sprintf("event %d ts", i), e.Timestamp); err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(buf[pos:pos+2], x)
		binary.LittleEndian.PutUint16(buf[pos+2:pos+4], y)
		putTime(buf[pos+4:pos+12], e.Timestamp)
		if e.Polarity {
			buf[pos+12] = 1
		} else {
			buf[pos+12] = 0
		}
		pos += wireEventSize
	}
	return nil
}

func checkTime(field string, t Time) error {
	if t.Nsec >= nsecPerSec {
		return fmt.Errorf("%w: %s.nsec is %d", ErrInvalidTime, field, t.Nsec)
	}
	return nil
}

func putTime(buf []byte, t Time) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t.Sec))
	binary.LittleEndian.PutUint32(buf[4:8], t.Nsec)
}

func decodeEventArrayLayer(data []byte, p gopacket.PacketBuilder) error {
	l := &EventArrayLayer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return nil
}

// Decode decodes a single message payload.
func Decode(payload []byte, mode Mode) (*EventArray, error) {
	l := EventArrayLayer{Mode: mode}
	if err := l.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	return &l.EventArray, nil
}

// Encode serializes arr into the message wire format.
func Encode(arr EventArray) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	l := &EventArrayLayer{EventArray: arr}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, l); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// reader reads little-endian fields sequentially. The first short
// read is kept in err and every later read returns zero.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(field string, n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(len(r.data)-r.pos) < n {
		r.err = fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
			ErrShortPayload, field, n, r.pos, len(r.data)-r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b
}

func (r *reader) uint8(field string) uint8 {
	b := r.take(field, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16(field string) uint16 {
	b := r.take(field, 2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) uint32(field string) uint32 {
	b := r.take(field, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) bytes(field string, n uint32) []byte {
	return r.take(field, uint64(n))
}

func (r *reader) time(field string) Time {
	t := Time{
		Sec:  int32(r.uint32(field + ".sec")),
		Nsec: r.uint32(field + ".nsec"),
	}
	if r.err == nil {
		r.err = checkTime(field, t)
	}
	return t
}
