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

	"github.com/stretchr/testify/require"
)

func TestPack(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		buf := make([]byte, 12)
		e := Event{
			X:         0x0201,
			Y:         0x0403,
			Timestamp: Time{Sec: 70, Nsec: 123456789},
			Polarity:  true,
		}
		offset, err := Pack(e, buf, 2)
		require.NoError(t, err)
		require.Equal(t, 10, offset)

		// 70123 = 0x0111eb.
		expected := []byte{
			0, 0, // Untouched.
			0xeb, 0x11, 0x01, // Millis.
			0x01, 0x02, // X.
			0x03, 0x04, // Y.
			1,    // Polarity.
			0, 0, // Untouched.
		}
		require.Equal(t, expected, buf)
	})
	t.Run("unpack", func(t *testing.T) {
		events := []Event{
			{X: 1, Y: 2, Timestamp: Time{Sec: 0, Nsec: 999999}},
			{X: 640, Y: 480, Timestamp: Time{Sec: 16777, Nsec: 215999999}, Polarity: true},
			{X: 65535, Y: 0, Timestamp: Time{Sec: 3, Nsec: 500000000}},
		}
		buf := make([]byte, len(events)*RecordSize)
		offset := 0
		for _, e := range events {
			var err error
			offset, err = Pack(e, buf, offset)
			require.NoError(t, err)
		}

		expected := []Record{
			{Millis: 0, X: 1, Y: 2},
			{Millis: 16777215, X: 640, Y: 480, Polarity: true},
			{Millis: 3500, X: 65535, Y: 0},
		}
		require.Equal(t, expected, Unpack(buf))
	})
	t.Run("timestampRange", func(t *testing.T) {
		buf := make([]byte, RecordSize)
		_, err := Pack(Event{Timestamp: Time{Sec: 16777, Nsec: 216000000}}, buf, 0)
		require.ErrorIs(t, err, ErrTimestampRange)

		_, err = Packer{Origin: 1}.Pack(Event{}, buf, 0)
		require.ErrorIs(t, err, ErrTimestampRange)
		require.Equal(t, make([]byte, RecordSize), buf)
	})
	t.Run("bufferFull", func(t *testing.T) {
		buf := make([]byte, RecordSize+7)
		_, err := Pack(Event{}, buf, 8)
		require.ErrorIs(t, err, ErrBufferFull)
	})
	t.Run("origin", func(t *testing.T) {
		buf := make([]byte, RecordSize)
		p := Packer{Origin: 1000000}
		_, err := p.Pack(Event{Timestamp: Time{Sec: 1000, Nsec: 250000000}}, buf, 0)
		require.NoError(t, err)
		require.Equal(t, uint32(250), Unpack(buf)[0].Millis)
	})
}

func TestArena(t *testing.T) {
	a := NewArena(2)
	require.Equal(t, 2, a.Cap())

	p := Packer{}
	require.NoError(t, a.Append(p, Event{X: 1}))
	require.NoError(t, a.Append(p, Event{X: 2}))
	require.ErrorIs(t, a.Append(p, Event{X: 3}), ErrBufferFull)
	require.Equal(t, 2, a.Len())
	require.Len(t, a.Bytes(), 2*RecordSize)

	a.Reset()
	require.Equal(t, 0, a.Len())
	require.Empty(t, a.Bytes())
	require.Equal(t, 2, a.Peak())

	require.NoError(t, a.Append(p, Event{X: 4}))
	require.Equal(t, []Record{{X: 4}}, Unpack(a.Bytes()))
}
