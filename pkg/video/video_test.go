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

package video

import (
	"errors"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	stream  Stream
	packets []Packet
	sendErr error
	recvErr error

	pending *Packet
	sent    int
}

func (s *fakeSource) Stream() Stream { return s.stream }

func (s *fakeSource) ReadPacket() (Packet, error) {
	if len(s.packets) == 0 {
		return Packet{}, io.EOF
	}
	pkt := s.packets[0]
	s.packets = s.packets[1:]
	return pkt, nil
}

func (s *fakeSource) SendPacket(pkt Packet) error {
	if s.sendErr != nil && s.sent > 0 {
		return s.sendErr
	}
	s.sent++
	s.pending = &pkt
	return nil
}

func (s *fakeSource) ReceiveFrame() (Decoded, error) {
	if s.recvErr != nil {
		return Decoded{}, s.recvErr
	}
	img := NewRGB24(4, 2)
	img.SetRGB(0, 0, RGB{R: uint8(s.pending.Timestamp)})
	return Decoded{Image: img, Timestamp: s.pending.Timestamp}, nil
}

func newFakeSource(packets ...Packet) *fakeSource {
	return &fakeSource{
		stream: Stream{
			Index:    1,
			TimeBase: Rational{Num: 1, Den: 90000},
			Width:    4,
			Height:   2,
		},
		packets: packets,
	}
}

func TestFrameStream(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		src := newFakeSource(
			Packet{Stream: 1, Timestamp: 9000},
			Packet{Stream: 0, Timestamp: 1},
			Packet{Stream: 0, Timestamp: 2},
			Packet{Stream: 1, Timestamp: 18000},
			Packet{Stream: 1, Timestamp: 27089},
		)
		s := NewFrameStream(src, 4, 2)

		var timestamps []int64
		for {
			frame, ok := s.Next()
			if !ok {
				break
			}
			require.Equal(t, 4, frame.Image.Width())
			timestamps = append(timestamps, frame.Timestamp)
		}
		require.Equal(t, []int64{100, 200, 300}, timestamps)
		require.NoError(t, s.Err())
		require.Equal(t, 3, s.Frames())
		require.Equal(t, 2, s.Skipped())

		_, ok := s.Next()
		require.False(t, ok)
	})
	t.Run("scaled", func(t *testing.T) {
		s := NewFrameStream(newFakeSource(Packet{Stream: 1, Timestamp: 200}), 2, 1)
		frame, ok := s.Next()
		require.True(t, ok)
		require.Equal(t, image.Rect(0, 0, 2, 1), frame.Image.Bounds())
		require.Equal(t, RGB{R: 200}, frame.Image.RGBAt(0, 0))
		require.Len(t, frame.Image.Pix, 6)
	})
	t.Run("sendErr", func(t *testing.T) {
		src := newFakeSource(
			Packet{Stream: 1, Timestamp: 9000},
			Packet{Stream: 1, Timestamp: 18000},
		)
		src.sendErr = errors.New("mock")
		s := NewFrameStream(src, 4, 2)

		_, ok := s.Next()
		require.True(t, ok)
		_, ok = s.Next()
		require.False(t, ok)
		require.Error(t, s.Err())
	})
	t.Run("receiveErr", func(t *testing.T) {
		src := newFakeSource(Packet{Stream: 1}, Packet{Stream: 1})
		src.recvErr = errors.New("mock")
		s := NewFrameStream(src, 4, 2)

		_, ok := s.Next()
		require.False(t, ok)
		require.Error(t, s.Err())

		// Ended streams are not retried.
		src.recvErr = nil
		_, ok = s.Next()
		require.False(t, ok)
	})
	t.Run("scaleErr", func(t *testing.T) {
		s := NewFrameStream(newFakeSource(Packet{Stream: 1}), 4, 2)
		s.SetScaler(func(*RGB24, int, int) (*RGB24, error) {
			return nil, errors.New("mock")
		})
		_, ok := s.Next()
		require.False(t, ok)
		require.Error(t, s.Err())
	})
}

func TestRational(t *testing.T) {
	cases := []struct {
		input    string
		ts       int64
		expected int64
	}{
		{"1/1000", 1234, 1234},
		{"1/90000", 90000, 1000},
		{"1/90000", 89999, 999},
		{"1001/30000", 3, 100},
		{"1/30", 1, 33},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			r, err := ParseRational(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.input, r.String())
			require.Equal(t, tc.expected, r.Millis(tc.ts))
		})
	}
	for _, input := range []string{"", "1", "1/0", "a/2", "1/b", "1/2/3"} {
		_, err := ParseRational(input)
		require.ErrorIs(t, err, ErrInvalidTimeBase, input)
	}
}

func TestRGB24(t *testing.T) {
	t.Run("image", func(t *testing.T) {
		m := NewRGB24(10, 10)
		require.Equal(t, image.Rect(0, 0, 10, 10), m.Bounds())
		require.Equal(t, RGB{}, m.At(6, 3))
		require.Equal(t, RGB{}, m.At(-1, -1))

		m.SetRGB(1, 2, RGB{1, 2, 3})
		require.Equal(t, RGB{1, 2, 3}, m.At(1, 2))
		require.Equal(t, []byte{1, 2, 3}, m.Pix[2*30+3:2*30+6])

		r, g, b, a := RGB{R: 0xff}.RGBA()
		require.Equal(t, [4]uint32{0xffff, 0, 0, 0xffff}, [4]uint32{r, g, b, a})
		require.Equal(t, RGB{G: 0xff}, RGB24Model.Convert(color.NRGBA{G: 0xff, A: 0xff}))
	})
	t.Run("fromPix", func(t *testing.T) {
		m, err := FromPix(2, 1, []byte{1, 2, 3, 4, 5, 6})
		require.NoError(t, err)
		require.Equal(t, RGB{4, 5, 6}, m.RGBAt(1, 0))

		_, err = FromPix(2, 2, []byte{1, 2, 3})
		require.ErrorIs(t, err, ErrInvalidSize)

		_, err = FromPix(-1, 2, nil)
		require.ErrorIs(t, err, ErrInvalidSize)
	})
	t.Run("resize", func(t *testing.T) {
		m := NewRGB24(2, 2)
		m.SetRGB(0, 0, RGB{R: 1})
		m.SetRGB(1, 0, RGB{R: 2})
		m.SetRGB(0, 1, RGB{R: 3})
		m.SetRGB(1, 1, RGB{R: 4})

		same, err := m.Resize(2, 2)
		require.NoError(t, err)
		require.Same(t, m, same)

		big, err := m.Resize(4, 2)
		require.NoError(t, err)
		var reds []uint8
		for x := 0; x < 4; x++ {
			reds = append(reds, big.RGBAt(x, 1).R)
		}
		require.Equal(t, []uint8{3, 3, 4, 4}, reds)

		_, err = m.Resize(0, 2)
		require.ErrorIs(t, err, ErrInvalidSize)
	})
	t.Run("badRectangle", func(t *testing.T) {
		require.Panics(t, func() { NewRGB24(-1, 1) })

		maxInt := int(^uint(0) >> 1)
		require.Panics(t, func() { NewRGB24(maxInt, maxInt) })
	})
}
