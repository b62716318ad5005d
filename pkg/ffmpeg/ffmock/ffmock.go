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

// Package ffmock provides an in memory video source.
package ffmock

import (
	"context"
	"errors"
	"io"

	"evsync/pkg/video"
)

// ErrMock returned by failing sources.
var ErrMock = errors.New("mock")

// Config mock source config.
type Config struct {
	// Timestamps of the video frames in time base units.
	Timestamps []int64

	// Packets of other streams inserted before every frame.
	Noise int

	// FailAfter makes ReceiveFrame fail after that many frames, 0 disables.
	FailAfter int

	TimeBase video.Rational
	Width    int
	Height   int
}

// Source video.Source that decodes frames filled with the frame index.
type Source struct {
	c       Config
	packets []video.Packet
	pending *video.Packet
	frames  int
	Closed  bool
}

const videoStream = 1

// NewSource returns a source yielding c.Timestamps.
func NewSource(c Config) *Source {
	if c.TimeBase == (video.Rational{}) {
		c.TimeBase = video.Rational{Num: 1, Den: 1000}
	}
	var packets []video.Packet
	for _, ts := range c.Timestamps {
		for i := 0; i < c.Noise; i++ {
			packets = append(packets, video.Packet{Stream: 0, Timestamp: ts})
		}
		packets = append(packets, video.Packet{Stream: videoStream, Timestamp: ts})
	}
	return &Source{c: c, packets: packets}
}

// Stream .
func (s *Source) Stream() video.Stream {
	return video.Stream{
		Index:    videoStream,
		TimeBase: s.c.TimeBase,
		Width:    s.c.Width,
		Height:   s.c.Height,
	}
}

// ReadPacket .
func (s *Source) ReadPacket() (video.Packet, error) {
	if len(s.packets) == 0 {
		return video.Packet{}, io.EOF
	}
	pkt := s.packets[0]
	s.packets = s.packets[1:]
	return pkt, nil
}

// SendPacket .
func (s *Source) SendPacket(pkt video.Packet) error {
	s.pending = &pkt
	return nil
}

// ReceiveFrame returns a frame where every byte is the frame index.
func (s *Source) ReceiveFrame() (video.Decoded, error) {
	if s.c.FailAfter != 0 && s.frames >= s.c.FailAfter {
		return video.Decoded{}, ErrMock
	}
	img := video.NewRGB24(s.c.Width, s.c.Height)
	for i := range img.Pix {
		img.Pix[i] = byte(s.frames)
	}
	s.frames++
	return video.Decoded{Image: img, Timestamp: s.pending.Timestamp}, nil
}

// Close .
func (s *Source) Close() error {
	s.Closed = true
	return nil
}

// Opener opens mock sources.
type Opener struct {
	Config  Config
	OpenErr error
	Opened  []*Source
}

// Open implements video.OpenFunc, path is ignored.
func (o *Opener) Open(_ context.Context, _ string, w int, h int) (video.SourceCloser, error) {
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	c := o.Config
	if c.Width == 0 {
		c.Width, c.Height = w, h
	}
	src := NewSource(c)
	o.Opened = append(o.Opened, src)
	return src, nil
}
