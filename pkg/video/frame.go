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

// Package video turns a decoder into a sequence of
// fixed size RGB24 frames with millisecond timestamps.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Rational time base.
type Rational struct {
	Num int
	Den int
}

// ErrInvalidTimeBase invalid time base.
var ErrInvalidTimeBase = errors.New("invalid time base")

// ParseRational parses "num/den".
func ParseRational(s string) (Rational, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return Rational{}, fmt.Errorf("%w: %q", ErrInvalidTimeBase, s)
	}
	num, err := strconv.Atoi(parts[0])
	if err != nil {
		return Rational{}, fmt.Errorf("%w: %q", ErrInvalidTimeBase, s)
	}
	den, err := strconv.Atoi(parts[1])
	if err != nil || den == 0 {
		return Rational{}, fmt.Errorf("%w: %q", ErrInvalidTimeBase, s)
	}
	return Rational{Num: num, Den: den}, nil
}

// Millis converts a timestamp in time base units
// to milliseconds, truncated toward zero.
func (r Rational) Millis(ts int64) int64 {
	seconds := float64(ts) * (float64(r.Num) / float64(r.Den))
	return int64(seconds * 1000)
}

func (r Rational) String() string {
	return strconv.Itoa(r.Num) + "/" + strconv.Itoa(r.Den)
}

// Stream selected video stream.
type Stream struct {
	Index    int
	TimeBase Rational
	Width    int
	Height   int
}

// Packet compressed packet. Data may be empty for
// sources that decode out of process.
type Packet struct {
	Stream    int
	Timestamp int64
	Data      []byte
}

// Decoded decoder output in its native size and time base.
type Decoded struct {
	Image     *RGB24
	Timestamp int64
}

// Source demuxer and decoder. ReadPacket returns io.EOF when
// the container is exhausted.
type Source interface {
	Stream() Stream
	ReadPacket() (Packet, error)
	SendPacket(Packet) error
	ReceiveFrame() (Decoded, error)
}

// SourceCloser a source that holds resources.
type SourceCloser interface {
	Source
	Close() error
}

// OpenFunc opens a video file as a source of w*h frames.
type OpenFunc func(ctx context.Context, path string, w int, h int) (SourceCloser, error)

// Scaler converts a decoded image to the output size.
type Scaler func(img *RGB24, w, h int) (*RGB24, error)

// NearestScaler resizes with nearest neighbor sampling.
func NearestScaler(img *RGB24, w, h int) (*RGB24, error) {
	return img.Resize(w, h)
}

// Frame output frame with its timestamp in milliseconds.
type Frame struct {
	Image     *RGB24
	Timestamp int64
}

// ErrNoFrames the video produced no frames.
var ErrNoFrames = errors.New("video has no frames")

// FrameStream yields one frame per successfully decoded packet.
// Not safe for concurrent use.
type FrameStream struct {
	src    Source
	scale  Scaler
	stream Stream
	width  int
	height int

	frames  int
	skipped int
	err     error
	done    bool
}

// NewFrameStream returns a stream of w*h frames.
func NewFrameStream(src Source, w, h int) *FrameStream {
	return &FrameStream{
		src:    src,
		scale:  NearestScaler,
		stream: src.Stream(),
		width:  w,
		height: h,
	}
}

// SetScaler replaces the nearest neighbor scaler.
func (s *FrameStream) SetScaler(scale Scaler) {
	s.scale = scale
}

// Next returns the next frame. False is returned when the source is
// exhausted or when any read, decode, or scale step fails. The stream
// stays ended after the first false, Err reports why.
func (s *FrameStream) Next() (Frame, bool) {
	if s.done {
		return Frame{}, false
	}
	for {
		pkt, err := s.src.ReadPacket()
		if err != nil {
			return s.stop(err)
		}
		if !s.selected(pkt) {
			s.skipped++
			continue
		}

		if err := s.src.SendPacket(pkt); err != nil {
			return s.stop(fmt.Errorf("send packet: %w", err))
		}
		decoded, err := s.src.ReceiveFrame()
		if err != nil {
			return s.stop(fmt.Errorf("receive frame: %w", err))
		}
		img, err := s.scale(decoded.Image, s.width, s.height)
		if err != nil {
			return s.stop(fmt.Errorf("scale: %w", err))
		}

		s.frames++
		return Frame{
			Image:     img,
			Timestamp: s.stream.TimeBase.Millis(decoded.Timestamp),
		}, true
	}
}

func (s *FrameStream) selected(pkt Packet) bool {
	return pkt.Stream == s.stream.Index
}

func (s *FrameStream) stop(err error) (Frame, bool) {
	s.done = true
	if !errors.Is(err, io.EOF) {
		s.err = err
	}
	return Frame{}, false
}

// Err returns the failure that ended the stream,
// nil if the source was simply exhausted.
func (s *FrameStream) Err() error {
	return s.err
}

// Frames number of frames returned.
func (s *FrameStream) Frames() int {
	return s.frames
}

// Skipped number of packets from other streams.
func (s *FrameStream) Skipped() int {
	return s.skipped
}
