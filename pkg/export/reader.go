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

package export

import (
	"fmt"
	"io"

	"evsync/pkg/event"
	"evsync/pkg/video"
)

// Frame decoded frame artifact.
type Frame struct {
	Header  FrameHeader
	Image   *video.RGB24
	Records []event.Record
}

// ReadFrame reads a frame artifact.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header FrameHeader
	if _, err := header.Unmarshal(r); err != nil {
		return nil, err
	}

	pix := make([]byte, header.PixelSize())
	if _, err := io.ReadFull(r, pix); err != nil {
		return nil, fmt.Errorf("%w: pixels: %v", ErrShortArtifact, err)
	}
	img, err := video.FromPix(int(header.Width), int(header.Height), pix)
	if err != nil {
		return nil, err
	}

	records := make([]byte, int(header.Count)*event.RecordSize)
	if _, err := io.ReadFull(r, records); err != nil {
		return nil, fmt.Errorf("%w: events: %v", ErrShortArtifact, err)
	}

	return &Frame{
		Header:  header,
		Image:   img,
		Records: event.Unpack(records),
	}, nil
}

// Stream decoded event stream artifact.
type Stream struct {
	Trailer StreamTrailer
	Records []event.Record
}

// ReadStream decodes a complete event stream artifact.
func ReadStream(buf []byte) (*Stream, error) {
	var trailer StreamTrailer
	if err := trailer.Unmarshal(buf); err != nil {
		return nil, err
	}

	records := buf[:len(buf)-streamTrailerSize]
	want := int(trailer.Count) * event.RecordSize
	if len(records) < want {
		return nil, fmt.Errorf("%w: trailer declares %d events, have %d bytes",
			ErrShortArtifact, trailer.Count, len(records))
	}
	if len(records) != want {
		return nil, fmt.Errorf("%w: %d bytes before trailer, want %d",
			ErrPartialRecord, len(records), want)
	}

	return &Stream{
		Trailer: trailer,
		Records: event.Unpack(records),
	}, nil
}

// Summary statistics of a set of records.
type Summary struct {
	Count    int
	FirstMs  uint32
	LastMs   uint32
	Positive int
	Negative int
}

// Summarize records.
func Summarize(records []event.Record) Summary {
	s := Summary{Count: len(records)}
	for i, r := range records {
		if i == 0 || r.Millis < s.FirstMs {
			s.FirstMs = r.Millis
		}
		if r.Millis > s.LastMs {
			s.LastMs = r.Millis
		}
		if r.Polarity {
			s.Positive++
		} else {
			s.Negative++
		}
	}
	return s
}
