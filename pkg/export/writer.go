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
	"bufio"
	"errors"
	"fmt"
	"image/png"
	"io"
	"math"
	"os"

	"evsync/pkg/event"
	"evsync/pkg/video"
)

// FrameName returns "<prefix>_<index>.bin" with a five digit index.
func FrameName(prefix string, index int) string {
	return fmt.Sprintf("%s_%05d.bin", prefix, index)
}

// Errors.
var (
	ErrPartialRecord = errors.New("partial event record")
	ErrTrailerRange  = errors.New("dimension does not fit the stream trailer")
)

// WriteFrame writes a frame artifact to w.
func WriteFrame(w io.Writer, img *video.RGB24, events []byte) error {
	if len(events)%event.RecordSize != 0 {
		return fmt.Errorf("%w: %d bytes", ErrPartialRecord, len(events))
	}
	header := FrameHeader{
		Width:  uint32(img.Width()),
		Height: uint32(img.Height()),
		Count:  uint32(len(events) / event.RecordSize),
	}
	if len(img.Pix) != header.PixelSize() {
		return fmt.Errorf("%w: %d pixel bytes for %dx%d",
			video.ErrInvalidSize, len(img.Pix), header.Width, header.Height)
	}

	if _, err := w.Write(header.Marshal()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(img.Pix); err != nil {
		return fmt.Errorf("write pixels: %w", err)
	}
	if _, err := w.Write(events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// FrameExporter writes one artifact file per frame.
type FrameExporter struct {
	written int
	bytes   int64
}

// NewFrameExporter returns a FrameExporter.
func NewFrameExporter() *FrameExporter {
	return &FrameExporter{}
}

// Export writes the frame artifact to path, replacing any existing file.
func (e *FrameExporter) Export(path string, img *video.RGB24, events []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteFrame(file, img, events); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return err
	}

	e.written++
	e.bytes += int64(frameHeaderSize + len(img.Pix) + len(events))
	return nil
}

// Written number of exported frames.
func (e *FrameExporter) Written() int {
	return e.written
}

// Bytes total size of the exported frames.
func (e *FrameExporter) Bytes() int64 {
	return e.bytes
}

// StreamWriter writes the event stream artifact.
type StreamWriter struct {
	w     *bufio.Writer
	count uint64
	bytes int64
}

// NewStreamWriter returns a buffered stream writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: bufio.NewWriterSize(w, 1<<20)}
}

// Write appends packed records.
func (s *StreamWriter) Write(records []byte) error {
	if len(records)%event.RecordSize != 0 {
		return fmt.Errorf("%w: %d bytes", ErrPartialRecord, len(records))
	}
	n, err := s.w.Write(records)
	s.bytes += int64(n)
	if err != nil {
		return err
	}
	s.count += uint64(len(records) / event.RecordSize)
	return nil
}

// Count number of records written.
func (s *StreamWriter) Count() uint64 {
	return s.count
}

// Close writes the trailer and flushes. The underlying writer is not closed.
func (s *StreamWriter) Close(width uint32, height uint32) error {
	if width > math.MaxUint16 || height > math.MaxUint16 {
		return fmt.Errorf("%w: %dx%d", ErrTrailerRange, width, height)
	}
	if s.count > math.MaxUint32 {
		return fmt.Errorf("%w: %d events", ErrTrailerRange, s.count)
	}
	trailer := StreamTrailer{
		Width:  uint16(width),
		Height: uint16(height),
		Count:  uint32(s.count),
	}
	n, err := s.w.Write(trailer.Marshal())
	s.bytes += int64(n)
	if err != nil {
		return err
	}
	return s.w.Flush()
}

// Bytes total bytes written including the trailer.
func (s *StreamWriter) Bytes() int64 {
	return s.bytes
}

// SaveImage saves image as png to the specified location.
func SaveImage(path string, img *video.RGB24) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}
