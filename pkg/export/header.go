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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameHeader frame artifact header.
type FrameHeader struct {
	Width  uint32
	Height uint32
	Count  uint32
}

const frameHeaderSize = 12

// PixelSize size of the pixel section in bytes.
func (h FrameHeader) PixelSize() int {
	return int(h.Width) * int(h.Height) * 3
}

// Marshal header.
func (h FrameHeader) Marshal() []byte {
	out := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(out[0:4], h.Width)
	binary.LittleEndian.PutUint32(out[4:8], h.Height)
	binary.LittleEndian.PutUint32(out[8:12], h.Count)
	return out
}

// ErrShortArtifact artifact is shorter than its header declares.
var ErrShortArtifact = errors.New("short artifact")

// Unmarshal header from reader.
func (h *FrameHeader) Unmarshal(r io.Reader) (int, error) {
	buf := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return n, fmt.Errorf("%w: header: %v", ErrShortArtifact, err)
	}
	h.Width = binary.LittleEndian.Uint32(buf[0:4])
	h.Height = binary.LittleEndian.Uint32(buf[4:8])
	h.Count = binary.LittleEndian.Uint32(buf[8:12])
	return n, nil
}

// StreamTrailer event stream artifact trailer.
type StreamTrailer struct {
	Width  uint16
	Height uint16
	Count  uint32
}

const streamTrailerSize = 8

// Marshal trailer.
func (t StreamTrailer) Marshal() []byte {
	out := make([]byte, streamTrailerSize)
	binary.LittleEndian.PutUint16(out[0:2], t.Width)
	binary.LittleEndian.PutUint16(out[2:4], t.Height)
	binary.LittleEndian.PutUint32(out[4:8], t.Count)
	return out
}

// Unmarshal trailer from the last 8 bytes of buf.
func (t *StreamTrailer) Unmarshal(buf []byte) error {
	if len(buf) < streamTrailerSize {
		return fmt.Errorf("%w: trailer needs %d bytes, got %d",
			ErrShortArtifact, streamTrailerSize, len(buf))
	}
	buf = buf[len(buf)-streamTrailerSize:]
	t.Width = binary.LittleEndian.Uint16(buf[0:2])
	t.Height = binary.LittleEndian.Uint16(buf[2:4])
	t.Count = binary.LittleEndian.Uint32(buf[4:8])
	return nil
}
