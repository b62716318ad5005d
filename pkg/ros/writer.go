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

package ros

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

const bagHeaderSize = 4096

// DefaultChunkSize uncompressed size at which chunks are flushed.
const DefaultChunkSize = 768 * 1024

// Writer writes bags without an index section.
// Connection records are written inside the chunk
// that holds the first message of the connection.
type Writer struct {
	w           io.Writer
	compression string
	chunkSize   int

	chunk   []byte
	written map[uint32]bool
	conns   map[uint32]Connection
	closed  bool
}

// NewWriter writes the bag magic and header to w. Compression
// must be CompressionNone or CompressionLZ4.
func NewWriter(w io.Writer, compression string) (*Writer, error) {
	switch compression {
	case CompressionNone, CompressionLZ4:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, compression)
	}

	if _, err := io.WriteString(w, Magic); err != nil {
		return nil, err
	}
	if _, err := w.Write(bagHeader()); err != nil {
		return nil, err
	}
	return &Writer{
		w:           w,
		compression: compression,
		chunkSize:   DefaultChunkSize,
		written:     make(map[uint32]bool),
		conns:       make(map[uint32]Connection),
	}, nil
}

func bagHeader() []byte {
	header := marshalHeader(map[string][]byte{
		"op":          {OpBagHeader},
		"index_pos":   uint64Field(0),
		"conn_count":  uint32Field(0),
		"chunk_count": uint32Field(0),
	})
	padding := bagHeaderSize - 8 - len(header)
	return marshalRecord(header, bytes.Repeat([]byte{' '}, padding))
}

// SetChunkSize sets the uncompressed chunk size limit.
func (w *Writer) SetChunkSize(size int) {
	w.chunkSize = size
}

// AddConnection registers a topic on connection id.
func (w *Writer) AddConnection(id uint32, topic string, msgType string) {
	w.conns[id] = Connection{ID: id, Topic: topic, Type: msgType}
}

// WriteMessage appends a message to the current chunk.
func (w *Writer) WriteMessage(conn uint32, t Time, data []byte) error {
	c, ok := w.conns[conn]
	if !ok {
		return fmt.Errorf("unknown connection: %d", conn)
	}
	if !w.written[conn] {
		w.appendConnection(c)
		w.written[conn] = true
	}

	header := marshalHeader(map[string][]byte{
		"op":   {OpMessageData},
		"conn": uint32Field(conn),
		"time": timeField(t),
	})
	w.chunk = append(w.chunk, marshalRecord(header, data)...)

	if len(w.chunk) >= w.chunkSize {
		return w.Flush()
	}
	return nil
}

func (w *Writer) appendConnection(c Connection) {
	header := marshalHeader(map[string][]byte{
		"op":    {OpConnection},
		"conn":  uint32Field(c.ID),
		"topic": []byte(c.Topic),
	})
	data := marshalHeader(map[string][]byte{
		"topic": []byte(c.Topic),
		"type":  []byte(c.Type),
	})
	w.chunk = append(w.chunk, marshalRecord(header, data)...)
}

// Flush writes the current chunk, if any.
func (w *Writer) Flush() error {
	if len(w.chunk) == 0 {
		return nil
	}

	data := w.chunk
	if w.compression == CompressionLZ4 {
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(w.chunk); err != nil {
			return fmt.Errorf("compress chunk: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress chunk: %w", err)
		}
		data = buf.Bytes()
	}

	header := marshalHeader(map[string][]byte{
		"op":          {OpChunk},
		"compression": []byte(w.compression),
		"size":        uint32Field(uint32(len(w.chunk))),
	})
	if _, err := w.w.Write(marshalRecord(header, data)); err != nil {
		return err
	}
	w.chunk = w.chunk[:0]
	return nil
}

// Close flushes the last chunk. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.Flush()
}
