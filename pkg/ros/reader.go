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
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// Connection maps a connection id to a topic.
type Connection struct {
	ID    uint32
	Topic string
	Type  string
}

// Message single message data record.
type Message struct {
	Conn  uint32
	Topic string
	Type  string
	Time  Time
	Data  []byte
}

// Stats counters of the records seen and skipped by a reader.
type Stats struct {
	Chunks         int
	ChunksDropped  int
	Records        int
	RecordsDropped int
	Messages       int
	Filtered       int
}

// Reader sequential bag reader. Not safe for concurrent use.
type Reader struct {
	r     *bufio.Reader
	conns map[uint32]Connection
	stats Stats

	// OnDrop is called with the reason a record or chunk was skipped.
	OnDrop func(error)
}

// NewReader checks the bag magic and returns a reader positioned
// at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotBag, err)
	}
	if !strings.HasPrefix(string(magic), "#ROSBAG V") {
		return nil, ErrNotBag
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("%w: %q",
			ErrUnsupportedVersion, strings.TrimSpace(string(magic)))
	}
	return &Reader{
		r:     br,
		conns: make(map[uint32]Connection),
	}, nil
}

// File is a Reader backed by an open file.
type File struct {
	*Reader
	f *os.File
}

// Open opens a bag file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &File{Reader: r, f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error {
	return f.f.Close()
}

// Stats returns a copy of the counters.
func (r *Reader) Stats() Stats {
	return r.stats
}

// Connections returns the connections seen so far.
func (r *Reader) Connections() map[uint32]Connection {
	conns := make(map[uint32]Connection, len(r.conns))
	for id, c := range r.conns {
		conns[id] = c
	}
	return conns
}

func (r *Reader) drop(err error) {
	if r.OnDrop != nil {
		r.OnDrop(err)
	}
}

// addConnection registers a connection record.
func (r *Reader) addConnection(rec *Record) error {
	id, ok := rec.Uint32("conn")
	if !ok {
		return fmt.Errorf("%w: connection without id", ErrInvalidHeader)
	}
	topic, ok := rec.String("topic")
	if !ok {
		return fmt.Errorf("%w: connection without topic", ErrInvalidHeader)
	}
	conn := Connection{ID: id, Topic: topic}

	// The data section has the same layout as a record header.
	if fields, err := parseFields(rec.Data); err == nil {
		conn.Type = string(fields["type"])
	}
	r.conns[id] = conn
	return nil
}

// IsChunk reports whether rec is a chunk record.
func IsChunk(rec *Record) bool {
	return rec.Op == OpChunk
}

// IsMessageData reports whether rec is a message data record.
func IsMessageData(rec *Record) bool {
	return rec.Op == OpMessageData
}

// IsConnection reports whether rec is a connection record.
func IsConnection(rec *Record) bool {
	return rec.Op == OpConnection
}

// Filter selects messages.
type Filter func(*Message) bool

// AllMessages selects every message.
func AllMessages(*Message) bool {
	return true
}

// TopicFilter selects messages published on topic.
// An empty topic selects every message.
func TopicFilter(topic string) Filter {
	if topic == "" {
		return AllMessages
	}
	return func(msg *Message) bool {
		return msg.Topic == topic
	}
}

// EventArrayType is the message type of event camera arrays.
const EventArrayType = "dvs_msgs/EventArray"

// TypeFilter selects messages whose connection has msgType.
func TypeFilter(msgType string) Filter {
	return func(msg *Message) bool {
		return msg.Type == msgType
	}
}

// EventFilter selects messages published on topic. An empty
// topic selects every event array message instead.
func EventFilter(topic string) Filter {
	if topic == "" {
		return TypeFilter(EventArrayType)
	}
	return TopicFilter(topic)
}

// Chunk decompressed chunk record.
type Chunk struct {
	Compression string
	Data        []byte

	reader *Reader
}

// ChunkIterator yields the chunk records of a bag in file order.
type ChunkIterator struct {
	r     *Reader
	chunk *Chunk
	err   error
	done  bool
}

// Chunks returns an iterator over the chunks of the bag. Records that are
// not chunks are skipped, connection records outside chunks are registered.
func (r *Reader) Chunks() *ChunkIterator {
	return &ChunkIterator{r: r}
}

// Next advances to the next chunk. It returns false at the end of the
// bag or on an unrecoverable read error, see Err.
func (it *ChunkIterator) Next() bool {
	if it.done {
		return false
	}
	for {
		raw, err := readRawRecord(it.r.r)
		if errors.Is(err, io.EOF) {
			it.done = true
			return false
		}
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.r.stats.Records++

		rec, err := raw.parse()
		if err != nil {
			it.r.stats.RecordsDropped++
			it.r.drop(err)
			continue
		}
		if IsConnection(rec) {
			if err := it.r.addConnection(rec); err != nil {
				it.r.stats.RecordsDropped++
				it.r.drop(err)
			}
			continue
		}
		if !IsChunk(rec) {
			continue
		}

		it.r.stats.Chunks++
		chunk, err := it.r.decompress(rec)
		if err != nil {
			it.r.stats.ChunksDropped++
			it.r.drop(err)
			continue
		}
		it.chunk = chunk
		return true
	}
}

// Chunk returns the current chunk.
func (it *ChunkIterator) Chunk() *Chunk {
	return it.chunk
}

// Err returns the error that stopped the iteration, if any.
func (it *ChunkIterator) Err() error {
	return it.err
}

// Errors.
var (
	ErrUnknownCompression = errors.New("unknown compression")
	ErrChunkSize          = errors.New("chunk size mismatch")
)

func (r *Reader) decompress(rec *Record) (*Chunk, error) {
	compression, _ := rec.String("compression")
	size, ok := rec.Uint32("size")
	if !ok {
		return nil, fmt.Errorf("%w: chunk without size", ErrInvalidHeader)
	}
	if size > maxRecordSize {
		return nil, fmt.Errorf("%w: chunk %d bytes", ErrRecordTooLarge, size)
	}

	var src io.Reader
	switch compression {
	case CompressionNone, "":
		if uint32(len(rec.Data)) != size {
			return nil, fmt.Errorf("%w: header %d, data %d",
				ErrChunkSize, size, len(rec.Data))
		}
		return &Chunk{Compression: CompressionNone, Data: rec.Data, reader: r}, nil
	case CompressionBZ2:
		src = bzip2.NewReader(bytes.NewReader(rec.Data))
	case CompressionLZ4:
		src = lz4.NewReader(bytes.NewReader(rec.Data))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, compression)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(src, data); err != nil {
		return nil, fmt.Errorf("decompress %s chunk: %w", compression, err)
	}
	return &Chunk{Compression: compression, Data: data, reader: r}, nil
}

// MessageIterator yields the message data records of a chunk.
type MessageIterator struct {
	c    *Chunk
	rest []byte
	msg  Message
}

// Messages returns an iterator over the message data records
// in the chunk. Connection records are registered on the reader.
func (c *Chunk) Messages() *MessageIterator {
	return &MessageIterator{c: c, rest: c.Data}
}

// Next advances to the next message. Malformed records
// are skipped, a truncated record ends the chunk.
func (it *MessageIterator) Next() bool {
	r := it.c.reader
	for len(it.rest) > 0 {
		raw, rest, err := splitRawRecord(it.rest)
		if err != nil {
			r.stats.RecordsDropped++
			r.drop(err)
			it.rest = nil
			return false
		}
		it.rest = rest
		r.stats.Records++

		rec, err := raw.parse()
		if err != nil {
			r.stats.RecordsDropped++
			r.drop(err)
			continue
		}
		if IsConnection(rec) {
			if err := r.addConnection(rec); err != nil {
				r.stats.RecordsDropped++
				r.drop(err)
			}
			continue
		}
		if !IsMessageData(rec) {
			continue
		}

		conn, ok := rec.Uint32("conn")
		if !ok {
			r.stats.RecordsDropped++
			r.drop(fmt.Errorf("%w: message without conn", ErrInvalidHeader))
			continue
		}
		t, _ := rec.Time("time")
		it.msg = Message{
			Conn:  conn,
			Topic: r.conns[conn].Topic,
			Type:  r.conns[conn].Type,
			Time:  t,
			Data:  rec.Data,
		}
		r.stats.Messages++
		return true
	}
	return false
}

// Message returns the current message.
func (it *MessageIterator) Message() *Message {
	return &it.msg
}

// MessageStream flattens chunks into a single filtered message sequence.
type MessageStream struct {
	chunks *ChunkIterator
	msgs   *MessageIterator
	filter Filter
}

// Messages returns the messages of every chunk that pass filter.
// A nil filter selects every message.
func (r *Reader) Messages(filter Filter) *MessageStream {
	if filter == nil {
		filter = AllMessages
	}
	return &MessageStream{chunks: r.Chunks(), filter: filter}
}

// Next advances to the next selected message.
func (s *MessageStream) Next() bool {
	for {
		if s.msgs != nil {
			for s.msgs.Next() {
				msg := s.msgs.Message()
				if s.filter(msg) {
					return true
				}
				s.chunks.r.stats.Filtered++
			}
			s.msgs = nil
		}
		if !s.chunks.Next() {
			return false
		}
		s.msgs = s.chunks.Chunk().Messages()
	}
}

// Message returns the current message.
func (s *MessageStream) Message() *Message {
	return s.msgs.Message()
}

// Payload returns the data of the current message.
func (s *MessageStream) Payload() []byte {
	return s.msgs.Message().Data
}

// Err returns the error that stopped the stream, if any.
func (s *MessageStream) Err() error {
	return s.chunks.Err()
}
