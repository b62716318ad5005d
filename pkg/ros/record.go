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

// Package ros reads and writes ROS bag v2.0 files.
package ros

// Bag layout.
//
//   magic "#ROSBAG V2.0\n"
//   []record
//
// record {
//   headerLength uint32
//   header       []field
//   dataLength   uint32
//   data         [dataLength]byte
// }
//
// field {
//   fieldLength uint32
//   name=value  [fieldLength]byte
// }
//
// Chunk records hold compressed connection and message data records.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Magic bag file prefix.
const Magic = "#ROSBAG V2.0\n"

// Record op codes.
const (
	OpMessageData = 0x02
	OpBagHeader   = 0x03
	OpIndexData   = 0x04
	OpChunk       = 0x05
	OpChunkInfo   = 0x06
	OpConnection  = 0x07
)

// Chunk compressions.
const (
	CompressionNone = "none"
	CompressionBZ2  = "bz2"
	CompressionLZ4  = "lz4"
)

const maxRecordSize = 1 << 30

// Errors.
var (
	ErrNotBag             = errors.New("not a rosbag")
	ErrUnsupportedVersion = errors.New("unsupported rosbag version")
	ErrTruncated          = errors.New("truncated record")
	ErrRecordTooLarge     = errors.New("record too large")
	ErrInvalidHeader      = errors.New("invalid record header")
)

// Record single bag record.
type Record struct {
	Op     byte
	Header map[string][]byte
	Data   []byte
}

// Uint32 returns a little-endian uint32 header field.
func (r *Record) Uint32(name string) (uint32, bool) {
	v, ok := r.Header[name]
	if !ok || len(v) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(v), true
}

// String returns a header field as string.
func (r *Record) String(name string) (string, bool) {
	v, ok := r.Header[name]
	return string(v), ok
}

// Time returns a header field holding sec and nsec.
func (r *Record) Time(name string) (Time, bool) {
	v, ok := r.Header[name]
	if !ok || len(v) != 8 {
		return Time{}, false
	}
	return Time{
		Sec:  binary.LittleEndian.Uint32(v[0:4]),
		Nsec: binary.LittleEndian.Uint32(v[4:8]),
	}, true
}

// Time bag timestamp.
type Time struct {
	Sec  uint32
	Nsec uint32
}

// parseHeader parses header fields. The op field is required.
func parseHeader(buf []byte) (byte, map[string][]byte, error) {
	fields, err := parseFields(buf)
	if err != nil {
		return 0, nil, err
	}
	op, ok := fields["op"]
	if !ok || len(op) != 1 {
		return 0, nil, fmt.Errorf("%w: missing op", ErrInvalidHeader)
	}
	return op[0], fields, nil
}

// parseFields parses a sequence of length prefixed name=value fields.
func parseFields(buf []byte) (map[string][]byte, error) {
	fields := map[string][]byte{}
	for len(buf) > 0 {
		if len(buf) < 4 {
			return nil, fmt.Errorf("%w: field length", ErrInvalidHeader)
		}
		n := binary.LittleEndian.Uint32(buf[0:4])
		buf = buf[4:]
		if uint64(n) > uint64(len(buf)) {
			return nil, fmt.Errorf("%w: field length %d exceeds header", ErrInvalidHeader, n)
		}
		field := buf[:n]
		buf = buf[n:]

		sep := bytes.IndexByte(field, '=')
		if sep < 1 {
			return nil, fmt.Errorf("%w: field without name", ErrInvalidHeader)
		}
		fields[string(field[:sep])] = field[sep+1:]
	}
	return fields, nil
}

// rawRecord is a record whose header has not been parsed.
type rawRecord struct {
	header []byte
	data   []byte
}

func (raw rawRecord) parse() (*Record, error) {
	op, header, err := parseHeader(raw.header)
	if err != nil {
		return nil, err
	}
	return &Record{Op: op, Header: header, Data: raw.data}, nil
}

// readRawRecord reads one record from r. io.EOF is returned
// only if r is exhausted before the first byte.
func readRawRecord(r io.Reader) (rawRecord, error) {
	header, err := readBlock(r, "header")
	if err != nil {
		return rawRecord{}, err
	}
	data, err := readBlock(r, "data")
	if errors.Is(err, io.EOF) {
		return rawRecord{}, fmt.Errorf("%w: missing data", ErrTruncated)
	}
	if err != nil {
		return rawRecord{}, err
	}
	return rawRecord{header: header, data: data}, nil
}

func readBlock(r io.Reader, name string) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %s length", ErrTruncated, name)
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxRecordSize {
		return nil, fmt.Errorf("%w: %s %d bytes", ErrRecordTooLarge, name, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTruncated, name, err)
	}
	return buf, nil
}

// splitRawRecord splits the first record off buf without copying.
func splitRawRecord(buf []byte) (rawRecord, []byte, error) {
	header, rest, err := splitBlock(buf, "header")
	if err != nil {
		return rawRecord{}, nil, err
	}
	data, rest, err := splitBlock(rest, "data")
	if err != nil {
		return rawRecord{}, nil, err
	}
	return rawRecord{header: header, data: data}, rest, nil
}

func splitBlock(buf []byte, name string) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("%w: %s length", ErrTruncated, name)
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	buf = buf[4:]
	if uint64(n) > uint64(len(buf)) {
		return nil, nil, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrTruncated, name, n, len(buf))
	}
	return buf[:n], buf[n:], nil
}

// marshalHeader encodes fields sorted by name.
func marshalHeader(fields map[string][]byte) []byte {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []byte
	for _, name := range names {
		value := fields[name]
		out = appendUint32(out, uint32(len(name)+1+len(value)))
		out = append(out, name...)
		out = append(out, '=')
		out = append(out, value...)
	}
	return out
}

func marshalRecord(header []byte, data []byte) []byte {
	out := make([]byte, 0, 8+len(header)+len(data))
	out = appendUint32(out, uint32(len(header)))
	out = append(out, header...)
	out = appendUint32(out, uint32(len(data)))
	out = append(out, data...)
	return out
}

func appendUint32(out []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(out, b[:]...)
}

func uint32Field(v uint32) []byte {
	return appendUint32(nil, v)
}

func uint64Field(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func timeField(t Time) []byte {
	return append(uint32Field(t.Sec), uint32Field(t.Nsec)...)
}
