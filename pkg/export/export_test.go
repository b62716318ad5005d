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
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"evsync/pkg/event"
	"evsync/pkg/video"

	"github.com/stretchr/testify/require"
)

func testImage(t *testing.T) *video.RGB24 {
	t.Helper()
	img, err := video.FromPix(2, 1, []byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	return img
}

func packEvents(t *testing.T, events ...event.Event) []byte {
	t.Helper()
	buf := make([]byte, len(events)*event.RecordSize)
	offset := 0
	for _, e := range events {
		var err error
		offset, err = event.Pack(e, buf, offset)
		require.NoError(t, err)
	}
	return buf
}

var testEvents = []event.Event{
	{X: 1, Y: 0, Timestamp: event.Time{Nsec: 50000000}, Polarity: true},
	{X: 0, Y: 0, Timestamp: event.Time{Nsec: 99000000}},
}

var testFrame = []byte{
	2, 0, 0, 0, // Width.
	1, 0, 0, 0, // Height.
	2, 0, 0, 0, // Count.
	1, 2, 3, 4, 5, 6, // Pixels.

	50, 0, 0, // Millis.
	1, 0, // X.
	0, 0, // Y.
	1, // Polarity.

	99, 0, 0, // Millis.
	0, 0, // X.
	0, 0, // Y.
	0, // Polarity.
}

func TestWriteFrame(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		var buf bytes.Buffer
		err := WriteFrame(&buf, testImage(t), packEvents(t, testEvents...))
		require.NoError(t, err)
		require.Equal(t, testFrame, buf.Bytes())
	})
	t.Run("noEvents", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, testImage(t), nil))
		require.Equal(t, []byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6}, buf.Bytes())
	})
	t.Run("partialRecord", func(t *testing.T) {
		err := WriteFrame(&bytes.Buffer{}, testImage(t), make([]byte, 9))
		require.ErrorIs(t, err, ErrPartialRecord)
	})
	t.Run("pixelSize", func(t *testing.T) {
		img := testImage(t)
		img.Pix = img.Pix[:5]
		err := WriteFrame(&bytes.Buffer{}, img, nil)
		require.ErrorIs(t, err, video.ErrInvalidSize)
	})
}

func TestFrameExporter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out_00000.bin")
	require.Equal(t, filepath.Join(dir, "out")+"_00000.bin", FrameName(filepath.Join(dir, "out"), 0))
	require.Equal(t, "a_12345.bin", FrameName("a", 12345))
	require.Equal(t, "a_123456.bin", FrameName("a", 123456))

	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xff}, 100), 0o600))

	e := NewFrameExporter()
	require.NoError(t, e.Export(path, testImage(t), packEvents(t, testEvents...)))

	// Existing files are replaced.
	actual, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, testFrame, actual)
	require.Equal(t, 1, e.Written())
	require.Equal(t, int64(len(testFrame)), e.Bytes())

	err = e.Export(filepath.Join(dir, "missing", "x.bin"), testImage(t), nil)
	require.Error(t, err)
}

func TestReadFrame(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		frame, err := ReadFrame(bytes.NewReader(testFrame))
		require.NoError(t, err)
		require.Equal(t, FrameHeader{Width: 2, Height: 1, Count: 2}, frame.Header)
		require.Equal(t, testImage(t), frame.Image)

		expected := []event.Record{
			{Millis: 50, X: 1, Polarity: true},
			{Millis: 99},
		}
		require.Equal(t, expected, frame.Records)
	})
	t.Run("short", func(t *testing.T) {
		for _, n := range []int{0, 11, 12, 17, 18, 25} {
			_, err := ReadFrame(bytes.NewReader(testFrame[:n]))
			require.ErrorIs(t, err, ErrShortArtifact, "length %d", n)
		}
	})
}

func TestStreamWriter(t *testing.T) {
	t.Run("bytes", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewStreamWriter(&buf)
		require.NoError(t, w.Write(packEvents(t, testEvents[0])))
		require.NoError(t, w.Write(nil))
		require.NoError(t, w.Write(packEvents(t, testEvents[1])))
		require.Equal(t, uint64(2), w.Count())
		require.NoError(t, w.Close(640, 480))

		expected := append(append([]byte{}, testFrame[18:]...),
			0x80, 0x02, // Width.
			0xe0, 0x01, // Height.
			2, 0, 0, 0, // Count.
		)
		require.Equal(t, expected, buf.Bytes())
		require.Equal(t, int64(len(expected)), w.Bytes())

		stream, err := ReadStream(buf.Bytes())
		require.NoError(t, err)
		require.Equal(t, StreamTrailer{Width: 640, Height: 480, Count: 2}, stream.Trailer)
		require.Len(t, stream.Records, 2)
	})
	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		w := NewStreamWriter(&buf)
		require.NoError(t, w.Close(0, 0))
		require.Equal(t, make([]byte, 8), buf.Bytes())
	})
	t.Run("trailerRange", func(t *testing.T) {
		w := NewStreamWriter(&bytes.Buffer{})
		require.ErrorIs(t, w.Close(65536, 1), ErrTrailerRange)
	})
	t.Run("partialRecord", func(t *testing.T) {
		w := NewStreamWriter(&bytes.Buffer{})
		require.ErrorIs(t, w.Write(make([]byte, 3)), ErrPartialRecord)
	})
}

func TestReadStream(t *testing.T) {
	_, err := ReadStream([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortArtifact)

	_, err = ReadStream([]byte{0, 0, 0, 0, 1, 0, 0, 0})
	require.ErrorIs(t, err, ErrShortArtifact)

	_, err = ReadStream([]byte{9, 0, 0, 0, 0, 0, 0, 0, 0})
	require.ErrorIs(t, err, ErrPartialRecord)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]event.Record{
		{Millis: 20, Polarity: true},
		{Millis: 10},
		{Millis: 30, Polarity: true},
	})
	require.Equal(t, Summary{Count: 3, FirstMs: 10, LastMs: 30, Positive: 2, Negative: 1}, s)
	require.Equal(t, Summary{}, Summarize(nil))
}

func TestSaveImage(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "img.png")
		require.NoError(t, SaveImage(path, testImage(t)))

		file, err := os.Open(path)
		require.NoError(t, err)
		defer file.Close()

		img, err := png.Decode(file)
		require.NoError(t, err)
		r, g, b, _ := img.At(1, 0).RGBA()
		require.Equal(t, []uint32{4 * 0x101, 5 * 0x101, 6 * 0x101}, []uint32{r, g, b})
	})
	t.Run("createErr", func(t *testing.T) {
		require.Error(t, SaveImage("", testImage(t)))
	})
}
