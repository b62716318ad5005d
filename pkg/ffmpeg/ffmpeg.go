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

// Package ffmpeg implements video.Source with ffprobe and ffmpeg subprocesses.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"evsync/pkg/log"
	"evsync/pkg/video"
)

// FFMPEG stores the ffmpeg and ffprobe binary locations.
type FFMPEG struct {
	ffmpeg  func(...string) *exec.Cmd
	ffprobe func(...string) *exec.Cmd
	logger  *log.Logger
}

// New returns FFMPEG.
func New(ffmpegBin string, ffprobeBin string, logger *log.Logger) *FFMPEG {
	return &FFMPEG{
		ffmpeg: func(args ...string) *exec.Cmd {
			return exec.Command(ffmpegBin, args...)
		},
		ffprobe: func(args ...string) *exec.Cmd {
			return exec.Command(ffprobeBin, args...)
		},
		logger: logger,
	}
}

// ErrNoVideoStream the input has no video stream.
var ErrNoVideoStream = errors.New("no video stream")

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	TimeBase  string `json:"time_base"`
}

// Probe returns the first video stream of the input.
func (f *FFMPEG) Probe(ctx context.Context, path string) (video.Stream, error) {
	cmd := f.ffprobe(
		"-v", "error",
		"-show_streams",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := NewProcess(cmd).Start(ctx); err != nil {
		return video.Stream{}, fmt.Errorf("ffprobe: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(raw []byte) (video.Stream, error) {
	var output probeOutput
	if err := json.Unmarshal(raw, &output); err != nil {
		return video.Stream{}, fmt.Errorf("unmarshal ffprobe output: %w", err)
	}
	for _, s := range output.Streams {
		if s.CodecType != "video" {
			continue
		}
		timeBase, err := video.ParseRational(s.TimeBase)
		if err != nil {
			return video.Stream{}, fmt.Errorf("stream %d: %w", s.Index, err)
		}
		return video.Stream{
			Index:    s.Index,
			TimeBase: timeBase,
			Width:    s.Width,
			Height:   s.Height,
		}, nil
	}
	return video.Stream{}, ErrNoVideoStream
}

// SourceConfig output frame size.
type SourceConfig struct {
	Width  int
	Height int
}

// Source decodes a video file out of process. ffprobe lists every
// decoded frame of every stream, ffmpeg writes the selected stream as
// scaled RGB24 frames. Each listed frame of the selected stream is
// paired with the next raw frame.
type Source struct {
	stream    video.Stream
	frameSize int
	config    SourceConfig

	cancel  context.CancelFunc
	probe   *Process
	decoder *Process
	packets *bufio.Scanner
	frames  io.Reader

	pending *video.Packet
	closed  bool
}

// Open starts ffprobe and ffmpeg on the input.
func (f *FFMPEG) Open(ctx context.Context, path string, c SourceConfig) (*Source, error) {
	stream, err := f.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithCancel(ctx)

	probe := NewProcess(f.ffprobe(
		"-v", "error",
		"-show_entries", "frame=stream_index,best_effort_timestamp",
		"-of", "csv=p=0",
		path,
	)).StderrLogger(f.logFunc("ffprobe"))

	packets, err := probe.Stream(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start ffprobe: %w", err)
	}

	decoder := NewProcess(f.ffmpeg(
		"-v", "error",
		"-i", path,
		"-map", "0:"+strconv.Itoa(stream.Index),
		"-vsync", "passthrough",
		"-vf", "scale="+strconv.Itoa(c.Width)+":"+strconv.Itoa(c.Height)+":flags=bilinear",
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"-",
	)).StderrLogger(f.logFunc("ffmpeg"))

	frames, err := decoder.Stream(ctx2)
	if err != nil {
		cancel()
		probe.Wait() //nolint:errcheck
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &Source{
		stream:    stream,
		frameSize: 3 * c.Width * c.Height,
		config:    c,
		cancel:    cancel,
		probe:     probe,
		decoder:   decoder,
		packets:   bufio.NewScanner(packets),
		frames:    bufio.NewReaderSize(frames, 3*c.Width*c.Height),
	}, nil
}

// OpenSource implements video.OpenFunc.
func (f *FFMPEG) OpenSource(ctx context.Context, path string, w int, h int) (video.SourceCloser, error) {
	src, err := f.Open(ctx, path, SourceConfig{Width: w, Height: h})
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (f *FFMPEG) logFunc(src string) func(string) {
	if f.logger == nil {
		return nil
	}
	return func(msg string) {
		f.logger.Debug().Src("ffmpeg").Msgf("%v: %v", src, msg)
	}
}

// Stream returns the selected video stream.
func (s *Source) Stream() video.Stream {
	return s.stream
}

// ErrInvalidPacket unparsable ffprobe frame line.
var ErrInvalidPacket = errors.New("invalid packet")

// ReadPacket returns the next frame listed by ffprobe.
func (s *Source) ReadPacket() (video.Packet, error) {
	if !s.packets.Scan() {
		if err := s.packets.Err(); err != nil {
			return video.Packet{}, err
		}
		return video.Packet{}, io.EOF
	}
	return parsePacket(s.packets.Text())
}

// parsePacket parses "stream_index,best_effort_timestamp".
func parsePacket(line string) (video.Packet, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 2 {
		return video.Packet{}, fmt.Errorf("%w: %q", ErrInvalidPacket, line)
	}
	index, err := strconv.Atoi(fields[0])
	if err != nil {
		return video.Packet{}, fmt.Errorf("%w: %q", ErrInvalidPacket, line)
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return video.Packet{}, fmt.Errorf("%w: timestamp: %q", ErrInvalidPacket, line)
	}
	return video.Packet{Stream: index, Timestamp: ts}, nil
}

// SendPacket queues the packet for ReceiveFrame.
func (s *Source) SendPacket(pkt video.Packet) error {
	if s.pending != nil {
		return errors.New("previous packet was not received")
	}
	s.pending = &pkt
	return nil
}

// ReceiveFrame reads the raw frame matching the queued packet.
func (s *Source) ReceiveFrame() (video.Decoded, error) {
	if s.pending == nil {
		return video.Decoded{}, errors.New("no packet sent")
	}
	pkt := *s.pending
	s.pending = nil

	pix := make([]byte, s.frameSize)
	if _, err := io.ReadFull(s.frames, pix); err != nil {
		return video.Decoded{}, fmt.Errorf("read frame: %w", err)
	}
	img, err := video.FromPix(s.config.Width, s.config.Height, pix)
	if err != nil {
		return video.Decoded{}, err
	}
	return video.Decoded{Image: img, Timestamp: pkt.Timestamp}, nil
}

// Close stops both processes.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	// Both pipes must be drained before Wait.
	io.Copy(io.Discard, s.frames) //nolint:errcheck
	for s.packets.Scan() {
	}

	err1 := s.probe.Wait()
	err2 := s.decoder.Wait()
	if err1 != nil && !isSignal(err1) {
		return fmt.Errorf("ffprobe: %w", err1)
	}
	if err2 != nil && !isSignal(err2) {
		return fmt.Errorf("ffmpeg: %w", err2)
	}
	return nil
}

func isSignal(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == -1
}
