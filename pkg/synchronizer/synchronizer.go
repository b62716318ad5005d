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

// Package synchronizer merges an event stream into the
// windows between consecutive video frames.
package synchronizer

import (
	"errors"
	"fmt"
	"time"

	"evsync/pkg/event"
	"evsync/pkg/log"
	"evsync/pkg/video"

	"github.com/google/gopacket"
)

// Boundary selects when a window is closed.
type Boundary uint8

// Boundaries.
const (
	// BoundaryEvent closes windows before packing the first event
	// that is later than the current frame.
	BoundaryEvent Boundary = iota

	// BoundaryMessage packs a whole message, then closes the window
	// once if the last event of the message is later than the frame.
	BoundaryMessage
)

// ErrUnknownBoundary unknown boundary name.
var ErrUnknownBoundary = errors.New("unknown boundary")

// ParseBoundary parses "event" or "message".
func ParseBoundary(name string) (Boundary, error) {
	switch name {
	case "", "event":
		return BoundaryEvent, nil
	case "message":
		return BoundaryMessage, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBoundary, name)
}

func (b Boundary) String() string {
	if b == BoundaryMessage {
		return "message"
	}
	return "event"
}

// MessageSource yields raw event array payloads.
type MessageSource interface {
	Next() bool
	Payload() []byte
}

// FrameSource yields video frames.
type FrameSource interface {
	Next() (video.Frame, bool)
}

// Exporter writes a frame and the packed events of its window.
type Exporter interface {
	Export(path string, img *video.RGB24, events []byte) error
}

// Window closed window.
type Window struct {
	Index   int
	FrameMs int64
	Events  int
	FirstMs int64 // Zero if the window is empty.
	LastMs  int64
	Path    string
}

// Config synchronizer config.
type Config struct {
	// Output path prefix, windows are written to "<Prefix>_<index>.bin".
	Prefix string

	Boundary Boundary
	Clock    event.Clock

	// FixedOrigin uses Origin as the zero point instead
	// of the first nonzero event timestamp.
	FixedOrigin bool
	Origin      int64 // Milliseconds.

	// MaxEvents per window.
	MaxEvents int

	// Log progress every ProgressEvery messages, 0 disables.
	ProgressEvery int

	// OnWindow is called after every export.
	OnWindow func(Window) error

	// Name returns the output path of a window.
	Name func(prefix string, index int) string
}

// Stats run statistics.
type Stats struct {
	Messages int
	Events   int
	Frames   int

	LogTime    time.Duration // Reading and decoding messages.
	VideoTime  time.Duration // Decoding frames.
	ExportTime time.Duration

	PeakEvents int
	Width      uint32
	Height     uint32
}

// Errors.
var (
	ErrDimensionMismatch = errors.New("message dimensions differ from the first message")
	ErrNoMaxEvents       = errors.New("max events must be positive")
)

// State synchronizer state. Not safe for concurrent use.
type State struct {
	c        Config
	frames   FrameSource
	exporter Exporter
	logger   *log.Logger

	frame video.Frame
	index int
	done  bool

	arena     *event.Arena
	origin    int64
	originSet bool
	first     int64
	last      int64

	meta    event.EventArrayLayer
	layer   event.EventArrayLayer
	dimsSet bool

	stats Stats
}

// New pulls the first frame and allocates the event arena.
func New(c Config, frames FrameSource, exporter Exporter, logger *log.Logger) (*State, error) {
	if c.MaxEvents <= 0 {
		return nil, ErrNoMaxEvents
	}
	if c.Name == nil {
		c.Name = defaultName
	}

	s := &State{
		c:        c,
		frames:   frames,
		exporter: exporter,
		logger:   logger,
		arena:    event.NewArena(c.MaxEvents),
		origin:   c.Origin,
		meta:     event.EventArrayLayer{Mode: event.ModeMetadata},
	}
	s.originSet = c.FixedOrigin

	if !s.nextFrame() {
		return nil, video.ErrNoFrames
	}
	return s, nil
}

func defaultName(prefix string, index int) string {
	return fmt.Sprintf("%s_%05d.bin", prefix, index)
}

// Done reports whether the video has ended.
func (s *State) Done() bool {
	return s.done
}

// Stats returns the statistics so far.
func (s *State) Stats() Stats {
	stats := s.stats
	stats.PeakEvents = s.arena.Peak()
	return stats
}

func (s *State) nextFrame() bool {
	start := time.Now()
	frame, ok := s.frames.Next()
	s.stats.VideoTime += time.Since(start)
	if !ok {
		s.done = true
		return false
	}
	s.frame = frame
	return true
}

// Ingest decodes one message and packs its events. Once the video
// has ended the remaining events of the message are discarded.
func (s *State) Ingest(payload []byte) error {
	if s.done {
		return nil
	}
	start := time.Now()
	if !s.dimsSet {
		if err := s.meta.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			return fmt.Errorf("decode message %d: %w", s.stats.Messages, err)
		}
		s.stats.Width, s.stats.Height = s.meta.Width, s.meta.Height
		s.dimsSet = true
	}

	if err := s.layer.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("decode message %d: %w", s.stats.Messages, err)
	}
	if s.layer.Width != s.stats.Width || s.layer.Height != s.stats.Height {
		return fmt.Errorf("%w: message %d is %dx%d, want %dx%d",
			ErrDimensionMismatch, s.stats.Messages,
			s.layer.Width, s.layer.Height, s.stats.Width, s.stats.Height)
	}
	s.stats.LogTime += time.Since(start)
	s.stats.Messages++

	if s.c.Boundary == BoundaryMessage {
		return s.ingestMessage(s.layer.Events)
	}
	for _, e := range s.layer.Events {
		if err := s.IngestEvent(e); err != nil {
			return err
		}
		if s.done {
			return nil
		}
	}
	return nil
}

// relative returns the zero based timestamp of e,
// the first nonzero timestamp sets the origin.
func (s *State) relative(e event.Event) int64 {
	ms := s.c.Clock.Millis(e.Timestamp)
	if !s.originSet && ms != 0 {
		s.origin = ms
		s.originSet = true
	}
	if !s.originSet {
		return 0
	}
	return ms - s.origin
}

// IngestEvent closes every window that ends before the event,
// then packs the event into the open window.
func (s *State) IngestEvent(e event.Event) error {
	if s.done {
		return nil
	}
	rel := s.relative(e)
	for rel > s.frame.Timestamp {
		if err := s.closeWindow(); err != nil {
			return err
		}
		if s.done {
			return nil
		}
	}
	return s.pack(rel, e)
}

func (s *State) ingestMessage(events []event.Event) error {
	var rel int64
	for _, e := range events {
		rel = s.relative(e)
		if err := s.pack(rel, e); err != nil {
			return err
		}
	}
	if len(events) != 0 && rel > s.frame.Timestamp {
		return s.closeWindow()
	}
	return nil
}

func (s *State) pack(rel int64, e event.Event) error {
	if err := s.arena.AppendRecord(rel, e); err != nil {
		return fmt.Errorf("window %d: %w", s.index, err)
	}
	if s.arena.Len() == 1 {
		s.first = rel
	}
	s.last = rel
	s.stats.Events++
	return nil
}

// closeWindow exports the current frame with the packed events
// and advances to the next frame.
func (s *State) closeWindow() error {
	if err := s.export(); err != nil {
		return err
	}
	s.arena.Reset()
	s.index++
	s.nextFrame()
	return nil
}

func (s *State) export() error {
	path := s.c.Name(s.c.Prefix, s.index)
	events := s.arena.Bytes()

	start := time.Now()
	err := s.exporter.Export(path, s.frame.Image, events)
	s.stats.ExportTime += time.Since(start)
	if err != nil {
		return fmt.Errorf("export window %d: %w", s.index, err)
	}
	s.stats.Frames++

	w := Window{
		Index:   s.index,
		FrameMs: s.frame.Timestamp,
		Events:  s.arena.Len(),
		Path:    path,
	}
	if w.Events != 0 {
		w.FirstMs, w.LastMs = s.first, s.last
	}
	if s.logger != nil {
		s.logger.Debug().Src("sync").
			Msgf("window %d: frame %dms, %d events", w.Index, w.FrameMs, w.Events)
	}
	if s.c.OnWindow != nil {
		if err := s.c.OnWindow(w); err != nil {
			return fmt.Errorf("window %d: %w", s.index, err)
		}
	}
	return nil
}

// Finish exports the window that is still open after the log ended.
func (s *State) Finish() error {
	if s.done {
		return nil
	}
	if err := s.export(); err != nil {
		return err
	}
	s.arena.Reset()
	s.done = true
	return nil
}

// Run merges every message of msgs into windows of frames.
// Messages after the end of the video are not read.
func Run(
	c Config,
	msgs MessageSource,
	frames FrameSource,
	exporter Exporter,
	logger *log.Logger,
) (Stats, error) {
	s, err := New(c, frames, exporter, logger)
	if err != nil {
		return Stats{}, err
	}

	next := func() bool {
		start := time.Now()
		ok := msgs.Next()
		s.stats.LogTime += time.Since(start)
		return ok
	}

	for !s.Done() && next() {
		if err := s.Ingest(msgs.Payload()); err != nil {
			return s.Stats(), err
		}
		n := s.stats.Messages
		if c.ProgressEvery > 0 && n%c.ProgressEvery == 0 && logger != nil {
			logger.Info().Src("sync").Msgf("processed %d messages", n)
		}
	}

	if err := s.Finish(); err != nil {
		return s.Stats(), err
	}
	return s.Stats(), nil
}
