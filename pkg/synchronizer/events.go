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

package synchronizer

import (
	"fmt"
	"time"

	"evsync/pkg/event"
	"evsync/pkg/log"

	"github.com/google/gopacket"
)

// StreamWriter receives packed records and the final trailer.
type StreamWriter interface {
	Write(records []byte) error
	Close(width uint32, height uint32) error
}

// StreamConfig event stream config.
type StreamConfig struct {
	Clock event.Clock

	FixedOrigin bool
	Origin      int64

	// MaxEvents per message.
	MaxEvents int

	ProgressEvery int
}

// StreamStats event stream statistics.
type StreamStats struct {
	Messages int
	Events   int
	Width    uint32
	Height   uint32
	Duration time.Duration
}

// PackAll packs every event of msgs into w without a video. Timestamps
// are relative to the first nonzero event timestamp. The trailer
// carries the dimensions of the first message.
func PackAll(
	c StreamConfig,
	msgs MessageSource,
	w StreamWriter,
	logger *log.Logger,
) (StreamStats, error) {
	if c.MaxEvents <= 0 {
		return StreamStats{}, ErrNoMaxEvents
	}
	start := time.Now()

	var (
		stats     StreamStats
		layer     event.EventArrayLayer
		arena     = event.NewArena(c.MaxEvents)
		origin    = c.Origin
		originSet = c.FixedOrigin
	)
	for msgs.Next() {
		if err := layer.DecodeFromBytes(msgs.Payload(), gopacket.NilDecodeFeedback); err != nil {
			return stats, fmt.Errorf("decode message %d: %w", stats.Messages, err)
		}
		if stats.Messages == 0 {
			stats.Width, stats.Height = layer.Width, layer.Height
		} else if layer.Width != stats.Width || layer.Height != stats.Height {
			return stats, fmt.Errorf("%w: message %d is %dx%d, want %dx%d",
				ErrDimensionMismatch, stats.Messages,
				layer.Width, layer.Height, stats.Width, stats.Height)
		}
		stats.Messages++

		arena.Reset()
		for _, e := range layer.Events {
			ms := c.Clock.Millis(e.Timestamp)
			if !originSet && ms != 0 {
				origin, originSet = ms, true
			}
			var rel int64
			if originSet {
				rel = ms - origin
			}
			if err := arena.AppendRecord(rel, e); err != nil {
				return stats, fmt.Errorf("message %d: %w", stats.Messages-1, err)
			}
		}
		if err := w.Write(arena.Bytes()); err != nil {
			return stats, fmt.Errorf("write: %w", err)
		}
		stats.Events += arena.Len()

		if c.ProgressEvery > 0 && stats.Messages%c.ProgressEvery == 0 && logger != nil {
			logger.Info().Src("events").Msgf("processed %d messages", stats.Messages)
		}
	}

	if err := w.Close(stats.Width, stats.Height); err != nil {
		return stats, fmt.Errorf("close: %w", err)
	}
	stats.Duration = time.Since(start)
	return stats, nil
}
