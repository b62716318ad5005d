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

package evsync

import (
	"context"
	"fmt"

	"evsync/pkg/export"
	"evsync/pkg/index"
	"evsync/pkg/ros"
	"evsync/pkg/synchronizer"
	"evsync/pkg/video"

	"github.com/dustin/go-humanize"
)

func (a *app) openBag(path string) (*ros.File, error) {
	bag, err := ros.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	bag.OnDrop = func(err error) {
		a.logger.Debug().Src("ros").Msgf("skipped record: %v", err)
	}
	return bag, nil
}

func (a *app) runSync(ctx context.Context, bagPath, videoPath, prefix string) error {
	c, logger := a.config, a.logger
	started := a.hooks.Now()

	if err := a.checkArena(); err != nil {
		return err
	}

	bag, err := a.openBag(bagPath)
	if err != nil {
		return err
	}
	defer bag.Close()

	open, err := a.hooks.OpenVideo(c, logger)
	if err != nil {
		return err
	}
	src, err := open(ctx, videoPath, c.Width, c.Height)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer src.Close()
	frames := video.NewFrameStream(src, c.Width, c.Height)

	sc, err := c.SyncConfig(prefix)
	if err != nil {
		return err
	}
	sc.Name = export.FrameName

	if c.IndexPath != "" {
		db, err := index.Open(c.IndexPath)
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.NewRun(bagPath, videoPath, prefix, started)
		if err != nil {
			return err
		}
		logger.Info().Src("app").Msgf("run id %v", run.ID)

		sc.OnWindow = func(w synchronizer.Window) error {
			return db.PutWindow(run.ID, index.Window{
				Frame:   w.Index,
				FrameMs: w.FrameMs,
				Events:  w.Events,
				FirstMs: w.FirstMs,
				LastMs:  w.LastMs,
				Path:    w.Path,
			})
		}
	}

	exporter := export.NewFrameExporter()
	msgs := bag.Messages(ros.EventFilter(c.Topic))

	stats, err := synchronizer.Run(sc, msgs, frames, exporter, logger)
	if err != nil {
		return err
	}
	if err := msgs.Err(); err != nil {
		logger.Warn().Src("ros").Msgf("log ended early: %v", err)
	}
	if err := frames.Err(); err != nil {
		logger.Warn().Src("video").Msgf("video ended early: %v", err)
	}

	a.logSyncSummary(stats, bag.Stats(), exporter)
	return nil
}

func (a *app) logSyncSummary(stats synchronizer.Stats, bag ros.Stats, exporter *export.FrameExporter) {
	logger := a.logger
	logger.Info().Src("app").Msgf("parsing rosbag: %dms", stats.LogTime.Milliseconds())
	logger.Info().Src("app").Msgf("parsing video: %dms", stats.VideoTime.Milliseconds())
	logger.Info().Src("app").Msgf("exporting: %dms", stats.ExportTime.Milliseconds())
	logger.Info().Src("app").Msgf(
		"exported %d frames (%s), %s events from %d messages, peak %s events per frame",
		stats.Frames,
		humanize.Bytes(uint64(exporter.Bytes())),
		humanize.Comma(int64(stats.Events)),
		stats.Messages,
		humanize.Comma(int64(stats.PeakEvents)),
	)
	if bag.ChunksDropped != 0 || bag.RecordsDropped != 0 {
		logger.Warn().Src("ros").Msgf("skipped %d chunks and %d records",
			bag.ChunksDropped, bag.RecordsDropped)
	}
}
