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
	"fmt"
	"os"

	"evsync/pkg/export"
	"evsync/pkg/ros"
	"evsync/pkg/synchronizer"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newEventsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events <bag-file> <output>",
		Short: "Pack every event of a rosbag into a single file",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runEvents(args[0], args[1])
		},
	}
}

func (a *app) runEvents(bagPath string, outPath string) error {
	c, logger := a.config, a.logger

	if err := a.checkArena(); err != nil {
		return err
	}

	bag, err := a.openBag(bagPath)
	if err != nil {
		return err
	}
	defer bag.Close()

	sc, err := c.StreamConfig()
	if err != nil {
		return err
	}

	file, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer file.Close()

	w := export.NewStreamWriter(file)
	msgs := bag.Messages(ros.EventFilter(c.Topic))

	stats, err := synchronizer.PackAll(sc, msgs, w, logger)
	if err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := msgs.Err(); err != nil {
		logger.Warn().Src("ros").Msgf("log ended early: %v", err)
	}

	logger.Info().Src("app").Msgf("packing events: %dms", stats.Duration.Milliseconds())
	logger.Info().Src("app").Msgf("wrote %s events (%s) from %d messages, %dx%d",
		humanize.Comma(int64(stats.Events)),
		humanize.Bytes(uint64(w.Bytes())),
		stats.Messages,
		stats.Width,
		stats.Height,
	)
	return nil
}
