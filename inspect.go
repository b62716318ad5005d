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
	"errors"
	"fmt"
	"io"
	"os"

	"evsync/pkg/event"
	"evsync/pkg/export"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// ErrNoImage event stream artifacts have no image.
var ErrNoImage = errors.New("event stream has no image")

type inspectFlags struct {
	png    string
	events int
	stream bool
}

func newInspectCommand() *cobra.Command {
	var flags inspectFlags
	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Print the contents of an exported file",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.png, "png", "", "save the frame as png")
	cmd.Flags().IntVar(&flags.events, "events", 0, "print the first N events")
	cmd.Flags().BoolVar(&flags.stream, "stream", false, "artifact was written by the events command")
	return cmd
}

func inspect(out io.Writer, path string, flags inspectFlags) error {
	if flags.stream {
		return inspectStream(out, path, flags)
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	frame, err := export.ReadFrame(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(out, "frame: %dx%d (%s)\n", frame.Header.Width, frame.Header.Height,
		humanize.Bytes(uint64(frame.Header.PixelSize())))
	printRecords(out, frame.Records, flags.events)

	if flags.png != "" {
		if err := export.SaveImage(flags.png, frame.Image); err != nil {
			return fmt.Errorf("save png: %w", err)
		}
		fmt.Fprintf(out, "saved %s\n", flags.png)
	}
	return nil
}

func inspectStream(out io.Writer, path string, flags inspectFlags) error {
	if flags.png != "" {
		return ErrNoImage
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	stream, err := export.ReadStream(buf)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(out, "sensor: %dx%d\n", stream.Trailer.Width, stream.Trailer.Height)
	printRecords(out, stream.Records, flags.events)
	return nil
}

func printRecords(out io.Writer, records []event.Record, n int) {
	s := export.Summarize(records)
	fmt.Fprintf(out, "events: %s\n", humanize.Comma(int64(s.Count)))
	if s.Count == 0 {
		return
	}
	fmt.Fprintf(out, "time: %d-%dms\n", s.FirstMs, s.LastMs)
	fmt.Fprintf(out, "polarity: %d positive, %d negative\n", s.Positive, s.Negative)

	switch {
	case n < 0:
		n = 0
	case n > len(records):
		n = len(records)
	}
	for _, r := range records[:n] {
		p := 0
		if r.Polarity {
			p = 1
		}
		fmt.Fprintf(out, "%dms x=%d y=%d p=%d\n", r.Millis, r.X, r.Y, p)
	}
}
