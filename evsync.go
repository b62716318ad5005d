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
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evsync/pkg/config"
	"evsync/pkg/ffmpeg"
	"evsync/pkg/log"
	"evsync/pkg/system"
	"evsync/pkg/video"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Run executes the command line and blocks until it is done.
func Run(args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	cmd := NewRootCommand(os.Stdout, os.Stderr, defaultHooks())
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

type arenaChecker interface {
	CheckArena(maxEvents int) (system.ArenaStatus, error)
}

// Hooks external dependencies of the commands.
type Hooks struct {
	OpenVideo func(*config.Config, *log.Logger) (video.OpenFunc, error)
	Memory    arenaChecker
	Now       func() time.Time
}

func defaultHooks() Hooks {
	return Hooks{
		OpenVideo: openFFMPEG,
		Memory:    system.NewMemory(),
		Now:       time.Now,
	}
}

func openFFMPEG(c *config.Config, logger *log.Logger) (video.OpenFunc, error) {
	if err := c.ValidateBinaries(); err != nil {
		return nil, err
	}
	return ffmpeg.New(c.FFmpegBin, c.FFprobeBin, logger).OpenSource, nil
}

// Flag names.
const (
	flagConfig    = "config"
	flagLogLevel  = "log-level"
	flagWidth     = "width"
	flagHeight    = "height"
	flagMaxEvents = "max-events"
	flagBoundary  = "boundary"
	flagClock     = "clock"
	flagTopic     = "topic"
	flagIndex     = "index"
)

type app struct {
	hooks  Hooks
	config *config.Config
	logger *log.Logger
}

// NewRootCommand returns the evsync command tree. Logs and command
// output are written to out, usage after a bad invocation to errOut.
func NewRootCommand(out io.Writer, errOut io.Writer, hooks Hooks) *cobra.Command {
	a := &app{hooks: hooks}
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "evsync <bag-file> <mp4-file> <output>",
		Short: "Pack event camera messages into the frames of a video",
		Long: "Reads event arrays from a rosbag and frames from a video and writes\n" +
			"one '<output>_<index>.bin' file per frame with the events up to it.",
		Args:          exactArgs(3),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, configPath, overrides)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSync(cmd.Context(), args[0], args[1], args[2])
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetFlagErrorFunc(usageError)

	pflags := cmd.PersistentFlags()
	pflags.StringVar(&configPath, flagConfig, "", "path to a YAML config file")
	pflags.StringVar(&overrides.LogLevel, flagLogLevel, "", "log level: error, warning, info or debug")
	pflags.IntVar(&overrides.MaxEvents, flagMaxEvents, 0, "capacity of the event buffer")
	pflags.StringVar(&overrides.Clock, flagClock, "", "timestamp conversion: integer or float32")
	pflags.StringVar(&overrides.Topic, flagTopic, "", "only read messages on this topic, default every event array")

	flags := cmd.Flags()
	flags.IntVar(&overrides.Width, flagWidth, 0, "output frame width")
	flags.IntVar(&overrides.Height, flagHeight, 0, "output frame height")
	flags.StringVar(&overrides.Boundary, flagBoundary, "", "window boundary: event or message")
	flags.StringVar(&overrides.IndexPath, flagIndex, "", "record windows in this bbolt database")

	cmd.AddCommand(newEventsCommand(a))
	cmd.AddCommand(newInspectCommand())
	return cmd
}

// exactArgs is cobra.ExactArgs that prints the usage on failure.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(cmd, err)
		}
		return nil
	}
}

func usageError(cmd *cobra.Command, err error) error {
	fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
	return err
}

// setup loads the config, applies the flags that were set and creates the logger.
func (a *app) setup(cmd *cobra.Command, configPath string, overrides config.Config) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	changed := cmd.Flags().Changed
	if changed(flagLogLevel) {
		c.LogLevel = overrides.LogLevel
	}
	if changed(flagWidth) {
		c.Width = overrides.Width
	}
	if changed(flagHeight) {
		c.Height = overrides.Height
	}
	if changed(flagMaxEvents) {
		c.MaxEvents = overrides.MaxEvents
	}
	if changed(flagBoundary) {
		c.Boundary = overrides.Boundary
	}
	if changed(flagClock) {
		c.Clock = overrides.Clock
	}
	if changed(flagTopic) {
		c.Topic = overrides.Topic
	}
	if changed(flagIndex) {
		c.IndexPath = overrides.IndexPath
	}

	if err := c.Validate(); err != nil {
		return err
	}
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}

	a.config = c
	a.logger = log.NewLogger(level)
	a.logger.LogToWriter(cmd.OutOrStdout())
	return nil
}

func (a *app) checkArena() error {
	status, err := a.hooks.Memory.CheckArena(a.config.MaxEvents)
	if err != nil {
		return fmt.Errorf("check memory: %w", err)
	}
	if status.Warn {
		a.logger.Warn().Src("app").Msgf("event buffer uses %s of %s available memory",
			humanize.Bytes(status.ArenaBytes), humanize.Bytes(status.AvailableBytes))
	}
	return nil
}
