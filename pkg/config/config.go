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

// Package config loads the evsync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"evsync/pkg/event"
	"evsync/pkg/log"
	"evsync/pkg/synchronizer"

	"gopkg.in/yaml.v2"
)

// Defaults.
const (
	DefaultFFmpegBin     = "/usr/bin/ffmpeg"
	DefaultFFprobeBin    = "/usr/bin/ffprobe"
	DefaultWidth         = 640
	DefaultHeight        = 480
	DefaultMaxEvents     = 10000000
	DefaultProgressEvery = 1000
	DefaultLogLevel      = "info"
)

// Config evsync configuration.
type Config struct {
	FFmpegBin  string `yaml:"ffmpegBin"`
	FFprobeBin string `yaml:"ffprobeBin"`

	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	MaxEvents int    `yaml:"maxEventsPerFrame"`
	Boundary  string `yaml:"boundary"`
	Clock     string `yaml:"clock"`
	Topic     string `yaml:"topic"`

	ProgressEvery int    `yaml:"progressEvery"`
	LogLevel      string `yaml:"logLevel"`
	IndexPath     string `yaml:"indexPath"`
}

// ErrInvalidConfig invalid configuration.
var ErrInvalidConfig = errors.New("invalid config")

// Default returns the default configuration.
func Default() Config {
	return Config{
		FFmpegBin:     DefaultFFmpegBin,
		FFprobeBin:    DefaultFFprobeBin,
		Width:         DefaultWidth,
		Height:        DefaultHeight,
		MaxEvents:     DefaultMaxEvents,
		Boundary:      synchronizer.BoundaryEvent.String(),
		Clock:         event.ClockInteger.String(),
		ProgressEvery: DefaultProgressEvery,
		LogLevel:      DefaultLogLevel,
	}
}

// Parse unmarshals YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrInvalidConfig, err)
	}
	if c.IndexPath != "" {
		c.IndexPath = filepath.Clean(c.IndexPath)
	}
	return &c, nil
}

// Load reads the config file at path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		c := Default()
		return &c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return c, nil
}

// Validate checks values that do not depend on the video backend.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.MaxEvents <= 0 {
		return fmt.Errorf("%w: maxEventsPerFrame %d", ErrInvalidConfig, c.MaxEvents)
	}
	if c.ProgressEvery < 0 {
		return fmt.Errorf("%w: progressEvery %d", ErrInvalidConfig, c.ProgressEvery)
	}
	if _, err := synchronizer.ParseBoundary(c.Boundary); err != nil {
		return fmt.Errorf("%w: boundary: %v", ErrInvalidConfig, err)
	}
	if _, err := event.ParseClock(c.Clock); err != nil {
		return fmt.Errorf("%w: clock: %v", ErrInvalidConfig, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: logLevel: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateBinaries checks the ffmpeg and ffprobe paths.
func (c Config) ValidateBinaries() error {
	for name, path := range map[string]string{
		"ffmpegBin":  c.FFmpegBin,
		"ffprobeBin": c.FFprobeBin,
	} {
		if !filepath.IsAbs(path) {
			return fmt.Errorf("%w: %v '%v': path is not absolute", ErrInvalidConfig, name, path)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %v '%v': %v", ErrInvalidConfig, name, path, err)
		}
	}
	return nil
}

// SyncConfig returns the synchronizer config for the output prefix.
func (c Config) SyncConfig(prefix string) (synchronizer.Config, error) {
	boundary, err := synchronizer.ParseBoundary(c.Boundary)
	if err != nil {
		return synchronizer.Config{}, err
	}
	clock, err := event.ParseClock(c.Clock)
	if err != nil {
		return synchronizer.Config{}, err
	}
	return synchronizer.Config{
		Prefix:        prefix,
		Boundary:      boundary,
		Clock:         clock,
		MaxEvents:     c.MaxEvents,
		ProgressEvery: c.ProgressEvery,
	}, nil
}

// StreamConfig returns the event only config.
func (c Config) StreamConfig() (synchronizer.StreamConfig, error) {
	clock, err := event.ParseClock(c.Clock)
	if err != nil {
		return synchronizer.StreamConfig{}, err
	}
	return synchronizer.StreamConfig{
		Clock:         clock,
		MaxEvents:     c.MaxEvents,
		ProgressEvery: c.ProgressEvery,
	}, nil
}
