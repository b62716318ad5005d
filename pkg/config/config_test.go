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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"evsync/pkg/event"
	"evsync/pkg/synchronizer"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestParse(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		c, err := Parse([]byte{})
		require.NoError(t, err)
		require.Equal(t, Default(), *c)
		require.NoError(t, c.Validate())
	})
	t.Run("maximal", func(t *testing.T) {
		expected := Config{
			FFmpegBin:     "/opt/ffmpeg",
			FFprobeBin:    "/opt/ffprobe",
			Width:         346,
			Height:        260,
			MaxEvents:     5,
			Boundary:      "message",
			Clock:         "float32",
			Topic:         "/dvs/events",
			ProgressEvery: 10,
			LogLevel:      "debug",
			IndexPath:     "/tmp/index.db",
		}
		data, err := yaml.Marshal(expected)
		require.NoError(t, err)

		c, err := Parse(data)
		require.NoError(t, err)
		require.Equal(t, expected, *c)
		require.NoError(t, c.Validate())
	})
	t.Run("partial", func(t *testing.T) {
		c, err := Parse([]byte("width: 100\ntopic: /cam\n"))
		require.NoError(t, err)
		require.Equal(t, 100, c.Width)
		require.Equal(t, DefaultHeight, c.Height)
		require.Equal(t, "/cam", c.Topic)
	})
	t.Run("unmarshalErr", func(t *testing.T) {
		_, err := Parse([]byte("&"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
	t.Run("unknownField", func(t *testing.T) {
		_, err := Parse([]byte("witdh: 1\n"))
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoad(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		c, err := Load("")
		require.NoError(t, err)
		require.Equal(t, Default(), *c)
	})
	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "evsync.yaml")
		require.NoError(t, os.WriteFile(path, []byte("clock: float32\n"), 0o600))

		c, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "float32", c.Clock)
	})
	t.Run("missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "x"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("invalid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "evsync.yaml")
		require.NoError(t, os.WriteFile(path, []byte("width: a\n"), 0o600))

		_, err := Load(path)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"width":         func(c *Config) { c.Width = 0 },
		"height":        func(c *Config) { c.Height = -1 },
		"maxEvents":     func(c *Config) { c.MaxEvents = 0 },
		"progressEvery": func(c *Config) { c.ProgressEvery = -1 },
		"boundary":      func(c *Config) { c.Boundary = "frame" },
		"clock":         func(c *Config) { c.Clock = "float64" },
		"logLevel":      func(c *Config) { c.LogLevel = "loud" },
	}
	for name, modify := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			modify(&c)
			require.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateBinaries(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	ffprobe := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(ffmpeg, nil, 0o700))
	require.NoError(t, os.WriteFile(ffprobe, nil, 0o700))

	c := Default()
	c.FFmpegBin, c.FFprobeBin = ffmpeg, ffprobe
	require.NoError(t, c.ValidateBinaries())

	c.FFprobeBin = "ffprobe"
	require.ErrorIs(t, c.ValidateBinaries(), ErrInvalidConfig)

	c.FFprobeBin = filepath.Join(dir, "missing")
	require.ErrorIs(t, c.ValidateBinaries(), ErrInvalidConfig)
}

func TestSyncConfig(t *testing.T) {
	c := Default()
	c.Boundary = "message"
	c.Clock = "float32"

	sc, err := c.SyncConfig("out")
	require.NoError(t, err)
	expected := synchronizer.Config{
		Prefix:        "out",
		Boundary:      synchronizer.BoundaryMessage,
		Clock:         event.ClockFloat32,
		MaxEvents:     DefaultMaxEvents,
		ProgressEvery: DefaultProgressEvery,
	}
	require.Equal(t, expected, sc)

	stream, err := c.StreamConfig()
	require.NoError(t, err)
	require.Equal(t, event.ClockFloat32, stream.Clock)

	c.Clock = "x"
	_, err = c.SyncConfig("out")
	require.ErrorIs(t, err, event.ErrUnknownClock)
}
