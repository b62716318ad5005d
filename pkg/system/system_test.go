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

package system

import (
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

func mockRAM(available uint64) ramFunc {
	return func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Available: available}, nil
	}
}

func TestCheckArena(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		m := &Memory{ram: mockRAM(1000), WarnRatio: 0.5}
		status, err := m.CheckArena(10)
		require.NoError(t, err)
		require.Equal(t, ArenaStatus{ArenaBytes: 80, AvailableBytes: 1000}, status)
	})
	t.Run("warn", func(t *testing.T) {
		m := &Memory{ram: mockRAM(1000), WarnRatio: 0.5}
		status, err := m.CheckArena(100)
		require.NoError(t, err)
		require.True(t, status.Warn)
	})
	t.Run("tooLarge", func(t *testing.T) {
		m := &Memory{ram: mockRAM(1000), WarnRatio: 0.5}
		_, err := m.CheckArena(126)
		require.ErrorIs(t, err, ErrArenaTooLarge)
	})
	t.Run("ramErr", func(t *testing.T) {
		errMock := errors.New("mock")
		m := &Memory{ram: func() (*mem.VirtualMemoryStat, error) {
			return nil, errMock
		}}
		_, err := m.CheckArena(1)
		require.ErrorIs(t, err, errMock)
	})
	t.Run("negative", func(t *testing.T) {
		_, err := (&Memory{ram: mockRAM(1)}).CheckArena(-1)
		require.Error(t, err)
	})
	t.Run("host", func(t *testing.T) {
		_, err := NewMemory().CheckArena(0)
		require.NoError(t, err)
	})
}
