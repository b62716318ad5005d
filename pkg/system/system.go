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
	"fmt"

	"evsync/pkg/event"

	"github.com/shirou/gopsutil/v3/mem"
)

type ramFunc func() (*mem.VirtualMemoryStat, error)

// ErrArenaTooLarge event arena does not fit in available memory.
var ErrArenaTooLarge = errors.New("event buffer larger than available memory")

// Memory checks the host memory.
type Memory struct {
	ram ramFunc

	// Warn when the arena uses more than this fraction of available memory.
	WarnRatio float64
}

// NewMemory returns a Memory backed by the host.
func NewMemory() *Memory {
	return &Memory{
		ram:       mem.VirtualMemory,
		WarnRatio: 0.5,
	}
}

// ArenaStatus result of CheckArena.
type ArenaStatus struct {
	ArenaBytes     uint64
	AvailableBytes uint64
	Warn           bool
}

// CheckArena compares the size of an arena of maxEvents records
// with the available memory. An arena that exceeds it is an error.
func (m *Memory) CheckArena(maxEvents int) (ArenaStatus, error) {
	if maxEvents < 0 {
		return ArenaStatus{}, fmt.Errorf("negative max events: %d", maxEvents)
	}
	stat, err := m.ram()
	if err != nil {
		return ArenaStatus{}, fmt.Errorf("could not get ram usage %w", err)
	}

	status := ArenaStatus{
		ArenaBytes:     uint64(maxEvents) * event.RecordSize,
		AvailableBytes: stat.Available,
	}
	if status.ArenaBytes > status.AvailableBytes {
		return status, fmt.Errorf("%w: %d > %d bytes",
			ErrArenaTooLarge, status.ArenaBytes, status.AvailableBytes)
	}
	status.Warn = float64(status.ArenaBytes) > float64(status.AvailableBytes)*m.WarnRatio
	return status, nil
}
