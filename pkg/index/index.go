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

// Package index records exported windows in a bbolt database.
package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// database layout {
//   runs {
//     <run id>: Run
//   }
//   <run id> {
//     <frame index u64 big-endian>: Window
//   }
// }

var runsBucket = []byte("runs")

// Run one synchronizer run.
type Run struct {
	ID      uuid.UUID `json:"-"`
	Log     string    `json:"log"`
	Video   string    `json:"video"`
	Prefix  string    `json:"prefix"`
	Started time.Time `json:"started"`
}

// Window one exported window.
type Window struct {
	Frame   int    `json:"frame"`
	FrameMs int64  `json:"frameMs"`
	Events  int    `json:"events"`
	FirstMs int64  `json:"firstMs"`
	LastMs  int64  `json:"lastMs"`
	Path    string `json:"path"`
}

// ErrUnknownRun run id is not in the index.
var ErrUnknownRun = errors.New("unknown run")

// DB window index.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the index at path.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open index: %w: %v", err, path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &DB{db: db}, nil
}

// Close database.
func (d *DB) Close() error {
	return d.db.Close()
}

// NewRun stores a run with a random id.
func (d *DB) NewRun(log, video, prefix string, started time.Time) (*Run, error) {
	run := &Run{
		ID:      uuid.New(),
		Log:     log,
		Video:   video,
		Prefix:  prefix,
		Started: started.UTC(),
	}
	value, err := json.Marshal(run)
	if err != nil {
		return nil, err
	}

	err = d.db.Update(func(tx *bolt.Tx) error {
		key := []byte(run.ID.String())
		if err := tx.Bucket(runsBucket).Put(key, value); err != nil {
			return err
		}
		_, err := tx.CreateBucket(key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}
	return run, nil
}

// PutWindow stores w under run, replacing a window with the same index.
func (d *DB) PutWindow(run uuid.UUID, w Window) error {
	value, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(run.String()))
		if b == nil {
			return fmt.Errorf("%w: %v", ErrUnknownRun, run)
		}
		return b.Put(encodeKey(uint64(w.Frame)), value)
	})
}

// Windows returns the windows of run in frame order.
func (d *DB) Windows(run uuid.UUID) ([]Window, error) {
	var windows []Window
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(run.String()))
		if b == nil {
			return fmt.Errorf("%w: %v", ErrUnknownRun, run)
		}
		return b.ForEach(func(_, value []byte) error {
			var w Window
			if err := json.Unmarshal(value, &w); err != nil {
				return fmt.Errorf("unmarshal window: %w", err)
			}
			windows = append(windows, w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return windows, nil
}

// Runs returns every stored run ordered by start time.
func (d *DB) Runs() ([]Run, error) {
	var runs []Run
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).ForEach(func(key, value []byte) error {
			var run Run
			if err := json.Unmarshal(value, &run); err != nil {
				return fmt.Errorf("unmarshal run: %w", err)
			}
			id, err := uuid.ParseBytes(key)
			if err != nil {
				return fmt.Errorf("parse run id: %w", err)
			}
			run.ID = id
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Started.Before(runs[j].Started)
	})
	return runs, nil
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}
