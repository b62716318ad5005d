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

// Package export reads and writes the synchronized output artifacts.
package export

// Frame artifact, one file per video frame.
//   width  uint32
//   height uint32
//   count  uint32
//   pixels [width*height*3]byte // RGB24, row major.
//   events [count]record
//
// Event stream artifact, every event of a log.
//   events []record
//   width  uint16
//   height uint16
//   count  uint32
//
// record { // 8 bytes.
//   millis   uint24 // Relative to the first event.
//   x        uint16
//   y        uint16
//   polarity uint8
// }
//
// All integers are little-endian.
