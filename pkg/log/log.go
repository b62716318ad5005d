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

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// ErrInvalidLevel unknown level name.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel converts a level name into a Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
}

// UnixMillisecond .
type UnixMillisecond uint64

// Event defines log event.
type Event struct {
	level Level
	time  UnixMillisecond // Timestamp.
	src   string          // Source.

	logger *Logger
}

// Log defines log entry.
type Log struct {
	Level Level
	Time  UnixMillisecond // Timestamp.
	Msg   string          // Message.
	Src   string          // Source.
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMillisecond(t.UnixNano() / int64(time.Millisecond))
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	e.logger.feed(Log{
		Time:  e.time,
		Level: e.level,
		Msg:   msg,
		Src:   e.src,
	})
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Sink receives every log at or below the logger level.
type Sink func(Log)

// Logger logs. A nil Logger discards everything.
type Logger struct {
	level Level

	mu     sync.Mutex
	subs   map[int]Sink
	nextID int
}

// NewLogger returns a logger that drops logs above level.
func NewLogger(level Level) *Logger {
	return &Logger{
		level: level,
		subs:  map[int]Sink{},
	}
}

// NewMockLogger used for testing.
func NewMockLogger() *Logger {
	return NewLogger(LevelDebug)
}

func (l *Logger) feed(log Log) {
	if l == nil || log.Level > l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sink := range l.subs {
		sink(log)
	}
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe attaches sink to the logger. Sinks are called
// synchronously and in no particular order.
func (l *Logger) Subscribe(sink Sink) CancelFunc {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = sink
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// LogToWriter prints the log feed to w until the returned func is called.
func (l *Logger) LogToWriter(w io.Writer) CancelFunc {
	return l.Subscribe(func(log Log) {
		fmt.Fprintln(w, FormatLog(log))
	})
}

// FormatLog formats log as a single line without trailing newline.
func FormatLog(log Log) string {
	var output string

	switch log.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if log.Src != "" {
		output += strings.ToUpper(log.Src[:1]) + log.Src[1:] + ": "
	}

	output += log.Msg
	return output
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return l.Level(LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return l.Level(LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return l.Level(LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return l.Level(LevelDebug)
}

// Level starts a new message with the given level.
func (l *Logger) Level(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMillisecond(time.Now().UnixNano() / int64(time.Millisecond)),
		logger: l,
	}
}
