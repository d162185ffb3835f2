// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package flashprog

import (
	"fmt"

	"github.com/rs/zerolog"
)

// EventLevel grades an event.
type EventLevel int

const (
	EventInfo EventLevel = iota
	EventWarn
	EventError
)

// Event is one human-readable diagnostic from a session. Sector is -1 when
// the event is not tied to a sector.
type Event struct {
	Message string
	Mode    OperationMode
	Sector  int
	Level   EventLevel
	Mask    ChannelMask
}

// EventSink receives session diagnostics. It is not part of the protocol.
type EventSink interface {
	Event(e Event)
}

// NopEventSink discards every event.
type NopEventSink struct{}

// Event implements EventSink.
func (NopEventSink) Event(Event) {}

// LogEventSink writes events to a zerolog logger.
type LogEventSink struct {
	logger zerolog.Logger
}

// NewLogEventSink returns a sink writing to logger.
func NewLogEventSink(logger zerolog.Logger) *LogEventSink {
	return &LogEventSink{logger: logger}
}

// Event implements EventSink.
func (s *LogEventSink) Event(e Event) {
	var ev *zerolog.Event
	switch e.Level {
	case EventWarn:
		ev = s.logger.Warn()
	case EventError:
		ev = s.logger.Error()
	default:
		ev = s.logger.Info()
	}
	ev = ev.Str("mode", e.Mode.String())
	if e.Sector >= 0 {
		ev = ev.Int("sector", e.Sector)
	}
	if e.Mask != 0 {
		ev = ev.Str("channels", e.Mask.String())
	}
	ev.Msg(e.Message)
}

// emit sends a formatted event and mirrors it into the debug log.
func (s *Session) emit(level EventLevel, sector int, mask ChannelMask, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Debugf("[%s] %s", s.mode, msg)
	s.events.Event(Event{Level: level, Mode: s.mode, Sector: sector, Mask: mask, Message: msg})
}
