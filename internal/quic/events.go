// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quic

import (
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind names one traceable connection event (spec §9 "replacing
// macro-heavy tracing": a structured event API with an enum for event
// kind and a tagged argument pack, in place of the source's trace
// macros).
type EventKind int

const (
	EventPacketReceived EventKind = iota
	EventPacketSent
	EventPacketDropped
	EventKeysInstalled
	EventHandshakeStarted
	EventHandshakeConfirmed
	EventDraining
	EventIdleTimeout
	EventClosed
	EventTLSAlert
)

func (k EventKind) String() string {
	switch k {
	case EventPacketReceived:
		return "packet_received"
	case EventPacketSent:
		return "packet_sent"
	case EventPacketDropped:
		return "packet_dropped"
	case EventKeysInstalled:
		return "keys_installed"
	case EventHandshakeStarted:
		return "handshake_started"
	case EventHandshakeConfirmed:
		return "handshake_confirmed"
	case EventDraining:
		return "draining"
	case EventIdleTimeout:
		return "idle_timeout"
	case EventClosed:
		return "closed"
	case EventTLSAlert:
		return "tls_alert"
	default:
		return "unknown"
	}
}

// Event is one tagged, timestamped occurrence emitted by a Conn. Fields
// beyond Kind/Time are filled in only as relevant to that kind, mirroring
// the source's variadic trace-macro argument packs as a small struct of
// optional fields instead (spec §9).
type Event struct {
	Kind  EventKind
	Time  time.Time
	Level encLevel
	Space numberSpace
	PN    packetNumber
	Size  int
	Code  uint64
	Err   error
}

// EventSink receives Events emitted by a Conn. Test code subscribes to
// the event stream by installing an EventSink that records events for
// later assertions (spec §9 "test code should be able to subscribe to
// the event stream").
type EventSink interface {
	Emit(Event)
}

// nopEventSink discards every event; the default for connections that
// don't need tracing.
type nopEventSink struct{}

func (nopEventSink) Emit(Event) {}

// logrusEventSink adapts the event stream onto a *logrus.Entry
// (SPEC_FULL.md §10.1), used by cmd/quicd.
type logrusEventSink struct {
	log *logrus.Entry
}

// NewLogrusEventSink returns an EventSink that logs every connection
// event through log at debug level, for use as Config.Events.
func NewLogrusEventSink(log *logrus.Entry) EventSink {
	return logrusEventSink{log: log}
}

func (s logrusEventSink) Emit(e Event) {
	entry := s.log.WithField("event", e.Kind.String())
	if e.PN != 0 {
		entry = entry.WithField("pn", int64(e.PN))
	}
	if e.Size != 0 {
		entry = entry.WithField("size", e.Size)
	}
	if e.Code != 0 {
		entry = entry.WithField("code", e.Code)
	}
	if e.Err != nil {
		entry = entry.WithField("err", e.Err.Error())
	}
	entry.Debug("quic event")
}

// recordingEventSink collects events in memory, used by tests in place
// of the source's ability to replay a trace log.
type recordingEventSink struct {
	events []Event
}

func (s *recordingEventSink) Emit(e Event) {
	s.events = append(s.events, e)
}
