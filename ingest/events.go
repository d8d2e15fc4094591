// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/mqlens/mqlens/record"
)

// Event type constants.
const (
	TypeMessageStored  = "message.stored"
	TypeTreeUpdated    = "tree.updated"
	TypeStoreError     = "store.error"
	TypeHistoryCleared = "history.cleared"
	TypeSessionReset   = "session.reset"
)

// Event is one notification pushed to presentation-layer subscribers.
type Event struct {
	Type      string         `json:"type"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Record    *record.Flat   `json:"record,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func newEvent(eventType string) Event {
	return Event{
		Type:      eventType,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// messageStored wraps a freshly ingested record. The flattened form is
// used so raw binary payloads never cross the presentation boundary.
func messageStored(r *record.Record) Event {
	e := newEvent(TypeMessageStored)
	flat := r.Flatten()
	e.Record = &flat
	return e
}

func treeUpdated() Event {
	return newEvent(TypeTreeUpdated)
}

func storeError(err error) Event {
	e := newEvent(TypeStoreError)
	e.Error = err.Error()
	return e
}

func historyCleared() Event {
	return newEvent(TypeHistoryCleared)
}

func sessionReset() Event {
	return newEvent(TypeSessionReset)
}
