// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package record defines the message record type persisted by the
// history store and the codec used for its on-disk representation.
package record

import (
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is one MQTT message as seen by the client. It is immutable
// once created; the store deletes records but never rewrites them.
type Record struct {
	ID             string            `msgpack:"id" json:"id"`
	Topic          string            `msgpack:"topic" json:"topic"`
	Payload        []byte            `msgpack:"payload" json:"-"`
	QoS            byte              `msgpack:"qos" json:"qos"`
	Retained       bool              `msgpack:"retained" json:"retained"`
	Timestamp      int64             `msgpack:"ts" json:"timestamp"` // milliseconds since epoch
	ConnectionID   string            `msgpack:"conn,omitempty" json:"connectionId,omitempty"`
	UserProperties map[string]string `msgpack:"props,omitempty" json:"userProperties,omitempty"`
}

// New builds a record for an inbound publish, assigning the ID and
// ingestion timestamp. IDs are process-unique and never reused.
func New(topic string, payload []byte, qos byte, retained bool, connectionID string) *Record {
	now := time.Now().UnixMilli()
	return &Record{
		ID:           NewID(now),
		Topic:        topic,
		Payload:      payload,
		QoS:          qos,
		Retained:     retained,
		Timestamp:    now,
		ConnectionID: connectionID,
	}
}

// NewID returns a process-unique record ID: the millisecond timestamp
// followed by a random suffix. The timestamp prefix keeps IDs roughly
// sortable by arrival, the suffix disambiguates same-millisecond arrivals.
func NewID(tsMs int64) string {
	return fmt.Sprintf("%d-%s", tsMs, uuid.NewString()[:8])
}

// Encode serializes a record to its msgpack wire form.
func Encode(r *Record) ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	return data, nil
}

// Decode deserializes a record from its msgpack wire form.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

// Time returns the record timestamp as a time.Time.
func (r *Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// PayloadString renders the payload in a display-safe form: valid UTF-8
// passes through unchanged, anything else is base64-encoded. Presentation
// boundaries must never receive raw binary.
func (r *Record) PayloadString() string {
	if utf8.Valid(r.Payload) {
		return string(r.Payload)
	}
	return base64.StdEncoding.EncodeToString(r.Payload)
}

// Flat is the export form of a record: the payload rendered as a string
// and the timestamp duplicated as an ISO-8601 datetime.
type Flat struct {
	ID             string            `json:"id"`
	Topic          string            `json:"topic"`
	Payload        string            `json:"payload"`
	QoS            byte              `json:"qos"`
	Retained       bool              `json:"retained"`
	Timestamp      int64             `json:"timestamp"`
	DateTime       string            `json:"datetime"`
	ConnectionID   string            `json:"connectionId,omitempty"`
	UserProperties map[string]string `json:"userProperties,omitempty"`
}

// Flatten converts a record to its export form.
func (r *Record) Flatten() Flat {
	return Flat{
		ID:             r.ID,
		Topic:          r.Topic,
		Payload:        r.PayloadString(),
		QoS:            r.QoS,
		Retained:       r.Retained,
		Timestamp:      r.Timestamp,
		DateTime:       r.Time().UTC().Format(time.RFC3339Nano),
		ConnectionID:   r.ConnectionID,
		UserProperties: r.UserProperties,
	}
}
