// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package store defines the message history store contract: durable,
// indexed, full-text-searchable storage of message records with
// retention and statistics.
package store

import (
	"context"
	"errors"

	"github.com/mqlens/mqlens/record"
)

// Common errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidFilter = errors.New("invalid filter")
	ErrCorruptIndex  = errors.New("search index corrupted")
	ErrClosed        = errors.New("store is closed")
)

// MessageStore is the durable repository of message records. Records are
// immutable once appended; deletion is the only mutation. Implementations
// must support one writer concurrent with many readers, each read seeing
// a consistent snapshot as of its own start.
type MessageStore interface {
	// Append persists one record and indexes its payload for full-text
	// search. A payload that cannot be tokenized is still stored, with
	// text search degraded for that record only.
	Append(ctx context.Context, r *record.Record) error

	// Search returns records satisfying every predicate of the filter,
	// ordered by timestamp descending. A wildcard topic filter is
	// compiled into a topic predicate; a payload query is resolved via
	// the full-text index, never by scanning every row.
	Search(ctx context.Context, f Filter) ([]*record.Record, error)

	// Delete removes a single record by ID.
	Delete(ctx context.Context, id string) error

	// DeleteWhere removes all records matching the filter and returns
	// the count removed.
	DeleteWhere(ctx context.Context, f Filter) (int, error)

	// DeleteOlderThan removes all records with Timestamp < tsMs and
	// returns the count removed.
	DeleteOlderThan(ctx context.Context, tsMs int64) (int, error)

	// TrimToCount removes the oldest records until at most max remain,
	// returning the count removed.
	TrimToCount(ctx context.Context, max int) (int, error)

	// Clear removes all records. Idempotent.
	Clear(ctx context.Context) error

	// Stats recomputes statistics from the current stored state. Results
	// are never cached across calls.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases the underlying storage.
	Close() error
}

// TopicCount is one entry of the topic distribution.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int64  `json:"count"`
}

// Stats is a point-in-time aggregate over the stored history.
type Stats struct {
	TotalMessages     int64        `json:"totalMessages"`
	TotalBytes        int64        `json:"totalBytes"`
	DistinctTopics    int64        `json:"distinctTopics"`
	TopTopics         []TopicCount `json:"topTopics"`
	MessagesPerSecond float64      `json:"messagesPerSecond"` // trailing 60s window
}
