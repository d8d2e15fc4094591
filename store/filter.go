// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"

	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/topics"
)

// Filter describes one history query. All set fields are AND-combined;
// zero-valued fields impose no constraint. A Filter is built per call
// and never retained by the store.
type Filter struct {
	// Topic is an exact topic, a topic prefix, or an MQTT wildcard
	// pattern, compiled per topics.Compile semantics.
	Topic string

	// Payload is a case-insensitive token query against payload text.
	Payload string

	// Start and End bound the record timestamp in milliseconds,
	// inclusive. Zero means unbounded.
	Start int64
	End   int64

	// QoS restricts to one QoS level when non-nil.
	QoS *byte

	// Retained restricts to the retained flag when non-nil.
	Retained *bool

	// ConnectionID restricts to records from one broker connection.
	ConnectionID string

	// UserPropertyKey/Value restrict on a user property. A key with an
	// empty value matches any record carrying that key.
	UserPropertyKey   string
	UserPropertyValue string

	// Limit caps the result count when non-nil; an explicit zero yields
	// no results. Offset skips that many records from the head of the
	// ordered result first.
	Limit  *int
	Offset int
}

// LimitN is a convenience for building filters with a literal limit.
func LimitN(n int) *int { return &n }

// Validate rejects malformed filters before any query executes.
func (f Filter) Validate() error {
	if f.Start != 0 && f.End != 0 && f.Start > f.End {
		return fmt.Errorf("%w: start %d after end %d", ErrInvalidFilter, f.Start, f.End)
	}
	if f.Limit != nil && *f.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidFilter, *f.Limit)
	}
	if f.Offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidFilter, f.Offset)
	}
	if f.Topic != "" && topics.HasWildcard(f.Topic) {
		if err := topics.ValidateFilter(f.Topic); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
	}
	if f.QoS != nil && *f.QoS > 2 {
		return fmt.Errorf("%w: qos %d out of range", ErrInvalidFilter, *f.QoS)
	}
	return nil
}

// Compile resolves the filter into a per-record predicate covering every
// constraint except the payload token query, which backends resolve
// through their full-text index. The topic pattern is compiled once, not
// per record.
func (f Filter) Compile() func(*record.Record) bool {
	topicPred := topics.Compile(f.Topic)

	return func(r *record.Record) bool {
		if !topicPred(r.Topic) {
			return false
		}
		if f.Start != 0 && r.Timestamp < f.Start {
			return false
		}
		if f.End != 0 && r.Timestamp > f.End {
			return false
		}
		if f.QoS != nil && r.QoS != *f.QoS {
			return false
		}
		if f.Retained != nil && r.Retained != *f.Retained {
			return false
		}
		if f.ConnectionID != "" && r.ConnectionID != f.ConnectionID {
			return false
		}
		if f.UserPropertyKey != "" {
			v, ok := r.UserProperties[f.UserPropertyKey]
			if !ok {
				return false
			}
			if f.UserPropertyValue != "" && v != f.UserPropertyValue {
				return false
			}
		}
		return true
	}
}
