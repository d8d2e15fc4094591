// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory message store. It is primarily
// for testing and development; the badger backend is the durable one.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/store"
)

// Store keeps records in a timestamp-ordered slice guarded by a RWMutex.
// Readers copy matching records out under the read lock, so every result
// is a consistent snapshot as of the call.
type Store struct {
	mu      sync.RWMutex
	records []*record.Record // ascending by (Timestamp, ID)
	byID    map[string]*record.Record
	tokens  map[string][]string // record ID -> indexed payload tokens
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		byID:   make(map[string]*record.Record),
		tokens: make(map[string][]string),
	}
}

func (s *Store) Append(ctx context.Context, r *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	// Insertion point keeps the slice ordered even when connections
	// interleave out of global timestamp order.
	i := s.insertionPoint(r)
	s.records = append(s.records, nil)
	copy(s.records[i+1:], s.records[i:])
	s.records[i] = r

	s.byID[r.ID] = r
	if tokens, ok := store.Tokenize(r.Payload); ok {
		s.tokens[r.ID] = tokens
	}
	return nil
}

func (s *Store) insertionPoint(r *record.Record) int {
	return sort.Search(len(s.records), func(i int) bool {
		if s.records[i].Timestamp != r.Timestamp {
			return s.records[i].Timestamp > r.Timestamp
		}
		return s.records[i].ID > r.ID
	})
}

func (s *Store) Search(ctx context.Context, f store.Filter) ([]*record.Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	pred := f.Compile()
	queryTokens := store.QueryTokens(f.Payload)

	results := make([]*record.Record, 0)
	if f.Limit != nil && *f.Limit == 0 {
		return results, nil
	}
	skipped := 0

	// Newest first.
	for i := len(s.records) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := s.records[i]
		if !pred(r) {
			continue
		}
		if len(queryTokens) > 0 && !store.TokensMatch(s.tokens[r.ID], queryTokens) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		results = append(results, r)
		if f.Limit != nil && len(results) >= *f.Limit {
			break
		}
	}
	return results, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.byID[id]; !ok {
		return store.ErrNotFound
	}
	for i, r := range s.records {
		if r.ID == id {
			s.removeAt(i)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) DeleteWhere(ctx context.Context, f store.Filter) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}

	pred := f.Compile()
	queryTokens := store.QueryTokens(f.Payload)

	kept := s.records[:0]
	removed := 0
	for _, r := range s.records {
		match := pred(r)
		if match && len(queryTokens) > 0 {
			match = store.TokensMatch(s.tokens[r.ID], queryTokens)
		}
		if match {
			delete(s.byID, r.ID)
			delete(s.tokens, r.ID)
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, tsMs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}

	// Records are ordered, so everything before the cut index goes.
	cut := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].Timestamp >= tsMs
	})
	for _, r := range s.records[:cut] {
		delete(s.byID, r.ID)
		delete(s.tokens, r.ID)
	}
	s.records = append(s.records[:0], s.records[cut:]...)
	return cut, nil
}

func (s *Store) TrimToCount(ctx context.Context, max int) (int, error) {
	if max < 0 {
		max = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	if len(s.records) <= max {
		return 0, nil
	}

	cut := len(s.records) - max
	for _, r := range s.records[:cut] {
		delete(s.byID, r.ID)
		delete(s.tokens, r.ID)
	}
	s.records = append(s.records[:0], s.records[cut:]...)
	return cut, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.records = nil
	s.byID = make(map[string]*record.Record)
	s.tokens = make(map[string][]string)
	return nil
}

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	stats := &store.Stats{TotalMessages: int64(len(s.records))}

	perTopic := make(map[string]int64)
	windowStart := time.Now().Add(-time.Minute).UnixMilli()
	var inWindow int64

	for _, r := range s.records {
		stats.TotalBytes += int64(len(r.Payload))
		perTopic[r.Topic]++
		if r.Timestamp >= windowStart {
			inWindow++
		}
	}

	stats.DistinctTopics = int64(len(perTopic))
	stats.TopTopics = store.TopN(perTopic, store.DefaultTopTopics)
	stats.MessagesPerSecond = float64(inWindow) / 60.0
	return stats, nil
}

func (s *Store) removeAt(i int) {
	r := s.records[i]
	delete(s.byID, r.ID)
	delete(s.tokens, r.ID)
	s.records = append(s.records[:i], s.records[i+1:]...)
}

// Close marks the store closed. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
