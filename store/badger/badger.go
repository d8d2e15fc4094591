// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package badger implements the durable message store on BadgerDB. A
// single LSM keyspace holds the records, a reverse ID index, an inverted
// full-text token index over payloads, and aggregate counters.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/store"
	"github.com/mqlens/mqlens/topics"
)

const (
	// deleteBatch bounds the size of one delete transaction so bulk
	// retention passes never exceed badger's transaction limits.
	deleteBatch = 512

	// cancelCheckEvery is how often long iterations poll ctx.
	cancelCheckEvery = 256

	// conflictRetries bounds retries of a read-modify-write transaction
	// that lost badger's conflict detection to a concurrent commit.
	conflictRetries = 8

	gcInterval     = 10 * time.Minute
	gcDiscardRatio = 0.5
)

// Store implements store.MessageStore using BadgerDB.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	ownsDB bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open opens (or creates) a badger-backed store at dir. The returned
// store owns the database and runs value-log GC in the background until
// Close.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open message store at %s: %w", dir, err)
	}
	s := New(db, logger)
	s.ownsDB = true
	s.wg.Add(1)
	go s.gcLoop()
	return s, nil
}

// New wraps an existing badger DB. The caller keeps ownership of db.
func New(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// gcLoop reclaims value-log space off the hot path. Badger returns
// ErrNoRewrite when there is nothing to collect, which is not an error.
func (s *Store) gcLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log gc failed", "error", err)
			}
		}
	}
}

// update runs fn in a read-write transaction, retrying on commit
// conflicts. Appends and retention deletes both adjust the shared
// counters, so their transactions collide under concurrent load; each
// retry re-reads the counters from a fresh snapshot.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) Append(ctx context.Context, r *record.Record) error {
	if err := topics.ValidateTopicName(r.Topic); err != nil {
		return fmt.Errorf("append %s: %w", r.ID, err)
	}

	data, err := record.Encode(r)
	if err != nil {
		return err
	}

	key := msgKey(r.Timestamp, r.ID)

	// Tokenization failure (binary payload) degrades search for this
	// record only; the record is still stored.
	tokens, _ := store.Tokenize(r.Payload)

	err = s.update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set(idKey(r.ID), key); err != nil {
			return err
		}
		for _, tok := range tokens {
			if err := txn.Set(tokenKey(tok, r.Timestamp, r.ID), nil); err != nil {
				return err
			}
		}
		if err := addCounter(txn, totalKey, 1); err != nil {
			return err
		}
		if err := addCounter(txn, bytesKey, int64(len(r.Payload))); err != nil {
			return err
		}
		return addCounter(txn, string(topicKey(r.Topic)), 1)
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, f store.Filter) ([]*record.Record, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if f.Limit != nil && *f.Limit == 0 {
		return []*record.Record{}, nil
	}

	queryTokens := store.QueryTokens(f.Payload)
	if len(queryTokens) > 0 {
		return s.searchIndexed(ctx, f, queryTokens)
	}
	return s.searchScan(ctx, f)
}

// searchScan walks message keys newest-first, bounded by the filter's
// time range via key seeks. Each call runs in its own read transaction,
// so it sees a consistent snapshot as of its start.
func (s *Store) searchScan(ctx context.Context, f store.Filter) ([]*record.Record, error) {
	pred := f.Compile()
	results := make([]*record.Record, 0)
	skipped := 0
	visited := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(msgPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the upper time bound. 0xff sorts
		// after every hex digit, covering all IDs within the bound.
		seek := []byte(msgPrefix + "\xff")
		if f.End != 0 {
			seek = append(msgKey(f.End, ""), 0xff)
		}

		for it.Seek(seek); it.Valid(); it.Next() {
			visited++
			if visited%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			if f.Start != 0 {
				ts, err := msgKeyTimestamp(item.Key())
				if err != nil {
					return fmt.Errorf("%w: %v", store.ErrCorruptIndex, err)
				}
				if ts < f.Start {
					break
				}
			}

			var r *record.Record
			err := item.Value(func(val []byte) error {
				var derr error
				r, derr = record.Decode(val)
				return derr
			})
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrCorruptIndex, err)
			}

			if !pred(r) {
				continue
			}
			if skipped < f.Offset {
				skipped++
				continue
			}
			results = append(results, r)
			if f.Limit != nil && len(results) >= *f.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// searchIndexed resolves a payload query through the inverted token
// index: each query token yields a candidate set via a key-only prefix
// scan (matching stored tokens by prefix), the sets are intersected, and
// only surviving records are loaded and run through the remaining
// predicates.
func (s *Store) searchIndexed(ctx context.Context, f store.Filter, queryTokens []string) ([]*record.Record, error) {
	var candidates map[string]struct{}

	err := s.db.View(func(txn *badger.Txn) error {
		for _, tok := range queryTokens {
			refs, err := s.scanToken(ctx, txn, tok, f)
			if err != nil {
				return err
			}
			if candidates == nil {
				candidates = refs
				continue
			}
			for ref := range candidates {
				if _, ok := refs[ref]; !ok {
					delete(candidates, ref)
				}
			}
			if len(candidates) == 0 {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []*record.Record{}, nil
	}

	// Newest first: refs start with the ordered hex timestamp.
	ordered := make([]string, 0, len(candidates))
	for ref := range candidates {
		ordered = append(ordered, ref)
	}
	sortRefsDescending(ordered)

	pred := f.Compile()
	results := make([]*record.Record, 0)
	skipped := 0

	err = s.db.View(func(txn *badger.Txn) error {
		for i, ref := range ordered {
			if i%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			item, err := txn.Get([]byte(msgPrefix + ref))
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Token entry outlived its record; skip, repaired by
				// the next retention pass.
				continue
			}
			if err != nil {
				return err
			}
			var r *record.Record
			if err := item.Value(func(val []byte) error {
				var derr error
				r, derr = record.Decode(val)
				return derr
			}); err != nil {
				return fmt.Errorf("%w: %v", store.ErrCorruptIndex, err)
			}
			if !pred(r) {
				continue
			}
			if skipped < f.Offset {
				skipped++
				continue
			}
			results = append(results, r)
			if f.Limit != nil && len(results) >= *f.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// scanToken collects "ts:id" references for every stored token with the
// given prefix, pruned by the filter's time range. Key-only iteration:
// token entries carry no values.
func (s *Store) scanToken(ctx context.Context, txn *badger.Txn, token string, f store.Filter) (map[string]struct{}, error) {
	refs := make(map[string]struct{})

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(tokenPrefix + token)

	it := txn.NewIterator(opts)
	defer it.Close()

	visited := 0
	for it.Rewind(); it.Valid(); it.Next() {
		visited++
		if visited%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		ref, ok := tokenKeyRef(it.Item().Key())
		if !ok {
			return nil, fmt.Errorf("%w: malformed token key %q", store.ErrCorruptIndex, it.Item().Key())
		}
		if f.Start != 0 || f.End != 0 {
			ts, err := refTimestamp(ref)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", store.ErrCorruptIndex, err)
			}
			if f.Start != 0 && ts < f.Start {
				continue
			}
			if f.End != 0 && ts > f.End {
				continue
			}
		}
		refs[ref] = struct{}{}
	}
	return refs, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var key []byte
		if err := item.Value(func(val []byte) error {
			key = append([]byte(nil), val...)
			return nil
		}); err != nil {
			return err
		}

		mi, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		var r *record.Record
		if err := mi.Value(func(val []byte) error {
			var derr error
			r, derr = record.Decode(val)
			return derr
		}); err != nil {
			return fmt.Errorf("%w: %v", store.ErrCorruptIndex, err)
		}
		return s.deleteRecord(txn, key, r)
	})
}

// deleteRecord removes a record and all of its index entries inside an
// open transaction, keeping the counters in step.
func (s *Store) deleteRecord(txn *badger.Txn, key []byte, r *record.Record) error {
	if err := txn.Delete(key); err != nil {
		return err
	}
	if err := txn.Delete(idKey(r.ID)); err != nil {
		return err
	}
	if tokens, ok := store.Tokenize(r.Payload); ok {
		for _, tok := range tokens {
			if err := txn.Delete(tokenKey(tok, r.Timestamp, r.ID)); err != nil {
				return err
			}
		}
	}
	if err := addCounter(txn, totalKey, -1); err != nil {
		return err
	}
	if err := addCounter(txn, bytesKey, -int64(len(r.Payload))); err != nil {
		return err
	}
	return decrementTopic(txn, r.Topic)
}

func (s *Store) DeleteWhere(ctx context.Context, f store.Filter) (int, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}

	// Deletion reuses the search path so filter interpretation cannot
	// drift, then removes in bounded batches.
	scan := f
	scan.Limit = nil
	scan.Offset = 0
	matches, err := s.Search(ctx, scan)
	if err != nil {
		return 0, err
	}
	return s.deleteAll(ctx, matches)
}

func (s *Store) DeleteOlderThan(ctx context.Context, tsMs int64) (int, error) {
	removed := 0
	for {
		batch, err := s.oldestBatch(ctx, tsMs, deleteBatch)
		if err != nil {
			return removed, err
		}
		if len(batch) == 0 {
			return removed, nil
		}
		n, err := s.deleteAll(ctx, batch)
		removed += n
		if err != nil {
			return removed, err
		}
	}
}

func (s *Store) TrimToCount(ctx context.Context, max int) (int, error) {
	if max < 0 {
		max = 0
	}
	removed := 0
	for {
		total, err := s.counter(totalKey)
		if err != nil {
			return removed, err
		}
		excess := int(total) - max
		if excess <= 0 {
			return removed, nil
		}
		if excess > deleteBatch {
			excess = deleteBatch
		}
		batch, err := s.oldestBatch(ctx, 0, excess)
		if err != nil {
			return removed, err
		}
		if len(batch) == 0 {
			return removed, nil
		}
		n, err := s.deleteAll(ctx, batch)
		removed += n
		if err != nil {
			return removed, err
		}
	}
}

// oldestBatch returns up to limit records from the head of the keyspace,
// optionally bounded by an exclusive timestamp cutoff. The cutoff is
// evaluated against the key, so records appended after the caller
// computed it are never touched.
func (s *Store) oldestBatch(ctx context.Context, beforeMs int64, limit int) ([]*record.Record, error) {
	var batch []*record.Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(msgPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(batch) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			if beforeMs != 0 {
				ts, err := msgKeyTimestamp(item.Key())
				if err != nil {
					return fmt.Errorf("%w: %v", store.ErrCorruptIndex, err)
				}
				if ts >= beforeMs {
					break
				}
			}
			var r *record.Record
			if err := item.Value(func(val []byte) error {
				var derr error
				r, derr = record.Decode(val)
				return derr
			}); err != nil {
				return fmt.Errorf("%w: %v", store.ErrCorruptIndex, err)
			}
			batch = append(batch, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// deleteAll removes the given records in transaction-sized chunks.
func (s *Store) deleteAll(ctx context.Context, recs []*record.Record) (int, error) {
	removed := 0
	for start := 0; start < len(recs); start += deleteBatch {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		end := start + deleteBatch
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]
		err := s.update(func(txn *badger.Txn) error {
			for _, r := range chunk {
				if err := s.deleteRecord(txn, msgKey(r.Timestamp, r.ID), r); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed += len(chunk)
	}
	return removed, nil
}

func (s *Store) Clear(ctx context.Context) error {
	err := s.db.DropPrefix(
		[]byte(msgPrefix),
		[]byte(idPrefix),
		[]byte(tokenPrefix),
		[]byte(topicPrefix),
		[]byte("cnt:"),
	)
	if err != nil {
		return fmt.Errorf("clear message store: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (*store.Stats, error) {
	stats := &store.Stats{}

	total, err := s.counter(totalKey)
	if err != nil {
		return nil, err
	}
	stats.TotalMessages = total

	bytes, err := s.counter(bytesKey)
	if err != nil {
		return nil, err
	}
	stats.TotalBytes = bytes

	err = s.db.View(func(txn *badger.Txn) error {
		// Topic distribution from the per-topic counters.
		perTopic := make(map[string]int64)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(topicPrefix)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			topic := string(item.Key()[len(topicPrefix):])
			if err := item.Value(func(val []byte) error {
				if len(val) == 8 {
					perTopic[topic] = int64(binary.BigEndian.Uint64(val))
				}
				return nil
			}); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()
		stats.DistinctTopics = int64(len(perTopic))
		stats.TopTopics = store.TopN(perTopic, store.DefaultTopTopics)

		// Message rate over the trailing window, counted from keys only.
		now := time.Now().UnixMilli()
		windowStart := now - store.StatsWindowMillis
		wopts := badger.DefaultIteratorOptions
		wopts.PrefetchValues = false
		wopts.Prefix = []byte(msgPrefix)
		wit := txn.NewIterator(wopts)
		defer wit.Close()

		var inWindow int64
		for wit.Seek(msgKey(windowStart, "")); wit.Valid(); wit.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			inWindow++
		}
		stats.MessagesPerSecond = float64(inWindow) / 60.0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// counter reads an 8-byte counter, treating absence as zero.
func (s *Store) counter(key string) (int64, error) {
	var v int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				v = int64(binary.BigEndian.Uint64(val))
			}
			return nil
		})
	})
	return v, err
}

// addCounter adjusts an 8-byte counter inside an open transaction.
func addCounter(txn *badger.Txn, key string, delta int64) error {
	var v int64
	item, err := txn.Get([]byte(key))
	if err == nil {
		if err := item.Value(func(val []byte) error {
			if len(val) == 8 {
				v = int64(binary.BigEndian.Uint64(val))
			}
			return nil
		}); err != nil {
			return err
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	v += delta
	if v < 0 {
		v = 0
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return txn.Set([]byte(key), buf)
}

// decrementTopic decrements a per-topic counter, deleting the key once
// it reaches zero so DistinctTopics stays accurate.
func decrementTopic(txn *badger.Txn, topic string) error {
	key := topicKey(topic)
	var v int64
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := item.Value(func(val []byte) error {
		if len(val) == 8 {
			v = int64(binary.BigEndian.Uint64(val))
		}
		return nil
	}); err != nil {
		return err
	}
	v--
	if v <= 0 {
		return txn.Delete(key)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return txn.Set(key, buf)
}

// Close stops background work and, when the store owns the database,
// closes it.
func (s *Store) Close() error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
