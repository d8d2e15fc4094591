// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/store"
	"github.com/mqlens/mqlens/store/memory"
)

func rec(id, topic, payload string, ts int64) *record.Record {
	return &record.Record{
		ID:        id,
		Topic:     topic,
		Payload:   []byte(payload),
		Timestamp: ts,
	}
}

func seedThree(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, rec("100-a", "sensors/kitchen/temp", "21.5", 100)))
	require.NoError(t, s.Append(ctx, rec("200-b", "sensors/kitchen/humidity", "60", 200)))
	require.NoError(t, s.Append(ctx, rec("300-c", "garage/door", "open", 300)))
	return s
}

func TestSearchOrdering(t *testing.T) {
	s := seedThree(t)
	defer s.Close()

	recs, err := s.Search(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Newest first.
	assert.Equal(t, "300-c", recs[0].ID)
	assert.Equal(t, "200-b", recs[1].ID)
	assert.Equal(t, "100-a", recs[2].ID)
}

func TestSearchOutOfOrderAppend(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, rec("300-c", "a", "x", 300)))
	require.NoError(t, s.Append(ctx, rec("100-a", "a", "x", 100)))
	require.NoError(t, s.Append(ctx, rec("200-b", "a", "x", 200)))

	recs, err := s.Search(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "300-c", recs[0].ID)
	assert.Equal(t, "100-a", recs[2].ID)
}

func TestSearchTopicSemantics(t *testing.T) {
	s := seedThree(t)
	defer s.Close()
	ctx := context.Background()

	tests := []struct {
		topic string
		want  int
	}{
		{"sensors", 2},                 // prefix
		{"sensors/kitchen", 2},         // deeper prefix
		{"sensors/kitchen/temp", 1},    // exact
		{"sensors/kit", 0},             // partial level never matches
		{"sensors/+/temp", 1},          // single-level wildcard
		{"sensors/#", 2},               // multi-level wildcard
		{"#", 3},                       // everything
		{"garage", 1},
		{"", 3},
	}

	for _, tt := range tests {
		recs, err := s.Search(ctx, store.Filter{Topic: tt.topic})
		require.NoError(t, err, tt.topic)
		assert.Len(t, recs, tt.want, "topic %q", tt.topic)
	}
}

func TestSearchMultiLevelMatchesParent(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, rec("1-a", "a", "x", 1)))
	require.NoError(t, s.Append(ctx, rec("2-b", "a/b", "x", 2)))
	require.NoError(t, s.Append(ctx, rec("3-c", "a/b/c", "x", 3)))
	require.NoError(t, s.Append(ctx, rec("4-d", "ab", "x", 4)))

	recs, err := s.Search(ctx, store.Filter{Topic: "a/#"})
	require.NoError(t, err)
	// "a/#" covers "a" itself but never "ab".
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.NotEqual(t, "ab", r.Topic)
	}
}

func TestSearchTimeRange(t *testing.T) {
	s := seedThree(t)
	defer s.Close()
	ctx := context.Background()

	recs, err := s.Search(ctx, store.Filter{Start: 150, End: 250})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "200-b", recs[0].ID)

	// Bounds are inclusive.
	recs, err = s.Search(ctx, store.Filter{Start: 200, End: 200})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	recs, err = s.Search(ctx, store.Filter{Start: 301})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSearchPayloadTokens(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, rec("1-a", "a", `{"state":"ON","level":42}`, 1)))
	require.NoError(t, s.Append(ctx, rec("2-b", "a", "Temperature high", 2)))
	require.NoError(t, s.Append(ctx, &record.Record{
		ID: "3-c", Topic: "a", Payload: []byte{0xff, 0xfe}, Timestamp: 3,
	}))

	tests := []struct {
		query string
		want  []string
	}{
		{"state", []string{"1-a"}},
		{"STATE on", []string{"1-a"}},   // case-insensitive, AND
		{"temp", []string{"2-b"}},       // token prefix
		{"temperature low", nil},        // one token missing
		{"42", []string{"1-a"}},
	}

	for _, tt := range tests {
		recs, err := s.Search(ctx, store.Filter{Payload: tt.query})
		require.NoError(t, err, tt.query)
		ids := make([]string, 0, len(recs))
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		if tt.want == nil {
			assert.Empty(t, ids, "query %q", tt.query)
		} else {
			assert.Equal(t, tt.want, ids, "query %q", tt.query)
		}
	}
}

func TestSearchLimitOffset(t *testing.T) {
	s := seedThree(t)
	defer s.Close()
	ctx := context.Background()

	recs, err := s.Search(ctx, store.Filter{Limit: store.LimitN(2)})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "300-c", recs[0].ID)

	recs, err = s.Search(ctx, store.Filter{Limit: store.LimitN(2), Offset: 1})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "200-b", recs[0].ID)

	// Explicit zero limit yields nothing.
	recs, err = s.Search(ctx, store.Filter{Limit: store.LimitN(0)})
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = s.Search(ctx, store.Filter{Limit: store.LimitN(-1)})
	assert.ErrorIs(t, err, store.ErrInvalidFilter)
}

func TestDelete(t *testing.T) {
	s := seedThree(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "200-b"))
	assert.ErrorIs(t, s.Delete(ctx, "200-b"), store.ErrNotFound)

	recs, err := s.Search(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestDeleteWhere(t *testing.T) {
	s := seedThree(t)
	defer s.Close()
	ctx := context.Background()

	n, err := s.DeleteWhere(ctx, store.Filter{Topic: "sensors"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := s.Search(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "garage/door", recs[0].Topic)
}

func TestDeleteOlderThan(t *testing.T) {
	s := seedThree(t)
	defer s.Close()
	ctx := context.Background()

	n, err := s.DeleteOlderThan(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMessages)

	recs, err := s.Search(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "300-c", recs[0].ID)
}

func TestTrimToCount(t *testing.T) {
	s := seedThree(t)
	defer s.Close()
	ctx := context.Background()

	n, err := s.TrimToCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Oldest went first.
	recs, err := s.Search(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "300-c", recs[0].ID)
	assert.Equal(t, "200-b", recs[1].ID)

	// Already within bounds: no-op.
	n, err = s.TrimToCount(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClear(t *testing.T) {
	s := seedThree(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx)) // idempotent

	recs, err := s.Search(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalMessages)
	assert.Zero(t, stats.TotalBytes)
}

func TestStats(t *testing.T) {
	s := seedThree(t)
	defer s.Close()

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalMessages)
	assert.Equal(t, int64(len("21.5")+len("60")+len("open")), stats.TotalBytes)
	assert.Equal(t, int64(3), stats.DistinctTopics)
	assert.Len(t, stats.TopTopics, 3)
}

func TestClosed(t *testing.T) {
	s := seedThree(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent
	ctx := context.Background()

	assert.ErrorIs(t, s.Append(ctx, rec("9-z", "a", "x", 9)), store.ErrClosed)
	_, err := s.Search(ctx, store.Filter{})
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = s.Stats(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestConcurrentAppendSearch(t *testing.T) {
	s := memory.New()
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				ts := int64(w*1000 + i)
				r := rec(fmt.Sprintf("%d-%d", ts, w), fmt.Sprintf("load/%d", w), "x", ts)
				assert.NoError(t, s.Append(ctx, r))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 50 {
			_, err := s.Search(ctx, store.Filter{Topic: "load"})
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	recs, err := s.Search(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 400)
}
