// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ingest is the single choke point for every inbound message:
// each one is persisted to the store, absorbed into the topic tree, and
// then fanned out to subscribers, exactly once, in arrival order.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/store"
	"github.com/mqlens/mqlens/topics"
	"github.com/mqlens/mqlens/tree"
)

// subscriberBuffer is the default event channel depth per subscriber.
// A subscriber that falls further behind loses events rather than
// stalling ingestion.
const subscriberBuffer = 256

// Coordinator owns the store and tree instances for one session and
// guarantees both see the same record sequence. It is safe for use from
// one delivery goroutine concurrent with any number of readers.
type Coordinator struct {
	store   store.MessageStore
	tree    *tree.Tree
	logger  *slog.Logger
	metrics *Metrics

	// resetHistoryOnConnect controls whether ResetSession also wipes
	// the durable store. Default false: history persists across
	// reconnects, only the tree represents "current session" state.
	resetHistoryOnConnect bool

	mu      sync.Mutex
	subs    map[int]chan Event
	nextSub int
	dropped uint64
}

// Options configures a Coordinator.
type Options struct {
	// ResetHistoryOnConnect wipes the message store on every session
	// reset in addition to the tree. Off by default.
	ResetHistoryOnConnect bool

	// Metrics is optional instrumentation; nil disables it.
	Metrics *Metrics

	Logger *slog.Logger
}

// New creates a coordinator owning the given store and tree.
func New(st store.MessageStore, tr *tree.Tree, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:                 st,
		tree:                  tr,
		logger:                logger,
		metrics:               opts.Metrics,
		resetHistoryOnConnect: opts.ResetHistoryOnConnect,
		subs:                  make(map[int]chan Event),
	}
}

// Store exposes the coordinator's message store to query paths.
func (c *Coordinator) Store() store.MessageStore { return c.store }

// Search queries the store, observing latency when metrics are enabled.
func (c *Coordinator) Search(ctx context.Context, f store.Filter) ([]*record.Record, error) {
	start := time.Now()
	recs, err := c.store.Search(ctx, f)
	if c.metrics != nil {
		c.metrics.RecordSearch(ctx, time.Since(start).Seconds())
	}
	return recs, err
}

// Tree exposes the coordinator's topic tree to query paths.
func (c *Coordinator) Tree() *tree.Tree { return c.tree }

// OnMessage ingests one inbound publish. The record is built here, so ID
// and timestamp are assigned exactly once, then persisted and absorbed
// into the tree before any subscriber is notified.
//
// Store and tree are independent side effects, not a transaction: if the
// append fails the tree still absorbs the record, the divergence is
// logged and surfaced as a store.error event, and ingestion continues.
// One bad message must never halt the stream.
func (c *Coordinator) OnMessage(ctx context.Context, topic string, payload []byte, qos byte, retained bool, connectionID string) (*record.Record, error) {
	r := record.New(topic, payload, qos, retained, connectionID)

	appendErr := c.store.Append(ctx, r)
	c.tree.Absorb(r)

	if c.metrics != nil {
		c.metrics.RecordIngest(ctx, r, appendErr)
	}

	if appendErr != nil {
		c.logger.Warn("message persisted to tree but not to store",
			"id", r.ID, "topic", r.Topic, "error", appendErr)
		c.publish(storeError(appendErr))
	}
	c.publish(messageStored(r))
	c.publish(treeUpdated())

	if appendErr != nil {
		return r, fmt.Errorf("ingest %s: %w", r.ID, appendErr)
	}
	return r, nil
}

// MarkSubscribed records a subscription state change on the tree.
// Wildcard filters name no single tree path and are ignored here.
func (c *Coordinator) MarkSubscribed(topic string, subscribed bool) {
	if topics.HasWildcard(topic) {
		return
	}
	c.tree.MarkSubscribed(topic, subscribed)
	c.publish(treeUpdated())
}

// Clear wipes the store and the tree in lockstep; leaving the tree
// populated after a store clear would present stale counts.
func (c *Coordinator) Clear(ctx context.Context) error {
	err := c.store.Clear(ctx)
	c.tree.Clear()
	c.publish(historyCleared())
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// ResetSession is the connection-change hook. The tree always resets: it
// represents current-session state and stale topics from a previous
// broker must not leak into the new one. The store resets only when
// configured, keeping message history durable across reconnects by
// default.
func (c *Coordinator) ResetSession(ctx context.Context) error {
	c.tree.Clear()
	c.publish(sessionReset())

	if !c.resetHistoryOnConnect {
		return nil
	}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("reset session history: %w", err)
	}
	c.publish(historyCleared())
	return nil
}

// Subscribe registers an event subscriber and returns its channel plus a
// disposer. The disposer is idempotent and closes the channel.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, subscriberBuffer)
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// publish delivers an event to every subscriber without blocking the
// ingestion path. A full subscriber buffer drops the event.
func (c *Coordinator) publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- e:
		default:
			c.dropped++
			if c.dropped%1000 == 1 {
				c.logger.Warn("slow event subscriber, dropping events", "dropped_total", c.dropped)
			}
		}
	}
}

// Close disposes all subscriptions. The store and tree are owned by the
// coordinator's creator and are not closed here.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}
