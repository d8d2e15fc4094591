// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mqlens/mqlens/store"
)

// RetentionPolicy bounds history growth by age and by count. Zero values
// disable the corresponding bound.
type RetentionPolicy struct {
	// MaxAge deletes records older than this.
	MaxAge time.Duration

	// MaxCount trims the history to at most this many records.
	MaxCount int

	// CheckInterval is how often the policy is applied.
	CheckInterval time.Duration
}

// Enabled reports whether any bound is configured.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxAge > 0 || p.MaxCount > 0
}

// RetentionManager applies the retention policy on a timer, never inline
// with ingestion. The age cutoff is computed before each delete pass and
// evaluated against record timestamps, so a record arriving while the
// pass runs can never be caught by it.
type RetentionManager struct {
	policy RetentionPolicy
	store  store.MessageStore
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRetentionManager creates a retention manager for the given store.
func NewRetentionManager(policy RetentionPolicy, st store.MessageStore, logger *slog.Logger) *RetentionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.CheckInterval == 0 {
		policy.CheckInterval = 5 * time.Minute
	}
	return &RetentionManager{
		policy: policy,
		store:  st,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start begins the background retention loop. No-op if the policy has no
// bounds configured.
func (rm *RetentionManager) Start(ctx context.Context) {
	if !rm.policy.Enabled() {
		return
	}
	rm.wg.Add(1)
	go rm.loop(ctx)

	rm.logger.Info("retention manager started",
		slog.Duration("max_age", rm.policy.MaxAge),
		slog.Int("max_count", rm.policy.MaxCount),
		slog.Duration("check_interval", rm.policy.CheckInterval))
}

// Stop halts the background loop and waits for a pass in flight.
func (rm *RetentionManager) Stop() {
	close(rm.stopCh)
	rm.wg.Wait()
	rm.logger.Info("retention manager stopped")
}

func (rm *RetentionManager) loop(ctx context.Context) {
	defer rm.wg.Done()
	ticker := time.NewTicker(rm.policy.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rm.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.Apply(ctx)
		}
	}
}

// Apply runs one retention pass. Also callable directly for an explicit
// user-triggered cleanup.
func (rm *RetentionManager) Apply(ctx context.Context) {
	start := time.Now()
	var removed int

	if rm.policy.MaxAge > 0 {
		cutoff := time.Now().Add(-rm.policy.MaxAge).UnixMilli()
		n, err := rm.store.DeleteOlderThan(ctx, cutoff)
		removed += n
		if err != nil {
			rm.logger.Warn("age-based retention pass failed",
				slog.Int("removed", n),
				slog.String("error", err.Error()))
		}
	}

	if rm.policy.MaxCount > 0 {
		n, err := rm.store.TrimToCount(ctx, rm.policy.MaxCount)
		removed += n
		if err != nil {
			rm.logger.Warn("count-based retention pass failed",
				slog.Int("removed", n),
				slog.String("error", err.Error()))
		}
	}

	if removed > 0 {
		rm.logger.Info("retention pass completed",
			slog.Int("removed", removed),
			slog.Duration("duration", time.Since(start)))
	}
}
