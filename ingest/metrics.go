// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mqlens/mqlens/record"
)

// Metrics holds OpenTelemetry instruments for the ingestion path.
type Metrics struct {
	meter metric.Meter

	messagesIngested metric.Int64Counter
	bytesIngested    metric.Int64Counter
	appendErrors     metric.Int64Counter
	payloadSize      metric.Int64Histogram
	searchDuration   metric.Float64Histogram
}

// NewMetrics creates the ingestion instruments.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("mqlens-ingest"),
	}

	var err error

	m.messagesIngested, err = m.meter.Int64Counter(
		"mqlens.messages.ingested.total",
		metric.WithDescription("Total messages ingested into the history store"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesIngested counter: %w", err)
	}

	m.bytesIngested, err = m.meter.Int64Counter(
		"mqlens.bytes.ingested.total",
		metric.WithDescription("Total payload bytes ingested"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesIngested counter: %w", err)
	}

	m.appendErrors, err = m.meter.Int64Counter(
		"mqlens.store.append.errors.total",
		metric.WithDescription("Append failures tolerated on the ingestion path"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create appendErrors counter: %w", err)
	}

	m.payloadSize, err = m.meter.Int64Histogram(
		"mqlens.message.payload.bytes",
		metric.WithDescription("Distribution of ingested payload sizes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payloadSize histogram: %w", err)
	}

	m.searchDuration, err = m.meter.Float64Histogram(
		"mqlens.search.duration.seconds",
		metric.WithDescription("History search latency"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create searchDuration histogram: %w", err)
	}

	return m, nil
}

// RecordSearch records one search latency observation.
func (m *Metrics) RecordSearch(ctx context.Context, seconds float64) {
	m.searchDuration.Record(ctx, seconds)
}

// RecordIngest records one ingestion outcome.
func (m *Metrics) RecordIngest(ctx context.Context, r *record.Record, appendErr error) {
	m.messagesIngested.Add(ctx, 1)
	m.bytesIngested.Add(ctx, int64(len(r.Payload)))
	m.payloadSize.Record(ctx, int64(len(r.Payload)))
	if appendErr != nil {
		m.appendErrors.Add(ctx, 1)
	}
}
