// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package export serializes message history query results. Exports
// intentionally carry no default page size: a user exporting "everything
// matching" gets everything matching.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/store"
)

// csvHeader is the fixed CSV column order.
var csvHeader = []string{"ID", "Topic", "Payload", "QoS", "Retained", "Timestamp", "DateTime"}

// Search runs the filter against the store with pagination stripped,
// for export use.
func Search(ctx context.Context, st store.MessageStore, f store.Filter) ([]*record.Record, error) {
	f.Limit = nil
	f.Offset = 0
	return st.Search(ctx, f)
}

// JSON writes the records as a JSON array of flattened records, each
// with an ISO-8601 datetime alongside the raw millisecond timestamp.
func JSON(w io.Writer, recs []*record.Record) error {
	flat := make([]record.Flat, 0, len(recs))
	for _, r := range recs {
		flat = append(flat, r.Flatten())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(flat); err != nil {
		return fmt.Errorf("export json: %w", err)
	}
	return nil
}

// CSV writes the records with the fixed column order ID, Topic, Payload,
// QoS, Retained, Timestamp, DateTime. The payload column is always
// double-quoted with embedded quotes doubled; other columns are quoted
// per RFC 4180 only when they need it.
func CSV(w io.Writer, recs []*record.Record) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(csvHeader, ",") + "\n"); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	for _, r := range recs {
		flat := r.Flatten()
		row := []string{
			csvField(flat.ID),
			csvField(flat.Topic),
			quote(flat.Payload),
			strconv.Itoa(int(flat.QoS)),
			strconv.FormatBool(flat.Retained),
			strconv.FormatInt(flat.Timestamp, 10),
			csvField(flat.DateTime),
		}
		if _, err := bw.WriteString(strings.Join(row, ",") + "\n"); err != nil {
			return fmt.Errorf("export csv: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	return nil
}

// quote double-quotes a value unconditionally, doubling embedded quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// csvField quotes a value only when RFC 4180 requires it.
func csvField(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return quote(s)
	}
	return s
}

// Gzip wraps a writer with gzip compression and returns the writer plus
// a close function that must be called to flush the stream.
func Gzip(w io.Writer) (io.Writer, func() error) {
	gz := gzip.NewWriter(w)
	return gz, gz.Close
}
