// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package export_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqlens/mqlens/export"
	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/store"
	"github.com/mqlens/mqlens/store/memory"
)

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, &record.Record{
		ID: "100-a", Topic: "a/b", Payload: []byte(`{"v":1}`), QoS: 1, Timestamp: 100,
	}))
	require.NoError(t, s.Append(ctx, &record.Record{
		ID: "200-b", Topic: "a/c", Payload: []byte("plain, with comma"), Retained: true, Timestamp: 200,
	}))
	return s
}

func TestSearchStripsPagination(t *testing.T) {
	s := seeded(t)

	recs, err := export.Search(context.Background(), s, store.Filter{
		Limit:  store.LimitN(0),
		Offset: 5,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestJSON(t *testing.T) {
	s := seeded(t)
	recs, err := export.Search(context.Background(), s, store.Filter{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, export.JSON(&buf, recs))

	var got []record.Flat
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "200-b", got[0].ID)
	assert.Equal(t, "plain, with comma", got[0].Payload)
	assert.Equal(t, "100-a", got[1].ID)
	assert.Equal(t, `{"v":1}`, got[1].Payload)
	assert.NotEmpty(t, got[0].DateTime)
}

func TestJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.JSON(&buf, nil))
	assert.Equal(t, "[]", string(bytes.TrimSpace(buf.Bytes())))
}

func TestCSV(t *testing.T) {
	s := seeded(t)
	recs, err := export.Search(context.Background(), s, store.Filter{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, export.CSV(&buf, recs))

	// The payload column is always quoted, embedded quotes doubled.
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], `"plain, with comma"`)
	assert.Contains(t, lines[2], `"{""v"":1}"`)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"ID", "Topic", "Payload", "QoS", "Retained", "Timestamp", "DateTime"}, rows[0])

	assert.Equal(t, "200-b", rows[1][0])
	assert.Equal(t, "a/c", rows[1][1])
	assert.Equal(t, "plain, with comma", rows[1][2]) // comma survives quoting
	assert.Equal(t, "0", rows[1][3])
	assert.Equal(t, "true", rows[1][4])
	assert.Equal(t, "200", rows[1][5])

	assert.Equal(t, "100-a", rows[2][0])
	assert.Equal(t, "1", rows[2][3])
}

func TestGzipRoundTrip(t *testing.T) {
	s := seeded(t)
	recs, err := export.Search(context.Background(), s, store.Filter{})
	require.NoError(t, err)

	var buf bytes.Buffer
	w, finish := export.Gzip(&buf)
	require.NoError(t, export.JSON(w, recs))
	require.NoError(t, finish())

	gr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	defer gr.Close()

	var got []record.Flat
	require.NoError(t, json.NewDecoder(gr).Decode(&got))
	assert.Len(t, got, 2)
}
