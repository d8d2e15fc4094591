// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqlens/mqlens/ingest"
	"github.com/mqlens/mqlens/store/memory"
	"github.com/mqlens/mqlens/tree"
)

func dialTestServer(t *testing.T) (*websocket.Conn, *ingest.Coordinator) {
	t.Helper()

	st := memory.New()
	t.Cleanup(func() { st.Close() })
	coord := ingest.New(st, tree.New(), ingest.Options{})
	t.Cleanup(coord.Close)

	s := New(Config{Path: "/events", TreeUpdateRate: 1000}, coord, nil)
	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, coord
}

func readEvent(t *testing.T, conn *websocket.Conn) ingest.Event {
	t.Helper()
	var e ingest.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestEventPush(t *testing.T) {
	conn, coord := dialTestServer(t)

	r, err := coord.OnMessage(context.Background(), "a/b", []byte("hello"), 0, false, "conn-1")
	require.NoError(t, err)

	e := readEvent(t, conn)
	assert.Equal(t, ingest.TypeMessageStored, e.Type)
	require.NotNil(t, e.Record)
	assert.Equal(t, r.ID, e.Record.ID)
	assert.Equal(t, "hello", e.Record.Payload)

	e = readEvent(t, conn)
	assert.Equal(t, ingest.TypeTreeUpdated, e.Type)
}

func TestHistoryClearedPush(t *testing.T) {
	conn, coord := dialTestServer(t)

	require.NoError(t, coord.Clear(context.Background()))

	e := readEvent(t, conn)
	assert.Equal(t, ingest.TypeHistoryCleared, e.Type)
}

func TestTreeUpdateCoalescing(t *testing.T) {
	st := memory.New()
	defer st.Close()
	coord := ingest.New(st, tree.New(), ingest.Options{})
	defer coord.Close()

	// One tree update per second at most.
	s := New(Config{Path: "/events", TreeUpdateRate: 1}, coord, nil)
	ts := httptest.NewServer(s.server.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	for range 10 {
		_, err := coord.OnMessage(ctx, "burst", []byte("x"), 0, false, "")
		require.NoError(t, err)
	}

	// All message.stored events arrive; tree.updated is rate-limited
	// to the bucket's single token.
	stored, treeUpdates := 0, 0
	deadline := time.Now().Add(time.Second)
	for stored < 10 && time.Now().Before(deadline) {
		var e ingest.Event
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&e))
		switch e.Type {
		case ingest.TypeMessageStored:
			stored++
		case ingest.TypeTreeUpdated:
			treeUpdates++
		}
	}
	assert.Equal(t, 10, stored)
	assert.LessOrEqual(t, treeUpdates, 2)
}
