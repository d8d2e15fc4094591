// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mqlens/mqlens/record"
)

func TestFilterValidate(t *testing.T) {
	qosOK := byte(1)
	qosBad := byte(3)

	tests := []struct {
		name    string
		filter  Filter
		wantErr bool
	}{
		{"empty", Filter{}, false},
		{"exact topic", Filter{Topic: "a/b"}, false},
		{"wildcard topic", Filter{Topic: "a/+/c"}, false},
		{"bad wildcard", Filter{Topic: "a/#/c"}, true},
		{"embedded plus", Filter{Topic: "a/b+"}, true},
		{"start after end", Filter{Start: 200, End: 100}, true},
		{"equal bounds", Filter{Start: 100, End: 100}, false},
		{"negative limit", Filter{Limit: LimitN(-1)}, true},
		{"zero limit", Filter{Limit: LimitN(0)}, false},
		{"negative offset", Filter{Offset: -5}, true},
		{"qos in range", Filter{QoS: &qosOK}, false},
		{"qos out of range", Filter{QoS: &qosBad}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFilter)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFilterCompile(t *testing.T) {
	retained := true
	qos := byte(1)

	rec := &record.Record{
		ID:           "1-aa",
		Topic:        "sensors/kitchen/temp",
		Payload:      []byte("21.5"),
		QoS:          1,
		Retained:     true,
		Timestamp:    500,
		ConnectionID: "conn-1",
		UserProperties: map[string]string{
			"unit": "celsius",
		},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches", Filter{}, true},
		{"exact topic", Filter{Topic: "sensors/kitchen/temp"}, true},
		{"topic prefix", Filter{Topic: "sensors"}, true},
		{"partial level is not a prefix", Filter{Topic: "sensors/kit"}, false},
		{"wildcard", Filter{Topic: "sensors/+/temp"}, true},
		{"other topic", Filter{Topic: "lights"}, false},
		{"in range", Filter{Start: 400, End: 600}, true},
		{"before start", Filter{Start: 501}, false},
		{"after end", Filter{End: 499}, false},
		{"inclusive bounds", Filter{Start: 500, End: 500}, true},
		{"qos match", Filter{QoS: &qos}, true},
		{"retained match", Filter{Retained: &retained}, true},
		{"connection match", Filter{ConnectionID: "conn-1"}, true},
		{"connection mismatch", Filter{ConnectionID: "conn-2"}, false},
		{"property key only", Filter{UserPropertyKey: "unit"}, true},
		{"property key+value", Filter{UserPropertyKey: "unit", UserPropertyValue: "celsius"}, true},
		{"property value mismatch", Filter{UserPropertyKey: "unit", UserPropertyValue: "kelvin"}, false},
		{"property key missing", Filter{UserPropertyKey: "trace"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := tt.filter.Compile()
			assert.Equal(t, tt.want, pred(rec))
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []string
	}{
		{"words", "Temperature is High", []string{"temperature", "is", "high"}},
		{"json", `{"state":"ON","level":42}`, []string{"state", "on", "level", "42"}},
		{"dedup", "on on ON", []string{"on"}},
		{"punctuation only", "--- !!!", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Tokenize([]byte(tt.payload))
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenizeBinary(t *testing.T) {
	_, ok := Tokenize([]byte{0xff, 0xfe})
	assert.False(t, ok)
}

func TestTokenizeMaxTokens(t *testing.T) {
	var sb strings.Builder
	for i := range 1000 {
		fmt.Fprintf(&sb, "tok%d ", i)
	}
	tokens, ok := Tokenize([]byte(sb.String()))
	assert.True(t, ok)
	assert.Len(t, tokens, maxIndexedTokens)
}

func TestTokensMatch(t *testing.T) {
	payload := []string{"temperature", "21", "celsius"}

	assert.True(t, TokensMatch(payload, []string{"temp"}))
	assert.True(t, TokensMatch(payload, []string{"temperature", "21"}))
	assert.True(t, TokensMatch(payload, nil))
	assert.False(t, TokensMatch(payload, []string{"kelvin"}))
	assert.False(t, TokensMatch(payload, []string{"temp", "kelvin"}))
	assert.False(t, TokensMatch(nil, []string{"temp"}))
}

func TestTopN(t *testing.T) {
	counts := map[string]int64{
		"a/1": 5,
		"a/2": 10,
		"b/1": 10,
		"c/1": 1,
	}

	top := TopN(counts, 3)
	assert.Equal(t, []TopicCount{
		{Topic: "a/2", Count: 10},
		{Topic: "b/1", Count: 10},
		{Topic: "a/1", Count: 5},
	}, top)

	assert.Len(t, TopN(counts, 10), 4)
	assert.Empty(t, TopN(nil, 5))
}
