// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key layout:
//
//	msg:{ts:016x}:{id}          -> msgpack-encoded record
//	id:{id}                     -> message key (reverse index)
//	tok:{token}:{ts:016x}:{id}  -> nil (inverted full-text index)
//	top:{topic}                 -> 8-byte BE per-topic count
//	cnt:total                   -> 8-byte BE record count
//	cnt:bytes                   -> 8-byte BE payload byte volume
//
// The zero-padded hex timestamp makes lexicographic key order equal to
// chronological order, so time-range queries are pure prefix seeks and
// "latest N" is a reverse iteration.
const (
	msgPrefix   = "msg:"
	idPrefix    = "id:"
	tokenPrefix = "tok:"
	topicPrefix = "top:"

	totalKey = "cnt:total"
	bytesKey = "cnt:bytes"
)

func msgKey(tsMs int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%016x:%s", msgPrefix, tsMs, id))
}

func idKey(id string) []byte {
	return []byte(idPrefix + id)
}

func tokenKey(token string, tsMs int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%016x:%s", tokenPrefix, token, tsMs, id))
}

func topicKey(topic string) []byte {
	return []byte(topicPrefix + topic)
}

// msgKeyTimestamp extracts the millisecond timestamp from a message key.
func msgKeyTimestamp(key []byte) (int64, error) {
	s := string(key)
	if !strings.HasPrefix(s, msgPrefix) || len(s) < len(msgPrefix)+16 {
		return 0, fmt.Errorf("malformed message key %q", s)
	}
	return strconv.ParseInt(s[len(msgPrefix):len(msgPrefix)+16], 16, 64)
}

// tokenKeyRef extracts the "ts:id" reference portion of a token key,
// given the token it was scanned under may be longer than the query
// prefix. The reference is the final two ':'-separated fields.
func tokenKeyRef(key []byte) (string, bool) {
	s := string(key)
	// Reference is "{ts:016x}:{id}"; the id itself contains '-' but no ':'.
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", false
	}
	j := strings.LastIndex(s[:i], ":")
	if j < 0 {
		return "", false
	}
	ref := s[j+1:]
	if len(ref) < 18 {
		return "", false
	}
	return ref, true
}

// refTimestamp parses the timestamp half of a "ts:id" reference.
func refTimestamp(ref string) (int64, error) {
	if len(ref) < 16 {
		return 0, fmt.Errorf("malformed index reference %q", ref)
	}
	return strconv.ParseInt(ref[:16], 16, 64)
}

// sortRefsDescending orders "ts:id" references newest-first. The hex
// timestamp prefix makes plain string comparison chronological.
func sortRefsDescending(refs []string) {
	sort.Sort(sort.Reverse(sort.StringSlice(refs)))
}
