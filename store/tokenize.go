// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxIndexedTokens bounds index growth for pathological payloads.
const maxIndexedTokens = 256

// Tokenize splits payload text into lowercased alphanumeric tokens for
// the full-text index. The second return value is false when the payload
// is not valid UTF-8; such payloads are stored unindexed and simply never
// match a text query.
func Tokenize(payload []byte) ([]string, bool) {
	if !utf8.Valid(payload) {
		return nil, false
	}

	seen := make(map[string]struct{})
	var tokens []string

	fields := strings.FieldsFunc(strings.ToLower(string(payload)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range fields {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
		if len(tokens) >= maxIndexedTokens {
			break
		}
	}
	return tokens, true
}

// QueryTokens tokenizes a payload search string. Every returned token
// must be present (as a token prefix) for a record to match.
func QueryTokens(query string) []string {
	tokens, _ := Tokenize([]byte(query))
	return tokens
}

// TokensMatch reports whether every query token is a prefix of some
// payload token. Used by backends without a dedicated index structure;
// the badger backend resolves the same semantics via its inverted index.
func TokensMatch(payloadTokens, queryTokens []string) bool {
	for _, q := range queryTokens {
		found := false
		for _, p := range payloadTokens {
			if strings.HasPrefix(p, q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
