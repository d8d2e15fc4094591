// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Common validation errors.
var (
	ErrInvalidTopicName = errors.New("invalid topic name: contains wildcards or illegal characters")
	ErrInvalidFilter    = errors.New("invalid topic filter")
)

// ValidateTopicName checks if the topic name is valid for a stored
// message (no wildcards).
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrInvalidTopicName
	}
	// "The Topic Name ... MUST NOT contain wildcard characters"
	if strings.Contains(topic, "+") || strings.Contains(topic, "#") {
		return ErrInvalidTopicName
	}
	// Must be valid UTF-8
	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}
	// Check for null character
	if strings.ContainsRune(topic, 0) {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateFilter checks if a filter pattern is well formed: '+' must
// occupy a whole level, '#' must occupy the whole final level.
func ValidateFilter(filter string) error {
	if filter == "" || !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return ErrInvalidFilter
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if level == "#" {
			if i != len(levels)-1 {
				return ErrInvalidFilter
			}
			continue
		}
		if strings.Contains(level, "#") {
			return ErrInvalidFilter
		}
		if level != "+" && strings.Contains(level, "+") {
			return ErrInvalidFilter
		}
	}
	return nil
}
