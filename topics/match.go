// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topics implements MQTT topic filter semantics: strict wildcard
// matching for live subscriptions and compiled predicates for history
// queries, so the two interpretations can never diverge.
package topics

import "strings"

// Match checks if the topic matches the given filter according to MQTT
// wildcard rules.
// Rules:
// - filter can contain '+' (single level wildcard) and '#' (multi-level wildcard at end).
// - topic must not contain wildcards.
// - '$' prefix topics are special: a leading wildcard never captures them.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	// System topics must be matched by filters that spell out the '$'
	// level explicitly.
	if strings.HasPrefix(topic, "$") {
		if filter[0] != '$' {
			return false
		}
		if filterLevels[0] == "+" || filterLevels[0] == "#" {
			return false
		}
	}

	for i, fLevel := range filterLevels {
		// '#' is only legal as the last level and matches the parent
		// itself plus everything beneath it.
		if fLevel == "#" {
			return true
		}

		if i >= len(topicLevels) {
			// Filter is longer than topic and the extra level is not '#'.
			return false
		}

		if fLevel == "+" {
			continue
		}

		if fLevel != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

// HasWildcard reports whether the filter contains '+' or '#'.
func HasWildcard(filter string) bool {
	return strings.ContainsAny(filter, "+#")
}
