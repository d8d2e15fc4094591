// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

// Predicate reports whether a concrete topic satisfies a compiled filter.
type Predicate func(topic string) bool

// Compile converts a filter pattern into a predicate over concrete topics.
//
// Patterns containing '+' or '#' follow strict MQTT semantics via Match.
// Patterns with no wildcard match the topic itself and, additionally, any
// topic for which the pattern is a '/'-delimited ancestor: compiling
// "sensors" matches both "sensors" and "sensors/kitchen". This asymmetry
// is deliberate; it is what a user filtering the history to a tree node
// expects, while explicit wildcard filters stay exactly MQTT.
//
// System topics (leading '$') are matched literally in the non-wildcard
// case; wildcard patterns keep the usual '$' restriction from Match.
//
// An empty pattern imposes no constraint and matches every topic.
func Compile(pattern string) Predicate {
	if pattern == "" {
		return func(string) bool { return true }
	}

	if !HasWildcard(pattern) {
		prefix := pattern + "/"
		return func(topic string) bool {
			return topic == pattern || strings.HasPrefix(topic, prefix)
		}
	}

	return func(topic string) bool {
		return Match(pattern, topic)
	}
}
