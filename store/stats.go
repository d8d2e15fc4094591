// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import "sort"

// DefaultTopTopics is the number of topics reported in the distribution.
const DefaultTopTopics = 10

// StatsWindowMillis is the trailing window for the message-rate figure.
const StatsWindowMillis = 60_000

// TopN reduces a per-topic count map to the n largest entries, ordered
// by count descending with topic name as the tiebreaker.
func TopN(counts map[string]int64, n int) []TopicCount {
	out := make([]TopicCount, 0, len(counts))
	for topic, count := range counts {
		out = append(out, TopicCount{Topic: topic, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
