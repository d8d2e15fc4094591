// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tree maintains a live hierarchical view of topic activity,
// independent of the durable store, so a presentation layer can traverse
// the topic space without querying the database per render.
package tree

import (
	"strings"
	"sync"

	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/topics"
)

// node is one arena slot. Children are addressed by arena index, with a
// parallel insertion-order slice for deterministic traversal.
type node struct {
	name       string
	fullPath   string
	children   map[string]int
	childOrder []string

	messageCount uint64
	subscribed   bool
	lastMessage  *record.Record
}

// Tree is the topic aggregator. All access is serialized by one mutex;
// reads copy data out under the lock, so callers never hold references
// into the arena.
type Tree struct {
	mu    sync.Mutex
	nodes []node // nodes[0] is the synthetic root
}

// New creates an empty tree.
func New() *Tree {
	t := &Tree{}
	t.reset()
	return t
}

func (t *Tree) reset() {
	t.nodes = t.nodes[:0]
	t.nodes = append(t.nodes, node{children: make(map[string]int)})
}

// walk returns the arena index for the given topic path, creating nodes
// lazily along the way.
func (t *Tree) walk(topic string) int {
	idx := 0
	var path strings.Builder
	for i, seg := range strings.Split(topic, "/") {
		if i > 0 {
			path.WriteByte('/')
		}
		path.WriteString(seg)

		child, ok := t.nodes[idx].children[seg]
		if !ok {
			child = len(t.nodes)
			t.nodes = append(t.nodes, node{
				name:     seg,
				fullPath: path.String(),
				children: make(map[string]int),
			})
			t.nodes[idx].children[seg] = child
			t.nodes[idx].childOrder = append(t.nodes[idx].childOrder, seg)
		}
		idx = child
	}
	return idx
}

// Absorb indexes one record: nodes are created for every path segment,
// but only the terminal node's count and last-message cache change.
// Ancestor counts deliberately exclude descendant traffic, so a UI can
// distinguish "messages at this exact topic" from "messages under it".
func (t *Tree) Absorb(r *record.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.walk(r.Topic)
	t.nodes[idx].messageCount++
	t.nodes[idx].lastMessage = r
}

// MarkSubscribed sets or clears the subscription flag at the exact path,
// creating the path if no message has ever touched it, so a
// subscribe-before-first-message ordering is representable.
func (t *Tree) MarkSubscribed(topic string, subscribed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.walk(topic)
	t.nodes[idx].subscribed = subscribed
}

// MatchingTopics returns the full paths of all existing nodes satisfying
// the pattern, in insertion (depth-first) order. Pattern semantics are
// those of topics.Compile, shared with the store so the two never
// diverge in interpretation.
func (t *Tree) MatchingTopics(pattern string) []string {
	pred := topics.Compile(pattern)

	t.mu.Lock()
	defer t.mu.Unlock()

	matches := make([]string, 0)

	// Iterative DFS; recursion depth is bounded by segment count but an
	// explicit stack costs nothing here.
	type frame struct{ idx, child int }
	stack := []frame{{0, 0}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		n := &t.nodes[f.idx]
		if f.child >= len(n.childOrder) {
			stack = stack[:len(stack)-1]
			continue
		}
		childIdx := n.children[n.childOrder[f.child]]
		f.child++

		child := &t.nodes[childIdx]
		if pred(child.fullPath) {
			matches = append(matches, child.fullPath)
		}
		stack = append(stack, frame{childIdx, 0})
	}
	return matches
}

// Clear drops the entire tree. Called in lockstep with a store clear and
// on every new broker connection: stale topic state from a previous
// session must never leak into the current one.
func (t *Tree) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

// Empty reports whether the tree holds no topic nodes.
func (t *Tree) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes) == 1
}

// LastMessage is the display-safe summary of a node's most recent record.
type LastMessage struct {
	ID        string `json:"id"`
	Payload   string `json:"payload"`
	QoS       byte   `json:"qos"`
	Retained  bool   `json:"retained"`
	Timestamp int64  `json:"timestamp"`
}

// Node is the serializable form of one tree node.
type Node struct {
	Name         string       `json:"name"`
	FullPath     string       `json:"fullPath"`
	MessageCount uint64       `json:"messageCount"`
	Subscribed   bool         `json:"subscribed"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`
	Children     []*Node      `json:"children,omitempty"`
}

// Snapshot produces a nested copy of the tree suitable for transmission
// to a presentation layer. Payloads cross this boundary in display-safe
// string form, never as raw binary.
func (t *Tree) Snapshot() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotNode(0)
}

func (t *Tree) snapshotNode(idx int) *Node {
	n := &t.nodes[idx]
	out := &Node{
		Name:         n.name,
		FullPath:     n.fullPath,
		MessageCount: n.messageCount,
		Subscribed:   n.subscribed,
	}
	if n.lastMessage != nil {
		out.LastMessage = &LastMessage{
			ID:        n.lastMessage.ID,
			Payload:   n.lastMessage.PayloadString(),
			QoS:       n.lastMessage.QoS,
			Retained:  n.lastMessage.Retained,
			Timestamp: n.lastMessage.Timestamp,
		}
	}
	for _, name := range n.childOrder {
		out.Children = append(out.Children, t.snapshotNode(n.children[name]))
	}
	return out
}
