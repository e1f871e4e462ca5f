// Copyright 2025 The dhtrpc Authors
// This file is part of the dhtrpc library.
//
// The dhtrpc library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dhtrpc library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dhtrpc library. If not, see <http://www.gnu.org/licenses/>.

package dht

import (
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyperdht/dhtrpc/knode"
)

const (
	alpha      = 3  // Kademlia concurrency factor
	bucketSize = 20 // Kademlia bucket size, the replication factor K

	maxReplacements = 10 // Size of per-bucket replacement list
	maxPeerAttempts = 3  // Per-peer retry budget within one query

	// A query seeded with fewer table entries than this starts in the
	// bootstrap phase.
	minSeedPeers = alpha

	// We keep buckets for the upper 1/15 of distances because
	// it's very unlikely we'll ever encounter a node that's closer.
	hashBits          = knode.IDLen * 8
	nBuckets          = hashBits / 15
	bucketMinDistance = hashBits - nBuckets
)

// tableNode is an entry in Table.
type tableNode struct {
	node     knode.Node
	token    []byte // roundtrip token from the peer's last response
	addedAt  time.Time
	lastSeen time.Time
}

// bucket contains nodes, ordered by their last activity. the entry
// that was most recently active is the first element in entries.
type bucket struct {
	entries      []*tableNode
	replacements []*tableNode // recently seen nodes used if an entry is removed
	index        int
}

// Table is the node table, a Kademlia index of neighbor nodes grouped into
// k-buckets by logarithmic distance from the local identifier. Membership is
// maintained from inbound traffic by the dispatcher, which is the only
// component allowed to mutate it.
type Table struct {
	self    knode.ID
	buckets [nBuckets]*bucket
	log     *logrus.Entry
}

// NewTable creates an empty table around the given local identifier.
func NewTable(self knode.ID, log *logrus.Entry) *Table {
	tab := &Table{self: self, log: log}
	for i := range tab.buckets {
		tab.buckets[i] = &bucket{index: i}
	}
	return tab
}

// Self returns the local identifier.
func (tab *Table) Self() knode.ID {
	return tab.self
}

// Len returns the number of nodes in the table.
func (tab *Table) Len() (n int) {
	for _, b := range &tab.buckets {
		n += len(b.entries)
	}
	return n
}

// Nodes returns all nodes contained in the table.
func (tab *Table) Nodes() []knode.Node {
	nodes := make([]knode.Node, 0, tab.Len())
	for _, b := range &tab.buckets {
		for _, e := range b.entries {
			nodes = append(nodes, e.node)
		}
	}
	return nodes
}

// AddNode upserts a node observed in inbound traffic, together with the
// roundtrip token from its latest response. An existing entry is refreshed
// in place; when the bucket is full the node goes to the replacement list.
// It reports whether the node ended up as a live bucket entry.
func (tab *Table) AddNode(n knode.Node, token []byte, now time.Time) bool {
	if n.ID() == tab.self {
		return false
	}
	b := tab.bucket(n.ID())
	if e := nodeIndex(b.entries, n.ID()); e >= 0 {
		entry := b.entries[e]
		entry.node = n // endpoint may have changed
		entry.lastSeen = now
		if token != nil {
			entry.token = token
		}
		return true
	}
	if len(b.entries) >= bucketSize {
		tab.addReplacement(b, n, now)
		return false
	}
	b.entries = append(b.entries, &tableNode{node: n, token: token, addedAt: now, lastSeen: now})
	b.replacements = deleteNode(b.replacements, n.ID())
	tableSizeGauge.Inc()
	return true
}

// RemoveNode drops an unreachable node. If the bucket has replacement
// candidates, one of them is promoted in its place.
func (tab *Table) RemoveNode(id knode.ID) {
	b := tab.bucket(id)
	ix := nodeIndex(b.entries, id)
	if ix < 0 {
		return
	}
	b.entries = slices.Delete(b.entries, ix, ix+1)
	tableSizeGauge.Dec()
	if len(b.replacements) == 0 {
		tab.log.WithFields(logrus.Fields{"bucket": b.index, "id": id.TerminalString()}).
			Debug("Removed dead node")
		return
	}
	rix := rand.IntN(len(b.replacements))
	rep := b.replacements[rix]
	b.replacements = slices.Delete(b.replacements, rix, rix+1)
	b.entries = append(b.entries, rep)
	tableSizeGauge.Inc()
	tab.log.WithFields(logrus.Fields{
		"bucket": b.index,
		"id":     id.TerminalString(),
		"r":      rep.node.ID().TerminalString(),
	}).Debug("Replaced dead node")
}

// Token returns the roundtrip token most recently received from the node,
// or nil if none is on file.
func (tab *Table) Token(id knode.ID) []byte {
	b := tab.bucket(id)
	if ix := nodeIndex(b.entries, id); ix >= 0 {
		return b.entries[ix].token
	}
	return nil
}

// Closest returns the n nodes in the table closest to the given target,
// ascending by XOR distance.
//
// All buckets are scanned. There might be a better way to do this, but there
// aren't that many buckets, so this solution should be fine.
func (tab *Table) Closest(target knode.ID, n int) []knode.Node {
	closest := &nodesByDistance{target: target}
	for _, b := range &tab.buckets {
		for _, e := range b.entries {
			closest.push(e.node, n)
		}
	}
	return closest.entries
}

// bucket returns the bucket for the given node ID.
func (tab *Table) bucket(id knode.ID) *bucket {
	d := knode.LogDist(tab.self, id)
	if d <= bucketMinDistance {
		return tab.buckets[0]
	}
	return tab.buckets[d-bucketMinDistance-1]
}

func (tab *Table) addReplacement(b *bucket, n knode.Node, now time.Time) {
	if nodeIndex(b.replacements, n.ID()) >= 0 {
		return
	}
	wn := &tableNode{node: n, addedAt: now, lastSeen: now}
	b.replacements = append([]*tableNode{wn}, b.replacements...)
	if len(b.replacements) > maxReplacements {
		b.replacements = b.replacements[:maxReplacements]
	}
}

func nodeIndex(list []*tableNode, id knode.ID) int {
	return slices.IndexFunc(list, func(e *tableNode) bool { return e.node.ID() == id })
}

func deleteNode(list []*tableNode, id knode.ID) []*tableNode {
	if ix := nodeIndex(list, id); ix >= 0 {
		return slices.Delete(list, ix, ix+1)
	}
	return list
}

// nodesByDistance is a list of nodes, ordered by distance to target.
type nodesByDistance struct {
	entries []knode.Node
	target  knode.ID
}

// push adds the given node to the list, keeping the total size below
// maxElems.
func (h *nodesByDistance) push(n knode.Node, maxElems int) {
	ix := sort.Search(len(h.entries), func(i int) bool {
		return knode.DistCmp(h.target, h.entries[i].ID(), n.ID()) > 0
	})
	end := len(h.entries)
	if len(h.entries) < maxElems {
		h.entries = append(h.entries, n)
	}
	if ix < end {
		// Slide existing entries down to make room.
		// This will overwrite the entry we just appended.
		copy(h.entries[ix+1:], h.entries[ix:])
		h.entries[ix] = n
	}
}
