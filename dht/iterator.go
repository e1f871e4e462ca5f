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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"

	"github.com/hyperdht/dhtrpc/knode"
)

// queryPeer is one candidate peer of a single query. Candidate sets are
// exclusively owned by their iterator; the same physical peer appearing in
// several concurrent queries is tracked independently in each.
type queryPeer struct {
	node     knode.Node
	distance *uint256.Int
	queried  bool
	attempts int
	failed   bool
}

func newQueryPeer(n knode.Node, target knode.ID) *queryPeer {
	return &queryPeer{node: n, distance: knode.Distance(n.ID(), target)}
}

// bootstrapIter hands out seed peers when a query starts without enough
// routing-table entries. Selection order is insertion order; there is no
// distance to sort by before the first responses arrive.
type bootstrapIter struct {
	target knode.ID
	peers  []*queryPeer
	seen   mapset.Set[knode.ID]
}

func newBootstrapIter(self, target knode.ID, seeds []knode.Node) *bootstrapIter {
	it := &bootstrapIter{target: target, seen: mapset.NewThreadUnsafeSet(self)}
	it.add(seeds)
	return it
}

func (it *bootstrapIter) add(nodes []knode.Node) {
	for _, n := range nodes {
		if !it.seen.Add(n.ID()) {
			continue
		}
		it.peers = append(it.peers, newQueryPeer(n, it.target))
	}
}

// next returns the next unqueried seed and marks it queried, or nil when the
// seed set is exhausted.
func (it *bootstrapIter) next() *queryPeer {
	for _, p := range it.peers {
		if !p.queried && !p.failed {
			p.queried = true
			return p
		}
	}
	return nil
}

func (it *bootstrapIter) exhausted() bool {
	for _, p := range it.peers {
		if !p.queried && !p.failed {
			return false
		}
	}
	return true
}

// closestIter is the moving-closer peer iterator: a candidate set ordered by
// ascending distance to the target and truncated to the replication factor.
// The update phase uses the same selection policy over the stabilized set.
type closestIter struct {
	target knode.ID
	peers  []*queryPeer
	seen   mapset.Set[knode.ID]
}

func newClosestIter(self, target knode.ID, nodes []knode.Node) *closestIter {
	it := &closestIter{target: target, seen: mapset.NewThreadUnsafeSet(self)}
	it.addNodes(nodes)
	return it
}

// addNodes inserts newly learned peers, keeping the set sorted and truncated
// to bucketSize entries. The seen set guards against re-adding a peer that
// was already handed out, which keeps dispatch at-most-once per peer. It is
// pre-seeded with the local identifier: remote peers hold us in their tables
// and return us in closer-nodes payloads, and we must never query ourselves.
func (it *closestIter) addNodes(nodes []knode.Node) {
	for _, n := range nodes {
		if !it.seen.Add(n.ID()) {
			continue
		}
		p := newQueryPeer(n, it.target)
		ix := sort.Search(len(it.peers), func(i int) bool {
			return it.peers[i].distance.Cmp(p.distance) > 0
		})
		if ix == len(it.peers) {
			if len(it.peers) < bucketSize {
				it.peers = append(it.peers, p)
			}
			continue
		}
		if len(it.peers) < bucketSize {
			it.peers = append(it.peers, nil)
		}
		copy(it.peers[ix+1:], it.peers[ix:])
		it.peers[ix] = p
	}
}

// next returns the closest unqueried candidate and marks it queried.
func (it *closestIter) next() *queryPeer {
	for _, p := range it.peers {
		if !p.queried && !p.failed {
			p.queried = true
			return p
		}
	}
	return nil
}

// converged reports the Kademlia no-progress condition: every candidate in
// the closest-known set has been queried or has exhausted its retries. The
// stream additionally requires an empty in-flight set before finishing.
func (it *closestIter) converged() bool {
	for _, p := range it.peers {
		if !p.queried && !p.failed {
			return false
		}
	}
	return true
}

// restart clears the queried flags so the replication phase re-contacts the
// closest set. Peers that already failed stay excluded.
func (it *closestIter) restart() {
	for _, p := range it.peers {
		if !p.failed {
			p.queried = false
			p.attempts = 0
		}
	}
}

// result returns the candidate set in ascending distance order, excluding
// peers that exhausted their retries.
func (it *closestIter) result() []knode.Node {
	nodes := make([]knode.Node, 0, len(it.peers))
	for _, p := range it.peers {
		if p.failed {
			continue
		}
		nodes = append(nodes, p.node)
	}
	return nodes
}
