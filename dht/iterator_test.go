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
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperdht/dhtrpc/knode"
)

func TestBootstrapIter(t *testing.T) {
	seeds := []knode.Node{tnode(1), tnode(2), tnode(3)}
	it := newBootstrapIter(tid(0x01), tid(0xF0), seeds)

	// Seeds come out in insertion order.
	for i, want := range seeds {
		assert.False(t, it.exhausted(), "exhausted after %d of %d", i, len(seeds))
		p := it.next()
		require.NotNil(t, p)
		assert.Equal(t, want, p.node)
	}
	assert.True(t, it.exhausted())
	assert.Nil(t, it.next())

	// Duplicates are not handed out twice, new seeds are.
	it.add([]knode.Node{tnode(2), tnode(4)})
	p := it.next()
	require.NotNil(t, p)
	assert.Equal(t, tnode(4), p.node)
	assert.Nil(t, it.next())
}

func TestClosestIterOrder(t *testing.T) {
	target := tid(0xF0)
	var nodes []knode.Node
	for i := byte(1); i <= 30; i++ {
		nodes = append(nodes, tnode(i))
	}
	it := newClosestIter(tid(0x01), target, nodes)

	var got []knode.Node
	for p := it.next(); p != nil; p = it.next() {
		got = append(got, p.node)
	}
	require.Len(t, got, bucketSize, "candidate set must be truncated to the replication factor")
	assert.True(t, it.converged())

	// Ascending by distance, no duplicates.
	for i := 1; i < len(got); i++ {
		assert.Equal(t, -1, knode.DistCmp(target, got[i-1].ID(), got[i].ID()))
	}

	// The kept candidates are exactly the closest of the input.
	want := slices.Clone(nodes)
	slices.SortFunc(want, func(a, b knode.Node) int {
		return knode.DistCmp(target, a.ID(), b.ID())
	})
	assert.Equal(t, want[:bucketSize], got)
}

func TestClosestIterNoDuplicateDispatch(t *testing.T) {
	target := tid(0xF0)
	it := newClosestIter(tid(0x01), target, []knode.Node{tnode(1), tnode(2)})

	p := it.next()
	require.NotNil(t, p)
	// Re-learning an already dispatched peer must not reset its state.
	it.addNodes([]knode.Node{p.node})
	q := it.next()
	require.NotNil(t, q)
	assert.NotEqual(t, p.node.ID(), q.node.ID())
	assert.Nil(t, it.next())
}

func TestClosestIterExcludesSelf(t *testing.T) {
	self := tid(0x01)
	it := newClosestIter(self, tid(0xF0), nil)

	// Remote peers hold us in their tables, so closer-nodes payloads can
	// name us. The local node must never become a candidate.
	it.addNodes([]knode.Node{knode.New(self, taddr(1)), tnode(2)})
	p := it.next()
	require.NotNil(t, p)
	assert.Equal(t, tnode(2), p.node)
	assert.Nil(t, it.next())
	assert.NotContains(t, it.result(), knode.New(self, taddr(1)))
}

func TestBootstrapIterExcludesSelf(t *testing.T) {
	self := tid(0x01)
	it := newBootstrapIter(self, tid(0xF0), []knode.Node{knode.New(self, taddr(1)), tnode(2)})
	p := it.next()
	require.NotNil(t, p)
	assert.Equal(t, tnode(2), p.node)
	assert.Nil(t, it.next())
}

func TestClosestIterConverged(t *testing.T) {
	it := newClosestIter(tid(0x01), tid(0xF0), []knode.Node{tnode(1), tnode(2)})
	assert.False(t, it.converged())
	it.next()
	assert.False(t, it.converged())
	p := it.next()
	assert.True(t, it.converged())

	// Failed peers count as settled and stay out of the result.
	p.failed = true
	assert.True(t, it.converged())
	assert.Len(t, it.result(), 1)
}

func TestClosestIterRestart(t *testing.T) {
	it := newClosestIter(tid(0x01), tid(0xF0), []knode.Node{tnode(1), tnode(2), tnode(3)})
	var failed *queryPeer
	for p := it.next(); p != nil; p = it.next() {
		if failed == nil {
			failed = p
		}
	}
	failed.failed = true
	require.True(t, it.converged())

	it.restart()
	var again []knode.ID
	for p := it.next(); p != nil; p = it.next() {
		again = append(again, p.node.ID())
	}
	assert.Len(t, again, 2)
	assert.NotContains(t, again, failed.node.ID())
}
