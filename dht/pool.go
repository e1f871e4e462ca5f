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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyperdht/dhtrpc/knode"
)

// QueryID identifies an active query within its pool.
type QueryID uint64

// PoolState classifies the outcome of one QueryPool.Poll call.
type PoolState int

const (
	// PoolIdle means the pool holds no queries.
	PoolIdle PoolState = iota
	// PoolWaiting means at least one query is live; the Stream field is set
	// when the poll produced an actionable event for it.
	PoolWaiting
	// PoolFinished means a query completed and was drained from the pool.
	PoolFinished
	// PoolTimeout means a query exceeded its deadline and was drained.
	PoolTimeout
)

// QueryPoolState is the observable result of QueryPool.Poll.
type QueryPoolState struct {
	State  PoolState
	Stream *QueryStream

	// ev is the actionable event for PoolWaiting, consumed by the
	// dispatcher within the same tick.
	ev queryEvent
}

// QueryPool owns and fairly advances every live QueryStream. It is the only
// component that creates or removes streams.
type QueryPool struct {
	self    knode.ID
	queries map[QueryID]*QueryStream
	order   []QueryID // round-robin schedule
	cursor  int
	nextID  QueryID

	queryTimeout time.Duration
	log          *logrus.Entry
}

func newQueryPool(self knode.ID, queryTimeout time.Duration, log *logrus.Entry) *QueryPool {
	return &QueryPool{
		self:         self,
		queries:      make(map[QueryID]*QueryStream),
		nextID:       1, // 0 marks "no query" in correlation entries
		queryTimeout: queryTimeout,
		log:          log,
	}
}

// Add starts a new query and returns its id. The stream begins in the
// bootstrap phase unless enough seed peers are supplied. Never blocks.
func (p *QueryPool) Add(cmd string, qtype QueryType, target knode.ID, value []byte,
	seeds []knode.Node, now time.Time) QueryID {
	id := p.allocID()
	q := newQueryStream(id, cmd, qtype, p.self, target, value, seeds, now, p.queryTimeout, p.log)
	p.queries[id] = q
	p.order = append(p.order, id)
	queriesStartedCounter.Inc()
	return id
}

// allocID hands out monotonically increasing ids. The counter wraps on
// overflow; ids colliding with a still-live query are skipped.
func (p *QueryPool) allocID() QueryID {
	for {
		id := p.nextID
		p.nextID++
		if id == 0 {
			continue
		}
		if _, live := p.queries[id]; !live {
			return id
		}
	}
}

// Get returns the query with the given id. Absence is a normal nil.
func (p *QueryPool) Get(id QueryID) *QueryStream {
	return p.queries[id]
}

// Remove cancels a query by dropping it from the pool. Responses to its
// in-flight requests are never correlated again.
func (p *QueryPool) Remove(id QueryID) {
	p.remove(id)
}

// Size returns the number of running queries.
func (p *QueryPool) Size() int {
	return len(p.queries)
}

// Poll examines every live stream at most once and returns the first
// actionable outcome; at most one event per call bounds per-tick work and
// gives round-robin fairness across queries. Callers poll repeatedly until
// nothing actionable remains within a scheduling tick.
func (p *QueryPool) Poll(now time.Time) QueryPoolState {
	if len(p.queries) == 0 {
		return QueryPoolState{State: PoolIdle}
	}

	for range len(p.order) {
		if p.cursor >= len(p.order) {
			p.cursor = 0
		}
		id := p.order[p.cursor]
		p.cursor++
		q := p.queries[id]

		if q.expired(now) {
			q.finalize(now)
			p.remove(id)
			queriesTimedOutCounter.Inc()
			return QueryPoolState{State: PoolTimeout, Stream: q}
		}
		ev := q.poll(now)
		if ev == nil {
			continue
		}
		if _, done := ev.(*finishedEvent); done {
			p.remove(id)
			queriesFinishedCounter.Inc()
			return QueryPoolState{State: PoolFinished, Stream: q}
		}
		return QueryPoolState{State: PoolWaiting, Stream: q, ev: ev}
	}
	return QueryPoolState{State: PoolWaiting}
}

func (p *QueryPool) remove(id QueryID) {
	if _, ok := p.queries[id]; !ok {
		return
	}
	delete(p.queries, id)
	ix := slices.Index(p.order, id)
	if ix >= 0 {
		p.order = slices.Delete(p.order, ix, ix+1)
		if p.cursor > ix {
			p.cursor--
		}
	}
}
