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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hyperdht/dhtrpc/knode"
	"github.com/hyperdht/dhtrpc/wire"
)

// QueryType selects which phases a query runs through.
type QueryType int

const (
	// QueryTypeQuery is a plain lookup, finalized on convergence.
	QueryTypeQuery QueryType = iota
	// QueryTypeUpdate runs the replication phase against the closest set.
	QueryTypeUpdate
	// QueryTypeQueryUpdate is a lookup followed by the replication phase.
	QueryTypeQueryUpdate
)

func (t QueryType) isUpdate() bool {
	return t == QueryTypeUpdate || t == QueryTypeQueryUpdate
}

type queryPhase int

const (
	phaseBootstrapping queryPhase = iota
	phaseMovingCloser
	phaseUpdating
	phaseFinalized
)

func (p queryPhase) String() string {
	switch p {
	case phaseBootstrapping:
		return "bootstrapping"
	case phaseMovingCloser:
		return "moving-closer"
	case phaseUpdating:
		return "updating"
	case phaseFinalized:
		return "finalized"
	}
	return "invalid"
}

// Response is one successful answer collected by a query.
type Response struct {
	Node  knode.Node
	Value []byte
}

// Events emitted by QueryStream.poll. At most one per call.
type queryEvent interface{ isQueryEvent() }

// sendEvent asks the dispatcher to contact a peer. The stream has already
// accounted the request and considers the peer in flight.
type sendEvent struct {
	ty     wire.Type
	cmd    string
	target knode.ID
	value  []byte
	peer   knode.Node
}

// removeNodeEvent asks the dispatcher to drop an unreachable peer from the
// routing table. Table mutation is a dispatcher-owned side effect.
type removeNodeEvent struct {
	id knode.ID
}

// bootstrapEvent asks the dispatcher for more seed peers.
type bootstrapEvent struct {
	target knode.ID
	num    int
}

// finishedEvent marks the stream finalized; the pool drains it.
type finishedEvent struct{}

func (*sendEvent) isQueryEvent()       {}
func (*removeNodeEvent) isQueryEvent() {}
func (*bootstrapEvent) isQueryEvent()  {}
func (*finishedEvent) isQueryEvent()   {}

// QueryStream is one running query: a phase state machine mediating between
// its peer iterator and the dispatcher's transport actions.
//
// Phases advance Bootstrapping -> MovingCloser -> {Updating | Finalized}.
// Bootstrapping applies only when the query started without enough seed
// peers; the first successful response moves it on. A plain lookup finalizes
// on convergence, an update-type query runs the replication phase first.
type QueryStream struct {
	id     QueryID
	cmd    string
	qtype  QueryType
	target knode.ID
	value  []byte

	phase queryPhase
	boot  *bootstrapIter
	iter  *closestIter

	stats     QueryStats // current phase
	prevStats QueryStats // merged finished phases

	inFlight  map[knode.ID]*queryPeer
	removals  []knode.ID
	responses []Response

	bootstrapRequested bool
	deadline           time.Time

	log *logrus.Entry
}

func newQueryStream(id QueryID, cmd string, qtype QueryType, self, target knode.ID,
	value []byte, seeds []knode.Node, now time.Time, timeout time.Duration, log *logrus.Entry) *QueryStream {
	q := &QueryStream{
		id:       id,
		cmd:      cmd,
		qtype:    qtype,
		target:   target,
		value:    value,
		inFlight: make(map[knode.ID]*queryPeer),
		deadline: now.Add(timeout),
		log:      log.WithFields(logrus.Fields{"query": uint64(id), "cmd": cmd}),
	}
	if len(seeds) < minSeedPeers {
		q.phase = phaseBootstrapping
		q.boot = newBootstrapIter(self, target, seeds)
		q.iter = newClosestIter(self, target, nil)
	} else {
		q.phase = phaseMovingCloser
		q.iter = newClosestIter(self, target, seeds)
	}
	return q
}

// ID returns the pool-assigned query identifier.
func (q *QueryStream) ID() QueryID { return q.id }

// Command returns the command the query executes.
func (q *QueryStream) Command() string { return q.cmd }

// Target returns the 32-byte key the query approaches.
func (q *QueryStream) Target() knode.ID { return q.target }

// Finished reports whether the stream reached its terminal phase.
func (q *QueryStream) Finished() bool { return q.phase == phaseFinalized }

// Stats returns the accumulated statistics, merged across phases.
func (q *QueryStream) Stats() QueryStats {
	return q.prevStats.Merge(q.stats)
}

// Result returns the closest known peers at the current point of the query,
// ascending by distance to the target.
func (q *QueryStream) Result() []knode.Node {
	return q.iter.result()
}

// Responses returns the successful answers collected so far.
func (q *QueryStream) Responses() []Response {
	return q.responses
}

func (q *QueryStream) expired(now time.Time) bool {
	return now.After(q.deadline)
}

// poll advances the phase machine and returns at most one actionable event,
// or nil when all in-flight requests are still outstanding.
func (q *QueryStream) poll(now time.Time) queryEvent {
	if q.phase == phaseFinalized {
		return nil
	}
	if len(q.removals) > 0 {
		id := q.removals[0]
		q.removals = q.removals[1:]
		return &removeNodeEvent{id: id}
	}

	switch q.phase {
	case phaseBootstrapping:
		return q.pollBootstrap(now)
	case phaseMovingCloser, phaseUpdating:
		return q.pollCloser(now)
	}
	return nil
}

func (q *QueryStream) pollBootstrap(now time.Time) queryEvent {
	if len(q.inFlight) < alpha {
		if p := q.boot.next(); p != nil {
			return q.markSent(p, wire.TypeQuery, now)
		}
	}
	if len(q.inFlight) > 0 || !q.boot.exhausted() {
		return nil
	}
	// No seed ever answered; injectResponse owns the transition out of this
	// phase, so every dispatched seed must have timed out.
	if !q.bootstrapRequested {
		q.bootstrapRequested = true
		return &bootstrapEvent{target: q.target, num: alpha}
	}
	// The query fails as an empty result, not a hard error.
	q.log.Debug("Query has no known peers")
	return q.finalize(now)
}

func (q *QueryStream) pollCloser(now time.Time) queryEvent {
	if len(q.inFlight) < alpha {
		if p := q.iter.next(); p != nil {
			ty := wire.TypeQuery
			if q.phase == phaseUpdating {
				ty = wire.TypeUpdate
			}
			return q.markSent(p, ty, now)
		}
	}
	if len(q.inFlight) > 0 || !q.iter.converged() {
		return nil
	}
	if q.phase == phaseMovingCloser && q.qtype.isUpdate() {
		q.enterUpdating()
		return q.poll(now)
	}
	return q.finalize(now)
}

// markSent accounts an outbound request and emits the matching send event.
// The dispatcher reports the outcome through injectResponse or onTimeout.
func (q *QueryStream) markSent(p *queryPeer, ty wire.Type, now time.Time) *sendEvent {
	p.attempts++
	q.inFlight[p.node.ID()] = p
	if q.stats.Start.IsZero() {
		q.stats.Start = now
	}
	q.stats.Requests++
	return &sendEvent{
		ty:     ty,
		cmd:    q.sendCommand(),
		target: q.target,
		value:  q.value,
		peer:   p.node,
	}
}

// sendCommand returns the wire command for the current phase. Bootstrapping
// always asks for closer peers; later phases run the caller's command.
func (q *QueryStream) sendCommand() string {
	if q.phase == phaseBootstrapping {
		return wire.CmdFindNode
	}
	return q.cmd
}

// injectResponse records a success, feeds peers carried in the payload into
// the candidate set and re-evaluates the phase.
func (q *QueryStream) injectResponse(from knode.Node, m *wire.Message, now time.Time) {
	p, ok := q.inFlight[from.ID()]
	if !ok {
		return
	}
	delete(q.inFlight, from.ID())
	q.stats.Success++
	p.failed = false

	if len(m.Nodes) > 0 {
		q.iter.addNodes(wire.DecodePeers(m.Nodes))
	}
	q.iter.addNodes([]knode.Node{from})
	q.responses = append(q.responses, Response{Node: from, Value: m.Value})

	if q.phase == phaseBootstrapping {
		q.enterMovingCloser()
	}
}

// onTimeout records a missed reply. The peer is retried until its attempt
// budget runs out, then counted as a failure and queued for removal from
// the routing table.
func (q *QueryStream) onTimeout(id knode.ID, now time.Time) {
	p, ok := q.inFlight[id]
	if !ok {
		return
	}
	delete(q.inFlight, id)
	if p.attempts < maxPeerAttempts {
		p.queried = false
		return
	}
	q.stats.Failure++
	p.failed = true
	q.removals = append(q.removals, id)
	q.log.WithField("peer", id.TerminalString()).Debug("Query peer unreachable")
}

// addBootstrapPeers supplies additional seeds in answer to a bootstrap
// event. If nothing can be supplied the next poll finalizes the query.
func (q *QueryStream) addBootstrapPeers(nodes []knode.Node) {
	if q.phase != phaseBootstrapping {
		return
	}
	q.boot.add(nodes)
}

func (q *QueryStream) enterMovingCloser() {
	q.phase = phaseMovingCloser
	q.mergePhaseStats()
	q.log.Debug("Query moving closer")
}

func (q *QueryStream) enterUpdating() {
	q.phase = phaseUpdating
	q.mergePhaseStats()
	q.iter.restart()
	q.log.Debug("Query entering replication phase")
}

func (q *QueryStream) mergePhaseStats() {
	q.prevStats = q.prevStats.Merge(q.stats)
	q.stats = QueryStats{}
}

func (q *QueryStream) finalize(now time.Time) queryEvent {
	q.phase = phaseFinalized
	q.mergePhaseStats()
	q.prevStats.End = now
	q.log.WithFields(logrus.Fields{
		"requests": q.prevStats.Requests,
		"success":  q.prevStats.Success,
		"failure":  q.prevStats.Failure,
	}).Debug("Query finished")
	return &finishedEvent{}
}
