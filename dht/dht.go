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

// Package dht implements the node-local control plane of a Kademlia DHT:
// the engine driving iterative peer-discovery queries to completion, and
// the dispatcher that maintains routing-table membership from inbound
// traffic.
//
// The package is single-threaded by design. One event loop owns the DHT
// and alternates between feeding it inbound messages (OnRequest and
// OnResponse) and advancing query progress (Poll, repeated until nothing
// actionable remains). No operation blocks.
package dht

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hyperdht/dhtrpc/knode"
	"github.com/hyperdht/dhtrpc/wire"
)

// Peer is the transport-level source of a message.
type Peer struct {
	Addr netip.AddrPort
	// Referrer is the node that told us about this peer, if any.
	Referrer netip.AddrPort
}

// PeerFrom wraps a plain address.
func PeerFrom(addr netip.AddrPort) Peer {
	return Peer{Addr: addr}
}

// Transport sends an encoded message to a destination. When m.RequestID is
// zero a fresh request id is assigned and returned; replies keep the id of
// the request they answer.
type Transport interface {
	Send(m *wire.Message, to netip.AddrPort) (uint64, error)
}

// CommandCodec translates the application-level value of one custom command.
// Codecs are consulted for commands outside the builtin set only.
type CommandCodec interface {
	Decode(value []byte) ([]byte, error)
	Encode(value []byte) ([]byte, error)
}

// QueryResult is handed to the caller when a query leaves the pool.
type QueryResult struct {
	ID        QueryID
	Command   string
	Target    knode.ID
	Stats     QueryStats
	Nodes     []knode.Node // closest known peers, ascending by distance
	Responses []Response
	TimedOut  bool
}

// pendingRequest correlates an outbound request id with the query that sent
// it. Entries expire at their deadline, which is how peer timeouts surface.
type pendingRequest struct {
	query    QueryID
	peer     knode.ID
	deadline time.Time
}

// DHT is the node-level coordinator. It owns the routing table and the
// query pool; inbound traffic flows in through OnRequest/OnResponse and
// query progress is driven by Poll. It is not safe for concurrent use.
type DHT struct {
	cfg       Config
	self      knode.Node
	tab       *Table
	pool      *QueryPool
	transport Transport

	commands map[string]CommandCodec
	pending  map[uint64]*pendingRequest

	// externalAddr is our endpoint as reported by peers, used for NAT
	// self-address discovery.
	externalAddr netip.AddrPort

	log *logrus.Entry
}

// New creates a DHT node around the given configuration.
func New(cfg Config) (*DHT, error) {
	if cfg.Transport == nil {
		return nil, ErrNoTransport
	}
	cfg = cfg.withDefaults()
	log := cfg.Log.WithField("self", cfg.LocalNode.ID().TerminalString())
	d := &DHT{
		cfg:       cfg,
		self:      cfg.LocalNode,
		tab:       NewTable(cfg.LocalNode.ID(), log),
		pool:      newQueryPool(cfg.LocalNode.ID(), cfg.QueryTimeout, log),
		transport: cfg.Transport,
		commands:  make(map[string]CommandCodec),
		pending:   make(map[uint64]*pendingRequest),
		log:       log,
	}
	return d, nil
}

// Self returns the local node.
func (d *DHT) Self() knode.Node { return d.self }

// Table returns the routing table. Callers must not mutate it; all writes
// funnel through the dispatcher so bucket invariants stay centrally
// enforced.
func (d *DHT) Table() *Table { return d.tab }

// Pool returns the query pool.
func (d *DHT) Pool() *QueryPool { return d.pool }

// ExternalAddr returns our own endpoint as last reported by a peer, or the
// zero value if no peer has told us yet.
func (d *DHT) ExternalAddr() netip.AddrPort { return d.externalAddr }

// RegisterCommand installs the codec for a custom command name.
func (d *DHT) RegisterCommand(name string, codec CommandCodec) {
	d.commands[name] = codec
}

// Query starts a lookup for the given command and target.
func (d *DHT) Query(cmd string, target knode.ID, value []byte) QueryID {
	return d.startQuery(cmd, QueryTypeQuery, target, value)
}

// Update starts a replication write against the closest peers to target.
func (d *DHT) Update(cmd string, target knode.ID, value []byte) QueryID {
	return d.startQuery(cmd, QueryTypeUpdate, target, value)
}

// QueryAndUpdate runs a lookup and then replicates to the stabilized
// closest set.
func (d *DHT) QueryAndUpdate(cmd string, target knode.ID, value []byte) QueryID {
	return d.startQuery(cmd, QueryTypeQueryUpdate, target, value)
}

// Lookup starts a plain FIND_NODE query for the target.
func (d *DHT) Lookup(target knode.ID) QueryID {
	return d.Query(wire.CmdFindNode, target, nil)
}

// Bootstrap starts a lookup for our own identifier, populating the routing
// table with our closest neighborhood.
func (d *DHT) Bootstrap() QueryID {
	return d.Lookup(d.self.ID())
}

func (d *DHT) startQuery(cmd string, qtype QueryType, target knode.ID, value []byte) QueryID {
	seeds := d.tab.Closest(target, bucketSize)
	return d.pool.Add(cmd, qtype, target, value, seeds, d.cfg.Clock())
}

// Ping sends a standalone ping to the given peer. The response, if any,
// refreshes the routing table when it arrives.
func (d *DHT) Ping(n knode.Node) error {
	rid, err := d.transport.Send(&wire.Message{
		Type:    wire.TypeQuery,
		Command: wire.CmdPing,
		ID:      d.senderID(),
		Value:   d.self.ID().Bytes(),
	}, n.Addr())
	if err != nil {
		return err
	}
	d.pending[rid] = &pendingRequest{peer: n.ID(), deadline: d.cfg.Clock().Add(d.cfg.RespTimeout)}
	return nil
}

// OnRequest handles one inbound request. The sender is added to the routing
// table before dispatch if its claimed identifier is well-formed; handler
// errors are local and never tear down the caller's loop.
func (d *DHT) OnRequest(m *wire.Message, from Peer) error {
	if id, ok := m.ValidID(); ok {
		d.addNode(id, from, nil, m.To)
	}
	if m.Command == "" {
		return ErrMissingCommand
	}
	switch m.Command {
	case wire.CmdPing:
		return d.onPing(m, from)
	case wire.CmdFindNode:
		return d.onFindNode(m, from)
	case wire.CmdHolePunch:
		return d.onHolePunch(m, from)
	default:
		return d.onCommand(m.Command, m, from)
	}
}

// OnResponse handles one inbound response: a routing-table upsert with the
// carried roundtrip token, then correlation back to the owning query.
// Responses that no longer correlate (cancelled or finished queries) are
// dropped silently.
func (d *DHT) OnResponse(m *wire.Message, from Peer) {
	id, validID := m.ValidID()
	if validID {
		d.addNode(id, from, m.RoundtripToken, m.To)
	}
	req, ok := d.pending[m.RequestID]
	if !ok {
		d.log.WithField("addr", from.Addr).Trace("Uncorrelated response")
		return
	}
	if validID && id != req.peer {
		d.log.WithFields(logrus.Fields{"addr": from.Addr, "id": id.TerminalString()}).
			Trace("Response id mismatch")
		return
	}
	delete(d.pending, m.RequestID)
	if req.query == 0 {
		return // standalone ping, the table upsert was the point
	}
	q := d.pool.Get(req.query)
	if q == nil {
		return
	}
	q.injectResponse(knode.New(req.peer, from.Addr), m, d.cfg.Clock())
}

// Poll advances the node by at most one internal action: expiring overdue
// requests, forwarding one query-pool event, or surfacing a completed
// query. The returned result is non-nil when a query left the pool; more
// reports whether another call may produce further work this tick.
func (d *DHT) Poll(now time.Time) (result *QueryResult, more bool) {
	d.expirePending(now)

	state := d.pool.Poll(now)
	switch state.State {
	case PoolIdle:
		return nil, false
	case PoolWaiting:
		if state.ev == nil {
			return nil, false
		}
		d.handleQueryEvent(state.Stream, state.ev, now)
		return nil, true
	case PoolFinished, PoolTimeout:
		q := state.Stream
		return &QueryResult{
			ID:        q.ID(),
			Command:   q.Command(),
			Target:    q.Target(),
			Stats:     q.Stats(),
			Nodes:     q.Result(),
			Responses: q.Responses(),
			TimedOut:  state.State == PoolTimeout,
		}, true
	}
	return nil, false
}

// expirePending walks the pending-request table and reports overdue
// requests to their streams. Timeout is a soft deadline evaluated here, not
// an asynchronous preemption.
func (d *DHT) expirePending(now time.Time) {
	for rid, req := range d.pending {
		if now.Before(req.deadline) {
			continue
		}
		delete(d.pending, rid)
		if q := d.pool.Get(req.query); q != nil {
			q.onTimeout(req.peer, now)
		}
	}
}

func (d *DHT) handleQueryEvent(q *QueryStream, ev queryEvent, now time.Time) {
	switch ev := ev.(type) {
	case *sendEvent:
		d.sendQueryRequest(q, ev, now)
	case *removeNodeEvent:
		d.tab.RemoveNode(ev.id)
	case *bootstrapEvent:
		seeds := d.tab.Closest(ev.target, bucketSize)
		q.addBootstrapPeers(append(seeds, d.cfg.Bootstrap...))
	}
}

// sendQueryRequest turns a stream's send event into an outbound message and
// records the pending entry for response correlation. A send error counts
// as an immediate timeout so the stream's retry budget applies.
func (d *DHT) sendQueryRequest(q *QueryStream, ev *sendEvent, now time.Time) {
	m := &wire.Message{
		Type:    ev.ty,
		Command: ev.cmd,
		ID:      d.senderID(),
		Target:  ev.target.Bytes(),
		Value:   ev.value,
	}
	if ev.ty == wire.TypeUpdate {
		m.RoundtripToken = d.tab.Token(ev.peer.ID())
	}
	rid, err := d.transport.Send(m, ev.peer.Addr())
	if err != nil {
		d.log.WithFields(logrus.Fields{"peer": ev.peer.ID().TerminalString(), "err": err}).
			Debug("Query send failed")
		q.onTimeout(ev.peer.ID(), now)
		return
	}
	d.pending[rid] = &pendingRequest{
		query:    q.ID(),
		peer:     ev.peer.ID(),
		deadline: now.Add(d.cfg.RespTimeout),
	}
}

// senderID is the identifier announced in outbound messages. Ephemeral
// nodes announce none, so remotes never insert them.
func (d *DHT) senderID() []byte {
	if d.cfg.Ephemeral {
		return nil
	}
	return d.self.ID().Bytes()
}

// addNode upserts a peer learned from inbound traffic, and records the
// external address the peer observed for us.
func (d *DHT) addNode(id knode.ID, from Peer, token, to []byte) {
	if id == d.self.ID() {
		return
	}
	d.tab.AddNode(knode.New(id, from.Addr), token, d.cfg.Clock())
	if ap, ok := wire.DecodeAddr(to); ok {
		d.externalAddr = ap
	}
}

// onPing answers a ping with the caller's externally observed address. A
// ping whose value equals our own identifier is a self-check and produces
// no reply.
func (d *DHT) onPing(m *wire.Message, from Peer) error {
	if len(m.Value) == knode.IDLen && knode.ID(m.Value) == d.self.ID() {
		return nil
	}
	return d.reply(m, from, wire.EncodeAddr(from.Addr), nil)
}

// onFindNode answers with the closest known peers to the requested target.
func (d *DHT) onFindNode(m *wire.Message, from Peer) error {
	target, ok := m.ValidTarget()
	if !ok {
		return ErrMissingTarget
	}
	closest := d.tab.Closest(target, bucketSize)
	return d.reply(m, from, nil, wire.EncodePeers(closest))
}

// onHolePunch forwards the request to the NAT-traversal collaborator.
func (d *DHT) onHolePunch(m *wire.Message, from Peer) error {
	if d.cfg.HolePunch == nil {
		return nil
	}
	return d.cfg.HolePunch(m, from)
}

// onCommand resolves a custom command through the codec registry. The reply
// carries the re-encoded value plus the peers closest to the target, so
// custom queries make lookup progress too.
func (d *DHT) onCommand(name string, m *wire.Message, from Peer) error {
	target, ok := m.ValidTarget()
	if !ok {
		return ErrMissingTarget
	}
	codec, ok := d.commands[name]
	if !ok {
		return &UnknownCommandError{Name: name}
	}
	value, err := codec.Decode(m.Value)
	if err != nil {
		return err
	}
	out, err := codec.Encode(value)
	if err != nil {
		return err
	}
	closest := d.tab.Closest(target, bucketSize)
	return d.reply(m, from, out, wire.EncodePeers(closest))
}

// reply sends a response bound to the request's id, carrying a fresh
// roundtrip token the peer must echo in a later update.
func (d *DHT) reply(req *wire.Message, from Peer, value, nodes []byte) error {
	token := uuid.New()
	m := &wire.Message{
		Type:           wire.TypeResponse,
		RequestID:      req.RequestID,
		ID:             d.senderID(),
		Value:          value,
		Nodes:          nodes,
		To:             wire.EncodeAddr(from.Addr),
		RoundtripToken: token[:],
	}
	_, err := d.transport.Send(m, from.Addr)
	return err
}
