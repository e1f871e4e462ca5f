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
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hyperdht/dhtrpc/knode"
	"github.com/hyperdht/dhtrpc/wire"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func tid(b ...byte) knode.ID {
	var id knode.ID
	copy(id[:], b)
	return id
}

func taddr(i byte) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, i}), 40000+uint16(i))
}

func tnode(i byte) knode.Node {
	return knode.New(tid(0x80, i), taddr(i))
}

type sentPacket struct {
	msg *wire.Message
	to  netip.AddrPort
}

// fakeTransport records outbound messages and assigns request ids the way the
// UDP transport does.
type fakeTransport struct {
	sent   []sentPacket
	nextID uint64
	err    error
}

func (tr *fakeTransport) Send(m *wire.Message, to netip.AddrPort) (uint64, error) {
	if tr.err != nil {
		return 0, tr.err
	}
	if m.RequestID == 0 && m.Type != wire.TypeResponse {
		tr.nextID++
		m.RequestID = tr.nextID
	}
	cp := *m
	tr.sent = append(tr.sent, sentPacket{msg: &cp, to: to})
	return m.RequestID, nil
}

// take drains the recorded packets.
func (tr *fakeTransport) take() []sentPacket {
	s := tr.sent
	tr.sent = nil
	return s
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDHT(t *testing.T, mod func(*Config)) (*DHT, *fakeTransport, *fakeClock) {
	t.Helper()
	tr := &fakeTransport{}
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	l := logrus.New()
	l.SetOutput(io.Discard)
	cfg := Config{
		LocalNode: knode.New(tid(0x01), taddr(1)),
		Transport: tr,
		Clock:     clk.Now,
		Log:       l,
	}
	if mod != nil {
		mod(&cfg)
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d, tr, clk
}

// respondTo answers an outbound request as the node with the given id,
// carrying the supplied closer-nodes payload.
func respondTo(d *DHT, pkt sentPacket, from knode.ID, nodes []knode.Node, token []byte) {
	m := &wire.Message{
		Type:           wire.TypeResponse,
		RequestID:      pkt.msg.RequestID,
		ID:             from.Bytes(),
		RoundtripToken: token,
		Nodes:          wire.EncodePeers(nodes),
	}
	d.OnResponse(m, PeerFrom(pkt.to))
}
