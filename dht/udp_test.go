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
	"bytes"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperdht/dhtrpc/wire"
)

type dgram struct {
	b    []byte
	from netip.AddrPort
}

// pipeConn is an in-memory UDPConn. Reads consume from the in channel,
// writes are recorded.
type pipeConn struct {
	in     chan dgram
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out []dgram
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan dgram, 16), closed: make(chan struct{})}
}

func (c *pipeConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-c.in:
		return copy(b, d.b), d.from, nil
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (c *pipeConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, dgram{b: bytes.Clone(b), from: addr})
	return len(b), nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IP{127, 0, 0, 1}, Port: 40000}
}

func (c *pipeConn) written() []dgram {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

func TestUDPTransportSend(t *testing.T) {
	conn := newPipeConn()
	tr := NewUDPTransport(conn, testLog())

	rid1, err := tr.Send(&wire.Message{Type: wire.TypeQuery, Command: wire.CmdPing}, taddr(2))
	require.NoError(t, err)
	rid2, err := tr.Send(&wire.Message{Type: wire.TypeQuery, Command: wire.CmdPing}, taddr(2))
	require.NoError(t, err)
	assert.NotZero(t, rid1)
	assert.NotEqual(t, rid1, rid2)

	// Responses keep the id of the request they answer.
	rid3, err := tr.Send(&wire.Message{Type: wire.TypeResponse, RequestID: rid1}, taddr(2))
	require.NoError(t, err)
	assert.Equal(t, rid1, rid3)

	out := conn.written()
	require.Len(t, out, 3)
	m, err := wire.Decode(out[0].b)
	require.NoError(t, err)
	assert.Equal(t, wire.CmdPing, m.Command)
	assert.Equal(t, rid1, m.RequestID)
	assert.Equal(t, taddr(2), out[0].from)
}

func TestUDPTransportSendTooBig(t *testing.T) {
	conn := newPipeConn()
	tr := NewUDPTransport(conn, testLog())
	_, err := tr.Send(&wire.Message{
		Type:  wire.TypeQuery,
		Value: bytes.Repeat([]byte{0xff}, wire.MaxPacketSize),
	}, taddr(2))
	assert.Error(t, err)
	assert.Empty(t, conn.written())
}

func TestUDPTransportReadLoop(t *testing.T) {
	conn := newPipeConn()
	tr := NewUDPTransport(conn, testLog())

	ch := make(chan Packet, 16)
	done := make(chan error, 1)
	go func() { done <- tr.ReadLoop(ch) }()

	valid, err := wire.Encode(&wire.Message{Type: wire.TypeQuery, RequestID: 1, Command: wire.CmdPing})
	require.NoError(t, err)
	conn.in <- dgram{b: []byte{0xc1}, from: taddr(3)} // undecodable, skipped
	conn.in <- dgram{b: valid, from: taddr(3)}

	select {
	case pkt := <-ch:
		assert.Equal(t, wire.CmdPing, pkt.Msg.Command)
		assert.Equal(t, taddr(3), pkt.From)
	case <-time.After(time.Second):
		t.Fatal("no packet delivered")
	}

	// Closing the socket ends the loop cleanly and closes the channel.
	require.NoError(t, tr.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop")
	}
	_, open := <-ch
	assert.False(t, open)
}

func TestUDPTransportCloseUnblocksDelivery(t *testing.T) {
	conn := newPipeConn()
	tr := NewUDPTransport(conn, testLog())

	// Nobody drains the channel, as after the event loop has shut down.
	ch := make(chan Packet)
	done := make(chan error, 1)
	go func() { done <- tr.ReadLoop(ch) }()

	valid, err := wire.Encode(&wire.Message{Type: wire.TypeQuery, RequestID: 1, Command: wire.CmdPing})
	require.NoError(t, err)
	conn.in <- dgram{b: valid, from: taddr(3)}

	// Wait for the loop to pick the packet up and block on delivery.
	for i := 0; i < 1000 && len(conn.in) > 0; i++ {
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, tr.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("read loop stuck on channel delivery after close")
	}
}

func TestHandleMessage(t *testing.T) {
	d, tr, _ := newTestDHT(t, nil)

	err := d.HandleMessage(&wire.Message{Type: wire.TypeQuery}, PeerFrom(taddr(9)))
	assert.ErrorIs(t, err, ErrMissingCommand)

	// Responses never produce handler errors.
	err = d.HandleMessage(&wire.Message{Type: wire.TypeResponse, RequestID: 1}, PeerFrom(taddr(9)))
	assert.NoError(t, err)
	assert.Empty(t, tr.take())
}
