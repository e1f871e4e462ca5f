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
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/hyperdht/dhtrpc/wire"
)

// UDPConn is a network connection on which the DHT can operate.
type UDPConn interface {
	ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (n int, err error)
	Close() error
	LocalAddr() net.Addr
}

// Packet is a decoded inbound message together with its source address.
type Packet struct {
	Msg  *wire.Message
	From netip.AddrPort
}

// UDPTransport implements Transport over a UDP socket. Sends may happen
// from the event loop while ReadLoop runs in its own goroutine; the
// request-id counter is the only shared state.
type UDPTransport struct {
	conn      UDPConn
	nextID    atomic.Uint64
	closing   chan struct{} // closed by Close, unblocks a stalled delivery
	closeOnce sync.Once
	log       *logrus.Entry
}

// NewUDPTransport wraps an open UDP socket.
func NewUDPTransport(conn UDPConn, log *logrus.Entry) *UDPTransport {
	return &UDPTransport{conn: conn, closing: make(chan struct{}), log: log}
}

// Send encodes and writes one message. A fresh request id is assigned when
// the message doesn't carry one; responses keep the id they answer.
func (t *UDPTransport) Send(m *wire.Message, to netip.AddrPort) (uint64, error) {
	if m.RequestID == 0 && m.Type != wire.TypeResponse {
		m.RequestID = t.nextID.Add(1)
	}
	b, err := wire.Encode(m)
	if err != nil {
		return 0, err
	}
	n, err := t.conn.WriteToUDPAddrPort(b, to)
	egressTrafficMeter.Add(float64(n))
	egressPacketsMeter.Inc()
	t.log.WithFields(logrus.Fields{"cmd": m.Command, "addr": to, "err": err}).
		Trace(">> " + m.Type.String())
	return m.RequestID, err
}

// ReadLoop reads and decodes packets until the socket closes, delivering
// them on ch. It is meant to run in its own goroutine; the consumer is the
// single event loop owning the DHT.
func (t *UDPTransport) ReadLoop(ch chan<- Packet) error {
	defer close(ch)

	buf := make([]byte, wire.MaxPacketSize)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if isTemporaryError(err) {
			t.log.WithField("err", err).Debug("Temporary UDP read error")
			continue
		} else if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				t.log.WithField("err", err).Debug("UDP read error")
				return err
			}
			return nil
		}
		ingressTrafficMeter.Add(float64(n))
		ingressPacketsMeter.Inc()
		m, err := wire.Decode(buf[:n])
		if err != nil {
			t.log.WithFields(logrus.Fields{"addr": from, "err": err}).Debug("Bad packet")
			continue
		}
		// The consumer may already be gone on shutdown; a plain send
		// would wedge the loop with Close only unblocking the read.
		select {
		case ch <- Packet{Msg: m, From: from}:
		case <-t.closing:
			return nil
		}
	}
}

// Close shuts down the socket, ending ReadLoop even when the consumer has
// stopped draining its channel.
func (t *UDPTransport) Close() (err error) {
	t.closeOnce.Do(func() {
		close(t.closing)
		err = t.conn.Close()
	})
	return err
}

func isTemporaryError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// HandleMessage routes one decoded packet into the dispatcher. Request
// errors are reported to the caller for logging; they are never fatal.
func (d *DHT) HandleMessage(m *wire.Message, from Peer) error {
	if m.Type == wire.TypeResponse {
		d.OnResponse(m, from)
		return nil
	}
	return d.OnRequest(m, from)
}
