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

// Package wire defines the RPC message model and its msgpack encoding.
package wire

import (
	"errors"

	msgpack "gopkg.in/vmihailenco/msgpack.v2"

	"github.com/hyperdht/dhtrpc/knode"
)

// Type distinguishes the three message kinds on the wire.
type Type byte

const (
	TypeQuery    Type = 1
	TypeUpdate   Type = 2
	TypeResponse Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeQuery:
		return "query"
	case TypeUpdate:
		return "update"
	case TypeResponse:
		return "response"
	}
	return "unknown"
}

// Builtin command names. Any other command string is dispatched through the
// registered codec for that name.
const (
	CmdPing      = "_ping"
	CmdFindNode  = "_find_node"
	CmdHolePunch = "_holepunch"
)

// Messages are defined to be no larger than 1280 bytes. Larger packets are
// cut at the end and treated as invalid by the receiver.
const MaxPacketSize = 1280

var (
	errPacketTooBig = errors.New("wire: packet exceeds 1280 bytes")
	errEmptyPacket  = errors.New("wire: empty packet")
)

// Message is a decoded RPC message. Optional fields are nil when absent.
type Message struct {
	Type           Type   `msgpack:"type"`
	RequestID      uint64 `msgpack:"rid"`
	Command        string `msgpack:"command,omitempty"`
	ID             []byte `msgpack:"id,omitempty"`
	Target         []byte `msgpack:"target,omitempty"`
	Value          []byte `msgpack:"value,omitempty"`
	To             []byte `msgpack:"to,omitempty"`
	RoundtripToken []byte `msgpack:"roundtripToken,omitempty"`
	Nodes          []byte `msgpack:"closerNodes,omitempty"`
}

// ValidID returns the sender-claimed identifier if it has the correct
// length. Messages with malformed ids are processed as if the sender were
// unknown.
func (m *Message) ValidID() (knode.ID, bool) {
	id, err := knode.IDFromBytes(m.ID)
	return id, err == nil
}

// ValidTarget returns the target key if present and well-formed.
func (m *Message) ValidTarget() (knode.ID, bool) {
	id, err := knode.IDFromBytes(m.Target)
	return id, err == nil
}

// Encode marshals m, enforcing the packet size cap.
func Encode(m *Message) ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxPacketSize {
		return nil, errPacketTooBig
	}
	return b, nil
}

// Decode unmarshals a packet received from the wire.
func Decode(b []byte) (*Message, error) {
	if len(b) == 0 {
		return nil, errEmptyPacket
	}
	if len(b) > MaxPacketSize {
		return nil, errPacketTooBig
	}
	m := new(Message)
	if err := msgpack.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}
