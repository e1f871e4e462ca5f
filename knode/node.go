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

// Package knode holds the node identity types of the DHT: the fixed-length
// identifier, its XOR distance metric and the (id, address) node value.
package knode

import (
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"net/netip"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// IDLen is the length of a node identifier in bytes.
const IDLen = 32

var errBadIDLen = errors.New("knode: identifier must be 32 bytes")

// ID is a unique identifier for each node. It doubles as the key type of the
// XOR metric: lookup targets are IDs too and need not belong to a live node.
type ID [IDLen]byte

// Bytes returns a byte slice representation of the ID.
func (id ID) Bytes() []byte {
	return id[:]
}

// String is the hex representation of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// TerminalString returns a shortened hex string for terminal logging.
func (id ID) TerminalString() string {
	return hex.EncodeToString(id[:8])
}

// IDFromBytes converts b to an ID. It is the validation primitive for
// sender-claimed identifiers: any length other than IDLen is rejected.
func IDFromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != IDLen {
		return id, errBadIDLen
	}
	copy(id[:], b)
	return id, nil
}

// HashID derives an ID from arbitrary bytes using Keccak-256.
func HashID(data []byte) ID {
	var id ID
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	h.Sum(id[:0])
	return id
}

// RandomID returns a uniformly random identifier.
func RandomID() ID {
	var id ID
	crand.Read(id[:])
	return id
}

// Distance returns the XOR distance between a and b as a 256-bit integer.
func Distance(a, b ID) *uint256.Int {
	var d [IDLen]byte
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return new(uint256.Int).SetBytes(d[:])
}

// DistCmp compares the distances a->target and b->target. It returns -1 if
// a is closer to target, 1 if b is closer, and 0 if they are equal. Unlike
// Distance it does not allocate.
func DistCmp(target, a, b ID) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da > db {
			return 1
		} else if da < db {
			return -1
		}
	}
	return 0
}

// LogDist returns the logarithmic distance between a and b, log2(a ^ b).
func LogDist(a, b ID) int {
	lz := 0
	for i := range a {
		x := a[i] ^ b[i]
		if x == 0 {
			lz += 8
		} else {
			lz += bits.LeadingZeros8(x)
			break
		}
	}
	return len(a)*8 - lz
}

// Node is a live network endpoint: an identifier bound to a UDP address.
// Nodes are immutable once created.
type Node struct {
	id   ID
	addr netip.AddrPort
}

// New creates a node value.
func New(id ID, addr netip.AddrPort) Node {
	return Node{id: id, addr: addr}
}

// ID returns the node identifier.
func (n Node) ID() ID {
	return n.id
}

// Addr returns the UDP endpoint of the node.
func (n Node) Addr() netip.AddrPort {
	return n.addr
}

func (n Node) String() string {
	return fmt.Sprintf("%s@%s", n.id.TerminalString(), n.addr)
}
