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

package wire

import (
	"encoding/binary"
	"net/netip"

	"github.com/hyperdht/dhtrpc/knode"
)

// Closest-peers responses carry a packed sequence of (id, IPv4, port)
// tuples. The layout is fixed by the protocol: 32 id bytes, 4 address
// bytes, 2 port bytes big-endian.
const (
	addrLen      = 6
	peerTupleLen = knode.IDLen + addrLen
)

// EncodePeers packs nodes into the closest-peers wire format. Nodes without
// an IPv4 address are skipped.
func EncodePeers(nodes []knode.Node) []byte {
	b := make([]byte, 0, len(nodes)*peerTupleLen)
	for _, n := range nodes {
		addr := n.Addr()
		if !addr.Addr().Is4() && !addr.Addr().Is4In6() {
			continue
		}
		id := n.ID()
		b = append(b, id[:]...)
		ip4 := addr.Addr().As4()
		b = append(b, ip4[:]...)
		b = binary.BigEndian.AppendUint16(b, addr.Port())
	}
	return b
}

// DecodePeers unpacks a closest-peers payload. A trailing partial tuple is
// ignored rather than treated as an error.
func DecodePeers(b []byte) []knode.Node {
	nodes := make([]knode.Node, 0, len(b)/peerTupleLen)
	for len(b) >= peerTupleLen {
		id, _ := knode.IDFromBytes(b[:knode.IDLen])
		addr := netip.AddrFrom4([4]byte(b[knode.IDLen : knode.IDLen+4]))
		port := binary.BigEndian.Uint16(b[knode.IDLen+4 : peerTupleLen])
		nodes = append(nodes, knode.New(id, netip.AddrPortFrom(addr, port)))
		b = b[peerTupleLen:]
	}
	return nodes
}

// EncodeAddr packs a single endpoint. Ping replies carry the caller's
// externally observed address in this form.
func EncodeAddr(ap netip.AddrPort) []byte {
	if !ap.Addr().Is4() && !ap.Addr().Is4In6() {
		return nil
	}
	b := make([]byte, 0, addrLen)
	ip4 := ap.Addr().As4()
	b = append(b, ip4[:]...)
	return binary.BigEndian.AppendUint16(b, ap.Port())
}

// DecodeAddr unpacks a single endpoint encoded by EncodeAddr.
func DecodeAddr(b []byte) (netip.AddrPort, bool) {
	if len(b) != addrLen {
		return netip.AddrPort{}, false
	}
	addr := netip.AddrFrom4([4]byte(b[:4]))
	return netip.AddrPortFrom(addr, binary.BigEndian.Uint16(b[4:])), true
}
