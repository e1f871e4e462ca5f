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

package knode

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(b ...byte) ID {
	var out ID
	copy(out[:], b)
	return out
}

func TestIDFromBytes(t *testing.T) {
	_, err := IDFromBytes(make([]byte, 31))
	assert.Error(t, err)
	_, err = IDFromBytes(make([]byte, 33))
	assert.Error(t, err)
	_, err = IDFromBytes(nil)
	assert.Error(t, err)

	want := RandomID()
	got, err := IDFromBytes(want.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDistance(t *testing.T) {
	a := id(0x01)
	b := id(0x02)
	assert.Equal(t, Distance(a, b), Distance(b, a), "distance must be symmetric")
	assert.True(t, Distance(a, a).IsZero())

	// 0x01 ^ 0x02 == 0x03 in the most significant byte.
	d := Distance(a, b)
	assert.Equal(t, uint(0x03), uint(d.Bytes32()[0]))
}

func TestDistCmp(t *testing.T) {
	target := id()
	a := id(0x01)
	b := id(0x08)
	assert.Equal(t, -1, DistCmp(target, a, b))
	assert.Equal(t, 1, DistCmp(target, b, a))
	assert.Equal(t, 0, DistCmp(target, a, a))

	// DistCmp must agree with the full distance ordering.
	for i := 0; i < 64; i++ {
		x, y := RandomID(), RandomID()
		want := Distance(x, target).Cmp(Distance(y, target))
		assert.Equal(t, want, DistCmp(target, x, y))
	}
}

func TestLogDist(t *testing.T) {
	a := id()
	assert.Equal(t, 0, LogDist(a, a))
	assert.Equal(t, 256, LogDist(a, id(0x80)))
	assert.Equal(t, 249, LogDist(a, id(0x01)))

	var far ID
	far[IDLen-1] = 0x80
	assert.Equal(t, 8, LogDist(a, far))
}

func TestHashID(t *testing.T) {
	h1 := HashID([]byte("hello"))
	h2 := HashID([]byte("hello"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, HashID([]byte("world")))
}

func TestNode(t *testing.T) {
	addr := netip.MustParseAddrPort("10.0.0.1:4200")
	n := New(id(0xaa), addr)
	assert.Equal(t, id(0xaa), n.ID())
	assert.Equal(t, addr, n.Addr())
}
