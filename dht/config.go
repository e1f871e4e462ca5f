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

// Config holds settings for a DHT node.
type Config struct {
	// LocalNode is the identity and advertised endpoint of this node.
	LocalNode knode.Node

	// Transport sends encoded messages. Required.
	Transport Transport

	// All remaining settings are optional.

	// Ephemeral nodes take part in queries without announcing their own
	// identifier, so remotes never add them to their routing tables.
	Ephemeral bool

	// Bootstrap nodes are the initial points of contact used when the
	// routing table cannot seed a query.
	Bootstrap []knode.Node

	// RespTimeout is the per-request soft deadline.
	RespTimeout time.Duration

	// QueryTimeout caps the total wall-clock time of one query.
	QueryTimeout time.Duration

	// HolePunch receives _holepunch requests for the NAT-traversal
	// collaborator. Requests are dropped when unset.
	HolePunch func(m *wire.Message, from Peer) error

	// The options below are useful in very specific cases, like in unit tests.
	Clock func() time.Time // time source
	Log   *logrus.Logger   // if set, log messages go here
}

func (cfg Config) withDefaults() Config {
	if cfg.RespTimeout == 0 {
		cfg.RespTimeout = 2 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return cfg
}
