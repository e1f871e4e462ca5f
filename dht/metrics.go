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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingressTrafficMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dht_ingress_bytes_total",
		Help: "Inbound DHT traffic in bytes.",
	})
	egressTrafficMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dht_egress_bytes_total",
		Help: "Outbound DHT traffic in bytes.",
	})
	ingressPacketsMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dht_ingress_packets_total",
		Help: "Inbound DHT packets.",
	})
	egressPacketsMeter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dht_egress_packets_total",
		Help: "Outbound DHT packets.",
	})
	queriesStartedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dht_queries_started_total",
		Help: "Queries added to the pool.",
	})
	queriesFinishedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dht_queries_finished_total",
		Help: "Queries run to completion.",
	})
	queriesTimedOutCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dht_queries_timeout_total",
		Help: "Queries drained after exceeding their deadline.",
	})
	tableSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dht_table_nodes",
		Help: "Number of nodes in the routing table.",
	})
)
