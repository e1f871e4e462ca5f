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

import "time"

// QueryStats holds execution counters of a single query. Requests counts
// dispatched requests, so Requests >= Success+Failure holds at all times and
// the difference is the number of requests still in flight.
//
// Stats are kept per query phase and merged when the query transitions, so
// Merge must stay commutative and associative.
type QueryStats struct {
	Requests uint32
	Success  uint32
	Failure  uint32
	Start    time.Time // time of the first dispatched request, zero if none
	End      time.Time // time of termination, zero while running
}

// Pending returns the number of requests without an outcome yet.
func (s QueryStats) Pending() uint32 {
	return s.Requests - s.Success - s.Failure
}

// Merge combines two stats values. Counters add up; Start is the earliest
// non-zero start and End the latest end, with the zero time absorbing.
func (s QueryStats) Merge(o QueryStats) QueryStats {
	m := QueryStats{
		Requests: s.Requests + o.Requests,
		Success:  s.Success + o.Success,
		Failure:  s.Failure + o.Failure,
		Start:    s.Start,
		End:      s.End,
	}
	if m.Start.IsZero() || (!o.Start.IsZero() && o.Start.Before(m.Start)) {
		m.Start = o.Start
	}
	if o.End.After(m.End) {
		m.End = o.End
	}
	return m
}

// Duration returns the elapsed time of the query, zero if it never started.
func (s QueryStats) Duration() time.Duration {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}
