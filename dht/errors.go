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
	"fmt"
)

// Request-handling errors. These are reported to the dispatcher's caller and
// never tear down the event loop.
var (
	// ErrMissingCommand is returned for inbound requests carrying no command.
	ErrMissingCommand = errors.New("dht: message has no command")

	// ErrMissingTarget is returned when a command that requires a target key
	// arrived without one.
	ErrMissingTarget = errors.New("dht: command requires a target")

	// ErrNoTransport is returned by New when no transport was configured.
	ErrNoTransport = errors.New("dht: no transport configured")
)

// UnknownCommandError is returned for inbound requests naming a command with
// no registered codec.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("dht: unknown command %q", e.Name)
}
