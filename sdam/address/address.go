// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package address provides the value type used to identify a server
// endpoint within a topology.
package address

import (
	"net"
	"strings"
)

// Address is a network address to a server. It can be a hostname or IP
// address, followed optionally by a colon and a port number.
type Address string

// String implements the Stringer interface.
func (a Address) String() string {
	return string(a)
}

// Network returns the network type for this address, "tcp" unless the
// address is a Unix domain socket path ending in ".sock".
func (a Address) Network() string {
	if strings.HasSuffix(string(a), ".sock") {
		return "unix"
	}
	return "tcp"
}

// Canonicalize returns the result of canonicalizing the address, lower-casing
// the host portion so that two equivalent addresses compare equal regardless
// of the case used to enter them (e.g. in a connection string).
func (a Address) Canonicalize() Address {
	if a.Network() == "unix" {
		return a
	}

	host, port, err := net.SplitHostPort(string(a))
	if err != nil {
		// Either there was no port, or the address is malformed. Either way,
		// lower-casing the whole thing is a reasonable fallback.
		return Address(strings.ToLower(string(a)))
	}

	host = strings.ToLower(host)
	if port == "" {
		return Address(host)
	}
	return Address(net.JoinHostPort(host, port))
}
