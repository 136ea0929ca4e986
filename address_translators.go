/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cassring

import (
	"fmt"
	"net"
	"strconv"
)

// AddressTranslator provides a way to translate node addresses (and ports) that are
// discovered or received as a node event. This can be useful in an ec2 environment,
// for instance, to translate public IPs to private IPs.
type AddressTranslator interface {
	// Translate will translate the provided address and/or port to another
	// address and/or port. If no translation is possible, Translate will return the
	// address and port provided to it.
	Translate(addr net.IP, port int) (net.IP, int)
}

type AddressTranslatorFunc func(addr net.IP, port int) (net.IP, int)

func (fn AddressTranslatorFunc) Translate(addr net.IP, port int) (net.IP, int) {
	return fn(addr, port)
}

// IdentityTranslator will do nothing but return what it was provided. It is
// essentially a no-op.
func IdentityTranslator() AddressTranslator {
	return AddressTranslatorFunc(func(addr net.IP, port int) (net.IP, int) {
		return addr, port
	})
}

// StaticAddressTranslator translates endpoints using a fixed table. Keys are
// either "ip" or "ip:port"; values are "ip" (port kept) or "ip:port".
// An "ip:port" key takes precedence over a bare "ip" key.
func StaticAddressTranslator(mapping map[string]string) (AddressTranslator, error) {
	type endpoint struct {
		ip   net.IP
		port int
	}

	table := make(map[string]endpoint, len(mapping))
	for from, to := range mapping {
		ip, port, err := splitEndpoint(to)
		if err != nil {
			return nil, fmt.Errorf("cassring: address translation %q -> %q: %w", from, to, err)
		}
		table[from] = endpoint{ip: ip, port: port}
	}

	return AddressTranslatorFunc(func(addr net.IP, port int) (net.IP, int) {
		key := net.JoinHostPort(addr.String(), strconv.Itoa(port))
		to, ok := table[key]
		if !ok {
			to, ok = table[addr.String()]
		}
		if !ok {
			return addr, port
		}
		if to.port == 0 {
			return to.ip, port
		}
		return to.ip, to.port
	}), nil
}

func splitEndpoint(s string) (net.IP, int, error) {
	if ip := net.ParseIP(s); ip != nil {
		return ip, 0, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return nil, 0, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, fmt.Errorf("invalid ip %q", host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid port %q", portStr)
	}
	return ip, port, nil
}
