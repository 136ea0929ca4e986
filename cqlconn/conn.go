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

// Package cqlconn provides a cassring.Conn backed by a gocql session pinned
// to a single node.
package cqlconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gocql/gocql"
)

const defaultPort = 9042

// Options configures Dial.
type Options struct {
	// Host is the IP address or hostname of the node.
	Host string
	// Port is the native protocol port, 9042 when zero.
	Port int

	// Timeout bounds connecting and every query, 10s when zero.
	Timeout time.Duration
	// ProtoVersion forces a native protocol version, negotiated when zero.
	ProtoVersion int
}

// Conn runs metadata queries against one node. It implements cassring.Conn.
type Conn struct {
	session *gocql.Session
	addr    net.IP
	port    int
}

// Dial connects to the node described by opts. Only that node is used, the
// driver's own peer discovery is disabled.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Host == "" {
		return nil, errors.New("cqlconn: host is required")
	}
	if opts.Port == 0 {
		opts.Port = defaultPort
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	addr, err := resolve(ctx, opts.Host)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(addr.String())
	cluster.Port = opts.Port
	cluster.Keyspace = "system"
	cluster.Consistency = gocql.One
	cluster.Timeout = opts.Timeout
	cluster.ConnectTimeout = opts.Timeout
	cluster.ProtoVersion = opts.ProtoVersion
	cluster.NumConns = 1
	cluster.DisableInitialHostLookup = true
	cluster.HostFilter = gocql.WhiteListHostFilter(addr.String())
	cluster.Events.DisableNodeStatusEvents = true
	cluster.Events.DisableTopologyEvents = true
	cluster.Events.DisableSchemaEvents = true

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cqlconn: unable to connect to %s: %w",
			net.JoinHostPort(addr.String(), fmt.Sprint(opts.Port)), err)
	}
	return &Conn{session: session, addr: addr, port: opts.Port}, nil
}

func resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("cqlconn: unable to resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("cqlconn: no address for %s", host)
	}
	return addrs[0].IP, nil
}

// Query runs stmt and returns every row. Server errors satisfy
// cassring.RequestError.
func (c *Conn) Query(ctx context.Context, stmt string, values ...interface{}) ([]map[string]interface{}, error) {
	iter := c.session.Query(stmt, values...).WithContext(ctx).Iter()
	rows, err := iter.SliceMap()
	if err != nil {
		iter.Close()
		return nil, err
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Endpoint returns the address and port the connection was dialed with.
func (c *Conn) Endpoint() (net.IP, int) {
	return c.addr, c.port
}

func (c *Conn) Close() {
	c.session.Close()
}
