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
	"context"
	"net"
)

// Conn runs queries on a single node. It is usually a control connection
// opened by a driver, see package cqlconn for one backed by gocql.
//
// Implementations must be comparable (typically pointers): a Conn value is
// used to remember per-connection protocol facts, such as whether the node
// supports system.peers_v2.
type Conn interface {
	// Query executes stmt and returns all rows, each as a map of column name
	// to value. Server errors should implement RequestError.
	Query(ctx context.Context, stmt string, values ...interface{}) ([]map[string]interface{}, error)
	// Endpoint returns the address and port the connection is connected to.
	Endpoint() (net.IP, int)
}

// ControlConnection provides the connection used for metadata queries.
// Conn returns nil while no connection is available.
type ControlConnection interface {
	Conn() Conn
}

type staticControl struct {
	conn Conn
}

func (s staticControl) Conn() Conn {
	return s.conn
}

// StaticControl returns a ControlConnection that always uses conn.
func StaticControl(conn Conn) ControlConnection {
	return staticControl{conn: conn}
}
