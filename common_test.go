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
	"fmt"
	"net"
	"reflect"
	"strconv"
	"sync"
	"testing"
)

func assertTrue(t *testing.T, description string, value bool) {
	t.Helper()
	if !value {
		t.Fatalf("expected %s to be true", description)
	}
}

func assertEqual(t *testing.T, description string, expected, actual interface{}) {
	t.Helper()
	if expected != actual {
		t.Fatalf("expected %s to be (%+v) but was (%+v) instead", description, expected, actual)
	}
}

func assertDeepEqual(t *testing.T, description string, expected, actual interface{}) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("expected %s to be (%+v) but was (%+v) instead", description, expected, actual)
	}
}

func assertNil(t *testing.T, description string, actual interface{}) {
	t.Helper()
	if actual != nil {
		t.Fatalf("expected %s to be (nil) but was (%+v) instead", description, actual)
	}
}

// testHost creates a host for placement tests.
func testHost(ip, dc, rack string, tokens ...string) *HostInfo {
	return &HostInfo{
		connectAddress: net.ParseIP(ip),
		port:           9042,
		dataCenter:     dc,
		rack:           rack,
		tokens:         tokens,
	}
}

func endpoints(hosts []*HostInfo) []string {
	out := make([]string, len(hosts))
	for i, h := range hosts {
		out[i] = h.Endpoint()
	}
	return out
}

type fakeRequestError struct {
	code    int
	message string
}

func (e *fakeRequestError) Code() int       { return e.code }
func (e *fakeRequestError) Message() string { return e.message }
func (e *fakeRequestError) Error() string   { return fmt.Sprintf("%d: %s", e.code, e.message) }

type fakeResponse struct {
	rows []map[string]interface{}
	err  error
}

// fakeConn answers queries from scripted responses and records every
// statement it receives.
type fakeConn struct {
	addr net.IP
	port int

	mu        sync.Mutex
	responses map[string]fakeResponse
	queries   []string
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:      net.ParseIP(addr),
		port:      9042,
		responses: make(map[string]fakeResponse),
	}
}

func (c *fakeConn) on(stmt string, rows []map[string]interface{}, err error) *fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[stmt] = fakeResponse{rows: rows, err: err}
	return c
}

func (c *fakeConn) Query(_ context.Context, stmt string, values ...interface{}) ([]map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, stmt)

	if stmt == qrySchemaKeyspace {
		// served from the full keyspace listing
		resp := c.responses[qrySchemaKeyspaces]
		if resp.err != nil {
			return nil, resp.err
		}
		for _, row := range resp.rows {
			if row["keyspace_name"] == values[0] {
				return []map[string]interface{}{row}, nil
			}
		}
		return nil, nil
	}

	resp, ok := c.responses[stmt]
	if !ok {
		return nil, fmt.Errorf("unexpected statement %q", stmt)
	}
	return resp.rows, resp.err
}

func (c *fakeConn) Endpoint() (net.IP, int) {
	return c.addr, c.port
}

func (c *fakeConn) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.queries...)
}

func (c *fakeConn) resetQueries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = nil
}

// switchableControl lets tests replace the control connection.
type switchableControl struct {
	mu   sync.Mutex
	conn Conn
}

func (s *switchableControl) Conn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *switchableControl) set(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func localRow(dc, rack string, tokens ...string) map[string]interface{} {
	return map[string]interface{}{
		"key":             "local",
		"cluster_name":    "Test Cluster",
		"partitioner":     "org.apache.cassandra.dht.Murmur3Partitioner",
		"data_center":     dc,
		"rack":            rack,
		"release_version": "4.1.3",
		"rpc_address":     net.ParseIP("127.0.0.1"),
		"tokens":          tokens,
	}
}

func peerRow(ip, dc, rack string, tokens ...string) map[string]interface{} {
	return map[string]interface{}{
		"peer":            net.ParseIP(ip),
		"rpc_address":     net.ParseIP(ip),
		"data_center":     dc,
		"rack":            rack,
		"release_version": "4.1.3",
		"tokens":          tokens,
	}
}

func peerV2Row(ip, dc, rack string, port int, tokens ...string) map[string]interface{} {
	return map[string]interface{}{
		"peer":            net.ParseIP(ip),
		"native_address":  net.ParseIP(ip),
		"native_port":     port,
		"data_center":     dc,
		"rack":            rack,
		"release_version": "4.1.3",
		"tokens":          tokens,
	}
}

func keyspaceRow(name string, replication map[string]string) map[string]interface{} {
	return map[string]interface{}{
		"keyspace_name":  name,
		"durable_writes": true,
		"replication":    replication,
	}
}

func tokenStrings(from, step, n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = strconv.Itoa(from + i*step)
	}
	return tokens
}

// recordingObserver collects observed refreshes.
type recordingObserver struct {
	mu        sync.Mutex
	refreshes []ObservedRefresh
}

func (o *recordingObserver) ObserveRefresh(_ context.Context, r ObservedRefresh) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshes = append(o.refreshes, r)
}

func (o *recordingObserver) all() []ObservedRefresh {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ObservedRefresh(nil), o.refreshes...)
}

// recordingListener collects host notifications as "event endpoint".
type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) record(event string, h *HostInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event+" "+h.Endpoint())
}

func (l *recordingListener) HostAdded(h *HostInfo)   { l.record("added", h) }
func (l *recordingListener) HostRemoved(h *HostInfo) { l.record("removed", h) }
func (l *recordingListener) HostUp(h *HostInfo)      { l.record("up", h) }
func (l *recordingListener) HostDown(h *HostInfo)    { l.record("down", h) }

func (l *recordingListener) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}
