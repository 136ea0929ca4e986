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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const (
	qrySystemLocal   = "SELECT * FROM system.local WHERE key='local'"
	qrySystemPeers   = "SELECT * FROM system.peers"
	qrySystemPeersV2 = "SELECT * FROM system.peers_v2"
)

// topologyRefresher reads the hosts of the cluster from the system tables of
// the control connection. It never touches Metadata state; the caller applies
// a successful topology.
type topologyRefresher struct {
	control ControlConnection
	cfg     *Config
	logger  internalLogger

	mu sync.Mutex
	// peersV1Conn is the connection on which system.peers_v2 was rejected.
	peersV1Conn Conn
}

// topology is the result of one refresh. hosts[0] is the control host.
type topology struct {
	hosts       []*HostInfo
	clusterName string
	partitioner string
	peersV2     bool
}

func newTopologyRefresher(control ControlConnection, cfg *Config, logger internalLogger) *topologyRefresher {
	return &topologyRefresher{control: control, cfg: cfg, logger: logger}
}

func (r *topologyRefresher) conn() (Conn, error) {
	if r.control == nil {
		return nil, ErrNoControl
	}
	conn := r.control.Conn()
	if conn == nil {
		return nil, ErrNoControl
	}
	return conn, nil
}

// refresh reads system.local and the peers table. All rows are read and
// validated before anything is returned, a failure yields no partial result.
func (r *topologyRefresher) refresh(ctx context.Context) (*topology, error) {
	conn, err := r.conn()
	if err != nil {
		return nil, err
	}

	localHost, err := r.getLocalHostInfo(ctx, conn)
	if err != nil {
		return nil, err
	}

	peerRows, peersV2, err := r.queryPeers(ctx, conn)
	if err != nil {
		return nil, err
	}

	topo := &topology{
		hosts:       []*HostInfo{localHost},
		clusterName: localHost.ClusterName(),
		partitioner: localHost.Partitioner(),
		peersV2:     peersV2,
	}

	seen := map[string]struct{}{localHost.Endpoint(): {}}
	for _, row := range peerRows {
		host, err := r.peerFromRow(row)
		if err != nil {
			return nil, err
		}
		if host == nil {
			continue
		}
		endpoint := host.Endpoint()
		if _, dup := seen[endpoint]; dup {
			r.logger.Warning("Found duplicate peer '%s', this host will be ignored.", newLogFieldString("endpoint", endpoint))
			continue
		}
		seen[endpoint] = struct{}{}
		topo.hosts = append(topo.hosts, host)
	}

	return topo, nil
}

// getLocalHostInfo asks the control node for its own host info. The local
// host keeps the endpoint of the control connection.
func (r *topologyRefresher) getLocalHostInfo(ctx context.Context, conn Conn) (*HostInfo, error) {
	rows, err := conn.Query(ctx, qrySystemLocal)
	if err != nil {
		return nil, fmt.Errorf("could not retrieve local host info: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("could not retrieve local host info: system.local returned no rows")
	}

	host, err := hostInfoFromRow(rows[0], r.cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("could not retrieve local host info: %w", err)
	}

	addr, port := conn.Endpoint()
	if port == 0 {
		port = r.cfg.Port
	}
	if !validIpAddr(addr) {
		return nil, fmt.Errorf("could not retrieve local host info: invalid control connection address %v", addr)
	}
	host.setEndpoint(addr, port)
	return host, nil
}

// queryPeers reads system.peers_v2, or system.peers when the node does not
// know peers_v2. The downgrade sticks to the connection it was observed on.
func (r *topologyRefresher) queryPeers(ctx context.Context, conn Conn) ([]map[string]interface{}, bool, error) {
	r.mu.Lock()
	v1Only := r.peersV1Conn == conn
	r.mu.Unlock()

	if !v1Only {
		rows, err := conn.Query(ctx, qrySystemPeersV2)
		if err == nil {
			return rows, true, nil
		}
		if !isUnsupportedTableError(err) {
			return nil, false, fmt.Errorf("unable to fetch peer host info: %w", err)
		}

		r.logger.Info("system.peers_v2 is not supported by the control node, using system.peers.",
			newLogFieldError("err", err))
		r.mu.Lock()
		r.peersV1Conn = conn
		r.mu.Unlock()
	}

	rows, err := conn.Query(ctx, qrySystemPeers)
	if err != nil {
		return nil, false, fmt.Errorf("unable to fetch peer host info: %w", err)
	}
	return rows, false, nil
}

// peerFromRow builds a peer host. It returns nil for rows without a usable
// address.
func (r *topologyRefresher) peerFromRow(row map[string]interface{}) (*HostInfo, error) {
	host, err := hostInfoFromRow(row, r.cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("unable to parse peer host info: %w", err)
	}

	addr := host.reportedAddress()
	if addr == nil {
		r.logger.Warning("Found invalid peer '%s' without a client address, "+
			"likely due to a gossip or snitch issue, this host will be ignored.",
			newLogFieldStringer("host", host))
		return nil, nil
	}

	ip, port := r.cfg.translateAddressPort(addr, host.Port(), r.logger)
	if !validIpAddr(ip) {
		r.logger.Warning("Invalid peer address after translation (before: %v:%d, after: %v:%d), this host will be ignored.",
			newLogFieldIp("old_addr", addr), newLogFieldInt("old_port", host.Port()),
			newLogFieldIp("new_addr", ip), newLogFieldInt("new_port", port))
		return nil, nil
	}
	host.setEndpoint(ip, port)
	return host, nil
}

// ringFingerprint digests what replica placement depends on: the
// partitioner and the endpoint, datacenter, rack and tokens of each host.
func ringFingerprint(partitioner string, hosts []*HostInfo) string {
	keys := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if len(h.Tokens()) > 0 {
			keys = append(keys, h.ringKey())
		}
	}
	sort.Strings(keys)

	sum := sha256.New()
	sum.Write([]byte(partitioner))
	for _, k := range keys {
		sum.Write([]byte{0})
		sum.Write([]byte(k))
	}
	return hex.EncodeToString(sum.Sum(nil))
}
