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
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type NodeState int32

func (n NodeState) String() string {
	if n == NodeUp {
		return "UP"
	} else if n == NodeDown {
		return "DOWN"
	}
	return fmt.Sprintf("UNKNOWN_%d", n)
}

const (
	NodeUp NodeState = iota
	NodeDown
)

// CassVersion is a parsed release_version.
type CassVersion struct {
	Major, Minor, Patch int
	Qualifier           string
}

// Set parses v. An empty string leaves the version unchanged.
func (c *CassVersion) Set(v string) error {
	if v == "" {
		return nil
	}

	version := strings.TrimSuffix(v, "-SNAPSHOT")
	version = strings.TrimPrefix(version, "v")
	parts := strings.Split(version, ".")

	if len(parts) < 2 {
		return fmt.Errorf("invalid version string: %s", v)
	}

	var err error
	c.Major, err = strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("invalid major version %v: %v", parts[0], err)
	}

	c.Minor, c.Qualifier, err = parseVersionPart(parts[1])
	if err != nil {
		return fmt.Errorf("invalid minor version %v: %v", parts[1], err)
	}
	if c.Qualifier != "" || len(parts) < 3 {
		return nil
	}

	c.Patch, c.Qualifier, err = parseVersionPart(parts[2])
	if err != nil {
		return fmt.Errorf("invalid patch version %v: %v", parts[2], err)
	}
	return nil
}

// parseVersionPart parses "N" or "N-qualifier".
func parseVersionPart(s string) (int, string, error) {
	num, qualifier, _ := strings.Cut(s, "-")
	n, err := strconv.Atoi(num)
	return n, qualifier, err
}

func (c CassVersion) Before(major, minor, patch int) bool {
	if c.Major != major {
		return c.Major < major
	}
	if c.Minor != minor {
		return c.Minor < minor
	}
	return c.Patch < patch
}

func (c CassVersion) AtLeast(major, minor, patch int) bool {
	return !c.Before(major, minor, patch)
}

func (c CassVersion) String() string {
	if c.Qualifier != "" {
		return fmt.Sprintf("%d.%d.%d-%v", c.Major, c.Minor, c.Patch, c.Qualifier)
	}
	return fmt.Sprintf("v%d.%d.%d", c.Major, c.Minor, c.Patch)
}

// HostInfo represents a Cassandra node as seen by the control connection.
// Hosts are identified by their endpoint, the connect address and port after
// address translation.
type HostInfo struct {
	mu               sync.RWMutex
	peer             net.IP
	broadcastAddress net.IP
	listenAddress    net.IP
	rpcAddress       net.IP
	preferredIP      net.IP
	connectAddress   net.IP
	port             int
	dataCenter       string
	rack             string
	hostID           uuid.UUID
	partitioner      string
	clusterName      string
	version          CassVersion
	state            NodeState
	schemaVersion    uuid.UUID
	tokens           []string
}

// NewHostInfo creates a host reachable at addr and port.
func NewHostInfo(addr net.IP, port int) (*HostInfo, error) {
	if !validIpAddr(addr) {
		return nil, errors.New("invalid host address")
	}
	return &HostInfo{connectAddress: addr, port: port}, nil
}

func validIpAddr(addr net.IP) bool {
	return addr != nil && !addr.IsUnspecified()
}

// Endpoint returns "ip:port", the identity of the host.
func (h *HostInfo) Endpoint() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.endpointLocked()
}

func (h *HostInfo) endpointLocked() string {
	return net.JoinHostPort(h.connectAddress.String(), strconv.Itoa(h.port))
}

func (h *HostInfo) ConnectAddress() net.IP {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connectAddress
}

func (h *HostInfo) Port() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.port
}

func (h *HostInfo) Peer() net.IP {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peer
}

func (h *HostInfo) BroadcastAddress() net.IP {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.broadcastAddress
}

func (h *HostInfo) ListenAddress() net.IP {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listenAddress
}

func (h *HostInfo) RPCAddress() net.IP {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rpcAddress
}

func (h *HostInfo) PreferredIP() net.IP {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.preferredIP
}

func (h *HostInfo) DataCenter() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dataCenter
}

func (h *HostInfo) Rack() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rack
}

func (h *HostInfo) HostID() uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hostID
}

func (h *HostInfo) SchemaVersion() uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.schemaVersion
}

func (h *HostInfo) Partitioner() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.partitioner
}

func (h *HostInfo) ClusterName() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clusterName
}

func (h *HostInfo) Version() CassVersion {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

func (h *HostInfo) State() NodeState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *HostInfo) setState(state NodeState) (changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	changed = h.state != state
	h.state = state
	return changed
}

func (h *HostInfo) IsUp() bool {
	return h != nil && h.State() == NodeUp
}

// Tokens returns the tokens owned by the host. The slice must not be modified.
func (h *HostInfo) Tokens() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tokens
}

// update copies the topology fields of from, the up/down state is kept.
func (h *HostInfo) update(from *HostInfo) {
	if h == from {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	from.mu.RLock()
	defer from.mu.RUnlock()

	h.peer = from.peer
	h.broadcastAddress = from.broadcastAddress
	h.listenAddress = from.listenAddress
	h.rpcAddress = from.rpcAddress
	h.preferredIP = from.preferredIP
	h.dataCenter = from.dataCenter
	h.rack = from.rack
	h.hostID = from.hostID
	h.partitioner = from.partitioner
	h.clusterName = from.clusterName
	h.version = from.version
	h.schemaVersion = from.schemaVersion
	h.tokens = from.tokens
}

// ringKey describes the placement relevant fields of the host.
func (h *HostInfo) ringKey() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tokens := append([]string(nil), h.tokens...)
	sort.Strings(tokens)
	return h.endpointLocked() + "|" + h.dataCenter + "|" + h.rack + "|" + strings.Join(tokens, ",")
}

func (h *HostInfo) String() string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return fmt.Sprintf("[HostInfo endpoint=%q peer=%q rpc_address=%q broadcast_address=%q "+
		"listen_address=%q data_center=%q rack=%q host_id=%q version=%q state=%s num_tokens=%d]",
		h.endpointLocked(), h.peer, h.rpcAddress, h.broadcastAddress, h.listenAddress,
		h.dataCenter, h.rack, h.hostID, h.version, h.state, len(h.tokens))
}

// hostInfoFromRow reads a system.local, system.peers or system.peers_v2 row.
// Values are those of a gocql MapScan: IP columns as net.IP, uuids as
// gocql.UUID; strings are accepted for both. The connect address is left
// unset.
func hostInfoFromRow(row map[string]interface{}, defaultPort int) (*HostInfo, error) {
	const assertErrorMsg = "assertion failed for %s, type was %T"
	var err error

	host := &HostInfo{port: defaultPort}

	for key, value := range row {
		if value == nil {
			continue
		}
		switch key {
		case "data_center":
			if host.dataCenter, err = stringValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "rack":
			if host.rack, err = stringValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "host_id":
			if host.hostID, err = uuidValue(value); err != nil {
				return nil, fmt.Errorf("failed to parse host_id: %w", err)
			}
		case "schema_version":
			if host.schemaVersion, err = uuidValue(value); err != nil {
				return nil, fmt.Errorf("failed to parse schema_version: %w", err)
			}
		case "release_version":
			version, err := stringValue(value)
			if err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
			if err := host.version.Set(version); err != nil {
				return nil, err
			}
		case "cluster_name":
			if host.clusterName, err = stringValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "partitioner":
			if host.partitioner, err = stringValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "peer":
			if host.peer, err = ipValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "broadcast_address":
			if host.broadcastAddress, err = ipValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "listen_address":
			if host.listenAddress, err = ipValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "preferred_ip":
			if host.preferredIP, err = ipValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "rpc_address", "native_address":
			if host.rpcAddress, err = ipValue(value); err != nil {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
		case "native_port":
			port, ok := value.(int)
			if !ok {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
			if port > 0 {
				host.port = port
			}
		case "tokens":
			tokens, ok := value.([]string)
			if !ok {
				return nil, fmt.Errorf(assertErrorMsg, key, value)
			}
			host.tokens = tokens
		}
	}

	return host, nil
}

// reportedAddress returns the address a peer row advertises for clients:
// rpc_address, or when it is the bind-all address broadcast_address,
// listen_address or peer, in that order. A nil rpc_address yields nil.
func (h *HostInfo) reportedAddress() net.IP {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.rpcAddress == nil || !h.rpcAddress.IsUnspecified() {
		return h.rpcAddress
	}
	for _, addr := range []net.IP{h.broadcastAddress, h.listenAddress, h.peer} {
		if validIpAddr(addr) {
			return addr
		}
	}
	return nil
}

func (h *HostInfo) setEndpoint(addr net.IP, port int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connectAddress = addr
	h.port = port
}

func stringValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case *string:
		if v == nil {
			return "", nil
		}
		return *v, nil
	}
	return "", errors.New("not a string")
}

func ipValue(value interface{}) (net.IP, error) {
	switch v := value.(type) {
	case net.IP:
		return v, nil
	case string:
		return net.ParseIP(v), nil
	}
	return nil, errors.New("not an IP")
}

func uuidValue(value interface{}) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case string:
		return uuid.Parse(v)
	case fmt.Stringer:
		return uuid.Parse(v.String())
	}
	return uuid.Nil, fmt.Errorf("unexpected type %T", value)
}

// hostRegistry is the live set of hosts keyed by endpoint.
type hostRegistry struct {
	mu    sync.RWMutex
	hosts map[string]*HostInfo
}

func newHostRegistry() *hostRegistry {
	return &hostRegistry{hosts: make(map[string]*HostInfo)}
}

func (r *hostRegistry) get(endpoint string) (*HostInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[endpoint]
	return h, ok
}

func (r *hostRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// all returns the hosts sorted by endpoint.
func (r *hostRegistry) all() []*HostInfo {
	r.mu.RLock()
	hosts := make([]*HostInfo, 0, len(r.hosts))
	for _, h := range r.hosts {
		hosts = append(hosts, h)
	}
	r.mu.RUnlock()

	sortHosts(hosts)
	return hosts
}

// apply makes the registry hold exactly the given hosts. Known endpoints are
// updated in place so that existing *HostInfo values stay valid.
func (r *hostRegistry) apply(hosts []*HostInfo) (added, removed []*HostInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		endpoint := h.Endpoint()
		seen[endpoint] = struct{}{}
		if existing, ok := r.hosts[endpoint]; ok {
			existing.update(h)
			continue
		}
		r.hosts[endpoint] = h
		added = append(added, h)
	}

	for endpoint, h := range r.hosts {
		if _, ok := seen[endpoint]; !ok {
			delete(r.hosts, endpoint)
			removed = append(removed, h)
		}
	}
	sortHosts(added)
	sortHosts(removed)
	return added, removed
}

func sortHosts(hosts []*HostInfo) {
	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Endpoint() < hosts[j].Endpoint()
	})
}
