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
	"sort"
	"strings"
)

// Replication strategy classes as reported by system_schema.keyspaces.
const (
	SimpleStrategyClass          = "org.apache.cassandra.locator.SimpleStrategy"
	NetworkTopologyStrategyClass = "org.apache.cassandra.locator.NetworkTopologyStrategy"
	LocalStrategyClass           = "org.apache.cassandra.locator.LocalStrategy"
	EverywhereStrategyClass      = "org.apache.cassandra.locator.EverywhereStrategy"
)

// DatacenterInfo describes the hosts owning tokens in one datacenter.
type DatacenterInfo struct {
	Name       string
	HostLength int
	// Racks maps each rack name to its number of hosts.
	Racks map[string]int
}

// datacenterInfos groups hosts by datacenter.
func datacenterInfos(hosts []*HostInfo) map[string]DatacenterInfo {
	dcs := make(map[string]DatacenterInfo)
	for _, h := range hosts {
		name := h.DataCenter()
		info, ok := dcs[name]
		if !ok {
			info = DatacenterInfo{Name: name, Racks: make(map[string]int)}
		}
		info.HostLength++
		info.Racks[h.Rack()]++
		dcs[name] = info
	}
	return dcs
}

// ReplicaSet is the ordered list of replicas of a token. The first replica
// is the primary owner for SimpleStrategy and LocalStrategy.
type ReplicaSet struct {
	hosts     []*HostInfo
	transient []bool
}

func (r ReplicaSet) Len() int {
	return len(r.hosts)
}

// Hosts returns the replicas in placement order. The slice must not be modified.
func (r ReplicaSet) Hosts() []*HostInfo {
	return r.hosts
}

// Full returns the replicas holding a full copy of the data.
func (r ReplicaSet) Full() []*HostInfo {
	return r.filter(false)
}

// Transient returns the transient replicas.
func (r ReplicaSet) Transient() []*HostInfo {
	return r.filter(true)
}

func (r ReplicaSet) filter(transient bool) []*HostInfo {
	var out []*HostInfo
	for i, h := range r.hosts {
		if r.transient[i] == transient {
			out = append(out, h)
		}
	}
	return out
}

func (r ReplicaSet) Contains(host *HostInfo) bool {
	return r.index(host) >= 0
}

func (r ReplicaSet) IsTransient(host *HostInfo) bool {
	i := r.index(host)
	return i >= 0 && r.transient[i]
}

func (r ReplicaSet) index(host *HostInfo) int {
	for i, h := range r.hosts {
		if h == host {
			return i
		}
	}
	return -1
}

func (r ReplicaSet) String() string {
	parts := make([]string, len(r.hosts))
	for i, h := range r.hosts {
		parts[i] = h.Endpoint()
		if r.transient[i] {
			parts[i] += "(transient)"
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// TokenReplicaMap holds the replicas of every token of a ring for one
// replication strategy. It is immutable.
type TokenReplicaMap struct {
	ring     tokenRing
	replicas []ReplicaSet
}

// Len returns the number of tokens, which is the ring size.
func (m *TokenReplicaMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ring)
}

// Replicas returns the replicas of a token of the ring.
func (m *TokenReplicaMap) Replicas(token Token) (ReplicaSet, bool) {
	if m.Len() == 0 {
		return ReplicaSet{}, false
	}
	i := m.ring.search(token)
	if !tokensEqual(m.ring[i].Token, token) {
		return ReplicaSet{}, false
	}
	return m.replicas[i], true
}

// ReplicasFor returns the replicas of the range containing token: the replicas
// of the first ring token >= token, wrapping to the first token of the ring.
func (m *TokenReplicaMap) ReplicasFor(token Token) ReplicaSet {
	if m.Len() == 0 {
		return ReplicaSet{}
	}
	return m.replicas[m.ring.search(token)]
}

// Range calls f for each token in ring order until f returns false.
func (m *TokenReplicaMap) Range(f func(token Token, replicas ReplicaSet) bool) {
	for i := 0; i < m.Len(); i++ {
		if !f(m.ring[i].Token, m.replicas[i]) {
			return
		}
	}
}

// ReplicationStrategy places the replicas of every token of a ring.
type ReplicationStrategy interface {
	// Class is the fully qualified strategy class.
	Class() string
	// Key is a canonical representation, equal strategies have equal keys.
	Key() string
	Equal(ReplicationStrategy) bool
	// ComputeTokenToReplicaMap computes the replicas of every token of ring,
	// which must be sorted by token.
	ComputeTokenToReplicaMap(ring []TokenOwner, hostCountWithTokens int, datacenters map[string]DatacenterInfo) *TokenReplicaMap
}

// NewReplicationStrategy resolves the strategy of a keyspace. It returns nil
// without an error for strategy classes it does not know.
func NewReplicationStrategy(ks *KeyspaceMetadata) (ReplicationStrategy, error) {
	class := ks.StrategyClass
	switch {
	case strings.HasSuffix(class, "SimpleStrategy"):
		rf, err := ParseReplicationFactor(ks.StrategyOptions["replication_factor"])
		if err != nil {
			return nil, fmt.Errorf("keyspace %s: %w", ks.Name, err)
		}
		return &SimpleStrategy{ReplicationFactor: rf}, nil
	case strings.HasSuffix(class, "NetworkTopologyStrategy"):
		factors := make(map[string]ReplicationFactor, len(ks.StrategyOptions))
		for dc, v := range ks.StrategyOptions {
			if dc == "class" || dc == "replication_factor" {
				continue
			}
			rf, err := ParseReplicationFactor(v)
			if err != nil {
				return nil, fmt.Errorf("keyspace %s: datacenter %s: %w", ks.Name, dc, err)
			}
			factors[dc] = rf
		}
		return &NetworkTopologyStrategy{ReplicationFactors: factors}, nil
	case strings.HasSuffix(class, "LocalStrategy"):
		return LocalStrategy{}, nil
	case strings.HasSuffix(class, "EverywhereStrategy"):
		return EverywhereStrategy{}, nil
	}
	return nil, nil
}

func equalStrategies(a, b ReplicationStrategy) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

// SimpleStrategy places replicas on the next distinct hosts of the ring.
type SimpleStrategy struct {
	ReplicationFactor ReplicationFactor
}

func (s *SimpleStrategy) Class() string {
	return SimpleStrategyClass
}

func (s *SimpleStrategy) Key() string {
	return "SimpleStrategy{" + s.ReplicationFactor.String() + "}"
}

func (s *SimpleStrategy) Equal(other ReplicationStrategy) bool {
	return equalStrategies(s, other)
}

func (s *SimpleStrategy) String() string {
	return s.Key()
}

func (s *SimpleStrategy) ComputeTokenToReplicaMap(ring []TokenOwner, hostCountWithTokens int, _ map[string]DatacenterInfo) *TokenReplicaMap {
	rf := s.ReplicationFactor
	want := min(rf.AllReplicas(), hostCountWithTokens)
	replicas := make([]ReplicaSet, len(ring))

	for i := range ring {
		set := ReplicaSet{
			hosts:     make([]*HostInfo, 0, want),
			transient: make([]bool, 0, want),
		}
		for j := 0; j < len(ring) && len(set.hosts) < want; j++ {
			h := ring[(i+j)%len(ring)].Host
			if set.Contains(h) {
				continue
			}
			set.hosts = append(set.hosts, h)
			set.transient = append(set.transient, len(set.hosts) > rf.FullReplicas())
		}
		replicas[i] = set
	}

	return &TokenReplicaMap{ring: ring, replicas: replicas}
}

// NetworkTopologyStrategy places replicas per datacenter, spreading them over
// the racks of each datacenter.
type NetworkTopologyStrategy struct {
	ReplicationFactors map[string]ReplicationFactor
}

func (n *NetworkTopologyStrategy) Class() string {
	return NetworkTopologyStrategyClass
}

func (n *NetworkTopologyStrategy) Key() string {
	dcs := make([]string, 0, len(n.ReplicationFactors))
	for dc := range n.ReplicationFactors {
		dcs = append(dcs, dc)
	}
	sort.Strings(dcs)

	var b strings.Builder
	b.WriteString("NetworkTopologyStrategy{")
	for i, dc := range dcs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(dc)
		b.WriteByte(':')
		b.WriteString(n.ReplicationFactors[dc].String())
	}
	b.WriteByte('}')
	return b.String()
}

func (n *NetworkTopologyStrategy) Equal(other ReplicationStrategy) bool {
	return equalStrategies(n, other)
}

func (n *NetworkTopologyStrategy) String() string {
	return n.Key()
}

func (n *NetworkTopologyStrategy) ComputeTokenToReplicaMap(ring []TokenOwner, _ int, datacenters map[string]DatacenterInfo) *TokenReplicaMap {
	replicas := make([]ReplicaSet, len(ring))
	for i := range ring {
		replicas[i] = n.replicasForIndex(ring, i, datacenters)
	}
	return &TokenReplicaMap{ring: ring, replicas: replicas}
}

// replicasForIndex walks the ring from token i. Within a datacenter a host
// on an already used rack is skipped until every rack of the datacenter
// holds a replica; skipped hosts are then used first, in ring order.
func (n *NetworkTopologyStrategy) replicasForIndex(ring []TokenOwner, i int, datacenters map[string]DatacenterInfo) ReplicaSet {
	var (
		set         ReplicaSet
		counts      = make(map[string]int, len(n.ReplicationFactors))
		usedRacks   = make(map[string]map[string]struct{}, len(n.ReplicationFactors))
		skipped     = make(map[string][]*HostInfo)
		skippedSeen = make(map[*HostInfo]struct{})
	)

	add := func(h *HostInfo, dc string) {
		rf := n.ReplicationFactors[dc]
		counts[dc]++
		set.hosts = append(set.hosts, h)
		set.transient = append(set.transient, counts[dc] > rf.FullReplicas())
	}
	wanted := func(dc string) int {
		return min(n.ReplicationFactors[dc].AllReplicas(), datacenters[dc].HostLength)
	}
	drainSkipped := func(dc string) {
		for _, h := range skipped[dc] {
			if counts[dc] >= wanted(dc) {
				break
			}
			add(h, dc)
		}
		skipped[dc] = nil
	}

	for j := 0; j < len(ring); j++ {
		if AreReplicationFactorsSatisfied(n.ReplicationFactors, counts, datacenters) {
			break
		}

		h := ring[(i+j)%len(ring)].Host
		dc := h.DataCenter()
		if _, ok := n.ReplicationFactors[dc]; !ok {
			continue
		}
		info, ok := datacenters[dc]
		if !ok || counts[dc] >= wanted(dc) || set.Contains(h) {
			continue
		}

		racks := usedRacks[dc]
		if racks == nil {
			racks = make(map[string]struct{}, len(info.Racks))
			usedRacks[dc] = racks
		}
		if len(racks) >= len(info.Racks) {
			add(h, dc)
			continue
		}

		rack := h.Rack()
		if _, used := racks[rack]; used {
			if _, seen := skippedSeen[h]; !seen {
				skippedSeen[h] = struct{}{}
				skipped[dc] = append(skipped[dc], h)
			}
			continue
		}

		add(h, dc)
		racks[rack] = struct{}{}
		if len(racks) == len(info.Racks) {
			drainSkipped(dc)
		}
	}

	return set
}

// AreReplicationFactorsSatisfied reports whether every datacenter with hosts
// has at least min(requested replicas, hosts in the datacenter) replicas.
// Requested datacenters without hosts are ignored.
func AreReplicationFactorsSatisfied(requested map[string]ReplicationFactor, actual map[string]int, datacenters map[string]DatacenterInfo) bool {
	for dc, rf := range requested {
		info, ok := datacenters[dc]
		if !ok || info.HostLength == 0 {
			continue
		}
		if actual[dc] < min(rf.AllReplicas(), info.HostLength) {
			return false
		}
	}
	return true
}

// LocalStrategy is used by system keyspaces whose data is not replicated,
// every token is only held by its primary owner.
type LocalStrategy struct{}

func (LocalStrategy) Class() string { return LocalStrategyClass }
func (LocalStrategy) Key() string   { return "LocalStrategy" }

func (l LocalStrategy) Equal(other ReplicationStrategy) bool {
	return equalStrategies(l, other)
}

func (LocalStrategy) ComputeTokenToReplicaMap(ring []TokenOwner, _ int, _ map[string]DatacenterInfo) *TokenReplicaMap {
	replicas := make([]ReplicaSet, len(ring))
	for i, owner := range ring {
		replicas[i] = ReplicaSet{hosts: []*HostInfo{owner.Host}, transient: []bool{false}}
	}
	return &TokenReplicaMap{ring: ring, replicas: replicas}
}

// EverywhereStrategy replicates every token on every host.
type EverywhereStrategy struct{}

func (EverywhereStrategy) Class() string { return EverywhereStrategyClass }
func (EverywhereStrategy) Key() string   { return "EverywhereStrategy" }

func (e EverywhereStrategy) Equal(other ReplicationStrategy) bool {
	return equalStrategies(e, other)
}

func (EverywhereStrategy) ComputeTokenToReplicaMap(ring []TokenOwner, hostCountWithTokens int, _ map[string]DatacenterInfo) *TokenReplicaMap {
	all, _ := NewReplicationFactor(hostCountWithTokens, 0)
	return (&SimpleStrategy{ReplicationFactor: all}).ComputeTokenToReplicaMap(ring, hostCountWithTokens, nil)
}
