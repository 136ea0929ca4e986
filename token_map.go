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
	"sync"

	"github.com/cassring/cassring/internal/lru"
)

// TokenMapOptions configures BuildTokenMap.
type TokenMapOptions struct {
	// Generation tags the snapshot, see TokenMap.Generation.
	Generation uint64
	// ReplicaCacheSize bounds the number of computed replica maps kept,
	// zero means no limit.
	ReplicaCacheSize int
	// Logger receives build warnings such as duplicate tokens.
	Logger AdvancedLogger
}

// TokenMap is a snapshot of the ring and of the replicas of every token for
// every keyspace. The ring of a TokenMap never changes; keyspace bindings
// can be updated in place by targeted schema refreshes. All methods are safe
// for concurrent use.
type TokenMap struct {
	generation  uint64
	partitioner Partitioner
	ring        tokenRing
	hosts       []*HostInfo
	datacenters map[string]DatacenterInfo
	logger      internalLogger

	mu        sync.RWMutex
	keyspaces map[string]ReplicationStrategy

	// computed replica maps keyed by ReplicationStrategy.Key
	replicas *lru.Cache[*TokenReplicaMap]
}

// BuildTokenMap builds a snapshot from the hosts owning tokens and the
// keyspaces. Replica maps are computed on first use. A nil partitioner gives
// an empty ring.
func BuildTokenMap(partitioner Partitioner, hosts []*HostInfo, keyspaces map[string]*KeyspaceMetadata, opts TokenMapOptions) *TokenMap {
	tm := &TokenMap{
		generation:  opts.Generation,
		partitioner: partitioner,
		keyspaces:   make(map[string]ReplicationStrategy, len(keyspaces)),
		replicas:    lru.New[*TokenReplicaMap](opts.ReplicaCacheSize),
		logger:      nilInternalLogger,
	}
	if opts.Logger != nil {
		if l, ok := opts.Logger.(internalLogger); ok {
			tm.logger = l
		} else {
			tm.logger = newInternalLoggerFromAdvancedLogger(opts.Logger, LogLevelDebug)
		}
	}

	for _, h := range hosts {
		if len(h.Tokens()) > 0 {
			tm.hosts = append(tm.hosts, h)
		}
	}
	sortHosts(tm.hosts)

	if partitioner != nil {
		var dups []TokenOwner
		tm.ring, dups = buildTokenRing(partitioner, tm.hosts)
		for _, dup := range dups {
			tm.logger.Warning("Duplicate token %s reported by host %s, keeping the first owner.",
				newLogFieldStringer("token", dup.Token), newLogFieldString("host", dup.Host.Endpoint()))
		}
	}
	tm.datacenters = datacenterInfos(tm.hosts)

	for name, ks := range keyspaces {
		if ks.Strategy != nil {
			tm.keyspaces[name] = ks.Strategy
		}
	}

	return tm
}

// Generation identifies the snapshot. Every full rebuild produces a snapshot
// with a higher generation; targeted keyspace updates keep it.
func (tm *TokenMap) Generation() uint64 {
	return tm.generation
}

func (tm *TokenMap) Partitioner() Partitioner {
	return tm.partitioner
}

// Ring returns the sorted tokens of the ring.
func (tm *TokenMap) Ring() []Token {
	tokens := make([]Token, len(tm.ring))
	for i := range tm.ring {
		tokens[i] = tm.ring[i].Token
	}
	return tokens
}

// PrimaryReplica returns the host owning the range containing token.
func (tm *TokenMap) PrimaryReplica(token Token) *HostInfo {
	if len(tm.ring) == 0 {
		return nil
	}
	return tm.ring[tm.ring.search(token)].Host
}

// Hosts returns the hosts owning tokens, sorted by endpoint.
func (tm *TokenMap) Hosts() []*HostInfo {
	return append([]*HostInfo(nil), tm.hosts...)
}

func (tm *TokenMap) HostCountWithTokens() int {
	return len(tm.hosts)
}

func (tm *TokenMap) Datacenters() map[string]DatacenterInfo {
	dcs := make(map[string]DatacenterInfo, len(tm.datacenters))
	for name, dc := range tm.datacenters {
		dcs[name] = dc
	}
	return dcs
}

// Keyspaces returns the names of the keyspaces with replica placement, sorted.
func (tm *TokenMap) Keyspaces() []string {
	tm.mu.RLock()
	names := make([]string, 0, len(tm.keyspaces))
	for name := range tm.keyspaces {
		names = append(names, name)
	}
	tm.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Strategy returns the replication strategy bound to keyspace.
func (tm *TokenMap) Strategy(keyspace string) (ReplicationStrategy, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	s, ok := tm.keyspaces[keyspace]
	return s, ok
}

// GetByKeyspace returns the replicas of every token for keyspace, or false
// when the keyspace is unknown to this snapshot.
func (tm *TokenMap) GetByKeyspace(keyspace string) (*TokenReplicaMap, bool) {
	strategy, ok := tm.Strategy(keyspace)
	if !ok {
		return nil, false
	}
	return tm.replicasFor(strategy), true
}

func (tm *TokenMap) replicasFor(strategy ReplicationStrategy) *TokenReplicaMap {
	m, _ := tm.replicas.GetOrCompute(strategy.Key(), func() *TokenReplicaMap {
		return strategy.ComputeTokenToReplicaMap(tm.ring, len(tm.hosts), tm.datacenters)
	})
	return m
}

// GetReplicas returns the replicas of the partition key in keyspace. The set
// is empty when the keyspace is unknown or the ring is empty.
func (tm *TokenMap) GetReplicas(keyspace string, partitionKey []byte) ReplicaSet {
	if tm.partitioner == nil {
		return ReplicaSet{}
	}
	return tm.GetReplicasForToken(keyspace, tm.partitioner.Hash(partitionKey))
}

// GetReplicasForToken returns the replicas of the range containing token.
func (tm *TokenMap) GetReplicasForToken(keyspace string, token Token) ReplicaSet {
	m, ok := tm.GetByKeyspace(keyspace)
	if !ok {
		return ReplicaSet{}
	}
	return m.ReplicasFor(token)
}

// UpdateKeyspace binds the strategy of ks, replacing the previous binding.
// A keyspace without a known strategy is unbound. It reports whether the
// binding changed.
func (tm *TokenMap) UpdateKeyspace(ks *KeyspaceMetadata) bool {
	if ks.Strategy == nil {
		return tm.RemoveKeyspace(ks.Name)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	old, ok := tm.keyspaces[ks.Name]
	if ok && old.Equal(ks.Strategy) {
		return false
	}
	tm.keyspaces[ks.Name] = ks.Strategy
	if ok {
		tm.releaseLocked(old)
	}
	return true
}

// RemoveKeyspace unbinds keyspace and reports whether it was bound.
func (tm *TokenMap) RemoveKeyspace(keyspace string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	old, ok := tm.keyspaces[keyspace]
	if !ok {
		return false
	}
	delete(tm.keyspaces, keyspace)
	tm.releaseLocked(old)
	return true
}

// releaseLocked drops the replica map of strategy when no keyspace uses it.
func (tm *TokenMap) releaseLocked(strategy ReplicationStrategy) {
	key := strategy.Key()
	for _, s := range tm.keyspaces {
		if s.Key() == key {
			return
		}
	}
	tm.replicas.Remove(key)
}

func (tm *TokenMap) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TokenMap{generation=%d hosts=%d tokens=%d keyspaces=[%s]}",
		tm.generation, len(tm.hosts), len(tm.ring), strings.Join(tm.Keyspaces(), " "))
	return b.String()
}
