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
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Metadata keeps the hosts, keyspaces and token map of one cluster up to
// date using a control connection. Create one per cluster client with
// NewMetadata, call Init, feed it server events through HandleEvent and
// Close it when done.
//
// Readers never block on refreshes: TokenMap returns the current snapshot,
// which stays valid after newer snapshots are published.
type Metadata struct {
	cfg       *Config
	logger    internalLogger
	refresher *topologyRefresher
	hosts     *hostRegistry
	debouncer *refreshDebouncer
	flights   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	// eventsMu orders event goroutine registration with Close.
	eventsMu sync.Mutex
	events   sync.WaitGroup

	tokenMap atomic.Pointer[TokenMap]

	// refreshMu serializes refreshes and guards generation and fingerprint.
	refreshMu   sync.Mutex
	generation  uint64
	fingerprint string

	mu          sync.RWMutex
	clusterName string
	partitioner string
	keyspaces   map[string]*KeyspaceMetadata
}

// NewMetadata creates a Metadata reading the cluster through control. A nil
// cfg uses NewConfig.
func NewMetadata(cfg *Config, control ControlConnection) (*Metadata, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.newLogger()
	m := &Metadata{
		cfg:       cfg,
		logger:    logger,
		refresher: newTopologyRefresher(control, cfg, logger),
		hosts:     newHostRegistry(),
		keyspaces: make(map[string]*KeyspaceMetadata),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.tokenMap.Store(BuildTokenMap(nil, nil, nil, TokenMapOptions{Logger: logger}))
	m.debouncer = newRefreshDebouncer(cfg.RefreshDebounce, func() error {
		return m.refreshTopology(m.ctx)
	})
	return m, nil
}

// Init runs the first refresh. With metadata sync enabled it reads the
// topology and every keyspace, otherwise only the topology; the ring of the
// first token map is built in both cases.
func (m *Metadata) Init(ctx context.Context) error {
	if m.closed.Load() {
		return ErrMetadataClosed
	}
	if m.cfg.MetadataSyncEnabled {
		return m.RefreshSchema(ctx)
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	topo, p, err := m.fetchTopology(ctx)
	if err == nil {
		m.applyTopology(topo)
		m.publishLocked(p, topo)
	}
	m.observe(ctx, ObservedRefresh{Kind: RefreshTopology, Start: start, PeersV2: topo != nil && topo.peersV2, TokenMapRebuilt: err == nil, Err: err})
	return err
}

// RefreshTopology refreshes the hosts right away. Concurrent calls share a
// single refresh and its result. The token map is rebuilt when metadata sync
// is enabled and the ring changed.
func (m *Metadata) RefreshTopology(ctx context.Context) error {
	if m.closed.Load() {
		return ErrMetadataClosed
	}
	select {
	case err, ok := <-m.debouncer.refreshNow():
		if !ok {
			return ErrMetadataClosed
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Metadata) refreshTopology(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	topo, p, err := m.fetchTopology(ctx)
	if err != nil {
		m.logger.Error("Unable to refresh the ring.", newLogFieldError("err", err))
		m.observe(ctx, ObservedRefresh{Kind: RefreshTopology, Start: start, Err: err})
		return err
	}

	m.applyTopology(topo)
	rebuilt := false
	if m.cfg.MetadataSyncEnabled && ringFingerprint(topo.partitioner, topo.hosts) != m.fingerprint {
		m.publishLocked(p, topo)
		rebuilt = true
	}
	m.logger.Debug("Refreshed ring.", newLogFieldInt("hosts", len(topo.hosts)))
	m.observe(ctx, ObservedRefresh{Kind: RefreshTopology, Start: start, PeersV2: topo.peersV2, TokenMapRebuilt: rebuilt})
	return nil
}

// RefreshSchema reads the topology and every keyspace concurrently and
// publishes a new token map. Concurrent calls share one refresh.
func (m *Metadata) RefreshSchema(ctx context.Context) error {
	return m.coalesce(ctx, "schema", func() error {
		return m.refreshSchema(m.ctx)
	})
}

func (m *Metadata) refreshSchema(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	var (
		topo      *topology
		p         Partitioner
		keyspaces map[string]*KeyspaceMetadata
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		topo, p, err = m.fetchTopology(gctx)
		return err
	})
	g.Go(func() error {
		conn, err := m.refresher.conn()
		if err != nil {
			return err
		}
		keyspaces, err = fetchKeyspaces(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		m.logger.Error("Unable to refresh the schema.", newLogFieldError("err", err))
		m.observe(ctx, ObservedRefresh{Kind: RefreshSchema, Start: start, Err: err})
		return err
	}

	for _, ks := range keyspaces {
		m.warnUnsupportedStrategy(ks)
	}

	m.applyTopology(topo)
	m.mu.Lock()
	m.keyspaces = keyspaces
	m.mu.Unlock()
	m.publishLocked(p, topo)

	m.observe(ctx, ObservedRefresh{Kind: RefreshSchema, Start: start, PeersV2: topo.peersV2, TokenMapRebuilt: true})
	return nil
}

// RefreshKeyspace reads one keyspace and updates its binding in the current
// token map: a dropped keyspace is removed, a changed replication strategy is
// rebound. The token map snapshot itself is kept.
func (m *Metadata) RefreshKeyspace(ctx context.Context, keyspace string) error {
	return m.coalesce(ctx, "keyspace:"+keyspace, func() error {
		return m.refreshKeyspace(m.ctx, keyspace)
	})
}

func (m *Metadata) refreshKeyspace(ctx context.Context, name string) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	observed := ObservedRefresh{Kind: RefreshKeyspace, Keyspace: name, Start: start}

	conn, err := m.refresher.conn()
	if err != nil {
		observed.Err = err
		m.observe(ctx, observed)
		return err
	}
	ks, err := fetchKeyspace(ctx, conn, name)
	if err != nil {
		observed.Err = err
		m.observe(ctx, observed)
		return err
	}

	tm := m.tokenMap.Load()
	m.mu.Lock()
	if ks == nil {
		delete(m.keyspaces, name)
	} else {
		m.keyspaces[name] = ks
	}
	m.mu.Unlock()

	var changed bool
	if ks == nil {
		changed = tm.RemoveKeyspace(name)
	} else {
		m.warnUnsupportedStrategy(ks)
		changed = tm.UpdateKeyspace(ks)
	}
	if changed {
		m.logger.Debug("Rebound keyspace %s in the token map.", newLogFieldString("keyspace", name))
	}

	m.observe(ctx, observed)
	return nil
}

// coalesce runs fn once for concurrent callers using the same key.
func (m *Metadata) coalesce(ctx context.Context, key string, fn func() error) error {
	if m.closed.Load() {
		return ErrMetadataClosed
	}
	ch := m.flights.DoChan(key, func() (interface{}, error) {
		return nil, fn()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchTopology reads the topology and resolves its partitioner.
func (m *Metadata) fetchTopology(ctx context.Context) (*topology, Partitioner, error) {
	topo, err := m.refresher.refresh(ctx)
	if err != nil {
		return nil, nil, err
	}
	p, err := NewPartitioner(topo.partitioner)
	if err != nil {
		return nil, nil, err
	}
	return topo, p, nil
}

// applyTopology commits a successfully read topology to the host registry.
func (m *Metadata) applyTopology(topo *topology) {
	added, removed := m.hosts.apply(topo.hosts)

	m.mu.Lock()
	m.clusterName = topo.clusterName
	m.partitioner = topo.partitioner
	m.mu.Unlock()

	for _, h := range added {
		m.logger.Info("Adding host %s.", newLogFieldString("host", h.Endpoint()))
		if m.cfg.HostListener != nil {
			m.cfg.HostListener.HostAdded(h)
		}
	}
	for _, h := range removed {
		m.logger.Info("Removing host %s.", newLogFieldString("host", h.Endpoint()))
		if m.cfg.HostListener != nil {
			m.cfg.HostListener.HostRemoved(h)
		}
	}
}

// publishLocked builds and swaps in a new token map from the registry and the
// known keyspaces. refreshMu must be held.
func (m *Metadata) publishLocked(p Partitioner, topo *topology) {
	hosts := m.hosts.all()

	m.mu.RLock()
	keyspaces := make(map[string]*KeyspaceMetadata, len(m.keyspaces))
	for name, ks := range m.keyspaces {
		keyspaces[name] = ks
	}
	m.mu.RUnlock()

	m.generation++
	tm := BuildTokenMap(p, hosts, keyspaces, TokenMapOptions{
		Generation:       m.generation,
		ReplicaCacheSize: m.cfg.ReplicaCacheSize,
		Logger:           m.logger,
	})
	m.fingerprint = ringFingerprint(topo.partitioner, hosts)
	m.tokenMap.Store(tm)
	m.logger.Debug("Published token map %s.", newLogFieldStringer("token_map", tm))
}

func (m *Metadata) warnUnsupportedStrategy(ks *KeyspaceMetadata) {
	if ks.Strategy == nil {
		m.logger.Warning("Keyspace %s uses unsupported replication strategy %s, no replicas will be computed for it.",
			newLogFieldString("keyspace", ks.Name), newLogFieldString("class", ks.StrategyClass))
	}
}

func (m *Metadata) observe(ctx context.Context, o ObservedRefresh) {
	if m.cfg.RefreshObserver == nil {
		return
	}
	o.End = time.Now()
	o.Hosts = m.hosts.len()
	o.Generation = m.tokenMap.Load().Generation()
	m.cfg.RefreshObserver.ObserveRefresh(ctx, o)
}

// HandleEvent applies a server event. Schema changes of keyspaces trigger a
// keyspace refresh when metadata sync is enabled, topology changes a
// debounced topology refresh and status changes mark hosts up or down.
// It does not block on refreshes.
func (m *Metadata) HandleEvent(event Event) {
	if m.closed.Load() {
		return
	}

	switch e := event.(type) {
	case SchemaChangeEvent:
		if !m.cfg.MetadataSyncEnabled {
			m.logger.Debug("Ignoring schema change of keyspace %s, metadata sync is disabled.",
				newLogFieldString("keyspace", e.Keyspace))
			return
		}
		if e.Target != SchemaTargetKeyspace {
			return
		}
		m.eventsMu.Lock()
		if m.closed.Load() {
			m.eventsMu.Unlock()
			return
		}
		m.events.Add(1)
		m.eventsMu.Unlock()
		go func() {
			defer m.events.Done()
			if err := m.RefreshKeyspace(m.ctx, e.Keyspace); err != nil && !errors.Is(err, ErrMetadataClosed) {
				m.logger.Error("Unable to refresh keyspace %s: %v.",
					newLogFieldString("keyspace", e.Keyspace), newLogFieldError("err", err))
			}
		}()
	case TopologyChangeEvent:
		switch e.Change {
		case "NEW_NODE", "REMOVED_NODE", "MOVED_NODE":
			m.debouncer.debounce()
		}
	case StatusChangeEvent:
		ip, port := m.cfg.translateAddressPort(e.Host, e.Port, m.logger)
		endpoint := net.JoinHostPort(ip.String(), strconv.Itoa(port))
		var err error
		switch e.Change {
		case "UP":
			err = m.MarkHostUp(endpoint)
			if errors.Is(err, ErrCannotFindHost) {
				// a node we do not know yet came up
				m.debouncer.debounce()
				return
			}
		case "DOWN":
			err = m.MarkHostDown(endpoint)
		}
		if err != nil {
			m.logger.Debug("Ignoring status change: %v.", newLogFieldError("err", err))
		}
	default:
		m.logger.Warning("Invalid event (%T).", NewLogField("event", event))
	}
}

// MarkHostUp marks the host with the given endpoint as up.
func (m *Metadata) MarkHostUp(endpoint string) error {
	return m.setHostState(endpoint, NodeUp)
}

// MarkHostDown marks the host with the given endpoint as down.
func (m *Metadata) MarkHostDown(endpoint string) error {
	return m.setHostState(endpoint, NodeDown)
}

func (m *Metadata) setHostState(endpoint string, state NodeState) error {
	host, ok := m.hosts.get(endpoint)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCannotFindHost, endpoint)
	}
	if !host.setState(state) {
		return nil
	}
	m.logger.Info("Host %s is %s.", newLogFieldString("host", endpoint), newLogFieldStringer("state", state))
	if l := m.cfg.HostListener; l != nil {
		if state == NodeUp {
			l.HostUp(host)
		} else {
			l.HostDown(host)
		}
	}
	return nil
}

// TokenMap returns the current token map snapshot.
func (m *Metadata) TokenMap() *TokenMap {
	return m.tokenMap.Load()
}

// GetReplicas returns the replicas of the partition key in keyspace using the
// current token map.
func (m *Metadata) GetReplicas(keyspace string, partitionKey []byte) ReplicaSet {
	return m.TokenMap().GetReplicas(keyspace, partitionKey)
}

// Hosts returns every known host sorted by endpoint.
func (m *Metadata) Hosts() []*HostInfo {
	return m.hosts.all()
}

// GetHost returns the host with the given "ip:port" endpoint.
func (m *Metadata) GetHost(endpoint string) (*HostInfo, bool) {
	return m.hosts.get(endpoint)
}

func (m *Metadata) ClusterName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clusterName
}

// Partitioner returns the partitioner class reported by the cluster.
func (m *Metadata) Partitioner() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.partitioner
}

// Keyspace returns the metadata of a keyspace, ErrKeyspaceNotFound if unknown.
func (m *Metadata) Keyspace(name string) (*KeyspaceMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks, ok := m.keyspaces[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyspaceNotFound, name)
	}
	return ks, nil
}

// Keyspaces returns the names of the known keyspaces, sorted.
func (m *Metadata) Keyspaces() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.keyspaces))
	for name := range m.keyspaces {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Close stops background refreshes. Refreshes requested afterwards fail with
// ErrMetadataClosed.
func (m *Metadata) Close() {
	m.eventsMu.Lock()
	wasClosed := m.closed.Swap(true)
	m.eventsMu.Unlock()
	if wasClosed {
		return
	}
	m.cancel()
	m.debouncer.stop()
	m.events.Wait()
}
