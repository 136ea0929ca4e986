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

// Package hostpool picks coordinators for a partition key: the replicas of
// the key first, then any other host chosen by a go-hostpool HostPool.
//
//	pool := hostpool.New(hostpool.NewEpsilonGreedy(nil, 0, &hostpool.LinearEpsilonValueCalculator{}), nil)
//	cfg.HostListener = pool
//	m, _ := cassring.NewMetadata(cfg, control)
//	pool.SetReplicaSource(m)
package hostpool

import (
	"sync"

	"github.com/hailocab/go-hostpool"

	"github.com/cassring/cassring"
)

// ReplicaSource resolves the replicas of a partition key, *cassring.Metadata
// implements it.
type ReplicaSource interface {
	GetReplicas(keyspace string, partitionKey []byte) cassring.ReplicaSet
}

// SelectedHost is a host returned by Pool.Pick.
type SelectedHost interface {
	Info() *cassring.HostInfo
	// Mark reports the outcome of a request sent to the host.
	Mark(err error)
}

// NextHost returns the next host to try, or nil when none is left.
type NextHost func() SelectedHost

// Pool tracks the up hosts of a cluster. It implements
// cassring.HostListener so it can follow a Metadata.
type Pool struct {
	hp hostpool.HostPool

	mu       sync.RWMutex
	hostMap  map[string]*cassring.HostInfo
	replicas ReplicaSource
}

// New creates a Pool on top of hp. When creating the host pool use an empty
// slice of hosts, it is populated by the Pool.
func New(hp hostpool.HostPool, replicas ReplicaSource) *Pool {
	return &Pool{hp: hp, hostMap: map[string]*cassring.HostInfo{}, replicas: replicas}
}

// SetReplicaSource sets the source of replicas used by Pick.
func (p *Pool) SetReplicaSource(replicas ReplicaSource) {
	p.mu.Lock()
	p.replicas = replicas
	p.mu.Unlock()
}

// SetHosts replaces the tracked hosts with the up hosts among hosts.
func (p *Pool) SetHosts(hosts []*cassring.HostInfo) {
	peers := make([]string, 0, len(hosts))
	hostMap := make(map[string]*cassring.HostInfo, len(hosts))

	for _, host := range hosts {
		if !host.IsUp() {
			continue
		}
		endpoint := host.Endpoint()
		peers = append(peers, endpoint)
		hostMap[endpoint] = host
	}

	p.mu.Lock()
	p.hp.SetHosts(peers)
	p.hostMap = hostMap
	p.mu.Unlock()
}

func (p *Pool) HostAdded(host *cassring.HostInfo) {
	if host.IsUp() {
		p.addHost(host)
	}
}

func (p *Pool) HostRemoved(host *cassring.HostInfo) {
	p.removeHost(host)
}

func (p *Pool) HostUp(host *cassring.HostInfo) {
	p.addHost(host)
}

func (p *Pool) HostDown(host *cassring.HostInfo) {
	p.removeHost(host)
}

func (p *Pool) addHost(host *cassring.HostInfo) {
	endpoint := host.Endpoint()

	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.hostMap[endpoint]; ok && h != nil {
		return
	}
	p.hostMap[endpoint] = host
	p.resetLocked()
}

func (p *Pool) removeHost(host *cassring.HostInfo) {
	endpoint := host.Endpoint()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.hostMap[endpoint]; !ok {
		return
	}
	delete(p.hostMap, endpoint)
	p.resetLocked()
}

func (p *Pool) resetLocked() {
	hosts := make([]string, 0, len(p.hostMap))
	for endpoint := range p.hostMap {
		hosts = append(hosts, endpoint)
	}
	p.hp.SetHosts(hosts)
}

// Len returns the number of tracked hosts.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.hostMap)
}

// Pick returns the up replicas of the partition key, full replicas before
// transient ones, followed by the remaining hosts as chosen by the host
// pool. Every host is returned at most once.
func (p *Pool) Pick(keyspace string, partitionKey []byte) NextHost {
	p.mu.RLock()
	source := p.replicas
	p.mu.RUnlock()

	var replicas []*cassring.HostInfo
	if source != nil && keyspace != "" {
		set := source.GetReplicas(keyspace, partitionKey)
		replicas = append(set.Full(), set.Transient()...)
	}

	used := make(map[string]struct{})
	return func() SelectedHost {
		p.mu.RLock()
		defer p.mu.RUnlock()

		for len(replicas) > 0 {
			host := replicas[0]
			replicas = replicas[1:]
			endpoint := host.Endpoint()
			if _, ok := p.hostMap[endpoint]; !ok || !host.IsUp() {
				continue
			}
			if _, ok := used[endpoint]; ok {
				continue
			}
			used[endpoint] = struct{}{}
			return selectedReplica{info: host}
		}

		// the pool may hand out hosts already returned as replicas
		for attempts := len(p.hostMap); attempts > 0 && len(used) < len(p.hostMap); attempts-- {
			hostR := p.hp.Get()
			host, ok := p.hostMap[hostR.Host()]
			if !ok {
				return nil
			}
			if _, ok := used[hostR.Host()]; ok {
				hostR.Mark(nil)
				continue
			}
			used[hostR.Host()] = struct{}{}
			return selectedPoolHost{pool: p, info: host, hostR: hostR}
		}
		return nil
	}
}

// selectedReplica is a replica chosen by token; it bypasses the host pool,
// so marks are not recorded.
type selectedReplica struct {
	info *cassring.HostInfo
}

func (host selectedReplica) Info() *cassring.HostInfo {
	return host.info
}

func (host selectedReplica) Mark(error) {}

// selectedPoolHost is a host returned by the host pool.
type selectedPoolHost struct {
	pool  *Pool
	info  *cassring.HostInfo
	hostR hostpool.HostPoolResponse
}

func (host selectedPoolHost) Info() *cassring.HostInfo {
	return host.info
}

func (host selectedPoolHost) Mark(err error) {
	endpoint := host.info.Endpoint()

	host.pool.mu.RLock()
	defer host.pool.mu.RUnlock()

	if _, ok := host.pool.hostMap[endpoint]; !ok {
		// host was removed between pick and mark
		return
	}

	host.hostR.Mark(err)
}
