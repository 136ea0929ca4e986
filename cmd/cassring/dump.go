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

package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/cassring/cassring"
)

type ringDump struct {
	ClusterName string        `yaml:"cluster_name"`
	Partitioner string        `yaml:"partitioner"`
	Generation  uint64        `yaml:"generation"`
	Hosts       []hostDump    `yaml:"hosts"`
	Keyspace    *keyspaceDump `yaml:"keyspace,omitempty"`
}

type hostDump struct {
	Endpoint   string `yaml:"endpoint"`
	Datacenter string `yaml:"datacenter"`
	Rack       string `yaml:"rack"`
	HostID     string `yaml:"host_id"`
	Version    string `yaml:"version"`
	State      string `yaml:"state"`
	Tokens     int    `yaml:"tokens"`
}

type keyspaceDump struct {
	Name     string      `yaml:"name"`
	Strategy string      `yaml:"strategy"`
	Key      string      `yaml:"key,omitempty"`
	Ranges   []rangeDump `yaml:"ranges"`
}

type rangeDump struct {
	Token     string   `yaml:"token"`
	Replicas  []string `yaml:"replicas"`
	Transient []string `yaml:"transient,omitempty"`
}

// dumpRing builds the document describing m. With a keyspace it lists the
// replicas of every token range, or of the range holding the hex encoded
// partition key when key is set.
func dumpRing(m *cassring.Metadata, keyspace, key string) (*ringDump, error) {
	tm := m.TokenMap()
	doc := &ringDump{
		ClusterName: m.ClusterName(),
		Partitioner: m.Partitioner(),
		Generation:  tm.Generation(),
	}
	for _, h := range m.Hosts() {
		doc.Hosts = append(doc.Hosts, hostDump{
			Endpoint:   h.Endpoint(),
			Datacenter: h.DataCenter(),
			Rack:       h.Rack(),
			HostID:     h.HostID().String(),
			Version:    h.Version().String(),
			State:      h.State().String(),
			Tokens:     len(h.Tokens()),
		})
	}
	if keyspace == "" {
		return doc, nil
	}

	strategy, ok := tm.Strategy(keyspace)
	if !ok {
		if _, err := m.Keyspace(keyspace); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("keyspace %s has no supported replication strategy", keyspace)
	}
	ks := &keyspaceDump{Name: keyspace, Strategy: strategy.Key()}
	doc.Keyspace = ks

	if key != "" {
		partitionKey, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("invalid partition key %q: %w", key, err)
		}
		p := tm.Partitioner()
		if p == nil {
			return nil, fmt.Errorf("unknown partitioner %q", m.Partitioner())
		}
		token := p.Hash(partitionKey)
		ks.Key = key
		ks.Ranges = append(ks.Ranges, newRangeDump(token, tm.GetReplicasForToken(keyspace, token)))
		return doc, nil
	}

	replicas, _ := tm.GetByKeyspace(keyspace)
	replicas.Range(func(token cassring.Token, set cassring.ReplicaSet) bool {
		ks.Ranges = append(ks.Ranges, newRangeDump(token, set))
		return true
	})
	return doc, nil
}

func newRangeDump(token cassring.Token, set cassring.ReplicaSet) rangeDump {
	r := rangeDump{Token: token.String()}
	for _, h := range set.Full() {
		r.Replicas = append(r.Replicas, h.Endpoint())
	}
	for _, h := range set.Transient() {
		r.Transient = append(r.Transient, h.Endpoint())
	}
	return r
}

func writeYAML(w io.Writer, doc *ringDump) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
