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
	"time"
)

// RefreshKind names what a refresh fetched.
type RefreshKind string

const (
	RefreshTopology RefreshKind = "topology"
	RefreshSchema   RefreshKind = "schema"
	RefreshKeyspace RefreshKind = "keyspace"
)

// ObservedRefresh describes a finished refresh.
type ObservedRefresh struct {
	Kind RefreshKind
	// Keyspace is set for RefreshKeyspace.
	Keyspace string

	Start time.Time // time immediately before the first query was issued
	End   time.Time // time immediately after the result was applied

	// Hosts is the number of hosts known after the refresh.
	Hosts int
	// PeersV2 reports whether system.peers_v2 was used, for topology refreshes.
	PeersV2 bool
	// TokenMapRebuilt is true when a new token map snapshot was published.
	TokenMapRebuilt bool
	// Generation of the token map after the refresh.
	Generation uint64

	// Err is the error of the refresh, if any. Nothing was applied when set.
	Err error
}

// RefreshObserver is the interface implemented by refresh observers / stat collectors.
type RefreshObserver interface {
	// ObserveRefresh gets called on every topology, schema and keyspace refresh.
	// It must not block.
	ObserveRefresh(context.Context, ObservedRefresh)
}

// HostListener is notified of changes to the set of known hosts and of their
// state. Calls happen after the change was applied and must not block.
type HostListener interface {
	HostAdded(*HostInfo)
	HostRemoved(*HostInfo)
	HostUp(*HostInfo)
	HostDown(*HostInfo)
}
