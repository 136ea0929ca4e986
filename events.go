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

import "net"

// Event is a server push notification relevant to cluster metadata, see
// Metadata.HandleEvent.
type Event interface {
	eventKind() string
}

// Schema change targets.
const (
	SchemaTargetKeyspace  = "KEYSPACE"
	SchemaTargetTable     = "TABLE"
	SchemaTargetType      = "TYPE"
	SchemaTargetFunction  = "FUNCTION"
	SchemaTargetAggregate = "AGGREGATE"
)

// SchemaChangeEvent is a SCHEMA_CHANGE event. Change is CREATED, UPDATED or
// DROPPED.
type SchemaChangeEvent struct {
	Change   string
	Target   string
	Keyspace string
	// Object is the table, type, function or aggregate name.
	Object string
}

func (SchemaChangeEvent) eventKind() string { return "SCHEMA_CHANGE" }

// TopologyChangeEvent is a TOPOLOGY_CHANGE event. Change is NEW_NODE,
// REMOVED_NODE or MOVED_NODE.
type TopologyChangeEvent struct {
	Change string
	Host   net.IP
	Port   int
}

func (TopologyChangeEvent) eventKind() string { return "TOPOLOGY_CHANGE" }

// StatusChangeEvent is a STATUS_CHANGE event. Change is UP or DOWN.
type StatusChangeEvent struct {
	Change string
	Host   net.IP
	Port   int
}

func (StatusChangeEvent) eventKind() string { return "STATUS_CHANGE" }
