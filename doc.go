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

// Package cassring keeps the topology and token map of a Cassandra cluster.
//
// A Metadata reads system.local, system.peers_v2 (or system.peers) and
// system_schema.keyspaces through a control connection and maintains:
//
//   - the hosts of the cluster, identified by their "ip:port" endpoint,
//   - the replication strategy of every keyspace,
//   - a TokenMap snapshot mapping every token of the ring to its replicas.
//
// Typical use with the gocql adapter:
//
//	conn, err := cqlconn.Dial(ctx, cqlconn.Options{Host: "10.0.1.1"})
//	if err != nil {
//		// handle err
//	}
//	defer conn.Close()
//
//	md, err := cassring.NewMetadata(cassring.NewConfig(), cassring.StaticControl(conn))
//	if err != nil {
//		// handle err
//	}
//	defer md.Close()
//
//	if err := md.Init(ctx); err != nil {
//		// handle err
//	}
//	replicas := md.GetReplicas("my_keyspace", partitionKey)
//
// Token maps are immutable with respect to the ring. A full schema refresh
// publishes a new snapshot with a higher generation while holders of an
// older snapshot keep a consistent view. Keyspace refreshes rebind a single
// keyspace in the current snapshot.
package cassring
