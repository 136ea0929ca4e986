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
	"fmt"
)

const (
	qrySchemaKeyspaces = "SELECT keyspace_name, durable_writes, replication FROM system_schema.keyspaces"
	qrySchemaKeyspace  = qrySchemaKeyspaces + " WHERE keyspace_name = ?"
)

// KeyspaceMetadata holds the replication settings of a keyspace.
type KeyspaceMetadata struct {
	Name          string
	DurableWrites bool
	StrategyClass string
	// StrategyOptions holds the replication options without the class.
	StrategyOptions map[string]string
	// Strategy is nil for strategy classes without replica placement support.
	Strategy ReplicationStrategy
}

func keyspaceFromRow(row map[string]interface{}) (*KeyspaceMetadata, error) {
	ks := &KeyspaceMetadata{}

	var ok bool
	if ks.Name, ok = row["keyspace_name"].(string); !ok {
		return nil, fmt.Errorf("assertion failed for keyspace_name, type was %T", row["keyspace_name"])
	}
	ks.DurableWrites, _ = row["durable_writes"].(bool)

	replication, ok := row["replication"].(map[string]string)
	if !ok && row["replication"] != nil {
		return nil, fmt.Errorf("keyspace %s: assertion failed for replication, type was %T", ks.Name, row["replication"])
	}

	ks.StrategyClass = replication["class"]
	ks.StrategyOptions = make(map[string]string, len(replication))
	for k, v := range replication {
		if k != "class" {
			ks.StrategyOptions[k] = v
		}
	}

	strategy, err := NewReplicationStrategy(ks)
	if err != nil {
		return nil, err
	}
	ks.Strategy = strategy
	return ks, nil
}

// fetchKeyspaces reads every keyspace from system_schema.keyspaces.
func fetchKeyspaces(ctx context.Context, conn Conn) (map[string]*KeyspaceMetadata, error) {
	rows, err := conn.Query(ctx, qrySchemaKeyspaces)
	if err != nil {
		return nil, fmt.Errorf("error querying keyspaces: %w", err)
	}

	keyspaces := make(map[string]*KeyspaceMetadata, len(rows))
	for _, row := range rows {
		ks, err := keyspaceFromRow(row)
		if err != nil {
			return nil, err
		}
		keyspaces[ks.Name] = ks
	}
	return keyspaces, nil
}

// fetchKeyspace reads one keyspace. It returns nil without an error when the
// keyspace does not exist.
func fetchKeyspace(ctx context.Context, conn Conn, name string) (*KeyspaceMetadata, error) {
	rows, err := conn.Query(ctx, qrySchemaKeyspace, name)
	if err != nil {
		return nil, fmt.Errorf("error querying keyspace %s: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return keyspaceFromRow(rows[0])
}
