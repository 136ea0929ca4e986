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
	"strings"
)

var (
	// ErrNoControl is returned when no control connection is available to
	// run system table queries on.
	ErrNoControl = errors.New("cassring: no control connection available")
	// ErrKeyspaceNotFound is returned by keyspace lookups for keyspaces that
	// are not part of the current metadata.
	ErrKeyspaceNotFound = errors.New("cassring: keyspace not found")
	// ErrUnsupportedPartitioner is returned when the cluster reports a
	// partitioner that has no token implementation.
	ErrUnsupportedPartitioner = errors.New("cassring: unsupported partitioner")
	// ErrInvalidReplicationFactor is wrapped by every ReplicationFactorError.
	ErrInvalidReplicationFactor = errors.New("cassring: invalid replication factor")
	// ErrCannotFindHost is returned when a host expected in the registry is missing.
	ErrCannotFindHost = errors.New("cassring: cannot find host")
	// ErrMetadataClosed is returned by refreshes requested after Close.
	ErrMetadataClosed = errors.New("cassring: metadata closed")
)

// Error codes carried by request errors, as defined by the native protocol.
const (
	ErrCodeServer       = 0x0000
	ErrCodeProtocol     = 0x000A
	ErrCodeUnauthorized = 0x2100
	ErrCodeSyntax       = 0x2000
	ErrCodeInvalid      = 0x2200
	ErrCodeConfig       = 0x2300
)

// RequestError is an error returned by the server for a request. The error
// types of github.com/gocql/gocql satisfy it.
type RequestError interface {
	Code() int
	Message() string
	Error() string
}

// ReplicationFactorError reports a replication factor that could not be parsed.
type ReplicationFactorError struct {
	Value  string
	Reason string
}

func (e *ReplicationFactorError) Error() string {
	return fmt.Sprintf("cassring: invalid replication factor %q: %s", e.Value, e.Reason)
}

func (e *ReplicationFactorError) Unwrap() error {
	return ErrInvalidReplicationFactor
}

// isUnsupportedTableError reports whether err means the server does not know
// the queried table, e.g. system.peers_v2 on Cassandra < 4.0.
func isUnsupportedTableError(err error) bool {
	var reqErr RequestError
	if !errors.As(err, &reqErr) {
		return false
	}

	switch reqErr.Code() {
	case ErrCodeInvalid, ErrCodeSyntax:
		return true
	case ErrCodeServer:
		// DSE 6.0-6.7 answer with a server error instead of an invalid request
		msg := strings.ToLower(reqErr.Message())
		return strings.Contains(msg, "unknown keyspace/cf pair") ||
			strings.Contains(msg, "unconfigured table")
	}
	return false
}
