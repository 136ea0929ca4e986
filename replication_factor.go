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
	"strconv"
	"strings"
)

// ReplicationFactor is the number of replicas a keyspace keeps in a
// datacenter, in the "N" or "N/T" form where T of the N replicas are
// transient. The zero value means no replicas.
type ReplicationFactor struct {
	all       int
	transient int
}

// NewReplicationFactor returns the factor for all replicas, transient of which
// are transient.
func NewReplicationFactor(all, transient int) (ReplicationFactor, error) {
	if all < 0 || transient < 0 {
		return ReplicationFactor{}, &ReplicationFactorError{
			Value:  strconv.Itoa(all) + "/" + strconv.Itoa(transient),
			Reason: "replica counts must not be negative",
		}
	}
	if transient > all {
		return ReplicationFactor{}, &ReplicationFactorError{
			Value:  strconv.Itoa(all) + "/" + strconv.Itoa(transient),
			Reason: "transient replicas exceed total replicas",
		}
	}
	return ReplicationFactor{all: all, transient: transient}, nil
}

// ParseReplicationFactor parses the value of a replication option.
func ParseReplicationFactor(s string) (ReplicationFactor, error) {
	text := strings.TrimSpace(s)
	allStr, transientStr, hasTransient := strings.Cut(text, "/")

	all, err := strconv.Atoi(strings.TrimSpace(allStr))
	if err != nil {
		return ReplicationFactor{}, &ReplicationFactorError{Value: s, Reason: "replica count is not a number"}
	}

	var transient int
	if hasTransient {
		transient, err = strconv.Atoi(strings.TrimSpace(transientStr))
		if err != nil {
			return ReplicationFactor{}, &ReplicationFactorError{Value: s, Reason: "transient replica count is not a number"}
		}
	}

	rf, err := NewReplicationFactor(all, transient)
	if err != nil {
		rf := err.(*ReplicationFactorError)
		rf.Value = s
		return ReplicationFactor{}, rf
	}
	return rf, nil
}

// AllReplicas is the total number of replicas, full and transient.
func (rf ReplicationFactor) AllReplicas() int {
	return rf.all
}

// FullReplicas is AllReplicas minus TransientReplicas.
func (rf ReplicationFactor) FullReplicas() int {
	return rf.all - rf.transient
}

func (rf ReplicationFactor) TransientReplicas() int {
	return rf.transient
}

func (rf ReplicationFactor) HasTransientReplicas() bool {
	return rf.transient > 0
}

func (rf ReplicationFactor) String() string {
	if rf.transient == 0 {
		return strconv.Itoa(rf.all)
	}
	return strconv.Itoa(rf.all) + "/" + strconv.Itoa(rf.transient)
}
