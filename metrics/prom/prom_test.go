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

package prom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cassring/cassring"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewObserver(reg)
	ctx := context.Background()
	start := time.Now()

	o.ObserveRefresh(ctx, cassring.ObservedRefresh{
		Kind: cassring.RefreshSchema, Start: start, End: start.Add(20 * time.Millisecond),
		Hosts: 3, TokenMapRebuilt: true, Generation: 1, PeersV2: true,
	})
	o.ObserveRefresh(ctx, cassring.ObservedRefresh{
		Kind: cassring.RefreshTopology, Start: start, End: start.Add(time.Millisecond),
		Hosts: 4, PeersV2: true, Generation: 1,
	})
	o.ObserveRefresh(ctx, cassring.ObservedRefresh{
		Kind: cassring.RefreshTopology, Start: start, End: start.Add(time.Millisecond),
		Err: errors.New("timeout"),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(o.RefreshesTotal.WithLabelValues("schema")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.RefreshesTotal.WithLabelValues("topology")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.RefreshErrors.WithLabelValues("topology")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.TokenMapRebuilds))
	// failed refreshes leave the gauges untouched
	assert.Equal(t, 4.0, testutil.ToFloat64(o.Hosts))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.Generation))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.PeersV2))
	assert.Equal(t, 2, testutil.CollectAndCount(o.RefreshDuration))
}
