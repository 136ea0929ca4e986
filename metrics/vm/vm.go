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

// Package vm exports cassring refresh statistics with VictoriaMetrics/metrics.
package vm

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"

	"github.com/cassring/cassring"
)

// Option configures an Observer.
type Option func(*Observer)

// WithPrefix sets the metric name prefix.
//
// Default: "cassring"
func WithPrefix(prefix string) Option {
	return func(o *Observer) {
		o.prefix = prefix
	}
}

// WithMetricsSet registers the metrics in set instead of a new globally
// registered set. The caller is responsible for exposing it.
func WithMetricsSet(set *metrics.Set) Option {
	return func(o *Observer) {
		o.set = set
	}
}

// Observer is a cassring.RefreshObserver recording every refresh.
type Observer struct {
	set    *metrics.Set
	prefix string

	hosts      atomic.Int64
	generation atomic.Uint64
	peersV2    atomic.Bool

	tokenMapRebuilds *metrics.Counter
}

// New creates an Observer. Without WithMetricsSet it creates its own set and
// registers it globally.
func New(opts ...Option) *Observer {
	o := &Observer{prefix: "cassring"}
	for _, opt := range opts {
		opt(o)
	}
	if o.set == nil {
		o.set = metrics.NewSet()
		metrics.RegisterSet(o.set)
	}

	p := o.prefix
	o.tokenMapRebuilds = o.set.NewCounter(p + "_token_map_rebuilds_total")
	o.set.NewGauge(p+"_hosts", func() float64 {
		return float64(o.hosts.Load())
	})
	o.set.NewGauge(p+"_token_map_generation", func() float64 {
		return float64(o.generation.Load())
	})
	o.set.NewGauge(p+"_peers_v2", func() float64 {
		if o.peersV2.Load() {
			return 1
		}
		return 0
	})
	return o
}

// Set returns the metrics set of the observer.
func (o *Observer) Set() *metrics.Set {
	return o.set
}

func (o *Observer) ObserveRefresh(_ context.Context, r cassring.ObservedRefresh) {
	p := o.prefix
	o.set.GetOrCreateCounter(fmt.Sprintf(`%s_refreshes_total{kind=%q}`, p, r.Kind)).Inc()
	o.set.GetOrCreateHistogram(fmt.Sprintf(`%s_refresh_duration_seconds{kind=%q}`, p, r.Kind)).Update(r.End.Sub(r.Start).Seconds())
	if r.Err != nil {
		o.set.GetOrCreateCounter(fmt.Sprintf(`%s_refresh_errors_total{kind=%q}`, p, r.Kind)).Inc()
		return
	}

	o.hosts.Store(int64(r.Hosts))
	o.generation.Store(r.Generation)
	if r.TokenMapRebuilt {
		o.tokenMapRebuilds.Inc()
	}
	if r.Kind == cassring.RefreshTopology {
		o.peersV2.Store(r.PeersV2)
	}
}
