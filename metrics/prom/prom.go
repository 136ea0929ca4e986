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

// Package prom exports cassring refresh statistics as Prometheus metrics.
package prom

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cassring/cassring"
)

const namespace = "cassring"

// Observer is a cassring.RefreshObserver recording every refresh.
type Observer struct {
	RefreshesTotal   *prometheus.CounterVec
	RefreshErrors    *prometheus.CounterVec
	RefreshDuration  *prometheus.HistogramVec
	TokenMapRebuilds prometheus.Counter
	Hosts            prometheus.Gauge
	Generation       prometheus.Gauge
	PeersV2          prometheus.Gauge
}

// NewObserver creates the metrics and registers them with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewObserver(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Observer{
		RefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Total number of metadata refreshes",
			},
			[]string{"kind"},
		),

		RefreshErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_errors_total",
				Help:      "Total number of failed metadata refreshes",
			},
			[]string{"kind"},
		),

		RefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of metadata refreshes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		TokenMapRebuilds: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_map_rebuilds_total",
				Help:      "Total number of published token map snapshots",
			},
		),

		Hosts: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hosts",
				Help:      "Number of known hosts",
			},
		),

		Generation: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "token_map_generation",
				Help:      "Generation of the current token map",
			},
		),

		PeersV2: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "peers_v2",
				Help:      "1 when the last topology refresh read system.peers_v2",
			},
		),
	}
}

func (o *Observer) ObserveRefresh(_ context.Context, r cassring.ObservedRefresh) {
	kind := string(r.Kind)
	o.RefreshesTotal.WithLabelValues(kind).Inc()
	o.RefreshDuration.WithLabelValues(kind).Observe(r.End.Sub(r.Start).Seconds())
	if r.Err != nil {
		o.RefreshErrors.WithLabelValues(kind).Inc()
		return
	}

	o.Hosts.Set(float64(r.Hosts))
	o.Generation.Set(float64(r.Generation))
	if r.TokenMapRebuilt {
		o.TokenMapRebuilds.Inc()
	}
	if r.Kind == cassring.RefreshTopology {
		if r.PeersV2 {
			o.PeersV2.Set(1)
		} else {
			o.PeersV2.Set(0)
		}
	}
}
