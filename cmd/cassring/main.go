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

// Command cassring prints the hosts and token ranges of a Cassandra cluster.
//
//	cassring -config cassring.yaml [-keyspace ks] [-key hex] [-metrics :9100]
//
// With -metrics it keeps refreshing the metadata every refresh_interval and
// serves Prometheus metrics until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cassring/cassring"
	"github.com/cassring/cassring/cqlconn"
	"github.com/cassring/cassring/extensions/cassringzap"
	"github.com/cassring/cassring/metrics/prom"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	keyspace := flag.String("keyspace", "", "print the token ranges of this keyspace")
	key := flag.String("key", "", "hex encoded partition key, print only its replicas")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address and keep refreshing")
	flag.Parse()

	if err := run(*configPath, *keyspace, *key, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "cassring:", err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func run(configPath, keyspace, key, metricsAddr string) error {
	fileCfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(fileCfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := fileCfg.metadataConfig()
	if err != nil {
		return err
	}
	cfg.StructuredLogger = cassringzap.NewZapLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var server *http.Server
	if metricsAddr != "" {
		cfg.RefreshObserver = prom.NewObserver(nil)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
				stop()
			}
		}()
		defer server.Close()
	}

	conn, err := cqlconn.Dial(ctx, cqlconn.Options{
		Host:    fileCfg.ContactPoints[0],
		Port:    fileCfg.Port,
		Timeout: fileCfg.Timeout,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	m, err := cassring.NewMetadata(cfg, cassring.StaticControl(conn))
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Init(ctx); err != nil {
		return err
	}
	doc, err := dumpRing(m, keyspace, key)
	if err != nil {
		return err
	}
	if err := writeYAML(os.Stdout, doc); err != nil {
		return err
	}
	if server == nil {
		return nil
	}

	logger.Info("serving metrics", zap.String("addr", metricsAddr), zap.Duration("refresh_interval", fileCfg.RefreshInterval))
	ticker := time.NewTicker(fileCfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.RefreshSchema(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("refresh failed", zap.Error(err))
			}
		}
	}
}
