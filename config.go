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
	"net"
	"time"
)

// Config configures a Metadata instance. Create it with NewConfig so that
// defaults are set, then adjust the fields before calling NewMetadata.
// A Config must not be modified once it has been handed to NewMetadata.
type Config struct {
	// Port used for peers that do not report a native port (system.peers),
	// and for the local host when the control connection does not report one.
	// Default: 9042
	Port int

	// MetadataSyncEnabled controls whether schema change events keep the
	// keyspace metadata and the token map up to date. When false the token map
	// only changes through explicit RefreshSchema/RefreshKeyspace calls and
	// keyspaces are not fetched during Init.
	// Default: true
	MetadataSyncEnabled bool

	// AddressTranslator, if set, translates every address read from the
	// system tables before it is used as a host endpoint.
	AddressTranslator AddressTranslator

	// RefreshDebounce is the delay used to coalesce topology events into a
	// single ring refresh.
	// Default: 1s
	RefreshDebounce time.Duration

	// ReplicaCacheSize bounds the number of replica maps kept per token map
	// snapshot. Keyspaces sharing a replication strategy share an entry.
	// Evicted maps are recomputed on demand. Zero means no limit.
	ReplicaCacheSize int

	// Logger for legacy Printf style logging, filtered by LogLevel.
	// Ignored when StructuredLogger is set.
	Logger StdLogger

	// StructuredLogger receives structured log entries; level filtering is
	// left to the logger implementation.
	StructuredLogger AdvancedLogger

	// LogLevel for Logger.
	// Default: LogLevelWarn
	LogLevel LogLevel

	// RefreshObserver, if set, is notified after every topology and schema refresh.
	RefreshObserver RefreshObserver

	// HostListener, if set, is notified when hosts are added, removed or
	// change state.
	HostListener HostListener
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Port:                9042,
		MetadataSyncEnabled: true,
		RefreshDebounce:     ringRefreshDebounceTime,
		LogLevel:            LogLevelWarn,
	}
}

// Validate checks the configuration for values that cannot work.
func (cfg *Config) Validate() error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.New("cassring: Port must be between 1 and 65535")
	}
	if cfg.RefreshDebounce < 0 {
		return errors.New("cassring: RefreshDebounce must not be negative")
	}
	if cfg.ReplicaCacheSize < 0 {
		return errors.New("cassring: ReplicaCacheSize must not be negative")
	}
	return nil
}

func (cfg *Config) newLogger() internalLogger {
	if cfg.StructuredLogger != nil {
		return newInternalLoggerFromAdvancedLogger(cfg.StructuredLogger, LogLevelDebug)
	}
	if cfg.Logger != nil {
		return newInternalLoggerFromStdLogger(cfg.Logger, cfg.LogLevel)
	}
	if cfg.LogLevel > LogLevelNone {
		return newInternalLoggerFromStdLogger(&defaultLogger{}, cfg.LogLevel)
	}
	return nilInternalLogger
}

func (cfg *Config) translateAddressPort(addr net.IP, port int, logger internalLogger) (net.IP, int) {
	if cfg.AddressTranslator == nil || len(addr) == 0 {
		return addr, port
	}
	newAddr, newPort := cfg.AddressTranslator.Translate(addr, port)
	logger.Debug("translating address '%v:%d' to '%v:%d'",
		newLogFieldIp("old_addr", addr), newLogFieldInt("old_port", port),
		newLogFieldIp("new_addr", newAddr), newLogFieldInt("new_port", newPort))
	return newAddr, newPort
}
