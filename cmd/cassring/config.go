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

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/cassring/cassring"
)

// fileConfig is the configuration file of the command, overridable with
// CASSRING_* environment variables.
type fileConfig struct {
	ContactPoints      []string          `mapstructure:"contact_points"`
	Port               int               `mapstructure:"port"`
	Timeout            time.Duration     `mapstructure:"timeout"`
	MetadataSync       bool              `mapstructure:"metadata_sync"`
	RefreshDebounce    time.Duration     `mapstructure:"refresh_debounce"`
	RefreshInterval    time.Duration     `mapstructure:"refresh_interval"`
	ReplicaCacheSize   int               `mapstructure:"replica_cache_size"`
	LogLevel           string            `mapstructure:"log_level"`
	AddressTranslation map[string]string `mapstructure:"address_translation"`
}

func loadConfig(path string) (*fileConfig, error) {
	// address translation keys are IP addresses, keep dots out of the key path
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cassring")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cassring/")
	}

	v.SetEnvPrefix("CASSRING")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg fileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("contact_points", []string{"127.0.0.1"})
	v.SetDefault("port", 9042)
	v.SetDefault("timeout", "10s")
	v.SetDefault("metadata_sync", true)
	v.SetDefault("refresh_debounce", "1s")
	v.SetDefault("refresh_interval", "1m")
	v.SetDefault("replica_cache_size", 0)
	v.SetDefault("log_level", "info")
}

func (c *fileConfig) validate() error {
	if len(c.ContactPoints) == 0 || c.ContactPoints[0] == "" {
		return errors.New("at least one contact point is required")
	}
	if c.RefreshInterval <= 0 {
		return errors.New("refresh_interval must be positive")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// metadataConfig converts the file configuration to a cassring.Config.
func (c *fileConfig) metadataConfig() (*cassring.Config, error) {
	cfg := cassring.NewConfig()
	cfg.Port = c.Port
	cfg.MetadataSyncEnabled = c.MetadataSync
	cfg.RefreshDebounce = c.RefreshDebounce
	cfg.ReplicaCacheSize = c.ReplicaCacheSize
	if len(c.AddressTranslation) > 0 {
		translator, err := cassring.StaticAddressTranslator(c.AddressTranslation)
		if err != nil {
			return nil, err
		}
		cfg.AddressTranslator = translator
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
