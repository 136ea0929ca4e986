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

// Package cassringzap adapts a zap logger to cassring.AdvancedLogger.
package cassringzap

import (
	"go.uber.org/zap"

	"github.com/cassring/cassring"
)

const DefaultName = "cassring"

type Logger interface {
	cassring.AdvancedLogger
	ZapLogger() *zap.Logger
	Name() string
}

type logger struct {
	zapLogger *zap.Logger
}

// NewZapLogger creates a new zap based logger with the logger name set to DefaultName
func NewZapLogger(l *zap.Logger) Logger {
	return &logger{zapLogger: l.Named(DefaultName)}
}

// NewUnnamedZapLogger doesn't set the logger name so the user can set the name of the logger
// before providing it to this function (or just leave it unset)
func NewUnnamedZapLogger(l *zap.Logger) Logger {
	return &logger{zapLogger: l}
}

func (rec *logger) ZapLogger() *zap.Logger {
	return rec.zapLogger
}

func (rec *logger) Name() string {
	return rec.zapLogger.Name()
}

func (rec *logger) fields(fields []cassring.LogField) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, field := range fields {
		out[i] = zap.Any(field.Name, field.Value)
	}
	return out
}

func (rec *logger) Error(msg string, fields ...cassring.LogField) {
	rec.zapLogger.Error(msg, rec.fields(fields)...)
}

func (rec *logger) Warning(msg string, fields ...cassring.LogField) {
	rec.zapLogger.Warn(msg, rec.fields(fields)...)
}

func (rec *logger) Info(msg string, fields ...cassring.LogField) {
	rec.zapLogger.Info(msg, rec.fields(fields)...)
}

func (rec *logger) Debug(msg string, fields ...cassring.LogField) {
	rec.zapLogger.Debug(msg, rec.fields(fields)...)
}
