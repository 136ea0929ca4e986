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
	"bytes"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
)

// StdLogger is the classic Print/Printf/Println logger, satisfied by *log.Logger.
type StdLogger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

type nopLogger struct{}

func (n nopLogger) Print(_ ...interface{}) {}

func (n nopLogger) Printf(_ string, _ ...interface{}) {}

func (n nopLogger) Println(_ ...interface{}) {}

func (n nopLogger) Error(_ string, _ ...LogField) {}

func (n nopLogger) Warning(_ string, _ ...LogField) {}

func (n nopLogger) Info(_ string, _ ...LogField) {}

func (n nopLogger) Debug(_ string, _ ...LogField) {}

type testLogger struct {
	capture bytes.Buffer
	mu      sync.Mutex
}

func (l *testLogger) Print(v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(&l.capture, v...)
}

func (l *testLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(&l.capture, format, v...)
	l.capture.WriteByte('\n')
}

func (l *testLogger) Println(v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(&l.capture, v...)
}

func (l *testLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capture.String()
}

type defaultLogger struct{}

func (l *defaultLogger) Print(v ...interface{})                 { log.Print(v...) }
func (l *defaultLogger) Printf(format string, v ...interface{}) { log.Printf(format, v...) }
func (l *defaultLogger) Println(v ...interface{})               { log.Println(v...) }

type LogLevel int

const (
	LogLevelDebug = LogLevel(5)
	LogLevelInfo  = LogLevel(4)
	LogLevelWarn  = LogLevel(3)
	LogLevelError = LogLevel(2)
	LogLevelNone  = LogLevel(0)
)

func (recv LogLevel) String() string {
	switch recv {
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "none"
	default:
		// fmt.sprintf allocates so use strings.Join instead
		temp := [2]string{"invalid level ", strconv.Itoa(int(recv))}
		return strings.Join(temp[:], "")
	}
}

// ParseLogLevel parses the names returned by LogLevel.String.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "":
		return LogLevelNone, nil
	}
	return LogLevelNone, fmt.Errorf("cassring: unknown log level %q", s)
}

type LogField struct {
	Name  string
	Value interface{}
}

func NewLogField(name string, value interface{}) LogField {
	return LogField{
		Name:  name,
		Value: value,
	}
}

func newLogFieldIp(name string, value net.IP) LogField {
	var str string
	if value == nil {
		str = "<nil>"
	} else {
		str = value.String()
	}
	return NewLogField(name, str)
}

func newLogFieldError(name string, value error) LogField {
	if value == nil {
		return NewLogField(name, nil)
	}
	return NewLogField(name, value.Error())
}

func newLogFieldStringer(name string, value fmt.Stringer) LogField {
	return NewLogField(name, value.String())
}

func newLogFieldString(name string, value string) LogField {
	return NewLogField(name, value)
}

func newLogFieldInt(name string, value int) LogField {
	return NewLogField(name, value)
}

// AdvancedLogger is a structured logger. The extensions directory holds
// adapters for zap and zerolog.
type AdvancedLogger interface {
	Error(msg string, fields ...LogField)
	Warning(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Debug(msg string, fields ...LogField)
}

type internalLogger interface {
	AdvancedLogger
	MinimumLogLevel() LogLevel
}

var nilInternalLogger internalLogger = loggerAdapter{
	minimumLogLevel: LogLevelNone,
	advLogger:       nopLogger{},
	legacyLogger:    nil,
}

type loggerAdapter struct {
	minimumLogLevel LogLevel
	advLogger       AdvancedLogger
	legacyLogger    StdLogger
}

func (recv loggerAdapter) logLegacy(msg string, fields ...LogField) {
	var values []interface{}
	var small [5]interface{}
	l := len(fields)
	if l <= 5 { // small stack array optimization
		values = small[:l]
	} else {
		values = make([]interface{}, l)
	}
	var i int
	for _, v := range fields {
		values[i] = v.Value
		i++
	}
	recv.legacyLogger.Printf(msg, values...)
}

func (recv loggerAdapter) Error(msg string, fields ...LogField) {
	if LogLevelError <= recv.minimumLogLevel {
		if recv.advLogger != nil {
			recv.advLogger.Error(msg, fields...)
		} else {
			recv.logLegacy(msg, fields...)
		}
	}
}

func (recv loggerAdapter) Warning(msg string, fields ...LogField) {
	if LogLevelWarn <= recv.minimumLogLevel {
		if recv.advLogger != nil {
			recv.advLogger.Warning(msg, fields...)
		} else {
			recv.logLegacy(msg, fields...)
		}
	}
}

func (recv loggerAdapter) Info(msg string, fields ...LogField) {
	if LogLevelInfo <= recv.minimumLogLevel {
		if recv.advLogger != nil {
			recv.advLogger.Info(msg, fields...)
		} else {
			recv.logLegacy(msg, fields...)
		}
	}
}

func (recv loggerAdapter) Debug(msg string, fields ...LogField) {
	if LogLevelDebug <= recv.minimumLogLevel {
		if recv.advLogger != nil {
			recv.advLogger.Debug(msg, fields...)
		} else {
			recv.logLegacy(msg, fields...)
		}
	}
}

func (recv loggerAdapter) MinimumLogLevel() LogLevel {
	return recv.minimumLogLevel
}

func newInternalLoggerFromAdvancedLogger(logger AdvancedLogger, level LogLevel) loggerAdapter {
	return loggerAdapter{
		minimumLogLevel: level,
		advLogger:       logger,
		legacyLogger:    nil,
	}
}

func newInternalLoggerFromStdLogger(logger StdLogger, level LogLevel) loggerAdapter {
	return loggerAdapter{
		minimumLogLevel: level,
		advLogger:       nil,
		legacyLogger:    logger,
	}
}
