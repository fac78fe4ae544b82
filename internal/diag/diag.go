/*
 * Copyright 2016 ClusterHQ
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package diag is the engine's diagnostic sink: a leveled logger for
// non-fatal free-text warnings (format downgrades, utimes failures), kept
// separate from the structured counters in package stats.
package diag

import (
	"io"
	"log"
	"os"
)

// Level is the logging level.
type Level uint8

const (
	// Critical is for conditions the caller cannot continue past.
	Critical Level = iota
	// Error is for failed operations that are nonetheless recoverable.
	Error
	// Warn is for non-fatal diagnostics (format downgrades, utimes failures).
	Warn
	// Info is for routine progress.
	Info
	// Debug is for verbose internals.
	Debug
)

func getPrefix(level Level) string {
	switch level {
	case Debug:
		return "[DEBUG] "
	case Info:
		return "[INFO] "
	case Warn:
		return "[WARN] "
	case Error:
		return "[ERROR] "
	case Critical:
		return "[CRITICAL] "
	default:
		return "[?] "
	}
}

// Logger is a leveled wrapper around the standard library logger. A nil
// *Logger is valid and discards everything, so callers may pass one through
// optionally without a nil check at every call site.
type Logger struct {
	*log.Logger
	level Level
}

// New returns a Logger writing to out, defaulting to Info level.
func New(out io.Writer, prefix string) *Logger {
	return &Logger{
		Logger: log.New(out, prefix, log.LstdFlags),
		level:  Info,
	}
}

// Default returns a Logger writing to stderr at Info level, suitable as a
// package-level fallback.
func Default() *Logger {
	return New(os.Stderr, "")
}

// WithLevel sets the logger's level and returns it for chaining.
func (l *Logger) WithLevel(level Level) *Logger {
	if l == nil {
		return l
	}
	l.level = level
	return l
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil || l.Logger == nil || l.level < level {
		return
	}
	l.Printf(getPrefix(level)+format, args...)
}

// Debug logs at Debug level.
func (l *Logger) Debug(format string, args ...interface{}) { l.log(Debug, format, args...) }

// Info logs at Info level.
func (l *Logger) Info(format string, args ...interface{}) { l.log(Info, format, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(format string, args ...interface{}) { l.log(Warn, format, args...) }

// Error logs at Error level.
func (l *Logger) Error(format string, args ...interface{}) { l.log(Error, format, args...) }

// Critical logs at Critical level.
func (l *Logger) Critical(format string, args ...interface{}) { l.log(Critical, format, args...) }
