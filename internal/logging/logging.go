/*
 *
 * Copyright 2024 lbkit authors.
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
 *
 */

// Package logging provides component-prefixed leveled loggers for this
// module, backed by glog.
package logging

import (
	"fmt"

	"github.com/golang/glog"
)

// A Logger prefixes every line it writes with its component name.
type Logger struct {
	prefix string
}

// Component returns a logger for the named component. Loggers are cheap and
// safe for concurrent use; packages typically hold one in a package-level
// var.
func Component(name string) *Logger {
	return &Logger{prefix: "[" + name + "] "}
}

// V reports whether verbosity level v is enabled.
func (l *Logger) V(v int) bool {
	return bool(glog.V(glog.Level(v)))
}

// Infof logs at the INFO level.
func (l *Logger) Infof(format string, args ...any) {
	glog.InfoDepth(1, l.prefix+fmt.Sprintf(format, args...))
}

// Warningf logs at the WARNING level.
func (l *Logger) Warningf(format string, args ...any) {
	glog.WarningDepth(1, l.prefix+fmt.Sprintf(format, args...))
}

// Errorf logs at the ERROR level.
func (l *Logger) Errorf(format string, args ...any) {
	glog.ErrorDepth(1, l.prefix+fmt.Sprintf(format, args...))
}
