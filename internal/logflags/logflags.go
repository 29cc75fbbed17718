// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logflags configures the analysis loggers. Each subsystem gets
// its own entry so log output can be filtered per concern.
package logflags

import (
	"io"

	"github.com/sirupsen/logrus"
)

var (
	smg    = false
	shape  = false
	anyLog = false
	logOut io.Writer
)

// Setup turns on logging for the named subsystems ("smg", "shape", or
// "all"). w receives the output; nil keeps the logrus default.
func Setup(subsystems []string, w io.Writer) {
	logOut = w
	for _, s := range subsystems {
		switch s {
		case "smg":
			smg = true
		case "shape":
			shape = true
		case "all":
			smg, shape = true, true
		}
	}
	anyLog = smg || shape
}

// Any reports whether any subsystem logs.
func Any() bool { return anyLog }

func makeLogger(enabled bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	if logOut != nil {
		logger.Out = logOut
	}
	if enabled {
		logger.Level = logrus.DebugLevel
	} else {
		logger.Level = logrus.ErrorLevel
	}
	return logger.WithFields(fields)
}

// SMGLogger logs graph-level events: reads, writes, pruning.
func SMGLogger() *logrus.Entry {
	return makeLogger(smg, logrus.Fields{"layer": "smg"})
}

// ShapeLogger logs abstraction and materialization decisions.
func ShapeLogger() *logrus.Entry {
	return makeLogger(shape, logrus.Fields{"layer": "shape"})
}
