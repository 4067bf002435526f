// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package testlog builds hclog.Loggers that write through testing.T's Log
// methods, so that log output from a package under test appears attached
// to the failing test rather than scattered across stdout.
package testlog

import (
	"testing"

	"github.com/hashicorp/go-hclog"
)

// writer adapts testing.TB's Log to io.Writer.
type writer struct {
	t testing.TB
}

func (w writer) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// HCLogger returns an hclog.Logger that writes to t at Trace level, so a
// failing test's full log trail is visible.
func HCLogger(t testing.TB) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "",
		Level:  hclog.Trace,
		Output: writer{t: t},
	})
}

// HCLoggerNamed is HCLogger with a logger name set, a convenience
// wrapper for subsystem-scoped test loggers.
func HCLoggerNamed(t testing.TB, name string) hclog.Logger {
	return HCLogger(t).Named(name)
}
