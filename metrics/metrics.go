// Copyright (c) The Orchestrator Authors
// SPDX-License-Identifier: MPL-2.0

// Package metrics wires the orchestrator's go-metrics instrumentation
// (emitted inline by mover and janitor) out to Prometheus via an
// InmemSink-plus-PrometheusSink fanout, served at a /metrics endpoint.
package metrics

import (
	"net/http"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	prometheussink "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Init installs a fanout sink combining an in-memory sink (for
// debugging) and a Prometheus sink (for scraping), registering it as
// go-metrics' global default. Every gometrics.IncrCounter/MeasureSince
// call already made by mover and janitor is carried by whatever sink is
// current at call time, so Init must run before the orchestrator starts
// doing any work.
func Init(serviceName string) error {
	inm := gometrics.NewInmemSink(10*time.Second, time.Minute)
	gometrics.DefaultInmemSignal(inm)

	prom, err := prometheussink.NewPrometheusSink()
	if err != nil {
		return err
	}

	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false

	fanout := gometrics.FanoutSink{inm, prom}
	_, err = gometrics.NewGlobal(cfg, fanout)
	return err
}

// Handler returns an http.Handler serving the current Prometheus
// sink's scrape output.
func Handler() http.Handler {
	return promhttp.Handler()
}
