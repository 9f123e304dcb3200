/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	kindMemory = "memory"
	kindPuzzle = "puzzle"
)

type metrics struct {
	registry *prometheus.Registry

	gamesStarted   *prometheus.CounterVec
	gamesCompleted *prometheus.CounterVec
	flips          prometheus.Counter
	weatherFetches *prometheus.CounterVec
	activeHubs     prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		gamesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamebox",
			Name:      "games_started_total",
			Help:      "Games started, by kind.",
		}, []string{"kind"}),
		gamesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamebox",
			Name:      "games_completed_total",
			Help:      "Games played to completion, by kind.",
		}, []string{"kind"}),
		flips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gamebox",
			Name:      "memory_flips_total",
			Help:      "Card flips accepted by memory games.",
		}),
		weatherFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gamebox",
			Name:      "weather_fetches_total",
			Help:      "Fresh weather reports, by the source that produced them.",
		}, []string{"source"}),
		activeHubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gamebox",
			Name:      "memory_hubs_active",
			Help:      "Memory game sessions currently held open.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.gamesStarted,
		m.gamesCompleted,
		m.flips,
		m.weatherFetches,
		m.activeHubs,
	)

	return m
}

func serveMetrics(cfg *Config, m *metrics) httprouter.Handle {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		securityHeaders(cfg, w)

		h.ServeHTTP(w, r)
	}
}
