/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/gamebox/weather"
)

func serveWeather(cfg *Config, svc *weather.Service, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		ctx, cancel := context.WithTimeout(r.Context(), cfg.weatherTimeout*time.Duration(len(cfg.weatherRelays)+1))
		defer cancel()

		report, err := svc.Report(ctx)
		if err != nil {
			logf(cfg, "ERROR: Weather unavailable for %s: %v", realIP(r), err)
			http.Error(w, "weather unavailable", http.StatusBadGateway)

			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=300")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(report); err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Weather (%s) to %s in %s",
			report.Source,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
