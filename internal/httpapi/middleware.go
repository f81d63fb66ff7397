// Veloroute - Activity Sync and Route Matching Engine
// Copyright 2026 The Veloroute Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veloroute/veloroute

package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/veloroute/veloroute/internal/logging"
	"github.com/veloroute/veloroute/internal/metrics"
)

// requestLogger logs one structured line per request and feeds the HTTP
// metrics. Websocket upgrades are logged on connect only; their duration
// is the connection lifetime and would skew the histogram.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		logging.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("HTTP request")

		if r.Header.Get("Upgrade") != "websocket" {
			// The route pattern, not the raw path, keeps label
			// cardinality bounded.
			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, pattern).Observe(duration.Seconds())
		}
	})
}
