/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"net/http"
	"time"
)

// humanReadableSize formats a byte count in SI units.
func humanReadableSize(bytes int64) string {
	const units = "kMGTPE"

	if bytes < 1000 {
		return fmt.Sprintf("%d B", bytes)
	}

	size := float64(bytes) / 1000
	exp := 0
	for size >= 1000 && exp < len(units)-1 {
		size /= 1000
		exp++
	}

	return fmt.Sprintf("%.1f %cB", size, units[exp])
}

// logServed records a page written to a client, with its size and how
// long it took.
func logServed(cfg *Config, r *http.Request, what string, written int, startTime time.Time) {
	logf(cfg, "SERVE: %s (%s) to %s in %s",
		what,
		humanReadableSize(int64(written)),
		realIP(r),
		time.Since(startTime).Round(time.Microsecond),
	)
}
