/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/gamebox/images"
	"github.com/Seednode/gamebox/puzzle"
	"github.com/Seednode/gamebox/storage"
	"github.com/Seednode/gamebox/weather"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("gamebox v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logServed(cfg, r, "Version page", written, startTime)
	}
}

// server holds everything the routes share.
type server struct {
	store   storage.Store
	games   *GameManager
	puzzles *puzzleServer
	weather *weather.Service
	metrics *metrics
}

func openStore(cfg *Config) (storage.Store, error) {
	if cfg.db == "" {
		return storage.NewMemoryStore(), nil
	}

	return storage.OpenSQLite(cfg.db)
}

func newServer(ctx context.Context, cfg *Config, log *slog.Logger, errs chan<- error) (*server, error) {
	sources, err := cfg.sources()
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: timeout}

	provider, err := images.NewProvider(cfg.imageBase, sources, client, log.With("component", "images"))
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := newMetrics()

	puzzles := puzzle.NewService(store, puzzle.ServiceOptions{
		Log: log.With("component", "puzzle"),
		OnSolved: func(g *puzzle.Game) {
			m.gamesCompleted.WithLabelValues(kindPuzzle).Inc()
			logf(cfg, "GAMES: Puzzle %s solved", g.ID)
		},
	})

	forecast := weather.NewService(weather.Options{
		FeedURL:     cfg.weatherFeed,
		Relays:      cfg.weatherRelays,
		FallbackURL: cfg.weatherFallback,
		CacheFor:    cfg.weatherCache,
		Client:      &http.Client{Timeout: cfg.weatherTimeout},
		Log:         log.With("component", "weather"),
		OnFetch: func(source string) {
			m.weatherFetches.WithLabelValues(source).Inc()
		},
	})

	deps := &memoryDeps{
		cfg:     cfg,
		images:  provider,
		metrics: m,
		log:     log.With("component", "memory"),
		delay:   cfg.resolveDelay,
	}

	s := &server{
		store:   store,
		games:   newGameManager(ctx, deps, cfg.sessionTimeout),
		weather: forecast,
		metrics: m,
		puzzles: &puzzleServer{
			cfg:     cfg,
			service: puzzles,
			images:  provider,
			errs:    errs,
			started: func() { m.gamesStarted.WithLabelValues(kindPuzzle).Inc() },
		},
	}

	if cfg.sessionTimeout > 0 {
		go reapPuzzles(ctx, cfg, puzzles)
	}

	return s, nil
}

func reapPuzzles(ctx context.Context, cfg *Config, svc *puzzle.Service) {
	ticker := time.NewTicker(cfg.sessionTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.Reap(time.Now().Add(-cfg.sessionTimeout)); n > 0 {
				logf(cfg, "GAMES: Reaped %d idle puzzle(s)", n)
			}
		}
	}
}

func (s *server) close() error {
	s.games.closeAll()

	return s.store.Close()
}

func newRouter(cfg *Config, s *server, errs chan<- error) *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, errs))

	mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, errs))

	mux.GET(cfg.prefix+"/favicon.svg", serveFavicon(cfg, errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, errs))

	mux.GET(cfg.prefix+"/metrics", serveMetrics(cfg, s.metrics))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, errs))

	mux.GET(cfg.prefix+"/weather", serveWeather(cfg, s.weather, errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	registerMemoryGame(cfg, "/memory", mux, s.games)

	registerPuzzleGame(cfg, "/puzzle", mux, s.puzzles)

	return mux
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: gamebox v%s", releaseVersion)

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	errs := make(chan error, 64)
	go func() {
		for err := range errs {
			logf(cfg, "ERROR: %v", err)
		}
	}()

	s, err := newServer(ctx, cfg, newLogger(cfg), errs)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(); err != nil {
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           newRouter(cfg, s, errs),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      2 * timeout,
	}

	go func() {
		var err error
		logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("%s | ERROR: %v\n", time.Now().Format(logDate), err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
