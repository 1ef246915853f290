// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the document server: storage backend, JWT auth and
// HTTP routes.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mobiletoly/go-ledgersync/ledgersync"
)

type ServerConfig struct {
	DatabaseURL string // empty keeps documents in memory
	JWTSecret   string
	Logger      *slog.Logger
	AppName     string
	DevSignin   bool // expose POST /dev/signin
	LogRequests bool
}

type ServerComponents struct {
	Pool    *pgxpool.Pool
	Backend ledgersync.Backend
	JWTAuth *ledgersync.JWTAuth
	Handler http.Handler
	Logger  *slog.Logger
	closers []func()
}

func (sc *ServerComponents) Close() {
	for i := len(sc.closers) - 1; i >= 0; i-- {
		sc.closers[i]()
	}
	sc.closers = nil
}

// SetupServer connects the backend and builds the handler.
func SetupServer(ctx context.Context, config *ServerConfig) (*ServerComponents, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	appName := config.AppName
	if appName == "" {
		appName = "ledger-server"
	}

	comps := &ServerComponents{Logger: logger}
	if config.DatabaseURL == "" {
		logger.Warn("No database configured, documents are kept in memory")
		comps.Backend = ledgersync.NewMemoryBackend()
	} else {
		pool, err := newPool(ctx, config.DatabaseURL, appName)
		if err != nil {
			return nil, err
		}
		comps.Pool = pool
		comps.closers = append(comps.closers, pool.Close)

		backend, err := ledgersync.NewPGBackend(ctx, pool, logger)
		if err != nil {
			comps.Close()
			return nil, err
		}
		comps.Backend = backend
		comps.closers = append(comps.closers, backend.Close)
	}

	jwtSecret := config.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "dev-secret"
		logger.Warn("Using default JWT secret - change in production!")
	}
	comps.JWTAuth = ledgersync.NewJWTAuth(jwtSecret)

	r := chi.NewRouter()
	if config.LogRequests {
		r.Use(func(next http.Handler) http.Handler { return LoggingMiddleware(next, logger) })
	}
	if config.DevSignin {
		r.Post("/dev/signin", signinHandler(comps.JWTAuth))
	}
	r.Mount("/", ledgersync.NewServer(comps.Backend, comps.JWTAuth, logger))
	comps.Handler = r

	return comps, nil
}

func newPool(ctx context.Context, dsn, appName string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnIdleTime = time.Minute * 30
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// SigninResponse is returned by POST /dev/signin.
type SigninResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	User      string `json:"user"`
	Device    string `json:"device"`
}

// signinHandler issues a token for any user name. Development only.
func signinHandler(jwtAuth *ledgersync.JWTAuth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			User   string `json:"user"`
			Device string `json:"device"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		if req.User == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_required"})
			return
		}
		if req.Device == "" {
			req.Device = "device-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		const ttl = 24 * time.Hour
		tok, err := jwtAuth.GenerateToken(req.User, req.Device, ttl)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token_error"})
			return
		}
		writeJSON(w, http.StatusOK, SigninResponse{Token: tok, ExpiresIn: int64(ttl.Seconds()), User: req.User, Device: req.Device})
	}
}

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &respCapture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", rw.status,
			"bytes", rw.size,
			"duration", time.Since(start).String())
	})
}

type respCapture struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *respCapture) WriteHeader(code int) { w.status = code; w.ResponseWriter.WriteHeader(code) }
func (w *respCapture) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
