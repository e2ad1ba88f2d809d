package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buildsmarter/siteintel-resolve/internal/model"
	"github.com/buildsmarter/siteintel-resolve/internal/ratelimit"
	"github.com/buildsmarter/siteintel-resolve/internal/resolve"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the resolution HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		router := newRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP surface over a wired engine.
func newRouter(env *engineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Identity"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/v1/resolve", func(w http.ResponseWriter, req *http.Request) {
		handleResolve(env, w, req)
	})

	r.Post("/v1/resolve/batch", func(w http.ResponseWriter, req *http.Request) {
		handleResolveBatch(env, w, req)
	})

	r.Get("/v1/cache/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := env.store.Stats(req.Context())
		if err != nil {
			zap.L().Error("cache stats failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache stats unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	return r
}

// resolveRequest is the POST /v1/resolve body.
type resolveRequest struct {
	Query             string      `json:"query"`
	Kind              string      `json:"kind,omitempty"`
	Identity          string      `json:"identity,omitempty"`
	PreferredProvider string      `json:"preferred_provider,omitempty"`
	Limit             int         `json:"limit,omitempty"`
	Bounds            *model.BBox `json:"bounds,omitempty"`
	SessionToken      string      `json:"session_token,omitempty"`
}

func (rr resolveRequest) toQuery(req *http.Request) model.Query {
	return model.Query{
		Raw:               rr.Query,
		Kind:              model.QueryKind(rr.Kind),
		Identity:          callerIdentity(rr.Identity, req),
		PreferredProvider: rr.PreferredProvider,
		Limit:             rr.Limit,
		Bounds:            rr.Bounds,
		SessionToken:      rr.SessionToken,
	}
}

func handleResolve(env *engineEnv, w http.ResponseWriter, req *http.Request) {
	var body resolveRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	resp, err := env.orchestrator.Resolve(req.Context(), body.toQuery(req))
	if err != nil {
		writeResolveError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleResolveBatch(env *engineEnv, w http.ResponseWriter, req *http.Request) {
	var body struct {
		Queries []resolveRequest `json:"queries"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(body.Queries) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "queries is required"})
		return
	}

	queries := make([]model.Query, len(body.Queries))
	for i, q := range body.Queries {
		queries[i] = q.toQuery(req)
	}

	responses := env.orchestrator.ResolveBatch(req.Context(), queries)
	writeJSON(w, http.StatusOK, map[string]interface{}{"responses": responses})
}

// writeResolveError maps the taxonomy to transport status codes. Chain
// exhaustion never reaches here; it is a 200 with an error field.
func writeResolveError(w http.ResponseWriter, err error) {
	var rl *resolve.RateLimitedError
	switch {
	case errors.As(err, &rl):
		retry := int(rl.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":       "rate limit exceeded",
			"retry_after": retry,
		})
	case errors.Is(err, resolve.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		zap.L().Error("resolution failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal fault"})
	}
}

// callerIdentity prefers the authenticated identity and falls back to a
// normalized client address for the anonymous bucket.
func callerIdentity(explicit string, req *http.Request) string {
	if explicit != "" {
		return explicit
	}
	if id := req.Header.Get("X-Identity"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return ratelimit.AnonPrefix + host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
