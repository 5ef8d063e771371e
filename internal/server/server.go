// Package server exposes the gateway over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clanker/internal/domain"
	"clanker/internal/hub"
	"clanker/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const readHeaderTimeout = 10 * time.Second

// Server serves the HTTP surface: health, metrics, message injection, and
// the WebSocket observability stream.
type Server struct {
	host    string
	port    int
	version string

	sink     domain.Publisher
	hub      *hub.Hub
	agent    domain.Agent
	channels []domain.Channel
	logger   *slog.Logger

	allowedOrigins []string
	httpSrv        *http.Server
}

// Config holds the server dependencies.
type Config struct {
	Host           string
	Port           int
	Version        string
	Sink           domain.Publisher
	Hub            *hub.Hub
	Agent          domain.Agent
	Channels       []domain.Channel
	AllowedOrigins []string
	Logger         *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		host:           cfg.Host,
		port:           cfg.Port,
		version:        cfg.Version,
		sink:           cfg.Sink,
		hub:            cfg.Hub,
		agent:          cfg.Agent,
		channels:       cfg.Channels,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         cfg.Logger,
	}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/", s.handleRoot)
	router.Get("/health", s.handleHealth)
	router.Get("/metrics", metrics.Collector.Handler())
	router.Post("/api/v1/message", s.handleMessage)
	router.Get("/ws", s.handleWS)

	return router
}

// Run serves HTTP until ctx is cancelled, then shuts the listener down
// gracefully within the given grace period.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "clanker-gateway",
		"version": s.version,
		"endpoints": []string{
			"GET /health",
			"GET /metrics",
			"POST /api/v1/message",
			"GET /ws",
		},
	})
}

// healthResponse is the payload of GET /health.
type healthResponse struct {
	Status            string   `json:"status"`
	Version           string   `json:"version"`
	UptimeSeconds     int64    `json:"uptime_seconds"`
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	Channels          []string `json:"channels"`
	ActiveConnections int      `json:"active_connections"`
	TotalMessages     int64    `json:"total_messages"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	kinds := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		kinds = append(kinds, ch.Kind().String())
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "healthy",
		Version:           s.version,
		UptimeSeconds:     int64(metrics.Collector.Uptime().Seconds()),
		Provider:          s.agent.Provider(),
		Model:             s.agent.Model(),
		Channels:          kinds,
		ActiveConnections: s.hub.Count(),
		TotalMessages:     metrics.MessagesTotal.Value(),
	})
}

// messageRequest is the POST /api/v1/message body, and the shape WebSocket
// send_message frames carry.
type messageRequest struct {
	Channel   string `json:"channel"`
	ChannelID string `json:"channel_id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Channel == "" {
		req.Channel = domain.KindWebSocket.String()
	}
	kind, err := domain.ParseChannelKind(req.Channel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	if req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "channel_id must not be empty")
		return
	}
	if req.Sender == "" {
		req.Sender = "api"
	}

	msg := domain.NewMessage(kind, req.ChannelID, req.Sender, req.Text)
	if err := s.sink.Publish(msg); err != nil {
		writeError(w, http.StatusServiceUnavailable, "gateway is shutting down")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "sent",
		"messageId": msg.ID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
