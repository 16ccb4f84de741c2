// Package monitor serves the receiver's health and Prometheus endpoints
// over HTTP.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caio-sobreiro/dicomreceptor/interfaces"
	"github.com/caio-sobreiro/dicomreceptor/metrics"
)

// ShutdownTimeout is the time given for outstanding requests to finish before shutdown.
const ShutdownTimeout = 1 * time.Second

// healthTimeout bounds a single /healthz probe.
const healthTimeout = 5 * time.Second

// Server wraps the HTTP listener, router and the checks it reports on.
type Server struct {
	ln     net.Listener
	server *http.Server
	router *mux.Router

	// Addr is the bind address for the listener.
	Addr string

	// Health reports whether the receiver can accept instances.
	Health interfaces.HealthChecker

	Logger *slog.Logger
}

// NewServer returns a new instance of Server.
func NewServer(addr string, health interfaces.HealthChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		server: &http.Server{ReadHeaderTimeout: 10 * time.Second},
		router: mux.NewRouter(),
		Addr:   addr,
		Health: health,
		Logger: logger,
	}

	s.router.Use(handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{logger})))
	s.router.Use(trackMetrics)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server.Handler = s.router
	return s
}

// Handler returns the router, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Open begins listening on the bind address and serves in the background.
func (s *Server) Open() (err error) {
	if s.ln, err = net.Listen("tcp", s.Addr); err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Monitor server stopped", "error", err)
		}
	}()

	s.Logger.Info("Monitor listening", "address", s.ln.Addr().String())
	return nil
}

// URL returns the local base URL of the running server.
func (s *Server) URL() string {
	if s.ln == nil {
		return ""
	}
	return fmt.Sprintf("http://%s", s.ln.Addr().String())
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Serve opens the server and blocks until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Open(); err != nil {
		return fmt.Errorf("monitor listen on %s: %w", s.Addr, err)
	}
	<-ctx.Done()
	if err := s.Close(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) String() string {
	return "http-monitor"
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth handles the "GET /healthz" route.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK

	if s.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.Health.HealthCheck(ctx); err != nil {
			s.Logger.Warn("Health check failed", "error", err)
			resp = healthResponse{Status: "unavailable", Error: err.Error()}
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// trackMetrics is middleware for tracking the request count and timing per route.
func trackMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := time.Now()
		tmpl := requestPathTemplate(r)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		if tmpl != "" {
			metrics.RecordHTTPRequest(r.Method, tmpl, rec.code, time.Since(t))
		}
	})
}

// requestPathTemplate returns the route path template for r.
func requestPathTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tmpl, _ := route.GetPathTemplate()
	return tmpl
}

// recoveryLogger reports handler panics caught by handlers.RecoveryHandler.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Monitor handler panic", "panic", fmt.Sprint(v...))
}
