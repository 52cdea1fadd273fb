// Package dashboard serves the prediction page and its JSON and WebSocket counterparts.
//
// The HTML surface is a single page: a sidebar with four measurement sliders, a predict
// button, the predicted label and the force plot embedded in a fixed-height frame. The same
// workflow is reachable as JSON over /api/predict and as a request/response stream over /ws.
package dashboard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"iris-explainer/internal/common"
	"iris-explainer/internal/metrics"
	"iris-explainer/internal/ml"
	"iris-explainer/internal/storage"
	"iris-explainer/internal/workflow"
)

// Service is the workflow the dashboard drives.
type Service interface {
	Run(ctx context.Context, in ml.Input) (*workflow.Result, error)
	History(n int) ([]storage.PredictionRecord, error)
	HistoryEnabled() bool
	Importance(top int) (map[string]*ml.FeatureStats, []string)
	ModelInfo() ml.ModelInfo
	OutputIndex() int
}

// Options configures a Dashboard. Zero values fall back to the package defaults.
type Options struct {
	ListenAddr      string
	PlotHeight      int
	EnableWebSocket bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer
}

// Dashboard is the HTTP front end.
type Dashboard struct {
	svc        Service
	metrics    *metrics.Metrics
	plotHeight int
	router     *mux.Router
	server     *http.Server
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	clientsMu  sync.Mutex
}

// New sets up routes for svc.
func New(svc Service, opts Options) *Dashboard {
	if opts.ListenAddr == "" {
		opts.ListenAddr = common.DefaultListenAddr
	}
	if opts.PlotHeight == 0 {
		opts.PlotHeight = common.DefaultPlotHeight
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = common.DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = common.DefaultWriteTimeout
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	d := &Dashboard{
		svc:        svc,
		metrics:    opts.Metrics,
		plotHeight: opts.PlotHeight,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:    make(map[*websocket.Conn]bool),
	}

	r := mux.NewRouter()
	r.Use(d.instrument)
	r.HandleFunc("/", d.handleIndex).Methods("GET")
	r.HandleFunc("/predict", d.handlePredictForm).Methods("POST")
	r.HandleFunc("/api/predict", d.handlePredictAPI).Methods("POST")
	r.HandleFunc("/api/model", d.handleModelAPI).Methods("GET")
	r.HandleFunc("/api/importance", d.handleImportanceAPI).Methods("GET")
	r.HandleFunc("/api/history", d.handleHistoryAPI).Methods("GET")
	if opts.EnableWebSocket {
		r.HandleFunc("/ws", d.handleWebSocket).Methods("GET")
	}
	r.HandleFunc("/health", d.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	d.router = r

	d.server = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	return d
}

// Handler returns the routed handler, for tests and embedding.
func (d *Dashboard) Handler() http.Handler {
	return d.router
}

// Addr is the configured listen address.
func (d *Dashboard) Addr() string {
	return d.server.Addr
}

// ListenAndServe blocks until the server stops. A graceful Shutdown is not an error.
func (d *Dashboard) ListenAndServe() error {
	log.Info().
		Str("address", d.server.Addr).
		Msg("Starting dashboard server")

	if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server failed: %w", err)
	}
	return nil
}

// Shutdown closes WebSocket clients and drains in-flight requests.
func (d *Dashboard) Shutdown(ctx context.Context) error {
	d.clientsMu.Lock()
	for client := range d.clients {
		client.Close()
	}
	d.clients = make(map[*websocket.Conn]bool)
	d.clientsMu.Unlock()

	if err := d.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown dashboard server")
		return err
	}

	log.Info().Msg("Dashboard stopped")
	return nil
}

func (d *Dashboard) addClient(conn *websocket.Conn) {
	d.clientsMu.Lock()
	d.clients[conn] = true
	d.clientsMu.Unlock()
	if d.metrics != nil {
		d.metrics.WSClients.Inc()
	}
}

func (d *Dashboard) removeClient(conn *websocket.Conn) {
	d.clientsMu.Lock()
	delete(d.clients, conn)
	d.clientsMu.Unlock()
	if d.metrics != nil {
		d.metrics.WSClients.Dec()
	}
}

// instrument counts requests per route template and status class.
func (d *Dashboard) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if d.metrics != nil {
			d.metrics.ObserveRequest(route, rec.status)
		}

		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
