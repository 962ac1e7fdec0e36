// Package api serves a ledger store over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"pot-ledger/pkg/activity"
	"pot-ledger/pkg/awards"
	"pot-ledger/pkg/ledger"
	"pot-ledger/pkg/logging"
	"pot-ledger/pkg/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

const (
	defaultCount = 10
	maxCount     = 1000
)

// Server provides the ledger HTTP API.
type Server struct {
	store  ledger.Store
	config ServerConfig
	logger *logging.Logger
	sf     *singleflight.Group
	router *mux.Router
	writes atomic.Uint64
	server *http.Server

	startTime time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// RequestTimeout bounds each store call made on behalf of a request.
	RequestTimeout time.Duration

	// Gatherer backs /metrics. Nil uses the default Prometheus registry.
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        ":8080",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// splitRequest is the body of the split and conversion endpoints.
type splitRequest struct {
	Name  string `json:"name"`
	Split string `json:"split"`
}

// NewServer creates an API server over s. A nil logger uses the global one.
func NewServer(s ledger.Store, config ServerConfig, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Global()
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	srv := &Server{
		store:     s,
		config:    config,
		logger:    logger.Named("api").With(logging.Backend(s.Name())),
		sf:        &singleflight.Group{},
		startTime: time.Now(),
	}

	r := mux.NewRouter()
	r.Use(srv.requestID, srv.accessLog)

	r.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/names", srv.handleNames).Methods(http.MethodGet)
	v1.HandleFunc("/balances", srv.handleBalances).Methods(http.MethodGet)
	v1.HandleFunc("/transactions", srv.handleTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/last", srv.handleUndo).Methods(http.MethodDelete)
	v1.HandleFunc("/splits", srv.handleSplits).Methods(http.MethodGet)
	v1.HandleFunc("/splits", srv.handleAddSplit).Methods(http.MethodPost)
	v1.HandleFunc("/conversions", srv.handleAddConversion).Methods(http.MethodPost)
	v1.HandleFunc("/awards", srv.handleAwards).Methods(http.MethodGet)
	v1.HandleFunc("/reconcile", srv.handleReconcile).Methods(http.MethodPost)
	v1.HandleFunc("/activity", srv.handleActivity).Methods(http.MethodGet)

	srv.router = r
	srv.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return srv
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine. Serve errors are sent on the
// returned channel, which is closed when the server stops.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		s.logger.Info("api server listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", zap.Error(err))
			errc <- err
		}
	}()
	return errc
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("request_id", w.Header().Get(RequestIDHeader)),
			logging.Duration(time.Since(start)),
		)
	})
}

// call bounds a store call by the request timeout.
func (s *Server) call(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.config.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

// read coalesces concurrent identical reads. Flights are keyed by the write
// generation, so a read never joins one that started before a write this
// server has acknowledged. The shared call outlives any single caller.
func (s *Server) read(r *http.Request, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	key += "@" + strconv.FormatUint(s.writes.Load(), 10)
	ch := s.sf.DoChan(key, func() (interface{}, error) {
		ctx := context.WithoutCancel(r.Context())
		if s.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
			defer cancel()
		}
		return fn(ctx)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-r.Context().Done():
		return nil, r.Context().Err()
	}
}

// wrote starts a new read generation. Writers call it before responding.
func (s *Server) wrote() {
	s.writes.Add(1)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"backend":   s.store.Name(),
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().Unix(),
	}
	if cb, ok := s.store.(interface{ State() metrics.CircuitState }); ok {
		state := cb.State()
		response["circuit"] = state.String()
		if state == metrics.CircuitOpen {
			response["status"] = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleNames(w http.ResponseWriter, r *http.Request) {
	v, err := s.read(r, "names", func(ctx context.Context) (interface{}, error) {
		return s.store.GetNames(ctx)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"names": v})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	v, err := s.read(r, "balances", func(ctx context.Context) (interface{}, error) {
		return s.store.GetBalances(ctx)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"balances": v})
}

// handleTransactions lists the newest transactions first.
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	n, err := countParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	v, err := s.read(r, "transactions:"+strconv.Itoa(n), func(ctx context.Context) (interface{}, error) {
		return s.store.GetLastNTransactions(ctx, n)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	oldestFirst, _ := v.([]ledger.Transaction)
	newestFirst := make([]ledger.Transaction, len(oldestFirst))
	for i, tx := range oldestFirst {
		newestFirst[len(oldestFirst)-1-i] = tx
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": newestFirst})
}

func (s *Server) awardMap(r *http.Request) (map[string]decimal.Decimal, error) {
	v, err := s.read(r, "awards", func(ctx context.Context) (interface{}, error) {
		return s.store.GetSplitAwards(ctx)
	})
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]decimal.Decimal)
	return m, nil
}

func (s *Server) handleSplits(w http.ResponseWriter, r *http.Request) {
	m, err := s.awardMap(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	table, err := awards.New(s.store.Name(), m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"splits": table.Splits()})
}

func (s *Server) handleAwards(w http.ResponseWriter, r *http.Request) {
	m, err := s.awardMap(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"awards": m})
}

func (s *Server) handleAddSplit(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.store.AddSplit)
}

func (s *Server) handleAddConversion(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, s.store.AddConversion)
}

func (s *Server) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, name, split string) (ledger.Transaction, error)) {
	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": fmt.Sprintf("invalid body: %v", err)})
		return
	}

	ctx, cancel := s.call(r)
	defer cancel()

	tx, err := fn(ctx, req.Name, req.Split)
	s.wrote()
	if err != nil {
		s.writeError(w, r, err, tx)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"transaction": tx})
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.call(r)
	defer cancel()

	tx, err := s.store.RemoveLastTransaction(ctx)
	s.wrote()
	if err != nil {
		s.writeError(w, r, err, tx)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": tx})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.call(r)
	defer cancel()

	report, err := s.store.Reconcile(ctx)
	s.wrote()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	n, err := countParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	reader, ok := s.store.(activity.Reader)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"activity": []activity.Entry{}})
		return
	}

	v, err := s.read(r, "activity:"+strconv.Itoa(n), func(ctx context.Context) (interface{}, error) {
		return reader.RecentActivity(ctx, n)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activity": v})
}

func countParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("count")
	if raw == "" {
		return defaultCount, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxCount {
		return 0, fmt.Errorf("count must be between 1 and %d", maxCount)
	}
	return n, nil
}

// StatusFor maps a store error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidSplit), errors.Is(err, ledger.ErrInvalidName):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	case ledger.IsPartialUpdate(err):
		return http.StatusInternalServerError
	case ledger.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err. A partial update also carries the appended transaction.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, partial ...ledger.Transaction) {
	status := StatusFor(err)
	body := map[string]interface{}{
		"error":      err.Error(),
		"error_type": ledger.ClassifyError(err),
	}
	if ledger.IsPartialUpdate(err) && len(partial) > 0 {
		body["transaction"] = partial[0]
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get(RequestIDHeader)),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
