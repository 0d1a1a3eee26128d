package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"bitcoin-telemetry/logger"
)

// Server exposes the WebSocket endpoint plus a couple of operational HTTP
// routes.
type Server struct {
	port       string
	hub        *Hub
	httpServer *http.Server
}

// HealthResponse is the /api/health payload.
type HealthResponse struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
	Timestamp   int64  `json:"timestamp"`
}

// NewServer creates the HTTP server fronting the hub.
func NewServer(port string, hub *Hub) *Server {
	return &Server{port: port, hub: hub}
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.hub.HandleWS)
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/logs", s.handleLogs).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    ":" + s.port,
		Handler: s.corsMiddleware(s.loggingMiddleware(router)),
	}

	log.WithField("port", s.port).Info("Telemetry server listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener and disconnects all subscribers.
func (s *Server) Stop() error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	log.Info("Stopping telemetry server")
	return s.httpServer.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Subscribers: s.hub.SubscriberCount(),
		Timestamp:   time.Now().UnixMilli(),
	})
}

// handleLogs serves recent entries from the SQLite log store. Returns 503
// when the store was not configured.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := logger.Recent(r.URL.Query().Get("level"), limit)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode HTTP response")
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("Handled HTTP request")
	})
}
