// Package stubservice is a deterministic stand-in for the document
// extraction service. It speaks the same upload contract and error bodies,
// labelling text uploads from a small fixed lexicon.
package stubservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// ProcessPath is the upload endpoint.
	ProcessPath = "/api/process_document"
	// FileField is the multipart field carrying the document.
	FileField = "file"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Server wraps the HTTP listener and handlers backing the stub service.
type Server struct {
	settings Settings
	logger   *zap.Logger
	clock    func() time.Time

	unavailable atomic.Bool
	processed   atomic.Int64

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a stub server using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		logger:   zap.NewNop(),
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	s.unavailable.Store(settings.Unavailable)
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routing mux. Start uses it; tests may mount it on
// httptest directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(ProcessPath, s.handleProcess)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("stubservice: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("stubservice: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("stubservice: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("stub serve error", zap.Error(err))
		}
	}()
	s.logger.Info("stub listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Endpoint is the full upload URL.
func (s *Server) Endpoint() string { return s.BaseURL() + ProcessPath }

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetUnavailable toggles the 503 mode at runtime.
func (s *Server) SetUnavailable(v bool) { s.unavailable.Store(v) }

// Processed counts successfully answered uploads.
func (s *Server) Processed() int64 { return s.processed.Load() }

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	ModelReady    bool   `json:"model_ready"`
	Processed     int64  `json:"processed"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		ModelReady:    !s.unavailable.Load(),
		Processed:     s.Processed(),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.unavailable.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ML Model not available"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.settings.maxBody())
	file, header, err := r.FormFile(FileField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		// A file field sent without a filename is parsed as a plain value.
		if r.MultipartForm != nil {
			if _, ok := r.MultipartForm.Value[FileField]; ok {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No selected file"})
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file part"})
		return
	}
	defer file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No selected file"})
		return
	}
	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var items []Item
	if isText(content) {
		items = Tokenize(string(content), s.settings.IncludeOutside)
	} else {
		items = Sample()
	}
	if items == nil {
		items = []Item{}
	}
	s.processed.Add(1)
	s.logger.Info("stub processed document",
		zap.String("file", header.Filename),
		zap.Int("bytes", len(content)),
		zap.Int("items", len(items)),
	)
	writeJSON(w, http.StatusOK, items)
}

func (s Settings) maxBody() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}

func isText(content []byte) bool {
	return strings.HasPrefix(http.DetectContentType(content), "text/")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
