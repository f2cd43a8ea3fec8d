package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/franckalain/moodscanner/internal/avatar"
	"github.com/franckalain/moodscanner/internal/capture"
	"github.com/franckalain/moodscanner/internal/logging"
	"github.com/franckalain/moodscanner/internal/scanner"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, this should be more restrictive
	},
}

// maxMessageSize bounds a single frame message; 1280x720 JPEG data URLs
// stay well below it.
const maxMessageSize = 8 << 20

// Options configure the camera and scanner of every session
type Options struct {
	Constraints    capture.Constraints
	JPEGQuality    int
	ScannerOptions []scanner.Option
}

// Server binds one camera and one scanner to each WebSocket connection
type Server struct {
	model   scanner.Classifier
	logger  *zap.Logger
	opts    Options
	clients sync.Map
	active  atomic.Int64
}

func New(model scanner.Classifier, logger *zap.Logger, opts Options) *Server {
	if opts.Constraints == (capture.Constraints{}) {
		opts.Constraints = capture.DefaultConstraints()
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = capture.DefaultJPEGQuality
	}
	return &Server{
		model:  model,
		logger: logging.OrNop(logger),
		opts:   opts,
	}
}

// Handler returns the HTTP routes. Static files are served from staticDir
// when it is not empty.
func (s *Server) Handler(staticDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/avatars", s.handleAvatars)
	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port, staticDir string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(staticDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.String("port", port), zap.String("static_dir", staticDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not closed by Shutdown
	s.clients.Range(func(_, value any) bool {
		value.(*session).conn.Close()
		return true
	})
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ActiveSessions reports the number of connected clients
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sess := s.newSession(conn)
	s.clients.Store(sess.id, sess)
	s.active.Add(1)
	defer func() {
		sess.close()
		s.clients.Delete(sess.id)
		s.active.Add(-1)
	}()

	sess.run()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleAvatars lists the portrait table so clients can preload it
func (s *Server) handleAvatars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(avatar.Entries()); err != nil {
		s.logger.Debug("Error writing avatars", zap.Error(err))
	}
}
