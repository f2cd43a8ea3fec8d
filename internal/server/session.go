package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/franckalain/moodscanner/internal/capture"
	"github.com/franckalain/moodscanner/internal/scanner"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types sent by the browser
const (
	msgCameraReady         = "camera_ready"
	msgCameraDenied        = "camera_denied"
	msgFrame               = "frame"
	msgScan                = "scan"
	msgShowRecommendations = "show_recommendations"
	msgBack                = "back"
	msgReset               = "reset"
)

// Message types sent to the browser
const (
	msgCameraConstraints = "camera_constraints"
	msgCameraUnavailable = "camera_unavailable"
	msgState             = "state"
	msgError             = "error"
)

const cameraUnavailableText = "Camera access denied. Please enable camera permissions to use the Expression Scan."

type clientMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// session is one mounted scanner UI: a camera fed by the browser and the
// orchestrator that drives its screens
type session struct {
	id      string
	conn    *websocket.Conn
	logger  *zap.Logger
	source  *capture.PushSource
	camera  *capture.Camera
	scanner *scanner.Orchestrator

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	acquired chan struct{}

	writeMu sync.Mutex

	// latest unsent snapshot; the writer goroutine drains it
	pendingMu sync.Mutex
	pending   *scanner.Snapshot
	wake      chan struct{}

	unsubscribe func()
}

func (s *Server) newSession(conn *websocket.Conn) *session {
	id := uuid.New().String()
	logger := s.logger.With(zap.String("session", id))
	source := capture.NewPushSource()
	ctx, cancel := context.WithCancel(context.Background())

	camera := capture.NewCamera(source,
		capture.WithConstraints(s.opts.Constraints),
		capture.WithJPEGQuality(s.opts.JPEGQuality),
		capture.WithLogger(logger))
	opts := append([]scanner.Option{scanner.WithLogger(logger)}, s.opts.ScannerOptions...)

	sess := &session{
		id:       id,
		conn:     conn,
		logger:   logger,
		source:   source,
		camera:   camera,
		scanner:  scanner.New(s.model, opts...),
		ctx:      ctx,
		cancel:   cancel,
		acquired: make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
	sess.unsubscribe = sess.scanner.Subscribe(sess.queueState)
	return sess
}

func (s *session) run() {
	s.logger.Info("Client connected")
	s.sendMessage(msgCameraConstraints, s.camera.Constraints())

	s.wg.Add(2)
	go s.writeStates()
	go s.acquireCamera()

	for {
		var msg clientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.sendError("Invalid message format")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Error reading message", zap.Error(err))
			}
			return
		}
		s.handleMessage(msg)
	}
}

func (s *session) handleMessage(msg clientMessage) {
	switch msg.Type {
	case msgCameraReady:
		s.source.Ready()
	case msgCameraDenied:
		reason, _ := msg.Data["reason"].(string)
		s.source.Deny(reason)
	case msgFrame:
		s.handleFrame(msg.Data)
	case msgScan:
		s.handleScan(msg.Data)
	case msgShowRecommendations:
		s.reportTransition(s.scanner.ShowRecommendations())
	case msgBack:
		s.reportTransition(s.scanner.Back())
	case msgReset:
		s.reportTransition(s.scanner.Reset())
	case "":
		s.sendError("Invalid message format")
	default:
		s.sendError("Unknown message type")
	}
}

// handleFrame stores a pushed frame and reports whether it was accepted
func (s *session) handleFrame(data map[string]any) bool {
	imageStr, ok := data["image"].(string)
	if !ok {
		s.sendError("Invalid image data")
		return false
	}
	if err := s.source.Push(imageStr); err != nil {
		if errors.Is(err, capture.ErrUnavailable) {
			s.sendUnavailable()
			return false
		}
		s.logger.Debug("Rejected frame", zap.Error(err))
		s.sendError("Invalid image format")
		return false
	}
	return true
}

func (s *session) handleScan(data map[string]any) {
	// A scan may carry its own frame, which also resolves a pending camera.
	// A rejected frame ends the scan, since only an accepted one marks the
	// source ready.
	if _, ok := data["image"]; ok && s.camera.Status() != capture.StatusDenied {
		if !s.handleFrame(data) {
			return
		}
		select {
		case <-s.acquired:
		case <-s.ctx.Done():
			return
		}
	}
	if s.camera.Status() == capture.StatusDenied {
		s.sendUnavailable()
		return
	}

	err := s.scanner.Scan(s.camera)
	switch {
	case err == nil:
	case errors.Is(err, scanner.ErrScanInProgress):
		s.sendError("Scan already in progress")
	case errors.Is(err, capture.ErrNotLive), errors.Is(err, capture.ErrNoFrame):
		s.sendError("Camera is not ready")
	default:
		s.reportTransition(err)
	}
}

func (s *session) reportTransition(err error) {
	if err == nil {
		return
	}
	s.logger.Debug("Rejected transition", zap.Error(err))
	s.sendError(err.Error())
}

func (s *session) acquireCamera() {
	defer s.wg.Done()
	defer close(s.acquired)

	if err := s.camera.Acquire(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.sendUnavailable()
		return
	}
	s.logger.Debug("Camera acquired", zap.Any("constraints", s.source.Requested()))
	s.queueState(s.scanner.Snapshot())
}

// queueState runs under the orchestrator lock, so it only records the
// snapshot and wakes the writer
func (s *session) queueState(snap scanner.Snapshot) {
	s.pendingMu.Lock()
	if s.pending == nil || snap.Seq >= s.pending.Seq {
		s.pending = &snap
	}
	s.pendingMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) writeStates() {
	defer s.wg.Done()

	var lastSeq uint64
	sent := false
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		s.pendingMu.Lock()
		snap := s.pending
		s.pending = nil
		s.pendingMu.Unlock()

		if snap == nil || (sent && snap.Seq < lastSeq) {
			continue
		}
		lastSeq, sent = snap.Seq, true
		s.sendMessage(msgState, snap)
	}
}

func (s *session) close() {
	s.unsubscribe()
	s.cancel()
	s.scanner.Close()
	if err := s.camera.Release(); err != nil {
		s.logger.Warn("Failed to release camera", zap.Error(err))
	}
	s.wg.Wait()
	s.conn.Close()
	s.logger.Info("Client disconnected")
}

func (s *session) sendMessage(messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug("Error sending message", zap.String("type", messageType), zap.Error(err))
	}
}

func (s *session) sendError(message string) {
	s.sendText(msgError, message)
}

func (s *session) sendUnavailable() {
	s.sendText(msgCameraUnavailable, cameraUnavailableText)
}

func (s *session) sendText(messageType, message string) {
	msg := map[string]any{
		"type":    messageType,
		"message": message,
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug("Error sending message", zap.String("type", messageType), zap.Error(err))
	}
}
