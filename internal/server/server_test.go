package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/franckalain/moodscanner/internal/avatar"
	"github.com/franckalain/moodscanner/internal/ml"
	"github.com/franckalain/moodscanner/internal/models"
	"github.com/franckalain/moodscanner/internal/scanner"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type serverMessage struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	model, err := ml.NewFixtureModelFactory(ml.FixtureConfig{}).CreateModel()
	require.NoError(t, err)
	require.NoError(t, model.Load(context.Background()))

	srv := New(model, zaptest.NewLogger(t), Options{
		ScannerOptions: []scanner.Option{scanner.WithTickInterval(time.Millisecond)},
	})
	ts := httptest.NewServer(srv.Handler(""))
	t.Cleanup(ts.Close)
	// sessions log on close; let them finish before the test ends
	t.Cleanup(func() {
		assert.Eventually(t, func() bool { return srv.ActiveSessions() == 0 }, 2*time.Second, 5*time.Millisecond)
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": msgType, "data": data}))
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg serverMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func ofType(msgType string) func(serverMessage) bool {
	return func(m serverMessage) bool { return m.Type == msgType }
}

func readState(t *testing.T, conn *websocket.Conn, view models.ViewState) scanner.Snapshot {
	t.Helper()
	var snap scanner.Snapshot
	readUntil(t, conn, func(m serverMessage) bool {
		if m.Type != msgState {
			return false
		}
		require.NoError(t, json.Unmarshal(m.Data, &snap))
		return snap.View == view
	})
	return snap
}

func jpegDataURL(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil))
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestSessionFlow(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	msg := readUntil(t, conn, ofType(msgCameraConstraints))
	var constraints map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &constraints))
	assert.Equal(t, "user", constraints["facingMode"])
	assert.EqualValues(t, 1280, constraints["idealWidth"])
	assert.EqualValues(t, 720, constraints["idealHeight"])

	send(t, conn, msgCameraReady, nil)
	snap := readState(t, conn, models.ViewScanning)
	assert.Nil(t, snap.Result)
	assert.Equal(t, 1, srv.ActiveSessions())

	// nothing pushed yet
	send(t, conn, msgScan, nil)
	assert.Equal(t, "Camera is not ready", readUntil(t, conn, ofType(msgError)).Message)

	send(t, conn, msgFrame, map[string]any{"image": jpegDataURL(t)})
	send(t, conn, msgScan, nil)
	snap = readState(t, conn, models.ViewResult)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "Calm & Steady", snap.Result.Mood)
	assert.Equal(t, "Calm", snap.Result.AvatarKey)
	assert.Zero(t, snap.Progress)

	send(t, conn, msgShowRecommendations, nil)
	snap = readState(t, conn, models.ViewRecommendations)
	assert.Len(t, snap.Result.Recommendations, 3)

	send(t, conn, msgBack, nil)
	snap = readState(t, conn, models.ViewResult)
	assert.Equal(t, "Calm & Steady", snap.Result.Mood)

	send(t, conn, msgReset, nil)
	snap = readState(t, conn, models.ViewScanning)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.Error)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	require.Eventually(t, func() bool { return srv.ActiveSessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionInlineScan(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, ofType(msgCameraConstraints))

	send(t, conn, msgScan, map[string]any{"image": jpegDataURL(t)})
	snap := readState(t, conn, models.ViewResult)
	assert.Equal(t, "Calm & Steady", snap.Result.Mood)
}

func TestSessionBadInlineScanBeforeCameraReady(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, ofType(msgCameraConstraints))

	send(t, conn, msgScan, map[string]any{"image": "data:image/jpeg;base64,AAAA"})
	assert.Equal(t, "Invalid image format", readUntil(t, conn, ofType(msgError)).Message)

	send(t, conn, msgScan, map[string]any{"image": 42})
	assert.Equal(t, "Invalid image data", readUntil(t, conn, ofType(msgError)).Message)

	// the session keeps reading after the rejected frames
	send(t, conn, msgCameraReady, nil)
	readState(t, conn, models.ViewScanning)
	send(t, conn, msgFrame, map[string]any{"image": jpegDataURL(t)})
	send(t, conn, msgScan, nil)
	snap := readState(t, conn, models.ViewResult)
	assert.Equal(t, "Calm & Steady", snap.Result.Mood)

	conn.Close()
	require.Eventually(t, func() bool { return srv.ActiveSessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionCameraDenied(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, ofType(msgCameraConstraints))

	send(t, conn, msgCameraDenied, map[string]any{"reason": "NotAllowedError"})
	msg := readUntil(t, conn, ofType(msgCameraUnavailable))
	assert.Equal(t, cameraUnavailableText, msg.Message)

	send(t, conn, msgScan, nil)
	readUntil(t, conn, ofType(msgCameraUnavailable))

	send(t, conn, msgFrame, map[string]any{"image": jpegDataURL(t)})
	readUntil(t, conn, ofType(msgCameraUnavailable))
}

func TestSessionRejectsBadMessages(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)
	readUntil(t, conn, ofType(msgCameraConstraints))

	send(t, conn, "dance", nil)
	assert.Equal(t, "Unknown message type", readUntil(t, conn, ofType(msgError)).Message)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, "Invalid message format", readUntil(t, conn, ofType(msgError)).Message)

	send(t, conn, msgFrame, map[string]any{"image": 42})
	assert.Equal(t, "Invalid image data", readUntil(t, conn, ofType(msgError)).Message)

	send(t, conn, msgFrame, map[string]any{"image": "data:image/jpeg;base64,AAAA"})
	assert.Equal(t, "Invalid image format", readUntil(t, conn, ofType(msgError)).Message)

	send(t, conn, msgBack, nil)
	assert.Contains(t, readUntil(t, conn, ofType(msgError)).Message, scanner.ErrInvalidTransition.Error())
}

func TestHealthAvatarsAndStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>scan</html>"), 0o600))

	srv := New(nil, nil, Options{})
	ts := httptest.NewServer(srv.Handler(dir))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(ts.URL + "/avatars")
	require.NoError(t, err)
	var entries []avatar.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, avatar.Entries(), entries)

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "scan")
}

func TestStartStopsOnCancel(t *testing.T) {
	srv := New(nil, zap.NewNop(), Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx, "0", t.TempDir()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
