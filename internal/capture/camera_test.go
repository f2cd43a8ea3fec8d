package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	img    image.Image
	err    error
	closes int
}

func (s *fakeStream) Frame() (image.Image, error) { return s.img, s.err }
func (s *fakeStream) Close() error                { s.closes++; return nil }

type fakeSource struct {
	stream *fakeStream
	err    error
	opens  int
	got    Constraints
}

func (s *fakeSource) Open(_ context.Context, c Constraints) (Stream, error) {
	s.opens++
	s.got = c
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestCameraAcquireAndCapture(t *testing.T) {
	stream := &fakeStream{img: testImage(64, 36)}
	src := &fakeSource{stream: stream}
	cam := NewCamera(src)

	require.NoError(t, cam.Acquire(context.Background()))
	assert.Equal(t, StatusLive, cam.Status())
	assert.Equal(t, DefaultConstraints(), src.got)

	frame, err := cam.CaptureFrame()
	require.NoError(t, err)
	assert.Equal(t, 64, frame.Width)
	assert.Equal(t, 36, frame.Height)

	decoded, err := jpeg.Decode(bytes.NewReader(frame.JPEG))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 36), decoded.Bounds())

	payload := frame.Base64()
	assert.False(t, strings.HasPrefix(payload, "data:"))
	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, frame.JPEG, raw)
}

func TestCameraCaptureUsesNativeSizeForOffsetBounds(t *testing.T) {
	sub := testImage(100, 100).SubImage(image.Rect(10, 20, 50, 40))
	cam := NewCamera(&fakeSource{stream: &fakeStream{img: sub}})
	require.NoError(t, cam.Acquire(context.Background()))

	frame, err := cam.CaptureFrame()
	require.NoError(t, err)
	assert.Equal(t, 40, frame.Width)
	assert.Equal(t, 20, frame.Height)
}

func TestCameraAcquireOnlyOnce(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{img: testImage(4, 4)}}
	cam := NewCamera(src)

	require.NoError(t, cam.Acquire(context.Background()))
	require.NoError(t, cam.Acquire(context.Background()))
	assert.Equal(t, 1, src.opens)
}

func TestCameraDeniedIsTerminal(t *testing.T) {
	src := &fakeSource{err: errors.New("NotAllowedError")}
	cam := NewCamera(src)

	err := cam.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StatusDenied, cam.Status())

	// not retried
	src.err = nil
	src.stream = &fakeStream{img: testImage(4, 4)}
	assert.ErrorIs(t, cam.Acquire(context.Background()), ErrUnavailable)
	assert.Equal(t, 1, src.opens)

	_, err = cam.CaptureFrame()
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestCameraCaptureBeforeAcquire(t *testing.T) {
	cam := NewCamera(&fakeSource{stream: &fakeStream{img: testImage(4, 4)}})

	_, err := cam.CaptureFrame()
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestCameraCaptureWithoutFrame(t *testing.T) {
	cam := NewCamera(&fakeSource{stream: &fakeStream{err: ErrNoFrame}})
	require.NoError(t, cam.Acquire(context.Background()))

	_, err := cam.CaptureFrame()
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestCameraReleaseIsIdempotent(t *testing.T) {
	stream := &fakeStream{img: testImage(4, 4)}
	cam := NewCamera(&fakeSource{stream: stream})
	require.NoError(t, cam.Acquire(context.Background()))

	require.NoError(t, cam.Release())
	require.NoError(t, cam.Release())
	assert.Equal(t, 1, stream.closes)
	assert.Equal(t, StatusReleased, cam.Status())

	_, err := cam.CaptureFrame()
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestCameraReleaseBeforeAcquire(t *testing.T) {
	cam := NewCamera(&fakeSource{stream: &fakeStream{}})
	require.NoError(t, cam.Release())

	assert.ErrorIs(t, cam.Acquire(context.Background()), ErrUnavailable)
}

func TestCameraReleaseDuringPendingAcquire(t *testing.T) {
	src := NewPushSource()
	cam := NewCamera(src)

	done := make(chan error, 1)
	go func() { done <- cam.Acquire(context.Background()) }()

	require.Eventually(t, func() bool { return src.Requested().FacingMode == "user" }, timeout, tick)
	require.NoError(t, cam.Release())
	src.Ready()

	assert.ErrorIs(t, <-done, ErrUnavailable)
	assert.Equal(t, StatusReleased, cam.Status())
}

func TestCameraOptions(t *testing.T) {
	src := &fakeSource{stream: &fakeStream{img: testImage(8, 8)}}
	want := Constraints{FacingMode: "environment", IdealWidth: 640, IdealHeight: 480}
	cam := NewCamera(src, WithConstraints(want), WithJPEGQuality(10), WithLogger(nil))

	require.NoError(t, cam.Acquire(context.Background()))
	assert.Equal(t, want, src.got)
	assert.Equal(t, want, cam.Constraints())
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "face.png")

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(32, 24)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	cam := NewCamera(FileSource{Path: path})
	require.NoError(t, cam.Acquire(context.Background()))

	frame, err := cam.CaptureFrame()
	require.NoError(t, err)
	assert.Equal(t, 32, frame.Width)
	assert.Equal(t, 24, frame.Height)
	require.NoError(t, cam.Release())

	missing := NewCamera(FileSource{Path: filepath.Join(dir, "missing.jpg")})
	assert.ErrorIs(t, missing.Acquire(context.Background()), ErrUnavailable)
	assert.Equal(t, StatusDenied, missing.Status())

	dirCam := NewCamera(FileSource{Path: dir})
	assert.ErrorIs(t, dirCam.Acquire(context.Background()), ErrUnavailable)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "live", StatusLive.String())
	assert.Equal(t, "denied", StatusDenied.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
