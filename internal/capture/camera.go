// Package capture owns the camera: it acquires a frame source once, produces
// JPEG still frames on request and releases the device on every exit path.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/franckalain/moodscanner/internal/logging"
	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
)

var (
	// ErrUnavailable means permission was denied or no device exists
	ErrUnavailable = errors.New("camera unavailable")
	// ErrNotLive is returned by CaptureFrame outside the live state
	ErrNotLive = errors.New("camera is not live")
	// ErrNoFrame means the stream has not produced an image yet
	ErrNoFrame = errors.New("no frame available")
	// ErrClosed is returned by a stream after Close
	ErrClosed = errors.New("stream closed")
)

// DefaultJPEGQuality matches a canvas toDataURL quality of 0.8
const DefaultJPEGQuality = 80

// Constraints describes the stream requested from the device
type Constraints struct {
	FacingMode  string `json:"facingMode"`
	IdealWidth  int    `json:"idealWidth"`
	IdealHeight int    `json:"idealHeight"`
}

// DefaultConstraints requests the front camera at 1280x720
func DefaultConstraints() Constraints {
	return Constraints{FacingMode: "user", IdealWidth: 1280, IdealHeight: 720}
}

// Source opens a live stream of images
type Source interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream yields the most recent image of a live feed
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// Frame is one encoded still, consumed by a single classification
type Frame struct {
	JPEG   []byte
	Width  int
	Height int
}

// Base64 returns the standard base64 payload with no data-URL prefix
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.JPEG)
}

// Status is the camera's display state, independent of the scanner's views
type Status int

const (
	StatusPending Status = iota
	StatusLive
	StatusDenied
	StatusReleased
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLive:
		return "live"
	case StatusDenied:
		return "denied"
	case StatusReleased:
		return "released"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Camera holds an exclusive claim on one Source for its lifetime
type Camera struct {
	source      Source
	constraints Constraints
	quality     int
	logger      *zap.Logger

	mu         sync.Mutex
	status     Status
	stream     Stream
	acquiring  bool
	acquired   bool
	acquireErr error
}

// Option configures a Camera
type Option func(*Camera)

// WithConstraints sets the constraints requested from the source
func WithConstraints(c Constraints) Option {
	return func(cam *Camera) { cam.constraints = c }
}

// WithJPEGQuality sets the encoder quality, 1 to 100
func WithJPEGQuality(q int) Option {
	return func(cam *Camera) { cam.quality = q }
}

// WithLogger sets the camera's logger
func WithLogger(l *zap.Logger) Option {
	return func(cam *Camera) { cam.logger = logging.OrNop(l) }
}

// NewCamera creates a camera over source. Nothing is opened until Acquire.
func NewCamera(source Source, opts ...Option) *Camera {
	c := &Camera{
		source:      source,
		constraints: DefaultConstraints(),
		quality:     DefaultJPEGQuality,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Constraints returns what the camera requests from its source
func (c *Camera) Constraints() Constraints {
	return c.constraints
}

// Status reports the current display state
func (c *Camera) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Acquire opens the source. It runs at most once: later calls return the
// first outcome. A failure leaves the camera in StatusDenied for good.
func (c *Camera) Acquire(ctx context.Context) error {
	c.mu.Lock()
	if c.acquired || c.acquiring {
		err := c.acquireErr
		if c.acquiring {
			err = fmt.Errorf("camera acquisition already in progress")
		}
		c.mu.Unlock()
		return err
	}
	if c.status == StatusReleased {
		c.mu.Unlock()
		return fmt.Errorf("%w: camera already released", ErrUnavailable)
	}
	c.acquiring = true
	c.mu.Unlock()

	// The source may block on a permission prompt; keep the lock free so
	// Release can still run.
	stream, err := c.source.Open(ctx, c.constraints)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquiring = false
	c.acquired = true

	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		c.acquireErr = err
		if c.status != StatusReleased {
			c.status = StatusDenied
		}
		c.logger.Warn("Camera access denied", zap.Error(err))
		return err
	}

	if c.status == StatusReleased {
		// Released while the prompt was open
		_ = stream.Close()
		c.acquireErr = fmt.Errorf("%w: camera released during acquisition", ErrUnavailable)
		return c.acquireErr
	}

	c.stream = stream
	c.status = StatusLive
	c.logger.Debug("Camera live",
		zap.String("facing_mode", c.constraints.FacingMode),
		zap.Int("ideal_width", c.constraints.IdealWidth),
		zap.Int("ideal_height", c.constraints.IdealHeight))
	return nil
}

// CaptureFrame samples the current image at its native size and encodes it
// as JPEG. Callers gate this on the camera being live.
func (c *Camera) CaptureFrame() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusLive {
		return Frame{}, fmt.Errorf("%w (%s)", ErrNotLive, c.status)
	}

	img, err := c.stream.Frame()
	if err != nil {
		return Frame{}, err
	}

	frame, err := encodeFrame(img, c.quality)
	if err != nil {
		return Frame{}, err
	}
	c.logger.Debug("Captured frame",
		zap.Int("width", frame.Width),
		zap.Int("height", frame.Height),
		zap.Int("bytes", len(frame.JPEG)))
	return frame, nil
}

// Release closes the stream. It is safe to call more than once and from any
// exit path.
func (c *Camera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusReleased {
		return nil
	}
	c.status = StatusReleased

	if c.stream == nil {
		return nil
	}
	err := c.stream.Close()
	c.stream = nil
	if err != nil {
		return fmt.Errorf("failed to release camera: %w", err)
	}
	c.logger.Debug("Camera released")
	return nil
}

func encodeFrame(img image.Image, quality int) (Frame, error) {
	if img == nil {
		return Frame{}, ErrNoFrame
	}
	b := img.Bounds()
	if b.Empty() {
		return Frame{}, ErrNoFrame
	}

	raster := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(raster, raster.Bounds(), img, b.Min, xdraw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, raster, &jpeg.Options{Quality: quality}); err != nil {
		return Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	return Frame{JPEG: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}
