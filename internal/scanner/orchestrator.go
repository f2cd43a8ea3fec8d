// Package scanner drives the scan screens: it owns the view state, runs one
// classification per capture and animates the cosmetic progress indicator
// while the classification is in flight.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/franckalain/moodscanner/internal/capture"
	"github.com/franckalain/moodscanner/internal/logging"
	"github.com/franckalain/moodscanner/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrScanInProgress is returned while a classification is in flight
	ErrScanInProgress = errors.New("scan already in progress")
	// ErrInvalidTransition is returned for calls the current view does not allow
	ErrInvalidTransition = errors.New("invalid view transition")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("scanner closed")
)

// User-facing status lines
const (
	StatusIdle      = "Focus on the center. We're finding products that match your energy."
	StatusAnalyzing = "Interpreting facial data patterns..."
	ErrorMessage    = "Error analyzing expression. Try again."
)

const (
	DefaultTickInterval = 300 * time.Millisecond
	DefaultMaxStep      = 15
	DefaultTimeout      = 30 * time.Second
)

// Classifier is the external classification service
type Classifier interface {
	AnalyzeMood(ctx context.Context, jpeg []byte) (*models.MoodResult, error)
}

// FrameCapturer produces the frame for one scan
type FrameCapturer interface {
	CaptureFrame() (capture.Frame, error)
}

// Snapshot is a copy of the application state at one point in time
type Snapshot struct {
	Seq      uint64             `json:"seq"`
	View     models.ViewState   `json:"view"`
	Result   *models.MoodResult `json:"result,omitempty"`
	Error    string             `json:"error,omitempty"`
	Status   string             `json:"status"`
	Progress int                `json:"progress"`
}

// Listener observes every state change. It is called with the state lock
// held and must not call back into the Orchestrator.
type Listener func(Snapshot)

type appState struct {
	seq      uint64
	view     models.ViewState
	result   *models.MoodResult
	errText  string
	status   string
	progress int
}

// Orchestrator is the single owner of the scanner's application state
type Orchestrator struct {
	classifier   Classifier
	logger       *zap.Logger
	tickInterval time.Duration
	step         func() int
	timeout      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      appState
	stopTicker context.CancelFunc
	listeners  map[int]Listener
	nextID     int
	closed     bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger used for scan outcomes
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(l) }
}

// WithTickInterval sets how often the progress indicator advances
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithMaxStep makes each tick advance by a random amount in [0, n)
func WithMaxStep(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.step = func() int { return rand.IntN(n) }
		}
	}
}

// WithStep replaces the progress step function
func WithStep(step func() int) Option {
	return func(o *Orchestrator) {
		if step != nil {
			o.step = step
		}
	}
}

// WithTimeout bounds each classification call. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

// New creates an orchestrator in the scanning view
func New(classifier Classifier, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		classifier:   classifier,
		logger:       zap.NewNop(),
		tickInterval: DefaultTickInterval,
		step:         func() int { return rand.IntN(DefaultMaxStep) },
		timeout:      DefaultTimeout,
		ctx:          ctx,
		cancel:       cancel,
		listeners:    make(map[int]Listener),
		state: appState{
			view:   models.ViewScanning,
			status: StatusIdle,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns a copy of the current state
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Subscribe registers l for every later state change. The returned func
// removes it.
func (o *Orchestrator) Subscribe(l Listener) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = l
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

// Scan captures one frame and starts classifying it. The state check and the
// move to ANALYZING happen under one lock, so a trigger that fires twice
// starts exactly one classification.
func (o *Orchestrator) Scan(cam FrameCapturer) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	switch o.state.view {
	case models.ViewScanning:
	case models.ViewAnalyzing:
		return ErrScanInProgress
	default:
		return fmt.Errorf("%w: cannot scan from %s", ErrInvalidTransition, o.state.view)
	}

	frame, err := cam.CaptureFrame()
	if err != nil {
		return fmt.Errorf("failed to capture frame: %w", err)
	}

	o.state.view = models.ViewAnalyzing
	o.state.errText = ""
	o.state.status = StatusAnalyzing
	o.state.progress = 0

	tickCtx, stop := context.WithCancel(o.ctx)
	o.stopTicker = stop

	o.wg.Add(2)
	go o.tick(tickCtx)
	go o.classify(frame)

	o.logger.Debug("Scan started", zap.Int("frame_bytes", len(frame.JPEG)))
	o.emitLocked()
	return nil
}

// ShowRecommendations moves from RESULT to RECOMMENDATIONS
func (o *Orchestrator) ShowRecommendations() error {
	return o.move(models.ViewResult, models.ViewRecommendations)
}

// Back moves from RECOMMENDATIONS to RESULT
func (o *Orchestrator) Back() error {
	return o.move(models.ViewRecommendations, models.ViewResult)
}

// Reset returns to SCANNING and clears the result and error text. It is
// refused while a classification is in flight.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.state.view == models.ViewAnalyzing {
		return ErrScanInProgress
	}

	o.state.view = models.ViewScanning
	o.state.result = nil
	o.state.errText = ""
	o.state.status = StatusIdle
	o.state.progress = 0
	o.emitLocked()
	return nil
}

// Close cancels any in-flight classification, stops the progress ticker and
// waits for both to exit.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.stopTickerLocked()
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) move(from, to models.ViewState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.state.view != from {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.state.view, to)
	}
	o.state.view = to
	o.emitLocked()
	return nil
}

func (o *Orchestrator) classify(frame capture.Frame) {
	defer o.wg.Done()

	ctx := o.ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := o.classifier.AnalyzeMood(ctx, frame.JPEG)
	if err == nil {
		if result == nil {
			err = errors.New("classifier returned no result")
		} else {
			err = result.Validate()
		}
	}
	o.finish(result, err, time.Since(start))
}

func (o *Orchestrator) finish(result *models.MoodResult, err error, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.view != models.ViewAnalyzing {
		return
	}
	o.stopTickerLocked()
	o.state.progress = 0

	if err != nil {
		o.logger.Error("Mood analysis failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		o.state.view = models.ViewScanning
		o.state.result = nil
		o.state.errText = ErrorMessage
		o.state.status = ErrorMessage
		o.emitLocked()
		return
	}

	o.logger.Info("Mood analysis complete",
		zap.String("mood", result.Mood),
		zap.Int("confidence", result.Confidence),
		zap.String("avatar", result.AvatarKey),
		zap.Int("recommendations", len(result.Recommendations)),
		zap.Duration("elapsed", elapsed))
	o.state.view = models.ViewResult
	o.state.result = result.Clone()
	o.state.errText = ""
	o.state.status = StatusIdle
	o.emitLocked()
}

// tick advances the progress indicator. It has no bearing on when the
// classification finishes.
func (o *Orchestrator) tick(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		if ctx.Err() != nil || o.state.view != models.ViewAnalyzing {
			o.mu.Unlock()
			return
		}
		next := o.state.progress + max(o.step(), 0)
		o.state.progress = min(next, 100)
		o.emitLocked()
		done := o.state.progress >= 100
		o.mu.Unlock()

		if done {
			return
		}
	}
}

func (o *Orchestrator) stopTickerLocked() {
	if o.stopTicker != nil {
		o.stopTicker()
		o.stopTicker = nil
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:      o.state.seq,
		View:     o.state.view,
		Result:   o.state.result.Clone(),
		Error:    o.state.errText,
		Status:   o.state.status,
		Progress: o.state.progress,
	}
}

func (o *Orchestrator) emitLocked() {
	o.state.seq++
	if o.closed || len(o.listeners) == 0 {
		return
	}
	snap := o.snapshotLocked()
	for _, l := range o.listeners {
		l(snap)
	}
}
