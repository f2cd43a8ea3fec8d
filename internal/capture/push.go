package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
)

// PushSource is a camera whose frames are pushed by a remote client, such as
// a browser calling getUserMedia and sending canvas snapshots over a socket.
// The client resolves the permission prompt with Ready or Deny.
type PushSource struct {
	decided chan struct{}
	once    sync.Once

	mu          sync.Mutex
	denyErr     error
	latest      image.Image
	constraints Constraints
}

func NewPushSource() *PushSource {
	return &PushSource{decided: make(chan struct{})}
}

// Ready reports that the client obtained a stream
func (p *PushSource) Ready() {
	p.once.Do(func() { close(p.decided) })
}

// Deny reports that the client could not obtain a stream
func (p *PushSource) Deny(reason string) {
	p.once.Do(func() {
		p.mu.Lock()
		if reason == "" {
			reason = "permission denied"
		}
		p.denyErr = fmt.Errorf("%w: %s", ErrUnavailable, reason)
		p.mu.Unlock()
		close(p.decided)
	})
}

// Push stores the latest frame. A pushed frame implies the stream is ready.
func (p *PushSource) Push(payload string) error {
	img, err := DecodePayload(payload)
	if err != nil {
		return err
	}
	return p.PushImage(img)
}

// PushImage stores an already decoded frame
func (p *PushSource) PushImage(img image.Image) error {
	p.Ready()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denyErr != nil {
		return p.denyErr
	}
	p.latest = img
	return nil
}

// Requested returns the constraints of the last Open call
func (p *PushSource) Requested() Constraints {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.constraints
}

// Open waits until the client resolves the permission prompt
func (p *PushSource) Open(ctx context.Context, c Constraints) (Stream, error) {
	p.mu.Lock()
	p.constraints = c
	p.mu.Unlock()

	select {
	case <-p.decided:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denyErr != nil {
		return nil, p.denyErr
	}
	return &pushStream{src: p}, nil
}

type pushStream struct {
	src *PushSource

	mu     sync.Mutex
	closed bool
}

func (s *pushStream) Frame() (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	s.src.mu.Lock()
	defer s.src.mu.Unlock()
	if s.src.latest == nil {
		return nil, ErrNoFrame
	}
	return s.src.latest, nil
}

func (s *pushStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
