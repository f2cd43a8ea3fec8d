package capture

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"
)

// FileSource serves a still image from disk as if it were a live feed.
// JPEG, PNG and WebP files are accepted.
type FileSource struct {
	Path string
}

func (f FileSource) Open(_ context.Context, _ Constraints) (Stream, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnavailable, f.Path)
	}
	return &fileStream{path: f.Path}, nil
}

type fileStream struct {
	path string

	mu     sync.Mutex
	closed bool
}

func (s *fileStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return decodeImage(data)
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
