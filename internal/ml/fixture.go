package ml

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/franckalain/moodscanner/internal/models"
)

//go:embed fixtures/calm.json
var defaultFixture []byte

// FixtureConfig holds configuration for the fixture model
type FixtureConfig struct {
	// Path to a JSON response; the embedded sample is used when empty
	Path string
}

// FixtureModel answers every frame with a canned response. It goes through
// the same parsing path as the real service, which makes it useful for
// offline development of the UI.
type FixtureModel struct {
	config FixtureConfig
	text   string
}

// FixtureModelFactory implements ModelFactory for fixture models
type FixtureModelFactory struct {
	config FixtureConfig
}

// NewFixtureModelFactory creates a new fixture model factory
func NewFixtureModelFactory(config FixtureConfig) *FixtureModelFactory {
	return &FixtureModelFactory{config: config}
}

// CreateModel creates a new fixture model instance
func (f *FixtureModelFactory) CreateModel() (Model, error) {
	return &FixtureModel{
		config: f.config,
	}, nil
}

// Load reads the canned response
func (m *FixtureModel) Load(ctx context.Context) error {
	if m.config.Path == "" {
		m.text = string(defaultFixture)
		return nil
	}
	data, err := os.ReadFile(m.config.Path)
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}
	m.text = string(data)
	return nil
}

// AnalyzeMood ignores the frame content and parses the canned response
func (m *FixtureModel) AnalyzeMood(ctx context.Context, jpeg []byte) (*models.MoodResult, error) {
	if m.text == "" {
		return nil, ErrModelNotLoaded
	}
	if len(jpeg) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ParseMoodResult(m.text)
}

func (m *FixtureModel) Close() error {
	return nil
}
