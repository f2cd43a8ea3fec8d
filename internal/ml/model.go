package ml

import (
	"context"
	"errors"
	"fmt"

	"github.com/franckalain/moodscanner/internal/config"
	"github.com/franckalain/moodscanner/internal/models"
)

// ErrModelNotLoaded is returned when AnalyzeMood runs before Load
var ErrModelNotLoaded = errors.New("model not loaded")

// Model represents a classification service that reads a mood from a face
type Model interface {
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// AnalyzeMood takes a JPEG frame and returns the mood classification
	AnalyzeMood(ctx context.Context, jpeg []byte) (*models.MoodResult, error)
	// Close releases the underlying client
	Close() error
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// NewModel creates a new model instance based on the model type
func NewModel(cfg config.MLConfig) (Model, error) {
	var factory ModelFactory

	switch cfg.Type {
	case "google":
		factory = NewGoogleModelFactory(GoogleConfig{
			ModelName:       cfg.Model,
			ProjectID:       cfg.ProjectID,
			Location:        cfg.Location,
			CredentialsFile: cfg.CredentialsFile,
			APIKey:          cfg.APIKey,
		})
	case "fixture":
		factory = NewFixtureModelFactory(FixtureConfig{Path: cfg.FixturePath})
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Type)
	}
	return factory.CreateModel()
}
