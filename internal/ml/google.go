package ml

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/franckalain/moodscanner/internal/models"
	"google.golang.org/api/option"
)

// Instruction is sent alongside every frame
const Instruction = "Analyze this face's micro-expressions. Return a JSON object with: " +
	"'mood' (e.g., 'A bit Tired', 'Pure Joy', 'Calm & Steady'), " +
	"'description' (one friendly sentence), " +
	"'confidence' (percentage integer 0-100), " +
	"'tags' (array of strings), " +
	"'energyLevel' (string), and " +
	"'recommendations' (an array of 3-4 physical products that match this mood, each with 'name', 'category', 'price' in USD, and 'reason' justifying why it fits). " +
	"Be very expressive and modern."

// DefaultGoogleModel is used when no model name is configured
const DefaultGoogleModel = "gemini-2.5-flash"

// GoogleConfig holds configuration for the Google model
type GoogleConfig struct {
	ModelName       string
	ProjectID       string
	Location        string
	CredentialsFile string
	APIKey          string // express mode only; ignored when CredentialsFile is set
}

// Authentication modes, in order of precedence
const (
	AuthCredentialsFile = "credentials_file"
	AuthAPIKey          = "api_key"
	AuthDefault         = "application_default"
)

// AuthMode reports how the client authenticates. Vertex AI expects
// service-account or application default credentials; an API key is only
// used when no credentials file is set, for endpoints that accept keys
// (Vertex AI express mode).
func (c GoogleConfig) AuthMode() string {
	switch {
	case c.CredentialsFile != "":
		return AuthCredentialsFile
	case c.APIKey != "":
		return AuthAPIKey
	default:
		return AuthDefault
	}
}

func (c GoogleConfig) clientOptions() []option.ClientOption {
	switch c.AuthMode() {
	case AuthCredentialsFile:
		return []option.ClientOption{option.WithCredentialsFile(c.CredentialsFile)}
	case AuthAPIKey:
		return []option.ClientOption{option.WithAPIKey(c.APIKey)}
	default:
		return nil
	}
}

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config GoogleConfig
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config GoogleConfig) *GoogleModelFactory {
	return &GoogleModelFactory{config: config}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	cfg := f.config
	if cfg.ModelName == "" {
		cfg.ModelName = DefaultGoogleModel
	}
	return &GoogleModel{
		config: cfg,
	}, nil
}

// Load initializes the Vertex AI client
func (m *GoogleModel) Load(ctx context.Context) error {
	if m.config.ProjectID == "" {
		return fmt.Errorf("google project id is not set")
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, m.config.clientOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.ModelName)
	m.model.ResponseMIMEType = "application/json"
	m.model.ResponseSchema = moodSchema()
	return nil
}

// AnalyzeMood sends one frame and the fixed instruction to Gemini
func (m *GoogleModel) AnalyzeMood(ctx context.Context, jpeg []byte) (*models.MoodResult, error) {
	if m.model == nil {
		return nil, ErrModelNotLoaded
	}
	if len(jpeg) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	img := genai.Blob{MIMEType: "image/jpeg", Data: jpeg}
	resp, err := m.model.GenerateContent(ctx, img, genai.Text(Instruction))
	if err != nil {
		return nil, fmt.Errorf("failed to call ai: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return ParseMoodResult(text)
}

// Close releases the Vertex AI client
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	m.model = nil
	return err
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// moodSchema mirrors models.MoodResult; every field is required
func moodSchema() *genai.Schema {
	recommendation := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":     {Type: genai.TypeString},
			"category": {Type: genai.TypeString},
			"price":    {Type: genai.TypeString},
			"reason":   {Type: genai.TypeString},
		},
		Required: append([]string(nil), requiredRecommendationFields...),
	}

	required := make([]string, 0, len(requiredFields))
	for _, f := range requiredFields {
		required = append(required, f.name)
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"mood":            {Type: genai.TypeString},
			"description":     {Type: genai.TypeString},
			"confidence":      {Type: genai.TypeInteger},
			"tags":            {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"energyLevel":     {Type: genai.TypeString},
			"recommendations": {Type: genai.TypeArray, Items: recommendation},
		},
		Required: required,
	}
}
