package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/franckalain/moodscanner/internal/avatar"
	"github.com/franckalain/moodscanner/internal/models"
)

var (
	// ErrEmptyResponse means the service answered without any text
	ErrEmptyResponse = errors.New("no response from AI")
	// ErrMalformedResponse means the text is not a MoodResult-shaped JSON object
	ErrMalformedResponse = errors.New("malformed model response")
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindArray
)

var requiredFields = []struct {
	name string
	kind fieldKind
}{
	{"mood", kindString},
	{"description", kindString},
	{"confidence", kindNumber},
	{"tags", kindArray},
	{"energyLevel", kindString},
	{"recommendations", kindArray},
}

var requiredRecommendationFields = []string{"name", "category", "price", "reason"}

// ParseMoodResult parses the raw text returned by the classification service,
// checks it locally and derives the avatar.
func ParseMoodResult(text string) (*models.MoodResult, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	// First unmarshal into a map to check for missing or mistyped fields
	var rawMap map[string]any
	if err := json.Unmarshal([]byte(text), &rawMap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if rawMap == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedResponse)
	}

	for _, field := range requiredFields {
		value, exists := rawMap[field.name]
		if !exists || value == nil {
			return nil, fmt.Errorf("%w: missing required field '%s'", ErrMalformedResponse, field.name)
		}
		if !hasKind(value, field.kind) {
			return nil, fmt.Errorf("%w: field '%s' has type %T", ErrMalformedResponse, field.name, value)
		}
	}

	recs, _ := rawMap["recommendations"].([]any)
	for i, rec := range recs {
		obj, ok := rec.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: recommendation %d is not an object", ErrMalformedResponse, i)
		}
		for _, name := range requiredRecommendationFields {
			if _, ok := obj[name].(string); !ok {
				return nil, fmt.Errorf("%w: recommendation %d missing string field '%s'", ErrMalformedResponse, i, name)
			}
		}
	}

	// Now unmarshal into our struct
	var result models.MoodResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}

	entry := avatar.Resolve(result.Mood, result.Tags)
	result.AvatarKey = entry.Key
	result.AvatarURL = entry.URL
	return &result, nil
}

func hasKind(v any, kind fieldKind) bool {
	switch kind {
	case kindString:
		_, ok := v.(string)
		return ok
	case kindNumber:
		_, ok := v.(float64)
		return ok
	case kindArray:
		_, ok := v.([]any)
		return ok
	}
	return false
}

// stripCodeFence removes a ```json ... ``` wrapper some models add even when
// asked for raw JSON
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
