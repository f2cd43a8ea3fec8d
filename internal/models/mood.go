package models

import (
	"errors"
	"fmt"
	"strings"
)

// ViewState is the screen the scanner UI is currently showing
type ViewState string

const (
	ViewScanning        ViewState = "SCANNING"
	ViewAnalyzing       ViewState = "ANALYZING"
	ViewResult          ViewState = "RESULT"
	ViewRecommendations ViewState = "RECOMMENDATIONS"
)

// ErrInvalidResult is returned by Validate when a classification payload is incomplete
var ErrInvalidResult = errors.New("invalid mood result")

// ProductRecommendation is a product suggested to match the detected mood
type ProductRecommendation struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    string `json:"price"` // free text, e.g. "$18"
	Reason   string `json:"reason"`
}

// MoodResult represents the outcome of one successful scan
type MoodResult struct {
	Mood        string   `json:"mood"`
	Description string   `json:"description"`
	Confidence  int      `json:"confidence"` // 0-100, not enforced
	Tags        []string `json:"tags"`
	EnergyLevel string   `json:"energyLevel"`

	// Derived locally from Mood and Tags
	AvatarKey string `json:"avatarKey,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`

	Recommendations []ProductRecommendation `json:"recommendations"`
}

// Validate rejects results that would render as partial data
func (r *MoodResult) Validate() error {
	if strings.TrimSpace(r.Mood) == "" {
		return fmt.Errorf("%w: empty mood", ErrInvalidResult)
	}
	if len(r.Recommendations) == 0 {
		return fmt.Errorf("%w: no recommendations", ErrInvalidResult)
	}
	for i, rec := range r.Recommendations {
		switch {
		case rec.Name == "":
			return fmt.Errorf("%w: recommendation %d has no name", ErrInvalidResult, i)
		case rec.Category == "":
			return fmt.Errorf("%w: recommendation %d has no category", ErrInvalidResult, i)
		case rec.Price == "":
			return fmt.Errorf("%w: recommendation %d has no price", ErrInvalidResult, i)
		case rec.Reason == "":
			return fmt.Errorf("%w: recommendation %d has no reason", ErrInvalidResult, i)
		}
	}
	return nil
}

// Clone returns a deep copy so snapshots never share slices with live state
func (r *MoodResult) Clone() *MoodResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	if r.Recommendations != nil {
		out.Recommendations = append([]ProductRecommendation(nil), r.Recommendations...)
	}
	return &out
}
