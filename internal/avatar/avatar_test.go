package avatar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		mood string
		tags []string
		want string
	}{
		{name: "mood contains key", mood: "Pure Joy", want: "Joy"},
		{name: "first table entry wins", mood: "Calm & Steady", want: "Calm"},
		{name: "no match falls back", mood: "Mysterious", want: FallbackKey},
		{name: "case insensitive", mood: "a bit TIRED", want: "Tired"},
		{name: "tag match", mood: "Mysterious", tags: []string{"Overjoyed"}, want: "Joy"},
		{name: "table order beats mood over tags", mood: "Calm", tags: []string{"tired eyes"}, want: "Tired"},
		{name: "empty input", mood: "", want: FallbackKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.mood, tt.tags)
			assert.Equal(t, tt.want, got.Key)
			assert.NotEmpty(t, got.URL)
		})
	}
}

func TestEntriesIsACopy(t *testing.T) {
	entries := Entries()
	entries[0].Key = "changed"

	assert.Equal(t, "Tired", Entries()[0].Key)
}
