// Package avatar maps a mood label and its tags onto an illustrative avatar image.
package avatar

import "strings"

// Entry is one row of the avatar table
type Entry struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// FallbackKey is used when no table key matches
const FallbackKey = "Steady"

// Table order decides ties: "Calm & Steady" resolves to Calm.
var table = []Entry{
	{Key: "Tired", URL: "https://images.unsplash.com/photo-1544717297-fa95b6ee9643?auto=format&fit=crop&q=80&w=400"},
	{Key: "Joy", URL: "https://images.unsplash.com/photo-1494790108377-be9c29b29330?auto=format&fit=crop&q=80&w=400"},
	{Key: "Calm", URL: "https://images.unsplash.com/photo-1517841905240-472988babdf9?auto=format&fit=crop&q=80&w=400"},
	{Key: FallbackKey, URL: "https://images.unsplash.com/photo-1539571696357-5a69c17a67c6?auto=format&fit=crop&q=80&w=400"},
}

// Entries returns a copy of the table in match order
func Entries() []Entry {
	return append([]Entry(nil), table...)
}

// Resolve returns the first entry whose key appears, case-insensitively, in
// the mood or in any tag. The fallback entry is returned when nothing matches.
func Resolve(mood string, tags []string) Entry {
	mood = strings.ToLower(mood)
	for _, e := range table {
		key := strings.ToLower(e.Key)
		if strings.Contains(mood, key) {
			return e
		}
		for _, t := range tags {
			if strings.Contains(strings.ToLower(t), key) {
				return e
			}
		}
	}
	return lookup(FallbackKey)
}

func lookup(key string) Entry {
	for _, e := range table {
		if e.Key == key {
			return e
		}
	}
	return Entry{}
}
