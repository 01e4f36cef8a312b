// Package stories persists narrative stories and shapes them for the live story list.
package stories

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
)

const (
	fieldName     = "name"
	fieldCreated  = "created"
	fieldModified = "modified"
	fieldScenes   = "data"
)

// ErrMalformedStory indicates that a stored document does not have the story shape.
var ErrMalformedStory = errors.New("stories: malformed story document")

// Story is a named container of scene entries.
type Story struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Created  int64             `json:"created"`
	Modified int64             `json:"modified"`
	Scenes   []json.RawMessage `json:"data"`
}

// Entry is the presentation form of a story in the live list.
type Entry struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Created    string            `json:"created"`
	Modified   string            `json:"modified"`
	CreatedAt  int64             `json:"createdAt"`
	ModifiedAt int64             `json:"modifiedAt"`
	Scenes     []json.RawMessage `json:"data"`
}

// SearchKeys lists the strings a search filter matches against.
func (e Entry) SearchKeys() []string {
	return []string{e.Name}
}

// DisplayName returns the story name.
func (e Entry) DisplayName() string {
	return e.Name
}

// LiveQuery orders the story list by last modification, newest first.
func LiveQuery() documents.Query {
	return documents.Query{OrderBy: fieldModified, Descending: true}
}

type storedStory struct {
	Name     *string           `json:"name"`
	Created  *float64          `json:"created"`
	Modified *float64          `json:"modified"`
	Scenes   []json.RawMessage `json:"data"`
}

// FromDocument validates a stored document and decodes it into a Story.
func FromDocument(document documents.Document) (Story, error) {
	var stored storedStory
	if err := document.Decode(&stored); err != nil {
		return Story{}, fmt.Errorf("%w: %s: %v", ErrMalformedStory, document.ID, err)
	}
	if stored.Name == nil {
		return Story{}, fmt.Errorf("%w: %s: missing name", ErrMalformedStory, document.ID)
	}
	if stored.Created == nil || stored.Modified == nil {
		return Story{}, fmt.Errorf("%w: %s: missing timestamps", ErrMalformedStory, document.ID)
	}
	scenes := stored.Scenes
	if scenes == nil {
		scenes = []json.RawMessage{}
	}
	return Story{
		ID:       document.ID,
		Name:     *stored.Name,
		Created:  int64(*stored.Created),
		Modified: int64(*stored.Modified),
		Scenes:   scenes,
	}, nil
}

// Transform returns the snapshot transform for the live list. Timestamps are
// rendered as day-month-year calendar dates in loc.
func Transform(loc *time.Location) func(documents.Document) (Entry, error) {
	if loc == nil {
		loc = time.UTC
	}
	return func(document documents.Document) (Entry, error) {
		story, err := FromDocument(document)
		if err != nil {
			return Entry{}, err
		}
		return Entry{
			ID:         story.ID,
			Name:       story.Name,
			Created:    FormatDate(story.Created, loc),
			Modified:   FormatDate(story.Modified, loc),
			CreatedAt:  story.Created,
			ModifiedAt: story.Modified,
			Scenes:     story.Scenes,
		}, nil
	}
}

// FormatDate renders epoch milliseconds as "D-M-YYYY" without zero padding.
func FormatDate(epochMillis int64, loc *time.Location) string {
	moment := time.UnixMilli(epochMillis).In(loc)
	return fmt.Sprintf("%d-%d-%d", moment.Day(), int(moment.Month()), moment.Year())
}
