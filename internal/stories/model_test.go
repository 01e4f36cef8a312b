package stories

import (
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
)

func TestTransformFormatsCalendarDates(t *testing.T) {
	created := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC).UnixMilli()
	modified := time.Date(2024, 11, 12, 8, 0, 0, 0, time.UTC).UnixMilli()
	document := documents.Document{ID: "story-1", Fields: documents.Fields{
		"name":     "Coastline",
		"created":  float64(created),
		"modified": float64(modified),
		"data":     []any{map[string]any{"title": "Harbor"}},
	}}

	entry, err := Transform(time.UTC)(document)
	if err != nil {
		t.Fatalf("unexpected transform error: %v", err)
	}
	if entry.ID != "story-1" || entry.Name != "Coastline" {
		t.Fatalf("unexpected entry identity %#v", entry)
	}
	if entry.Created != "5-3-2024" || entry.Modified != "12-11-2024" {
		t.Fatalf("unexpected calendar dates %s / %s", entry.Created, entry.Modified)
	}
	if entry.ModifiedAt != modified || len(entry.Scenes) != 1 {
		t.Fatalf("unexpected raw fields %#v", entry)
	}

	tokyo := time.FixedZone("JST", 9*60*60)
	shifted, err := Transform(tokyo)(document)
	if err != nil {
		t.Fatalf("unexpected transform error: %v", err)
	}
	if shifted.Created != "6-3-2024" {
		t.Fatalf("expected the date to follow the configured zone, got %s", shifted.Created)
	}
}

func TestTransformRejectsMalformedDocuments(t *testing.T) {
	tests := map[string]documents.Fields{
		"missing name":     {"created": 1.0, "modified": 1.0},
		"missing modified": {"name": "x", "created": 1.0},
		"wrong type":       {"name": 42.0, "created": 1.0, "modified": 1.0},
	}
	transform := Transform(nil)
	for name, fields := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := transform(documents.Document{ID: "s", Fields: fields}); !errors.Is(err, ErrMalformedStory) {
				t.Fatalf("expected malformed story error, got %v", err)
			}
		})
	}
}

func TestLiveQueryOrdersByModifiedDescending(t *testing.T) {
	query := LiveQuery()
	if query.OrderBy != "modified" || !query.Descending {
		t.Fatalf("unexpected live query %#v", query)
	}
}
