// Package pins owns map pin identity, persistence and bulk removal by basemap.
package pins

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
)

// ErrMalformedPin indicates that a stored document does not have the pin shape.
var ErrMalformedPin = errors.New("pins: malformed pin document")

// Location is a geographic position in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Metadata carries the pin identity, color and basemap scope.
type Metadata struct {
	ID         string `json:"id"`
	Color      string `json:"color"`
	BasemapTag string `json:"basemap"`
}

// Data carries the user-visible pin content.
type Data struct {
	Name       string   `json:"name"`
	Location   Location `json:"location"`
	MarkerIcon string   `json:"customMarkerIcon"`
}

// Pin is a named, colored point annotation.
type Pin struct {
	Metadata  Metadata `json:"metadata"`
	Data      Data     `json:"data"`
	CreatedAt int64    `json:"created_at"`
}

// SearchKeys lists the strings a search filter matches against: the name and "lat,lon".
func (p Pin) SearchKeys() []string {
	return []string{p.Data.Name, FormatCoordinate(p.Data.Location.Latitude) + "," + FormatCoordinate(p.Data.Location.Longitude)}
}

// DisplayName returns the pin name.
func (p Pin) DisplayName() string {
	return p.Data.Name
}

// DeriveID builds the position-derived pin identifier.
func DeriveID(longitude, latitude float64) string {
	return "pin_" + FormatCoordinate(longitude) + "_" + FormatCoordinate(latitude)
}

// FormatCoordinate renders a coordinate the way a JavaScript number prints:
// the shortest round-tripping digits, so 10 becomes "10" and 12.5 stays
// "12.5", switching to exponent form below 1e-6 ("1e-7") and from 1e21 up.
func FormatCoordinate(value float64) string {
	if value == 0 {
		return "0"
	}
	scientific := strconv.FormatFloat(value, 'e', -1, 64)
	mantissa, exponentText, found := strings.Cut(scientific, "e")
	if !found {
		return scientific
	}
	exponent, err := strconv.Atoi(exponentText)
	if err != nil {
		return scientific
	}
	if exponent >= -6 && exponent < 21 {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	sign := "+"
	if exponent < 0 {
		sign = "-"
		exponent = -exponent
	}
	return mantissa + "e" + sign + strconv.Itoa(exponent)
}

func (p Pin) fields() documents.Fields {
	return documents.Fields{
		"metadata": map[string]any{
			"color":   p.Metadata.Color,
			"id":      p.Metadata.ID,
			"basemap": p.Metadata.BasemapTag,
		},
		"data": map[string]any{
			"name": p.Data.Name,
			"location": map[string]any{
				"longitude": p.Data.Location.Longitude,
				"latitude":  p.Data.Location.Latitude,
			},
			"customMarkerIcon": p.Data.MarkerIcon,
		},
		fieldCreatedAt: p.CreatedAt,
	}
}

// storedPin mirrors the document shape with optional fields so missing values can be detected.
type storedPin struct {
	Metadata *struct {
		ID      string `json:"id"`
		Color   string `json:"color"`
		Basemap string `json:"basemap"`
	} `json:"metadata"`
	Data *struct {
		Name     any `json:"name"`
		Location *struct {
			Latitude  *float64 `json:"latitude"`
			Longitude *float64 `json:"longitude"`
		} `json:"location"`
		MarkerIcon string `json:"customMarkerIcon"`
	} `json:"data"`
	CreatedAt float64 `json:"created_at"`
}

// FromDocument validates a stored document and decodes it into a Pin.
func FromDocument(document documents.Document) (Pin, error) {
	var stored storedPin
	if err := document.Decode(&stored); err != nil {
		return Pin{}, fmt.Errorf("%w: %s: %v", ErrMalformedPin, document.ID, err)
	}
	if stored.Metadata == nil || stored.Data == nil || stored.Data.Location == nil {
		return Pin{}, fmt.Errorf("%w: %s: missing metadata, data or location", ErrMalformedPin, document.ID)
	}
	location := stored.Data.Location
	if location.Latitude == nil || location.Longitude == nil {
		return Pin{}, fmt.Errorf("%w: %s: missing coordinates", ErrMalformedPin, document.ID)
	}
	if math.Abs(*location.Latitude) > 90 || math.Abs(*location.Longitude) > 180 {
		return Pin{}, fmt.Errorf("%w: %s: coordinates out of range", ErrMalformedPin, document.ID)
	}

	// Older writers stored the blank-name placeholder as a number.
	name := ""
	switch value := stored.Data.Name.(type) {
	case string:
		name = value
	case float64:
		name = strconv.FormatFloat(value, 'f', -1, 64)
	case nil:
	default:
		return Pin{}, fmt.Errorf("%w: %s: unexpected name type %T", ErrMalformedPin, document.ID, value)
	}

	// The stored metadata id is always the position-derived one, even when an
	// update wrote to a different document; the document key is authoritative.
	id := document.ID
	if id == "" {
		id = strings.TrimSpace(stored.Metadata.ID)
	}
	return Pin{
		Metadata: Metadata{
			ID:         id,
			Color:      stored.Metadata.Color,
			BasemapTag: stored.Metadata.Basemap,
		},
		Data: Data{
			Name:       name,
			Location:   Location{Latitude: *location.Latitude, Longitude: *location.Longitude},
			MarkerIcon: stored.Data.MarkerIcon,
		},
		CreatedAt: int64(stored.CreatedAt),
	}, nil
}
