package pins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	"go.uber.org/zap"
)

const (
	opSave         = "pins.save"
	opDelete       = "pins.delete"
	opRemoveAll    = "pins.remove_all_for_basemap"
	opList         = "pins.list"
	fieldBasemap   = "metadata.basemap"
	fieldCreatedAt = "created_at"
	defaultIconPx  = 48
)

var (
	errMissingGateway = errors.New("pins: document gateway is required")
	errMissingIcons   = errors.New("pins: icon synthesizer is required")
)

// Gateway is the document collection the repository writes pins to.
type Gateway interface {
	Create(ctx context.Context, id string, fields documents.Fields) (string, error)
	Update(ctx context.Context, id string, fields documents.Fields) error
	Delete(ctx context.Context, id string) bool
	List(ctx context.Context) ([]documents.Document, error)
	ListWhere(ctx context.Context, field string, value any) ([]documents.Document, error)
}

// IconSynthesizer renders the marker icon stored with each pin.
type IconSynthesizer interface {
	RenderIcon(cssColor string, sizePixels int) (string, error)
}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Gateway  Gateway
	Icons    IconSynthesizer
	IconSize int
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Repository performs pin CRUD against the Pins collection.
type Repository struct {
	gateway  Gateway
	icons    IconSynthesizer
	iconSize int
	clock    func() time.Time
	logger   *zap.Logger
}

// NewRepository validates the configuration and constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	if cfg.Icons == nil {
		return nil, errMissingIcons
	}
	iconSize := cfg.IconSize
	if iconSize <= 0 {
		iconSize = defaultIconPx
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{
		gateway:  cfg.Gateway,
		icons:    cfg.Icons,
		iconSize: iconSize,
		clock:    clock,
		logger:   logger,
	}, nil
}

// SaveRequest carries the fields of a pin write.
type SaveRequest struct {
	Color      string
	Name       string
	ID         string
	Longitude  float64
	Latitude   float64
	IsUpdate   bool
	BasemapTag string
}

// Save writes a pin. New pins are created under the position-derived id;
// updates target req.ID as given, which may differ from the derived id, and
// leave the stored creation time untouched.
// Errors are logged and returned; callers may treat the write as fire-and-forget.
func (r *Repository) Save(ctx context.Context, req SaveRequest) error {
	icon, err := r.icons.RenderIcon(req.Color, r.iconSize)
	if err != nil {
		r.logError(opSave, "icon_render_failed", err, zap.String("color", req.Color))
		return fmt.Errorf("%s: %w", opSave, err)
	}

	now := r.clock()
	derivedID := DeriveID(req.Longitude, req.Latitude)
	pin := Pin{
		Metadata: Metadata{
			ID:         derivedID,
			Color:      req.Color,
			BasemapTag: req.BasemapTag,
		},
		Data: Data{
			Name:       normalizeName(req.Name, now),
			Location:   Location{Latitude: req.Latitude, Longitude: req.Longitude},
			MarkerIcon: icon,
		},
		CreatedAt: now.UnixMilli(),
	}

	if !req.IsUpdate {
		if _, err := r.gateway.Create(ctx, derivedID, pin.fields()); err != nil {
			r.logError(opSave, "create_failed", err, zap.String("pin_id", derivedID))
			return err
		}
		return nil
	}

	fields := pin.fields()
	delete(fields, fieldCreatedAt)
	if err := r.gateway.Update(ctx, req.ID, fields); err != nil {
		r.logError(opSave, "update_failed", err, zap.String("pin_id", req.ID))
		return err
	}
	return nil
}

// Delete removes a pin and reports whether the store accepted the removal.
func (r *Repository) Delete(ctx context.Context, id string) bool {
	if !r.gateway.Delete(ctx, id) {
		r.logger.Warn("pin delete failed", zap.String("operation", opDelete), zap.String("pin_id", id))
		return false
	}
	return true
}

// RemoveAllForBasemap deletes every pin tagged with basemapTag one by one and
// returns how many were deleted. It is not transactional: a failure part way
// leaves the remaining pins in place and no compensation is attempted.
func (r *Repository) RemoveAllForBasemap(ctx context.Context, basemapTag string) int {
	candidates, err := r.gateway.ListWhere(ctx, fieldBasemap, basemapTag)
	if err != nil {
		r.logError(opRemoveAll, "list_failed", err, zap.String("basemap", basemapTag))
		return 0
	}

	removed := 0
	for _, document := range candidates {
		tag, ok := document.Lookup(fieldBasemap)
		if !ok || tag != basemapTag {
			continue
		}
		if !r.gateway.Delete(ctx, document.ID) {
			r.logError(opRemoveAll, "delete_failed", nil, zap.String("pin_id", document.ID), zap.String("basemap", basemapTag))
			continue
		}
		removed++
	}
	return removed
}

// List returns every decodable pin. Malformed documents are logged and skipped.
func (r *Repository) List(ctx context.Context) ([]Pin, error) {
	stored, err := r.gateway.List(ctx)
	if err != nil {
		r.logError(opList, "list_failed", err)
		return nil, err
	}
	result := make([]Pin, 0, len(stored))
	for _, document := range stored {
		pin, err := FromDocument(document)
		if err != nil {
			r.logger.Warn("skipping malformed pin", zap.String("pin_id", document.ID), zap.Error(err))
			continue
		}
		result = append(result, pin)
	}
	return result, nil
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.logger.Error("pins repository error", attrs...)
}

// normalizeName trims the name; a blank name becomes the millisecond component of now.
func normalizeName(name string, now time.Time) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return strconv.Itoa(now.UTC().Nanosecond() / int(time.Millisecond))
}
