package stories

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	"go.uber.org/zap"
)

const (
	opCreate    = "stories.create"
	opRename    = "stories.rename"
	opDelete    = "stories.delete"
	opRemoveAll = "stories.remove_all"
)

var errMissingGateway = errors.New("stories: document gateway is required")

// Gateway is the document collection the repository writes stories to.
type Gateway interface {
	Create(ctx context.Context, id string, fields documents.Fields) (string, error)
	Update(ctx context.Context, id string, fields documents.Fields) error
	Delete(ctx context.Context, id string) bool
	List(ctx context.Context) ([]documents.Document, error)
}

// RepositoryConfig describes the dependencies of a Repository.
type RepositoryConfig struct {
	Gateway Gateway
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Repository performs story CRUD against the Stories collection.
type Repository struct {
	gateway Gateway
	clock   func() time.Time
	logger  *zap.Logger
}

// NewRepository validates the configuration and constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{gateway: cfg.Gateway, clock: clock, logger: logger}, nil
}

// Create writes a new empty story and returns the store-assigned id.
func (r *Repository) Create(ctx context.Context, name string) (string, error) {
	now := r.clock().UnixMilli()
	id, err := r.gateway.Create(ctx, "", documents.Fields{
		fieldName:     name,
		fieldCreated:  now,
		fieldModified: now,
		fieldScenes:   []any{},
	})
	if err != nil {
		r.logError(opCreate, "create_failed", err)
		return "", err
	}
	return id, nil
}

// Rename sets the story name and bumps its modification time.
func (r *Repository) Rename(ctx context.Context, id, name string) error {
	err := r.gateway.Update(ctx, id, documents.Fields{
		fieldName:     name,
		fieldModified: r.clock().UnixMilli(),
	})
	if err != nil {
		r.logError(opRename, "update_failed", err, zap.String("story_id", id))
		return err
	}
	return nil
}

// Delete removes a story and reports whether the store accepted the removal.
func (r *Repository) Delete(ctx context.Context, id string) bool {
	if !r.gateway.Delete(ctx, id) {
		r.logger.Warn("story delete failed", zap.String("operation", opDelete), zap.String("story_id", id))
		return false
	}
	return true
}

// RemoveAll deletes every story one by one and returns how many were deleted.
func (r *Repository) RemoveAll(ctx context.Context) int {
	stored, err := r.gateway.List(ctx)
	if err != nil {
		r.logError(opRemoveAll, "list_failed", err)
		return 0
	}
	removed := 0
	for _, document := range stored {
		if !r.gateway.Delete(ctx, document.ID) {
			r.logError(opRemoveAll, "delete_failed", nil, zap.String("story_id", document.ID))
			continue
		}
		removed++
	}
	return removed
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
	r.logger.Error("stories repository error", attrs...)
}
