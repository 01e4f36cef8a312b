package pins

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubIcons struct{}

func (stubIcons) RenderIcon(cssColor string, sizePixels int) (string, error) {
	return fmt.Sprintf("data:image/png;base64,%s@%d", cssColor, sizePixels), nil
}

var fixedNow = time.Date(2024, 9, 1, 12, 0, 0, 123_000_000, time.UTC)

func newTestCollection(t *testing.T) *documents.Collection {
	t.Helper()
	dsn := fmt.Sprintf("file:pins_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&documents.Record{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := documents.NewStore(documents.StoreConfig{
		Database:   db,
		IDProvider: documents.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store.Collection(documents.CollectionPins)
}

func newTestRepository(t *testing.T, gateway Gateway) *Repository {
	t.Helper()
	repository, err := NewRepository(RepositoryConfig{
		Gateway: gateway,
		Icons:   stubIcons{},
		Clock:   func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	return repository
}

func mustSave(t *testing.T, repository *Repository, req SaveRequest) {
	t.Helper()
	if err := repository.Save(context.Background(), req); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
}

// flakyGateway wraps a collection and fails deletes for selected ids.
type flakyGateway struct {
	*documents.Collection
	failDeletes map[string]bool
	deleted     []string
}

func (g *flakyGateway) Delete(ctx context.Context, id string) bool {
	if g.failDeletes[id] {
		return false
	}
	g.deleted = append(g.deleted, id)
	return g.Collection.Delete(ctx, id)
}
