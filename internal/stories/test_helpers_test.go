package stories

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock(start time.Time) *steppingClock {
	return &steppingClock{current: start}
}

// Now returns the current instant and advances the clock by one minute.
func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	value := c.current
	c.current = c.current.Add(time.Minute)
	return value
}

func newTestCollection(t *testing.T) *documents.Collection {
	t.Helper()
	dsn := fmt.Sprintf("file:stories_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	return store.Collection(documents.CollectionStories)
}

func newTestRepository(t *testing.T, gateway Gateway, clock *steppingClock) *Repository {
	t.Helper()
	repository, err := NewRepository(RepositoryConfig{Gateway: gateway, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	return repository
}

// awaitSnapshot waits until a delivered snapshot satisfies accept.
func awaitSnapshot(t *testing.T, snapshots <-chan []documents.Document, accept func([]documents.Document) bool) []documents.Document {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snapshot := <-snapshots:
			if accept(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
			return nil
		}
	}
}

func subscribeLive(t *testing.T, collection *documents.Collection) <-chan []documents.Document {
	t.Helper()
	snapshots := make(chan []documents.Document, 32)
	unsubscribe, err := collection.Subscribe(context.Background(), LiveQuery(), func(snapshot []documents.Document) {
		snapshots <- snapshot
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	t.Cleanup(unsubscribe)
	return snapshots
}

func names(t *testing.T, snapshot []documents.Document) []string {
	t.Helper()
	result := make([]string, 0, len(snapshot))
	for _, document := range snapshot {
		story, err := FromDocument(document)
		if err != nil {
			t.Fatalf("unexpected malformed story: %v", err)
		}
		result = append(result, story.Name)
	}
	return result
}
