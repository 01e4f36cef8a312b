package builder

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	"github.com/MarcoPoloResearchLab/pinboard/internal/stories"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type liveStoryHarness struct {
	builder    *StoryBuilder
	repository *stories.Repository
	collection *documents.Collection
}

func newLiveStoryHarness(t *testing.T) *liveStoryHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:builder_live_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	collection := store.Collection(documents.CollectionStories)

	current := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	repository, err := stories.NewRepository(stories.RepositoryConfig{
		Gateway: collection,
		Clock: func() time.Time {
			current = current.Add(time.Minute)
			return current
		},
	})
	if err != nil {
		t.Fatalf("failed to construct story repository: %v", err)
	}

	log := &callLog{}
	builder, err := NewStoryBuilder(StoryBuilderConfig{
		Repository: repository,
		Viewport:   &recordingViewport{log: log},
		Chrome:     &recordingChrome{log: log},
		Scheduler:  &manualScheduler{log: log},
		Dispatch:   func(task func()) { task() },
	})
	if err != nil {
		t.Fatalf("failed to construct story builder: %v", err)
	}
	return &liveStoryHarness{builder: builder, repository: repository, collection: collection}
}

func (h *liveStoryHarness) mustCreate(t *testing.T, name string) string {
	t.Helper()
	id, err := h.repository.Create(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to create story %q: %v", name, err)
	}
	return id
}

func visibleNames(b *StoryBuilder) []string {
	visible := b.VisibleItems()
	result := make([]string, 0, len(visible))
	for _, entry := range visible {
		result = append(result, entry.Name)
	}
	return result
}

func awaitVisibleNames(t *testing.T, b *StoryBuilder, expected []string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := visibleNames(b)
		if reflect.DeepEqual(got, expected) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected visible stories %v, got %v", expected, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFollowStoriesFeedsBuilderFromStore(t *testing.T) {
	h := newLiveStoryHarness(t)
	ctx := context.Background()

	view, err := h.builder.FollowStories(h.collection, time.UTC)
	if err != nil {
		t.Fatalf("failed to build story view: %v", err)
	}
	if err := view.Activate(ctx); err != nil {
		t.Fatalf("failed to activate story view: %v", err)
	}
	t.Cleanup(view.Deactivate)

	h.mustCreate(t, "alpha")
	betaID := h.mustCreate(t, "beta")
	awaitVisibleNames(t, h.builder, []string{"beta", "alpha"})

	if err := h.builder.BeginEdit(1); err != nil {
		t.Fatalf("unexpected begin edit error: %v", err)
	}
	if err := h.builder.UpdateDraft(Draft{Name: "alpha renamed"}); err != nil {
		t.Fatalf("unexpected draft error: %v", err)
	}
	if err := h.builder.SaveEdit(ctx); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	awaitVisibleNames(t, h.builder, []string{"alpha renamed", "beta"})

	if err := h.builder.RequestRemove(1); err != nil {
		t.Fatalf("unexpected remove request error: %v", err)
	}
	h.mustCreate(t, "gamma")
	awaitVisibleNames(t, h.builder, []string{"gamma", "alpha renamed", "beta"})

	state := h.builder.State()
	if state.Mode != ModeRemoving || state.Target.Kind != TargetSingle {
		t.Fatalf("expected the removal dialog to stay open, got %v", state.Mode)
	}
	if state.Target.Item.ID != betaID {
		t.Fatalf("expected the captured target to remain beta, got %q", state.Target.Item.Name)
	}

	if err := h.builder.ConfirmRemove(ctx); err != nil {
		t.Fatalf("unexpected confirm error: %v", err)
	}
	awaitVisibleNames(t, h.builder, []string{"gamma", "alpha renamed"})
	if pending := h.builder.State().PendingRemoval; pending != nil {
		t.Fatalf("expected the pending removal to clear, got %+v", pending)
	}
}

func TestFollowStoriesStopsAfterDeactivate(t *testing.T) {
	h := newLiveStoryHarness(t)
	ctx := context.Background()

	view, err := h.builder.FollowStories(h.collection, time.UTC)
	if err != nil {
		t.Fatalf("failed to build story view: %v", err)
	}
	if err := view.Activate(ctx); err != nil {
		t.Fatalf("failed to activate story view: %v", err)
	}
	h.mustCreate(t, "alpha")
	awaitVisibleNames(t, h.builder, []string{"alpha"})

	view.Deactivate()

	confirmed := make(chan struct{}, 1)
	unsubscribe, err := h.collection.Subscribe(ctx, stories.LiveQuery(), func(snapshot []documents.Document) {
		if len(snapshot) == 2 {
			select {
			case confirmed <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	t.Cleanup(unsubscribe)

	h.mustCreate(t, "beta")
	select {
	case <-confirmed:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the store to deliver the new story")
	}
	time.Sleep(20 * time.Millisecond)

	if got := visibleNames(h.builder); !reflect.DeepEqual(got, []string{"alpha"}) {
		t.Fatalf("expected no updates after deactivation, got %v", got)
	}
}
