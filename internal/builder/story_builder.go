package builder

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/stories"
	"github.com/MarcoPoloResearchLab/pinboard/internal/syncview"
	"go.uber.org/zap"
)

// StoryRepository is the story persistence used by StoryBuilder.
type StoryRepository interface {
	Create(ctx context.Context, name string) (string, error)
	Rename(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) bool
	RemoveAll(ctx context.Context) int
}

// StoryBuilderConfig describes the dependencies of a StoryBuilder.
type StoryBuilderConfig struct {
	Repository        StoryRepository
	Viewport          Viewport
	Chrome            Chrome
	Scheduler         Scheduler
	Dispatch          Dispatch
	AnimationDuration time.Duration
	Logger            *zap.Logger
}

// StoryBuilder drives the story panel. Its items are replaced by the live
// story view on every snapshot.
type StoryBuilder struct {
	*controller[stories.Entry]
	repository StoryRepository
	chrome     Chrome
	dispatch   Dispatch
	logger     *zap.Logger
}

// NewStoryBuilder validates the configuration and constructs a hidden StoryBuilder.
func NewStoryBuilder(cfg StoryBuilderConfig) (*StoryBuilder, error) {
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	if cfg.Viewport == nil {
		return nil, errMissingViewport
	}
	if cfg.Chrome == nil {
		return nil, errMissingChrome
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatch := cfg.Dispatch
	if dispatch == nil {
		dispatch = GoDispatch
	}
	p := newPanel(FeatureStoryBuilder, cfg.Viewport, cfg.Chrome, cfg.Scheduler, cfg.AnimationDuration, logger)
	return &StoryBuilder{
		controller: newController[stories.Entry](p, logger),
		repository: cfg.Repository,
		chrome:     cfg.Chrome,
		dispatch:   dispatch,
		logger:     logger,
	}, nil
}

// ReplaceStories installs a new snapshot of the story list. It matches the
// publish callback of a live view.
func (b *StoryBuilder) ReplaceStories(items []stories.Entry) {
	b.replaceItems(items)
}

// FollowStories builds an inactive live view of the story list, newest
// modification first, whose snapshots replace this builder's items. Dates are
// rendered in location. The caller owns the view's Activate/Deactivate or Run.
func (b *StoryBuilder) FollowStories(source syncview.Source, location *time.Location) (*syncview.View[stories.Entry], error) {
	return syncview.New(syncview.Config[stories.Entry]{
		Source:    source,
		Query:     stories.LiveQuery(),
		Transform: stories.Transform(location),
		Publish:   b.ReplaceStories,
		Logger:    b.logger,
	})
}

// BeginCreate opens the editor for a new story.
func (b *StoryBuilder) BeginCreate() error {
	_, err := b.fire(Event[stories.Entry]{Kind: EventBeginCreate})
	return err
}

// BeginEdit opens the editor for the story at index.
func (b *StoryBuilder) BeginEdit(index int) error {
	_, err := b.fireAt(index, func(entry stories.Entry) Event[stories.Entry] {
		return Event[stories.Entry]{
			Kind:  EventBeginEdit,
			Index: index,
			Item:  entry,
			Draft: Draft{Name: entry.Name},
		}
	})
	return err
}

// SaveEdit closes the editor and dispatches the create or rename.
func (b *StoryBuilder) SaveEdit(ctx context.Context) error {
	effects, err := b.fire(Event[stories.Entry]{Kind: EventSave})
	if err != nil {
		return err
	}
	writeCtx := detach(ctx)
	for _, effect := range effects {
		name := effect.Draft.Name
		if effect.Kind == EffectSaveNew {
			b.dispatch(func() {
				_, _ = b.repository.Create(writeCtx, name)
			})
			continue
		}
		id := effect.Target.Item.ID
		b.dispatch(func() {
			_ = b.repository.Rename(writeCtx, id, name)
		})
	}
	return nil
}

// ConfirmRemove closes the confirmation and performs the removal. The panel
// stays open after a bulk removal.
func (b *StoryBuilder) ConfirmRemove(ctx context.Context) error {
	effects, err := b.fire(Event[stories.Entry]{Kind: EventConfirmRemove})
	if err != nil {
		return err
	}
	for _, effect := range effects {
		switch effect.Kind {
		case EffectDeleteOne:
			b.settleDelete(b.repository.Delete(ctx, effect.Target.Item.ID))
		case EffectRemoveAll:
			removed := b.repository.RemoveAll(ctx)
			b.logger.Info("stories removed", zap.Int("removed", removed))
		}
	}
	return nil
}

// OpenStory hands the story at index to the host player and relayouts the map.
func (b *StoryBuilder) OpenStory(index int) error {
	entry, err := b.visibleAt(index)
	if err != nil {
		return err
	}
	b.chrome.OpenStory(entry.ID)
	b.panel.relayout()
	return nil
}
