// Package syncview keeps a local, transformed copy of a live document query.
package syncview

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyActive indicates that Activate was called on a subscribed view.
	ErrAlreadyActive = errors.New("syncview: view already active")
	errMissingSource = errors.New("syncview: source is required")
	errMissingMapper = errors.New("syncview: transform is required")
)

// Source delivers snapshots of an ordered query.
type Source interface {
	Subscribe(ctx context.Context, query documents.Query, callback func([]documents.Document)) (documents.Unsubscribe, error)
}

// Config describes a View.
type Config[T any] struct {
	Source    Source
	Query     documents.Query
	Transform func(documents.Document) (T, error)
	// Publish receives a copy of the items after every accepted snapshot.
	Publish func([]T)
	Logger  *zap.Logger
}

// View mirrors a store query: every snapshot replaces the items wholesale.
type View[T any] struct {
	source    Source
	query     documents.Query
	transform func(documents.Document) (T, error)
	publish   func([]T)
	logger    *zap.Logger

	mu          sync.Mutex
	generation  uint64
	subscribed  bool
	unsubscribe documents.Unsubscribe
	items       []T
}

// New validates the configuration and constructs an inactive View.
func New[T any](cfg Config[T]) (*View[T], error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Transform == nil {
		return nil, errMissingMapper
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View[T]{
		source:    cfg.Source,
		query:     cfg.Query,
		transform: cfg.Transform,
		publish:   cfg.Publish,
		logger:    logger,
	}, nil
}

// Activate subscribes to the source.
func (v *View[T]) Activate(ctx context.Context) error {
	v.mu.Lock()
	if v.subscribed {
		v.mu.Unlock()
		return ErrAlreadyActive
	}
	v.generation++
	generation := v.generation
	v.subscribed = true
	v.mu.Unlock()

	unsubscribe, err := v.source.Subscribe(ctx, v.query, func(snapshot []documents.Document) {
		v.apply(generation, snapshot)
	})
	if err != nil {
		v.mu.Lock()
		v.subscribed = false
		v.mu.Unlock()
		v.logger.Error("view subscription failed", zap.String("operation", "syncview.activate"), zap.Error(err))
		return err
	}

	v.mu.Lock()
	if v.generation != generation {
		// Deactivated while subscribing.
		v.mu.Unlock()
		unsubscribe()
		return nil
	}
	v.unsubscribe = unsubscribe
	v.mu.Unlock()
	return nil
}

// Deactivate releases the subscription exactly once. Snapshots delivered
// afterward are discarded.
func (v *View[T]) Deactivate() {
	v.mu.Lock()
	if !v.subscribed {
		v.mu.Unlock()
		return
	}
	v.subscribed = false
	v.generation++
	unsubscribe := v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Run activates the view, blocks until ctx ends and deactivates on every exit path.
func (v *View[T]) Run(ctx context.Context) error {
	if err := v.Activate(ctx); err != nil {
		return err
	}
	defer v.Deactivate()
	<-ctx.Done()
	return nil
}

// Items returns a copy of the current items.
func (v *View[T]) Items() []T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]T(nil), v.items...)
}

// Subscribed reports whether the view currently holds a subscription.
func (v *View[T]) Subscribed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.subscribed
}

func (v *View[T]) apply(generation uint64, snapshot []documents.Document) {
	items := make([]T, 0, len(snapshot))
	for _, document := range snapshot {
		item, err := v.transform(document)
		if err != nil {
			v.logger.Warn("skipping malformed document", zap.String("document_id", document.ID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	v.mu.Lock()
	if !v.subscribed || v.generation != generation {
		v.mu.Unlock()
		return
	}
	v.items = items
	published := append([]T(nil), items...)
	v.mu.Unlock()

	if v.publish != nil {
		v.publish(published)
	}
}
