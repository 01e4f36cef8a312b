package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrIndexOutOfRange indicates an index outside the visible list.
var ErrIndexOutOfRange = errors.New("builder: index out of range")

const (
	// FeaturePinBuilder names the pin panel in feature prompts.
	FeaturePinBuilder = "pin_builder"
	// FeatureStoryBuilder names the story panel in feature prompts.
	FeatureStoryBuilder = "story_builder"
)

var (
	errMissingRepository = errors.New("builder: repository is required")
	errMissingViewport   = errors.New("builder: viewport is required")
	errMissingChrome     = errors.New("builder: chrome is required")
)

// controller holds the state and items shared by both builder variants.
// Indexes passed to its methods address the visible (filtered) list.
type controller[T Searchable] struct {
	panel  *panel
	logger *zap.Logger

	mu    sync.Mutex
	state State[T]
	items []T
}

func newController[T Searchable](p *panel, logger *zap.Logger) *controller[T] {
	return &controller[T]{panel: p, logger: logger, state: NewState[T]()}
}

// State returns a copy of the workflow state.
func (c *controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Items returns every item regardless of the filter.
func (c *controller[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// VisibleItems returns the items matching the current filter.
func (c *controller[T]) VisibleItems() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Filter(c.items, c.state.Filter)
}

func (c *controller[T]) replaceItems(items []T) {
	c.mu.Lock()
	c.items = append([]T(nil), items...)
	c.mu.Unlock()
}

// Visible reports whether the panel is shown.
func (c *controller[T]) Visible() bool {
	return c.panel.isVisible()
}

// Open shows the panel.
func (c *controller[T]) Open() {
	c.panel.open()
}

// Close hides the panel.
func (c *controller[T]) Close() {
	c.panel.close()
}

// Toggle flips the panel visibility and returns the new value.
func (c *controller[T]) Toggle() bool {
	return c.panel.toggle()
}

// Search filters the list; empty text clears the filter.
func (c *controller[T]) Search(text string) error {
	_, err := c.fire(Event[T]{Kind: EventSearch, Text: text})
	return err
}

// OpenMenu opens the per-item menu at index.
func (c *controller[T]) OpenMenu(index int) error {
	_, err := c.fireAt(index, func(T) Event[T] {
		return Event[T]{Kind: EventOpenMenu, Index: index}
	})
	return err
}

// CloseMenu closes the per-item menu.
func (c *controller[T]) CloseMenu() {
	_, _ = c.fire(Event[T]{Kind: EventCloseMenu})
}

// RequestRemove opens the removal confirmation for the item at index.
func (c *controller[T]) RequestRemove(index int) error {
	_, err := c.fireAt(index, func(item T) Event[T] {
		return Event[T]{Kind: EventRequestRemove, Index: index, Item: item}
	})
	return err
}

// RequestRemoveAll opens the confirmation for removing every item.
func (c *controller[T]) RequestRemoveAll() error {
	_, err := c.fire(Event[T]{Kind: EventRequestRemoveAll})
	return err
}

// CancelRemove closes the removal confirmation without touching the store.
func (c *controller[T]) CancelRemove() error {
	_, err := c.fire(Event[T]{Kind: EventCancelRemove})
	return err
}

// UpdateDraft replaces the editor draft.
func (c *controller[T]) UpdateDraft(draft Draft) error {
	_, err := c.fire(Event[T]{Kind: EventUpdateDraft, Draft: draft})
	return err
}

// CancelEdit closes the editor without saving.
func (c *controller[T]) CancelEdit() error {
	_, err := c.fire(Event[T]{Kind: EventCancelEdit})
	return err
}

func (c *controller[T]) fire(event Event[T]) ([]Effect[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(event)
}

// fireAt resolves index against the visible list and fires the built event.
func (c *controller[T]) fireAt(index int, build func(item T) Event[T]) ([]Effect[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, err := c.visibleAtLocked(index)
	if err != nil {
		return nil, err
	}
	return c.transitionLocked(build(item))
}

func (c *controller[T]) visibleAt(index int) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleAtLocked(index)
}

func (c *controller[T]) visibleAtLocked(index int) (T, error) {
	visible := Filter(c.items, c.state.Filter)
	if index < 0 || index >= len(visible) {
		var zero T
		return zero, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(visible))
	}
	return visible[index], nil
}

func (c *controller[T]) transitionLocked(event Event[T]) ([]Effect[T], error) {
	next, effects, err := Transition(c.state, event)
	if err != nil {
		c.logger.Debug("builder event rejected", zap.String("feature", c.panel.feature), zap.Error(err))
		return nil, err
	}
	c.state = next
	return effects, nil
}

// settleDelete records the outcome of a confirmed single removal.
func (c *controller[T]) settleDelete(succeeded bool) {
	_, _ = c.fire(Event[T]{Kind: EventDeleteSettled, Succeeded: succeeded})
}

func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
