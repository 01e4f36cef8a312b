package builder

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/pins"
	"go.uber.org/zap"
)

// DefaultMarginDegrees is the half-width of the region shown by ViewPin.
const DefaultMarginDegrees = 2.0

// PinRepository is the pin persistence used by PinBuilder.
type PinRepository interface {
	Save(ctx context.Context, req pins.SaveRequest) error
	Delete(ctx context.Context, id string) bool
	RemoveAllForBasemap(ctx context.Context, basemapTag string) int
}

// PinBuilderConfig describes the dependencies of a PinBuilder.
type PinBuilderConfig struct {
	Repository        PinRepository
	Preferences       Preferences
	Viewport          Viewport
	Chrome            Chrome
	Scheduler         Scheduler
	Dispatch          Dispatch
	AnimationDuration time.Duration
	MarginDegrees     float64
	Logger            *zap.Logger
}

// PinBuilder drives the pin panel. Its items come from SetPins; the pin list
// is owned by the host and only changes here through store writes.
type PinBuilder struct {
	*controller[pins.Pin]
	repository  PinRepository
	preferences Preferences
	viewport    Viewport
	dispatch    Dispatch
	margin      float64
	logger      *zap.Logger
}

// NewPinBuilder validates the configuration and constructs a hidden PinBuilder.
func NewPinBuilder(cfg PinBuilderConfig) (*PinBuilder, error) {
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
	margin := cfg.MarginDegrees
	if margin <= 0 {
		margin = DefaultMarginDegrees
	}
	p := newPanel(FeaturePinBuilder, cfg.Viewport, cfg.Chrome, cfg.Scheduler, cfg.AnimationDuration, logger)
	return &PinBuilder{
		controller:  newController[pins.Pin](p, logger),
		repository:  cfg.Repository,
		preferences: cfg.Preferences,
		viewport:    cfg.Viewport,
		dispatch:    dispatch,
		margin:      margin,
		logger:      logger,
	}, nil
}

// SetPins replaces the pin list.
func (b *PinBuilder) SetPins(items []pins.Pin) {
	b.replaceItems(items)
}

// BeginEdit opens the editor for the pin at index with its name and color.
func (b *PinBuilder) BeginEdit(index int) error {
	_, err := b.fireAt(index, func(pin pins.Pin) Event[pins.Pin] {
		return Event[pins.Pin]{
			Kind:  EventBeginEdit,
			Index: index,
			Item:  pin,
			Draft: Draft{Name: pin.Data.Name, Color: pin.Metadata.Color},
		}
	})
	return err
}

// SaveEdit closes the editor and dispatches the update. Only name and color
// change; the pin keeps its original position.
func (b *PinBuilder) SaveEdit(ctx context.Context) error {
	effects, err := b.fire(Event[pins.Pin]{Kind: EventSave})
	if err != nil {
		return err
	}
	for _, effect := range effects {
		if effect.Target.Kind != TargetExisting {
			b.logger.Warn("pin builder cannot create pins", zap.String("feature", FeaturePinBuilder))
			continue
		}
		pin := effect.Target.Item
		req := pins.SaveRequest{
			Color:      effect.Draft.Color,
			Name:       effect.Draft.Name,
			ID:         pin.Metadata.ID,
			Longitude:  pin.Data.Location.Longitude,
			Latitude:   pin.Data.Location.Latitude,
			IsUpdate:   true,
			BasemapTag: pin.Metadata.BasemapTag,
		}
		writeCtx := detach(ctx)
		b.dispatch(func() {
			_ = b.repository.Save(writeCtx, req)
		})
	}
	return nil
}

// ConfirmRemove closes the confirmation and performs the removal. A bulk
// removal uses the active basemap and hides the panel afterward.
func (b *PinBuilder) ConfirmRemove(ctx context.Context) error {
	effects, err := b.fire(Event[pins.Pin]{Kind: EventConfirmRemove})
	if err != nil {
		return err
	}
	for _, effect := range effects {
		switch effect.Kind {
		case EffectDeleteOne:
			b.settleDelete(b.repository.Delete(ctx, effect.Target.Item.Metadata.ID))
		case EffectRemoveAll:
			b.removeAllForActiveBasemap(ctx)
			b.Close()
		}
	}
	return nil
}

func (b *PinBuilder) removeAllForActiveBasemap(ctx context.Context) {
	if b.preferences == nil {
		b.logger.Warn("bulk pin removal skipped", zap.String("reason", "no_preferences"))
		return
	}
	tag, ok, err := b.preferences.ActiveBasemapTag(ctx)
	if err != nil {
		b.logger.Error("bulk pin removal skipped", zap.String("reason", "preference_read_failed"), zap.Error(err))
		return
	}
	if !ok {
		b.logger.Warn("bulk pin removal skipped", zap.String("reason", "no_active_basemap"))
		return
	}
	removed := b.repository.RemoveAllForBasemap(ctx, tag)
	b.logger.Info("pins removed for basemap", zap.String("basemap", tag), zap.Int("removed", removed))
}

// ViewPin zooms the map to the pin at index and closes the panel.
func (b *PinBuilder) ViewPin(index int) error {
	pin, err := b.visibleAt(index)
	if err != nil {
		return err
	}
	location := pin.Data.Location
	b.viewport.ZoomTo(RegionAround(location.Longitude, location.Latitude, b.margin))
	b.Close()
	return nil
}
