package builder

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAnimationDuration = time.Millisecond

// panel tracks builder visibility and drives the repaint and resize
// notifications around every open and close.
type panel struct {
	feature           string
	viewport          Viewport
	chrome            Chrome
	scheduler         Scheduler
	animationDuration time.Duration
	logger            *zap.Logger

	mu      sync.Mutex
	visible bool
}

func newPanel(feature string, viewport Viewport, chrome Chrome, scheduler Scheduler, animation time.Duration, logger *zap.Logger) *panel {
	if scheduler == nil {
		scheduler = TimerScheduler()
	}
	if animation <= 0 {
		animation = defaultAnimationDuration
	}
	return &panel{
		feature:           feature,
		viewport:          viewport,
		chrome:            chrome,
		scheduler:         scheduler,
		animationDuration: animation,
		logger:            logger,
	}
}

func (p *panel) isVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// update applies next to the visibility and notifies the host when it changed.
func (p *panel) update(next func(visible bool) bool) bool {
	p.mu.Lock()
	visible := next(p.visible)
	changed := visible != p.visible
	p.visible = visible
	p.mu.Unlock()

	if changed {
		p.logger.Debug("builder panel toggled", zap.String("feature", p.feature), zap.Bool("visible", visible))
		p.relayout()
		p.chrome.DismissFeaturePrompt(p.feature)
	}
	return visible
}

func (p *panel) open() {
	p.update(func(bool) bool { return true })
}

func (p *panel) close() {
	p.update(func(bool) bool { return false })
}

func (p *panel) toggle() bool {
	return p.update(func(visible bool) bool { return !visible })
}

// relayout repaints now and resizes once the panel animation has finished.
func (p *panel) relayout() {
	p.viewport.NotifyRepaintRequired()
	p.scheduler.AfterFunc(p.animationDuration, p.chrome.TriggerLayoutResize)
}
