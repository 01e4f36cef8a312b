package builder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/pins"
)

// callLog records collaborator calls in order across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type recordingViewport struct {
	log     *callLog
	regions []Region
}

func (v *recordingViewport) ZoomTo(region Region) {
	v.regions = append(v.regions, region)
	v.log.add("zoom")
}

func (v *recordingViewport) NotifyRepaintRequired() {
	v.log.add("repaint")
}

type recordingChrome struct {
	log *callLog
}

func (c *recordingChrome) TriggerLayoutResize() {
	c.log.add("resize")
}

func (c *recordingChrome) DismissFeaturePrompt(feature string) {
	c.log.add("prompt:%s", feature)
}

func (c *recordingChrome) OpenStory(storyID string) {
	c.log.add("story:%s", storyID)
}

type scheduledCall struct {
	delay time.Duration
	run   func()
}

// manualScheduler holds scheduled calls until runAll.
type manualScheduler struct {
	log     *callLog
	pending []scheduledCall
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) {
	s.log.add("schedule:%s", d)
	s.pending = append(s.pending, scheduledCall{delay: d, run: f})
}

func (s *manualScheduler) runAll() {
	pending := s.pending
	s.pending = nil
	for _, call := range pending {
		call.run()
	}
}

// queuedDispatch holds dispatched tasks until flush.
type queuedDispatch struct {
	tasks []func()
}

func (d *queuedDispatch) dispatch(task func()) {
	d.tasks = append(d.tasks, task)
}

func (d *queuedDispatch) flush() {
	tasks := d.tasks
	d.tasks = nil
	for _, task := range tasks {
		task()
	}
}

type fakePinRepository struct {
	saved        []pins.SaveRequest
	deleted      []string
	deleteResult bool
	removedTags  []string
}

func (r *fakePinRepository) Save(_ context.Context, req pins.SaveRequest) error {
	r.saved = append(r.saved, req)
	return nil
}

func (r *fakePinRepository) Delete(_ context.Context, id string) bool {
	r.deleted = append(r.deleted, id)
	return r.deleteResult
}

func (r *fakePinRepository) RemoveAllForBasemap(_ context.Context, tag string) int {
	r.removedTags = append(r.removedTags, tag)
	return 1
}

type fakeStoryRepository struct {
	created      []string
	renamed      []string
	deleted      []string
	deleteResult bool
	removeAll    int
}

func (r *fakeStoryRepository) Create(_ context.Context, name string) (string, error) {
	r.created = append(r.created, name)
	return "story-new", nil
}

func (r *fakeStoryRepository) Rename(_ context.Context, id, name string) error {
	r.renamed = append(r.renamed, id+"="+name)
	return nil
}

func (r *fakeStoryRepository) Delete(_ context.Context, id string) bool {
	r.deleted = append(r.deleted, id)
	return r.deleteResult
}

func (r *fakeStoryRepository) RemoveAll(_ context.Context) int {
	r.removeAll++
	return 3
}

type fixedPreferences struct {
	tag string
	ok  bool
	err error
}

func (p fixedPreferences) ActiveBasemapTag(context.Context) (string, bool, error) {
	return p.tag, p.ok, p.err
}

func makePin(name string, latitude, longitude float64, basemap string) pins.Pin {
	return pins.Pin{
		Metadata: pins.Metadata{ID: pins.DeriveID(longitude, latitude), Color: "#ff0000", BasemapTag: basemap},
		Data:     pins.Data{Name: name, Location: pins.Location{Latitude: latitude, Longitude: longitude}},
	}
}

type pinHarness struct {
	builder    *PinBuilder
	repository *fakePinRepository
	viewport   *recordingViewport
	scheduler  *manualScheduler
	dispatch   *queuedDispatch
	log        *callLog
}

func newPinHarness(t *testing.T, preferences Preferences) *pinHarness {
	t.Helper()
	log := &callLog{}
	h := &pinHarness{
		repository: &fakePinRepository{deleteResult: true},
		viewport:   &recordingViewport{log: log},
		scheduler:  &manualScheduler{log: log},
		dispatch:   &queuedDispatch{},
		log:        log,
	}
	builder, err := NewPinBuilder(PinBuilderConfig{
		Repository:        h.repository,
		Preferences:       preferences,
		Viewport:          h.viewport,
		Chrome:            &recordingChrome{log: log},
		Scheduler:         h.scheduler,
		Dispatch:          h.dispatch.dispatch,
		AnimationDuration: 250 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct pin builder: %v", err)
	}
	h.builder = builder
	return h
}
