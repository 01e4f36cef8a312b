package builder

import (
	"context"
	"time"
)

// Region is a geographic bounding box in degrees.
type Region struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// RegionAround returns the box extending margin degrees from the point on each axis.
func RegionAround(longitude, latitude, margin float64) Region {
	return Region{
		West:  longitude - margin,
		South: latitude - margin,
		East:  longitude + margin,
		North: latitude + margin,
	}
}

// Viewport is the host map.
type Viewport interface {
	ZoomTo(region Region)
	NotifyRepaintRequired()
}

// Chrome is the host window around the builder panels.
type Chrome interface {
	TriggerLayoutResize()
	DismissFeaturePrompt(feature string)
	OpenStory(storyID string)
}

// Preferences exposes the active basemap tag.
type Preferences interface {
	ActiveBasemapTag(ctx context.Context) (string, bool, error)
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// Dispatch runs a fire-and-forget task.
type Dispatch func(task func())

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// TimerScheduler schedules with time.AfterFunc.
func TimerScheduler() Scheduler {
	return timerScheduler{}
}

// GoDispatch runs each task on its own goroutine.
func GoDispatch(task func()) {
	go task()
}
