package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/stories"
	"github.com/MarcoPoloResearchLab/pinboard/internal/syncview"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	StreamEventStories     = "stories"
	streamEventHeartbeat   = "heartbeat"
	streamSourceIdentifier = "pinboard-api"
)

type storiesEventPayload struct {
	Stories []stories.Entry `json:"stories"`
}

type heartbeatEventPayload struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// handleStoriesStream streams the live story list. Each connection owns a
// view whose subscription lives exactly as long as the request.
func (h *httpHandler) handleStoriesStream(c *gin.Context) {
	ctx := c.Request.Context()
	updates := make(chan []stories.Entry, 1)

	view, err := syncview.New(syncview.Config[stories.Entry]{
		Source:    h.storyFeed,
		Query:     stories.LiveQuery(),
		Transform: stories.Transform(h.location),
		Publish: func(items []stories.Entry) {
			offerLatest(updates, items)
		},
		Logger: h.logger,
	})
	if err != nil {
		h.logger.Error("failed to build story view", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_unavailable"})
		return
	}

	runResult := make(chan error, 1)
	go func() {
		runResult <- view.Run(ctx)
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-runResult:
			if err != nil {
				h.logger.Error("story stream subscription failed", zap.Error(err))
			}
			return
		case items := <-updates:
			c.SSEvent(StreamEventStories, storiesEventPayload{Stories: items})
			c.Writer.Flush()
		case tick := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, heartbeatEventPayload{
				Source:    streamSourceIdentifier,
				Timestamp: tick.UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		}
	}
}

// offerLatest replaces any undelivered value so the stream only ever sends
// the most recent snapshot.
func offerLatest[T any](channel chan T, value T) {
	for {
		select {
		case channel <- value:
			return
		default:
		}
		select {
		case <-channel:
		default:
		}
	}
}
