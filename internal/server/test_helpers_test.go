package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pinboard/internal/auth"
	"github.com/MarcoPoloResearchLab/pinboard/internal/documents"
	"github.com/MarcoPoloResearchLab/pinboard/internal/markers"
	"github.com/MarcoPoloResearchLab/pinboard/internal/pins"
	"github.com/MarcoPoloResearchLab/pinboard/internal/preferences"
	"github.com/MarcoPoloResearchLab/pinboard/internal/stories"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testServer struct {
	server      *httptest.Server
	pins        *pins.Repository
	stories     *stories.Repository
	preferences preferences.Store
	store       *documents.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithPreferences(t, preferences.NewMemoryStore())
}

func newTestServerWithPreferences(t *testing.T, preferenceStore preferences.Store) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

	store, err := documents.NewStore(documents.StoreConfig{Database: db, IDProvider: documents.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	pinRepository, err := pins.NewRepository(pins.RepositoryConfig{
		Gateway: store.Collection(documents.CollectionPins),
		Icons:   markers.NewSynthesizer(),
	})
	if err != nil {
		t.Fatalf("failed to construct pin repository: %v", err)
	}
	storyCollection := store.Collection(documents.CollectionStories)
	storyRepository, err := stories.NewRepository(stories.RepositoryConfig{Gateway: storyCollection})
	if err != nil {
		t.Fatalf("failed to construct story repository: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator:  stubSessionValidator{claims: auth.SessionClaims{UserID: "user-123"}},
		Pins:              pinRepository,
		Stories:           storyRepository,
		StoryFeed:         storyCollection,
		Preferences:       preferenceStore,
		Dispatch:          func(task func()) { task() },
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testServer{
		server:      server,
		pins:        pinRepository,
		stories:     storyRepository,
		preferences: preferenceStore,
		store:       store,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	return response
}

func decodeJSON(t *testing.T, response *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
