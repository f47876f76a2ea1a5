package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rogervilla2024/slotfeed-sub001/internal/coordinator"
	"github.com/rogervilla2024/slotfeed-sub001/internal/logging"
	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
	"github.com/rogervilla2024/slotfeed-sub001/internal/processor"
	"github.com/rogervilla2024/slotfeed-sub001/internal/publisher"
	"github.com/rogervilla2024/slotfeed-sub001/internal/queue"
	"github.com/rogervilla2024/slotfeed-sub001/internal/websocket"
)

func newTestRouter(t *testing.T) (*gin.Engine, *queue.JobQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := logging.NewLogger()
	q := queue.New(client, queue.Config{Namespace: "test"}, logger)
	hub := websocket.NewHub(logger, nil)
	validator := processor.New(processor.DefaultConfig(), logger)
	pub := publisher.New(publisher.DefaultConfig(), validator, nil, nil, nil, nil, nil, hub, logger, nil)
	coord := coordinator.New(coordinator.DefaultConfig(nil, "kick"), nil, q, nil, pub, hub, logger, nil)

	router := gin.New()
	New(q, coord, pub, hub, logger, nil).RegisterRoutes(router)
	return router, q
}

func TestGetQueueStats(t *testing.T) {
	router, q := newTestRouter(t)

	job := &models.StreamJob{JobID: "job-1", StreamKey: "streamer1", CreatedAt: time.Now().UTC()}
	if _, err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/queue/stats", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var stats queue.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.NormalDepth != 1 || stats.ActiveCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestGetStreamsEmpty(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/streams", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 {
		t.Fatalf("expected empty roster, got %d", body.Count)
	}
}

func TestGetRecentEventsEmpty(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{"/api/v1/events/bigwins", "/api/v1/events/deposits"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
	}
}

func TestClearStaleBadBound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/queue/clear-stale?bound=abc", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad bound, got %d", w.Code)
	}
}

func TestClearStaleSweeps(t *testing.T) {
	router, q := newTestRouter(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		job := &models.StreamJob{JobID: "job-" + key, StreamKey: key, CreatedAt: time.Now().UTC()}
		if _, err := q.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/queue/clear-stale?bound=2", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Cleared int `json:"cleared"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Cleared != 3 {
		t.Fatalf("expected 3 cleared, got %d", body.Cleared)
	}
}
