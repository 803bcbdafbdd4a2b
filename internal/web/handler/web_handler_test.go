package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/messaging"
	"github.com/rizkirmdhn/dyproxy/internal/common/messaging/messagingtest"
	"github.com/rizkirmdhn/dyproxy/internal/douyin"
	"github.com/rizkirmdhn/dyproxy/internal/web/websocket"
	"github.com/rizkirmdhn/dyproxy/pkg/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	video *douyin.ResolvedVideo
	err   error
	texts []string
}

func (s *stubResolver) ResolveShareText(_ context.Context, text string) (*douyin.ResolvedVideo, error) {
	s.texts = append(s.texts, text)
	return s.video, s.err
}

var testVideo = &douyin.ResolvedVideo{
	VideoID: "7123456789",
	Title:   "Test Video",
	URL:     "https://aweme.example/aweme/v1/play/xyz.mp4",
}

type testEnv struct {
	router   *gin.Engine
	handler  *Handler
	hub      *websocket.Hub
	resolver *stubResolver
	cfg      *config.Config
}

func newTestEnv(t *testing.T, msgClient messaging.Client) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, _ := test.NewNullLogger()
	cfg := config.Default()

	hub := websocket.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	resolver := &stubResolver{video: testVideo}
	h := NewHandler(cfg, log, resolver, msgClient, hub)

	router := gin.New()
	h.RegisterRoutes(router)

	return &testEnv{router: router, handler: h, hub: hub, resolver: resolver, cfg: cfg}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestIndexHandler(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, "douyin-downloader", body["service"])
	assert.Equal(t, false, body["messaging"])
	assert.Len(t, body["endpoints"], len(endpoints))
}

func TestNoRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, decode(t, w)["endpoints"])
}

func TestResolveHandlerSuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/v1/douyin", `{"share_link":"  see https://v.douyin.com/abc/  "}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, map[string]any{
		"status":       "success",
		"video_id":     testVideo.VideoID,
		"title":        testVideo.Title,
		"download_url": testVideo.URL,
	}, decode(t, w))
	assert.Equal(t, []string{"see https://v.douyin.com/abc/"}, env.resolver.texts)
}

func TestResolveHandlerBadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, body := range []string{`not json`, `{}`, `{"share_link":"   "}`} {
		w := env.do(http.MethodPost, "/api/v1/douyin", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "error", decode(t, w)["status"])
	}
	assert.Empty(t, env.resolver.texts)
}

func TestResolveHandlerFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolver.video = nil
	env.resolver.err = douyin.ErrNoPlayURL

	w := env.do(http.MethodPost, "/api/v1/douyin", `{"share_link":"https://v.douyin.com/abc/"}`, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	body := decode(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, douyin.ErrNoPlayURL.Error(), body["error"])
	assert.Equal(t, "no_play_url", body["kind"])
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/v1/douyin", `{"share_link":"https://v.douyin.com/abc/"}`,
		map[string]string{"Origin": "https://app.example"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = env.do(http.MethodOptions, "/api/v1/douyin", "", map[string]string{
		"Origin":                         "https://app.example",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "Content-Type",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")

	w = env.do(http.MethodGet, "/nope", "", map[string]string{"Origin": "https://app.example"})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestDownloadHandlerWithoutMessaging(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/v1/douyin/download", `{"share_link":"https://v.douyin.com/abc/"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDownloadHandlerQueuesTask(t *testing.T) {
	client := messagingtest.New()
	env := newTestEnv(t, client)

	w := env.do(http.MethodPost, "/api/v1/douyin/download", `{"share_link":"https://v.douyin.com/abc/"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decode(t, w)
	assert.Equal(t, "queued", body["status"])
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	published := client.Published()
	require.Len(t, published, 1)
	assert.Equal(t, models.TaskRoutingKey, published[0].RoutingKey)

	var task models.DownloadTask
	require.NoError(t, json.Unmarshal(published[0].Body, &task))
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, testVideo.URL, task.URL)
	assert.Equal(t, testVideo.Title, task.Title)
}

func TestDownloadHandlerPublishFailure(t *testing.T) {
	client := messagingtest.New()
	client.PublishErr = assert.AnError
	env := newTestEnv(t, client)

	w := env.do(http.MethodPost, "/api/v1/douyin/download", `{"share_link":"https://v.douyin.com/abc/"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStartRelaysDownloadLogs(t *testing.T) {
	client := messagingtest.New()
	env := newTestEnv(t, client)
	require.NoError(t, env.handler.Start(context.Background()))

	queue := env.cfg.RabbitMq.Queue.LogQueue
	assert.Equal(t, []string{models.LogRoutingKey}, client.Bindings(queue))
	require.True(t, client.Consuming(queue))

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	body, _ := json.Marshal(models.DownloadLog{TaskID: "t1", Status: models.StatusCompleted, Title: "clip", Path: "/out/clip.mp4"})
	require.NoError(t, client.Deliver(queue, models.LogRoutingKey, body))
	require.NoError(t, client.Deliver(queue, models.LogRoutingKey, []byte("garbage")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var relayed map[string]any
	require.NoError(t, json.Unmarshal(msg, &relayed))
	assert.Equal(t, "download_log", relayed["type"])
	assert.Equal(t, "t1", relayed["task_id"])
	assert.Equal(t, "completed", relayed["status"])
	assert.Equal(t, "/out/clip.mp4", relayed["path"])
}

func TestStartWithoutMessaging(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.NoError(t, env.handler.Start(context.Background()))
}
