package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/messaging"
	"github.com/rizkirmdhn/dyproxy/internal/common/messaging/messagingtest"
	"github.com/rizkirmdhn/dyproxy/pkg/models"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaBody = "\x00\x00\x00\x18ftypmp42 fake media"

func newTestService(t *testing.T, client *messagingtest.Client, srv *httptest.Server) (*DownloaderService, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.Downloader.TempDir = filepath.Join(t.TempDir(), "temp")
	cfg.Downloader.DownloadDir = filepath.Join(t.TempDir(), "output")

	log, _ := test.NewNullLogger()

	// a nil *Client must stay a nil interface
	var message messaging.Client
	if client != nil {
		message = client
	}

	s := NewDownloaderService(&cfg.Downloader, &cfg.Douyin, &cfg.RabbitMq, log, message,
		WithHTTPClient(srv.Client()), WithRetryDelay(time.Millisecond))
	return s, cfg
}

func TestFetchWritesFile(t *testing.T) {
	cfg := config.Default()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cfg.Douyin.UserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, cfg.Douyin.Referer, r.Header.Get("Referer"))
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("Range"))
		w.Write([]byte(mediaBody))
	}))
	defer srv.Close()

	s, scfg := newTestService(t, nil, srv)

	path, err := s.Fetch(context.Background(), models.DownloadTask{VideoID: "1", Title: "Test Video", URL: srv.URL + "/play/xyz.mp4"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(scfg.Downloader.DownloadDir, "Test Video.mp4"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, mediaBody, string(data))

	leftovers, err := os.ReadDir(scfg.Downloader.TempDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFetchAvoidsCollisionsAndSanitizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mediaBody))
	}))
	defer srv.Close()

	s, scfg := newTestService(t, nil, srv)
	task := models.DownloadTask{VideoID: "42", Title: "a/b", URL: srv.URL}

	first, err := s.Fetch(context.Background(), task)
	require.NoError(t, err)
	second, err := s.Fetch(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(scfg.Downloader.DownloadDir, "a_b.mp4"), first)
	assert.Equal(t, filepath.Join(scfg.Downloader.DownloadDir, "a_b_1.mp4"), second)

	untitled, err := s.Fetch(context.Background(), models.DownloadTask{VideoID: "42", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(scfg.Downloader.DownloadDir, "douyin_42.mp4"), untitled)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(mediaBody))
	}))
	defer srv.Close()

	s, _ := newTestService(t, nil, srv)

	_, err := s.Fetch(context.Background(), models.DownloadTask{VideoID: "1", Title: "x", URL: srv.URL})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, _ := newTestService(t, nil, srv)

	_, err := s.Fetch(context.Background(), models.DownloadTask{VideoID: "1", Title: "x", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.EqualValues(t, maxRetries, calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s, _ := newTestService(t, nil, srv)

	_, err := s.Fetch(context.Background(), models.DownloadTask{VideoID: "1", Title: "x", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.EqualValues(t, 1, calls.Load())
}

func TestStartConsumesTasksAndPublishesLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mediaBody))
	}))
	defer srv.Close()

	client := messagingtest.New()
	s, cfg := newTestService(t, client, srv)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})

	assert.Equal(t, []string{models.TaskRoutingKey}, client.Bindings(cfg.RabbitMq.Queue.DownloaderQueue))
	assert.Equal(t, []string{models.LogRoutingKey}, client.Bindings(cfg.RabbitMq.Queue.LogQueue))

	body, err := json.Marshal(models.DownloadTask{ID: "task-1", VideoID: "7", Title: "clip", URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, client.Deliver(cfg.RabbitMq.Queue.DownloaderQueue, models.TaskRoutingKey, body))

	var statuses []string
	timeout := time.After(5 * time.Second)
	for len(statuses) < 2 {
		select {
		case msg := <-client.Next():
			require.Equal(t, models.LogRoutingKey, msg.RoutingKey)
			var entry models.DownloadLog
			require.NoError(t, json.Unmarshal(msg.Body, &entry))
			assert.Equal(t, "task-1", entry.TaskID)
			statuses = append(statuses, entry.Status)
			if entry.Status == models.StatusCompleted {
				assert.Equal(t, filepath.Join(cfg.Downloader.DownloadDir, "clip.mp4"), entry.Path)
				require.NotNil(t, entry.Progress)
				assert.EqualValues(t, len(mediaBody), entry.Progress.BytesWritten)
			}
		case <-timeout:
			t.Fatal("timed out waiting for download logs")
		}
	}

	assert.Equal(t, []string{models.StatusStarted, models.StatusCompleted}, statuses)
	assert.Equal(t, 1, s.Stats().VideoDownloaded)
}

func TestStartPublishesErrorLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := messagingtest.New()
	s, cfg := newTestService(t, client, srv)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})

	body, _ := json.Marshal(models.DownloadTask{ID: "task-2", VideoID: "7", Title: "clip", URL: srv.URL})
	require.NoError(t, client.Deliver(cfg.RabbitMq.Queue.DownloaderQueue, models.TaskRoutingKey, body))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-client.Next():
			var entry models.DownloadLog
			require.NoError(t, json.Unmarshal(msg.Body, &entry))
			if entry.Status != models.StatusError {
				continue
			}
			assert.Contains(t, entry.Error, "404")
			assert.Equal(t, 1, s.Stats().Failed)
			return
		case <-timeout:
			t.Fatal("timed out waiting for error log")
		}
	}
}

func TestStartIgnoresForeignAndMalformedMessages(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := messagingtest.New()
	s, cfg := newTestService(t, client, srv)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})

	queue := cfg.RabbitMq.Queue.DownloaderQueue
	assert.NoError(t, client.Deliver(queue, "downloader.other", []byte(`{}`)))
	assert.NoError(t, client.Deliver(queue, models.TaskRoutingKey, []byte(`not json`)))
	assert.Empty(t, client.Published())
	assert.Equal(t, 0, s.Stats().Queued)
}

func TestStartRequiresMessaging(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s, _ := newTestService(t, nil, srv)
	assert.Error(t, s.Start(context.Background()))
}

func TestStartClearsTempDir(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client := messagingtest.New()
	s, cfg := newTestService(t, client, srv)

	require.NoError(t, os.MkdirAll(cfg.Downloader.TempDir, 0o755))
	stale := filepath.Join(cfg.Downloader.TempDir, "download-1.part")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()

	assert.NoFileExists(t, stale)
}
