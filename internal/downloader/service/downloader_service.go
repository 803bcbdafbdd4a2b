package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/logger"
	"github.com/rizkirmdhn/dyproxy/internal/common/messaging"
	"github.com/rizkirmdhn/dyproxy/internal/douyin"
	"github.com/rizkirmdhn/dyproxy/pkg/models"
	"github.com/rizkirmdhn/dyproxy/pkg/utils"
	"github.com/sirupsen/logrus"
)

const maxRetries = 3

// errRetryable marks failures worth another attempt: transport errors and 5xx.
var errRetryable = errors.New("retryable")

type DownloaderService struct {
	config     *config.DownloaderConfig
	douyinCfg  *config.DouyinConfig
	rabbitCfg  *config.RabbitMQConfig
	log        *logrus.Entry
	message    messaging.Client
	client     *http.Client
	retryDelay time.Duration

	jobs chan models.DownloadTask
	wg   sync.WaitGroup

	mu    sync.Mutex
	stats models.Stats
}

type Option func(*DownloaderService)

// WithHTTPClient sets the client used to fetch media.
func WithHTTPClient(c *http.Client) Option {
	return func(s *DownloaderService) {
		s.client = c
	}
}

// WithRetryDelay sets the base delay between attempts; attempt n waits n times it.
func WithRetryDelay(d time.Duration) Option {
	return func(s *DownloaderService) {
		s.retryDelay = d
	}
}

// NewDownloaderService creates the downloader. message may be nil when the
// service is only used through Fetch.
func NewDownloaderService(cfg *config.DownloaderConfig, douyinCfg *config.DouyinConfig, rabbitCfg *config.RabbitMQConfig, log logrus.FieldLogger, message messaging.Client, opts ...Option) *DownloaderService {
	s := &DownloaderService{
		config:     cfg,
		douyinCfg:  douyinCfg,
		rabbitCfg:  rabbitCfg,
		log:        logger.Component(log, "downloader"),
		message:    message,
		client:     http.DefaultClient,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start declares the queues, starts the worker pool and consumes download
// tasks until ctx is done.
func (s *DownloaderService) Start(ctx context.Context) error {
	if s.message == nil {
		return fmt.Errorf("messaging client is required to start the downloader")
	}

	if err := s.setupMessaging(); err != nil {
		return fmt.Errorf("failed to setup messaging: %w", err)
	}

	// leftovers from an interrupted run
	if err := os.MkdirAll(s.config.TempDir, 0o755); err != nil {
		return fmt.Errorf("error creating temp directory: %w", err)
	}
	if err := utils.ClearFolder(s.config.TempDir); err != nil {
		s.log.WithError(err).Warn("Failed to clear temp directory")
	}

	s.jobs = make(chan models.DownloadTask, s.config.Concurrency)
	for w := 1; w <= s.config.Concurrency; w++ {
		s.wg.Add(1)
		go s.worker(ctx, w)
	}

	return s.message.Consume(ctx, s.rabbitCfg.Queue.DownloaderQueue, func(msg []byte, routingKey string) error {
		if routingKey != models.TaskRoutingKey {
			return nil
		}

		var task models.DownloadTask
		if err := json.Unmarshal(msg, &task); err != nil {
			// a malformed task never becomes valid, so it is dropped
			s.log.WithError(err).Error("Failed to unmarshal download task")
			return nil
		}

		s.log.WithFields(logrus.Fields{
			"task_id": task.ID,
			"title":   task.Title,
		}).Info("Received download task")

		s.mu.Lock()
		s.stats.Queued++
		s.mu.Unlock()

		select {
		case s.jobs <- task:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Setup message queues
func (s *DownloaderService) setupMessaging() error {
	queues := []struct {
		name        string
		routingKeys []string
	}{
		{name: s.rabbitCfg.Queue.DownloaderQueue, routingKeys: []string{models.TaskRoutingKey}},
		{name: s.rabbitCfg.Queue.LogQueue, routingKeys: []string{models.LogRoutingKey}},
	}

	for _, q := range queues {
		if err := s.message.DeclareQueue(q.name, q.routingKeys...); err != nil {
			return err
		}
	}

	return nil
}

// worker handles download jobs
func (s *DownloaderService) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	log := s.log.WithField("worker_id", id)
	log.Info("Starting download worker")

	for {
		select {
		case <-ctx.Done():
			log.Info("Worker shutting down")
			return
		case task := <-s.jobs:
			log.WithField("title", task.Title).Info("Worker processing download")
			s.process(ctx, task)
		}
	}
}

func (s *DownloaderService) process(ctx context.Context, task models.DownloadTask) {
	s.publishLog(ctx, models.DownloadLog{
		TaskID:  task.ID,
		Status:  models.StatusStarted,
		Title:   task.Title,
		VideoID: task.VideoID,
	})

	path, progress, err := s.fetch(ctx, task)
	if err != nil {
		s.log.WithError(err).WithField("task_id", task.ID).Error("Error downloading video")
		s.mu.Lock()
		s.stats.Failed++
		s.mu.Unlock()

		s.publishLog(ctx, models.DownloadLog{
			TaskID:  task.ID,
			Status:  models.StatusError,
			Error:   err.Error(),
			Title:   task.Title,
			VideoID: task.VideoID,
		})
		return
	}

	s.mu.Lock()
	s.stats.VideoDownloaded++
	s.mu.Unlock()

	s.publishLog(ctx, models.DownloadLog{
		TaskID:   task.ID,
		Status:   models.StatusCompleted,
		Title:    task.Title,
		VideoID:  task.VideoID,
		Path:     path,
		Progress: progress,
	})
}

func (s *DownloaderService) publishLog(ctx context.Context, entry models.DownloadLog) {
	if s.message == nil {
		return
	}
	if err := s.message.PublishJSON(ctx, models.LogRoutingKey, entry); err != nil {
		s.log.WithError(err).Warn("Failed to publish download log")
	}
}

// Fetch downloads the task's media into the download directory and returns
// the final path.
func (s *DownloaderService) Fetch(ctx context.Context, task models.DownloadTask) (string, error) {
	path, _, err := s.fetch(ctx, task)
	return path, err
}

func (s *DownloaderService) fetch(ctx context.Context, task models.DownloadTask) (string, *models.ProgressInfo, error) {
	for _, dir := range []string{s.config.TempDir, s.config.DownloadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}

	tmp, err := os.CreateTemp(s.config.TempDir, "download-*.part")
	if err != nil {
		return "", nil, fmt.Errorf("error creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	s.log.WithFields(logrus.Fields{"title": task.Title, "url": task.URL}).Debug("Downloading video")

	progress, err := s.downloadFile(ctx, task.URL, tmpName)
	if err != nil {
		return "", nil, err
	}

	name := douyin.Title(task.Title, task.VideoID)
	final := utils.UniquePath(s.config.DownloadDir, name, ".mp4")
	if err := os.Rename(tmpName, final); err != nil {
		return "", nil, fmt.Errorf("error moving download into place: %w", err)
	}

	s.log.WithFields(logrus.Fields{"title": task.Title, "path": final}).Debug("Download completed")
	return final, progress, nil
}

// Download file from URL with retry mechanism
func (s *DownloaderService) downloadFile(ctx context.Context, url, fileName string) (*models.ProgressInfo, error) {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			s.log.WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt + 1,
				"error":   lastErr,
			}).Debug("Retrying download")

			select {
			case <-time.After(time.Duration(attempt) * s.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		progress, err := s.downloadOnce(ctx, url, fileName)
		if err == nil {
			return progress, nil
		}
		lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
		if !errors.Is(err, errRetryable) || ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func (s *DownloaderService) downloadOnce(ctx context.Context, url, fileName string) (*models.ProgressInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header = douyin.MediaHeaders(s.douyinCfg, "")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: error downloading file: %w", errRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: upstream status %d", errRetryable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	out, err := os.Create(fileName)
	if err != nil {
		return nil, fmt.Errorf("error creating file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: error writing to file: %w", errRetryable, err)
	}

	return &models.ProgressInfo{BytesWritten: n, TotalBytes: max(resp.ContentLength, 0)}, nil
}

// Stats returns a snapshot of the counters.
func (s *DownloaderService) Stats() models.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop waits for the workers to exit. Cancel the Start context first.
func (s *DownloaderService) Stop() error {
	s.wg.Wait()
	s.log.Info("Downloader service stopped successfully")
	return nil
}

// DownloadDir returns the absolute download directory.
func (s *DownloaderService) DownloadDir() string {
	abs, err := filepath.Abs(s.config.DownloadDir)
	if err != nil {
		return s.config.DownloadDir
	}
	return abs
}
