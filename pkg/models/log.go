package models

// Download statuses
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// ProgressInfo represents the progress of a download
type ProgressInfo struct {
	BytesWritten int64 `json:"bytes_written"`
	TotalBytes   int64 `json:"total_bytes,omitempty"`
}

// DownloadLog represents a log message from the downloader
type DownloadLog struct {
	TaskID   string        `json:"task_id"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Title    string        `json:"title"`
	VideoID  string        `json:"video_id"`
	Path     string        `json:"path,omitempty"`
	Progress *ProgressInfo `json:"progress,omitempty"`
}

// Stats represents the totals of the downloader since it started
type Stats struct {
	Queued          int `json:"queued"`
	VideoDownloaded int `json:"video_downloaded"`
	Failed          int `json:"failed"`
}
