package models

import "time"

// Routing keys on the exchange
const (
	TaskRoutingKey = "downloader.task"
	LogRoutingKey  = "downloader.log"
)

// DownloadTask is the command sent from the web panel to the downloader
type DownloadTask struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"video_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
