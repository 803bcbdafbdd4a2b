package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the struct that holds the configuration of the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Douyin     DouyinConfig     `mapstructure:"douyin"`
	RabbitMq   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	WebPanel   WebPanelConfig   `mapstructure:"webpanel"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel int    `mapstructure:"logLevel"`
	Env      string `mapstructure:"env"`
}

// DouyinConfig holds the origin constants. The header values are load-bearing:
// the origin rejects requests that do not look like its own mobile web client.
type DouyinConfig struct {
	UserAgent      string `mapstructure:"userAgent"`
	Accept         string `mapstructure:"accept"`
	AcceptLanguage string `mapstructure:"acceptLanguage"`
	AcceptEncoding string `mapstructure:"acceptEncoding"`
	Referer        string `mapstructure:"referer"`
	Origin         string `mapstructure:"origin"`
	// PageURL is the canonical share page template, %s is the video id.
	PageURL      string `mapstructure:"pageURL"`
	MaxPageBytes int64  `mapstructure:"maxPageBytes"`
}

type RabbitMQConfig struct {
	URL              string     `mapstructure:"url"`
	Exchange         string     `mapstructure:"exchange"`
	Queue            QueueNames `mapstructure:"queue"`
	ReconnectRetries int        `mapstructure:"reconnectRetries"`
	ReconnectTimeout int        `mapstructure:"reconnectTimeout"`
}

type DownloaderConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	TempDir     string `mapstructure:"tempDir"`
	DownloadDir string `mapstructure:"downloadDir"`
}

type WebPanelConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"requestTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type QueueNames struct {
	DownloaderQueue string `mapstructure:"downloaderQueue"`
	LogQueue        string `mapstructure:"logQueue"`
}

var (
	ErrInvalidPort        = errors.New("invalid port: must be between 1 and 65535")
	ErrInvalidPageURL     = errors.New("invalid douyin.pageURL: must contain exactly one %s")
	ErrInvalidConcurrency = errors.New("invalid downloader.concurrency: must be positive")
)

// Default returns the configuration used when no file or env overrides exist.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "douyin-downloader",
			LogLevel: 4, // logrus.InfoLevel
			Env:      "development",
		},
		Douyin: DouyinConfig{
			UserAgent:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) EdgiOS/121.0.2277.107 Version/17.0 Mobile/15E148 Safari/604.1",
			Accept:         "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
			Referer:        "https://www.douyin.com/",
			Origin:         "https://www.douyin.com",
			PageURL:        "https://www.iesdouyin.com/share/video/%s",
			MaxPageBytes:   10 * 1024 * 1024,
		},
		RabbitMq: RabbitMQConfig{
			Exchange: "douyin",
			Queue: QueueNames{
				DownloaderQueue: "douyin_download_tasks",
				LogQueue:        "douyin_download_log",
			},
			ReconnectRetries: 5,
			ReconnectTimeout: 2000,
		},
		Downloader: DownloaderConfig{
			Concurrency: 2,
			TempDir:     "temp",
			DownloadDir: "output",
		},
		WebPanel: WebPanelConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Load config from .env, config.json and the environment, in that order.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(".")
	if dir := os.Getenv("DYPROXY_CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}
	v.SetEnvPrefix("DYPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if envURL := os.Getenv("RABBITMQ_URL"); envURL != "" {
		config.RabbitMq.URL = envURL
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that are
// absent from config.json.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.logLevel", d.App.LogLevel)
	v.SetDefault("app.env", d.App.Env)

	v.SetDefault("douyin.userAgent", d.Douyin.UserAgent)
	v.SetDefault("douyin.accept", d.Douyin.Accept)
	v.SetDefault("douyin.acceptLanguage", d.Douyin.AcceptLanguage)
	v.SetDefault("douyin.acceptEncoding", d.Douyin.AcceptEncoding)
	v.SetDefault("douyin.referer", d.Douyin.Referer)
	v.SetDefault("douyin.origin", d.Douyin.Origin)
	v.SetDefault("douyin.pageURL", d.Douyin.PageURL)
	v.SetDefault("douyin.maxPageBytes", d.Douyin.MaxPageBytes)

	v.SetDefault("rabbitmq.url", d.RabbitMq.URL)
	v.SetDefault("rabbitmq.exchange", d.RabbitMq.Exchange)
	v.SetDefault("rabbitmq.queue.downloaderQueue", d.RabbitMq.Queue.DownloaderQueue)
	v.SetDefault("rabbitmq.queue.logQueue", d.RabbitMq.Queue.LogQueue)
	v.SetDefault("rabbitmq.reconnectRetries", d.RabbitMq.ReconnectRetries)
	v.SetDefault("rabbitmq.reconnectTimeout", d.RabbitMq.ReconnectTimeout)

	v.SetDefault("downloader.concurrency", d.Downloader.Concurrency)
	v.SetDefault("downloader.tempDir", d.Downloader.TempDir)
	v.SetDefault("downloader.downloadDir", d.Downloader.DownloadDir)

	v.SetDefault("webpanel.host", d.WebPanel.Host)
	v.SetDefault("webpanel.port", d.WebPanel.Port)
	v.SetDefault("webpanel.requestTimeout", d.WebPanel.RequestTimeout)
	v.SetDefault("webpanel.shutdownTimeout", d.WebPanel.ShutdownTimeout)
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	if c.WebPanel.Port < 1 || c.WebPanel.Port > 65535 {
		return ErrInvalidPort
	}
	if strings.Count(c.Douyin.PageURL, "%s") != 1 {
		return ErrInvalidPageURL
	}
	if c.Downloader.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	return nil
}

// Get config for app
func (c *Config) GetAppConfig() *AppConfig {
	return &c.App
}

// Get config for the origin platform
func (c *Config) GetDouyinConfig() *DouyinConfig {
	return &c.Douyin
}

// Get config for downloader
func (c *Config) GetDownloaderConfig() *DownloaderConfig {
	return &c.Downloader
}

// Get config for web panel
func (c *Config) GetWebPanelConfig() *WebPanelConfig {
	return &c.WebPanel
}

// Get config for RabbitMQ
func (c *Config) GetRabbitMQConfig() *RabbitMQConfig {
	return &c.RabbitMq
}
