package douyin

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/logger"
	"github.com/sirupsen/logrus"
)

// ResolvedVideo is the outcome of a successful resolution.
type ResolvedVideo struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// Resolver turns a share link into a watermark-free media URL. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	cfg            *config.DouyinConfig
	client         *http.Client
	redirectClient *http.Client
	log            logrus.FieldLogger
}

type Option func(*Resolver)

// WithHTTPClient sets the client used for both hops.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.client = c
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Resolver) {
		r.log = log
	}
}

// NewResolver creates a resolver for the given origin settings.
func NewResolver(cfg *config.DouyinConfig, opts ...Option) *Resolver {
	r := &Resolver{
		cfg:    cfg,
		client: http.DefaultClient,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	noFollow := *r.client
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	r.redirectClient = &noFollow
	r.log = logger.Component(r.log, "resolver")

	return r
}

// ResolveShareText extracts the first link from text and resolves it.
func (r *Resolver) ResolveShareText(ctx context.Context, text string) (*ResolvedVideo, error) {
	link, err := ExtractLink(text)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, link)
}

// Resolve performs the redirect hop and the page fetch, then projects the
// embedded payload. Exactly two requests are made and none are retried.
func (r *Resolver) Resolve(ctx context.Context, shortLink string) (*ResolvedVideo, error) {
	log := r.log.WithField("short_link", shortLink)

	redirect, err := r.redirectTarget(ctx, shortLink)
	if err != nil {
		return nil, err
	}
	log = log.WithField("redirect", redirect)
	log.Debug("Short link redirected")

	videoID, err := ExtractVideoID(redirect)
	if err != nil {
		return nil, err
	}

	pageURL := fmt.Sprintf(r.cfg.PageURL, videoID)
	log = log.WithFields(logrus.Fields{"video_id": videoID, "page_url": pageURL})

	html, err := r.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	captured, err := findPayload(html)
	if err != nil {
		return nil, err
	}
	data, err := parsePayload(captured)
	if err != nil {
		return nil, err
	}

	it, err := data.firstItem()
	if err != nil {
		return nil, err
	}
	playURL, err := it.playURL()
	if err != nil {
		return nil, err
	}

	video := &ResolvedVideo{
		VideoID: videoID,
		Title:   Title(it.Desc, videoID),
		URL:     StripWatermark(playURL),
	}
	log.WithField("title", video.Title).Debug("Video resolved")

	return video, nil
}

func (r *Resolver) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = Headers(r.cfg)
	return req, nil
}

// redirectTarget requests the short link without following redirects and
// returns its Location header.
func (r *Resolver) redirectTarget(ctx context.Context, shortLink string) (string, error) {
	req, err := r.newRequest(ctx, shortLink)
	if err != nil {
		return "", networkError("building short link request", err)
	}

	resp, err := r.redirectClient.Do(req)
	if err != nil {
		return "", networkError("requesting short link", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("%w (status %d)", ErrNoRedirectTarget, resp.StatusCode)
	}
	return location, nil
}

// fetchPage downloads the canonical share page and decodes it to text.
func (r *Resolver) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := r.newRequest(ctx, pageURL)
	if err != nil {
		return "", networkError("building page request", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", networkError("requesting page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %w", ErrPageFetchFailed, &StatusError{StatusCode: resp.StatusCode})
	}

	body := io.Reader(resp.Body)
	if r.cfg.MaxPageBytes > 0 {
		// one byte over the limit tells a full page from a cut one
		body = io.LimitReader(resp.Body, r.cfg.MaxPageBytes+1)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", networkError("reading page", err)
	}
	if r.cfg.MaxPageBytes > 0 && int64(len(raw)) > r.cfg.MaxPageBytes {
		return "", fmt.Errorf("%w: page exceeds %d bytes", ErrPageFetchFailed, r.cfg.MaxPageBytes)
	}

	html, err := decodeBody(raw, resp)
	if err != nil {
		return "", fmt.Errorf("%w: decoding page body: %w", ErrPageFetchFailed, err)
	}
	return html, nil
}
