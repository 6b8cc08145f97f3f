package grantsgov

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/mkoziy/grants/syncer/internal/ratelimit"
)

const (
	DefaultBaseURL = "https://prod-grants-gov-chatbot.s3.amazonaws.com/extracts"

	userAgent = "grantsync/1.0"
)

// Config controls how the extract is located and downloaded.
type Config struct {
	BaseURL          string           `yaml:"base_url" split_words:"true"`
	LookbackDays     int              `yaml:"lookback_days" split_words:"true"`
	HTTPTimeout      time.Duration    `yaml:"http_timeout" split_words:"true"`
	MaxDownloadBytes int64            `yaml:"max_download_bytes" split_words:"true"`
	RateLimit        ratelimit.Config `yaml:"rate_limit" split_words:"true"`
}

// DefaultConfig returns settings for the public grants.gov extract bucket.
func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		LookbackDays:     7,
		HTTPTimeout:      5 * time.Minute,
		MaxDownloadBytes: 512 << 20,
		RateLimit:        ratelimit.DefaultConfig(),
	}
}

// Validate rejects settings the client cannot work with.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("feed base url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("feed base url: %w", err)
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("lookback days must be at least 1, got %d", c.LookbackDays)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.MaxDownloadBytes <= 0 {
		return fmt.Errorf("max download bytes must be positive")
	}
	if !c.RateLimit.Strategy.Valid() {
		return fmt.Errorf("unknown rate limit strategy %q", c.RateLimit.Strategy)
	}
	return nil
}

// Client retrieves bulk extracts from the feed host.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a feed client. A nil limiter disables pacing.
func NewClient(cfg Config, limiter ratelimit.Limiter, logger *slog.Logger) *Client {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger.With("component", "grantsgov"),
		now:        time.Now,
	}
}

// ExtractFileName is the object name published for the given day.
func ExtractFileName(day time.Time) string {
	return "GrantsDBExtract" + day.Format("20060102") + "v2.zip"
}

var extractNamePattern = regexp.MustCompile(`GrantsDBExtract(\d{8})v2`)

// ParseExtractDate recovers the publication date from an extract file name.
func ParseExtractDate(name string) *time.Time {
	m := extractNamePattern.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	t, err := time.Parse("20060102", m[1])
	if err != nil {
		return nil
	}
	return &t
}

// Resolve returns the explicit source when one is given and otherwise
// locates the newest published extract.
func (c *Client) Resolve(ctx context.Context, sourceURL string) (SourceFile, error) {
	if sourceURL == "" {
		return c.Latest(ctx)
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return SourceFile{}, &FetchError{URL: sourceURL, Err: err}
	}
	name := path.Base(u.Path)
	return SourceFile{
		Name:          name,
		URL:           sourceURL,
		ExtractedDate: ParseExtractDate(name),
		Size:          -1,
	}, nil
}

// Latest walks back from today one day at a time until an extract answers a
// HEAD probe.
func (c *Client) Latest(ctx context.Context) (SourceFile, error) {
	today := c.now().UTC().Truncate(24 * time.Hour)
	var lastURL string
	for i := 0; i < c.cfg.LookbackDays; i++ {
		day := today.AddDate(0, 0, -i)
		name := ExtractFileName(day)
		u := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + name
		lastURL = u

		size, found, err := c.probe(ctx, u)
		if err != nil {
			return SourceFile{}, err
		}
		if !found {
			c.logger.Debug("extract not published", "file", name)
			continue
		}
		c.logger.Info("found extract", "file", name, "size", size)
		return SourceFile{Name: name, URL: u, ExtractedDate: &day, Size: size}, nil
	}
	return SourceFile{}, &FetchError{
		URL:        lastURL,
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("no extract published in the last %d days", c.cfg.LookbackDays),
	}
}

func (c *Client) probe(ctx context.Context, u string) (int64, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return 0, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false, &FetchError{URL: u, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.ContentLength, true, nil
	// S3 answers 403 for missing keys when listing is not permitted.
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return 0, false, nil
	default:
		return 0, false, &FetchError{URL: u, StatusCode: resp.StatusCode}
	}
}

// Download retrieves the whole source file into memory.
func (c *Client) Download(ctx context.Context, src SourceFile) (*Extract, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: src.URL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit))
		return nil, &FetchError{URL: src.URL, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxDownloadBytes+1))
	if err != nil {
		return nil, &FetchError{URL: src.URL, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(data)) > c.cfg.MaxDownloadBytes {
		return nil, &FetchError{URL: src.URL, Err: fmt.Errorf("extract exceeds %d bytes", c.cfg.MaxDownloadBytes)}
	}

	src.Size = int64(len(data))
	if src.ExtractedDate == nil {
		src.ExtractedDate = ParseExtractDate(src.Name)
	}
	c.logger.Info("downloaded extract", "file", src.Name, "bytes", src.Size, "elapsed", c.now().Sub(start).String())
	return &Extract{SourceFile: src, Data: data}, nil
}

// Fetch resolves and downloads in one step.
func (c *Client) Fetch(ctx context.Context, sourceURL string) (*Extract, error) {
	src, err := c.Resolve(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return c.Download(ctx, src)
}
