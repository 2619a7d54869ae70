// Package collyfetcher implements task-scoped fetch sessions using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/melody-hunter/internal/crawler"
	"github.com/JakeFAU/melody-hunter/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// DefaultUserAgents is the pool a session picks its user agent from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

var browserHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
	"Accept-Encoding": "gzip",
	"Connection":      "keep-alive",
}

// Waiter throttles requests across sessions.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector and session behavior.
type Config struct {
	UserAgents []string
	Timeout    time.Duration
	// Limiter is optional and shared by every session.
	Limiter Waiter
	// Archive is optional; successful bodies are written under ArchivePrefix.
	Archive       crawler.BlobStore
	ArchivePrefix string
	Logger        *zap.Logger
}

// Factory opens fetch sessions from one base collector.
type Factory struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

var _ crawler.FetcherFactory = (*Factory)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Factory.
func New(cfg Config) *Factory {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
		colly.IgnoreRobotsTxt(),
	)
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Factory{cfg: cfg, baseCollector: c, logger: logger.Named("fetcher")}
}

// NewSession opens a session for one task execution. The user agent is
// picked once and kept for every request of the session.
func (f *Factory) NewSession(taskID string, delaySeconds int, log crawler.TaskLog) crawler.Fetcher {
	return &Session{
		taskID:        taskID,
		delaySeconds:  delaySeconds,
		log:           log,
		collector:     f.baseCollector.Clone(),
		userAgent:     f.cfg.UserAgents[rand.IntN(len(f.cfg.UserAgents))],
		limiter:       f.cfg.Limiter,
		archive:       f.cfg.Archive,
		archivePrefix: f.cfg.ArchivePrefix,
		logger:        f.logger.With(zap.String("task_id", taskID)),
		sleep:         sleepContext,
		uniform:       rand.Float64,
	}
}

// Session fetches URLs for one task. It is not safe for concurrent use.
type Session struct {
	taskID        string
	delaySeconds  int
	log           crawler.TaskLog
	collector     *colly.Collector
	userAgent     string
	limiter       Waiter
	archive       crawler.BlobStore
	archivePrefix string
	logger        *zap.Logger

	mu  sync.Mutex
	seq int

	sleep   func(ctx context.Context, d time.Duration) error
	uniform func() float64
}

// Fetch performs one GET after the politeness delay. Any transport error,
// timeout or non-2xx status is returned as *crawler.FetchError.
func (s *Session) Fetch(ctx context.Context, rawURL string, query url.Values) (crawler.FetchResponse, error) {
	target, err := withQuery(rawURL, query)
	if err != nil {
		return s.failed(ctx, &crawler.FetchError{URL: rawURL, Cause: err}, 0)
	}
	if err := s.throttle(ctx, target); err != nil {
		return s.failed(ctx, &crawler.FetchError{URL: target, Cause: err}, 0)
	}

	start := time.Now()
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := s.collector.Clone()
	s.configureCollectorHooks(collector, start, &result, &fetchErr)
	if status, err := s.runCollector(ctx, collector, target, &result, &fetchErr); err != nil {
		return s.failed(ctx, &crawler.FetchError{URL: target, StatusCode: status, Cause: err}, time.Since(start))
	}
	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		cause := errors.New(http.StatusText(result.StatusCode))
		return s.failed(ctx, &crawler.FetchError{URL: target, StatusCode: result.StatusCode, Cause: cause}, result.Duration)
	}

	metrics.ObserveFetch(target, true, len(result.Body), result.Duration)
	s.log.Log(ctx, crawler.LogLevelDebug, fmt.Sprintf("fetched %s (%d, %d bytes)", target, result.StatusCode, len(result.Body)))
	s.archiveBody(ctx, result)
	return result, nil
}

// DelayBounds returns the politeness delay range in seconds.
func DelayBounds(delaySeconds int) (lo, hi float64) {
	if delaySeconds < 1 {
		return float64(delaySeconds), float64(delaySeconds)
	}
	return 1, float64(delaySeconds)
}

func (s *Session) throttle(ctx context.Context, target string) error {
	lo, hi := DelayBounds(s.delaySeconds)
	seconds := lo + s.uniform()*(hi-lo)
	if seconds > 0 {
		delay := time.Duration(seconds * float64(time.Second))
		if err := s.sleep(ctx, delay); err != nil {
			return fmt.Errorf("politeness delay: %w", err)
		}
		metrics.ObserveRateLimitDelay(metrics.SanitizeSite(target), delay)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) failed(ctx context.Context, err *crawler.FetchError, elapsed time.Duration) (crawler.FetchResponse, error) {
	metrics.ObserveFetch(err.URL, false, 0, elapsed)
	s.log.Log(ctx, crawler.LogLevelError, fmt.Sprintf("fetch failed %s: %v", err.URL, err.Cause))
	return crawler.FetchResponse{}, err
}

func (s *Session) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", s.userAgent)
		for key, value := range browserHeaders {
			r.Headers.Set(key, value)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeaders(r.Headers),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

// runCollector waits for the visit or for ctx. On cancellation the visit
// goroutine may still write result, so neither result nor fetchErr is read
// and the status code is 0.
func (s *Session) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	target string,
	result *crawler.FetchResponse,
	fetchErr *error,
) (int, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return result.StatusCode, fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return result.StatusCode, fmt.Errorf("colly visit failed: %w", err)
		}
		return result.StatusCode, nil
	}
}

func (s *Session) archiveBody(ctx context.Context, resp crawler.FetchResponse) {
	if s.archive == nil {
		return
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	contentType := ""
	if values := resp.Headers["Content-Type"]; len(values) > 0 {
		contentType = values[0]
	}
	path := archivePath(s.archivePrefix, s.taskID, seq, contentType)
	uri, err := s.archive.PutObject(context.WithoutCancel(ctx), path, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		s.log.Log(ctx, crawler.LogLevelWarning, fmt.Sprintf("archive %s failed: %v", resp.URL, err))
		return
	}
	s.logger.Debug("archived response", zap.String("url", resp.URL), zap.String("uri", uri))
}

func archivePath(prefix, taskID string, seq int, contentType string) string {
	ext := "html"
	switch {
	case strings.Contains(contentType, "json"):
		ext = "json"
	case strings.Contains(contentType, "xml"):
		ext = "xml"
	case strings.HasPrefix(contentType, "text/plain"):
		ext = "txt"
	}
	path := fmt.Sprintf("tasks/%s/%06d.%s", taskID, seq, ext)
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		path = prefix + "/" + path
	}
	return path
}

func withQuery(rawURL string, query url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			merged[key] = append([]string(nil), values...)
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func cloneHeaders(h *http.Header) map[string][]string {
	if h == nil {
		return map[string][]string{}
	}
	return map[string][]string(h.Clone())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
