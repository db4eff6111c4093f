// Package collyfetcher implements book.Session using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// CookieScopes lists the URLs whose cookies are copied into cloned sessions.
	CookieScopes []string
}

// NotFoundDetector recognizes success responses that are really not-found pages.
type NotFoundDetector interface {
	IsNotFound(body []byte) bool
}

// Session implements book.Session on top of a Colly collector. Fetches on one
// Session share a cookie jar; Clone derives a Session with its own jar.
type Session struct {
	mu            sync.Mutex
	cfg           Config
	transport     http.RoundTripper
	detector      NotFoundDetector
	jar           *cookiejar.Jar
	scopes        []*url.URL
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	status int
	body   []byte
	err    error
}

// New builds a template Session.
func New(cfg Config, detector NotFoundDetector) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if len(cfg.CookieScopes) == 0 {
		cfg.CookieScopes = []string{book.BaseURL}
	}
	return newSession(cfg, newHTTPTransport(), detector)
}

func newSession(cfg Config, transport http.RoundTripper, detector NotFoundDetector) *Session {
	c := colly.NewCollector(colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(transport)

	// cookiejar.New only fails on a broken PublicSuffixList, and we pass none.
	jar, _ := cookiejar.New(nil)
	c.SetCookieJar(jar)

	scopes := make([]*url.URL, 0, len(cfg.CookieScopes))
	for _, raw := range cfg.CookieScopes {
		if u, err := url.Parse(raw); err == nil {
			scopes = append(scopes, u)
		}
	}

	return &Session{
		cfg:           cfg,
		transport:     transport,
		detector:      detector,
		jar:           jar,
		scopes:        scopes,
		baseCollector: c,
	}
}

// Clone derives an independent Session seeded with this session's cookies.
// The HTTP transport (connection pool) is shared; cookie state is not.
func (s *Session) Clone() book.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := newSession(s.cfg, s.transport, s.detector)
	for _, u := range s.scopes {
		if cookies := s.jar.Cookies(u); len(cookies) > 0 {
			clone.jar.SetCookies(u, cookies)
		}
	}
	return clone
}

// Fetch executes a single HTTP GET and classifies failures as book.ErrNotFound,
// book.ErrTimeout or book.ErrNetwork.
func (s *Session) Fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	collector := s.baseCollector.Clone()
	collector.SetRequestTimeout(timeout)

	result := &fetchResult{}
	s.configureCollectorHooks(collector, result)

	start := time.Now()
	err := s.runCollector(ctx, collector, rawURL, result)
	if err == nil && s.detector != nil && s.detector.IsNotFound(result.body) {
		err = fmt.Errorf("fetch %s: %w: soft 404 page", rawURL, book.ErrNotFound)
	}
	metrics.ObserveFetch(rawURL, outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return result.body, nil
}

func (s *Session) configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

func (s *Session) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, result *fetchResult) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if err == nil {
			err = result.err
		}
		if err != nil {
			return classify(rawURL, result.status, err)
		}
		return nil
	}
}

func classify(rawURL string, status int, err error) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("fetch %s: %w: status %d", rawURL, book.ErrNotFound, status)
	case isTimeout(err):
		return fmt.Errorf("fetch %s: %w: %v", rawURL, book.ErrTimeout, err)
	default:
		return fmt.Errorf("fetch %s: %w: %v", rawURL, book.ErrNetwork, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, book.ErrNotFound):
		return "not_found"
	case errors.Is(err, book.ErrTimeout):
		return "timeout"
	default:
		return "error"
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
