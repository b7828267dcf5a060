// Package fetch retrieves the raw contest standings page.
//
// The scheduler treats a Source as an opaque unit of work; the HTTP
// implementation here is the default, tests substitute their own.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "dkwatch/pkg/logx"
)

// Source produces one raw standings payload per call.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type Config struct {
	// ContestURL is the standings page. If empty, ContestFile names a
	// text file whose first line holds the URL.
	ContestURL  string
	ContestFile string

	// AuthStatePath points at a browser storage-state JSON file whose
	// cookies are loaded into the client. Optional; fetches proceed
	// unauthenticated without it.
	AuthStatePath string

	Timeout   time.Duration // per-request; 0 uses a default
	UserAgent string
	// MinRequestGap rate-limits outgoing requests. 0 disables.
	MinRequestGap time.Duration
}

const (
	defaultTimeout   = 45 * time.Second
	defaultUserAgent = "dkwatch/1.0"
	maxBodyBytes     = 16 << 20
)

var ErrNoContestURL = errors.New("fetch: contest url is not configured")

// HTTPSource fetches standings over HTTP with the configured cookies.
type HTTPSource struct {
	url     string
	ua      string
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*HTTPSource, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	url, err := resolveContestURL(cfg)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: cookie jar: %w", err)
	}
	if path := strings.TrimSpace(cfg.AuthStatePath); path != "" {
		n, err := loadAuthState(path, jar)
		if err != nil {
			// Missing auth state is survivable; the fetch degrades to an
			// unauthenticated request and the parser reports what it sees.
			log.Warn("auth state unavailable; fetching unauthenticated",
				logx.String("path", path), logx.Err(err))
		} else {
			log.Info("auth state loaded", logx.String("path", path), logx.Int("cookies", n))
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}

	var limiter *rate.Limiter
	if cfg.MinRequestGap > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinRequestGap), 1)
	}

	return &HTTPSource{
		url:     url,
		ua:      ua,
		client:  &http.Client{Jar: jar, Timeout: timeout},
		limiter: limiter,
		log:     log,
	}, nil
}

// URL returns the resolved contest URL.
func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	return body, nil
}

// resolveContestURL picks the configured URL, falling back to the first
// line of the contest file (the layout the browser tooling writes).
func resolveContestURL(cfg Config) (string, error) {
	if url := strings.TrimSpace(cfg.ContestURL); url != "" {
		return url, nil
	}
	path := strings.TrimSpace(cfg.ContestFile)
	if path == "" {
		return "", ErrNoContestURL
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("fetch: contest file: %w", err)
	}
	line, _, _ := strings.Cut(string(b), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("fetch: contest file %q has no url on its first line", path)
	}
	return line, nil
}
