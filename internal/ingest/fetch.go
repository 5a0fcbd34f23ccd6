package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/rainfallqc/internal/httputil"
	"github.com/lox/rainfallqc/internal/metrics"
)

var ErrUnsupportedScheme = errors.New("unsupported archive scheme")

// Fetcher retrieves the raw bytes of a gauge record or reference archive.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher downloads over HTTP(S), retrying rate limits and server
// errors with exponential backoff.
type HTTPFetcher struct {
	client *http.Client
	log    *slog.Logger

	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

func NewHTTPFetcher(logger *slog.Logger) *HTTPFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		client:          httputil.NewClient(),
		log:             logger,
		InitialInterval: backoff.DefaultInitialInterval,
		MaxElapsedTime:  2 * time.Minute,
	}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			h.log.Warn("fetch failed, retrying", "url", rawURL, "attempt", attempt, "error", err)
			return fmt.Errorf("fetch: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			h.log.Warn("fetch throttled, retrying", "url", rawURL, "attempt", attempt, "status", resp.StatusCode)
			return fmt.Errorf("fetch: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch: status %d: %s", resp.StatusCode, truncateBody(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = h.InitialInterval
	bo.MaxElapsedTime = h.MaxElapsedTime
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// FTPFetcher downloads from FTP servers such as national met-service
// archives. Logins default to anonymous unless the URL carries user info.
type FTPFetcher struct {
	Timeout time.Duration
}

func NewFTPFetcher() *FTPFetcher {
	return &FTPFetcher{Timeout: httputil.DefaultTimeout}
}

func (f *FTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	addr, path, user, pass, err := ftpTarget(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(user, pass); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func ftpTarget(rawURL string) (addr, path, user, pass string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", "", err
	}
	if u.Scheme != "ftp" {
		return "", "", "", "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	addr = u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "21")
	}
	user, pass = "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	return addr, u.Path, user, pass, nil
}

// SchemeFetcher routes a URL to the fetcher for its scheme. Plain paths and
// file:// URLs are read from disk.
type SchemeFetcher struct {
	HTTP Fetcher
	FTP  Fetcher
}

func NewSchemeFetcher(logger *slog.Logger) *SchemeFetcher {
	return &SchemeFetcher{HTTP: NewHTTPFetcher(logger), FTP: NewFTPFetcher()}
}

func (s *SchemeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "file"
	}

	start := time.Now()
	var body []byte
	switch scheme {
	case "http", "https":
		body, err = s.HTTP.Fetch(ctx, rawURL)
	case "ftp":
		body, err = s.FTP.Fetch(ctx, rawURL)
	case "file":
		path := u.Path
		if u.Scheme == "" {
			path = rawURL
		}
		body, err = os.ReadFile(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	metrics.FetchLatency.WithLabelValues(scheme).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.FetchTotal.WithLabelValues(scheme, "error").Inc()
		return nil, err
	}
	metrics.FetchTotal.WithLabelValues(scheme, "ok").Inc()
	return body, nil
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	return string(b[:maxErrorBody]) + "...(truncated)"
}
