// Package source resolves training data locations to local files. Plain
// paths are used in place; http(s) and ftp URLs are downloaded to a
// temporary file with retries.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/emissionwatch/internal/metrics"
)

const DefaultTimeout = 30 * time.Second

var ErrUnsupportedScheme = errors.New("source: unsupported scheme")

type Fetcher struct {
	client     *http.Client
	ftpTimeout time.Duration
	newBackOff func() backoff.BackOff
}

// New returns a Fetcher with standard timeouts and exponential backoff.
func New() *Fetcher {
	return &Fetcher{
		client:     &http.Client{Timeout: DefaultTimeout},
		ftpTimeout: DefaultTimeout,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

// Fetch returns a local path for location. For remote locations the file is
// a temporary copy removed by cleanup; for local paths cleanup does nothing.
func (f *Fetcher) Fetch(ctx context.Context, location string) (string, func(), error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		return location, func() {}, nil
	}

	scheme := strings.ToLower(u.Scheme)
	var fetch func(context.Context, *url.URL, io.Writer) error
	switch scheme {
	case "file":
		return u.Path, func() {}, nil
	case "http", "https":
		fetch = f.fetchHTTP
	case "ftp":
		fetch = f.fetchFTP
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	tmp, err := os.CreateTemp("", "emissionwatch-train-*.csv")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	operation := func() error {
		if err := resetFile(tmp); err != nil {
			return backoff.Permanent(err)
		}
		return fetch(ctx, u, tmp)
	}
	err = backoff.Retry(operation, backoff.WithContext(f.newBackOff(), ctx))
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		cleanup()
		metrics.SourceFetchesTotal.WithLabelValues(scheme, "error").Inc()
		return "", nil, err
	}

	metrics.SourceFetchesTotal.WithLabelValues(scheme, "ok").Inc()
	log.Printf("source: fetched %s to %s", u.Redacted(), tmp.Name())
	return tmp.Name(), cleanup, nil
}

func resetFile(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate temp file: %w", err)
	}
	return nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, u *url.URL, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("fetch %s: status %d", u.Redacted(), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", u.Redacted(), resp.StatusCode, strings.TrimSpace(string(b))))
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return nil
}

func (f *Fetcher) fetchFTP(ctx context.Context, u *url.URL, w io.Writer) error {
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.ftpTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return backoff.Permanent(fmt.Errorf("ftp login: %w", err))
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("ftp retr %s: %w", u.Path, err))
	}
	defer resp.Close()

	if _, err := io.Copy(w, resp); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return nil
}
