package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxDownloadBytes = 200_000
	DefaultChunkSize        = 10 * 1024
	DefaultTimeout          = 25 * time.Second
	DefaultMaxRedirects     = 10
	DefaultUserAgent        = "gethtml/1.0 (+https://github.com/qbandev/gethtml)"
)

// Options controls a Fetcher. Zero values fall back to the package defaults.
type Options struct {
	Timeout      time.Duration
	ChunkSize    int
	UserAgent    string
	MaxRedirects int
	PinAddresses bool
	BrowserTLS   bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	return o
}

// Result is a bounded download. Body never exceeds the requested cap.
type Result struct {
	Body        []byte
	Status      int
	Truncated   bool
	FinalURL    string
	ContentType string
	Elapsed     time.Duration
}

// Fetcher performs size- and time-bounded GET requests.
type Fetcher struct {
	opts      Options
	guard     *Guard
	dial      DialContextFunc
	tlsConfig *tls.Config
	log       zerolog.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithDialContext replaces the network dialer used after address checks.
func WithDialContext(dial DialContextFunc) Option {
	return func(f *Fetcher) { f.dial = dial }
}

// WithTLSConfig sets the TLS configuration of the standard transport.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(f *Fetcher) { f.tlsConfig = cfg }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

// NewFetcher builds a Fetcher. With a nil guard connections are not address-checked.
func NewFetcher(opts Options, guard *Guard, options ...Option) *Fetcher {
	f := &Fetcher{
		opts:  opts.withDefaults(),
		guard: guard,
		log:   zerolog.Nop(),
	}
	dialer := &net.Dialer{Timeout: f.opts.Timeout, KeepAlive: -1}
	f.dial = dialer.DialContext
	for _, opt := range options {
		opt(f)
	}
	return f
}

// Fetch downloads target.URL, reading at most maxBytes of the body in ChunkSize steps.
func (f *Fetcher) Fetch(ctx context.Context, target Target, maxBytes int) (*Result, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}

	client, closeIdle := f.newClient(target)
	defer closeIdle()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		return nil, &NetworkError{Op: "build request", URL: target.URL, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	start := time.Now()
	resp, err := client.Do(req) // #nosec G704 -- dialer only reaches guard-approved addresses
	if err != nil {
		return nil, &NetworkError{Op: "GET", URL: target.URL, Err: unwrapURLError(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, truncated, err := readBounded(resp.Body, maxBytes, f.opts.ChunkSize)
	if err != nil {
		return nil, &NetworkError{Op: "read body", URL: target.URL, Err: err}
	}

	finalURL := target.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	result := &Result{
		Body:        body,
		Status:      resp.StatusCode,
		Truncated:   truncated,
		FinalURL:    finalURL,
		ContentType: resp.Header.Get("Content-Type"),
		Elapsed:     time.Since(start),
	}
	f.log.Debug().
		Str("url", target.URL).
		Str("final_url", finalURL).
		Int("status", result.Status).
		Int("bytes", len(body)).
		Bool("truncated", truncated).
		Dur("elapsed", result.Elapsed).
		Msg("fetched")
	return result, nil
}

// newClient builds a single-use client whose connections are pinned for target.
func (f *Fetcher) newClient(target Target) (*http.Client, func()) {
	dial := f.pinnedDialer(target)

	var transport http.RoundTripper
	var closeIdle func()
	if f.opts.BrowserTLS {
		bt := newBrowserTransport(dial)
		transport, closeIdle = bt, bt.CloseIdleConnections
	} else {
		tr := &http.Transport{
			Proxy:             nil,
			DialContext:       dial,
			TLSClientConfig:   f.tlsConfig.Clone(),
			ForceAttemptHTTP2: true,
			DisableKeepAlives: true,
		}
		transport, closeIdle = tr, tr.CloseIdleConnections
	}

	maxRedirects := f.opts.MaxRedirects
	client := &http.Client{
		Timeout:   f.opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
			}
			req.Header.Set("User-Agent", f.opts.UserAgent)
			return nil
		},
	}
	return client, closeIdle
}

// readBounded reads r in chunkSize steps and stops once maxBytes have been buffered.
// truncated is set whenever the cap was reached, even if the stream happened to end there.
func readBounded(r io.Reader, maxBytes, chunkSize int) ([]byte, bool, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, 0, min(maxBytes, 4*chunkSize))
	chunk := make([]byte, chunkSize)
	for {
		want := min(chunkSize, maxBytes-len(buf))
		n, err := r.Read(chunk[:want])
		buf = append(buf, chunk[:n]...)
		if len(buf) >= maxBytes {
			return buf, true, nil
		}
		if errors.Is(err, io.EOF) {
			return buf, false, nil
		}
		if err != nil {
			return nil, false, err
		}
	}
}

// unwrapURLError drops the *url.Error layer so causes read "dial tcp ...: refused" rather than
// repeating the method and URL.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) || urlErr.Err == nil {
		return err
	}
	if urlErr.Timeout() {
		return fmt.Errorf("timeout: %w", urlErr.Err)
	}
	return urlErr.Err
}
