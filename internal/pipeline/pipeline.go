// Package pipeline runs one gethtml invocation: normalize, check the host, fetch, select a reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qbandev/gethtml/internal/config"
	"github.com/qbandev/gethtml/internal/fetch"
	"github.com/qbandev/gethtml/internal/output"
)

// User-facing messages shared by every front-end.
const (
	MsgUsage      = "Usage: /gethtml <url>"
	MsgInvalidURL = "Invalid URL."
	MsgForbidden  = "Forbidden: host is on a private/loopback network."
	msgFailedFmt  = "Failed to fetch content: %s"
)

// HostChecker decides whether a host may be contacted.
type HostChecker interface {
	Check(ctx context.Context, host string) fetch.Verdict
}

// Downloader performs the bounded fetch.
type Downloader interface {
	Fetch(ctx context.Context, target fetch.Target, maxBytes int) (*fetch.Result, error)
}

type Pipeline struct {
	checker  HostChecker
	fetcher  Downloader
	selector output.Selector
	maxBytes int
	log      zerolog.Logger
}

func New(checker HostChecker, fetcher Downloader, selector output.Selector, maxBytes int, log zerolog.Logger) *Pipeline {
	if maxBytes <= 0 {
		maxBytes = fetch.DefaultMaxDownloadBytes
	}
	return &Pipeline{checker: checker, fetcher: fetcher, selector: selector, maxBytes: maxBytes, log: log}
}

// NewGuard builds the host validator described by cfg.Resolver.
func NewGuard(cfg config.Config, log zerolog.Logger) (*fetch.Guard, error) {
	var resolver fetch.Resolver = fetch.SystemResolver{Resolver: &net.Resolver{PreferGo: true}}
	if len(cfg.Resolver.Servers) > 0 {
		dnsResolver, err := fetch.NewDNSResolver(cfg.Resolver.Servers, cfg.Resolver.Timeout)
		if err != nil {
			return nil, fmt.Errorf("creating resolver: %w", err)
		}
		resolver = dnsResolver
	}
	return fetch.NewGuard(resolver, cfg.Resolver.Timeout, log.With().Str("component", "guard").Logger()), nil
}

// NewFromConfig wires the guard, fetcher and selector from cfg.
func NewFromConfig(cfg config.Config, log zerolog.Logger) (*Pipeline, error) {
	guard, err := NewGuard(cfg, log)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.NewFetcher(fetch.Options{
		Timeout:      cfg.Fetch.Timeout,
		ChunkSize:    cfg.Fetch.ChunkSize,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		PinAddresses: cfg.Fetch.PinAddresses,
		BrowserTLS:   cfg.Fetch.BrowserTLS,
	}, guard, fetch.WithLogger(log.With().Str("component", "fetcher").Logger()))

	return New(guard, fetcher, output.NewSelector(cfg.Fetch.MaxInlineChars), cfg.Fetch.MaxDownloadBytes, log), nil
}

// Run normalizes raw and processes it.
func (p *Pipeline) Run(ctx context.Context, raw string) (*output.Reply, error) {
	target, err := fetch.Normalize(raw)
	if err != nil {
		return nil, err
	}
	return p.RunTarget(ctx, target)
}

// RunTarget processes an already normalized target. An unsafe host stops before any connection is made.
func (p *Pipeline) RunTarget(ctx context.Context, target fetch.Target) (*output.Reply, error) {
	log := p.log.With().Str("request_id", uuid.NewString()).Str("url", target.URL).Logger()
	start := time.Now()

	verdict := p.checker.Check(ctx, target.Host)
	if verdict.Unsafe {
		log.Warn().Str("host", target.Host).Str("reason", verdict.Reason).Err(verdict.Err).Msg("blocked unsafe host")
		return nil, fmt.Errorf("%s: %w", target.Host, fetch.ErrUnsafeHost)
	}
	target.Addrs = verdict.Addrs

	result, err := p.fetcher.Fetch(ctx, target, p.maxBytes)
	if err != nil {
		if errors.Is(err, fetch.ErrUnsafeHost) {
			log.Warn().Err(err).Msg("blocked unsafe redirect")
		} else {
			log.Error().Err(err).Msg("fetch failed")
		}
		return nil, err
	}

	reply := p.selector.Select(result.Body, output.Meta{
		Host:      target.Host,
		Status:    result.Status,
		Truncated: result.Truncated,
	})
	log.Info().
		Int("status", result.Status).
		Int("bytes", len(result.Body)).
		Bool("truncated", result.Truncated).
		Str("mode", string(reply.Mode)).
		Dur("elapsed", time.Since(start)).
		Msg("fetch complete")
	return &reply, nil
}

// UserMessage maps a pipeline error to the text shown to end users. Addresses and
// resolver details never leak through it.
func UserMessage(err error) string {
	var netErr *fetch.NetworkError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, fetch.ErrInvalidURL):
		return MsgInvalidURL
	case errors.Is(err, fetch.ErrUnsafeHost):
		return MsgForbidden
	case errors.As(err, &netErr):
		return fmt.Sprintf(msgFailedFmt, netErr.Cause())
	default:
		return fmt.Sprintf(msgFailedFmt, err)
	}
}

// ProgressMessage is sent once the target is normalized, before any network work.
func ProgressMessage(target fetch.Target) string {
	return "Fetching HTML from: " + target.URL
}

// Argument joins command arguments the way a chat command receives them.
func Argument(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
