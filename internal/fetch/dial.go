package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// DialContextFunc matches net.Dialer.DialContext.
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// pinnedDialer only connects to addresses a Guard has confirmed. The target's own host reuses the
// verdict taken before the fetch started; any other host (a redirect) is checked at dial time.
func (f *Fetcher) pinnedDialer(target Target) DialContextFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if f.guard == nil {
			return f.dial(ctx, network, addr)
		}

		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		addrs, err := f.allowedAddrs(ctx, target, host)
		if err != nil {
			return nil, err
		}

		var lastErr error
		for _, ip := range addrs {
			conn, err := f.dial(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

func (f *Fetcher) allowedAddrs(ctx context.Context, target Target, host string) ([]netip.Addr, error) {
	if f.opts.PinAddresses && len(target.Addrs) > 0 && strings.EqualFold(host, target.Host) {
		return target.Addrs, nil
	}
	verdict := f.guard.Check(ctx, host)
	if verdict.Unsafe {
		return nil, fmt.Errorf("blocked connection to %s: %w", host, ErrUnsafeHost)
	}
	return verdict.Addrs, nil
}

// utlsConn exposes the ConnectionState shape net/http2 expects from a TLS conn.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// browserTransport speaks TLS with a Firefox ClientHello and routes to h1 or h2 by ALPN.
// Plain http requests go through the pinned h1 transport.
type browserTransport struct {
	dial DialContextFunc
	h1   *http.Transport
	h2   *http2.Transport

	mu    sync.Mutex
	conns []net.Conn
}

func newBrowserTransport(dial DialContextFunc) *browserTransport {
	return &browserTransport{
		dial: dial,
		h1: &http.Transport{
			DialContext:       dial,
			DisableKeepAlives: true,
		},
		h2: &http2.Transport{},
	}
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), "tcp", addr, req.URL.Hostname())
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		h2conn, err := bt.h2.NewClientConn(conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return h2conn.RoundTrip(req)
	}

	oneShot := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return conn, nil
		},
		DisableKeepAlives: true,
	}
	return oneShot.RoundTrip(req)
}

func (bt *browserTransport) dialUTLS(ctx context.Context, network, addr, serverName string) (net.Conn, string, error) {
	raw, err := bt.dial(ctx, network, addr)
	if err != nil {
		return nil, "", err
	}

	tlsConn := utls.UClient(raw, &utls.Config{ServerName: serverName}, utls.HelloFirefox_120)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, "", err
	}

	bt.mu.Lock()
	bt.conns = append(bt.conns, raw)
	bt.mu.Unlock()

	return &utlsConn{tlsConn}, tlsConn.ConnectionState().NegotiatedProtocol, nil
}

// CloseIdleConnections closes every connection this transport opened.
func (bt *browserTransport) CloseIdleConnections() {
	bt.mu.Lock()
	conns := bt.conns
	bt.conns = nil
	bt.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	bt.h1.CloseIdleConnections()
}
