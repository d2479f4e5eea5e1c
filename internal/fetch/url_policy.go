package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"
)

// reservedPrefixes are special-purpose blocks that netip's predicates do not cover.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),       // "this" network
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),    // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),    // TEST-NET-1
	netip.MustParsePrefix("198.18.0.0/15"),   // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"), // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),  // TEST-NET-3
	netip.MustParsePrefix("240.0.0.0/4"),     // reserved, includes broadcast
	netip.MustParsePrefix("::/96"),           // deprecated IPv4-compatible
	netip.MustParsePrefix("100::/64"),        // discard-only
	netip.MustParsePrefix("2001::/23"),       // IETF protocol assignments
	netip.MustParsePrefix("2001:db8::/32"),   // documentation
	netip.MustParsePrefix("5f00::/16"),       // SRv6 SIDs
}

var (
	nat64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	// globalUnicast is the only IPv6 block IANA allocates for public unicast; everything else is reserved.
	globalUnicast = netip.MustParsePrefix("2000::/3")
)

// Verdict is the outcome of a host safety check. Reason is for logs only.
type Verdict struct {
	Host   string
	Unsafe bool
	Addrs  []netip.Addr
	Reason string
	Err    error
}

// Guard resolves hostnames and decides whether outbound requests to them are allowed.
type Guard struct {
	resolver Resolver
	timeout  time.Duration
	log      zerolog.Logger
}

// NewGuard returns a Guard using resolver. A zero timeout means the caller's context alone bounds lookups.
func NewGuard(resolver Resolver, timeout time.Duration, log zerolog.Logger) *Guard {
	if resolver == nil {
		resolver = SystemResolver{}
	}
	return &Guard{resolver: resolver, timeout: timeout, log: log}
}

// IsUnsafe reports whether host must not be contacted. Any failure counts as unsafe.
func (g *Guard) IsUnsafe(ctx context.Context, host string) bool {
	return g.Check(ctx, host).Unsafe
}

// Check resolves host and classifies every address it resolves to.
func (g *Guard) Check(ctx context.Context, host string) Verdict {
	if host == "" {
		return Verdict{Unsafe: true, Reason: "empty host", Err: errors.New("empty host")}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	raw, err := g.resolver.LookupHost(ctx, host)
	if err != nil {
		verdict := Verdict{Host: host, Unsafe: true, Reason: "resolution failed", Err: err}
		g.log.Debug().Str("host", host).Err(err).Msg("host resolution failed")
		return verdict
	}

	verdict := classifyAll(host, raw)
	g.log.Debug().
		Str("host", host).
		Strs("resolved", raw).
		Bool("unsafe", verdict.Unsafe).
		Str("reason", verdict.Reason).
		Msg("host checked")
	return verdict
}

// classifyAll reduces over every resolved address. Unparseable entries are skipped but never
// count as confirmed, so a host with nothing confirmed stays unsafe.
func classifyAll(host string, raw []string) Verdict {
	verdict := Verdict{Host: host}
	var blocked []string
	for _, entry := range raw {
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			continue
		}
		if reason := blockedReason(addr); reason != "" {
			blocked = append(blocked, fmt.Sprintf("%s (%s)", addr, reason))
			continue
		}
		verdict.Addrs = append(verdict.Addrs, addr.Unmap().WithZone(""))
	}

	switch {
	case len(blocked) > 0:
		verdict.Unsafe = true
		verdict.Reason = fmt.Sprintf("blocked address %v", blocked)
		verdict.Addrs = nil
	case len(verdict.Addrs) == 0:
		verdict.Unsafe = true
		verdict.Reason = "no public address"
	default:
		verdict.Reason = "all addresses public"
	}
	return verdict
}

// IsBlockedAddr reports whether addr is private, loopback, link-local or otherwise reserved.
func IsBlockedAddr(addr netip.Addr) bool {
	return blockedReason(addr) != ""
}

func blockedReason(addr netip.Addr) string {
	if !addr.IsValid() {
		return "invalid"
	}
	addr = addr.Unmap()
	if addr.Is6() && nat64Prefix.Contains(addr.WithZone("")) {
		b := addr.As16()
		return blockedReason(netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}))
	}

	switch {
	case addr.IsLoopback():
		return "loopback"
	case addr.IsPrivate():
		return "private"
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return "link-local"
	case addr.IsUnspecified():
		return "unspecified"
	case addr.IsInterfaceLocalMulticast(), addr.IsMulticast():
		return "multicast"
	}
	plain := addr.WithZone("")
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(plain) {
			return "reserved"
		}
	}
	if plain.Is6() && !globalUnicast.Contains(plain) {
		return "reserved"
	}
	return ""
}
