package ssrf

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/olegrjumin/stackprobe/internal/apperr"
)

// blockedPrefixes lists every network a fetch must never reach
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),      // current network
	netip.MustParsePrefix("127.0.0.0/8"),    // loopback
	netip.MustParsePrefix("10.0.0.0/8"),     // private
	netip.MustParsePrefix("172.16.0.0/12"),  // private
	netip.MustParsePrefix("192.168.0.0/16"), // private
	netip.MustParsePrefix("169.254.0.0/16"), // link-local
	netip.MustParsePrefix("100.64.0.0/10"),  // carrier-grade NAT
	netip.MustParsePrefix("::1/128"),        // loopback
	netip.MustParsePrefix("::/128"),         // unspecified
	netip.MustParsePrefix("fc00::/7"),       // unique local
	netip.MustParsePrefix("fe80::/10"),      // link-local
}

// blockedSuffixes are zones that usually resolve to internal networks
var blockedSuffixes = []string{".localhost", ".local", ".internal", ".lan"}

// IsBlockedAddress reports whether ip falls in a blocked range.
// Anything that does not parse as an IP address is blocked.
func IsBlockedAddress(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return true
	}
	return isBlocked(addr)
}

func isBlocked(addr netip.Addr) bool {
	// IPv4-mapped IPv6 is judged by the embedded IPv4 address
	addr = addr.WithZone("").Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolver looks up the addresses of a hostname
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard rejects hosts that point at internal or reserved networks
type Guard struct {
	resolver Resolver
}

// NewGuard creates a Guard. A nil resolver uses the system resolver.
func NewGuard(resolver Resolver) *Guard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guard{resolver: resolver}
}

// AssertPublicHost validates host and returns the addresses it resolves to.
// Every resolved address must be public; one private record rejects the host.
func (g *Guard) AssertPublicHost(ctx context.Context, host string) ([]string, error) {
	h := normalizeHost(host)
	if h == "" {
		return nil, blockedHost()
	}

	// IP literals skip DNS entirely
	if addr, err := netip.ParseAddr(h); err == nil {
		if isBlocked(addr) {
			return nil, blockedIP()
		}
		return []string{addr.String()}, nil
	}

	if !isASCII(h) {
		ascii, err := idna.Lookup.ToASCII(h)
		if err != nil || ascii == "" {
			return nil, blockedHost()
		}
		h = ascii
	}

	if isBlockedName(h) {
		return nil, blockedHost()
	}

	records, err := g.resolver.LookupIPAddr(ctx, h)
	if err != nil {
		return nil, apperr.New(apperr.CodeSSRFDNSFail, "Could not resolve hostname", http.StatusBadRequest, true, err)
	}
	if len(records) == 0 {
		return nil, apperr.BadRequest(apperr.CodeSSRFDNSEmpty, "Could not resolve hostname")
	}

	ips := make([]string, 0, len(records))
	for _, r := range records {
		addr, ok := netip.AddrFromSlice(r.IP)
		if !ok || isBlocked(addr) {
			return nil, blockedIP()
		}
		ips = append(ips, addr.Unmap().String())
	}
	return ips, nil
}

// CheckAddress rejects a single dialed address. It closes the gap between the
// DNS answer seen by AssertPublicHost and the one used by the dialer.
func (g *Guard) CheckAddress(ip string) error {
	if IsBlockedAddress(ip) {
		return blockedIP()
	}
	return nil
}

// normalizeHost lower-cases host and strips IPv6 brackets and a trailing dot
func normalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimPrefix(h, "[")
	h = strings.TrimSuffix(h, "]")
	return strings.TrimSuffix(h, ".")
}

func isBlockedName(h string) bool {
	if h == "localhost" {
		return true
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(h, suffix) {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func blockedHost() error {
	return apperr.BadRequest(apperr.CodeSSRFBlockedHost, "Blocked host")
}

func blockedIP() error {
	return apperr.BadRequest(apperr.CodeSSRFBlockedIP, "Blocked host")
}
