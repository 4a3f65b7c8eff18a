package ssrf

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegrjumin/stackprobe/internal/apperr"
)

// fakeResolver returns canned answers and counts lookups
type fakeResolver struct {
	answers map[string][]string
	err     error
	calls   []string
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	f.calls = append(f.calls, host)
	if f.err != nil {
		return nil, f.err
	}
	var out []net.IPAddr
	for _, ip := range f.answers[host] {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestIsBlockedAddress(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"0.0.0.0", true},
		{"127.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.0", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"172.15.255.255", false},
		{"192.168.1.1", true},
		{"192.169.0.1", false},
		{"169.254.169.254", true},
		{"100.64.0.0", true},
		{"100.127.255.255", true},
		{"100.128.0.1", false},
		{"100.63.255.255", false},
		{"8.8.8.8", false},
		{"::1", true},
		{"::", true},
		{"fc00::1", true},
		{"fdff:ffff::1", true},
		{"fe80::1", true},
		{"febf::1", true},
		{"fec0::1", false},
		{"::ffff:127.0.0.1", true},
		{"::ffff:10.1.2.3", true},
		{"::ffff:8.8.8.8", false},
		{"2606:4700:4700::1111", false},
		{"not-an-ip", true},
		{"", true},
		{"256.1.1.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.blocked, IsBlockedAddress(tt.ip))
		})
	}
}

func TestAssertPublicHostRejectsInternalNamesWithoutDNS(t *testing.T) {
	for _, host := range []string{"localhost", "LOCALHOST", "api.localhost", "printer.local", "service.internal", "nas.lan", "localhost.", ""} {
		t.Run(host, func(t *testing.T) {
			resolver := &fakeResolver{}
			g := NewGuard(resolver)

			_, err := g.AssertPublicHost(context.Background(), host)
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.CodeSSRFBlockedHost))
			assert.Empty(t, resolver.calls)
		})
	}
}

func TestAssertPublicHostIPLiterals(t *testing.T) {
	resolver := &fakeResolver{}
	g := NewGuard(resolver)

	_, err := g.AssertPublicHost(context.Background(), "127.0.0.1")
	assert.True(t, apperr.HasCode(err, apperr.CodeSSRFBlockedIP))

	_, err = g.AssertPublicHost(context.Background(), "[::1]")
	assert.True(t, apperr.HasCode(err, apperr.CodeSSRFBlockedIP))

	ips, err := g.AssertPublicHost(context.Background(), "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, []string{"93.184.216.34"}, ips)
	assert.Empty(t, resolver.calls)
}

func TestAssertPublicHostMixedRecordsAreBlocked(t *testing.T) {
	resolver := &fakeResolver{answers: map[string][]string{
		"mixed.example.com": {"93.184.216.34", "10.0.0.5"},
	}}
	g := NewGuard(resolver)

	_, err := g.AssertPublicHost(context.Background(), "mixed.example.com")
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeSSRFBlockedIP))
}

func TestAssertPublicHostResolves(t *testing.T) {
	resolver := &fakeResolver{answers: map[string][]string{
		"example.com": {"93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"},
	}}
	g := NewGuard(resolver)

	ips, err := g.AssertPublicHost(context.Background(), "Example.COM")
	require.NoError(t, err)
	assert.Equal(t, []string{"93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"}, ips)
	assert.Equal(t, []string{"example.com"}, resolver.calls)
}

func TestAssertPublicHostDNSFailures(t *testing.T) {
	g := NewGuard(&fakeResolver{err: errors.New("no such host")})
	_, err := g.AssertPublicHost(context.Background(), "missing.example.com")
	assert.True(t, apperr.HasCode(err, apperr.CodeSSRFDNSFail))

	g = NewGuard(&fakeResolver{answers: map[string][]string{}})
	_, err = g.AssertPublicHost(context.Background(), "empty.example.com")
	assert.True(t, apperr.HasCode(err, apperr.CodeSSRFDNSEmpty))
}

func TestAssertPublicHostNormalisesIDN(t *testing.T) {
	resolver := &fakeResolver{answers: map[string][]string{
		"xn--mnchen-3ya.example": {"93.184.216.34"},
	}}
	g := NewGuard(resolver)

	_, err := g.AssertPublicHost(context.Background(), "münchen.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"xn--mnchen-3ya.example"}, resolver.calls)
}

func TestCheckAddress(t *testing.T) {
	g := NewGuard(nil)
	assert.NoError(t, g.CheckAddress("1.1.1.1"))
	assert.True(t, apperr.HasCode(g.CheckAddress("192.168.0.10"), apperr.CodeSSRFBlockedIP))
}
