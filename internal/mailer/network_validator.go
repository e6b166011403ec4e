package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

var (
	ErrBlockedDestination = errors.New("security violation: connection to private network blocked")
	ErrBlockedPort        = errors.New("non-standard SMTP port blocked")
)

// blockedPrefixes are ranges the stdlib predicates on netip.Addr do not cover.
var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",       // RFC 1122 "this network"
	"100.64.0.0/10",   // RFC 6598 CG-NAT
	"169.254.0.0/16",  // link-local, cloud metadata
	"192.0.0.0/24",    // RFC 6890
	"192.0.2.0/24",    // TEST-NET-1
	"198.18.0.0/15",   // RFC 2544 benchmarking
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"224.0.0.0/4",     // multicast
	"240.0.0.0/4",     // reserved, includes broadcast
	"fc00::/7",        // ULA
	"fe80::/10",
	"ff00::/8",
)

var allowedPorts = map[int]struct{}{25: {}, 465: {}, 587: {}, 2525: {}}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// ValidateSMTPHost blocks connections to loopback, private and otherwise
// non-routable addresses. Hostnames are resolved and every address must
// pass. Running it before each send narrows DNS rebinding but does not
// close it: the dialer resolves the name again after this check.
// Errors are generic so callers cannot probe the internal network.
func ValidateSMTPHost(ctx context.Context, host string) error {
	host = strings.Trim(strings.ToLower(strings.TrimSpace(host)), "[]")

	switch host {
	case "", "localhost", "ip6-localhost", "ip6-loopback":
		return fmt.Errorf("%w: localhost connections forbidden", ErrBlockedDestination)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return validatePublicIP(addr)
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("hostname resolution failed")
	}
	if len(addrs) == 0 {
		return fmt.Errorf("hostname resolves to no IP addresses")
	}

	for _, addr := range addrs {
		if err := validatePublicIP(addr); err != nil {
			return err
		}
	}
	return nil
}

func validatePublicIP(addr netip.Addr) error {
	addr = addr.Unmap()

	if addr.IsLoopback() || addr.IsUnspecified() {
		return fmt.Errorf("%w: localhost connections forbidden", ErrBlockedDestination)
	}
	if addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return ErrBlockedDestination
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return ErrBlockedDestination
		}
	}
	return nil
}

// ValidateSMTPPort restricts destinations to the standard submission ports.
func ValidateSMTPPort(port int) error {
	if _, ok := allowedPorts[port]; ok {
		return nil
	}
	return ErrBlockedPort
}

// EgressGuard validates host and port together. It satisfies HostGuard.
func EgressGuard(ctx context.Context, host string, port int) error {
	if err := ValidateSMTPPort(port); err != nil {
		return fmt.Errorf("invalid SMTP port: %w", err)
	}
	if err := ValidateSMTPHost(ctx, host); err != nil {
		return fmt.Errorf("invalid SMTP host: %w", err)
	}
	return nil
}
