// Package target validates the host a run is pointed at.
//
// A target is either a literal IP address or a hostname. Hostnames are
// checked for syntax only; resolution is left to the scanners.
package target

import (
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

const (
	maxHostnameLen = 253
	maxLabelLen    = 63
)

// Target is a validated scan target.
type Target struct {
	raw  string
	addr netip.Addr
	ip   bool
}

// Parse validates raw and returns the Target it names.
// It fails with *InvalidTargetError on empty input, malformed addresses
// and hostnames that are not syntactically valid.
func Parse(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, &InvalidTargetError{Input: raw, Reason: "empty target"}
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		if addr.Zone() != "" {
			return Target{}, &InvalidTargetError{Input: raw, Reason: "IPv6 zones are not supported"}
		}
		// IPv4-mapped IPv6 is scanned and addressed as the plain IPv4.
		addr = addr.Unmap()
		return Target{raw: addr.String(), addr: addr, ip: true}, nil
	}

	// Colons only appear in addresses; if it did not parse it is malformed.
	if strings.Contains(s, ":") {
		return Target{}, &InvalidTargetError{Input: raw, Reason: "not an IP address or hostname"}
	}
	if looksNumeric(s) {
		return Target{}, &InvalidTargetError{Input: raw, Reason: "malformed IPv4 address"}
	}

	host, reason := checkHostname(strings.TrimSuffix(s, "."))
	if reason != "" {
		return Target{}, &InvalidTargetError{Input: raw, Reason: reason}
	}
	return Target{raw: host}, nil
}

// MustParse is Parse for tests and constants; it panics on error.
func MustParse(raw string) Target {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the canonical form passed to the scanners.
func (t Target) String() string { return t.raw }

// IsIP reports whether the target is a literal address.
func (t Target) IsIP() bool { return t.ip }

// IsIPv6 reports whether the target is a literal IPv6 address.
func (t Target) IsIPv6() bool { return t.ip && t.addr.Is6() }

// IsZero reports whether t is the zero Target.
func (t Target) IsZero() bool { return t.raw == "" }

// URLHost returns the host part for a URL, bracketing IPv6 literals.
func (t Target) URLHost() string {
	if t.IsIPv6() {
		return "[" + t.raw + "]"
	}
	return t.raw
}

// FileSafe returns the target rendered for use in report file names.
func (t Target) FileSafe() string {
	return strings.NewReplacer(":", "_", "%", "_", "/", "_").Replace(t.raw)
}

// looksNumeric reports whether s is made only of digits and dots,
// which makes it an attempted dotted-decimal address rather than a name.
func looksNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// checkHostname returns the lower-case ASCII form of host, or a non-empty
// reason when host is not a valid name.
func checkHostname(host string) (string, string) {
	if host == "" {
		return "", "empty hostname"
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", "invalid hostname: " + err.Error()
	}
	ascii = strings.ToLower(ascii)
	if len(ascii) > maxHostnameLen {
		return "", "hostname too long"
	}
	for _, label := range strings.Split(ascii, ".") {
		switch {
		case label == "":
			return "", "empty label in hostname"
		case len(label) > maxLabelLen:
			return "", "hostname label too long"
		case label[0] == '-' || label[len(label)-1] == '-':
			return "", "hostname label starts or ends with a hyphen"
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
				return "", "invalid character in hostname"
			}
		}
	}
	return ascii, ""
}
