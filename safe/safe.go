// Package safe holds the input guards shared by the server and the capture
// CLI: secret length, capture-target URLs, output paths, identifiers and
// bounded reads.
package safe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
)

// MinSecretLen is the minimum length of an HMAC secret. 32 bytes = 256 bits.
const MinSecretLen = 32

// MaxResponseBody caps API response reads.
const MaxResponseBody int64 = 1 << 20

// MaxIDLen caps identifiers accepted by ValidateID.
const MaxIDLen = 128

var (
	ErrSecretTooShort   = fmt.Errorf("safe: secret must be at least %d bytes", MinSecretLen)
	ErrPathTraversal    = errors.New("safe: path escapes output directory")
	ErrPrivateTarget    = errors.New("safe: URL targets a private or loopback address")
	ErrUnsafeScheme     = errors.New("safe: only http and https schemes are allowed")
	ErrResponseTooLarge = errors.New("safe: response too large")
	ErrBadID            = errors.New("safe: invalid identifier")
)

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// OutputPath joins name onto dir and fails if the result leaves dir.
// Screenshot download names and job-supplied file names go through here.
func OutputPath(dir, name string) (string, error) {
	if name == "" || strings.Contains(name, "..") {
		return "", ErrPathTraversal
	}
	base := filepath.Clean(dir)
	p := filepath.Join(base, filepath.Clean("/"+name))
	if p == base || !strings.HasPrefix(p, base+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return p, nil
}

// ValidateTarget checks a page URL before a browser is pointed at it: the
// scheme must be http or https and, unless allowPrivate, the host must not
// resolve to a private or loopback address.
func ValidateTarget(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("safe: URL has no host")
	}
	if allowPrivate {
		return nil
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if isPrivate(ip) {
			return ErrPrivateTarget
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable hosts fail later at navigation.
		return nil
	}
	for _, a := range addrs {
		if ip, err := netip.ParseAddr(a); err == nil && isPrivate(ip) {
			return ErrPrivateTarget
		}
	}
	return nil
}

// ValidateID accepts identifiers usable as URL path segments and file
// names: ASCII letters, digits, underscore, hyphen and dot.
func ValidateID(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrBadID)
	case len(s) > MaxIDLen:
		return fmt.Errorf("%w: longer than %d", ErrBadID, MaxIDLen)
	case s == "." || s == "..":
		return fmt.Errorf("%w: %q", ErrBadID, s)
	}
	for _, r := range s {
		if !idChar(r) {
			return fmt.Errorf("%w: character %q", ErrBadID, r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}

func idChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
}

func isPrivate(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, p := range privateRanges {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
