package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// Fingerprint reduces a client's forwarded address and user agent to a short hash.
// remoteAddr is used when no X-Forwarded-For value is present.
func Fingerprint(forwardedFor, remoteAddr, userAgent string) string {
	ip := firstForwarded(forwardedFor)
	if ip == "" {
		ip = hostOnly(remoteAddr)
	}
	if ip == "" {
		ip = "unknown"
	}
	return hashKey(ip, strings.TrimSpace(userAgent))
}

// hashKey returns the hex of the first 16 bytes of SHA-256 over the joined parts.
func hashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

func firstForwarded(v string) string {
	if v == "" {
		return ""
	}
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
