// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package classify decides whether a destination address and optional
// SNI belong to the protected target service: IP-prefix, IP-range, and
// SNI-substring matching backed by a refreshable prefix set.
package classify

import (
	"net"
	"strings"
	"sync"
)

// IPRange is a closed inclusive IPv4 range [Low, High], both stored as
// 32-bit big-endian integers.
type IPRange struct {
	Low, High uint32
}

// DefaultSNIPatterns are the seven brand substrings shipped by default.
var DefaultSNIPatterns = []string{
	"telegram",
	"teleg",
	"tg.dev",
	"t.me",
	"telegra.ph",
	"tdesktop.com",
	"mtproto",
}

// DefaultIPRanges are the three official data-center ranges shipped by
// default.
var DefaultIPRanges = []IPRange{
	{Low: mustIP4("149.154.160.0"), High: mustIP4("149.154.175.255")},
	{Low: mustIP4("91.108.4.0"), High: mustIP4("91.108.19.255")},
	{Low: mustIP4("185.76.151.0"), High: mustIP4("185.76.151.255")},
}

// DefaultIPPrefixes are the built-in data-center, CDN, and proxy prefixes
// shipped by default.
var DefaultIPPrefixes = []string{
	"149.154.",
	"91.108.",
	"95.161.",
	"45.12.133.",
	"185.215.247.",
	"149.154.167.220",
}

// Classifier holds the target identity set (P, R, S) and decides "is
// target" for a (destination address, optional SNI) pair. P is
// refreshed once before the intercept loop starts; R and S are
// immutable after construction. No synchronization is required beyond
// protecting P's single refresh swap.
type Classifier struct {
	mu       sync.RWMutex
	prefixes []string  // P, string-prefix matched against the destination
	ranges   []IPRange // R
	patterns []string  // S, already lowercased
}

// New builds a Classifier seeded with the built-in defaults.
func New() *Classifier {
	patterns := make([]string, len(DefaultSNIPatterns))
	for i, p := range DefaultSNIPatterns {
		patterns[i] = strings.ToLower(p)
	}
	return &Classifier{
		prefixes: append([]string(nil), DefaultIPPrefixes...),
		ranges:   append([]IPRange(nil), DefaultIPRanges...),
		patterns: patterns,
	}
}

// IsTarget checks SNI substring match, then IP range, then IP prefix.
// Deterministic and side-effect free.
func (c *Classifier) IsTarget(destIP string, sni string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if sni != "" {
		lower := strings.ToLower(sni)
		for _, p := range c.patterns {
			if strings.Contains(lower, p) {
				return true
			}
		}
	}

	if ip, ok := ip4ToUint32(destIP); ok {
		for _, r := range c.ranges {
			if ip >= r.Low && ip <= r.High {
				return true
			}
		}
	}

	for _, prefix := range c.prefixes {
		if strings.HasPrefix(destIP, prefix) {
			return true
		}
	}

	return false
}

// Refresh replaces P with the union of the current prefixes and the
// first-two-octet prefix of every address in learned. A successful
// refresh union never drops an existing prefix; an empty learned list
// leaves P untouched.
func (c *Classifier) Refresh(learned []string) {
	if len(learned) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(c.prefixes))
	merged := make([]string, 0, len(c.prefixes)+len(learned))
	for _, p := range c.prefixes {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}

	for _, addr := range learned {
		prefix := firstTwoOctets(addr)
		if prefix == "" {
			continue
		}
		if _, ok := seen[prefix]; !ok {
			seen[prefix] = struct{}{}
			merged = append(merged, prefix)
		}
	}

	c.prefixes = merged
}

// Prefixes returns a snapshot of the current prefix set P.
func (c *Classifier) Prefixes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.prefixes...)
}

// firstTwoOctets extracts the "A.B." prefix from a dotted-quad address,
// ignoring any CIDR suffix. Returns "" if addr doesn't parse as IPv4.
func firstTwoOctets(addr string) string {
	addr, _, _ = strings.Cut(addr, "/")
	if _, ok := ip4ToUint32(addr); !ok {
		return ""
	}
	parts := strings.Split(addr, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "." + parts[1] + "."
}

// ip4ToUint32 converts a dotted-quad IPv4 address to a big-endian
// 32-bit integer. Returns ok=false for anything that doesn't parse.
func ip4ToUint32(addr string) (uint32, bool) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0, false
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, false
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3]), true
}

func mustIP4(addr string) uint32 {
	v, ok := ip4ToUint32(addr)
	if !ok {
		panic("classify: invalid built-in IPv4 literal: " + addr)
	}
	return v
}
