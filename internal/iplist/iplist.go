// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package iplist implements the optional IP-list collaborator: an
// on-disk JSON-cached, TTL-bounded fetcher of authoritative
// target-service IPv4 addresses. Every failure mode (network, parse,
// unavailable) is swallowed; the classifier's built-in prefix set is the
// fallback.
package iplist

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"grimm.is/segsplit/internal/clock"
	"grimm.is/segsplit/internal/errors"
	"grimm.is/segsplit/internal/logging"
)

// DefaultCacheTTL is the cache lifetime used when the caller doesn't
// specify one.
const DefaultCacheTTL = 24 * time.Hour

// cacheFile is the on-disk JSON shape the cache is persisted as.
type cacheFile struct {
	IPs     []string `json:"ips"`
	Updated int64    `json:"updated"`
}

// Source is one upstream collaborator that can return a list of target
// IPv4 addresses. Refresher unions across however many Sources it's
// given.
type Source interface {
	Fetch(ctx context.Context) ([]string, error)
}

// HTTPSource fetches a JSON document from a URL and extracts an "ips"-ish
// field via Extract. It is the concrete Source used against a real
// endpoint; tests use a fake Source instead.
type HTTPSource struct {
	URL     string
	Client  *http.Client
	Extract func([]byte) ([]string, error)
}

func (h HTTPSource) Fetch(ctx context.Context) ([]string, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRefresh, "iplist: build request")
	}
	req.Header.Set("User-Agent", "segsplit/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindRefresh, "iplist: fetch failed")
	}
	defer resp.Body.Close()

	body := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, rerr := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if rerr != nil {
			break
		}
	}

	if h.Extract != nil {
		return h.Extract(body)
	}
	var raw cacheFile
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, errors.KindRefresh, "iplist: parse failed")
	}
	return raw.IPs, nil
}

// Refresher is the IP-list collaborator: cache-first, then a union of
// every configured Source, falling back to a stale cache (or an empty
// list) when both the cache and every source fail.
type Refresher struct {
	CachePath string
	TTL       time.Duration
	Sources   []Source
	Clock     clock.Clock

	log *logging.Logger
}

// NewRefresher builds a Refresher with DefaultCacheTTL if ttl is zero.
func NewRefresher(cachePath string, ttl time.Duration, sources ...Source) *Refresher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Refresher{
		CachePath: cachePath,
		TTL:       ttl,
		Sources:   sources,
		Clock:     clock.Default,
		log:       logging.WithComponent("iplist"),
	}
}

// Refresh returns the current authoritative IP list, never erroring:
// every failure is logged and swallowed, returning whatever is best
// available (fresh cache, stale cache, or an empty slice).
func (r *Refresher) Refresh(ctx context.Context) []string {
	if cached, fresh, ok := r.loadCache(); ok && fresh {
		return cached
	}

	learned, err := r.fetchAll(ctx)
	if err == nil && len(learned) > 0 {
		r.saveCache(learned)
		return learned
	}

	if cached, _, ok := r.loadCache(); ok {
		r.log.Warn("ip list refresh failed, using stale cache", "err", err)
		return cached
	}

	r.log.Warn("ip list refresh failed, no cache available", "err", err)
	return nil
}

// fetchAll unions the results of every Source, tolerating individual
// source failures.
func (r *Refresher) fetchAll(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var union []string
	var lastErr error

	for _, src := range r.Sources {
		ips, err := src.Fetch(ctx)
		if err != nil {
			lastErr = err
			r.log.Debug("ip list source failed", "err", err)
			continue
		}
		for _, ip := range ips {
			if _, ok := seen[ip]; !ok {
				seen[ip] = struct{}{}
				union = append(union, ip)
			}
		}
	}

	if len(union) == 0 && lastErr != nil {
		return nil, errors.Wrap(lastErr, errors.KindRefresh, "iplist: all sources failed")
	}
	return union, nil
}

func (r *Refresher) loadCache() (ips []string, fresh bool, ok bool) {
	if r.CachePath == "" {
		return nil, false, false
	}
	if r.Clock == nil {
		r.Clock = clock.Default
	}

	data, err := os.ReadFile(r.CachePath)
	if err != nil {
		return nil, false, false
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, false, false
	}

	age := r.Clock.Now().Sub(time.Unix(cf.Updated, 0))
	return cf.IPs, age <= r.TTL, true
}

func (r *Refresher) saveCache(ips []string) {
	if r.CachePath == "" {
		return
	}

	cf := cacheFile{IPs: ips, Updated: r.Clock.Now().Unix()}
	data, err := json.Marshal(cf)
	if err != nil {
		r.log.Warn("ip list cache marshal failed", "err", err)
		return
	}

	if err := os.WriteFile(r.CachePath, data, 0o644); err != nil {
		r.log.Warn("ip list cache write failed", "err", err)
	}
}
