// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics implements the Statistics record on top of a
// Prometheus registry: one prometheus.Counter per field, registered
// once at startup and exported for scraping.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically non-decreasing statistic. It wraps a
// prometheus.Counter so tests can read the current value back without a
// scrape, via Value().
type Counter struct {
	c prometheus.Counter
}

func newCounter(name, help string) Counter {
	return Counter{c: prometheus.NewCounter(prometheus.CounterOpts{
		Name: "segsplit_" + name,
		Help: help,
	})}
}

// Inc increments the counter by one.
func (c Counter) Inc() { c.c.Inc() }

// Value returns the counter's current value.
func (c Counter) Value() float64 {
	var m dto.Metric
	if err := c.c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// SizeBucket classifies a split payload by size into one of four
// buckets: small, medium, large, huge.
type SizeBucket int

const (
	BucketSmall SizeBucket = iota
	BucketMedium
	BucketLarge
	BucketHuge
)

func (b SizeBucket) String() string {
	switch b {
	case BucketSmall:
		return "small"
	case BucketMedium:
		return "medium"
	case BucketLarge:
		return "large"
	case BucketHuge:
		return "huge"
	default:
		return "unknown"
	}
}

// SplitterStats holds the splitter's own counters.
type SplitterStats struct {
	Fragmented Counter
	Passed     Counter
	Errors     Counter

	buckets map[SizeBucket]Counter
}

// SizeBucket returns the counter for the given bucket.
func (s *SplitterStats) SizeBucket(b SizeBucket) Counter {
	return s.buckets[b]
}

// Statistics is the run-long counter set owned by the intercept loop,
// covering both the loop's own fields and the splitter's.
type Statistics struct {
	Total          Counter
	TLSRecordsSeen Counter
	TargetFlagged  Counter
	Errors         Counter
	UDPSeen        Counter
	RSTBlocked     Counter

	Splitter SplitterStats

	registry *prometheus.Registry
}

// New constructs a Statistics record and registers every counter with a
// fresh Prometheus registry, returned alongside for /metrics exposition.
func New() (*Statistics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	s := &Statistics{
		Total:          newCounter("packets_total", "Total packets observed by the intercept loop."),
		TLSRecordsSeen: newCounter("tls_records_seen_total", "TCP payloads that passed the TLS record quick gate."),
		TargetFlagged:  newCounter("target_flagged_total", "Packets identified as belonging to the target service."),
		Errors:         newCounter("errors_total", "Per-packet errors handled without aborting the loop."),
		UDPSeen:        newCounter("udp_seen_total", "UDP datagrams observed (pass-through)."),
		RSTBlocked:     newCounter("rst_blocked_total", "Forged inbound RST segments dropped by the RST guard."),
		registry:       reg,
	}

	s.Splitter = SplitterStats{
		Fragmented: newCounter("splitter_fragmented_total", "Segments rewritten into two by the splitter."),
		Passed:     newCounter("splitter_passed_total", "Segments passed through unsplit."),
		Errors:     newCounter("splitter_errors_total", "Splitter failures that fell back to pass-through."),
		buckets:    make(map[SizeBucket]Counter, 4),
	}
	for _, b := range []SizeBucket{BucketSmall, BucketMedium, BucketLarge, BucketHuge} {
		s.Splitter.buckets[b] = newCounter("splitter_payload_"+b.String()+"_total", "Split payloads in the "+b.String()+" size bucket.")
	}

	for _, c := range []Counter{
		s.Total, s.TLSRecordsSeen, s.TargetFlagged, s.Errors, s.UDPSeen, s.RSTBlocked,
		s.Splitter.Fragmented, s.Splitter.Passed, s.Splitter.Errors,
	} {
		reg.MustRegister(c.c)
	}
	for _, b := range s.Splitter.buckets {
		reg.MustRegister(b.c)
	}

	return s, reg
}

// Registry returns the Prometheus registry counters were registered to.
func (s *Statistics) Registry() *prometheus.Registry { return s.registry }

// Snapshot is a point-in-time copy of every counter, used for the
// shutdown summary printed when the loop exits.
type Snapshot struct {
	Total, TLSRecordsSeen, TargetFlagged, Errors, UDPSeen, RSTBlocked float64
	Fragmented, Passed, SplitterErrors                                float64
	Small, Medium, Large, Huge                                        float64
}

// Snapshot reads every counter's current value without resetting it.
// Statistics has no reset operation; counters start from zero only when
// the process restarts.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		Total:          s.Total.Value(),
		TLSRecordsSeen: s.TLSRecordsSeen.Value(),
		TargetFlagged:  s.TargetFlagged.Value(),
		Errors:         s.Errors.Value(),
		UDPSeen:        s.UDPSeen.Value(),
		RSTBlocked:     s.RSTBlocked.Value(),
		Fragmented:     s.Splitter.Fragmented.Value(),
		Passed:         s.Splitter.Passed.Value(),
		SplitterErrors: s.Splitter.Errors.Value(),
		Small:          s.Splitter.SizeBucket(BucketSmall).Value(),
		Medium:         s.Splitter.SizeBucket(BucketMedium).Value(),
		Large:          s.Splitter.SizeBucket(BucketLarge).Value(),
		Huge:           s.Splitter.SizeBucket(BucketHuge).Value(),
	}
}
