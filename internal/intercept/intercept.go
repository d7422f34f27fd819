// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package intercept wires the kernel handle, classifier, splitter, and
// RST guard into the single dispatch loop: one packet in, one decision,
// and one re-injection (two for a split segment) or a drop, per
// iteration.
package intercept

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"grimm.is/segsplit/internal/classify"
	segerrors "grimm.is/segsplit/internal/errors"
	"grimm.is/segsplit/internal/kernel"
	"grimm.is/segsplit/internal/logging"
	"grimm.is/segsplit/internal/metrics"
	"grimm.is/segsplit/internal/packet"
	"grimm.is/segsplit/internal/rstguard"
	"grimm.is/segsplit/internal/splitter"
	"grimm.is/segsplit/internal/tlsparse"
)

// Loop is the assembled intercept pipeline: one RunID per process
// lifetime, for correlating log lines across a session.
type Loop struct {
	RunID string

	kern     kernel.Interceptor
	classify *classify.Classifier
	guard    *rstguard.Guard
	split    *splitter.Splitter
	stats    *metrics.Statistics
	log      *logging.Logger
}

// New assembles a Loop. strategy picks the splitter's fixed-vs-adaptive
// behavior; stats is shared with anything exposing it for scraping
// (e.g. an HTTP /metrics endpoint in cmd/segsplit).
func New(kern kernel.Interceptor, classifier *classify.Classifier, strategy splitter.Strategy, stats *metrics.Statistics) *Loop {
	l := &Loop{
		RunID:    uuid.NewString(),
		kern:     kern,
		classify: classifier,
		guard:    rstguard.New(stats),
		stats:    stats,
		log:      logging.WithComponent("intercept"),
	}
	l.split = splitter.New(kern, strategy, nil, stats)
	return l
}

// Run opens the kernel handle with the default capture filter and
// dispatches packets until ctx is canceled or the handle fails. A Next
// failure is a DriverError: fatal, the loop returns it. Every other
// per-packet failure is handled locally and never aborts the loop.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.kern.Open(kernel.DefaultFilter()); err != nil {
		return segerrors.Wrap(err, segerrors.KindDriver, "intercept: open kernel handle")
	}
	defer l.kern.Close()

	l.log.Info("intercept loop started", "run_id", l.RunID)
	started := time.Now()

	for {
		p, err := l.kern.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				l.logSummary(time.Since(started))
				return nil
			}
			return segerrors.Wrap(err, segerrors.KindDriver, "intercept: read next packet")
		}

		l.dispatch(p)
	}
}

// dispatch implements the per-packet decision table: RST guard first
// (it alone can drop without ever reaching the splitter), then TLS/SNI
// detection and classification for TCP payloads, then UDP pass-through,
// then an unconditional pass-through for everything else.
func (l *Loop) dispatch(p *packet.Packet) {
	l.stats.Total.Inc()

	if l.guard.ShouldDrop(p) {
		if err := l.kern.Drop(p); err != nil {
			l.log.Warn("drop failed", "err", err)
		}
		return
	}

	switch p.Protocol {
	case packet.ProtoTCP:
		l.dispatchTCP(p)
	case packet.ProtoUDP:
		l.stats.UDPSeen.Inc()
		l.sendUnchanged(p)
	default:
		l.sendUnchanged(p)
	}
}

func (l *Loop) dispatchTCP(p *packet.Packet) {
	if p.TCP == nil || len(p.TCP.Payload) == 0 {
		l.sendUnchanged(p)
		return
	}

	if looksLikeTLSRecord(p.TCP.Payload) {
		l.stats.TLSRecordsSeen.Inc()
	}
	sni, _ := tlsparse.ExtractSNI(p.TCP.Payload)

	if !l.classify.IsTarget(p.DstIP.String(), sni) {
		l.sendUnchanged(p)
		return
	}

	l.stats.TargetFlagged.Inc()
	if err := l.split.Process(p); err != nil {
		// splitter.Process already falls back to a pass-through send and
		// counts the error; nothing further to do here except log.
		l.log.Warn("splitter process failed", "err", err)
	}
}

// looksLikeTLSRecord is the cheap record-type check the loop uses to
// count candidate TLS traffic, independent of whether the ClientHello
// parser can actually extract an SNI from it.
func looksLikeTLSRecord(payload []byte) bool {
	return len(payload) > 5 && payload[0] == 0x16
}

func (l *Loop) sendUnchanged(p *packet.Packet) {
	if err := l.kern.Send(p); err != nil {
		l.stats.Errors.Inc()
		l.log.Warn("send failed", "err", err)
	}
}

func (l *Loop) logSummary(uptime time.Duration) {
	snap := l.stats.Snapshot()
	l.log.Info("intercept loop stopped",
		"run_id", l.RunID,
		"uptime", uptime.String(),
		"total", snap.Total,
		"tls_records_seen", snap.TLSRecordsSeen,
		"target_flagged", snap.TargetFlagged,
		"fragmented", snap.Fragmented,
		"passed", snap.Passed,
		"rst_blocked", snap.RSTBlocked,
		"udp_seen", snap.UDPSeen,
		"errors", snap.Errors,
		"splitter_errors", snap.SplitterErrors,
		"small", snap.Small,
		"medium", snap.Medium,
		"large", snap.Large,
		"huge", snap.Huge,
	)
}
