// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"net"
	"time"

	"grimm.is/segsplit/internal/errors"
)

// SyslogConfig controls optional forwarding of log lines to a remote
// syslog collector, independent of the local stderr/file logger.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns forwarding disabled by default, with the
// conventional syslog port and a facility of 1 (user-level messages).
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "segsplit",
		Facility: 1,
	}
}

// SyslogWriter forwards formatted lines to a remote syslog collector over
// a long-lived UDP or TCP connection.
type SyslogWriter struct {
	conn net.Conn
	cfg  SyslogConfig
}

// NewSyslogWriter dials the configured syslog collector and returns a
// writer. Host is required; Port, Protocol, and Tag are defaulted when
// left zero-valued.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, errors.New(errors.KindValidation, "syslog: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "segsplit"
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	conn, err := net.DialTimeout(cfg.Protocol, addr, 5*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "syslog: dial failed")
	}

	return &SyslogWriter{conn: conn, cfg: cfg}, nil
}

// Write implements io.Writer, framing p as an RFC 3164-style priority +
// tag + message line.
func (w *SyslogWriter) Write(p []byte) (int, error) {
	priority := w.cfg.Facility*8 + 6 // severity 6 = informational
	line := fmt.Sprintf("<%d>%s: %s", priority, w.cfg.Tag, p)
	if _, err := io.WriteString(w.conn, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the underlying connection.
func (w *SyslogWriter) Close() error {
	return w.conn.Close()
}
