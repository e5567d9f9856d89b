// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig configures forwarding of process logs to a remote syslog
// collector. Disabled by default. The config file has no syslog section and
// cmd/folonetd never builds a SyslogWriter; it is only created by callers of
// NewSyslogWriter.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns the zero-value-safe defaults applied by
// NewSyslogWriter when a field is left unset.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "folonet",
		Facility: 1,
	}
}

// SyslogWriter forwards log lines to a remote syslog daemon. It implements
// io.Writer so it can be handed to logging.MultiWriter alongside stderr.
type SyslogWriter struct {
	w *syslog.Writer
}

// NewSyslogWriter dials the configured syslog collector. Unset Port,
// Protocol and Tag are defaulted; Host is required.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "folonet"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(cfg.Protocol, addr, syslog.Priority(cfg.Facility)<<3|syslog.LOG_INFO, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog at %s: %w", addr, err)
	}

	return &SyslogWriter{w: w}, nil
}

// Write implements io.Writer.
func (s *SyslogWriter) Write(p []byte) (int, error) {
	if err := s.w.Info(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close releases the underlying syslog connection.
func (s *SyslogWriter) Close() error {
	return s.w.Close()
}
