// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads segsplit's run configuration: command-line flags
// first, with an optional YAML file (--config) providing defaults that
// the flags can still override.
package config

import (
	"flag"
	"os"

	"gopkg.in/yaml.v3"

	"grimm.is/segsplit/internal/errors"
)

// Config is the complete set of run-time knobs segsplit accepts.
type Config struct {
	// FragmentSize is the fixed split offset k, in bytes, used when
	// Adaptive is false.
	FragmentSize int `yaml:"fragment_size"`
	// DelayMS is the fixed inter-segment delay, in milliseconds, used
	// when Adaptive is false.
	DelayMS float64 `yaml:"delay_ms"`
	// Adaptive selects the size-bucketed (k, d) table instead of the
	// fixed FragmentSize/DelayMS pair.
	Adaptive bool `yaml:"adaptive"`
	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose"`
	// QueueNum is the NFQUEUE number the Linux kernel provider binds to.
	QueueNum uint16 `yaml:"queue_num"`
	// IPListPath is where the refreshed target IP list is cached on disk.
	IPListPath string `yaml:"ip_list_path"`
	// IPListURL is an optional authoritative IP-list source; empty
	// disables the iplist.Refresher entirely and relies on the
	// classifier's built-in prefix set.
	IPListURL string `yaml:"ip_list_url"`
	// SyslogHost, if non-empty, enables forwarding log lines to a remote
	// syslog collector alongside the local stderr/text output.
	SyslogHost string `yaml:"syslog_host"`
	// SyslogPort is the remote syslog collector's port; defaulted to 514
	// by logging.NewSyslogWriter when zero.
	SyslogPort int `yaml:"syslog_port"`
	// SyslogProtocol is "udp" or "tcp"; defaulted to "udp" when empty.
	SyslogProtocol string `yaml:"syslog_protocol"`
}

// Default returns the configuration used when no flags or file override
// anything: adaptive size-bucketed splitting on, with a 1-byte/10ms
// fixed fallback pair for when --adaptive is turned off, NFQUEUE 0, and
// no IP-list refresh.
func Default() Config {
	return Config{
		FragmentSize: 1,
		DelayMS:      10.0,
		Adaptive:     true,
		Verbose:      false,
		QueueNum:     0,
		IPListPath:   "",
		IPListURL:    "",
	}
}

// Validate rejects configurations the splitter or kernel package cannot
// act on.
func (c Config) Validate() error {
	if !c.Adaptive && (c.FragmentSize < 1 || c.FragmentSize > 8) {
		return errors.New(errors.KindValidation, "config: fragment-size must be in [1, 8]")
	}
	if !c.Adaptive && (c.DelayMS < 0 || c.DelayMS > 100) {
		return errors.New(errors.KindValidation, "config: delay-ms must be in [0, 100]")
	}
	return nil
}

// LoadFile reads a YAML config file, applying its values on top of
// Default(). A missing or malformed file is a validation error; callers
// that treat --config as optional should check os.IsNotExist instead of
// calling this for a path the user never set.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, errors.KindValidation, "config: read file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, errors.KindValidation, "config: parse yaml")
	}
	return cfg, nil
}

// FlagSet describes the command-line flags this package understands,
// bound to a *Config the caller constructs from Default() or LoadFile().
// Kept distinct from flag.Parse() at package scope so tests can parse an
// arbitrary argv instead of os.Args.
type FlagSet struct {
	fs         *flag.FlagSet
	configPath *string
	cfg        *Config
	postParse  func()
}

// NewFlagSet registers segsplit's flags against cfg, which should already
// hold either Default() or a LoadFile() result.
func NewFlagSet(name string, cfg *Config) *FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	f := &FlagSet{fs: fs, cfg: cfg}

	f.configPath = fs.String("config", "", "optional YAML config file")
	fs.IntVar(&cfg.FragmentSize, "fragment-size", cfg.FragmentSize, "fixed split offset in bytes (ignored if --adaptive)")
	fs.Float64Var(&cfg.DelayMS, "delay-ms", cfg.DelayMS, "fixed inter-segment delay in milliseconds (ignored if --adaptive)")
	fs.BoolVar(&cfg.Adaptive, "adaptive", cfg.Adaptive, "pick (fragment-size, delay-ms) from the payload-size bucket table")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging")
	queueNum := fs.Uint("queue-num", uint(cfg.QueueNum), "NFQUEUE number to bind (Linux only)")
	fs.StringVar(&cfg.IPListPath, "ip-list-path", cfg.IPListPath, "cache file for the refreshed target IP list")
	fs.StringVar(&cfg.IPListURL, "ip-list-url", cfg.IPListURL, "authoritative IP-list source URL (empty disables refresh)")
	fs.StringVar(&cfg.SyslogHost, "syslog-host", cfg.SyslogHost, "remote syslog collector host (empty disables forwarding)")
	fs.IntVar(&cfg.SyslogPort, "syslog-port", cfg.SyslogPort, "remote syslog collector port")
	fs.StringVar(&cfg.SyslogProtocol, "syslog-protocol", cfg.SyslogProtocol, "remote syslog transport: udp or tcp")

	f.postParse = func() { cfg.QueueNum = uint16(*queueNum) }
	return f
}

// parse parses args, then runs postParse to copy any flag values
// NewFlagSet couldn't bind directly (type mismatches like uint vs uint16)
// back onto cfg.
func (f *FlagSet) parse(args []string) error {
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if f.postParse != nil {
		f.postParse()
	}
	return nil
}

// Parse parses args (normally os.Args[1:]) into cfg, loading --config
// first (if set) and applying the remaining flags on top.
func Parse(name string, args []string) (Config, error) {
	cfg := Default()
	configPath := peekConfigFlag(args)
	if configPath != "" {
		loaded, err := LoadFile(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	fs := NewFlagSet(name, &cfg)
	if err := fs.parse(args); err != nil {
		return cfg, errors.Wrap(err, errors.KindValidation, "config: parse flags")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// peekConfigFlag scans args for --config/-config without triggering
// flag.ExitOnError's os.Exit on an otherwise-invalid flag set, so Parse
// can load file defaults before registering the full flag set.
func peekConfigFlag(args []string) string {
	for i, a := range args {
		switch {
		case a == "--config" || a == "-config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > len("--config=") && a[:len("--config=")] == "--config=":
			return a[len("--config="):]
		case len(a) > len("-config=") && a[:len("-config=")] == "-config=":
			return a[len("-config="):]
		}
	}
	return ""
}
