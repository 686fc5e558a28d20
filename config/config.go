// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config parses the host process's configuration options
// (§6.4) with jessevdk/go-flags, the same library and struct-tag
// style the teacher uses for its own cmd/ entrypoints.
package config

import (
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

const (
	defaultLogFilename    = "pollinetd.log"
	defaultErrLogFilename = "pollinetd_err.log"
)

// Design defaults mirroring §6.4 exactly.
const (
	DefaultAutosaveDebounceMs = 5000
	DefaultReassemblyTTLMs    = 60000
	DefaultWorkerTimeoutMs    = 30000
	DefaultRetryBaseMs        = 30000
	DefaultRetryCeilingMs     = 3_600_000
	DefaultMaxAttempts        = 10
	DefaultDedupTTLMs         = 86_400_000
	DefaultMaxIncompleteSets  = 128
)

var defaultLogLevel = "info"

// Config is the full set of options in §6.4.
type Config struct {
	RPCURL             string `long:"rpc-url" description:"Solana JSON-RPC endpoint URL; empty means offline-only"`
	EnableLogging      bool   `long:"enable-logging" description:"Write log output to stdout and to rotated log files under the storage directory; when unset nothing is logged"`
	LogLevel           string `long:"log-level" description:"Logging level: trace, debug, info, warn, error" default:"info"`
	StorageDirectory   string `long:"storage-directory" description:"Directory holding the persistence snapshot and log files" required:"true"`
	AutosaveDebounceMs int64  `long:"autosave-debounce-ms" description:"Minimum interval between persistence autosaves"`
	ReassemblyTTLMs    int64  `long:"reassembly-ttl-ms" description:"TTL for an incomplete fragment set before it is dropped"`
	WorkerTimeoutMs    int64  `long:"worker-timeout-ms" description:"Interval between periodic worker cleanup ticks"`
	RetryBaseMs        int64  `long:"retry-base-ms" description:"Base backoff delay for retry scheduling"`
	RetryCeilingMs     int64  `long:"retry-ceiling-ms" description:"Maximum backoff delay for retry scheduling"`
	MaxAttempts        int    `long:"max-attempts" description:"Retry attempts before an item is marked permanently failed"`
	DedupTTLMs         int64  `long:"dedup-ttl-ms" description:"TTL for a dedup ledger entry"`
	MaxIncompleteSets  int    `long:"max-incomplete-sets" description:"Maximum number of in-flight incomplete reassembly sets"`
}

// Parse parses os.Args (via go-flags) into a Config, applying §6.4's
// defaults for any zero-valued numeric option and validating LogLevel
// against the allowed set.
func Parse() (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return nil, errors.Errorf("--log-level must be one of trace, debug, info, warn, error, got %q", cfg.LogLevel)
	}

	if cfg.AutosaveDebounceMs == 0 {
		cfg.AutosaveDebounceMs = DefaultAutosaveDebounceMs
	}
	if cfg.ReassemblyTTLMs == 0 {
		cfg.ReassemblyTTLMs = DefaultReassemblyTTLMs
	}
	if cfg.WorkerTimeoutMs == 0 {
		cfg.WorkerTimeoutMs = DefaultWorkerTimeoutMs
	}
	if cfg.RetryBaseMs == 0 {
		cfg.RetryBaseMs = DefaultRetryBaseMs
	}
	if cfg.RetryCeilingMs == 0 {
		cfg.RetryCeilingMs = DefaultRetryCeilingMs
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.DedupTTLMs == 0 {
		cfg.DedupTTLMs = DefaultDedupTTLMs
	}
	if cfg.MaxIncompleteSets == 0 {
		cfg.MaxIncompleteSets = DefaultMaxIncompleteSets
	}

	return cfg, nil
}

// LogFile returns the path of the primary log file under
// StorageDirectory.
func (c *Config) LogFile() string {
	return filepath.Join(c.StorageDirectory, defaultLogFilename)
}

// ErrLogFile returns the path of the error-only log file under
// StorageDirectory.
func (c *Config) ErrLogFile() string {
	return filepath.Join(c.StorageDirectory, defaultErrLogFilename)
}

// SnapshotPath returns the path of the persistence snapshot file under
// StorageDirectory.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.StorageDirectory, "snapshot.json")
}
