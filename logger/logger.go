// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logger wires one btclog.Logger per relay-core subsystem onto
// a shared backend, matching the teacher's rotator-backed logging
// arrangement (§6.4 enable_logging / log_level).
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	if initiated {
		os.Stdout.Write(p)
		LogRotator.Write(p)
	}
	return len(p), nil
}

// errLogWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type errLogWriter struct{}

func (errLogWriter) Write(p []byte) (n int, err error) {
	if initiated {
		os.Stdout.Write(p)
		ErrLogRotator.Write(p)
	}
	return len(p), nil
}

// Loggers per subsystem. A single backend is created and all subsystem
// loggers created from it write to the backend. When adding a new
// subsystem, add the logger variable here and to the subsystemLoggers
// map.
//
// Loggers can not be used before the log rotator has been initialized
// with a log file. This must be performed early during application
// startup by calling InitLogRotators.
var (
	backendLog = btclog.NewBackend(logWriter{})

	// LogRotator is one of the logging outputs. It should be closed on
	// application shutdown.
	LogRotator    *rotator.Rotator
	ErrLogRotator *rotator.Rotator

	fragLog = backendLog.Logger(SubsystemTags.FRAG)
	reasLog = backendLog.Logger(SubsystemTags.REAS)
	queuLog = backendLog.Logger(SubsystemTags.QUEU)
	dedpLog = backendLog.Logger(SubsystemTags.DEDP)
	wrkrLog = backendLog.Logger(SubsystemTags.WRKR)
	relyLog = backendLog.Logger(SubsystemTags.RELY)
	noncLog = backendLog.Logger(SubsystemTags.NONC)
	bldrLog = backendLog.Logger(SubsystemTags.BLDR)
	persLog = backendLog.Logger(SubsystemTags.PERS)
	adptLog = backendLog.Logger(SubsystemTags.ADPT)
	coreLog = backendLog.Logger(SubsystemTags.CORE)
	utilLog = backendLog.Logger(SubsystemTags.UTIL)

	initiated = false
)

// SubsystemTags is an enum of all sub system tags.
var SubsystemTags = struct {
	FRAG, // fragment codec (C1)
	REAS, // reassembly buffer (C2)
	QUEU, // queue set (C3)
	DEDP, // dedup ledger (C4)
	WRKR, // event worker (C5)
	RELY, // relay policy (C6)
	NONC, // nonce bundle store (C7)
	BLDR, // transaction builder (C8)
	PERS, // persistence layer (C9)
	ADPT, // external adapters (C10)
	CORE, // top-level orchestration
	UTIL string // shared utilities (goroutine wrapper, wait group)
}{
	FRAG: "FRAG",
	REAS: "REAS",
	QUEU: "QUEU",
	DEDP: "DEDP",
	WRKR: "WRKR",
	RELY: "RELY",
	NONC: "NONC",
	BLDR: "BLDR",
	PERS: "PERS",
	ADPT: "ADPT",
	CORE: "CORE",
	UTIL: "UTIL",
}

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	SubsystemTags.FRAG: fragLog,
	SubsystemTags.REAS: reasLog,
	SubsystemTags.QUEU: queuLog,
	SubsystemTags.DEDP: dedpLog,
	SubsystemTags.WRKR: wrkrLog,
	SubsystemTags.RELY: relyLog,
	SubsystemTags.NONC: noncLog,
	SubsystemTags.BLDR: bldrLog,
	SubsystemTags.PERS: persLog,
	SubsystemTags.ADPT: adptLog,
	SubsystemTags.CORE: coreLog,
	SubsystemTags.UTIL: utilLog,
}

// InitLogRotators initializes the logging rotators to write logs to
// logFile, errLogFile, and create roll files in the same directory.
// It must be called before any subsystem logger is used.
func InitLogRotators(logFile, errLogFile string) {
	initiated = true
	LogRotator = initLogRotator(logFile)
	ErrLogRotator = initLogRotator(errLogFile)
}

func initLogRotator(logFile string) *rotator.Rotator {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	return r
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		level = btclog.LevelInfo
	}
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the
// passed level.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// Get returns the logger of a specific subsystem.
func Get(tag string) (log btclog.Logger, ok bool) {
	log, ok = subsystemLoggers[tag]
	return
}

// SupportedSubsystems returns a sorted slice of the supported
// subsystems for display / validation purposes.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetDebugLevels attempts to parse the specified debug level
// specification (either a single level, or a comma-separated list of
// SUBSYSTEM=level pairs) and sets the levels accordingly.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}

		SetLogLevel(subsysID, logLevel)
	}

	return nil
}

func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// Close flushes and closes both log rotators. Intended to be called
// from shutdown paths (C5 cancellation, C13 signal handling).
func Close() {
	if LogRotator != nil {
		LogRotator.Close()
	}
	if ErrLogRotator != nil {
		ErrLogRotator.Close()
	}
}
