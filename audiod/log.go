package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// logBackend tees log lines to stdout and a rotating log file and hands
// out one cached logger per daemon subsystem (AUDD, MIXR, PLCY, STAT,
// RPCS). Per-subsystem levels come from the debuglevel setting.
type logBackend struct {
	stdOut       io.Writer
	logRotator   *rotator.Rotator
	bknd         *slog.Backend
	defaultLevel slog.Level
	levels       map[string]slog.Level
	loggers      map[string]slog.Logger
}

// newLogBackend creates the daemon log backend. debugLevel is a comma
// separated list of entries, each either a bare level name (the default
// for all subsystems) or a subsys=level pair.
func newLogBackend(logFile, debugLevel string, stdOut io.Writer) (*logBackend, error) {
	var logRotator *rotator.Rotator
	if logFile != "" {
		logDir, _ := filepath.Split(logFile)
		if err := os.MkdirAll(logDir, 0700); err != nil {
			return nil, fmt.Errorf("unable to create log dir: %w", err)
		}
		var err error
		logRotator, err = rotator.New(logFile, 1024, false, 10)
		if err != nil {
			return nil, fmt.Errorf("unable to create log rotator: %w", err)
		}
	}

	b := &logBackend{
		stdOut:       stdOut,
		logRotator:   logRotator,
		defaultLevel: slog.LevelInfo,
		levels:       make(map[string]slog.Level),
		loggers:      make(map[string]slog.Logger),
	}
	b.bknd = slog.NewBackend(b)

	for _, entry := range strings.Split(debugLevel, ",") {
		fields := strings.Split(entry, "=")
		switch len(fields) {
		case 1:
			b.defaultLevel, _ = slog.LevelFromString(fields[0])
		case 2:
			level, _ := slog.LevelFromString(fields[1])
			b.levels[fields[0]] = level
		default:
			return nil, fmt.Errorf("unable to parse %q as subsys=level "+
				"debuglevel entry", entry)
		}
	}

	return b, nil
}

func (bknd *logBackend) Write(b []byte) (int, error) {
	if bknd.stdOut != nil {
		bknd.stdOut.Write(b)
	}
	if bknd.logRotator != nil {
		bknd.logRotator.Write(b)
	}
	return len(b), nil
}

// logger returns the cached logger of a subsystem, creating it at the
// configured level on first use.
func (bknd *logBackend) logger(subsys string) slog.Logger {
	if l, ok := bknd.loggers[subsys]; ok {
		return l
	}

	l := bknd.bknd.Logger(subsys)
	bknd.loggers[subsys] = l
	level, ok := bknd.levels[subsys]
	if !ok {
		level = bknd.defaultLevel
	}
	l.SetLevel(level)
	return l
}
