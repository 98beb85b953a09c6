// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/safeblock/safed/fees"
	"github.com/safeblock/safed/mempool"
	"github.com/safeblock/safed/mempool/indexers"
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if LogRotator != nil {
		LogRotator.Write(p)
	}
	return len(p), nil
}

// Subsystem tags.
const (
	SubsystemFees    = "FEES"
	SubsystemIndex   = "INDX"
	SubsystemSim     = "SIMU"
	SubsystemMempool = "TXMP"
)

// Output only goes to standard output until InitLogRotator has been called
// with a log file.
var (
	// backendLog is the logging backend used to create all subsystem loggers.
	backendLog = btclog.NewBackend(logWriter{})

	// LogRotator is one of the logging outputs.  Close releases it.
	LogRotator *rotator.Rotator

	IndxLog = backendLog.Logger(SubsystemIndex)
	SimuLog = backendLog.Logger(SubsystemSim)
	TxmpLog = backendLog.Logger(SubsystemMempool)
)

// SubsystemLoggers maps each subsystem tag to its logger.  Packages are wired
// to their logger on init.
var SubsystemLoggers = map[string]btclog.Logger{
	SubsystemFees:    backendLog.Logger(SubsystemFees),
	SubsystemIndex:   IndxLog,
	SubsystemSim:     SimuLog,
	SubsystemMempool: TxmpLog,
}

func init() {
	fees.UseLogger(SubsystemLoggers[SubsystemFees])
	indexers.UseLogger(IndxLog)
	mempool.UseLogger(TxmpLog)
}

const (
	// rotateThresholdKB is the size a log file grows to before it is
	// rolled.
	rotateThresholdKB = 10 * 1024

	// maxRolls is the number of rolled files kept.
	maxRolls = 3
)

// InitLogRotator initializes the logging rotater to write logs to logFile and
// create roll files in the same directory.  It must be called before the
// package-global log rotater variables are used.
func InitLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}
	r, err := rotator.New(logFile, rotateThresholdKB, false, maxRolls)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %v", err)
	}

	LogRotator = r
	return nil
}

// Close flushes and closes the log rotator when one was initialized.
func Close() {
	if LogRotator != nil {
		LogRotator.Close()
		LogRotator = nil
	}
}

// SetLogLevel sets the logging level for provided subsystem.  Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	// Ignore invalid subsystems.
	logger, ok := SubsystemLoggers[subsystemID]
	if !ok {
		return
	}

	// Defaults to info if the log level is invalid.
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func SetLogLevels(logLevel string) {
	// Configure all sub-systems with the new logging level.
	for subsystemID := range SubsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// ValidLogLevel returns whether or not logLevel is a valid debug log level.
func ValidLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// SupportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func SupportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(SubsystemLoggers))
	for subsysID := range SubsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// PickNoun returns the singular or plural form of a noun depending
// on the count n.
func PickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
