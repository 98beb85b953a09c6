// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	safelog "github.com/safeblock/safed/internal/log"
	"github.com/safeblock/safed/mempool"
)

const (
	defaultLogLevel    = "info"
	defaultLogFilename = "poolsim.log"
	defaultSteps       = 1000
	defaultFunding     = 50
	defaultBlockTxs    = 40
	defaultFeeBackend  = "leveldb"
)

var (
	safedHomeDir    = btcutil.AppDataDir("safed", false)
	defaultLogDir   = filepath.Join(safedHomeDir, "logs")
	activeNetParams = &chaincfg.MainNetParams
)

// config defines the configuration options for poolsim.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Steps           int           `short:"n" long:"steps" description:"Number of simulation steps to run"`
	Seed            int64         `long:"seed" description:"Seed of the pseudo-random operation mix"`
	Funding         int           `long:"funding" description:"Number of mature coinbase outputs available at start"`
	BlockTxs        int           `long:"blocktxs" description:"Maximum number of pooled transactions mined per block"`
	MaxPoolSize     int64         `long:"maxmempool" description:"Dynamic memory limit of the pool in bytes"`
	Expiry          time.Duration `long:"mempoolexpiry" description:"Age after which pooled transactions are expired"`
	AncestorLimit   uint64        `long:"limitancestorcount" description:"Maximum number of in-pool ancestors of a transaction"`
	DescendantLimit uint64        `long:"limitdescendantcount" description:"Maximum number of in-pool descendants of any ancestor, including itself"`
	CandyAddress    string        `long:"candyaddress" description:"Address candy distributions are paid to"`
	FeeDB           string        `long:"feedb" description:"Path of the fee estimator database -- Estimates are not persisted when empty"`
	FeeBackend      string        `long:"feebackend" description:"Fee estimator database backend" choice:"leveldb" choice:"pebble"`
	LogDir          string        `long:"logdir" description:"Directory to log output"`
	NoLogFile       bool          `long:"nologfile" description:"Only log to standard output"`
	DebugLevel      string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TestNet3        bool          `long:"testnet" description:"Use the test network"`
	RegressionTest  bool          `long:"regtest" description:"Use the regression test network"`
	SimNet          bool          `long:"simnet" description:"Use the simulation test network"`
}

// defaultConfig returns the configuration used when no options are given.
func defaultConfig() config {
	policy := mempool.DefaultPolicy()
	return config{
		Steps:           defaultSteps,
		Seed:            1,
		Funding:         defaultFunding,
		BlockTxs:        defaultBlockTxs,
		MaxPoolSize:     policy.MaxPoolSize,
		Expiry:          policy.Expiry,
		AncestorLimit:   policy.Limits.MaxAncestors,
		DescendantLimit: policy.Limits.MaxDescendants,
		FeeBackend:      defaultFeeBackend,
		LogDir:          defaultLogDir,
		DebugLevel:      defaultLogLevel,
	}
}

// policy returns the pool policy selected by the configuration.
func (cfg *config) policy() mempool.Policy {
	policy := mempool.DefaultPolicy()
	policy.MaxPoolSize = cfg.MaxPoolSize
	policy.Expiry = cfg.Expiry
	policy.Limits.MaxAncestors = cfg.AncestorLimit
	policy.Limits.MaxDescendants = cfg.DescendantLimit
	return policy
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	return safelog.ValidLogLevel(logLevel)
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		safelog.SetLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := safelog.SubsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID,
				safelog.SupportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		safelog.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// errShowSubsystems is returned by parseConfig when the subsystems were
// listed instead of running.
var errShowSubsystems = errors.New("subsystems listed")

// parseConfig parses and validates the command line arguments.  Logging is
// not set up yet.
func parseConfig(args []string) (*config, error) {
	cfg := defaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	_, err := parser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	params := &chaincfg.MainNetParams
	if cfg.TestNet3 {
		numNets++
		params = &chaincfg.TestNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		params = &chaincfg.RegressionNetParams
	}
	if cfg.SimNet {
		numNets++
		params = &chaincfg.SimNetParams
	}
	if numNets > 1 {
		return nil, errors.New("parseConfig: the testnet, regtest, and " +
			"simnet params can't be used together -- choose one of " +
			"the three")
	}

	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", safelog.SupportedSubsystems())
		return nil, errShowSubsystems
	}

	switch {
	case cfg.Steps <= 0:
		return nil, fmt.Errorf("parseConfig: steps must be positive, "+
			"got %d", cfg.Steps)
	case cfg.Funding <= 0:
		return nil, fmt.Errorf("parseConfig: funding must be positive, "+
			"got %d", cfg.Funding)
	case cfg.BlockTxs <= 0:
		return nil, fmt.Errorf("parseConfig: blocktxs must be positive, "+
			"got %d", cfg.BlockTxs)
	}

	if cfg.CandyAddress != "" {
		_, err := btcutil.DecodeAddress(cfg.CandyAddress, params)
		if err != nil {
			return nil, fmt.Errorf("parseConfig: invalid candy "+
				"address %q: %v", cfg.CandyAddress, err)
		}
	}
	activeNetParams = params
	return &cfg, nil
}

// loadConfig parses the command line and sets up logging.
func loadConfig() (*config, error) {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		return nil, err
	}

	if !cfg.NoLogFile {
		logDir := filepath.Join(cleanAndExpandPath(cfg.LogDir),
			activeNetParams.Name)
		err := safelog.InitLogRotator(filepath.Join(logDir,
			defaultLogFilename))
		if err != nil {
			return nil, err
		}
	}

	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, fmt.Errorf("loadConfig: %v", err)
	}
	return cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(safedHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
