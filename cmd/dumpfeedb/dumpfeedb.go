// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Tool dumpfeedb prints the bucket statistics kept in a fee estimator
// database, optionally followed by the fee rate estimated for a set of
// confirmation targets.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/safeblock/safed/fees"
)

type config struct {
	DB             string  `short:"b" long:"db" description:"Path to fee database -- Defaults to the database of the selected network"`
	Backend        string  `long:"backend" description:"Fee database backend" choice:"leveldb" choice:"pebble" default:"leveldb"`
	Targets        []int32 `short:"t" long:"target" description:"Also print the fee rate estimated for this confirmation target -- May be repeated"`
	TestNet3       bool    `long:"testnet" description:"Read the database of the test network"`
	RegressionTest bool    `long:"regtest" description:"Read the database of the regression test network"`
}

// defaultDB returns the fee database path of the network selected by cfg.
func (cfg *config) defaultDB() (string, error) {
	params := &chaincfg.MainNetParams
	switch {
	case cfg.TestNet3 && cfg.RegressionTest:
		return "", errors.New("the testnet and regtest flags can't be " +
			"used together")
	case cfg.TestNet3:
		params = &chaincfg.TestNet3Params
	case cfg.RegressionTest:
		params = &chaincfg.RegressionNetParams
	}
	return filepath.Join(btcutil.AppDataDir("safed", false), "data",
		params.Name, "feesdb"), nil
}

func realMain(cfg *config) error {
	if cfg.DB == "" {
		db, err := cfg.defaultDB()
		if err != nil {
			return err
		}
		cfg.DB = db
	}

	store, err := fees.OpenStore(cfg.Backend, cfg.DB)
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", cfg.DB)
	}

	// The bucket fees are replaced by the stored ones, so the configured
	// range only needs to be valid.
	est, err := fees.NewEstimator(&fees.EstimatorConfig{
		Store:                store,
		ReplaceBucketsOnLoad: true,
		MaxConfirms:          fees.DefaultMaxConfirmations,
		MinBucketFee:         1,
		MaxBucketFee:         2,
		FeeRateStep:          fees.DefaultFeeRateStep,
	})
	if err != nil {
		store.Close()
		return errors.Wrap(err, "unable to load estimator")
	}
	defer est.Close()

	fmt.Println(est.DumpBuckets())
	for _, target := range cfg.Targets {
		rate, err := est.EstimateFeeRate(target)
		if err != nil {
			fmt.Printf("target %3d: %v\n", target, err)
			continue
		}
		fmt.Printf("target %3d: %v/kB\n", target, rate)
	}
	return nil
}

func main() {
	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	if err := realMain(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
