// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Tool poolsim drives a transaction memory pool with random transactions,
// blocks and reorganizations of a simulated chain, checking the consistency
// of the pool after every step.
package main

import (
	"errors"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	flags "github.com/jessevdk/go-flags"
	"github.com/safeblock/safed/fees"
	safelog "github.com/safeblock/safed/internal/log"
	"github.com/safeblock/safed/internal/version"
	"github.com/safeblock/safed/mempool"
)

// newFeeEstimator returns an estimator backed by the configured fee
// database, or nil when none is configured.
func newFeeEstimator(cfg *config) (*fees.Estimator, error) {
	if cfg.FeeDB == "" {
		return nil, nil
	}
	store, err := fees.OpenStore(cfg.FeeBackend, cleanAndExpandPath(cfg.FeeDB))
	if err != nil {
		return nil, err
	}
	minFee := mempool.DefaultIncrementalRelayFee
	est, err := fees.NewEstimator(&fees.EstimatorConfig{
		MaxConfirms:  fees.DefaultMaxConfirmations,
		MinBucketFee: minFee,
		MaxBucketFee: minFee * btcutil.Amount(fees.DefaultMaxBucketFeeMultiplier),
		FeeRateStep:  fees.DefaultFeeRateStep,
		Store:        store,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return est, nil
}

// payScript returns the script every simulated output pays to.
func payScript() ([]byte, error) {
	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20),
		activeNetParams)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// realMain is the real main function for the utility.  It is necessary to
// work around the fact that deferred functions do not run when os.Exit() is
// called.
func realMain() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer safelog.Close()

	script, err := payScript()
	if err != nil {
		log.Errorf("Unable to create pay script: %v", err)
		return err
	}

	est, err := newFeeEstimator(cfg)
	if err != nil {
		log.Errorf("Unable to load fee estimator: %v", err)
		return err
	}
	var feeEstimator mempool.FeeEstimator
	if est != nil {
		feeEstimator = est
		defer est.Close()
	}

	sim := newSimulator(cfg, script, feeEstimator)
	if est != nil {
		est.Enable(sim.chain.height())
	}

	log.Infof("Version %s", version.String())
	log.Infof("Simulating %d steps on %s from height %d", cfg.Steps,
		activeNetParams.Name, sim.chain.height())
	if err := sim.run(); err != nil {
		log.Errorf("Pool inconsistency: %v", err)
		return err
	}

	st := sim.stats
	log.Infof("Accepted %d transactions, rejected %d, mined %d in %d "+
		"blocks", st.accepted, st.rejected, st.mined, st.blocks)
	log.Infof("%d %s, %d prioritised, %d evicted, %d pooled", st.reorgs,
		safelog.PickNoun(uint64(st.reorgs), "reorganization",
			"reorganizations"), st.prioritised, st.evicted,
		sim.pool.Count())
	for reason, n := range st.removed {
		log.Infof("Removed %d %s (%v)", n, safelog.PickNoun(uint64(n),
			"transaction", "transactions"), reason)
	}
	if est != nil {
		for _, target := range []int32{2, 6, 12} {
			rate, err := sim.pool.EstimateFeeRate(target)
			if err != nil {
				log.Infof("No estimate for %d blocks: %v", target, err)
				continue
			}
			log.Infof("Estimated fee rate for %d blocks: %v", target,
				rate)
		}
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		if errors.Is(err, errShowSubsystems) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
