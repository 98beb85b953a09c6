// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/safeblock/safed/fees"
	"github.com/safeblock/safed/mempool"
	"github.com/safeblock/safed/wire"
	"github.com/stretchr/testify/require"
)

// testConfig parses the arguments into a configuration.
func testConfig(t *testing.T, args ...string) *config {
	t.Helper()
	cfg, err := parseConfig(append([]string{"--nologfile"}, args...))
	require.NoError(t, err)
	return cfg
}

// testSimulator returns a simulator for the arguments.
func testSimulator(t *testing.T, est mempool.FeeEstimator, args ...string) *simulator {
	t.Helper()
	script, err := payScript()
	require.NoError(t, err)
	return newSimulator(testConfig(t, args...), script, est)
}

func TestParseConfig(t *testing.T) {
	cfg := testConfig(t)
	require.Equal(t, defaultSteps, cfg.Steps)
	require.Equal(t, mempool.DefaultPolicy(), cfg.policy())

	cfg = testConfig(t, "-n", "10", "--limitancestorcount=3",
		"--limitdescendantcount=4", "--feebackend=pebble")
	require.Equal(t, 10, cfg.Steps)
	require.EqualValues(t, 3, cfg.policy().Limits.MaxAncestors)
	require.EqualValues(t, 4, cfg.policy().Limits.MaxDescendants)
	require.Equal(t, "pebble", cfg.FeeBackend)

	tests := []struct {
		name string
		args []string
	}{
		{"two networks", []string{"--testnet", "--simnet"}},
		{"no steps", []string{"--steps=0"}},
		{"no funding", []string{"--funding=0"}},
		{"bad backend", []string{"--feebackend=bolt"}},
		{"bad candy address", []string{"--candyaddress=nope"}},
	}
	for _, test := range tests {
		_, err := parseConfig(test.args)
		require.Error(t, err, test.name)
	}
}

func TestParseAndSetDebugLevels(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"info", true},
		{"TXMP=trace,FEES=debug", true},
		{"SIMU=warn", true},
		{"bogus", false},
		{"TXMP", false},
		{"TXMP=info,", false},
		{"NOPE=info", false},
		{"TXMP=loud", false},
	}
	for _, test := range tests {
		err := parseAndSetDebugLevels(test.level)
		if test.valid {
			require.NoError(t, err, test.level)
		} else {
			require.Error(t, err, test.level)
		}
	}
	require.NoError(t, parseAndSetDebugLevels(defaultLogLevel))
}

// TestSimulation runs a simulation that exercises every operation and
// checks the pool after each step.
func TestSimulation(t *testing.T) {
	est, err := fees.NewEstimator(&fees.EstimatorConfig{
		MaxConfirms:  fees.DefaultMaxConfirmations,
		MinBucketFee: mempool.DefaultIncrementalRelayFee,
		MaxBucketFee: mempool.DefaultIncrementalRelayFee *
			btcutil.Amount(fees.DefaultMaxBucketFeeMultiplier),
		FeeRateStep: fees.DefaultFeeRateStep,
	})
	require.NoError(t, err)

	sim := testSimulator(t, est, "--steps=400", "--seed=7",
		"--funding=20", "--limitancestorcount=4")
	est.Enable(sim.chain.height())
	require.NoError(t, sim.run())

	require.NotZero(t, sim.stats.accepted)
	require.NotZero(t, sim.stats.blocks)
	require.NotZero(t, sim.stats.mined)
	require.Equal(t, sim.stats.mined,
		sim.stats.removed[mempool.RemovalReasonBlock])
}

// TestReorgReturnsTransactions ensures the transactions of a disconnected
// block return to the pool ahead of the pooled transactions spending them.
func TestReorgReturnsTransactions(t *testing.T) {
	sim := testSimulator(t, nil, "--funding=4")
	base := sim.chain.height()

	for sim.pool.Count() < 3 {
		require.NoError(t, sim.submit())
	}
	require.NoError(t, sim.mine())
	require.Zero(t, sim.pool.Count())
	mined := sim.chain.blocks[len(sim.chain.blocks)-1].txs[1:]
	require.NotEmpty(t, mined)

	// Spend only outputs of the mined transactions so nothing pooled
	// depends on coinbase maturity at the lower height.
	sim.candidates = nil
	sim.known = make(map[wire.OutPoint]struct{})
	for _, tx := range mined {
		sim.addCandidates(tx)
	}
	for sim.pool.Count() < 3 {
		require.NoError(t, sim.submit())
	}
	pooled := sim.pool.Count()

	require.NoError(t, sim.reorg())
	require.Equal(t, base, sim.chain.height())
	require.Equal(t, pooled+len(mined), sim.pool.Count())
	for _, tx := range mined {
		hash := tx.TxHash()
		require.True(t, sim.pool.Exists(&hash))
	}
	require.NoError(t, sim.pool.Check(sim.chain.view))

	// The funding blocks are never disconnected.
	require.NoError(t, sim.reorg())
	require.Equal(t, base, sim.chain.height())
}
