// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fees

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/internal/version"
)

const (
	// DefaultMaxBucketFeeMultiplier is the default multiplier used to find the
	// largest fee bucket, starting at the minimum fee.
	DefaultMaxBucketFeeMultiplier int = 100

	// DefaultMaxConfirmations is the default number of confirmation ranges to
	// track in the estimator.
	DefaultMaxConfirmations uint32 = 32

	// DefaultFeeRateStep is the default multiplier between two consecutive fee
	// rate buckets.
	DefaultFeeRateStep float64 = 1.1

	// defaultDecay is the factor applied to the confirmed samples on every
	// new block.
	defaultDecay float64 = 0.998

	// successPct is the share of transactions that must have confirmed within
	// the target for a bucket to be chosen.
	successPct = 0.95

	// maxAllowedBucketFees is an upper bound of how many bucket fees can be
	// used in the estimator. This is verified during estimator initialization
	// and loading.
	maxAllowedBucketFees = 2000

	// maxAllowedConfirms is an upper bound of how many confirmation ranges can
	// be used in the estimator. This is verified during estimator
	// initialization and loading.
	maxAllowedConfirms = 788
)

var (
	// ErrNoSuccessPctBucketFound is the error returned when no bucket has been
	// found with the minimum required percentage success.
	ErrNoSuccessPctBucketFound = errors.New("no bucket with the minimum " +
		"required success percentage found")

	// ErrNotEnoughTxsForEstimate is the error returned when not enough
	// transactions have been seen by the fee generator to give an estimate.
	ErrNotEnoughTxsForEstimate = errors.New("not enough transactions seen for " +
		"estimation")
)

// ErrTargetConfTooLarge is the type of error returned when an user of the
// estimator requested a confirmation range higher than tracked by the estimator.
type ErrTargetConfTooLarge struct {
	MaxConfirms int32
	ReqConfirms int32
}

func (e ErrTargetConfTooLarge) Error() string {
	return fmt.Sprintf("target confirmation requested (%d) higher than "+
		"maximum confirmation range tracked by estimator (%d)", e.ReqConfirms,
		e.MaxConfirms)
}

// EstimatorConfig stores the configuration parameters for a given fee
// estimator. It is used to initialize an empty fee estimator.
type EstimatorConfig struct {
	// MaxConfirms is the maximum number of confirmation ranges to check.
	MaxConfirms uint32

	// MinBucketFee is the value of the fee rate of the lowest bucket for which
	// estimation is tracked.
	MinBucketFee btcutil.Amount

	// MaxBucketFee is the value of the fee for the highest bucket for which
	// estimation is tracked.
	//
	// It MUST be higher than MinBucketFee.
	MaxBucketFee btcutil.Amount

	// ExtraBucketFee is an additional bucket fee rate to include in the
	// tracked buckets. It MUST have a value between MinBucketFee and
	// MaxBucketFee, otherwise it's ignored.
	ExtraBucketFee btcutil.Amount

	// FeeRateStep is the multiplier to generate the fee rate buckets (each
	// bucket is higher than the previous one by this factor).
	//
	// It MUST have a value > 1.0.
	FeeRateStep float64

	// Store backs the estimator state.  When nil, updates to the estimator
	// state are not persisted.
	Store Store

	// ReplaceBucketsOnLoad indicates whether to replace the buckets in the
	// current estimator by those stored in the loaded state instead of
	// validating that they are both using the same set of fees.
	ReplaceBucketsOnLoad bool
}

// pendingTx is a pooled transaction known to the estimator.
type pendingTx struct {
	height int32
	rate   feeRate
}

// Estimator tracks historical data for published and mined transactions in
// order to estimate fees to be used in new transactions for confirmation
// within a target block window.
type Estimator struct {
	lock          sync.RWMutex
	stats         *confirmStats
	pending       map[chainhash.Hash]pendingTx
	decay         float64
	bestHeight    int32
	replaceOnLoad bool
	store         Store
}

// NewEstimator returns an empty estimator given a config. This estimator
// then needs to be fed data for published and mined transactions before it can
// be used to estimate fees for new transactions.
//
// When the config names a store, the state kept there is loaded.
func NewEstimator(cfg *EstimatorConfig) (*Estimator, error) {
	// Sanity check the config.
	if cfg.MaxBucketFee <= cfg.MinBucketFee {
		return nil, errors.New("maximum bucket fee should not be lower than " +
			"minimum bucket fee")
	}
	if cfg.FeeRateStep <= 1.0 {
		return nil, errors.New("fee rate step should not be <= 1.0")
	}
	if cfg.MinBucketFee <= 0 {
		return nil, errors.New("minimum bucket fee rate cannot be <= 0")
	}
	if cfg.MaxConfirms > maxAllowedConfirms {
		return nil, fmt.Errorf("confirmation count requested (%d) larger than "+
			"maximum allowed (%d)", cfg.MaxConfirms, maxAllowedConfirms)
	}

	bounds := bucketBounds(float64(cfg.MinBucketFee),
		float64(cfg.MaxBucketFee), float64(cfg.ExtraBucketFee),
		cfg.FeeRateStep)
	est := &Estimator{
		stats:         newConfirmStats(bounds, int32(cfg.MaxConfirms)),
		pending:       make(map[chainhash.Hash]pendingTx),
		decay:         defaultDecay,
		bestHeight:    -1,
		replaceOnLoad: cfg.ReplaceBucketsOnLoad,
		store:         cfg.Store,
	}
	if est.store == nil {
		return est, nil
	}

	blob, err := est.store.Get()
	if err != nil {
		return nil, fmt.Errorf("error reading estimator state: %v", err)
	}
	if blob != nil {
		err = ReadEstimates(bytes.NewReader(blob), est, version.Number())
		if err != nil {
			return nil, fmt.Errorf("error loading estimator state: %v", err)
		}
		log.Debug("Loaded fee estimator state")
	}
	return est, nil
}

// DumpBuckets returns the internal estimator state as a string.
func (est *Estimator) DumpBuckets() string {
	est.lock.RLock()
	defer est.lock.RUnlock()
	return est.stats.dump()
}

// Save writes the confirmed bucket statistics to w.
//
// This is safe to be called from multiple goroutines.
func (est *Estimator) Save(w io.Writer) error {
	est.lock.RLock()
	defer est.lock.RUnlock()
	return est.save(w)
}

func (est *Estimator) save(w io.Writer) error {
	var buf bytes.Buffer
	est.stats.encode(&buf, est.bestHeight)
	_, err := w.Write(buf.Bytes())
	return err
}

// Load replaces the confirmed bucket statistics with those read from r.
//
// Unless the estimator was configured with ReplaceBucketsOnLoad, loading
// state written with a different set of fee buckets or confirmation range
// is an error.
//
// This is safe to be called from multiple goroutines.
func (est *Estimator) Load(r io.Reader) error {
	loaded, bestHeight, err := decodeConfirmStats(r)
	if err != nil {
		return err
	}

	est.lock.Lock()
	defer est.lock.Unlock()

	if !est.replaceOnLoad {
		if err := est.stats.sameBuckets(loaded); err != nil {
			return err
		}
	}

	// The waiting transactions survive only when the buckets did not
	// change.
	if est.stats.sameBuckets(loaded) == nil {
		loaded.waiting = est.stats.waiting
	} else {
		est.pending = make(map[chainhash.Hash]pendingTx)
	}
	est.stats = loaded
	if bestHeight > est.bestHeight {
		est.bestHeight = bestHeight
	}
	return nil
}

// persist writes the current state to the configured store.
//
// This function MUST be called with the estimator lock held.
func (est *Estimator) persist() error {
	if est.store == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := writeEstimates(&buf, est.save, version.Number()); err != nil {
		return err
	}
	return est.store.Put(buf.Bytes())
}

// EstimateFeeRate calculates the suggested fee rate per kB for a transaction
// to be confirmed in at most `targetConfs` blocks after publishing with a high
// degree of certainty.  The estimate is never below the lowest bucket.
//
// This function is safe to be called from multiple goroutines but might block
// until concurrent modifications to the internal state are complete.
func (est *Estimator) EstimateFeeRate(targetConfs int32) (btcutil.Amount, error) {
	est.lock.RLock()
	rate, err := est.stats.medianRate(targetConfs, successPct)
	minRate := est.stats.bounds[0]
	est.lock.RUnlock()
	if err != nil {
		return 0, err
	}

	rate = feeRate(math.Round(float64(rate)))
	if rate < minRate {
		rate = minRate
	}
	return btcutil.Amount(rate), nil
}

// Enable establishes the current best height of the blockchain after
// initializing the chain. All new mempool transactions will be added at this
// block height.
func (est *Estimator) Enable(bestHeight int32) {
	log.Debugf("Setting best height as %d", bestHeight)
	est.lock.Lock()
	est.bestHeight = bestHeight
	est.lock.Unlock()
}

// IsEnabled returns whether the fee estimator is ready to accept new mined and
// mempool transactions.
func (est *Estimator) IsEnabled() bool {
	est.lock.RLock()
	defer est.lock.RUnlock()
	return est.bestHeight > -1
}

// ProcessTransaction adds a mempool transaction to the estimator in order to
// account for it in the estimations. It assumes that this transaction is
// entering the mempool at the currently recorded best chain height, using the
// total fee amount (in atoms) and with the provided size (in bytes).
// Transactions paying less than the lowest bucket are not tracked.
//
// This is safe to be called from multiple goroutines.
func (est *Estimator) ProcessTransaction(txHash *chainhash.Hash, fee, size int64) {
	est.lock.Lock()
	defer est.lock.Unlock()

	if est.bestHeight < 0 || size <= 0 {
		return
	}
	if _, ok := est.pending[*txHash]; ok {
		return
	}

	// Dividing first rounds the rate down to whole atoms per byte.
	rate := feeRate(fee / size * 1000)
	if rate < est.stats.bounds[0] {
		return
	}

	log.Debugf("Adding mempool tx %s using fee rate %.8f", txHash, rate/1e8)
	est.pending[*txHash] = pendingTx{height: est.bestHeight, rate: rate}
	est.stats.addWaiting(rate)
}

// RemoveTransaction removes a mempool transaction from statistics tracking.
//
// This is safe to be called from multiple goroutines.
func (est *Estimator) RemoveTransaction(txHash *chainhash.Hash) {
	est.lock.Lock()
	defer est.lock.Unlock()

	tx, ok := est.pending[*txHash]
	if !ok {
		return
	}

	log.Debugf("Removing tx %s from mempool", txHash)
	est.stats.removeWaiting(est.bestHeight-tx.height, tx.rate)
	delete(est.pending, *txHash)
}

// processMinedTransaction moves a known pooled transaction into the
// confirmed statistics.  Unknown transactions are ignored so miners cannot
// skew the estimates with transactions they never published.
//
// This function MUST be called with the estimator lock held.
func (est *Estimator) processMinedTransaction(blockHeight int32, txHash *chainhash.Hash) {
	tx, ok := est.pending[*txHash]
	if !ok {
		log.Tracef("Processing previously unknown mined tx %s", txHash)
		return
	}

	est.stats.removeWaiting(blockHeight-tx.height, tx.rate)
	delete(est.pending, *txHash)

	delay := blockHeight - tx.height
	if delay <= 0 {
		log.Errorf("Mined transaction %s (%d) that was known from "+
			"mempool at a higher block height (%d)", txHash, blockHeight,
			tx.height)
		return
	}
	log.Debugf("Processing mined tx %s (rate %.8f, delay %d)", txHash,
		tx.rate/1e8, delay)
	est.stats.addMined(delay, tx.rate)
}

// ProcessBlock processes the pooled transactions confirmed by the block at
// blockHeight.  Blocks at or below the best height are ignored.
//
// This function is safe to be called from multiple goroutines.
func (est *Estimator) ProcessBlock(blockHeight int32, txHashes []chainhash.Hash) error {
	est.lock.Lock()
	defer est.lock.Unlock()

	if est.bestHeight < 0 {
		return nil
	}
	if blockHeight <= est.bestHeight {
		log.Warnf("Trying to process mined transactions at block %d when "+
			"previous best block was at height %d", blockHeight,
			est.bestHeight)
		return nil
	}

	log.Debugf("Updated moving averages into block %d", blockHeight)
	est.stats.newBlock(est.decay)
	est.bestHeight = blockHeight
	for i := range txHashes {
		est.processMinedTransaction(blockHeight, &txHashes[i])
	}
	return est.persist()
}

// Close closes the backing store (if any).
func (est *Estimator) Close() error {
	est.lock.Lock()
	defer est.lock.Unlock()

	if est.store == nil {
		return nil
	}
	log.Trace("Closing fee estimator store")
	err := est.store.Close()
	est.store = nil
	return err
}
