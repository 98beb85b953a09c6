// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

// RemovalReason describes why a transaction left the pool.
type RemovalReason int

// These constants identify why transactions are removed.
const (
	// RemovalReasonUnknown is used for explicit removals.
	RemovalReasonUnknown RemovalReason = iota

	// RemovalReasonExpiry is used for transactions older than the expiry
	// age.
	RemovalReasonExpiry

	// RemovalReasonSizeLimit is used for packages evicted to bring the
	// pool under its memory limit.
	RemovalReasonSizeLimit

	// RemovalReasonReorg is used for transactions that became invalid
	// after a chain reorganization.
	RemovalReasonReorg

	// RemovalReasonBlock is used for transactions confirmed by a block.
	RemovalReasonBlock

	// RemovalReasonConflict is used for transactions that spend an output
	// also spent by a confirmed transaction.
	RemovalReasonConflict
)

// Map of RemovalReason values back to their constant names for pretty
// printing.
var removalReasonStrings = map[RemovalReason]string{
	RemovalReasonUnknown:   "unknown",
	RemovalReasonExpiry:    "expiry",
	RemovalReasonSizeLimit: "sizelimit",
	RemovalReasonReorg:     "reorg",
	RemovalReasonBlock:     "block",
	RemovalReasonConflict:  "conflict",
}

// String returns the RemovalReason in human-readable form.
func (r RemovalReason) String() string {
	if s, ok := removalReasonStrings[r]; ok {
		return s
	}
	return "unknown"
}

// remove is the internal function which implements the public Remove.  See
// the comment for Remove for more details.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) remove(tx *wire.MsgTx, recursive bool, reason RemovalReason) {
	hash := tx.TxHash()
	id, ok := mp.lookup(&hash)
	if !recursive {
		if ok {
			mp.removeStaged(entrySet{id: {}}, true, reason)
		}
		return
	}

	var roots []EntryID
	if ok {
		roots = append(roots, id)
	} else {
		// The transaction itself is gone, but pooled spenders of its
		// outputs would now be orphans.
		for i := range tx.TxOut {
			op := wire.OutPoint{Hash: hash, Index: uint32(i)}
			if in, ok := mp.nextTx[op]; ok {
				roots = append(roots, in.id)
			}
		}
	}

	stage := make(entrySet)
	for _, root := range roots {
		mp.calculateDescendants(root, stage)
	}
	mp.removeStaged(stage, false, reason)
}

// Remove removes the passed transaction from the pool.  When recursive is
// set, every pooled descendant is removed with it, and if the transaction
// itself is not pooled the pooled spenders of its outputs are removed along
// with their descendants.  Otherwise only the transaction is removed and its
// children stay in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Remove(tx *wire.MsgTx, recursive bool) {
	mp.mtx.Lock()
	mp.remove(tx, recursive, RemovalReasonUnknown)
	mp.mtx.Unlock()
}

// removeConflicts is the internal function which implements the public
// RemoveConflicts.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeConflicts(tx *wire.MsgTx) {
	hash := tx.TxHash()
	for _, txIn := range tx.TxIn {
		in, ok := mp.nextTx[txIn.PreviousOutPoint]
		if !ok {
			continue
		}
		conflict := mp.entries[in.id]
		if conflict.hash == hash {
			continue
		}
		mp.clearPrioritisation(&conflict.hash)
		mp.remove(conflict.tx, true, RemovalReasonConflict)
	}
}

// RemoveConflicts removes every pooled transaction, along with its
// descendants, that spends an output also spent by tx.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveConflicts(tx *wire.MsgTx) {
	mp.mtx.Lock()
	mp.removeConflicts(tx)
	mp.mtx.Unlock()
}

// RemoveForReorg removes the transactions that are no longer valid after a
// chain reorganization: those that are not final or whose relative lock
// times are not satisfied in the next block, and those spending a coinbase
// output that is missing from the view or not yet mature at height.  The
// descendants of removed transactions are removed too.  Surviving entries
// whose cached lock points went stale have them refreshed.
//
// The caller must hold the chain state lock.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveForReorg(view UtxoView, height int32, flags int) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	toRemove := make(entrySet)
	for _, id := range mp.pool {
		e := mp.entries[id]
		lp := e.lockPoints
		validLP := mp.cfg.TestLockPointValidity == nil ||
			mp.cfg.TestLockPointValidity(&lp)

		switch {
		case mp.cfg.CheckFinal != nil && !mp.cfg.CheckFinal(e.tx, flags):
			toRemove.add(id)

		case mp.cfg.CheckSequenceLocks != nil &&
			!mp.cfg.CheckSequenceLocks(e.tx, flags, &lp, validLP):

			toRemove.add(id)

		case e.spendsCoinbase:
			for _, txIn := range e.tx.TxIn {
				op := txIn.PreviousOutPoint
				if _, ok := mp.lookup(&op.Hash); ok {
					continue
				}
				if !view.HasOutput(op) ||
					!view.CoinbaseMature(&op.Hash, height) {

					toRemove.add(id)
					break
				}
			}
		}

		if !validLP {
			e.lockPoints = lp
		}
	}

	stage := make(entrySet)
	for id := range toRemove {
		mp.calculateDescendants(id, stage)
	}
	mp.removeStaged(stage, false, RemovalReasonReorg)

	if len(stage) > 0 {
		log.Debugf("Removed %d %s invalidated by reorganization",
			len(stage), pickNoun(len(stage), "transaction",
				"transactions"))
	}
}

// RemoveForBlock removes the transactions confirmed by the block at height
// together with any pooled transactions conflicting with them.  Confirmed
// transactions are removed without their descendants, which stay pooled with
// reduced ancestor aggregates.  The fee estimator learns which pooled
// transactions were confirmed before they are removed.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveForBlock(txs []*wire.MsgTx, height int32) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	if mp.cfg.FeeEstimator != nil {
		var confirmed []chainhash.Hash
		for _, tx := range txs {
			hash := tx.TxHash()
			if _, ok := mp.lookup(&hash); ok {
				confirmed = append(confirmed, hash)
			}
		}
		if err := mp.cfg.FeeEstimator.ProcessBlock(height, confirmed); err != nil {
			log.Warnf("Unable to process block %d for fee "+
				"estimation: %v", height, err)
		}
	}

	for _, tx := range txs {
		hash := tx.TxHash()
		if id, ok := mp.lookup(&hash); ok {
			mp.removeStaged(entrySet{id: {}}, true, RemovalReasonBlock)
		}
		mp.removeConflicts(tx)
		mp.clearPrioritisation(&hash)
	}

	mp.recomputeDirty()
	mp.lastRollingFeeUpdate = mp.cfg.Now()
	mp.blockSinceLastRollingFeeBump = true
}

// Expire removes every transaction that entered the pool before cutoff along
// with its descendants and returns the number of transactions removed.
//
// This function is safe for concurrent access.
func (mp *TxPool) Expire(cutoff time.Time) int {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	return mp.expire(cutoff)
}

func (mp *TxPool) expire(cutoff time.Time) int {
	var expired []EntryID
	cutoffNano := cutoff.UnixNano()
	mp.orderings.byTime.Ascend(func(k orderKey) bool {
		if k.time >= cutoffNano {
			return false
		}
		expired = append(expired, k.id)
		return true
	})

	stage := make(entrySet)
	for _, id := range expired {
		mp.calculateDescendants(id, stage)
	}
	mp.removeStaged(stage, false, RemovalReasonExpiry)

	if n := len(stage); n > 0 {
		log.Debugf("Expired %d %s (remaining: %d)", n,
			pickNoun(n, "transaction", "transactions"), len(mp.pool))
	}
	return len(stage)
}

// TrimToSize evicts packages, worst descendant score first, until the
// dynamic memory usage is at most sizeLimit.  Each evicted package is the
// selected entry with all of its descendants, and the rolling minimum fee is
// raised above the fee rate of every evicted package.
//
// When wantUnspent is set, the hashes of the transactions referenced by
// evicted inputs that are neither pooled nor spent from by another pooled
// input are returned so the caller may drop them from its coins cache.
//
// This function is safe for concurrent access.
func (mp *TxPool) TrimToSize(sizeLimit int64, wantUnspent bool) []chainhash.Hash {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	return mp.trimToSize(sizeLimit, wantUnspent)
}

func (mp *TxPool) trimToSize(sizeLimit int64, wantUnspent bool) []chainhash.Hash {
	mp.recomputeDirty()

	var noSpendsRemaining []chainhash.Hash
	reported := make(map[chainhash.Hash]bool)
	var removed int
	var maxRateRemoved btcutil.Amount
	for len(mp.pool) > 0 && mp.usage > sizeLimit {
		worst, ok := mp.orderings.byDescScore.Min()
		if !ok {
			break
		}
		e := mp.entries[worst.id]

		// The new minimum is the fee rate of the evicted package plus
		// the incremental relay fee, so a package paying the same rate
		// cannot enter again without a block in between.
		rate := feeRate(e.descFees, e.descSize) +
			mp.cfg.Policy.IncrementalRelayFee
		mp.trackPackageRemoved(rate)
		if rate > maxRateRemoved {
			maxRateRemoved = rate
		}

		stage := make(entrySet)
		mp.calculateDescendants(worst.id, stage)
		removed += len(stage)

		var txns []*wire.MsgTx
		if wantUnspent {
			txns = make([]*wire.MsgTx, 0, len(stage))
			for id := range stage {
				txns = append(txns, mp.entries[id].tx)
			}
		}
		mp.removeStaged(stage, false, RemovalReasonSizeLimit)

		for _, tx := range txns {
			for _, txIn := range tx.TxIn {
				hash := txIn.PreviousOutPoint.Hash
				if _, ok := mp.lookup(&hash); ok {
					continue
				}
				if mp.spentFrom[hash] > 0 || reported[hash] {
					continue
				}
				reported[hash] = true
				noSpendsRemaining = append(noSpendsRemaining, hash)
			}
		}
	}

	if removed > 0 {
		log.Debugf("Removed %d %s to limit the pool size (new minimum "+
			"fee rate %v/kB)", removed, pickNoun(removed, "transaction",
			"transactions"), maxRateRemoved)
	}
	return noSpendsRemaining
}

// LimitSize expires transactions older than age and then trims the pool to
// sizeLimit.
//
// This function is safe for concurrent access.
func (mp *TxPool) LimitSize(sizeLimit int64, age time.Duration) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	mp.expire(mp.cfg.Now().Add(-age))
	mp.trimToSize(sizeLimit, false)
}
