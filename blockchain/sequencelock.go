// Copyright (c) 2017-2018 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/safeblock/safed/wire"
)

// SequenceLock represents the minimum timestamp and minimum block height after
// which a transaction can be included into a block while satisfying the
// relative lock times of all of its input sequence numbers.  Each field may be
// -1 if none of the input sequence numbers require a specific relative lock
// time for the respective type.
type SequenceLock struct {
	MinHeight int32
	MinTime   int64
}

// InputHeightView reports the confirmation height of spent outputs.  Outputs
// that only exist in the memory pool report MempoolHeight.
type InputHeightView interface {
	OutputHeight(op wire.OutPoint) (int32, bool)
}

// MedianTimeFunc returns the past median time of the block at height.
type MedianTimeFunc func(height int32) time.Time

// CalcSequenceLock computes the relative lock times for the passed transaction
// as if it were included in the block at nextHeight.  The view supplies the
// heights of the referenced outputs and medianTime the past median time of
// the block before each of them.
func CalcSequenceLock(tx *wire.MsgTx, view InputHeightView, nextHeight int32,
	medianTime MedianTimeFunc) (*SequenceLock, error) {

	// A value of -1 for each lock type allows a transaction to be included
	// in a block at any given height or time.
	sequenceLock := &SequenceLock{MinHeight: -1, MinTime: -1}

	// Sequence locks do not apply if the tx version is less than 2 or the
	// tx is a coinbase.
	if tx.Version < 2 || tx.IsCoinBase() {
		return sequenceLock, nil
	}

	for txInIndex, txIn := range tx.TxIn {
		// Nothing to calculate for this input when relative time locks
		// are disabled for it.
		sequenceNum := txIn.Sequence
		if sequenceNum&btcwire.SequenceLockTimeDisabled != 0 {
			continue
		}

		inputHeight, ok := view.OutputHeight(txIn.PreviousOutPoint)
		if !ok {
			return sequenceLock, fmt.Errorf("output %v referenced "+
				"from transaction %s:%d either does not exist or "+
				"has already been spent", txIn.PreviousOutPoint,
				tx.TxHash(), txInIndex)
		}
		if inputHeight == MempoolHeight {
			inputHeight = nextHeight
		}

		relativeLock := int64(sequenceNum & btcwire.SequenceLockTimeMask)
		if sequenceNum&btcwire.SequenceLockTimeIsSeconds != 0 {
			prevInputHeight := inputHeight - 1
			if prevInputHeight < 0 {
				prevInputHeight = 0
			}
			relativeSecs := relativeLock << btcwire.SequenceLockTimeGranularity
			minTime := medianTime(prevInputHeight).Unix() + relativeSecs - 1
			if minTime > sequenceLock.MinTime {
				sequenceLock.MinTime = minTime
			}
		} else {
			minHeight := inputHeight + int32(relativeLock) - 1
			if minHeight > sequenceLock.MinHeight {
				sequenceLock.MinHeight = minHeight
			}
		}
	}

	return sequenceLock, nil
}

// SequenceLockActive determines if a transaction's sequence locks have been
// met, meaning that all the inputs of a given transaction have reached a
// height or time sufficient for their relative lock-time maturity.
func SequenceLockActive(sequenceLock *SequenceLock, blockHeight int32,
	medianTimePast time.Time) bool {

	// If either the seconds, or height relative-lock time has not yet
	// reached, then the transaction is not yet mature according to its
	// sequence locks.
	if sequenceLock.MinTime >= medianTimePast.Unix() ||
		sequenceLock.MinHeight >= blockHeight {
		return false
	}

	return true
}

// IsFinalizedTransaction determines whether or not a transaction is finalized.
func IsFinalizedTransaction(tx *wire.MsgTx, blockHeight int32, blockTime time.Time) bool {
	// Lock time of zero means the transaction is finalized.
	lockTime := tx.LockTime
	if lockTime == 0 {
		return true
	}

	// The lock time field of a transaction is either a block height at
	// which the transaction is finalized or a timestamp depending on if the
	// value is before the txscript.LockTimeThreshold.  When it is under the
	// threshold it is a block height.
	var blockTimeOrHeight int64
	if lockTime < txscript.LockTimeThreshold {
		blockTimeOrHeight = int64(blockHeight)
	} else {
		blockTimeOrHeight = blockTime.Unix()
	}
	if int64(lockTime) < blockTimeOrHeight {
		return true
	}

	// At this point, the transaction's lock time hasn't occurred yet, but
	// the transaction might still be finalized if the sequence number
	// for all transaction inputs is maxed out.
	for _, txIn := range tx.TxIn {
		if txIn.Sequence != math.MaxUint32 {
			return false
		}
	}
	return true
}
