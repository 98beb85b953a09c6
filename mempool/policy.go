// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"math"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/safeblock/safed/blockchain"
	"github.com/safeblock/safed/wire"
)

const (
	// DefaultAncestorLimit is the default maximum number of in-pool
	// ancestors a transaction may have.
	DefaultAncestorLimit = 25

	// DefaultAncestorSizeLimit is the default maximum size in bytes of a
	// transaction together with all of its in-pool ancestors.
	DefaultAncestorSizeLimit = 101000

	// DefaultDescendantLimit is the default maximum number of in-pool
	// descendants, including itself, any pooled transaction may have.
	DefaultDescendantLimit = 25

	// DefaultDescendantSizeLimit is the default maximum size in bytes of a
	// pooled transaction together with all of its in-pool descendants.
	DefaultDescendantSizeLimit = 101000

	// DefaultMaxPoolSize is the default dynamic memory limit of the pool
	// in bytes.
	DefaultMaxPoolSize = 300000000

	// DefaultExpiry is the default age after which pooled transactions
	// are expired.
	DefaultExpiry = 72 * time.Hour

	// DefaultIncrementalRelayFee is the default fee rate in atoms/kB that
	// is added to the fee rate of an evicted package when raising the
	// rolling minimum fee.
	DefaultIncrementalRelayFee = btcutil.Amount(1000)

	// DefaultMaxDescendantVisit is the number of descendants that may be
	// visited when updating the aggregates of a single re-added
	// transaction before it is marked dirty.
	DefaultMaxDescendantVisit = 100

	// rollingFeeHalfLife is the base half-life of the rolling minimum fee.
	rollingFeeHalfLife = 12 * time.Hour

	// rollingFeeUpdateInterval is the minimum time between two decays of
	// the rolling minimum fee.
	rollingFeeUpdateInterval = 10 * time.Second
)

// Limits bounds the size of the in-pool package of a transaction.
type Limits struct {
	// MaxAncestors is the maximum number of in-pool ancestors, not
	// counting the transaction itself.
	MaxAncestors uint64

	// MaxAncestorSize is the maximum size in bytes of the transaction
	// plus all of its in-pool ancestors.
	MaxAncestorSize uint64

	// MaxDescendants is the maximum number of in-pool descendants of any
	// ancestor, counting the ancestor itself.
	MaxDescendants uint64

	// MaxDescendantSize is the maximum size in bytes of any ancestor plus
	// all of its in-pool descendants.
	MaxDescendantSize uint64
}

// NoLimits disables every package limit.  It is used when the ancestors of an
// already accepted transaction are recomputed.
var NoLimits = Limits{
	MaxAncestors:      math.MaxUint64,
	MaxAncestorSize:   math.MaxUint64,
	MaxDescendants:    math.MaxUint64,
	MaxDescendantSize: math.MaxUint64,
}

// Policy houses the policy (configuration parameters) which is used to
// control the mempool.
type Policy struct {
	// Limits are the package limits applied to newly accepted
	// transactions.
	Limits Limits

	// MaxPoolSize is the dynamic memory usage in bytes above which
	// TrimToSize evicts packages.
	MaxPoolSize int64

	// Expiry is the age after which LimitSize expires transactions.
	Expiry time.Duration

	// IncrementalRelayFee is the fee rate in atoms/kB added on top of the
	// fee rate of an evicted package when raising the rolling minimum
	// fee.
	IncrementalRelayFee btcutil.Amount

	// MaxDescendantVisit bounds the descendant walk of a single
	// transaction in UpdateTransactionsFromBlock.
	MaxDescendantVisit int
}

// DefaultPolicy returns the policy the pool uses when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Limits: Limits{
			MaxAncestors:      DefaultAncestorLimit,
			MaxAncestorSize:   DefaultAncestorSizeLimit,
			MaxDescendants:    DefaultDescendantLimit,
			MaxDescendantSize: DefaultDescendantSizeLimit,
		},
		MaxPoolSize:         DefaultMaxPoolSize,
		Expiry:              DefaultExpiry,
		IncrementalRelayFee: DefaultIncrementalRelayFee,
		MaxDescendantVisit:  DefaultMaxDescendantVisit,
	}
}

// feeRate returns the fee rate in atoms/kB of paying fee for size bytes.
func feeRate(fee, size int64) btcutil.Amount {
	if size <= 0 {
		return 0
	}
	return btcutil.Amount(fee * 1000 / size)
}

// calcModifiedSize returns the serialized size of the transaction less the
// constant overhead of each input and enough of its signature script to cover
// a pay-to-script-hash redemption with a compressed pubkey.  This makes
// additional inputs free for priority purposes.
//
// The constant overhead for a txin is 41 bytes since the previous outpoint is
// 36 bytes + 4 bytes for the sequence + 1 byte the signature script length.
// A compressed pubkey pay-to-script-hash redemption with a maximum len
// signature is 1 + 73 + 1 + 1 + 33 + 1 = 110 bytes.
func calcModifiedSize(tx *wire.MsgTx, size int64) int64 {
	var overhead int64
	for _, txIn := range tx.TxIn {
		overhead += 41 + int64(minInt(110, len(txIn.SignatureScript)))
	}
	if size > overhead {
		return size - overhead
	}
	return size
}

// calcInputValueAge is a helper function used to calculate the input age of
// a transaction.  The input age for a txin is the number of confirmations
// since the referenced txout multiplied by its output value.  The total input
// age is the sum of this value for each txin.  Any inputs to the transaction
// which are currently in the mempool and hence not mined into a block yet,
// contribute no additional input age to the transaction.
func calcInputValueAge(tx *wire.MsgTx, view UtxoView, nextBlockHeight int32) (float64, int64) {
	var totalInputAge float64
	var inChainValue int64
	for _, txIn := range tx.TxIn {
		// Don't attempt to accumulate the total input age if the
		// referenced transaction output doesn't exist.
		out, ok := view.FetchOutput(txIn.PreviousOutPoint)
		if !ok {
			continue
		}
		height, ok := view.OutputHeight(txIn.PreviousOutPoint)
		if !ok || height == blockchain.MempoolHeight {
			continue
		}
		inChainValue += out.Value
		totalInputAge += float64(out.Value) * float64(nextBlockHeight-height)
	}
	return totalInputAge, inChainValue
}

// CalcPriority returns a transaction priority given a transaction and the sum
// of each of its input values multiplied by their age (# of confirmations).
// Thus, the final formula for the priority is:
// sum(inputValue * inputAge) / adjustedTxSize
//
// The sum of the values of the inputs that are already confirmed is also
// returned so the priority can later be aged by TxEntry.Priority.
func CalcPriority(tx *wire.MsgTx, view UtxoView, nextBlockHeight int32) (float64, int64) {
	size := int64(tx.SerializeSize())
	modSize := calcModifiedSize(tx, size)
	valueAge, inChainValue := calcInputValueAge(tx, view, nextBlockHeight)
	if modSize <= 0 {
		return 0, inChainValue
	}
	return valueAge / float64(modSize), inChainValue
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
