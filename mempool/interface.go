// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"io"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

// UtxoView is the read-only view of confirmed unspent outputs the pool
// consults.  Outputs of pooled transactions are never part of it.
type UtxoView interface {
	// HasOutput returns whether the outpoint is unspent.
	HasOutput(op wire.OutPoint) bool

	// FetchOutput returns the unspent output referenced by the outpoint.
	FetchOutput(op wire.OutPoint) (*wire.TxOut, bool)

	// OutputHeight returns the height of the block containing the
	// outpoint.
	OutputHeight(op wire.OutPoint) (int32, bool)

	// CoinbaseMature returns false only when txid is a coinbase that
	// cannot yet be spent in a block at spendHeight.
	CoinbaseMature(txid *chainhash.Hash, spendHeight int32) bool
}

// FeeEstimator is the fee estimation collaborator the pool feeds with
// accepted, confirmed and removed transactions.
type FeeEstimator interface {
	// EstimateFeeRate returns the fee rate in atoms/kB expected to get a
	// transaction confirmed within targetBlocks.
	EstimateFeeRate(targetBlocks int32) (btcutil.Amount, error)

	// ProcessBlock records the pooled transactions confirmed by the block
	// at height.  It is called before they leave the pool.
	ProcessBlock(height int32, txHashes []chainhash.Hash) error

	// ProcessTransaction records a newly pooled transaction.
	ProcessTransaction(txHash *chainhash.Hash, fee, size int64)

	// RemoveTransaction forgets a transaction that left the pool
	// without being confirmed.
	RemoveTransaction(txHash *chainhash.Hash)

	// Save writes the opaque estimator state.
	Save(w io.Writer) error

	// Load replaces the estimator state with one written by Save.
	Load(r io.Reader) error
}

// TxMempool defines an interface that's used by other subsystems to interact
// with the mempool.
type TxMempool interface {
	// LastUpdated returns the last time a transaction was added to or
	// removed from the pool.
	LastUpdated() time.Time

	// Count returns the number of transactions in the pool.
	Count() int

	// TxHashes returns the hashes of all pooled transactions.
	TxHashes() []*chainhash.Hash

	// Entry returns a snapshot of the pooled transaction with the given
	// hash.
	Entry(hash *chainhash.Hash) (*TxEntry, error)

	// Exists returns whether the transaction is pooled.
	Exists(hash *chainhash.Hash) bool

	// MiningDescs returns snapshots of all pooled transactions in
	// ancestor score order.
	MiningDescs() []*TxEntry

	// RemoveForBlock removes the transactions confirmed by a block.
	RemoveForBlock(txs []*wire.MsgTx, height int32)

	// GetMinFee returns the minimum fee rate a new transaction must pay.
	GetMinFee(sizeLimit int64) btcutil.Amount
}
