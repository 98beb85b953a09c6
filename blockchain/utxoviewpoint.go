// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

const (
	// CoinbaseMaturity is the number of blocks required before newly mined
	// coins can be spent.
	CoinbaseMaturity = 100

	// MempoolHeight is the height reported for outputs that only exist in
	// the memory pool.
	MempoolHeight int32 = 0x7fffffff
)

// UtxoEntry contains contextual information about an unspent transaction such
// as whether or not it is a coinbase transaction, which block it was found in,
// and its still unspent outputs.
type UtxoEntry struct {
	isCoinBase    bool                   // Whether entry is a coinbase tx.
	blockHeight   int32                  // Height of block containing tx.
	sparseOutputs map[uint32]*wire.TxOut // Sparse map of unspent outputs.
}

// IsCoinBase returns whether or not the transaction the utxo entry represents
// is a coinbase.
func (entry *UtxoEntry) IsCoinBase() bool {
	return entry.isCoinBase
}

// BlockHeight returns the height of the block containing the transaction the
// utxo entry represents.
func (entry *UtxoEntry) BlockHeight() int32 {
	return entry.blockHeight
}

// IsOutputSpent returns whether or not the provided output index has been
// spent based upon the current state of the unspent transaction output view
// the entry was obtained from.
func (entry *UtxoEntry) IsOutputSpent(outputIndex uint32) bool {
	_, ok := entry.sparseOutputs[outputIndex]
	return !ok
}

// IsFullySpent returns whether or not the transaction the utxo entry
// represents is fully spent.
func (entry *UtxoEntry) IsFullySpent() bool {
	return len(entry.sparseOutputs) == 0
}

// Output returns the unspent output at the given index, or nil.
func (entry *UtxoEntry) Output(outputIndex uint32) *wire.TxOut {
	return entry.sparseOutputs[outputIndex]
}

// SpentTxOut records an output spent by a connected transaction so it can be
// restored on disconnect.
type SpentTxOut struct {
	OutPoint   wire.OutPoint
	Output     *wire.TxOut
	Height     int32
	IsCoinBase bool
}

// UtxoViewpoint represents a view into the set of unspent transaction outputs
// from a specific point of view in the chain.  For example, it could be for
// the end of the main chain, some point in the history of the main chain, or
// down a side chain.
//
// The view is not safe for concurrent access.  Callers serialize access with
// the chain state lock.
type UtxoViewpoint struct {
	entries    map[chainhash.Hash]*UtxoEntry
	bestHeight int32
}

// NewUtxoViewpoint returns a new empty unspent transaction output view.
func NewUtxoViewpoint() *UtxoViewpoint {
	return &UtxoViewpoint{
		entries: make(map[chainhash.Hash]*UtxoEntry),
	}
}

// BestHeight returns the height of the block the view represents.
func (view *UtxoViewpoint) BestHeight() int32 {
	return view.bestHeight
}

// SetBestHeight sets the height of the block the view represents.
func (view *UtxoViewpoint) SetBestHeight(height int32) {
	view.bestHeight = height
}

// LookupEntry returns information about a given transaction according to the
// current state of the view.  It will return nil if the passed transaction
// hash does not exist in the view or is otherwise not available such as when
// it has been disconnected during a reorg.
func (view *UtxoViewpoint) LookupEntry(txHash *chainhash.Hash) *UtxoEntry {
	return view.entries[*txHash]
}

// AddTxOuts adds all outputs in the passed transaction to the view.
func (view *UtxoViewpoint) AddTxOuts(tx *wire.MsgTx, blockHeight int32) {
	hash := tx.TxHash()
	entry := view.entries[hash]
	if entry == nil {
		entry = &UtxoEntry{
			isCoinBase:    tx.IsCoinBase(),
			blockHeight:   blockHeight,
			sparseOutputs: make(map[uint32]*wire.TxOut, len(tx.TxOut)),
		}
		view.entries[hash] = entry
	}
	for i, txOut := range tx.TxOut {
		entry.sparseOutputs[uint32(i)] = txOut
	}
}

// ConnectTransaction spends the inputs of the passed transaction and adds its
// outputs.  The spent outputs are returned so the transaction can later be
// disconnected.
func (view *UtxoViewpoint) ConnectTransaction(tx *wire.MsgTx, blockHeight int32) ([]SpentTxOut, error) {
	var stxos []SpentTxOut
	if !tx.IsCoinBase() {
		stxos = make([]SpentTxOut, 0, len(tx.TxIn))
		for _, txIn := range tx.TxIn {
			op := txIn.PreviousOutPoint
			entry := view.entries[op.Hash]
			if entry == nil || entry.IsOutputSpent(op.Index) {
				return nil, fmt.Errorf("output %v referenced from "+
					"transaction %s either does not exist or has "+
					"already been spent", op, tx.TxHash())
			}
			stxos = append(stxos, SpentTxOut{
				OutPoint:   op,
				Output:     entry.sparseOutputs[op.Index],
				Height:     entry.blockHeight,
				IsCoinBase: entry.isCoinBase,
			})
			delete(entry.sparseOutputs, op.Index)
			if entry.IsFullySpent() {
				delete(view.entries, op.Hash)
			}
		}
	}

	view.AddTxOuts(tx, blockHeight)
	return stxos, nil
}

// DisconnectTransaction removes the outputs of the passed transaction and
// restores the outputs it spent.
func (view *UtxoViewpoint) DisconnectTransaction(tx *wire.MsgTx, stxos []SpentTxOut) {
	delete(view.entries, tx.TxHash())
	for _, stxo := range stxos {
		entry := view.entries[stxo.OutPoint.Hash]
		if entry == nil {
			entry = &UtxoEntry{
				isCoinBase:    stxo.IsCoinBase,
				blockHeight:   stxo.Height,
				sparseOutputs: make(map[uint32]*wire.TxOut),
			}
			view.entries[stxo.OutPoint.Hash] = entry
		}
		entry.sparseOutputs[stxo.OutPoint.Index] = stxo.Output
	}
}

// HasOutput returns whether the outpoint is unspent in the view.
func (view *UtxoViewpoint) HasOutput(op wire.OutPoint) bool {
	entry := view.entries[op.Hash]
	return entry != nil && !entry.IsOutputSpent(op.Index)
}

// FetchOutput returns the unspent output referenced by the outpoint.
func (view *UtxoViewpoint) FetchOutput(op wire.OutPoint) (*wire.TxOut, bool) {
	entry := view.entries[op.Hash]
	if entry == nil {
		return nil, false
	}
	out, ok := entry.sparseOutputs[op.Index]
	return out, ok
}

// OutputHeight returns the height of the block containing the outpoint.
func (view *UtxoViewpoint) OutputHeight(op wire.OutPoint) (int32, bool) {
	entry := view.entries[op.Hash]
	if entry == nil || entry.IsOutputSpent(op.Index) {
		return 0, false
	}
	return entry.blockHeight, true
}

// CoinbaseMature returns false only when txid is a coinbase in the view that
// has not reached maturity by spendHeight.
func (view *UtxoViewpoint) CoinbaseMature(txid *chainhash.Hash, spendHeight int32) bool {
	entry := view.entries[*txid]
	if entry == nil || !entry.isCoinBase {
		return true
	}
	return spendHeight-entry.blockHeight >= CoinbaseMaturity
}
