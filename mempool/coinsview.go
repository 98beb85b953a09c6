// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/blockchain"
	"github.com/safeblock/safed/wire"
)

// poolView overlays the outputs of pooled transactions on a confirmed view.
// Outputs of pooled transactions are reported at blockchain.MempoolHeight
// and are never coinbase outputs.  Whether a pooled output is already spent
// by another pooled transaction is not considered.
//
// Its methods MUST be called with the mempool lock held (for reads).
type poolView struct {
	mp   *TxPool
	base UtxoView
}

func (v *poolView) pooledOutput(op wire.OutPoint) (*wire.TxOut, bool, bool) {
	id, ok := v.mp.lookup(&op.Hash)
	if !ok {
		return nil, false, false
	}
	tx := v.mp.entries[id].tx
	if int(op.Index) >= len(tx.TxOut) {
		return nil, false, true
	}
	return tx.TxOut[op.Index], true, true
}

func (v *poolView) fetchOutput(op wire.OutPoint) (*wire.TxOut, bool) {
	out, ok, pooled := v.pooledOutput(op)
	if pooled || v.base == nil {
		return out, ok
	}
	return v.base.FetchOutput(op)
}

// FetchOutput satisfies indexers.OutputFetcher.
func (v *poolView) FetchOutput(op wire.OutPoint) (*wire.TxOut, bool) {
	return v.fetchOutput(op)
}

func (v *poolView) hasOutput(op wire.OutPoint) bool {
	_, ok, pooled := v.pooledOutput(op)
	if pooled || v.base == nil {
		return ok
	}
	return v.base.HasOutput(op)
}

func (v *poolView) outputHeight(op wire.OutPoint) (int32, bool) {
	_, ok, pooled := v.pooledOutput(op)
	if pooled {
		return blockchain.MempoolHeight, ok
	}
	if v.base == nil {
		return 0, false
	}
	return v.base.OutputHeight(op)
}

func (v *poolView) coinbaseMature(txid *chainhash.Hash, spendHeight int32) bool {
	if _, ok := v.mp.lookup(txid); ok {
		return true
	}
	if v.base == nil {
		return true
	}
	return v.base.CoinbaseMature(txid, spendHeight)
}

// CoinsView is a UtxoView that also sees the outputs of pooled transactions.
// It lets the acceptance pipeline check transactions that spend unconfirmed
// outputs.  Each call takes the pool lock for reads, so it must not be used
// while the pool lock is held.
type CoinsView struct {
	view poolView
}

// Ensure CoinsView implements UtxoView and the sequence lock height view.
var (
	_ UtxoView                   = (*CoinsView)(nil)
	_ blockchain.InputHeightView = (*CoinsView)(nil)
)

// CoinsView returns a view overlaying the pooled outputs on base.
func (mp *TxPool) CoinsView(base UtxoView) *CoinsView {
	return &CoinsView{view: poolView{mp: mp, base: base}}
}

// HasOutput returns whether the outpoint is a pooled output or unspent in the
// base view.
func (c *CoinsView) HasOutput(op wire.OutPoint) bool {
	c.view.mp.mtx.RLock()
	defer c.view.mp.mtx.RUnlock()
	return c.view.hasOutput(op)
}

// FetchOutput returns the pooled or confirmed output referenced by op.
func (c *CoinsView) FetchOutput(op wire.OutPoint) (*wire.TxOut, bool) {
	c.view.mp.mtx.RLock()
	defer c.view.mp.mtx.RUnlock()
	return c.view.fetchOutput(op)
}

// OutputHeight returns the confirmation height of the output, or
// blockchain.MempoolHeight for pooled outputs.
func (c *CoinsView) OutputHeight(op wire.OutPoint) (int32, bool) {
	c.view.mp.mtx.RLock()
	defer c.view.mp.mtx.RUnlock()
	return c.view.outputHeight(op)
}

// CoinbaseMature reports coinbase maturity from the base view.  Pooled
// transactions are never coinbases.
func (c *CoinsView) CoinbaseMature(txid *chainhash.Hash, spendHeight int32) bool {
	c.view.mp.mtx.RLock()
	defer c.view.mp.mtx.RUnlock()
	return c.view.coinbaseMature(txid, spendHeight)
}
