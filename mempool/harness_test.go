// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/safeblock/safed/blockchain"
	"github.com/safeblock/safed/wire"
	"github.com/stretchr/testify/require"
)

// testChainParams are the parameters every test pool decodes addresses with.
var testChainParams = &chaincfg.MainNetParams

// zeroHash is the previous outpoint hash of coinbase inputs.
var zeroHash chainhash.Hash

// fundValue is the value of every output of a funding coinbase.
const fundValue = 100000000

// poolHarness provides a harness that includes functionality for creating
// transactions as well as a fake chain that provides utxos for use in
// generating valid transactions.
type poolHarness struct {
	t *testing.T

	// chain holds the confirmed outputs the pooled transactions spend.
	chain *blockchain.UtxoViewpoint

	// now is the fake clock handed to the pool.
	now time.Time

	// height is the height of the fake chain tip.
	height int32

	// values holds the value of every output created by the harness, so
	// transactions can spend outputs of parents that are not pooled yet.
	values map[wire.OutPoint]int64

	payScript    []byte
	nextCoinbase uint32
	limits       Limits
	pool         *TxPool
}

// newPoolHarness returns a harness around a new pool.  The optional function
// may adjust the pool configuration before the pool is created.
func newPoolHarness(t *testing.T, modify func(cfg *Config)) *poolHarness {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(make([]byte, 20),
		testChainParams)
	require.NoError(t, err)
	payScript, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	h := &poolHarness{
		t:         t,
		chain:     blockchain.NewUtxoViewpoint(),
		now:       time.Unix(1600000000, 0),
		height:    200,
		values:    make(map[wire.OutPoint]int64),
		payScript: payScript,
		limits:    DefaultPolicy().Limits,
	}
	h.chain.SetBestHeight(h.height)

	cfg := &Config{
		Policy:      DefaultPolicy(),
		ChainParams: testChainParams,
		Now:         func() time.Time { return h.now },
	}
	if modify != nil {
		modify(cfg)
	}
	h.pool = New(cfg)
	return h
}

// fundAt adds a coinbase with numOuts outputs mined at height to the fake
// chain.
func (h *poolHarness) fundAt(height int32, numOuts int) *wire.MsgTx {
	h.t.Helper()

	// A unique signature script keeps every coinbase hash distinct.
	var extra [4]byte
	binary.LittleEndian.PutUint32(extra[:], h.nextCoinbase)
	h.nextCoinbase++

	tx := wire.NewMsgTx(wire.SafeTxVersion)
	prevOut := wire.NewOutPoint(&zeroHash, wire.MaxPrevOutIndex)
	tx.AddTxIn(wire.NewTxIn(prevOut, extra[:]))
	for i := 0; i < numOuts; i++ {
		tx.AddTxOut(wire.NewTxOut(fundValue, h.payScript))
	}
	h.chain.AddTxOuts(tx, height)
	h.record(tx)
	return tx
}

// record remembers the values of the outputs of the transaction.
func (h *poolHarness) record(tx *wire.MsgTx) {
	hash := tx.TxHash()
	for i, out := range tx.TxOut {
		h.values[wire.OutPoint{Hash: hash, Index: uint32(i)}] = out.Value
	}
}

// fund adds a mature coinbase with numOuts outputs to the fake chain.
func (h *poolHarness) fund(numOuts int) *wire.MsgTx {
	h.t.Helper()
	return h.fundAt(1, numOuts)
}

// value returns the value of an output created by the harness, or else of a
// confirmed or pooled output.
func (h *poolHarness) value(op wire.OutPoint) int64 {
	h.t.Helper()

	if v, ok := h.values[op]; ok {
		return v
	}
	if out, ok := h.chain.FetchOutput(op); ok {
		return out.Value
	}
	tx, err := h.pool.FetchTransaction(&op.Hash)
	require.NoError(h.t, err, "output %v is unknown", op)
	require.Less(h.t, int(op.Index), len(tx.TxOut))
	return tx.TxOut[op.Index].Value
}

// spend returns an entry for a transaction spending the outpoints into
// numOuts equal outputs and paying fee.
func (h *poolHarness) spend(fee int64, numOuts int, ins ...wire.OutPoint) *TxEntry {
	h.t.Helper()

	var total int64
	tx := wire.NewMsgTx(wire.SafeTxVersion)
	for i := range ins {
		total += h.value(ins[i])
		tx.AddTxIn(wire.NewTxIn(&ins[i], nil))
	}
	require.Greater(h.t, total, fee)
	for i := 0; i < numOuts; i++ {
		tx.AddTxOut(wire.NewTxOut((total-fee)/int64(numOuts),
			h.payScript))
	}
	return h.entry(tx, fee)
}

// entry wraps the transaction in an entry accepted at the current time.
func (h *poolHarness) entry(tx *wire.MsgTx, fee int64) *TxEntry {
	h.record(tx)
	return NewTxEntry(tx, fee, h.now, h.height, 0, 0, false, 1,
		LockPoints{})
}

// add submits the entry under the harness limits.
func (h *poolHarness) add(e *TxEntry) error {
	return h.pool.AddTransaction(e, h.chain, h.limits)
}

// mustAdd submits the entry and fails the test when it is rejected.
func (h *poolHarness) mustAdd(e *TxEntry) chainhash.Hash {
	h.t.Helper()
	require.NoError(h.t, h.add(e))
	return e.Hash()
}

// poolEntry returns the pooled snapshot of the transaction.
func (h *poolHarness) poolEntry(hash chainhash.Hash) *TxEntry {
	h.t.Helper()
	e, err := h.pool.Entry(&hash)
	require.NoError(h.t, err)
	return e
}

// check fails the test when the pool is inconsistent with itself or the fake
// chain.
func (h *poolHarness) check() {
	h.t.Helper()
	require.NoError(h.t, h.pool.Check(h.chain))
}

// confirm connects the transaction to the fake chain in a new block and
// removes it from the pool.
func (h *poolHarness) confirm(txs ...*wire.MsgTx) {
	h.t.Helper()

	h.height++
	h.chain.SetBestHeight(h.height)
	for _, tx := range txs {
		_, err := h.chain.ConnectTransaction(tx, h.height)
		require.NoError(h.t, err)
	}
	h.pool.RemoveForBlock(txs, h.height)
}

// outpoint returns the outpoint of output index of the entry.
func outpoint(e *TxEntry, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: e.Hash(), Index: index}
}

// txOut returns the outpoint of output index of the transaction.
func txOut(tx *wire.MsgTx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: index}
}

// limitReason extracts the reason of a package limit rejection.
func limitReason(t *testing.T, err error) LimitReason {
	t.Helper()

	var limitErr *AncestorLimitError
	require.ErrorAs(t, err, &limitErr)
	return limitErr.Reason
}
