// Copyright (c) 2015-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
	"github.com/safeblock/safed/wire"
	"github.com/stretchr/testify/require"
)

func coinbaseTx(tag byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{},
		wire.MaxPrevOutIndex), []byte{tag}))
	tx.AddTxOut(wire.NewTxOut(5000, []byte{0x51}))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	return tx
}

func spendTx(prev *wire.MsgTx, index uint32, version int32) *wire.MsgTx {
	prevHash := prev.TxHash()
	tx := wire.NewMsgTx(version)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, index), nil))
	tx.AddTxOut(wire.NewTxOut(prev.TxOut[index].Value-10, []byte{0x51}))
	return tx
}

// TestUtxoViewConnectDisconnect ensures connecting and disconnecting a
// transaction leaves the view as it was.
func TestUtxoViewConnectDisconnect(t *testing.T) {
	t.Parallel()

	view := NewUtxoViewpoint()
	cb := coinbaseTx(1)
	cbHash := cb.TxHash()
	_, err := view.ConnectTransaction(cb, 1)
	require.NoError(t, err)
	require.True(t, view.HasOutput(*wire.NewOutPoint(&cbHash, 0)))

	spend := spendTx(cb, 0, wire.TxVersion)
	stxos, err := view.ConnectTransaction(spend, 2)
	require.NoError(t, err)
	require.Len(t, stxos, 1)
	require.False(t, view.HasOutput(*wire.NewOutPoint(&cbHash, 0)))
	require.True(t, view.HasOutput(*wire.NewOutPoint(&cbHash, 1)))

	// Double spends are rejected.
	_, err = view.ConnectTransaction(spendTx(cb, 0, wire.TxVersion), 2)
	require.Error(t, err)

	view.DisconnectTransaction(spend, stxos)
	out, ok := view.FetchOutput(*wire.NewOutPoint(&cbHash, 0))
	require.True(t, ok)
	require.Equal(t, int64(5000), out.Value)
	spendHash := spend.TxHash()
	require.Nil(t, view.LookupEntry(&spendHash))

	height, ok := view.OutputHeight(*wire.NewOutPoint(&cbHash, 0))
	require.True(t, ok)
	require.Equal(t, int32(1), height)
}

// TestCoinbaseMature checks the maturity window.
func TestCoinbaseMature(t *testing.T) {
	t.Parallel()

	view := NewUtxoViewpoint()
	cb := coinbaseTx(2)
	view.AddTxOuts(cb, 10)
	cbHash := cb.TxHash()

	require.False(t, view.CoinbaseMature(&cbHash, 10+CoinbaseMaturity-1))
	require.True(t, view.CoinbaseMature(&cbHash, 10+CoinbaseMaturity))

	unknown := chainhash.DoubleHashH([]byte("unknown"))
	require.True(t, view.CoinbaseMature(&unknown, 0))
}

// TestCalcSequenceLock exercises height and time based relative locks.
func TestCalcSequenceLock(t *testing.T) {
	t.Parallel()

	view := NewUtxoViewpoint()
	cb := coinbaseTx(3)
	view.AddTxOuts(cb, 100)
	median := func(height int32) time.Time {
		return time.Unix(int64(height)*600, 0)
	}

	// Version 1 transactions are never locked.
	lock, err := CalcSequenceLock(spendTx(cb, 0, 1), view, 200, median)
	require.NoError(t, err)
	require.Equal(t, &SequenceLock{MinHeight: -1, MinTime: -1}, lock)

	tx := spendTx(cb, 0, 2)
	tx.TxIn[0].Sequence = 10
	lock, err = CalcSequenceLock(tx, view, 200, median)
	require.NoError(t, err)
	require.Equal(t, int32(109), lock.MinHeight)
	require.False(t, SequenceLockActive(lock, 109, time.Unix(0, 0)))
	require.True(t, SequenceLockActive(lock, 110, time.Unix(0, 0)))

	tx.TxIn[0].Sequence = btcwire.SequenceLockTimeIsSeconds | 2
	lock, err = CalcSequenceLock(tx, view, 200, median)
	require.NoError(t, err)
	require.Equal(t, int64(99*600+2*512-1), lock.MinTime)

	missing := spendTx(cb, 1, 2)
	missing.TxIn[0].PreviousOutPoint.Index = 9
	missing.TxIn[0].Sequence = 1
	_, err = CalcSequenceLock(missing, view, 200, median)
	require.Error(t, err)
}

// TestIsFinalizedTransaction checks height and time based lock times.
func TestIsFinalizedTransaction(t *testing.T) {
	t.Parallel()

	tx := spendTx(coinbaseTx(4), 0, 1)
	require.True(t, IsFinalizedTransaction(tx, 1, time.Unix(0, 0)))

	tx.LockTime = 50
	tx.TxIn[0].Sequence = 0
	require.False(t, IsFinalizedTransaction(tx, 50, time.Unix(0, 0)))
	require.True(t, IsFinalizedTransaction(tx, 51, time.Unix(0, 0)))

	tx.TxIn[0].Sequence = wire.MaxTxInSequenceNum
	require.True(t, IsFinalizedTransaction(tx, 10, time.Unix(0, 0)))
}
