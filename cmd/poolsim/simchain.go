// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/blockchain"
	"github.com/safeblock/safed/mempool"
	"github.com/safeblock/safed/wire"
	"github.com/sasha-s/go-deadlock"
)

const (
	// blockInterval is the simulated time between two blocks.
	blockInterval = 10 * time.Minute

	// coinbaseValue is the value of every simulated coinbase output.
	coinbaseValue = 50 * 1e8
)

// simBlock is a connected simulated block.  The coinbase comes first and its
// hash identifies the block.
type simBlock struct {
	txs   []*wire.MsgTx
	stxos [][]blockchain.SpentTxOut
}

func (b *simBlock) hash() chainhash.Hash {
	return b.txs[0].TxHash()
}

// simChain is a chain of simulated blocks kept as a utxo view.  Callers that
// also use the pool must take the chain lock first.
type simChain struct {
	mtx          deadlock.Mutex
	view         *blockchain.UtxoViewpoint
	genesis      time.Time
	blocks       []*simBlock
	heights      map[chainhash.Hash]int32
	payScript    []byte
	nextCoinbase uint32
}

// newSimChain returns a chain whose first block pays numOuts mature outputs to
// payScript.  The tip is placed beyond coinbase maturity.
func newSimChain(payScript []byte, numOuts int, genesis time.Time) *simChain {
	c := &simChain{
		view:      blockchain.NewUtxoViewpoint(),
		genesis:   genesis,
		heights:   make(map[chainhash.Hash]int32),
		payScript: payScript,
	}
	c.connect(c.coinbase(numOuts), nil)
	for c.height() <= blockchain.CoinbaseMaturity {
		c.connect(c.coinbase(1), nil)
	}
	return c
}

// height returns the height of the tip.  The first block is at height one.
func (c *simChain) height() int32 {
	return int32(len(c.blocks))
}

// medianTime returns the simulated past median time of the block at height.
func (c *simChain) medianTime(height int32) time.Time {
	return c.genesis.Add(time.Duration(height) * blockInterval)
}

// coinbase returns a new coinbase with numOuts outputs.
func (c *simChain) coinbase(numOuts int) *wire.MsgTx {
	var extra [8]byte
	binary.LittleEndian.PutUint32(extra[:], c.nextCoinbase)
	binary.LittleEndian.PutUint32(extra[4:], uint32(len(c.blocks)+1))
	c.nextCoinbase++

	var zeroHash chainhash.Hash
	tx := wire.NewMsgTx(wire.SafeTxVersion)
	prevOut := wire.NewOutPoint(&zeroHash, wire.MaxPrevOutIndex)
	tx.AddTxIn(wire.NewTxIn(prevOut, extra[:]))
	for i := 0; i < numOuts; i++ {
		tx.AddTxOut(wire.NewTxOut(coinbaseValue, c.payScript))
	}
	return tx
}

// connect extends the chain by a block made of the coinbase followed by txs.
// The view is left untouched when any transaction fails to connect.
func (c *simChain) connect(coinbase *wire.MsgTx, txs []*wire.MsgTx) error {
	height := c.height() + 1
	block := &simBlock{txs: append([]*wire.MsgTx{coinbase}, txs...)}
	for i, tx := range block.txs {
		stxos, err := c.view.ConnectTransaction(tx, height)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				c.view.DisconnectTransaction(block.txs[j],
					block.stxos[j])
			}
			return fmt.Errorf("block %d: %v", height, err)
		}
		block.stxos = append(block.stxos, stxos)
	}

	c.blocks = append(c.blocks, block)
	c.heights[block.hash()] = height
	c.view.SetBestHeight(height)
	return nil
}

// disconnectTip removes the tip block and returns it.
func (c *simChain) disconnectTip() *simBlock {
	block := c.blocks[len(c.blocks)-1]
	for i := len(block.txs) - 1; i >= 0; i-- {
		c.view.DisconnectTransaction(block.txs[i], block.stxos[i])
	}
	delete(c.heights, block.hash())
	c.blocks = c.blocks[:len(c.blocks)-1]
	c.view.SetBestHeight(c.height())
	return block
}

// spentValue returns the total value the transaction of the block spent.
func (b *simBlock) spentValue(i int) int64 {
	var total int64
	for _, stxo := range b.stxos[i] {
		total += stxo.Output.Value
	}
	return total
}

// heightView reports confirmed output heights and treats everything else as
// spendable from the pool.
type heightView struct {
	view *blockchain.UtxoViewpoint
}

func (v heightView) OutputHeight(op wire.OutPoint) (int32, bool) {
	if height, ok := v.view.OutputHeight(op); ok {
		return height, true
	}
	return blockchain.MempoolHeight, true
}

// checkFinal reports whether the transaction is final in the next block.
func (c *simChain) checkFinal(tx *wire.MsgTx, flags int) bool {
	next := c.height() + 1
	return blockchain.IsFinalizedTransaction(tx, next, c.medianTime(next-1))
}

// checkSequenceLocks reports whether the relative lock times of the
// transaction are met in the next block, recomputing the lock points unless
// the cached ones are trusted.
func (c *simChain) checkSequenceLocks(tx *wire.MsgTx, flags int,
	lp *mempool.LockPoints, useExisting bool) bool {

	next := c.height() + 1
	if !useExisting {
		lock, err := blockchain.CalcSequenceLock(tx, heightView{c.view},
			next, c.medianTime)
		if err != nil {
			return false
		}
		lp.Height = lock.MinHeight
		lp.Time = lock.MinTime
		lp.MaxInputBlock = c.maxInputBlock(tx)
	}
	lock := blockchain.SequenceLock{MinHeight: lp.Height, MinTime: lp.Time}
	return blockchain.SequenceLockActive(&lock, next, c.medianTime(next-1))
}

// maxInputBlock returns the hash of the highest block containing an output
// the transaction spends, or nil when every input is pooled.
func (c *simChain) maxInputBlock(tx *wire.MsgTx) *chainhash.Hash {
	var max int32
	for _, txIn := range tx.TxIn {
		height, ok := c.view.OutputHeight(txIn.PreviousOutPoint)
		if ok && height > max {
			max = height
		}
	}
	if max == 0 {
		return nil
	}
	hash := c.blocks[max-1].hash()
	return &hash
}

// lockPointsValid reports whether the block the lock points were computed
// against is still part of the chain.
func (c *simChain) lockPointsValid(lp *mempool.LockPoints) bool {
	if lp.MaxInputBlock == nil {
		return true
	}
	_, ok := c.heights[*lp.MaxInputBlock]
	return ok
}
