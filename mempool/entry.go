// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"reflect"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

// EntryID is the stable handle of a pooled transaction.  Handles are reused
// after the transaction they refer to has been removed.
type EntryID uint32

// entrySet is a set of pooled transaction handles.
type entrySet map[EntryID]struct{}

func (s entrySet) add(id EntryID) {
	s[id] = struct{}{}
}

func (s entrySet) has(id EntryID) bool {
	_, ok := s[id]
	return ok
}

// LockPoints caches the relative lock time data of a pooled transaction so it
// does not need to be recomputed for every new block.  MaxInputBlock is the
// highest block containing one of the transaction's inputs; the lock points
// stay valid as long as that block remains in the main chain.
type LockPoints struct {
	Height        int32
	Time          int64
	MaxInputBlock *chainhash.Hash
}

// TxEntry is a transaction in the pool together with the metadata computed
// when it was accepted and the aggregate state of its in-pool ancestors and
// descendants.
//
// The aggregates of a dirty entry have collapsed to the entry's own values
// because the descendant walk that maintains them was cut short.  They are
// rebuilt by RecomputeDirty.
type TxEntry struct {
	tx             *wire.MsgTx
	hash           chainhash.Hash
	fee            int64
	feeDelta       int64
	time           time.Time
	height         int32
	priority       float64
	inChainValue   int64
	size           int64
	modSize        int64
	usage          int64
	sigOpCount     int64
	spendsCoinbase bool
	lockPoints     LockPoints

	descCount int64
	descSize  int64
	descFees  int64
	ancCount  int64
	ancSize   int64
	ancFees   int64
	ancSigOps int64
	dirty     bool

	// Pool bookkeeping.  Not set on entries returned by queries.
	id       EntryID
	key      orderKey
	parents  entrySet
	children entrySet
}

// NewTxEntry returns an entry describing the passed transaction as accepted
// at the given time and height.  Priority and inChainValue are usually
// obtained from CalcPriority.
func NewTxEntry(tx *wire.MsgTx, fee int64, t time.Time, height int32,
	priority float64, inChainValue int64, spendsCoinbase bool,
	sigOpCount int64, lp LockPoints) *TxEntry {

	size := int64(tx.SerializeSize())
	return &TxEntry{
		tx:             tx,
		hash:           tx.TxHash(),
		fee:            fee,
		time:           t,
		height:         height,
		priority:       priority,
		inChainValue:   inChainValue,
		size:           size,
		modSize:        calcModifiedSize(tx, size),
		usage:          int64(dynamicMemUsage(reflect.ValueOf(tx))),
		sigOpCount:     sigOpCount,
		spendsCoinbase: spendsCoinbase,
		lockPoints:     lp,
		descCount:      1,
		descSize:       size,
		descFees:       fee,
		ancCount:       1,
		ancSize:        size,
		ancFees:        fee,
		ancSigOps:      sigOpCount,
	}
}

// Tx returns the pooled transaction.
func (e *TxEntry) Tx() *wire.MsgTx { return e.tx }

// Hash returns the transaction hash.
func (e *TxEntry) Hash() chainhash.Hash { return e.hash }

// Fee returns the fee paid by the transaction.
func (e *TxEntry) Fee() int64 { return e.fee }

// FeeDelta returns the operator-applied fee adjustment.
func (e *TxEntry) FeeDelta() int64 { return e.feeDelta }

// ModifiedFee returns the fee plus any operator-applied delta.
func (e *TxEntry) ModifiedFee() int64 { return e.fee + e.feeDelta }

// Time returns when the transaction entered the pool.
func (e *TxEntry) Time() time.Time { return e.time }

// Height returns the chain height when the transaction entered the pool.
func (e *TxEntry) Height() int32 { return e.height }

// Size returns the serialized size of the transaction.
func (e *TxEntry) Size() int64 { return e.size }

// ModifiedSize returns the size used for priority calculations.
func (e *TxEntry) ModifiedSize() int64 { return e.modSize }

// Usage returns the dynamic memory used by the transaction.
func (e *TxEntry) Usage() int64 { return e.usage }

// SigOpCount returns the signature operation count of the transaction.
func (e *TxEntry) SigOpCount() int64 { return e.sigOpCount }

// SpendsCoinbase returns whether any input spends a coinbase output.
func (e *TxEntry) SpendsCoinbase() bool { return e.spendsCoinbase }

// LockPoints returns the cached relative lock time data.
func (e *TxEntry) LockPoints() LockPoints { return e.lockPoints }

// StartingPriority returns the priority at the time of acceptance.
func (e *TxEntry) StartingPriority() float64 { return e.priority }

// Priority returns the priority of the transaction at currentHeight, aging the
// starting priority by the value of its confirmed inputs.
func (e *TxEntry) Priority(currentHeight int32) float64 {
	if e.modSize == 0 {
		return e.priority
	}
	deltaPriority := float64(currentHeight-e.height) *
		float64(e.inChainValue) / float64(e.modSize)
	return e.priority + deltaPriority
}

// CountWithDescendants returns the number of in-pool descendants including
// the entry itself.
func (e *TxEntry) CountWithDescendants() int64 { return e.descCount }

// SizeWithDescendants returns the total size of the entry and its in-pool
// descendants.
func (e *TxEntry) SizeWithDescendants() int64 { return e.descSize }

// ModFeesWithDescendants returns the total modified fees of the entry and its
// in-pool descendants.
func (e *TxEntry) ModFeesWithDescendants() int64 { return e.descFees }

// CountWithAncestors returns the number of in-pool ancestors including the
// entry itself.
func (e *TxEntry) CountWithAncestors() int64 { return e.ancCount }

// SizeWithAncestors returns the total size of the entry and its in-pool
// ancestors.
func (e *TxEntry) SizeWithAncestors() int64 { return e.ancSize }

// ModFeesWithAncestors returns the total modified fees of the entry and its
// in-pool ancestors.
func (e *TxEntry) ModFeesWithAncestors() int64 { return e.ancFees }

// SigOpsWithAncestors returns the total signature operations of the entry and
// its in-pool ancestors.
func (e *TxEntry) SigOpsWithAncestors() int64 { return e.ancSigOps }

// IsDirty returns whether the descendant aggregates have collapsed to the
// entry's own values.
func (e *TxEntry) IsDirty() bool { return e.dirty }

// updateDescendantState adjusts the descendant aggregates.  Dirty entries are
// left untouched.
func (e *TxEntry) updateDescendantState(size, fee, count int64) {
	if e.dirty {
		return
	}
	e.descSize += size
	e.descFees += fee
	e.descCount += count
}

// updateAncestorState adjusts the ancestor aggregates.
func (e *TxEntry) updateAncestorState(size, fee, count, sigOps int64) {
	e.ancSize += size
	e.ancFees += fee
	e.ancCount += count
	e.ancSigOps += sigOps
}

// setDirty collapses the descendant aggregates to the entry's own values.
func (e *TxEntry) setDirty() {
	e.dirty = true
	e.descCount = 1
	e.descSize = e.size
	e.descFees = e.ModifiedFee()
}

// updateFeeDelta replaces the fee delta, carrying the change into both
// aggregates.
func (e *TxEntry) updateFeeDelta(newDelta int64) {
	e.descFees += newDelta - e.feeDelta
	e.ancFees += newDelta - e.feeDelta
	e.feeDelta = newDelta
}

// snapshot returns a copy of the entry safe to hand out of the pool.
func (e *TxEntry) snapshot() *TxEntry {
	c := *e
	c.parents = nil
	c.children = nil
	return &c
}
