// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

// Check verifies the internal consistency of the pool: the graph links
// against the inputs of every entry, the spent outpoint map, the aggregates
// of every entry, the orderings and the running totals.  When view is not
// nil every input spending a confirmed output must be present in it.  The
// first inconsistency found is returned.
//
// This function is safe for concurrent access.
func (mp *TxPool) Check(view UtxoView) error {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	var totalTxSize, usage int64
	checkAncestors := !mp.hasDirty()
	for hash, id := range mp.pool {
		e := mp.entries[id]
		if e == nil || e.hash != hash || e.id != id {
			return fmt.Errorf("entry %v is not stored under its handle",
				hash)
		}
		totalTxSize += e.size
		usage += e.usage + entryOverhead +
			int64(len(e.parents)+len(e.children))*linkOverhead

		if err := mp.checkLinks(e, view); err != nil {
			return err
		}
		if err := mp.checkAggregates(e, checkAncestors); err != nil {
			return err
		}

		if e.key != makeOrderKey(e) {
			return fmt.Errorf("order key of %v is stale", hash)
		}
		if !mp.orderings.byTime.Has(e.key) ||
			!mp.orderings.byDescScore.Has(e.key) ||
			!mp.orderings.byAncScore.Has(e.key) {

			return fmt.Errorf("%v is missing from an ordering", hash)
		}
	}

	for op, in := range mp.nextTx {
		if int(in.id) >= len(mp.entries) || mp.entries[in.id] == nil {
			return fmt.Errorf("spend of %v refers to a removed entry", op)
		}
		e := mp.entries[in.id]
		if int(in.index) >= len(e.tx.TxIn) ||
			e.tx.TxIn[in.index].PreviousOutPoint != op {

			return fmt.Errorf("spend of %v does not match input %d of %v",
				op, in.index, e.hash)
		}
	}
	usage += int64(len(mp.nextTx)) * nextTxOverhead

	spentFrom := make(map[chainhash.Hash]int, len(mp.spentFrom))
	for op := range mp.nextTx {
		spentFrom[op.Hash]++
	}
	if len(spentFrom) != len(mp.spentFrom) {
		return fmt.Errorf("%d transactions are spent from, %d tracked",
			len(spentFrom), len(mp.spentFrom))
	}
	for hash, n := range spentFrom {
		if mp.spentFrom[hash] != n {
			return fmt.Errorf("%d outputs of %v are spent, %d tracked",
				n, hash, mp.spentFrom[hash])
		}
	}
	usage += int64(len(mp.spentFrom))*spentFromOverhead +
		int64(len(mp.deltas))*deltaOverhead

	n := len(mp.pool)
	if mp.orderings.byTime.Len() != n || mp.orderings.byDescScore.Len() != n ||
		mp.orderings.byAncScore.Len() != n {

		return fmt.Errorf("orderings hold %d/%d/%d entries, pool %d",
			mp.orderings.byTime.Len(), mp.orderings.byDescScore.Len(),
			mp.orderings.byAncScore.Len(), n)
	}
	if totalTxSize != mp.totalTxSize {
		return fmt.Errorf("total size %d, entries sum to %d",
			mp.totalTxSize, totalTxSize)
	}
	if usage != mp.usage {
		return fmt.Errorf("dynamic usage %d, entries sum to %d", mp.usage,
			usage)
	}
	return nil
}

// checkLinks verifies the parents, children and spends of one entry.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) checkLinks(e *TxEntry, view UtxoView) error {
	parents := make(entrySet)
	fetcher := &poolView{mp: mp, base: view}
	for i, txIn := range e.tx.TxIn {
		op := txIn.PreviousOutPoint
		prevOut, known := fetcher.fetchOutput(op)
		if !known && view != nil {
			return fmt.Errorf("input %d of %v spends missing output %v",
				i, e.hash, op)
		}
		if known && mp.isCandyClaim(txIn, prevOut) {
			continue
		}

		in, ok := mp.nextTx[op]
		if !ok && !known && len(txIn.SignatureScript) == 0 {
			// Without a view a candy claim on a confirmed output
			// cannot be told apart.
			continue
		}
		if !ok || in.id != e.id || in.index != uint32(i) {
			return fmt.Errorf("input %d of %v is not tracked as the "+
				"spender of %v", i, e.hash, op)
		}
		if pid, ok := mp.lookup(&op.Hash); ok {
			parents.add(pid)
		}
	}
	if !sameSet(parents, e.parents) {
		return fmt.Errorf("parents of %v do not match its inputs", e.hash)
	}
	for pid := range e.parents {
		if !mp.entries[pid].children.has(e.id) {
			return fmt.Errorf("%v is not a child of its parent %v",
				e.hash, mp.entries[pid].hash)
		}
	}

	children := make(entrySet)
	for i := range e.tx.TxOut {
		op := wire.OutPoint{Hash: e.hash, Index: uint32(i)}
		if in, ok := mp.nextTx[op]; ok {
			children.add(in.id)
		}
	}
	if !sameSet(children, e.children) {
		return fmt.Errorf("children of %v do not match the spends of "+
			"its outputs", e.hash)
	}
	return nil
}

// checkAggregates recomputes the aggregates of one entry from the graph.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) checkAggregates(e *TxEntry, checkAncestors bool) error {
	if e.dirty {
		if e.descCount != 1 || e.descSize != e.size ||
			e.descFees != e.ModifiedFee() {

			return fmt.Errorf("dirty entry %v has non-trivial "+
				"descendant state", e.hash)
		}
	} else {
		descendants := make(entrySet)
		mp.calculateDescendants(e.id, descendants)
		var size, fee int64
		for did := range descendants {
			size += mp.entries[did].size
			fee += mp.entries[did].ModifiedFee()
		}
		if e.descCount != int64(len(descendants)) || e.descSize != size ||
			e.descFees != fee {

			return fmt.Errorf("descendant state of %v is (%d, %d, %d), "+
				"want (%d, %d, %d)", e.hash, e.descCount, e.descSize,
				e.descFees, len(descendants), size, fee)
		}
	}

	if !checkAncestors {
		return nil
	}
	ancestors, err := mp.calculateAncestors(e, NoLimits, false)
	if err != nil {
		return err
	}
	size, fee, sigOps := e.size, e.ModifiedFee(), e.sigOpCount
	for aid := range ancestors {
		a := mp.entries[aid]
		size += a.size
		fee += a.ModifiedFee()
		sigOps += a.sigOpCount
	}
	count := int64(len(ancestors)) + 1
	if e.ancCount != count || e.ancSize != size || e.ancFees != fee ||
		e.ancSigOps != sigOps {

		return fmt.Errorf("ancestor state of %v is (%d, %d, %d, %d), "+
			"want (%d, %d, %d, %d)", e.hash, e.ancCount, e.ancSize,
			e.ancFees, e.ancSigOps, count, size, fee, sigOps)
	}
	return nil
}

func sameSet(a, b entrySet) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b.has(id) {
			return false
		}
	}
	return true
}
