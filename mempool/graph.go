// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

// updateParent adds or removes parent from the parent set of child.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) updateParent(child, parent EntryID, add bool) {
	parents := mp.entries[child].parents
	if add {
		if !parents.has(parent) {
			parents.add(parent)
			mp.usage += linkOverhead
		}
		return
	}
	if parents.has(parent) {
		delete(parents, parent)
		mp.usage -= linkOverhead
	}
}

// updateChild adds or removes child from the child set of parent.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) updateChild(parent, child EntryID, add bool) {
	children := mp.entries[parent].children
	if add {
		if !children.has(child) {
			children.add(child)
			mp.usage += linkOverhead
		}
		return
	}
	if children.has(child) {
		delete(children, child)
		mp.usage -= linkOverhead
	}
}

// calculateAncestors returns the in-pool ancestors of the entry, failing as
// soon as one of the limits is crossed.  When searchForParents is set the
// parents are found by scanning the inputs of the entry, which need not be
// pooled yet; otherwise the links of the pooled entry are used.
//
// The ancestor count limit excludes the entry itself while the descendant
// count limit of every ancestor includes it.  The final ancestor set, and
// therefore whether a limit is crossed, does not depend on the order the
// inputs are scanned in.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) calculateAncestors(e *TxEntry, limits Limits, searchForParents bool) (entrySet, error) {
	pending := make(entrySet)
	var queue []EntryID
	if searchForParents {
		for _, txIn := range e.tx.TxIn {
			op := txIn.PreviousOutPoint
			pid, ok := mp.lookup(&op.Hash)
			if !ok || pending.has(pid) {
				continue
			}
			ptx := mp.entries[pid].tx
			if int(op.Index) < len(ptx.TxOut) &&
				mp.isCandyClaim(txIn, ptx.TxOut[op.Index]) {

				continue
			}
			pending.add(pid)
			queue = append(queue, pid)
			if uint64(len(pending)) > limits.MaxAncestors {
				return nil, limitError(TooManyAncestors,
					chainhash.Hash{}, limits.MaxAncestors)
			}
		}
	} else {
		for pid := range e.parents {
			pending.add(pid)
			queue = append(queue, pid)
		}
	}

	ancestors := make(entrySet)
	totalSizeWithAncestors := e.size
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		delete(pending, id)
		ancestors.add(id)

		stage := mp.entries[id]
		totalSizeWithAncestors += stage.size
		switch {
		case uint64(stage.descSize+e.size) > limits.MaxDescendantSize:
			return nil, limitError(DescendantSizeExceeded, stage.hash,
				limits.MaxDescendantSize)

		case uint64(stage.descCount+1) > limits.MaxDescendants:
			return nil, limitError(TooManyDescendants, stage.hash,
				limits.MaxDescendants)

		case uint64(totalSizeWithAncestors) > limits.MaxAncestorSize:
			return nil, limitError(AncestorSizeExceeded,
				chainhash.Hash{}, limits.MaxAncestorSize)
		}

		for pid := range stage.parents {
			if ancestors.has(pid) || pending.has(pid) {
				continue
			}
			pending.add(pid)
			queue = append(queue, pid)
		}
		if uint64(len(pending)+len(ancestors)) > limits.MaxAncestors {
			return nil, limitError(TooManyAncestors, chainhash.Hash{},
				limits.MaxAncestors)
		}
	}

	return ancestors, nil
}

// calculateDescendants adds the entry and all of its in-pool descendants to
// set.  Entries already in set are assumed to have their descendants in it
// too.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) calculateDescendants(id EntryID, set entrySet) {
	var stack []EntryID
	if !set.has(id) {
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if set.has(cur) {
			continue
		}
		set.add(cur)
		for child := range mp.entries[cur].children {
			if !set.has(child) {
				stack = append(stack, child)
			}
		}
	}
}

// updateAncestorsOf links or unlinks the entry as a child of its parents and
// adds or subtracts its own size and modified fee to or from the descendant
// aggregates of every ancestor.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) updateAncestorsOf(add bool, id EntryID, ancestors entrySet) {
	e := mp.entries[id]
	for pid := range e.parents {
		mp.updateChild(pid, id, add)
	}

	sign := int64(-1)
	if add {
		sign = 1
	}
	size, fee := sign*e.size, sign*e.ModifiedFee()
	for aid := range ancestors {
		mp.modify(aid, func(a *TxEntry) {
			a.updateDescendantState(size, fee, sign)
		})
	}
}

// updateEntryForAncestors adds the totals of the ancestor set to the ancestor
// aggregates of the entry.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) updateEntryForAncestors(id EntryID, ancestors entrySet) {
	var size, fee, sigOps int64
	for aid := range ancestors {
		a := mp.entries[aid]
		size += a.size
		fee += a.ModifiedFee()
		sigOps += a.sigOpCount
	}
	count := int64(len(ancestors))
	mp.modify(id, func(e *TxEntry) {
		e.updateAncestorState(size, fee, count, sigOps)
	})
}

// updateForDescendants walks the in-pool descendants of an entry that was
// re-added after its children, adding those not in exclude to its descendant
// aggregates and adding the entry to their ancestor aggregates.  Descendant
// sets already computed for other entries are taken from cache.  It returns
// false without changing anything when the walk meets a dirty entry or has to
// visit more than maxVisit descendants.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) updateForDescendants(id EntryID, maxVisit int,
	cache map[EntryID]entrySet, exclude map[chainhash.Hash]struct{}) bool {

	visited := 0
	all := make(entrySet)
	var stage []EntryID
	for child := range mp.entries[id].children {
		stage = append(stage, child)
	}
	for len(stage) > 0 {
		cid := stage[len(stage)-1]
		stage = stage[:len(stage)-1]
		if all.has(cid) {
			continue
		}
		c := mp.entries[cid]
		if c.dirty {
			return false
		}
		all.add(cid)
		if _, ok := exclude[c.hash]; !ok {
			visited++
			if visited > maxVisit {
				return false
			}
		}

		for gid := range c.children {
			if cached, ok := cache[gid]; ok {
				// Already computed; take the whole subtree
				// without walking it again.
				if !all.has(gid) {
					if mp.entries[gid].dirty {
						return false
					}
					all.add(gid)
				}
				for did := range cached {
					if mp.entries[did].dirty {
						return false
					}
					all.add(did)
				}
			} else if !all.has(gid) {
				stage = append(stage, gid)
			}
		}
	}

	e := mp.entries[id]
	var size, fee, count int64
	counted := make(entrySet)
	for did := range all {
		d := mp.entries[did]
		if _, ok := exclude[d.hash]; ok {
			continue
		}
		size += d.size
		fee += d.ModifiedFee()
		count++
		counted.add(did)
		mp.modify(did, func(d *TxEntry) {
			d.updateAncestorState(e.size, e.ModifiedFee(), 1,
				e.sigOpCount)
		})
	}
	cache[id] = counted
	mp.modify(id, func(e *TxEntry) {
		e.updateDescendantState(size, fee, count)
	})
	return true
}

// UpdateTransactionsFromBlock links the re-added transactions of a
// disconnected block to the pooled transactions that spend them and brings
// their descendant aggregates up to date.  The hashes must be in block order;
// they are processed in reverse so the descendants of later transactions are
// cached before earlier ones need them.  Transactions whose descendants
// cannot be walked within the visit budget are marked dirty.
//
// This function is safe for concurrent access.
func (mp *TxPool) UpdateTransactionsFromBlock(hashes []chainhash.Hash) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	included := make(map[chainhash.Hash]struct{}, len(hashes))
	for _, hash := range hashes {
		included[hash] = struct{}{}
	}

	cache := make(map[EntryID]entrySet)
	var dirtied int
	for i := len(hashes) - 1; i >= 0; i-- {
		id, ok := mp.lookup(&hashes[i])
		if !ok {
			continue
		}

		e := mp.entries[id]
		for j := range e.tx.TxOut {
			op := wire.OutPoint{Hash: e.hash, Index: uint32(j)}
			in, ok := mp.nextTx[op]
			if !ok {
				continue
			}
			child := mp.entries[in.id]
			if _, ok := included[child.hash]; ok {
				continue
			}
			mp.updateChild(id, in.id, true)
			mp.updateParent(in.id, id, true)
		}

		if !mp.updateForDescendants(id, mp.cfg.Policy.MaxDescendantVisit,
			cache, included) {

			mp.modify(id, (*TxEntry).setDirty)
			dirtied++
		}
	}

	if dirtied > 0 {
		log.Debugf("Marked %d %s dirty while updating from block",
			dirtied, pickNoun(dirtied, "transaction", "transactions"))
	}
}

// HasDirty returns whether any pooled entry has collapsed aggregates.
//
// This function is safe for concurrent access.
func (mp *TxPool) HasDirty() bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.hasDirty()
}

func (mp *TxPool) hasDirty() bool {
	for _, id := range mp.pool {
		if mp.entries[id].dirty {
			return true
		}
	}
	return false
}

// RecomputeDirty rebuilds the aggregates of every dirty entry with an
// unbounded walk, along with the ancestor aggregates of their descendants.
//
// This function is safe for concurrent access.
func (mp *TxPool) RecomputeDirty() {
	mp.mtx.Lock()
	mp.recomputeDirty()
	mp.mtx.Unlock()
}

// recomputeDirty is the internal function which implements the public
// RecomputeDirty.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) recomputeDirty() {
	affected := make(entrySet)
	var recomputed int
	for _, id := range mp.pool {
		e := mp.entries[id]
		if !e.dirty {
			continue
		}

		descendants := make(entrySet)
		mp.calculateDescendants(id, descendants)
		var size, fee int64
		for did := range descendants {
			d := mp.entries[did]
			size += d.size
			fee += d.ModifiedFee()
			affected.add(did)
		}
		count := int64(len(descendants))
		mp.modify(id, func(e *TxEntry) {
			e.dirty = false
			e.descCount, e.descSize, e.descFees = count, size, fee
		})
		recomputed++
	}

	for id := range affected {
		e := mp.entries[id]
		ancestors, _ := mp.calculateAncestors(e, NoLimits, false)
		size, fee, sigOps := e.size, e.ModifiedFee(), e.sigOpCount
		for aid := range ancestors {
			a := mp.entries[aid]
			size += a.size
			fee += a.ModifiedFee()
			sigOps += a.sigOpCount
		}
		count := int64(len(ancestors)) + 1
		mp.modify(id, func(e *TxEntry) {
			e.ancCount, e.ancSize, e.ancFees = count, size, fee
			e.ancSigOps = sigOps
		})
	}

	if recomputed > 0 {
		log.Debugf("Recomputed aggregates of %d dirty %s", recomputed,
			pickNoun(recomputed, "transaction", "transactions"))
	}
}

// updateForRemoveFromMempool prepares the graph for removing every entry in
// stage.  The ancestor aggregates of surviving descendants are reduced first
// when updateDescendants is set, then every ancestor drops each removed
// entry's own cached values and the parent to child links are severed, and
// only then are the links from surviving children cut.  The order keeps the
// result independent of the order entries are removed in.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) updateForRemoveFromMempool(stage entrySet, updateDescendants bool) {
	if updateDescendants {
		for id := range stage {
			e := mp.entries[id]
			descendants := make(entrySet)
			mp.calculateDescendants(id, descendants)
			delete(descendants, id)
			size, fee, sigOps := -e.size, -e.ModifiedFee(), -e.sigOpCount
			for did := range descendants {
				mp.modify(did, func(d *TxEntry) {
					d.updateAncestorState(size, fee, -1, sigOps)
				})
			}
		}
	}

	for id := range stage {
		ancestors, _ := mp.calculateAncestors(mp.entries[id], NoLimits,
			false)
		mp.updateAncestorsOf(false, id, ancestors)
	}

	for id := range stage {
		for child := range mp.entries[id].children {
			mp.updateParent(child, id, false)
		}
	}
}

// removeStaged removes a set of entries that is closed under the descendant
// relation unless updateDescendants is set, in which case surviving
// descendants have their ancestor aggregates reduced.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeStaged(stage entrySet, updateDescendants bool, reason RemovalReason) {
	mp.updateForRemoveFromMempool(stage, updateDescendants)
	for id := range stage {
		mp.removeUnchecked(id, reason)
	}
	if len(stage) > 0 {
		mp.updateGauges()
	}
}

// removeUnchecked erases an entry whose graph links have already been
// severed.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeUnchecked(id EntryID, reason RemovalReason) {
	e := mp.entries[id]
	for _, txIn := range e.tx.TxIn {
		op := txIn.PreviousOutPoint
		if in, ok := mp.nextTx[op]; ok && in.id == id {
			mp.untrackSpend(op)
		}
	}
	// The links held by neighbors were cut by updateForRemoveFromMempool
	// and some neighbors may already be released, so only the entry's own
	// side of each link is left to account for.
	mp.usage -= int64(len(e.parents)+len(e.children)) * linkOverhead
	mp.usage -= e.usage + entryOverhead

	mp.indexes.RemoveTx(&e.hash)
	if reason != RemovalReasonBlock && mp.cfg.FeeEstimator != nil {
		mp.cfg.FeeEstimator.RemoveTransaction(&e.hash)
	}

	mp.orderings.remove(e.key)
	delete(mp.pool, e.hash)
	mp.totalTxSize -= e.size
	mp.releaseEntry(id)
	mp.removed.Add(e.hash)

	atomic.AddUint32(&mp.txnsUpdated, 1)
	atomic.StoreInt64(&mp.lastUpdated, mp.cfg.Now().Unix())
	mp.metrics.markRemoved(reason)
	mp.sendNotification(NTTxRemoved, &TxRemovedData{
		Hash:   e.hash,
		Reason: reason,
	})

	log.Tracef("Removed transaction %v (%v)", e.hash, reason)
}
