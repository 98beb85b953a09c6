// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// PrioritiseTransaction adds the deltas to the prioritisation of the
// transaction.  The deltas are remembered until cleared, so a transaction
// that is not pooled yet picks them up when it is added.  When it is already
// pooled its modified fee changes immediately along with the descendant fees
// of its ancestors and the ancestor fees of its descendants.
//
// This function is safe for concurrent access.
func (mp *TxPool) PrioritiseTransaction(hash *chainhash.Hash, priorityDelta float64, feeDelta int64) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	d, ok := mp.deltas[*hash]
	if !ok {
		mp.usage += deltaOverhead
	}
	d.priority += priorityDelta
	d.fee += feeDelta
	mp.deltas[*hash] = d

	if id, ok := mp.lookup(hash); ok {
		// The entry may still carry a delta that was cleared, so its
		// relatives move by the same step as the entry itself.
		var step int64
		mp.modify(id, func(e *TxEntry) {
			step = d.fee - e.feeDelta
			e.updateFeeDelta(d.fee)
		})

		ancestors, _ := mp.calculateAncestors(mp.entries[id], NoLimits,
			false)
		for aid := range ancestors {
			mp.modify(aid, func(a *TxEntry) {
				a.updateDescendantState(0, step, 0)
			})
		}

		descendants := make(entrySet)
		mp.calculateDescendants(id, descendants)
		delete(descendants, id)
		for did := range descendants {
			mp.modify(did, func(d *TxEntry) {
				d.updateAncestorState(0, step, 0, 0)
			})
		}
	}

	log.Infof("PrioritiseTransaction: %v priority += %v, fee += %d",
		hash, priorityDelta, feeDelta)
}

// ApplyDeltas returns the priority and fee adjusted by any prioritisation
// recorded for the transaction.
//
// This function is safe for concurrent access.
func (mp *TxPool) ApplyDeltas(hash *chainhash.Hash, priority float64, fee int64) (float64, int64) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	if d, ok := mp.deltas[*hash]; ok {
		priority += d.priority
		fee += d.fee
	}
	return priority, fee
}

// ClearPrioritisation forgets the prioritisation of the transaction.  The
// modified fee of a pooled entry is left as is.
//
// This function is safe for concurrent access.
func (mp *TxPool) ClearPrioritisation(hash *chainhash.Hash) {
	mp.mtx.Lock()
	mp.clearPrioritisation(hash)
	mp.mtx.Unlock()
}

func (mp *TxPool) clearPrioritisation(hash *chainhash.Hash) {
	if _, ok := mp.deltas[*hash]; ok {
		delete(mp.deltas, *hash)
		mp.usage -= deltaOverhead
	}
}
