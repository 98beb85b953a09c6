// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/btree"
)

// orderingDegree is the btree degree used by the pool orderings.
const orderingDegree = 32

// orderKey is the snapshot of an entry's sort fields held by the ordered
// trees.  A key must be removed from the trees before any of the fields it
// snapshots change, so every mutation goes through TxPool.modify.
type orderKey struct {
	id       EntryID
	hash     chainhash.Hash
	time     int64
	modFee   int64
	size     int64
	descFees int64
	descSize int64
	ancFees  int64
	ancSize  int64
}

func makeOrderKey(e *TxEntry) orderKey {
	return orderKey{
		id:       e.id,
		hash:     e.hash,
		time:     e.time.UnixNano(),
		modFee:   e.ModifiedFee(),
		size:     e.size,
		descFees: e.descFees,
		descSize: e.descSize,
		ancFees:  e.ancFees,
		ancSize:  e.ancSize,
	}
}

func hashLess(a, b *chainhash.Hash) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// timeLess orders entries oldest first.
func timeLess(a, b orderKey) bool {
	if a.time != b.time {
		return a.time < b.time
	}
	return hashLess(&a.hash, &b.hash)
}

// descendantScore returns the fee and size the descendant score is computed
// from: the package with descendants when it pays a higher rate than the
// transaction alone.
func descendantScore(k *orderKey) (float64, float64) {
	f1 := float64(k.modFee) * float64(k.descSize)
	f2 := float64(k.descFees) * float64(k.size)
	if f2 > f1 {
		return float64(k.descFees), float64(k.descSize)
	}
	return float64(k.modFee), float64(k.size)
}

// descendantScoreLess orders entries worst first, which is the eviction
// order.  Among equal scores the newer entry is evicted first.
func descendantScoreLess(a, b orderKey) bool {
	aFee, aSize := descendantScore(&a)
	bFee, bSize := descendantScore(&b)

	// Avoid division by rewriting (a/b < c/d) as (a*d < c*b).
	f1 := aFee * bSize
	f2 := aSize * bFee
	if f1 != f2 {
		return f1 < f2
	}
	if a.time != b.time {
		return a.time > b.time
	}
	return hashLess(&a.hash, &b.hash)
}

// ancestorScore returns the fee and size the ancestor score is computed from:
// the package with ancestors when it pays a lower rate than the transaction
// alone.
func ancestorScore(k *orderKey) (float64, float64) {
	f1 := float64(k.modFee) * float64(k.ancSize)
	f2 := float64(k.ancFees) * float64(k.size)
	if f2 < f1 {
		return float64(k.ancFees), float64(k.ancSize)
	}
	return float64(k.modFee), float64(k.size)
}

// ancestorScoreLess orders entries best first, which is the order block
// templates consider them in.
func ancestorScoreLess(a, b orderKey) bool {
	aFee, aSize := ancestorScore(&a)
	bFee, bSize := ancestorScore(&b)

	f1 := aFee * bSize
	f2 := aSize * bFee
	if f1 != f2 {
		return f1 > f2
	}
	return hashLess(&a.hash, &b.hash)
}

// orderings holds the score and time trees over pooled entries.  Lookup by
// id is served by the pool's hash map.
type orderings struct {
	byTime      *btree.BTreeG[orderKey]
	byDescScore *btree.BTreeG[orderKey]
	byAncScore  *btree.BTreeG[orderKey]
}

func newOrderings() *orderings {
	return &orderings{
		byTime:      btree.NewG[orderKey](orderingDegree, timeLess),
		byDescScore: btree.NewG[orderKey](orderingDegree, descendantScoreLess),
		byAncScore:  btree.NewG[orderKey](orderingDegree, ancestorScoreLess),
	}
}

func (o *orderings) insert(k orderKey) {
	o.byTime.ReplaceOrInsert(k)
	o.byDescScore.ReplaceOrInsert(k)
	o.byAncScore.ReplaceOrInsert(k)
}

func (o *orderings) remove(k orderKey) {
	o.byTime.Delete(k)
	o.byDescScore.Delete(k)
	o.byAncScore.Delete(k)
}

// modify applies fn to the entry and re-keys it in the orderings.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) modify(id EntryID, fn func(e *TxEntry)) {
	e := mp.entries[id]
	mp.orderings.byDescScore.Delete(e.key)
	mp.orderings.byAncScore.Delete(e.key)
	fn(e)
	e.key = makeOrderKey(e)
	mp.orderings.byDescScore.ReplaceOrInsert(e.key)
	mp.orderings.byAncScore.ReplaceOrInsert(e.key)
}
