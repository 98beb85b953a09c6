// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"fmt"
	"strings"

	"github.com/google/btree"
)

// storeDegree is the branching factor of the forward store trees.
const storeDegree = 16

// store is the part of a forward store the ownership ledger needs to undo an
// insertion.
type store interface {
	remove(key string, amount int64)
}

// record is one entry of a forward store.  seq is the family sequence number
// at which the record was written.
type record[V any] struct {
	key   string
	seq   uint64
	value V
}

// recordStore is an ordered set of records keyed by composite byte keys.
type recordStore[V any] struct {
	tree *btree.BTreeG[record[V]]
}

func newRecordStore[V any]() *recordStore[V] {
	return &recordStore[V]{
		tree: btree.NewG(storeDegree, func(a, b record[V]) bool {
			return a.key < b.key
		}),
	}
}

// insert adds the record unless the key is already held, in which case the
// existing record is kept and false is returned.
func (s *recordStore[V]) insert(key string, seq uint64, value V) bool {
	r := record[V]{key: key, seq: seq, value: value}
	if s.tree.Has(r) {
		return false
	}
	s.tree.ReplaceOrInsert(r)
	return true
}

func (s *recordStore[V]) get(key string) (record[V], bool) {
	return s.tree.Get(record[V]{key: key})
}

func (s *recordStore[V]) remove(key string, _ int64) {
	s.tree.Delete(record[V]{key: key})
}

// scan calls fn for every record whose key starts with prefix, in key order,
// until fn returns false.
func (s *recordStore[V]) scan(prefix string, fn func(r *record[V]) bool) {
	s.tree.AscendGreaterOrEqual(record[V]{key: prefix}, func(r record[V]) bool {
		if !strings.HasPrefix(r.key, prefix) {
			return false
		}
		return fn(&r)
	})
}

func (s *recordStore[V]) len() int {
	return s.tree.Len()
}

// counterStore holds running totals.  A total is never negative and a total
// that returns to zero is deleted rather than kept at zero.
type counterStore struct {
	*recordStore[int64]
}

func newCounterStore() *counterStore {
	return &counterStore{newRecordStore[int64]()}
}

// add adjusts the total under key by delta.  The sequence number of a total is
// the one it was created with.
func (c *counterStore) add(key string, seq uint64, delta int64) {
	r, ok := c.get(key)
	if !ok {
		r = record[int64]{key: key, seq: seq}
	}
	r.value += delta

	switch {
	case r.value < 0:
		panic(fmt.Sprintf("counter %x dropped to %d", key, r.value))
	case r.value == 0:
		c.tree.Delete(r)
	default:
		c.tree.ReplaceOrInsert(r)
	}
}

func (c *counterStore) remove(key string, amount int64) {
	c.add(key, 0, -amount)
}
