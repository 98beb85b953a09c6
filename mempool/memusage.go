// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"reflect"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

// Fixed per-record overheads added to the dynamic usage of the pool.  Each
// pooled entry is held by the arena, the hash map and three ordered trees;
// each tracked spend is one map record, plus one per distinct spent
// transaction; each prioritisation is one map record; each graph link is one
// set record on either side of the link.
var (
	entryOverhead = int64(reflect.TypeOf(TxEntry{}).Size() +
		3*reflect.TypeOf(orderKey{}).Size() +
		reflect.TypeOf(EntryID(0)).Size() + 2*mapRecordOverhead)

	nextTxOverhead = int64(reflect.TypeOf(wire.OutPoint{}).Size() +
		reflect.TypeOf(inPoint{}).Size() + mapRecordOverhead)

	spentFromOverhead = int64(reflect.TypeOf(chainhash.Hash{}).Size() +
		reflect.TypeOf(int(0)).Size() + mapRecordOverhead)

	deltaOverhead = int64(reflect.TypeOf(chainhash.Hash{}).Size() +
		reflect.TypeOf(txDeltas{}).Size() + mapRecordOverhead)

	linkOverhead = int64(reflect.TypeOf(EntryID(0)).Size() +
		mapRecordOverhead)
)

// mapRecordOverhead approximates the bucket bookkeeping of one map record.
const mapRecordOverhead = 16

// dynamicMemUsage returns the number of bytes reachable from v, following
// pointers and counting the backing storage of slices and maps.
func dynamicMemUsage(v reflect.Value) uintptr {
	t := v.Type()
	bytes := t.Size()

	// For complex types, we need to peek inside slices/arrays/structs/maps
	// and chase pointers.
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			bytes += dynamicMemUsage(v.Elem())
		}

	case reflect.Slice:
		if v.Len() == 0 {
			break
		}
		elem := t.Elem()
		if elem.Kind() == reflect.Uint8 {
			// Short circuit for byte slices.
			bytes += uintptr(v.Cap())
			break
		}
		for j := 0; j < v.Len(); j++ {
			bytes += dynamicMemUsage(v.Index(j))
		}

	case reflect.Array:
		for j := 0; j < v.Len(); j++ {
			vi := v.Index(j)
			k := vi.Kind()
			if (k == reflect.Pointer || k == reflect.Interface) &&
				!vi.IsNil() {

				bytes += dynamicMemUsage(vi.Elem())
			}
		}

	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			bytes += dynamicMemUsage(iter.Key())
			bytes += dynamicMemUsage(iter.Value())
		}

	case reflect.Struct:
		for _, f := range reflect.VisibleFields(t) {
			if len(f.Index) > 1 {
				continue
			}
			vf := v.FieldByIndex(f.Index)
			k := vf.Kind()
			switch {
			case (k == reflect.Pointer || k == reflect.Interface) &&
				!vf.IsNil():

				bytes += dynamicMemUsage(vf.Elem())

			case k == reflect.Slice || k == reflect.Array:
				// The header is already part of the struct.
				bytes -= vf.Type().Size()
				bytes += dynamicMemUsage(vf)
			}
		}
	}

	return bytes
}
