// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/app"
	"github.com/safeblock/safed/wire"
)

// addrKeySize is address type 1 byte + hash160 20 bytes.
const addrKeySize = 1 + 20

// AddressDelta is a change of the SAFE balance of an address caused by a
// pooled transaction.
type AddressDelta struct {
	AddrType uint8
	AddrHash [20]byte

	// TxHash and Index identify the input or output of the pooled
	// transaction.  Spending is set for inputs.
	TxHash   chainhash.Hash
	Index    uint32
	Spending bool

	Time   time.Time
	Amount int64

	// PrevOut is the outpoint spent by an input.
	PrevOut wire.OutPoint

	Seq uint64
}

// SpentInfo describes the pooled transaction spending an outpoint.
type SpentInfo struct {
	TxHash     chainhash.Hash
	InputIndex uint32

	// Height is always -1 for pooled spends.
	Height int32

	Value    int64
	AddrType uint8
	AddrHash [20]byte

	Seq uint64
}

func addressPrefix(addrType uint8, addrHash *[20]byte) keyBuilder {
	return newKey(addrKeySize+chainhash.HashSize+5).u8(addrType).
		bytes(addrHash[:])
}

// indexAddresses records the SAFE credited to outputs and debited by inputs.
// Asset carrying outputs and scripts without a supported address are skipped.
func (f *Family) indexAddresses(b *txBatch) {
	for i, txIn := range b.tx.TxIn {
		prevOut := b.prevOuts[i]
		if prevOut == nil || app.IsAssetOutput(prevOut) {
			continue
		}
		addrType, addrHash := scriptAddress(prevOut.PkScript)
		if addrType == AddrTypeUnknown {
			continue
		}
		key := addressPrefix(addrType, &addrHash).hash(&b.hash).
			u32(uint32(i)).u8(1)
		put(b, addressStore, f.addrs, key.String(), AddressDelta{
			AddrType: addrType,
			AddrHash: addrHash,
			TxHash:   b.hash,
			Index:    uint32(i),
			Spending: true,
			Time:     b.time,
			Amount:   -prevOut.Value,
			PrevOut:  txIn.PreviousOutPoint,
		})
	}

	for i, txOut := range b.tx.TxOut {
		if app.IsAssetOutput(txOut) {
			continue
		}
		addrType, addrHash := scriptAddress(txOut.PkScript)
		if addrType == AddrTypeUnknown {
			continue
		}
		key := addressPrefix(addrType, &addrHash).hash(&b.hash).
			u32(uint32(i)).u8(0)
		put(b, addressStore, f.addrs, key.String(), AddressDelta{
			AddrType: addrType,
			AddrHash: addrHash,
			TxHash:   b.hash,
			Index:    uint32(i),
			Time:     b.time,
			Amount:   txOut.Value,
		})
	}
}

// indexSpends records the spender of every input.  Inputs whose previous
// output is unknown are recorded with no value or address.
func (f *Family) indexSpends(b *txBatch) {
	for i, txIn := range b.tx.TxIn {
		info := SpentInfo{
			TxHash:     b.hash,
			InputIndex: uint32(i),
			Height:     -1,
		}
		if prevOut := b.prevOuts[i]; prevOut != nil {
			info.Value = prevOut.Value
			info.AddrType, info.AddrHash = scriptAddress(prevOut.PkScript)
		}
		key := newKey(chainhash.HashSize + 4).outPoint(&txIn.PreviousOutPoint)
		put(b, spentStore, f.spent, key.String(), info)
	}
}

// AddressDeltas returns the balance changes of the address ordered by
// transaction hash, then input or output index.
func (f *Family) AddressDeltas(addrType uint8, addrHash [20]byte) []AddressDelta {
	var deltas []AddressDelta
	prefix := addressPrefix(addrType, &addrHash).String()
	f.addrs.scan(prefix, func(r *record[AddressDelta]) bool {
		d := r.value
		d.Seq = r.seq
		deltas = append(deltas, d)
		return true
	})
	return deltas
}

// Spent returns the pooled spender of the outpoint.
func (f *Family) Spent(op wire.OutPoint) (SpentInfo, bool) {
	r, ok := f.spent.get(newKey(chainhash.HashSize + 4).outPoint(&op).String())
	if !ok {
		return SpentInfo{}, false
	}
	info := r.value
	info.Seq = r.seq
	return info, true
}
