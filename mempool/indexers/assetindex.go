// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/app"
	"github.com/safeblock/safed/wire"
)

// errNotAssetCommand is returned by assetOutput for commands it does not
// decode.
var errNotAssetCommand = errors.New("not an asset activity command")

// AssetInfo is a pending asset issuance.
type AssetInfo struct {
	// Address is the address the issuance output pays to.
	Address string
	Data    app.AssetData

	// Height is always -1 for pooled issuances.
	Height int32

	Seq uint64
}

// IsPutCandyOutput returns whether the output distributes candy.
func IsPutCandyOutput(out *wire.TxOut) bool {
	if out == nil {
		return false
	}
	h, _, err := app.ParseReserve(out.Reserve)
	return err == nil && h.AppID == app.SafeAssetID && h.Cmd == app.CmdPutCandy
}

// assetOutput decodes the asset command of an output and returns the asset
// it refers to and the activity class it is recorded under.
func assetOutput(d *decodedOutput) (chainhash.Hash, app.TxClass, error) {
	switch d.header.Cmd {
	case app.CmdAddAsset, app.CmdTransferAsset, app.CmdDestoryAsset,
		app.CmdChangeAsset:

		var data app.CommonData
		if err := data.Decode(d.payload); err != nil {
			return chainhash.Hash{}, 0, err
		}
		class := app.ClassTransfer
		switch d.header.Cmd {
		case app.CmdAddAsset:
			class = app.ClassAddIssue
		case app.CmdDestoryAsset:
			class = app.ClassDestory
		case app.CmdChangeAsset:
			class = app.ClassChangeAsset
		default:
			if d.out.UnlockedHeight > 0 {
				class = app.ClassLocked
			}
		}
		return data.AssetID, class, nil

	case app.CmdPutCandy:
		var data app.PutCandyData
		if err := data.Decode(d.payload); err != nil {
			return chainhash.Hash{}, 0, err
		}
		return data.AssetID, app.ClassPutCandy, nil
	}
	return chainhash.Hash{}, 0, errNotAssetCommand
}

// indexAssets records asset issuances, asset activity and candy claims
// carried by the outputs.  Only outputs of the asset app that pay to a
// supported address are indexed.
func (f *Family) indexAssets(b *txBatch) {
	for i := range b.outputs {
		d := &b.outputs[i]
		if d.header == nil || d.header.AppID != app.SafeAssetID ||
			!d.header.Cmd.IsAssetCommand() || !d.hasAddr {

			continue
		}

		var (
			assetID chainhash.Hash
			class   app.TxClass
			err     error
		)
		switch d.header.Cmd {
		case app.CmdIssueAsset:
			var data app.AssetData
			if err = data.Decode(d.payload); err == nil {
				assetID, class = data.ID(), app.ClassIssue
				f.indexIssue(b, &assetID, d.addr, &data)
			}

		case app.CmdGetCandy:
			var data app.GetCandyData
			if err = data.Decode(d.payload); err == nil {
				assetID, class = data.AssetID, app.ClassGetCandy
				f.indexCandyClaims(b, &assetID, d.addr, data.Amount)
			}

		default:
			assetID, class, err = assetOutput(d)
		}
		if err != nil {
			log.Debugf("Skipping asset output %v:%d: %v", b.hash, i, err)
			continue
		}

		op := wire.OutPoint{Hash: b.hash, Index: uint32(i)}
		key := activityKey(&assetID, d.addr, class, &op)
		put(b, assetTxStore, f.assetTxs, key, TxRecord{
			ID:       assetID,
			Address:  d.addr,
			Class:    class,
			OutPoint: op,
		})
	}
}

// indexIssue records the issuance and its names.
func (f *Family) indexIssue(b *txBatch, assetID *chainhash.Hash, addr string, data *app.AssetData) {
	put(b, assetInfoStore, f.assetInfo, string(assetID[:]), AssetInfo{
		Address: addr,
		Data:    *data,
		Height:  -1,
	})
	put(b, shortNameStore, f.shortNames, app.NormalizeName(data.ShortName),
		*assetID)
	put(b, assetNameStore, f.assetNames, app.NormalizeName(data.AssetName),
		*assetID)
}

// indexCandyClaims records a claim of amount by the claimer against every
// input spending an output paid to the candy pool address, and adds it to
// the running total of that output.
func (f *Family) indexCandyClaims(b *txBatch, assetID *chainhash.Hash, claimer string, amount int64) {
	if f.cfg.PutCandyAddress == "" {
		return
	}
	for i, txIn := range b.tx.TxIn {
		prevOut := b.prevOuts[i]
		if prevOut == nil {
			continue
		}
		addr, ok := ExtractAddress(prevOut.PkScript, f.cfg.ChainParams)
		if !ok || addr != f.cfg.PutCandyAddress {
			continue
		}

		op := &txIn.PreviousOutPoint
		claimKey := newKey(2*chainhash.HashSize+len(claimer)+5).
			hash(assetID).outPoint(op).str(claimer)
		put(b, candyClaimStore, f.candyClaims, claimKey.String(), amount)

		countKey := newKey(2*chainhash.HashSize + 4).hash(assetID).outPoint(op)
		b.addToCounter(candyCountStore, f.candyCounts, countKey.String(),
			amount)
		if total, ok := f.CandyClaimTotal(assetID, *op); ok {
			log.Debugf("Candy claim of %d on %v by %v, total %d", amount,
				op, b.hash, total)
		}
	}
}

// AssetInfo returns the pending issuance of the asset.
func (f *Family) AssetInfo(assetID *chainhash.Hash) (AssetInfo, bool) {
	r, ok := f.assetInfo.get(string(assetID[:]))
	if !ok {
		return AssetInfo{}, false
	}
	info := r.value
	info.Seq = r.seq
	return info, true
}

// AssetIDByShortName returns the id of the asset issued under the short
// name.  Names are matched case insensitively.
func (f *Family) AssetIDByShortName(name string) (chainhash.Hash, bool) {
	r, ok := f.shortNames.get(app.NormalizeName(name))
	return r.value, ok
}

// AssetIDByAssetName returns the id of the asset issued under the name.
// Names are matched case insensitively.
func (f *Family) AssetIDByAssetName(name string) (chainhash.Hash, bool) {
	r, ok := f.assetNames.get(app.NormalizeName(name))
	return r.value, ok
}

// AssetList returns the ids of all pending issuances in id order.
func (f *Family) AssetList() []chainhash.Hash {
	ids := make([]chainhash.Hash, 0, f.assetInfo.len())
	f.assetInfo.scan("", func(r *record[AssetInfo]) bool {
		var id chainhash.Hash
		copy(id[:], r.key)
		ids = append(ids, id)
		return true
	})
	return ids
}

// AssetTxs returns the activity of the asset matching the class filter in
// key order.  ClassAll matches every class and ClassUnlocked every class but
// ClassLocked.
func (f *Family) AssetTxs(assetID *chainhash.Hash, filter app.TxClass) []TxRecord {
	return scanActivity(f.assetTxs, newKey(chainhash.HashSize).hash(assetID),
		filter)
}

// AssetTxsByAddress returns the activity of the asset involving the address
// matching the class filter.
func (f *Family) AssetTxsByAddress(assetID *chainhash.Hash, addr string, filter app.TxClass) []TxRecord {
	return scanActivity(f.assetTxs,
		newKey(chainhash.HashSize+len(addr)+1).hash(assetID).str(addr),
		filter)
}

// AssetListByAddress returns the ids of the assets with pending activity
// involving the address, in id order.
func (f *Family) AssetListByAddress(addr string) []chainhash.Hash {
	return idsByAddress(f.assetTxs, addr)
}

// PutCandyCount returns the number of pending candy distributions of the
// asset paid to the candy pool address.
func (f *Family) PutCandyCount(assetID *chainhash.Hash) int {
	if f.cfg.PutCandyAddress == "" {
		return 0
	}
	var n int
	prefix := newKey(chainhash.HashSize+len(f.cfg.PutCandyAddress)+2).
		hash(assetID).str(f.cfg.PutCandyAddress).u8(uint8(app.ClassPutCandy))
	f.assetTxs.scan(prefix.String(), func(*record[TxRecord]) bool {
		n++
		return true
	})
	return n
}

// CandyClaim returns the amount the claimer claimed from the candy output.
func (f *Family) CandyClaim(assetID *chainhash.Hash, op wire.OutPoint, claimer string) (int64, bool) {
	key := newKey(2*chainhash.HashSize+len(claimer)+5).hash(assetID).
		outPoint(&op).str(claimer)
	r, ok := f.candyClaims.get(key.String())
	return r.value, ok
}

// CandyClaimTotal returns the total pending claims against the candy output.
// No total is kept for an output without pending claims.
func (f *Family) CandyClaimTotal(assetID *chainhash.Hash, op wire.OutPoint) (int64, bool) {
	key := newKey(2*chainhash.HashSize + 4).hash(assetID).outPoint(&op)
	r, ok := f.candyCounts.get(key.String())
	return r.value, ok
}
