// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/app"
	"github.com/safeblock/safed/wire"
)

// AppInfo is a pending app registration.
type AppInfo struct {
	// Address is the address the registration output pays to.
	Address string
	Data    app.AppData
	Seq     uint64
}

// TxRecord is an output recorded by the app or asset activity index.  ID is
// the app id or the asset id.
type TxRecord struct {
	ID       chainhash.Hash
	Address  string
	Class    app.TxClass
	OutPoint wire.OutPoint
	Seq      uint64
}

// AuthRecord is a pending authorization change of a user of an app.
type AuthRecord struct {
	Auth    uint32
	SetType uint8
	Seq     uint64
}

// activityKey returns the key of an app or asset activity record:
// id, address, class, outpoint.
func activityKey(id *chainhash.Hash, addr string, class app.TxClass, op *wire.OutPoint) string {
	return newKey(2*chainhash.HashSize+len(addr)+6).hash(id).str(addr).
		u8(uint8(class)).outPoint(op).String()
}

// indexApps records app registrations, authorization changes and app
// activity carried by the outputs.
func (f *Family) indexApps(b *txBatch) {
	for i := range b.outputs {
		d := &b.outputs[i]
		if d.header == nil {
			continue
		}
		class, ok := app.AppClass(d.header.Cmd)
		if !ok {
			continue
		}
		appID := d.header.AppID

		if class == app.ClassAddAuth || class == app.ClassDeleteAuth {
			var auth app.AuthData
			if err := auth.Decode(d.payload); err != nil {
				log.Debugf("Skipping auth output %v:%d: %v", b.hash, i, err)
			} else {
				key := newKey(chainhash.HashSize+len(auth.UserAddress)+5).
					hash(&appID).str(auth.UserAddress).u32(auth.Auth)
				put(b, authStore, f.auths, key.String(), AuthRecord{
					Auth:    auth.Auth,
					SetType: auth.SetType,
				})
			}
		}

		if !d.hasAddr {
			continue
		}

		if class == app.ClassRegister {
			var data app.AppData
			if err := data.Decode(d.payload); err != nil {
				log.Debugf("Skipping app registration %v:%d: %v", b.hash,
					i, err)
				continue
			}
			put(b, appInfoStore, f.appInfo, string(appID[:]), AppInfo{
				Address: d.addr,
				Data:    data,
			})
			put(b, appNameStore, f.appNames, app.NormalizeName(data.Name),
				appID)
		}

		op := wire.OutPoint{Hash: b.hash, Index: uint32(i)}
		key := activityKey(&appID, d.addr, class, &op)
		put(b, appTxStore, f.appTxs, key, TxRecord{
			ID:       appID,
			Address:  d.addr,
			Class:    class,
			OutPoint: op,
		})
	}
}

// AppInfo returns the pending registration of the app.
func (f *Family) AppInfo(appID *chainhash.Hash) (AppInfo, bool) {
	r, ok := f.appInfo.get(string(appID[:]))
	if !ok {
		return AppInfo{}, false
	}
	info := r.value
	info.Seq = r.seq
	return info, true
}

// AppIDByName returns the id of the app registered under the name.  Names
// are matched case insensitively.
func (f *Family) AppIDByName(name string) (chainhash.Hash, bool) {
	r, ok := f.appNames.get(app.NormalizeName(name))
	return r.value, ok
}

// AppList returns the ids of all pending app registrations in id order.
func (f *Family) AppList() []chainhash.Hash {
	ids := make([]chainhash.Hash, 0, f.appInfo.len())
	f.appInfo.scan("", func(r *record[AppInfo]) bool {
		var id chainhash.Hash
		copy(id[:], r.key)
		ids = append(ids, id)
		return true
	})
	return ids
}

// AppTxs returns the activity of the app in key order.
func (f *Family) AppTxs(appID *chainhash.Hash) []TxRecord {
	return scanActivity(f.appTxs, newKey(chainhash.HashSize).hash(appID),
		app.ClassAll)
}

// AppTxsByAddress returns the activity of the app involving the address.
func (f *Family) AppTxsByAddress(appID *chainhash.Hash, addr string) []TxRecord {
	return scanActivity(f.appTxs,
		newKey(chainhash.HashSize+len(addr)+1).hash(appID).str(addr),
		app.ClassAll)
}

// AppListByAddress returns the ids of the apps with pending activity
// involving the address, in id order.
func (f *Family) AppListByAddress(addr string) []chainhash.Hash {
	return idsByAddress(f.appTxs, addr)
}

// Auths returns the pending authorization changes of the user of the app in
// order of authorization.
func (f *Family) Auths(appID *chainhash.Hash, userAddr string) []AuthRecord {
	var auths []AuthRecord
	prefix := newKey(chainhash.HashSize+len(userAddr)+1).hash(appID).
		str(userAddr).String()
	f.auths.scan(prefix, func(r *record[AuthRecord]) bool {
		a := r.value
		a.Seq = r.seq
		auths = append(auths, a)
		return true
	})
	return auths
}

// scanActivity returns the activity records under the prefix whose class
// matches the filter.
func scanActivity(s *recordStore[TxRecord], prefix keyBuilder, filter app.TxClass) []TxRecord {
	var txs []TxRecord
	s.scan(prefix.String(), func(r *record[TxRecord]) bool {
		if !filter.Matches(r.value.Class) {
			return true
		}
		tx := r.value
		tx.Seq = r.seq
		txs = append(txs, tx)
		return true
	})
	return txs
}

// idsByAddress returns the distinct ids with activity records involving the
// address.  Records are ordered by id first, so this is a full scan.
func idsByAddress(s *recordStore[TxRecord], addr string) []chainhash.Hash {
	var ids []chainhash.Hash
	s.scan("", func(r *record[TxRecord]) bool {
		if r.value.Address != addr {
			return true
		}
		if n := len(ids); n == 0 || ids[n-1] != r.value.ID {
			ids = append(ids, r.value.ID)
		}
		return true
	})
	return ids
}
