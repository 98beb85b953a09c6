// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/safeblock/safed/app"
	"github.com/safeblock/safed/wire"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.MainNetParams

// mapFetcher serves previous outputs from a map.
type mapFetcher map[wire.OutPoint]*wire.TxOut

func (m mapFetcher) FetchOutput(op wire.OutPoint) (*wire.TxOut, bool) {
	out, ok := m[op]
	return out, ok
}

// testAddress returns a pay-to-pubkey-hash address derived from seed and its
// script.
func testAddress(t *testing.T, seed byte) (string, [20]byte, []byte) {
	t.Helper()

	var h [20]byte
	copy(h[:], bytes.Repeat([]byte{seed}, 20))
	addr, err := btcutil.NewAddressPubKeyHash(h[:], testParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return addr.EncodeAddress(), h, script
}

func testOutPoint(s string, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.DoubleHashH([]byte(s)), Index: index}
}

// newTestTx returns a transaction spending the outpoints.
func newTestTx(ins []wire.OutPoint, outs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.SafeTxVersion)
	for i := range ins {
		tx.AddTxIn(wire.NewTxIn(&ins[i], nil))
	}
	for _, out := range outs {
		tx.AddTxOut(out)
	}
	return tx
}

func addTx(f *Family, tx *wire.MsgTx, fetcher OutputFetcher) chainhash.Hash {
	hash := tx.TxHash()
	f.AddTx(tx, &hash, time.Unix(1600000000, 0), fetcher)
	return hash
}

// TestCandyClaimCounter checks the running total of claims against one candy
// output is added to, reduced and deleted once it returns to zero.
func TestCandyClaimCounter(t *testing.T) {
	t.Parallel()

	candyAddr, _, candyScript := testAddress(t, 0x01)
	claimer1, _, claimScript1 := testAddress(t, 0x02)
	claimer2, _, claimScript2 := testAddress(t, 0x03)
	f := New(&Config{ChainParams: testParams, PutCandyAddress: candyAddr})

	assetID := chainhash.DoubleHashH([]byte("asset"))
	candy := testOutPoint("put candy", 1)
	fetcher := mapFetcher{
		candy: {
			Value:    0,
			PkScript: candyScript,
			Reserve: app.Reserve(app.SafeAssetID, app.CmdPutCandy,
				(&app.PutCandyData{AssetID: assetID, Amount: 1000,
					Expired: 30}).Encode()),
		},
	}
	claim := func(script []byte, amount int64) *wire.MsgTx {
		return newTestTx([]wire.OutPoint{candy}, &wire.TxOut{
			PkScript: script,
			Reserve: app.Reserve(app.SafeAssetID, app.CmdGetCandy,
				(&app.GetCandyData{AssetID: assetID,
					Amount: amount}).Encode()),
		})
	}

	hash1 := addTx(f, claim(claimScript1, 30), fetcher)
	hash2 := addTx(f, claim(claimScript2, 50), fetcher)

	total, ok := f.CandyClaimTotal(&assetID, candy)
	require.True(t, ok)
	require.EqualValues(t, 80, total)

	amount, ok := f.CandyClaim(&assetID, candy, claimer1)
	require.True(t, ok)
	require.EqualValues(t, 30, amount)
	amount, ok = f.CandyClaim(&assetID, candy, claimer2)
	require.True(t, ok)
	require.EqualValues(t, 50, amount)

	claims := f.AssetTxs(&assetID, app.ClassGetCandy)
	require.Len(t, claims, 2, spew.Sdump(claims))

	f.RemoveTx(&hash1)
	total, ok = f.CandyClaimTotal(&assetID, candy)
	require.True(t, ok)
	require.EqualValues(t, 50, total)
	_, ok = f.CandyClaim(&assetID, candy, claimer1)
	require.False(t, ok)

	f.RemoveTx(&hash2)
	_, ok = f.CandyClaimTotal(&assetID, candy)
	require.False(t, ok)
	require.Zero(t, f.Keys())
}

// TestCandyClaimNeedsPoolAddress ensures claims spending outputs that are not
// paid to the candy pool address are not counted.
func TestCandyClaimNeedsPoolAddress(t *testing.T) {
	t.Parallel()

	candyAddr, _, _ := testAddress(t, 0x01)
	_, _, otherScript := testAddress(t, 0x04)
	_, _, claimScript := testAddress(t, 0x02)
	f := New(&Config{ChainParams: testParams, PutCandyAddress: candyAddr})

	assetID := chainhash.DoubleHashH([]byte("asset"))
	prev := testOutPoint("elsewhere", 0)
	fetcher := mapFetcher{prev: {Value: 10, PkScript: otherScript}}
	tx := newTestTx([]wire.OutPoint{prev}, &wire.TxOut{
		PkScript: claimScript,
		Reserve: app.Reserve(app.SafeAssetID, app.CmdGetCandy,
			(&app.GetCandyData{AssetID: assetID, Amount: 5}).Encode()),
	})
	addTx(f, tx, fetcher)

	_, ok := f.CandyClaimTotal(&assetID, prev)
	require.False(t, ok)
	require.Len(t, f.AssetTxs(&assetID, app.ClassAll), 1)
}

// TestRemoveTxIdempotent checks a second removal of the same transaction and
// the removal of an unknown transaction are no-ops.
func TestRemoveTxIdempotent(t *testing.T) {
	t.Parallel()

	_, addrHash, script := testAddress(t, 0x05)
	f := New(&Config{ChainParams: testParams})

	prev := testOutPoint("funding", 0)
	fetcher := mapFetcher{prev: {Value: 100, PkScript: script}}
	tx := newTestTx([]wire.OutPoint{prev}, wire.NewTxOut(90, script))
	hash := addTx(f, tx, fetcher)
	require.True(t, f.IsIndexed(&hash))
	require.NotZero(t, f.Keys())

	// Indexing the same transaction again is ignored.
	keys := f.Keys()
	f.AddTx(tx, &hash, time.Now(), fetcher)
	require.Equal(t, keys, f.Keys())
	require.Equal(t, 1, f.Count())

	f.RemoveTx(&hash)
	require.False(t, f.IsIndexed(&hash))
	require.Zero(t, f.Keys())

	f.RemoveTx(&hash)
	unknown := chainhash.DoubleHashH([]byte("unknown"))
	f.RemoveTx(&unknown)
	require.Zero(t, f.Keys())
	require.Zero(t, f.Count())
	require.Empty(t, f.AddressDeltas(AddrTypePubKeyHash, addrHash))
}

// TestAddressDeltas checks SAFE credits and debits are recorded per address
// and asset outputs are left out.
func TestAddressDeltas(t *testing.T) {
	t.Parallel()

	_, fromHash, fromScript := testAddress(t, 0x06)
	_, toHash, toScript := testAddress(t, 0x07)
	f := New(&Config{ChainParams: testParams})

	prev := testOutPoint("funding", 2)
	fetcher := mapFetcher{prev: {Value: 500, PkScript: fromScript}}
	assetOut := &wire.TxOut{
		PkScript: toScript,
		Reserve: app.Reserve(app.SafeAssetID, app.CmdTransferAsset,
			(&app.CommonData{Amount: 7}).Encode()),
	}
	tx := newTestTx([]wire.OutPoint{prev}, wire.NewTxOut(400, toScript),
		assetOut, wire.NewTxOut(90, fromScript))
	hash := addTx(f, tx, fetcher)

	to := f.AddressDeltas(AddrTypePubKeyHash, toHash)
	require.Len(t, to, 1, spew.Sdump(to))
	require.EqualValues(t, 400, to[0].Amount)
	require.False(t, to[0].Spending)
	require.Equal(t, hash, to[0].TxHash)

	from := f.AddressDeltas(AddrTypePubKeyHash, fromHash)
	require.Len(t, from, 2, spew.Sdump(from))
	require.True(t, from[0].Spending)
	require.EqualValues(t, -500, from[0].Amount)
	require.Equal(t, prev, from[0].PrevOut)
	require.False(t, from[1].Spending)
	require.EqualValues(t, 90, from[1].Amount)
	require.EqualValues(t, 2, from[1].Index)

	spent, ok := f.Spent(prev)
	require.True(t, ok)
	require.Equal(t, hash, spent.TxHash)
	require.EqualValues(t, -1, spent.Height)
	require.EqualValues(t, 500, spent.Value)
	require.Equal(t, fromHash, spent.AddrHash)
}

// TestAssetIssuance checks an issuance is found by id and by either name and
// that transfer lookups honor the class filters.
func TestAssetIssuance(t *testing.T) {
	t.Parallel()

	issuer, _, issuerScript := testAddress(t, 0x08)
	holder, _, holderScript := testAddress(t, 0x09)
	f := New(&Config{ChainParams: testParams})

	data := &app.AssetData{
		ShortName:        "GLD",
		AssetName:        "Gold Coin",
		TotalAmount:      1000000,
		FirstIssueAmount: 1000,
		Decimals:         4,
	}
	assetID := data.ID()
	issue := newTestTx([]wire.OutPoint{testOutPoint("fee", 0)}, &wire.TxOut{
		PkScript: issuerScript,
		Reserve:  app.Reserve(app.SafeAssetID, app.CmdIssueAsset, data.Encode()),
	})
	issueHash := addTx(f, issue, nil)

	info, ok := f.AssetInfo(&assetID)
	require.True(t, ok)
	require.Equal(t, issuer, info.Address)
	require.Equal(t, "Gold Coin", info.Data.AssetName)
	require.EqualValues(t, -1, info.Height)

	id, ok := f.AssetIDByShortName("gld")
	require.True(t, ok)
	require.Equal(t, assetID, id)
	id, ok = f.AssetIDByAssetName("GOLD COIN")
	require.True(t, ok)
	require.Equal(t, assetID, id)
	require.Equal(t, []chainhash.Hash{assetID}, f.AssetList())

	transfer := func(unlockedHeight int64) *wire.TxOut {
		return &wire.TxOut{
			PkScript:       holderScript,
			UnlockedHeight: unlockedHeight,
			Reserve: app.Reserve(app.SafeAssetID, app.CmdTransferAsset,
				(&app.CommonData{AssetID: assetID, Amount: 10}).Encode()),
		}
	}
	send := newTestTx([]wire.OutPoint{{Hash: issueHash, Index: 0}},
		transfer(0), transfer(5000))
	addTx(f, send, nil)

	require.Len(t, f.AssetTxs(&assetID, app.ClassAll), 3)
	require.Len(t, f.AssetTxs(&assetID, app.ClassUnlocked), 2)
	require.Len(t, f.AssetTxs(&assetID, app.ClassLocked), 1)
	require.Len(t, f.AssetTxsByAddress(&assetID, holder, app.ClassAll), 2)
	require.Len(t, f.AssetTxsByAddress(&assetID, issuer, app.ClassIssue), 1)
	require.Equal(t, []chainhash.Hash{assetID}, f.AssetListByAddress(holder))

	f.RemoveTx(&issueHash)
	_, ok = f.AssetInfo(&assetID)
	require.False(t, ok)
	_, ok = f.AssetIDByShortName("GLD")
	require.False(t, ok)
	require.Len(t, f.AssetTxs(&assetID, app.ClassAll), 2)
}

// TestAppIndex checks registrations, authorization changes and app activity,
// and that a name already held by a pending registration stays with it.
func TestAppIndex(t *testing.T) {
	t.Parallel()

	admin, _, adminScript := testAddress(t, 0x0a)
	user, _, _ := testAddress(t, 0x0b)
	f := New(&Config{ChainParams: testParams})

	register := func(name string) (*wire.MsgTx, chainhash.Hash) {
		appID := chainhash.DoubleHashH([]byte(name + "-id"))
		data := &app.AppData{AdminAddress: admin, Name: name, DevType: 1}
		tx := newTestTx([]wire.OutPoint{testOutPoint(name, 0)}, &wire.TxOut{
			PkScript: adminScript,
			Reserve:  app.Reserve(appID, app.CmdRegisterApp, data.Encode()),
		})
		return tx, appID
	}

	tx1, appID := register("Wallet")
	hash1 := addTx(f, tx1, nil)
	info, ok := f.AppInfo(&appID)
	require.True(t, ok)
	require.Equal(t, admin, info.Address)
	id, ok := f.AppIDByName("wallet")
	require.True(t, ok)
	require.Equal(t, appID, id)

	// A second registration of the same name does not take it over.
	tx2, _ := register("WALLET")
	hash2 := addTx(f, tx2, nil)
	require.Len(t, f.AppList(), 2)
	f.RemoveTx(&hash2)
	id, ok = f.AppIDByName("Wallet")
	require.True(t, ok)
	require.Equal(t, appID, id)

	auth := &app.AuthData{SetType: app.AuthAdd, AdminAddress: admin,
		UserAddress: user, Auth: 1001}
	grant := newTestTx([]wire.OutPoint{testOutPoint("grant", 0)}, &wire.TxOut{
		PkScript: adminScript,
		Reserve:  app.Reserve(appID, app.CmdAddAuth, auth.Encode()),
	})
	addTx(f, grant, nil)

	auths := f.Auths(&appID, user)
	require.Len(t, auths, 1)
	require.EqualValues(t, 1001, auths[0].Auth)
	require.Equal(t, app.AuthAdd, auths[0].SetType)

	txs := f.AppTxsByAddress(&appID, admin)
	require.Len(t, txs, 2, spew.Sdump(txs))
	require.Equal(t, app.ClassRegister, txs[0].Class)
	require.Equal(t, app.ClassAddAuth, txs[1].Class)
	require.Less(t, txs[0].Seq, txs[1].Seq)
	require.Len(t, f.AppTxs(&appID), 2)
	require.Equal(t, []chainhash.Hash{appID}, f.AppListByAddress(admin))

	f.RemoveTx(&hash1)
	_, ok = f.AppIDByName("wallet")
	require.False(t, ok)
	require.Len(t, f.AppTxs(&appID), 1)
}

// TestCounterUnderflowPanics ensures a total can never go negative.
func TestCounterUnderflowPanics(t *testing.T) {
	t.Parallel()

	c := newCounterStore()
	c.add("k", 1, 5)
	require.Panics(t, func() { c.remove("k", 6) })
}
