// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/app"
	"github.com/safeblock/safed/wire"
)

// storeID identifies a forward store in the ownership ledger.
type storeID uint8

// These constants identify the forward stores of a Family.  They are stable
// and double as the order stores are listed in.
const (
	addressStore storeID = iota
	spentStore
	appInfoStore
	appNameStore
	appTxStore
	authStore
	assetInfoStore
	shortNameStore
	assetNameStore
	assetTxStore
	candyClaimStore
	candyCountStore

	numStores
)

// Map of store ids back to their names for pretty printing.
var storeNames = [numStores]string{
	addressStore:    "address",
	spentStore:      "spent",
	appInfoStore:    "app info",
	appNameStore:    "app name",
	appTxStore:      "app tx",
	authStore:       "auth",
	assetInfoStore:  "asset info",
	shortNameStore:  "asset short name",
	assetNameStore:  "asset name",
	assetTxStore:    "asset tx",
	candyClaimStore: "candy claim",
	candyCountStore: "candy claim total",
}

// String returns the storeID in human-readable form.
func (id storeID) String() string {
	if id < numStores {
		return storeNames[id]
	}
	return "unknown"
}

// ledgerEntry is one key inserted on behalf of a transaction.  amount is only
// used by counter stores and is the value added to the total.
type ledgerEntry struct {
	store  storeID
	key    string
	amount int64
}

// OutputFetcher supplies the outputs spent by an indexed transaction.
type OutputFetcher interface {
	FetchOutput(op wire.OutPoint) (*wire.TxOut, bool)
}

// Config is a descriptor containing the index family configuration.
type Config struct {
	// ChainParams identifies the network addresses are encoded for.
	ChainParams *chaincfg.Params

	// PutCandyAddress is the address candy distributions are paid to.
	// Only claims spending outputs paid to it are counted.
	PutCandyAddress string
}

// Family is the set of secondary indices kept over the pooled transactions
// together with the ownership ledger used to remove them.
type Family struct {
	cfg Config

	// seq is incremented for every record written.  Lookups report it so
	// callers can merge pooled results with confirmed ones in the order
	// they were seen.
	seq uint64

	ledger map[chainhash.Hash][]ledgerEntry
	stores [numStores]store

	addrs       *recordStore[AddressDelta]
	spent       *recordStore[SpentInfo]
	appInfo     *recordStore[AppInfo]
	appNames    *recordStore[chainhash.Hash]
	appTxs      *recordStore[TxRecord]
	auths       *recordStore[AuthRecord]
	assetInfo   *recordStore[AssetInfo]
	shortNames  *recordStore[chainhash.Hash]
	assetNames  *recordStore[chainhash.Hash]
	assetTxs    *recordStore[TxRecord]
	candyClaims *recordStore[int64]
	candyCounts *counterStore
}

// New returns an empty index family.
func New(cfg *Config) *Family {
	f := &Family{
		cfg:         *cfg,
		ledger:      make(map[chainhash.Hash][]ledgerEntry),
		addrs:       newRecordStore[AddressDelta](),
		spent:       newRecordStore[SpentInfo](),
		appInfo:     newRecordStore[AppInfo](),
		appNames:    newRecordStore[chainhash.Hash](),
		appTxs:      newRecordStore[TxRecord](),
		auths:       newRecordStore[AuthRecord](),
		assetInfo:   newRecordStore[AssetInfo](),
		shortNames:  newRecordStore[chainhash.Hash](),
		assetNames:  newRecordStore[chainhash.Hash](),
		assetTxs:    newRecordStore[TxRecord](),
		candyClaims: newRecordStore[int64](),
		candyCounts: newCounterStore(),
	}
	f.stores = [numStores]store{
		addressStore:    f.addrs,
		spentStore:      f.spent,
		appInfoStore:    f.appInfo,
		appNameStore:    f.appNames,
		appTxStore:      f.appTxs,
		authStore:       f.auths,
		assetInfoStore:  f.assetInfo,
		shortNameStore:  f.shortNames,
		assetNameStore:  f.assetNames,
		assetTxStore:    f.assetTxs,
		candyClaimStore: f.candyClaims,
		candyCountStore: f.candyCounts,
	}
	return f
}

// decodedOutput is an output of the indexed transaction with its reserve and
// destination decoded once for all indices.
type decodedOutput struct {
	out     *wire.TxOut
	header  *app.Header
	payload []byte
	addr    string
	hasAddr bool
}

// txBatch collects the keys written while indexing one transaction.
type txBatch struct {
	f        *Family
	tx       *wire.MsgTx
	hash     chainhash.Hash
	time     time.Time
	prevOuts []*wire.TxOut
	outputs  []decodedOutput
	inserted []ledgerEntry
}

// put writes a record to a set-like store and records the key in the ledger.
// A key already held by another transaction is left to its first writer.
func put[V any](b *txBatch, id storeID, s *recordStore[V], key string, value V) {
	b.f.seq++
	if !s.insert(key, b.f.seq, value) {
		log.Debugf("Transaction %v does not own %s key %x", b.hash, id, key)
		return
	}
	b.inserted = append(b.inserted, ledgerEntry{store: id, key: key})
}

// addToCounter adds amount to a running total and records it in the ledger.
func (b *txBatch) addToCounter(id storeID, c *counterStore, key string, amount int64) {
	if amount == 0 {
		return
	}
	b.f.seq++
	c.add(key, b.f.seq, amount)
	b.inserted = append(b.inserted, ledgerEntry{
		store:  id,
		key:    key,
		amount: amount,
	})
}

// AddTx indexes the transaction.  The fetcher supplies the spent outputs,
// whether confirmed or pooled.  A transaction is indexed at most once; adding
// it again before it is removed is ignored.
func (f *Family) AddTx(tx *wire.MsgTx, hash *chainhash.Hash, t time.Time, fetcher OutputFetcher) {
	if _, ok := f.ledger[*hash]; ok {
		log.Warnf("Transaction %v is already indexed", hash)
		return
	}

	b := &txBatch{
		f:        f,
		tx:       tx,
		hash:     *hash,
		time:     t,
		prevOuts: make([]*wire.TxOut, len(tx.TxIn)),
		outputs:  make([]decodedOutput, len(tx.TxOut)),
	}
	if fetcher != nil {
		for i, txIn := range tx.TxIn {
			if out, ok := fetcher.FetchOutput(txIn.PreviousOutPoint); ok {
				b.prevOuts[i] = out
			}
		}
	}
	for i, txOut := range tx.TxOut {
		d := &b.outputs[i]
		d.out = txOut
		d.addr, d.hasAddr = ExtractAddress(txOut.PkScript, f.cfg.ChainParams)
		if h, payload, err := app.ParseReserve(txOut.Reserve); err == nil {
			d.header, d.payload = h, payload
		}
	}

	f.indexAddresses(b)
	f.indexSpends(b)
	f.indexApps(b)
	f.indexAssets(b)

	f.ledger[*hash] = b.inserted
	log.Tracef("Indexed transaction %v under %d keys", hash, len(b.inserted))
}

// RemoveTx erases every key inserted on behalf of the transaction.  Removing
// a transaction that is not indexed is a no-op.
func (f *Family) RemoveTx(hash *chainhash.Hash) {
	inserted, ok := f.ledger[*hash]
	if !ok {
		return
	}
	for _, e := range inserted {
		f.stores[e.store].remove(e.key, e.amount)
	}
	delete(f.ledger, *hash)
	log.Tracef("Removed %d index keys of transaction %v", len(inserted),
		hash)
}

// IsIndexed returns whether the transaction is currently indexed.
func (f *Family) IsIndexed(hash *chainhash.Hash) bool {
	_, ok := f.ledger[*hash]
	return ok
}

// Count returns the number of indexed transactions.
func (f *Family) Count() int {
	return len(f.ledger)
}

// Keys returns the number of records held by every forward store.
func (f *Family) Keys() int {
	n := f.addrs.len() + f.spent.len() + f.appInfo.len() +
		f.appNames.len() + f.appTxs.len() + f.auths.len() +
		f.assetInfo.len() + f.shortNames.len() + f.assetNames.len() +
		f.assetTxs.len() + f.candyClaims.len() + f.candyCounts.len()
	return n
}
