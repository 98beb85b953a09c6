// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/lru"
	"github.com/rcrowley/go-metrics"
	"github.com/safeblock/safed/mempool/indexers"
	"github.com/safeblock/safed/wire"
	"github.com/sasha-s/go-deadlock"
)

const (
	// recentlyRemovedSize is the number of removed transaction hashes
	// remembered by WasRecentlyRemoved.
	recentlyRemovedSize = 5000
)

// errNoFeeEstimator is returned by EstimateFeeRate when the pool was
// configured without an estimator.
var errNoFeeEstimator = errors.New("fee estimation is not enabled")

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Policy defines the various mempool configuration options related
	// to policy.
	Policy Policy

	// ChainParams identifies which chain parameters the txpool is
	// associated with.  They are used to decode output addresses for
	// the secondary indices.
	ChainParams *chaincfg.Params

	// PutCandyAddress is the address candy distributions are paid to.
	// Claims spending outputs paid to it are not tracked as spends.
	PutCandyAddress string

	// FeeEstimator is fed with accepted, confirmed and removed
	// transactions.  It may be nil.
	FeeEstimator FeeEstimator

	// CheckFinal reports whether the transaction is final in the next
	// block under the given verification flags.  A nil function treats
	// every transaction as final.
	CheckFinal func(tx *wire.MsgTx, flags int) bool

	// CheckSequenceLocks reports whether the relative lock times of the
	// transaction are satisfied in the next block.  When useExisting is
	// set the cached lock points are trusted; otherwise they are
	// recomputed and written back through lp.  A nil function treats
	// every transaction as unlocked.
	CheckSequenceLocks func(tx *wire.MsgTx, flags int, lp *LockPoints, useExisting bool) bool

	// TestLockPointValidity reports whether cached lock points are still
	// valid for the current chain.  A nil function treats all lock points
	// as valid.
	TestLockPointValidity func(lp *LockPoints) bool

	// MetricsRegistry receives the pool gauges and meters.  A private
	// registry is used when nil.
	MetricsRegistry metrics.Registry

	// Now returns the current time.  It defaults to time.Now.
	Now func() time.Time
}

// inPoint identifies the pooled input spending an outpoint.
type inPoint struct {
	id    EntryID
	index uint32
}

// txDeltas is an operator-applied prioritisation.
type txDeltas struct {
	priority float64
	fee      int64
}

// TxPool is used as a source of transactions that need to be mined into blocks
// and relayed to other peers.  It is safe for concurrent access from multiple
// peers.
//
// Callers that also hold the chain state lock must acquire it before the pool
// lock.
type TxPool struct {
	// The following variables must only be used atomically.
	lastUpdated int64 // last time pool was updated
	txnsUpdated uint32

	mtx       deadlock.RWMutex
	cfg       Config
	entries   []*TxEntry
	free      []EntryID
	pool      map[chainhash.Hash]EntryID
	nextTx    map[wire.OutPoint]inPoint
	spentFrom map[chainhash.Hash]int
	deltas    map[chainhash.Hash]txDeltas
	orderings *orderings
	indexes   *indexers.Family
	removed   lru.Cache
	metrics   *poolMetrics

	notificationsLock deadlock.RWMutex
	notifications     []NotificationCallback

	totalTxSize int64
	usage       int64

	rollingMinFee                float64
	lastRollingFeeUpdate         time.Time
	blockSinceLastRollingFeeBump bool
}

// Ensure the TxPool type implements the TxMempool interface.
var _ TxMempool = (*TxPool)(nil)

// New returns a new memory pool for storing accepted transactions until they
// are mined into a block.
func New(cfg *Config) *TxPool {
	c := *cfg
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Policy.MaxDescendantVisit <= 0 {
		c.Policy.MaxDescendantVisit = DefaultMaxDescendantVisit
	}
	if c.Policy.IncrementalRelayFee <= 0 {
		c.Policy.IncrementalRelayFee = DefaultIncrementalRelayFee
	}
	if c.MetricsRegistry == nil {
		c.MetricsRegistry = metrics.NewRegistry()
	}

	return &TxPool{
		cfg:       c,
		pool:      make(map[chainhash.Hash]EntryID),
		nextTx:    make(map[wire.OutPoint]inPoint),
		spentFrom: make(map[chainhash.Hash]int),
		deltas:    make(map[chainhash.Hash]txDeltas),
		orderings: newOrderings(),
		indexes: indexers.New(&indexers.Config{
			ChainParams:     c.ChainParams,
			PutCandyAddress: c.PutCandyAddress,
		}),
		removed:              lru.NewCache(recentlyRemovedSize),
		metrics:              newPoolMetrics(c.MetricsRegistry),
		lastRollingFeeUpdate: c.Now(),
	}
}

// allocEntry stores the entry in the arena and returns its handle.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) allocEntry(e *TxEntry) EntryID {
	var id EntryID
	if n := len(mp.free); n > 0 {
		id = mp.free[n-1]
		mp.free = mp.free[:n-1]
		mp.entries[id] = e
	} else {
		id = EntryID(len(mp.entries))
		mp.entries = append(mp.entries, e)
	}
	e.id = id
	return id
}

// releaseEntry returns the handle to the arena free list.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) releaseEntry(id EntryID) {
	mp.entries[id] = nil
	mp.free = append(mp.free, id)
}

// trackSpend records the input as the spender of the outpoint.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) trackSpend(op wire.OutPoint, in inPoint) {
	mp.nextTx[op] = in
	mp.usage += nextTxOverhead
	if mp.spentFrom[op.Hash] == 0 {
		mp.usage += spentFromOverhead
	}
	mp.spentFrom[op.Hash]++
}

// untrackSpend forgets the spender of the outpoint.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) untrackSpend(op wire.OutPoint) {
	delete(mp.nextTx, op)
	mp.usage -= nextTxOverhead
	if mp.spentFrom[op.Hash]--; mp.spentFrom[op.Hash] <= 0 {
		delete(mp.spentFrom, op.Hash)
		mp.usage -= spentFromOverhead
	}
}

// lookup returns the handle of the pooled transaction with the given hash.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) lookup(hash *chainhash.Hash) (EntryID, bool) {
	id, ok := mp.pool[*hash]
	return id, ok
}

// isCandyClaim returns whether the input claims candy from a put-candy output
// paid to the candy pool address.  Any number of pending claims may spend the
// same such output, so they are neither tracked as spends nor linked.
func (mp *TxPool) isCandyClaim(txIn *wire.TxIn, prevOut *wire.TxOut) bool {
	if len(txIn.SignatureScript) != 0 || mp.cfg.PutCandyAddress == "" {
		return false
	}
	if !indexers.IsPutCandyOutput(prevOut) {
		return false
	}
	addr, ok := indexers.ExtractAddress(prevOut.PkScript, mp.cfg.ChainParams)
	return ok && addr == mp.cfg.PutCandyAddress
}

// conflicts returns the handles of the pooled transactions spending an
// output also spent by the entry, along with the first such outpoint.
// Candy claims never conflict.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) conflicts(entry *TxEntry, view UtxoView) (entrySet, wire.OutPoint) {
	var first wire.OutPoint
	var set entrySet
	fetcher := &poolView{mp: mp, base: view}
	for _, txIn := range entry.tx.TxIn {
		op := txIn.PreviousOutPoint
		in, ok := mp.nextTx[op]
		if !ok {
			continue
		}
		if prevOut, ok := fetcher.fetchOutput(op); ok &&
			mp.isCandyClaim(txIn, prevOut) {

			continue
		}
		if set == nil {
			set = make(entrySet)
			first = op
		}
		set.add(in.id)
	}
	return set, first
}

// checkedAncestors returns the pooled ancestors of the entry after checking
// the package limits.  Dirty ancestors are recomputed first so the
// descendant limits are never checked against collapsed aggregates.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) checkedAncestors(entry *TxEntry, limits Limits) (entrySet, error) {
	ancestors, err := mp.calculateAncestors(entry, limits, true)
	if err != nil {
		return nil, err
	}
	for id := range ancestors {
		if mp.entries[id].dirty {
			mp.recomputeDirty()
			return mp.calculateAncestors(entry, limits, true)
		}
	}
	return ancestors, nil
}

// AddTransaction checks the package limits of the entry against the pool and
// adds it when they are satisfied.  A limit violation is returned as a
// RuleError wrapping an *AncestorLimitError, and spending an output already
// spent by a pooled transaction as a RuleError wrapping ErrTxConflict.  Both
// leave the pool unchanged.  The view supplies the confirmed outputs spent by
// the entry.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddTransaction(entry *TxEntry, view UtxoView, limits Limits) error {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	if _, ok := mp.lookup(&entry.hash); ok {
		return ErrTxExists
	}
	if set, op := mp.conflicts(entry, view); len(set) > 0 {
		return conflictError(op, mp.entries[mp.nextTx[op].id].hash)
	}
	ancestors, err := mp.checkedAncestors(entry, limits)
	if err != nil {
		return err
	}
	mp.addUnchecked(entry, ancestors, view)
	return nil
}

// AddUnchecked adds the entry to the pool without checking any limits.  It is
// used to re-add the transactions of disconnected blocks, which take
// precedence over pooled transactions spending the same outputs: those are
// removed along with their descendants.
//
// This function is safe for concurrent access.
func (mp *TxPool) AddUnchecked(entry *TxEntry, view UtxoView) error {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	if _, ok := mp.lookup(&entry.hash); ok {
		return ErrTxExists
	}
	if set, _ := mp.conflicts(entry, view); len(set) > 0 {
		stage := make(entrySet)
		for id := range set {
			mp.clearPrioritisation(&mp.entries[id].hash)
			mp.calculateDescendants(id, stage)
		}
		mp.removeStaged(stage, false, RemovalReasonConflict)
	}
	ancestors, err := mp.calculateAncestors(entry, NoLimits, true)
	if err != nil {
		return err
	}
	mp.addUnchecked(entry, ancestors, view)
	return nil
}

// addUnchecked adds a copy of the entry to the pool, links it to its pooled
// parents and updates the aggregates of it and its ancestors.  The ancestor
// set must have been computed by calculateAncestors.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) addUnchecked(entry *TxEntry, ancestors entrySet, view UtxoView) {
	ne := new(TxEntry)
	*ne = *entry
	ne.parents = make(entrySet)
	ne.children = make(entrySet)
	ne.dirty = false
	ne.feeDelta = 0
	ne.descCount, ne.descSize, ne.descFees = 1, ne.size, ne.fee
	ne.ancCount, ne.ancSize, ne.ancFees = 1, ne.size, ne.fee
	ne.ancSigOps = ne.sigOpCount

	// Apply any prioritisation recorded before the transaction arrived.
	if d, ok := mp.deltas[ne.hash]; ok && d.fee != 0 {
		ne.updateFeeDelta(d.fee)
	}

	id := mp.allocEntry(ne)
	ne.key = makeOrderKey(ne)
	mp.orderings.insert(ne.key)
	mp.pool[ne.hash] = id
	mp.usage += ne.usage + entryOverhead

	fetcher := &poolView{mp: mp, base: view}
	for i, txIn := range ne.tx.TxIn {
		op := txIn.PreviousOutPoint
		if prevOut, ok := fetcher.fetchOutput(op); ok &&
			mp.isCandyClaim(txIn, prevOut) {

			continue
		}
		mp.trackSpend(op, inPoint{id: id, index: uint32(i)})
		if pid, ok := mp.lookup(&op.Hash); ok {
			mp.updateParent(id, pid, true)
		}
	}

	mp.updateAncestorsOf(true, id, ancestors)
	mp.updateEntryForAncestors(id, ancestors)

	atomic.AddUint32(&mp.txnsUpdated, 1)
	mp.totalTxSize += ne.size
	if mp.cfg.FeeEstimator != nil {
		mp.cfg.FeeEstimator.ProcessTransaction(&ne.hash, ne.fee, ne.size)
	}
	mp.indexes.AddTx(ne.tx, &ne.hash, ne.time, fetcher)
	atomic.StoreInt64(&mp.lastUpdated, mp.cfg.Now().Unix())
	mp.metrics.added.Mark(1)
	mp.updateGauges()
	mp.sendNotification(NTTxAccepted, ne.snapshot())

	log.Debugf("Accepted transaction %v (pool size: %v)", ne.hash,
		len(mp.pool))
}

// Exists returns whether or not the passed transaction is in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Exists(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	_, ok := mp.lookup(hash)
	mp.mtx.RUnlock()

	return ok
}

// Entry returns a snapshot of the pooled transaction with the given hash.
//
// This function is safe for concurrent access.
func (mp *TxPool) Entry(hash *chainhash.Hash) (*TxEntry, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	id, ok := mp.lookup(hash)
	if !ok {
		return nil, ErrTxNotFound
	}
	return mp.entries[id].snapshot(), nil
}

// FetchTransaction returns the requested transaction from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) FetchTransaction(hash *chainhash.Hash) (*wire.MsgTx, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	id, ok := mp.lookup(hash)
	if !ok {
		return nil, ErrTxNotFound
	}
	return mp.entries[id].tx, nil
}

// Count returns the number of transactions in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()

	return count
}

// TxHashes returns a slice of hashes for all of the transactions in the memory
// pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxHashes() []*chainhash.Hash {
	mp.mtx.RLock()
	hashes := make([]*chainhash.Hash, 0, len(mp.pool))
	for hash := range mp.pool {
		hashCopy := hash
		hashes = append(hashes, &hashCopy)
	}
	mp.mtx.RUnlock()

	return hashes
}

// TotalTxSize returns the sum of the serialized sizes of all pooled
// transactions.
//
// This function is safe for concurrent access.
func (mp *TxPool) TotalTxSize() int64 {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.totalTxSize
}

// DynamicMemoryUsage returns the estimated memory used by the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) DynamicMemoryUsage() int64 {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.usage
}

// LastUpdated returns the last time a transaction was added to or removed from
// the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(atomic.LoadInt64(&mp.lastUpdated), 0)
}

// TransactionsUpdated returns the number of transactions added to or removed
// from the pool since it was created.  Block template builders compare it to
// decide whether a template is stale.
func (mp *TxPool) TransactionsUpdated() uint32 {
	return atomic.LoadUint32(&mp.txnsUpdated)
}

// AddTransactionsUpdated bumps the update counter without changing the pool.
func (mp *TxPool) AddTransactionsUpdated(n uint32) {
	atomic.AddUint32(&mp.txnsUpdated, n)
}

// sortedHashes returns the hashes of the set in ascending byte order.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) sortedHashes(set entrySet) []chainhash.Hash {
	hashes := make([]chainhash.Hash, 0, len(set))
	for id := range set {
		hashes = append(hashes, mp.entries[id].hash)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return hashLess(&hashes[i], &hashes[j])
	})
	return hashes
}

// Ancestors returns the hashes of all in-pool ancestors of the transaction.
//
// This function is safe for concurrent access.
func (mp *TxPool) Ancestors(hash *chainhash.Hash) ([]chainhash.Hash, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	id, ok := mp.lookup(hash)
	if !ok {
		return nil, ErrTxNotFound
	}
	ancestors, err := mp.calculateAncestors(mp.entries[id], NoLimits, false)
	if err != nil {
		return nil, err
	}
	return mp.sortedHashes(ancestors), nil
}

// Descendants returns the hashes of all in-pool descendants of the
// transaction.
//
// This function is safe for concurrent access.
func (mp *TxPool) Descendants(hash *chainhash.Hash) ([]chainhash.Hash, error) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	id, ok := mp.lookup(hash)
	if !ok {
		return nil, ErrTxNotFound
	}
	descendants := make(entrySet)
	mp.calculateDescendants(id, descendants)
	delete(descendants, id)
	return mp.sortedHashes(descendants), nil
}

// MiningDescs returns snapshots of all pooled transactions ordered by
// ancestor score, best first.  Dirty aggregates are recomputed first.
//
// This function is safe for concurrent access.
func (mp *TxPool) MiningDescs() []*TxEntry {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	mp.recomputeDirty()
	descs := make([]*TxEntry, 0, len(mp.pool))
	mp.orderings.byAncScore.Ascend(func(k orderKey) bool {
		descs = append(descs, mp.entries[k.id].snapshot())
		return true
	})
	return descs
}

// HasNoInputsOf returns whether none of the inputs of tx spend a pooled
// transaction.
//
// This function is safe for concurrent access.
func (mp *TxPool) HasNoInputsOf(tx *wire.MsgTx) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	for _, txIn := range tx.TxIn {
		if _, ok := mp.lookup(&txIn.PreviousOutPoint.Hash); ok {
			return false
		}
	}
	return true
}

// IsSpent returns whether a pooled transaction spends the outpoint.
//
// This function is safe for concurrent access.
func (mp *TxPool) IsSpent(op wire.OutPoint) bool {
	mp.mtx.RLock()
	_, ok := mp.nextTx[op]
	mp.mtx.RUnlock()

	return ok
}

// Spender returns the hash and input index of the pooled transaction
// spending the outpoint.
//
// This function is safe for concurrent access.
func (mp *TxPool) Spender(op wire.OutPoint) (chainhash.Hash, uint32, bool) {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	in, ok := mp.nextTx[op]
	if !ok {
		return chainhash.Hash{}, 0, false
	}
	return mp.entries[in.id].hash, in.index, true
}

// WasRecentlyRemoved returns whether the transaction left the pool recently.
//
// This function is safe for concurrent access.
func (mp *TxPool) WasRecentlyRemoved(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return mp.removed.Contains(*hash)
}

// EstimateFeeRate returns the fee rate in atoms/kB the configured estimator
// expects to confirm a transaction within targetBlocks.
//
// This function is safe for concurrent access.
func (mp *TxPool) EstimateFeeRate(targetBlocks int32) (btcutil.Amount, error) {
	if mp.cfg.FeeEstimator == nil {
		return 0, errNoFeeEstimator
	}
	return mp.cfg.FeeEstimator.EstimateFeeRate(targetBlocks)
}

// ViewIndexes runs fn against the secondary indices with the pool lock held
// for reads.  The family must not be retained after fn returns.
//
// This function is safe for concurrent access.
func (mp *TxPool) ViewIndexes(fn func(f *indexers.Family) error) error {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	return fn(mp.indexes)
}
