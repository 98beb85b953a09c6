// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/safeblock/safed/blockchain"
	safelog "github.com/safeblock/safed/internal/log"
	"github.com/safeblock/safed/mempool"
	"github.com/safeblock/safed/wire"
)

var log = safelog.SimuLog

const (
	// stepInterval is the simulated time between two steps.
	stepInterval = 30 * time.Second

	// minOutputValue is the smallest output a simulated transaction
	// creates.
	minOutputValue = 1000
)

// simStats counts what happened during a simulation.
type simStats struct {
	accepted    int
	rejected    int
	blocks      int
	mined       int
	reorgs      int
	prioritised int
	evicted     int
	removed     map[mempool.RemovalReason]int
}

// simulator drives a pool with random transactions, blocks and
// reorganizations of a simulated chain, and checks the pool invariants after
// every step.
type simulator struct {
	cfg   *config
	rng   *rand.Rand
	chain *simChain
	pool  *mempool.TxPool
	now   time.Time
	stats simStats

	// Outputs that may still be spendable, in creation order.
	candidates []wire.OutPoint
	known      map[wire.OutPoint]struct{}
}

// newSimulator returns a simulator paying every output to payScript.  The
// estimator may be nil.
func newSimulator(cfg *config, payScript []byte, est mempool.FeeEstimator) *simulator {
	genesis := time.Unix(1600000000, 0)
	s := &simulator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		chain: newSimChain(payScript, cfg.Funding, genesis),
		known: make(map[wire.OutPoint]struct{}),
	}
	s.stats.removed = make(map[mempool.RemovalReason]int)
	s.now = s.chain.medianTime(s.chain.height())

	for _, block := range s.chain.blocks {
		s.addCandidates(block.txs[0])
	}

	s.pool = mempool.New(&mempool.Config{
		Policy:                cfg.policy(),
		ChainParams:           activeNetParams,
		PutCandyAddress:       cfg.CandyAddress,
		FeeEstimator:          est,
		CheckFinal:            s.chain.checkFinal,
		CheckSequenceLocks:    s.chain.checkSequenceLocks,
		TestLockPointValidity: s.chain.lockPointsValid,
		Now:                   func() time.Time { return s.now },
	})
	s.pool.Subscribe(func(n *mempool.Notification) {
		if n.Type == mempool.NTTxRemoved {
			s.stats.removed[n.Data.(*mempool.TxRemovedData).Reason]++
		}
	})
	return s
}

// addCandidates records the outputs of the transaction as spendable.
func (s *simulator) addCandidates(tx *wire.MsgTx) {
	hash := tx.TxHash()
	for i := range tx.TxOut {
		s.addCandidate(wire.OutPoint{Hash: hash, Index: uint32(i)})
	}
}

func (s *simulator) addCandidate(op wire.OutPoint) {
	if _, ok := s.known[op]; ok {
		return
	}
	s.known[op] = struct{}{}
	s.candidates = append(s.candidates, op)
}

// dropCandidate forgets the candidate at index i.
func (s *simulator) dropCandidate(i int) {
	delete(s.known, s.candidates[i])
	last := len(s.candidates) - 1
	s.candidates[i] = s.candidates[last]
	s.candidates = s.candidates[:last]
}

// fetchOutput returns the output from the chain or the pool.
//
// This function MUST be called with the chain lock held.
func (s *simulator) fetchOutput(op wire.OutPoint) (*wire.TxOut, bool) {
	if out, ok := s.chain.view.FetchOutput(op); ok {
		return out, true
	}
	tx, err := s.pool.FetchTransaction(&op.Hash)
	if err != nil || int(op.Index) >= len(tx.TxOut) {
		return nil, false
	}
	return tx.TxOut[op.Index], true
}

// pickInputs returns up to n distinct spendable outputs.  Candidates that can
// no longer be spent are forgotten.
//
// This function MUST be called with the chain lock held.
func (s *simulator) pickInputs(n int) []wire.OutPoint {
	next := s.chain.height() + 1
	picked := make([]wire.OutPoint, 0, n)
	for tries := 0; len(picked) < n && tries < 4*n &&
		len(s.candidates) > 0; tries++ {

		i := s.rng.Intn(len(s.candidates))
		op := s.candidates[i]
		if _, ok := s.fetchOutput(op); !ok || s.pool.IsSpent(op) {
			s.dropCandidate(i)
			continue
		}
		if !s.chain.view.CoinbaseMature(&op.Hash, next) {
			continue
		}
		dup := false
		for _, p := range picked {
			dup = dup || p == op
		}
		if !dup {
			picked = append(picked, op)
		}
	}
	return picked
}

// newEntry returns a pool entry for the transaction paying fee, computed
// against the current chain.
//
// This function MUST be called with the chain lock held.
func (s *simulator) newEntry(tx *wire.MsgTx, fee int64) (*mempool.TxEntry, bool) {
	view := s.chain.view
	next := s.chain.height() + 1

	var lp mempool.LockPoints
	if !s.chain.checkSequenceLocks(tx, 0, &lp, false) {
		return nil, false
	}

	var spendsCoinbase bool
	var sigOps int
	for _, txIn := range tx.TxIn {
		entry := view.LookupEntry(&txIn.PreviousOutPoint.Hash)
		if entry != nil && entry.IsCoinBase() {
			spendsCoinbase = true
		}
		sigOps += txscript.GetSigOpCount(txIn.SignatureScript)
	}
	for _, txOut := range tx.TxOut {
		sigOps += txscript.GetSigOpCount(txOut.PkScript)
	}

	priority, inChainValue := mempool.CalcPriority(tx, view, next)
	return mempool.NewTxEntry(tx, fee, s.now, s.chain.height(), priority,
		inChainValue, spendsCoinbase, int64(sigOps), lp), true
}

// submit offers a new transaction spending random outputs at a random fee
// rate above the pool minimum.
func (s *simulator) submit() error {
	s.chain.mtx.Lock()
	defer s.chain.mtx.Unlock()

	ins := s.pickInputs(1 + s.rng.Intn(2))
	if len(ins) == 0 {
		return nil
	}

	var total int64
	tx := wire.NewMsgTx(wire.SafeTxVersion)
	for i := range ins {
		out, _ := s.fetchOutput(ins[i])
		total += out.Value
		tx.AddTxIn(wire.NewTxIn(&ins[i], nil))
	}
	numOuts := 1 + s.rng.Intn(3)
	for i := 0; i < numOuts; i++ {
		tx.AddTxOut(wire.NewTxOut(0, s.chain.payScript))
	}

	// Output values do not change the serialized size.
	rate := s.pool.GetMinFee(s.cfg.MaxPoolSize)
	if rate < mempool.DefaultIncrementalRelayFee {
		rate = mempool.DefaultIncrementalRelayFee
	}
	rate = btcutil.Amount(float64(rate) * (1 + 4*s.rng.Float64()))
	fee := int64(rate) * int64(tx.SerializeSize()) / 1000
	value := (total - fee) / int64(numOuts)
	if value < minOutputValue {
		return nil
	}
	for _, txOut := range tx.TxOut {
		txOut.Value = value
	}

	entry, ok := s.newEntry(tx, total-value*int64(numOuts))
	if !ok {
		return nil
	}
	err := s.pool.AddTransaction(entry, s.chain.view, s.cfg.policy().Limits)
	var limitErr *mempool.AncestorLimitError
	switch {
	case errors.As(err, &limitErr):
		log.Debugf("Rejected %v: %v", entry.Hash(), limitErr)
		s.stats.rejected++
		return nil
	case errors.Is(err, mempool.ErrTxConflict):
		log.Debugf("Rejected %v: %v", entry.Hash(), err)
		s.stats.rejected++
		return nil
	case err != nil:
		return err
	}
	s.stats.accepted++
	s.addCandidates(tx)
	return nil
}

// mine connects a block made of the best pooled transactions whose pooled
// parents made it into the block too.
func (s *simulator) mine() error {
	s.chain.mtx.Lock()
	defer s.chain.mtx.Unlock()

	selected := make(map[chainhash.Hash]struct{})
	var txs []*wire.MsgTx
	descs := s.pool.MiningDescs()
	for progress := true; progress && len(txs) < s.cfg.BlockTxs; {
		progress = false
		for _, desc := range descs {
			if len(txs) == s.cfg.BlockTxs {
				break
			}
			hash := desc.Hash()
			if _, ok := selected[hash]; ok {
				continue
			}
			ready := true
			for _, txIn := range desc.Tx().TxIn {
				prev := txIn.PreviousOutPoint.Hash
				_, in := selected[prev]
				if !in && !s.chain.view.HasOutput(txIn.PreviousOutPoint) {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			selected[hash] = struct{}{}
			txs = append(txs, desc.Tx())
			progress = true
		}
	}

	coinbase := s.chain.coinbase(1)
	if err := s.chain.connect(coinbase, txs); err != nil {
		return err
	}
	s.pool.RemoveForBlock(txs, s.chain.height())
	s.addCandidates(coinbase)
	s.now = s.now.Add(blockInterval)
	s.stats.blocks++
	s.stats.mined += len(txs)

	log.Debugf("Connected block %d with %d %s", s.chain.height(),
		len(txs), safelog.PickNoun(uint64(len(txs)), "transaction",
			"transactions"))
	return nil
}

// reorg disconnects the tip block and returns its transactions to the pool.
func (s *simulator) reorg() error {
	s.chain.mtx.Lock()
	defer s.chain.mtx.Unlock()

	// Never reorganize the funding blocks.
	if s.chain.height() <= blockchain.CoinbaseMaturity+1 {
		return nil
	}

	block := s.chain.disconnectTip()
	hashes := make([]chainhash.Hash, 0, len(block.txs)-1)
	for i, tx := range block.txs[1:] {
		var out int64
		for _, txOut := range tx.TxOut {
			out += txOut.Value
		}
		entry, ok := s.newEntry(tx, block.spentValue(i+1)-out)
		if !ok {
			continue
		}
		if err := s.pool.AddUnchecked(entry, s.chain.view); err != nil {
			return fmt.Errorf("re-adding %v: %v", entry.Hash(), err)
		}
		hashes = append(hashes, entry.Hash())
		for _, stxo := range block.stxos[i+1] {
			s.addCandidate(stxo.OutPoint)
		}
	}

	s.pool.UpdateTransactionsFromBlock(hashes)
	s.pool.RemoveForReorg(s.chain.view, s.chain.height()+1, 0)
	s.stats.reorgs++

	log.Debugf("Disconnected block %d, returned %d %s to the pool",
		s.chain.height()+1, len(hashes), safelog.PickNoun(
			uint64(len(hashes)), "transaction", "transactions"))
	return nil
}

// randomPooled returns a random pooled transaction hash.
func (s *simulator) randomPooled() (*chainhash.Hash, bool) {
	hashes := s.pool.TxHashes()
	if len(hashes) == 0 {
		return nil, false
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
	return hashes[s.rng.Intn(len(hashes))], true
}

// prioritise applies a random fee delta to a random pooled transaction.
func (s *simulator) prioritise() {
	hash, ok := s.randomPooled()
	if !ok {
		return
	}
	delta := s.rng.Int63n(20000) - 10000
	s.pool.PrioritiseTransaction(hash, 0, delta)
	s.stats.prioritised++
}

// evict removes a random pooled transaction with its descendants.
func (s *simulator) evict() {
	hash, ok := s.randomPooled()
	if !ok {
		return
	}
	tx, err := s.pool.FetchTransaction(hash)
	if err != nil {
		return
	}
	s.pool.Remove(tx, true)
	s.stats.evicted++
}

// step performs one random operation and checks the pool against the chain.
func (s *simulator) step() error {
	s.now = s.now.Add(stepInterval)

	var err error
	switch r := s.rng.Intn(100); {
	case r < 60:
		err = s.submit()
	case r < 80:
		err = s.mine()
	case r < 84:
		err = s.reorg()
	case r < 90:
		s.prioritise()
	case r < 95:
		s.evict()
	default:
		s.pool.LimitSize(s.cfg.MaxPoolSize, s.cfg.Expiry)
	}
	if err != nil {
		return err
	}

	s.chain.mtx.Lock()
	defer s.chain.mtx.Unlock()
	return s.pool.Check(s.chain.view)
}

// run performs the configured number of steps.
func (s *simulator) run() error {
	for i := 0; i < s.cfg.Steps; i++ {
		if err := s.step(); err != nil {
			return fmt.Errorf("step %d: %v", i, err)
		}
		if (i+1)%100 == 0 {
			log.Infof("Step %d: %d pooled, %d bytes, minimum fee %v",
				i+1, s.pool.Count(), s.pool.TotalTxSize(),
				s.pool.GetMinFee(s.cfg.MaxPoolSize))
		}
	}
	return nil
}
