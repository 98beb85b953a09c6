// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
	"github.com/stretchr/testify/require"
)

// TestAncestorLimit ensures a chain of unconfirmed transactions is cut off
// once a candidate would have more in-pool ancestors than allowed, not
// counting itself.
func TestAncestorLimit(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, nil)
	h.limits.MaxAncestors = 1

	cb := h.fund(1)
	a := h.spend(1000, 1, txOut(cb, 0))
	b := h.spend(1000, 1, outpoint(a, 0))
	c := h.spend(1000, 1, outpoint(b, 0))

	h.mustAdd(a)
	h.mustAdd(b)
	err := h.add(c)
	require.Error(t, err)

	var ruleErr RuleError
	require.True(t, errors.As(err, &ruleErr), "unexpected error type %T",
		err)
	require.Equal(t, TooManyAncestors, limitReason(t, err))
	require.False(t, h.pool.Exists(&c.hash))
	require.False(t, h.pool.IsSpent(outpoint(b, 0)))
	require.Equal(t, 2, h.pool.Count())
	h.check()
}

// TestDescendantLimits ensures candidates are rejected when one of their
// ancestors would end up with too many descendants or too large a
// descendant package, and that the offending ancestor is reported.
func TestDescendantLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		limits func(h *poolHarness, a, b *TxEntry)
		reason LimitReason
	}{
		{
			name: "descendant count",
			limits: func(h *poolHarness, a, b *TxEntry) {
				h.limits.MaxDescendants = 2
			},
			reason: TooManyDescendants,
		},
		{
			name: "descendant size",
			limits: func(h *poolHarness, a, b *TxEntry) {
				h.limits.MaxDescendantSize = uint64(a.Size() +
					b.Size())
			},
			reason: DescendantSizeExceeded,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			h := newPoolHarness(t, nil)
			cb := h.fund(1)
			a := h.spend(1000, 2, txOut(cb, 0))
			b := h.spend(1000, 1, outpoint(a, 0))
			c := h.spend(1000, 1, outpoint(a, 1))
			test.limits(h, a, b)

			h.mustAdd(a)
			h.mustAdd(b)
			err := h.add(c)
			require.Equal(t, test.reason, limitReason(t, err))

			var limitErr *AncestorLimitError
			require.ErrorAs(t, err, &limitErr)
			require.Equal(t, a.Hash(), limitErr.Hash)
			require.False(t, h.pool.Exists(&c.hash))
			h.check()
		})
	}
}

// TestAncestorSizeLimit ensures a candidate whose package with its ancestors
// is too large is rejected.
func TestAncestorSizeLimit(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, nil)
	cb := h.fund(1)
	a := h.spend(1000, 1, txOut(cb, 0))
	b := h.spend(1000, 1, outpoint(a, 0))
	h.limits.MaxAncestorSize = uint64(a.Size()+b.Size()) - 1

	h.mustAdd(a)
	err := h.add(b)
	require.Equal(t, AncestorSizeExceeded, limitReason(t, err))
	require.Equal(t, 1, h.pool.Count())

	h.limits.MaxAncestorSize++
	h.mustAdd(b)
	h.check()
}

// TestPackageAggregates checks the ancestor and descendant aggregates of a
// diamond shaped package, where the shared ancestor must only be counted
// once.
func TestPackageAggregates(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, nil)
	cb := h.fund(1)
	g := h.spend(1000, 2, txOut(cb, 0))
	p1 := h.spend(2000, 1, outpoint(g, 0))
	p2 := h.spend(3000, 1, outpoint(g, 1))
	c := h.spend(4000, 1, outpoint(p1, 0), outpoint(p2, 0))
	for _, e := range []*TxEntry{g, p1, p2, c} {
		h.mustAdd(e)
	}
	h.check()

	total := g.Size() + p1.Size() + p2.Size() + c.Size()
	ge := h.poolEntry(g.Hash())
	require.EqualValues(t, 4, ge.CountWithDescendants())
	require.Equal(t, total, ge.SizeWithDescendants())
	require.EqualValues(t, 10000, ge.ModFeesWithDescendants())
	require.EqualValues(t, 1, ge.CountWithAncestors())

	ce := h.poolEntry(c.Hash())
	require.EqualValues(t, 4, ce.CountWithAncestors())
	require.Equal(t, total, ce.SizeWithAncestors())
	require.EqualValues(t, 10000, ce.ModFeesWithAncestors())
	require.EqualValues(t, 4, ce.SigOpsWithAncestors())
	require.EqualValues(t, 1, ce.CountWithDescendants())

	pe := h.poolEntry(p1.Hash())
	require.EqualValues(t, 2, pe.CountWithAncestors())
	require.EqualValues(t, 2, pe.CountWithDescendants())

	ancestors, err := h.pool.Ancestors(&c.hash)
	require.NoError(t, err)
	require.ElementsMatch(t, []chainhash.Hash{g.Hash(), p1.Hash(),
		p2.Hash()}, ancestors)
	descendants, err := h.pool.Descendants(&g.hash)
	require.NoError(t, err)
	require.ElementsMatch(t, []chainhash.Hash{p1.Hash(), p2.Hash(),
		c.Hash()}, descendants)

	// Removing one side of the diamond takes the shared child with it.
	h.pool.Remove(p1.Tx(), true)
	require.False(t, h.pool.Exists(&c.hash))
	ge = h.poolEntry(g.Hash())
	require.EqualValues(t, 2, ge.CountWithDescendants())
	require.Equal(t, g.Size()+p2.Size(), ge.SizeWithDescendants())
	require.EqualValues(t, 4000, ge.ModFeesWithDescendants())
	h.check()
}

// TestLimitOrderIndependence ensures the ancestors found for a candidate,
// and whether it crosses a limit, do not depend on the order of its inputs.
func TestLimitOrderIndependence(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, nil)
	cb := h.fund(3)
	g := h.spend(1000, 1, txOut(cb, 0))
	p1 := h.spend(1000, 1, outpoint(g, 0))
	p2 := h.spend(1000, 1, txOut(cb, 1))
	for _, e := range []*TxEntry{g, p1, p2} {
		h.mustAdd(e)
	}

	ins := []wire.OutPoint{outpoint(p1, 0), outpoint(p2, 0), txOut(cb, 2)}
	perms := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	outcome := func(e *TxEntry, limits Limits) (bool, []chainhash.Hash) {
		h.pool.mtx.RLock()
		defer h.pool.mtx.RUnlock()

		ancestors, err := h.pool.calculateAncestors(e, limits, true)
		if err != nil {
			return false, nil
		}
		return true, h.pool.sortedHashes(ancestors)
	}

	for maxAnc := uint64(0); maxAnc <= 4; maxAnc++ {
		for maxDesc := uint64(1); maxDesc <= 4; maxDesc++ {
			limits := NoLimits
			limits.MaxAncestors = maxAnc
			limits.MaxDescendants = maxDesc

			// The candidate has three ancestors and g would gain
			// a third descendant.
			wantOK := maxAnc >= 3 && maxDesc >= 3
			for _, perm := range perms {
				permuted := make([]wire.OutPoint, len(perm))
				for i, j := range perm {
					permuted[i] = ins[j]
				}
				c := h.spend(1000, 1, permuted...)
				ok, ancestors := outcome(c, limits)
				desc := fmt.Sprintf("ancestors %d, descendants "+
					"%d, order %v", maxAnc, maxDesc, perm)
				require.Equal(t, wantOK, ok, desc)
				if ok {
					require.ElementsMatch(t, []chainhash.Hash{
						g.Hash(), p1.Hash(), p2.Hash(),
					}, ancestors, desc)
				}
			}
		}
	}
}

// TestMiningDescsOrder ensures mining descriptors come out best ancestor
// score first, so a child paying for its parent sorts with the package rate.
func TestMiningDescsOrder(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, nil)
	cb := h.fund(2)
	x := h.spend(1000, 1, txOut(cb, 0))
	y := h.spend(5000, 1, txOut(cb, 1))
	z := h.spend(100000, 1, outpoint(x, 0))
	for _, e := range []*TxEntry{x, y, z} {
		h.mustAdd(e)
	}

	descs := h.pool.MiningDescs()
	require.Len(t, descs, 3)
	require.Equal(t, z.Hash(), descs[0].Hash())
	require.Equal(t, y.Hash(), descs[1].Hash())
	require.Equal(t, x.Hash(), descs[2].Hash())
	require.EqualValues(t, 101000, descs[0].ModFeesWithAncestors())
}

// reAddBlock simulates disconnecting a block holding b.  The children of b
// are pooled while b is confirmed, then b is re-added and linked to them.
func reAddBlock(h *poolHarness) (b, c1, c2 *TxEntry) {
	h.t.Helper()

	cb := h.fund(1)
	b = h.spend(1000, 2, txOut(cb, 0))
	stxos, err := h.chain.ConnectTransaction(b.Tx(), h.height)
	require.NoError(h.t, err)

	c1 = h.spend(2000, 1, outpoint(b, 0))
	c2 = h.spend(3000, 1, outpoint(b, 1))
	h.mustAdd(c1)
	h.mustAdd(c2)
	h.check()

	h.chain.DisconnectTransaction(b.Tx(), stxos)
	require.NoError(h.t, h.pool.AddUnchecked(b, h.chain))
	h.pool.UpdateTransactionsFromBlock([]chainhash.Hash{b.Hash()})
	return b, c1, c2
}

// TestUpdateTransactionsFromBlock ensures a re-added block transaction is
// linked to its pooled spenders and the aggregates on both sides include the
// new link.
func TestUpdateTransactionsFromBlock(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, nil)
	b, c1, c2 := reAddBlock(h)
	h.check()
	require.False(t, h.pool.HasDirty())

	be := h.poolEntry(b.Hash())
	require.EqualValues(t, 3, be.CountWithDescendants())
	require.Equal(t, b.Size()+c1.Size()+c2.Size(), be.SizeWithDescendants())
	require.EqualValues(t, 6000, be.ModFeesWithDescendants())

	ce := h.poolEntry(c1.Hash())
	require.EqualValues(t, 2, ce.CountWithAncestors())
	require.EqualValues(t, 3000, ce.ModFeesWithAncestors())
}

// TestUpdateTransactionsFromBlockDirty ensures a re-added transaction whose
// descendants exceed the visit budget is marked dirty with collapsed
// aggregates, and that the aggregates are rebuilt on demand.
func TestUpdateTransactionsFromBlockDirty(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, func(cfg *Config) {
		cfg.Policy.MaxDescendantVisit = 1
	})
	b, c1, _ := reAddBlock(h)
	require.True(t, h.pool.HasDirty())
	h.check()

	be := h.poolEntry(b.Hash())
	require.True(t, be.IsDirty())
	require.EqualValues(t, 1, be.CountWithDescendants())
	require.Equal(t, b.Size(), be.SizeWithDescendants())
	require.Equal(t, b.ModifiedFee(), be.ModFeesWithDescendants())

	// Mining descriptors must never be built from collapsed aggregates.
	descs := h.pool.MiningDescs()
	require.Len(t, descs, 3)
	require.False(t, h.pool.HasDirty())
	h.check()

	be = h.poolEntry(b.Hash())
	require.False(t, be.IsDirty())
	require.EqualValues(t, 3, be.CountWithDescendants())
	require.EqualValues(t, 2, h.poolEntry(c1.Hash()).CountWithAncestors())
}

// TestDescendantLimitDirtyAncestor ensures the descendant limits are checked
// against the rebuilt aggregates of a dirty ancestor rather than its
// collapsed ones.
func TestDescendantLimitDirtyAncestor(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, func(cfg *Config) {
		cfg.Policy.MaxDescendantVisit = 1
	})
	b, c1, _ := reAddBlock(h)
	require.True(t, h.poolEntry(b.Hash()).IsDirty())

	h.limits.MaxDescendants = 3
	g := h.spend(1000, 1, outpoint(c1, 0))
	err := h.add(g)
	require.Equal(t, TooManyDescendants, limitReason(t, err))
	var limitErr *AncestorLimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, b.Hash(), limitErr.Hash)
	require.False(t, h.pool.Exists(&g.hash))
	require.False(t, h.pool.HasDirty())
	h.check()

	h.limits.MaxDescendants = 4
	h.mustAdd(g)
	require.EqualValues(t, 4, h.poolEntry(b.Hash()).CountWithDescendants())
	h.check()
}

// TestRandomOperations runs a long deterministic mix of additions, removals,
// confirmations, prioritisations and trims, checking the whole pool after
// every step.
func TestRandomOperations(t *testing.T) {
	t.Parallel()

	h := newPoolHarness(t, nil)
	rng := rand.New(rand.NewSource(1))
	var known []wire.OutPoint
	for i := 0; i < 4; i++ {
		cb := h.fund(8)
		for j := range cb.TxOut {
			known = append(known, txOut(cb, uint32(j)))
		}
	}

	// spendable returns the known outpoints that exist and are not spent
	// by a pooled transaction yet.
	spendable := func() []wire.OutPoint {
		var ops []wire.OutPoint
		for _, op := range known {
			confirmed := h.chain.HasOutput(op)
			if !confirmed && !h.pool.Exists(&op.Hash) {
				continue
			}
			if h.pool.IsSpent(op) {
				continue
			}
			ops = append(ops, op)
		}
		return ops
	}
	pooled := func() []*wire.MsgTx {
		var txs []*wire.MsgTx
		for _, hash := range h.pool.TxHashes() {
			tx, err := h.pool.FetchTransaction(hash)
			require.NoError(t, err)
			txs = append(txs, tx)
		}
		return txs
	}

	for step := 0; step < 300; step++ {
		h.now = h.now.Add(time.Second)
		switch op := rng.Intn(10); {
		case op < 6:
			ops := spendable()
			if len(ops) == 0 {
				continue
			}
			rng.Shuffle(len(ops), func(i, j int) {
				ops[i], ops[j] = ops[j], ops[i]
			})
			n := 1 + rng.Intn(2)
			if n > len(ops) {
				n = len(ops)
			}
			var total int64
			for _, op := range ops[:n] {
				total += h.value(op)
			}
			if total < 20000 {
				continue
			}
			e := h.spend(int64(100+rng.Intn(5000)), 1+rng.Intn(3),
				ops[:n]...)
			if err := h.add(e); err != nil {
				var limitErr *AncestorLimitError
				require.ErrorAs(t, err, &limitErr)
				continue
			}
			for i := range e.Tx().TxOut {
				known = append(known, outpoint(e, uint32(i)))
			}

		case op < 7:
			if txs := pooled(); len(txs) > 0 {
				h.pool.Remove(txs[rng.Intn(len(txs))], true)
			}

		case op < 8:
			var roots []*wire.MsgTx
			for _, tx := range pooled() {
				if h.pool.HasNoInputsOf(tx) {
					roots = append(roots, tx)
				}
			}
			if len(roots) > 0 {
				h.confirm(roots[rng.Intn(len(roots))])
			}

		case op < 9:
			if txs := pooled(); len(txs) > 0 {
				hash := txs[rng.Intn(len(txs))].TxHash()
				h.pool.PrioritiseTransaction(&hash, 0,
					int64(rng.Intn(201)-100))
			}

		default:
			h.pool.TrimToSize(h.pool.DynamicMemoryUsage()*9/10, true)
		}

		require.NoError(t, h.pool.Check(h.chain), "step %d", step)
	}
}
