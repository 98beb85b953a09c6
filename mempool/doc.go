// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package mempool provides a policy-enforced pool of unmined Safe transactions.

The pool keeps every accepted transaction together with the aggregate size,
modified fee and count of its in-pool ancestors and descendants.  Those
aggregates drive three orderings: eviction by descendant score when the pool
outgrows its memory limit, expiry by entry time, and block template selection
by ancestor score.

# Package Limits

A transaction is only accepted when it and its unconfirmed ancestors stay
within the configured Limits.  The ancestor count excludes the transaction
itself, while the descendant count of every ancestor includes the ancestor.
A violation is reported as a RuleError wrapping an *AncestorLimitError:

	err := pool.AddTransaction(entry, view, policy.Limits)
	var limitErr *mempool.AncestorLimitError
	if errors.As(err, &limitErr) {
		// limitErr.Reason identifies the limit.
	}

# Blocks and Reorganizations

Transactions confirmed by a block are removed with RemoveForBlock, which
leaves their pooled children in place.  When a block is disconnected its
transactions are re-added with AddUnchecked and linked to their pooled
spenders by UpdateTransactionsFromBlock.  Descendant walks there are bounded,
and entries whose walk was cut short are marked dirty until RecomputeDirty
rebuilds them.

# Secondary Indices

Address, application and asset activity of pooled transactions is indexed
by the indexers subpackage and can be queried through ViewIndexes.  Claims
against candy outputs paid to the configured candy pool address are not
treated as spends, so any number of them may be pooled at once.

# Errors

Errors returned by this package are either the raw errors provided by
underlying calls or of type mempool.RuleError.
*/
package mempool
