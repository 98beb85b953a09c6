// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package indexers implements the secondary indices kept over the unconfirmed
transactions of the memory pool.

Every index is a projection of the outputs and inputs of a transaction: the
address activity of plain SAFE outputs, the spent outpoints, and the facts
carried by application reserves (app registrations, authorizations, app
activity, asset issuance and activity, candy claims).  Each forward store is
an ordered tree keyed by a composite byte key, so lookups by a leading subset
of the key fields are prefix scans.

A Family records which keys it inserted on behalf of each transaction in an
ownership ledger.  Removing a transaction erases exactly those keys, so
removal is exact and removing an unknown transaction is a no-op.

A Family is not safe for concurrent access.  The memory pool serializes all
access through its own lock.
*/
package indexers
