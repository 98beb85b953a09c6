// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

var (
	// ErrTxExists is returned when adding a transaction that is already
	// in the pool.
	ErrTxExists = errors.New("transaction already in pool")

	// ErrTxNotFound is returned by lookups for transactions that are not
	// in the pool.
	ErrTxNotFound = errors.New("transaction not in pool")

	// ErrTxConflict is wrapped in the RuleError returned when adding a
	// transaction that spends an output already spent by a pooled one.
	ErrTxConflict = errors.New("output already spent in pool")
)

// LimitReason identifies which package limit a candidate transaction
// exceeded.
type LimitReason int

// These constants identify the package limits checked when a transaction is added.
const (
	// TooManyAncestors indicates the candidate would have more in-pool
	// ancestors than allowed.
	TooManyAncestors LimitReason = iota

	// TooManyDescendants indicates an ancestor would have too many
	// in-pool descendants.
	TooManyDescendants

	// DescendantSizeExceeded indicates the size of an ancestor together
	// with its descendants would exceed the limit.
	DescendantSizeExceeded

	// AncestorSizeExceeded indicates the size of the candidate together
	// with its ancestors would exceed the limit.
	AncestorSizeExceeded
)

// Map of LimitReason values back to their constant names for pretty printing.
var limitReasonStrings = map[LimitReason]string{
	TooManyAncestors:       "TooManyAncestors",
	TooManyDescendants:     "TooManyDescendants",
	DescendantSizeExceeded: "DescendantSizeExceeded",
	AncestorSizeExceeded:   "AncestorSizeExceeded",
}

// String returns the LimitReason as a human-readable name.
func (r LimitReason) String() string {
	if s := limitReasonStrings[r]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown LimitReason (%d)", int(r))
}

// AncestorLimitError describes a package limit that a candidate transaction
// exceeded.  Hash is the ancestor whose limit was crossed for the
// descendant limits and is zero for the ancestor limits.
type AncestorLimitError struct {
	Reason LimitReason
	Hash   chainhash.Hash
	Limit  uint64
}

// Error satisfies the error interface and prints human-readable errors.
func (e *AncestorLimitError) Error() string {
	switch e.Reason {
	case TooManyAncestors:
		return fmt.Sprintf("too many unconfirmed ancestors [limit: %d]",
			e.Limit)
	case TooManyDescendants:
		return fmt.Sprintf("too many descendants for tx %v [limit: %d]",
			e.Hash, e.Limit)
	case DescendantSizeExceeded:
		return fmt.Sprintf("exceeds descendant size limit for tx %v "+
			"[limit: %d]", e.Hash, e.Limit)
	case AncestorSizeExceeded:
		return fmt.Sprintf("exceeds ancestor size limit [limit: %d]",
			e.Limit)
	}
	return e.Reason.String()
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a transaction failed due to one of the many validation
// rules.  The caller can use errors.As to determine if a failure was
// specifically due to a rule violation and use the Err field to access the
// underlying error, such as an *AncestorLimitError.
type RuleError struct {
	Err error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Err.Error()
}

// Unwrap returns the underlying rule violation.
func (e RuleError) Unwrap() error {
	return e.Err
}

// limitError creates an underlying AncestorLimitError with the given set of
// arguments and returns a RuleError that encapsulates it.
func limitError(reason LimitReason, hash chainhash.Hash, limit uint64) RuleError {
	return RuleError{
		Err: &AncestorLimitError{Reason: reason, Hash: hash, Limit: limit},
	}
}

// conflictError returns a RuleError that encapsulates ErrTxConflict for the
// outpoint spent by the pooled transaction.
func conflictError(op wire.OutPoint, spender chainhash.Hash) RuleError {
	return RuleError{
		Err: fmt.Errorf("%w: %v is spent by %v", ErrTxConflict, op,
			spender),
	}
}
