// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/mock"
)

// MockFeeEstimator is a mock implementation of the FeeEstimator interface.
type MockFeeEstimator struct {
	mock.Mock
}

// Ensure the MockFeeEstimator implements the FeeEstimator interface.
var _ FeeEstimator = (*MockFeeEstimator)(nil)

// EstimateFeeRate returns the fee rate expected to confirm a transaction
// within targetBlocks.
func (m *MockFeeEstimator) EstimateFeeRate(targetBlocks int32) (btcutil.Amount, error) {
	args := m.Called(targetBlocks)
	return args.Get(0).(btcutil.Amount), args.Error(1)
}

// ProcessBlock records the pooled transactions confirmed by a block.
func (m *MockFeeEstimator) ProcessBlock(height int32, txHashes []chainhash.Hash) error {
	args := m.Called(height, txHashes)
	return args.Error(0)
}

// ProcessTransaction records a newly pooled transaction.
func (m *MockFeeEstimator) ProcessTransaction(txHash *chainhash.Hash, fee, size int64) {
	m.Called(txHash, fee, size)
}

// RemoveTransaction forgets a transaction that left the pool.
func (m *MockFeeEstimator) RemoveTransaction(txHash *chainhash.Hash) {
	m.Called(txHash)
}

// Save writes the estimator state.
func (m *MockFeeEstimator) Save(w io.Writer) error {
	args := m.Called(w)
	return args.Error(0)
}

// Load replaces the estimator state.
func (m *MockFeeEstimator) Load(r io.Reader) error {
	args := m.Called(r)
	return args.Error(0)
}
