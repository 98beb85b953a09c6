// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"io"

	"github.com/safeblock/safed/fees"
	"github.com/safeblock/safed/internal/version"
)

// Ensure the bundled estimator can serve the pool.
var _ FeeEstimator = (*fees.Estimator)(nil)

// WriteFeeEstimates writes the state of the fee estimator as a versioned
// stream: the minimum version able to read it, the version of this software,
// then the estimator payload.
//
// This function is safe for concurrent access.
func (mp *TxPool) WriteFeeEstimates(w io.Writer) error {
	if mp.cfg.FeeEstimator == nil {
		return errNoFeeEstimator
	}

	mp.mtx.RLock()
	defer mp.mtx.RUnlock()
	err := fees.WriteEstimates(w, mp.cfg.FeeEstimator, version.Number())
	if err != nil {
		log.Warnf("Unable to write fee estimates: %v", err)
	}
	return err
}

// ReadFeeEstimates replaces the state of the fee estimator with a stream
// written by WriteFeeEstimates.  Streams that require a newer version are
// rejected with fees.ErrFeeEstimateVersion.
//
// This function is safe for concurrent access.
func (mp *TxPool) ReadFeeEstimates(r io.Reader) error {
	if mp.cfg.FeeEstimator == nil {
		return errNoFeeEstimator
	}

	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	err := fees.ReadEstimates(r, mp.cfg.FeeEstimator, version.Number())
	if err != nil {
		log.Warnf("Unable to read fee estimates: %v", err)
	}
	return err
}
