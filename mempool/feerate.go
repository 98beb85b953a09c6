// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"math"

	"github.com/btcsuite/btcd/btcutil"
)

// trackPackageRemoved raises the rolling minimum fee to the rate of an
// evicted package.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) trackPackageRemoved(rate btcutil.Amount) {
	if float64(rate) > mp.rollingMinFee {
		mp.rollingMinFee = float64(rate)
		mp.blockSinceLastRollingFeeBump = false
	}
}

// GetMinFee returns the fee rate in atoms/kB a transaction must pay to enter
// the pool given its memory limit.  The rate is raised by size based
// evictions and decays exponentially once a block has been connected since
// the last raise.  The half-life is shortened while the pool is well below
// its limit, and the rate drops to zero once it falls under half the
// incremental relay fee.
//
// This function is safe for concurrent access.
func (mp *TxPool) GetMinFee(sizeLimit int64) btcutil.Amount {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	return mp.getMinFee(sizeLimit)
}

func (mp *TxPool) getMinFee(sizeLimit int64) btcutil.Amount {
	if !mp.blockSinceLastRollingFeeBump || mp.rollingMinFee == 0 {
		return btcutil.Amount(mp.rollingMinFee)
	}

	incremental := mp.cfg.Policy.IncrementalRelayFee
	now := mp.cfg.Now()
	elapsed := now.Sub(mp.lastRollingFeeUpdate)
	if elapsed > rollingFeeUpdateInterval {
		halfLife := rollingFeeHalfLife
		switch {
		case mp.usage < sizeLimit/4:
			halfLife /= 4
		case mp.usage < sizeLimit/2:
			halfLife /= 2
		}

		mp.rollingMinFee /= math.Pow(2, elapsed.Seconds()/halfLife.Seconds())
		mp.lastRollingFeeUpdate = now
		mp.metrics.minFee.Update(int64(mp.rollingMinFee))

		if mp.rollingMinFee < float64(incremental)/2 {
			mp.rollingMinFee = 0
			return 0
		}
	}

	rate := btcutil.Amount(mp.rollingMinFee)
	if rate < incremental {
		return incremental
	}
	return rate
}
