// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/rcrowley/go-metrics"
)

// poolMetrics groups the gauges and meters the pool reports.
type poolMetrics struct {
	count   metrics.Gauge
	bytes   metrics.Gauge
	usage   metrics.Gauge
	minFee  metrics.Gauge
	added   metrics.Meter
	removed map[RemovalReason]metrics.Meter
}

func newPoolMetrics(r metrics.Registry) *poolMetrics {
	m := &poolMetrics{
		count:   metrics.NewRegisteredGauge("txpool/count", r),
		bytes:   metrics.NewRegisteredGauge("txpool/bytes", r),
		usage:   metrics.NewRegisteredGauge("txpool/usage", r),
		minFee:  metrics.NewRegisteredGauge("txpool/minfee", r),
		added:   metrics.NewRegisteredMeter("txpool/added", r),
		removed: make(map[RemovalReason]metrics.Meter),
	}
	for reason, name := range removalReasonStrings {
		m.removed[reason] = metrics.NewRegisteredMeter(
			"txpool/removed/"+name, r)
	}
	return m
}

func (m *poolMetrics) markRemoved(reason RemovalReason) {
	if meter, ok := m.removed[reason]; ok {
		meter.Mark(1)
	}
}

// updateGauges publishes the pool totals.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) updateGauges() {
	mp.metrics.count.Update(int64(len(mp.pool)))
	mp.metrics.bytes.Update(mp.totalTxSize)
	mp.metrics.usage.Update(mp.usage)
	mp.metrics.minFee.Update(int64(mp.rollingMinFee))
}
