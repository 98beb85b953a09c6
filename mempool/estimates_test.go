// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/safeblock/safed/fees"
	"github.com/safeblock/safed/internal/version"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestFeeEstimatesRoundTrip ensures the estimator state written through the
// pool is handed back to the estimator unchanged.
func TestFeeEstimatesRoundTrip(t *testing.T) {
	t.Parallel()

	h, est := newEstimatorHarness(t)
	est.On("Save", mock.Anything).Run(func(args mock.Arguments) {
		_, err := args.Get(0).(io.Writer).Write([]byte("state"))
		require.NoError(t, err)
	}).Return(nil)
	est.On("Load", mock.Anything).Run(func(args mock.Arguments) {
		state, err := io.ReadAll(args.Get(0).(io.Reader))
		require.NoError(t, err)
		require.Equal(t, "state", string(state))
	}).Return(nil)

	var buf bytes.Buffer
	require.NoError(t, h.pool.WriteFeeEstimates(&buf))
	require.NoError(t, h.pool.ReadFeeEstimates(&buf))
	est.AssertExpectations(t)
}

// TestFeeEstimatesVersion ensures a stream requiring a newer version is
// rejected without touching the estimator.
func TestFeeEstimatesVersion(t *testing.T) {
	t.Parallel()

	h, est := newEstimatorHarness(t)

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(version.Number()+1))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(version.Number()+1))
	stream := append(hdr[:], []byte("future state")...)

	err := h.pool.ReadFeeEstimates(bytes.NewReader(stream))
	require.ErrorIs(t, err, fees.ErrFeeEstimateVersion)
	est.AssertNotCalled(t, "Load", mock.Anything)

	// A truncated header is an error too.
	err = h.pool.ReadFeeEstimates(bytes.NewReader(hdr[:3]))
	require.Error(t, err)
	est.AssertNotCalled(t, "Load", mock.Anything)
}

// TestEstimateFeeRate ensures estimates are served by the configured
// estimator and refused without one.
func TestEstimateFeeRate(t *testing.T) {
	t.Parallel()

	h, est := newEstimatorHarness(t)
	est.On("EstimateFeeRate", int32(6)).Return(btcutil.Amount(1234), nil)
	rate, err := h.pool.EstimateFeeRate(6)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(1234), rate)

	bare := newPoolHarness(t, nil)
	_, err = bare.pool.EstimateFeeRate(6)
	require.ErrorIs(t, err, errNoFeeEstimator)
	require.ErrorIs(t, bare.pool.WriteFeeEstimates(io.Discard),
		errNoFeeEstimator)
	require.ErrorIs(t, bare.pool.ReadFeeEstimates(bytes.NewReader(nil)),
		errNoFeeEstimator)
}

// TestEstimatorSeesAcceptedTransactions ensures every accepted transaction
// is reported with its own fee and size.
func TestEstimatorSeesAcceptedTransactions(t *testing.T) {
	t.Parallel()

	h, est := newEstimatorHarness(t)
	cb := h.fund(1)
	a := h.spend(1234, 1, txOut(cb, 0))
	h.mustAdd(a)
	est.AssertCalled(t, "ProcessTransaction", &a.hash, int64(1234), a.Size())
}
