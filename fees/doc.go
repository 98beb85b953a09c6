// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package fees tracks and estimates fee rates for transactions that are to be
mined into the network within a target confirmation range (expressed in
blocks).

The estimator keeps, for a set of exponentially spaced fee rate buckets, a
decaying count of how many transactions paying that rate were confirmed
within each number of blocks.  Every pooled transaction is recorded at the
height it entered the pool; once it is mined the delay is attributed to its
bucket.  Older samples decay by a constant factor on every new block so the
estimate follows the current state of the network.

An estimate for a target of N blocks is the median fee rate of the cheapest
run of buckets in which at least 95% of the tracked transactions were
confirmed within N blocks.

Persistence

Estimator state is written as a versioned stream: a little-endian int32
holding the minimum client version required to read it, a little-endian
int32 holding the version of the writer, then the opaque bucket payload.
Readers reject streams that require a newer version than their own.  The
stream may be kept in a goleveldb or pebble database through a Store.
*/
package fees
