// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fees

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// byteOrder is the byte order of the serialized bucket statistics.
var byteOrder = binary.BigEndian

// feeRate is a fee rate in atoms/kB.
type feeRate float64

// rateStat is a decaying number of transactions and the sum of their fee
// rates.
type rateStat struct {
	count   float64
	rateSum float64
}

func (s *rateStat) add(rate feeRate) {
	s.count++
	s.rateSum += float64(rate)
}

func (s *rateStat) scale(factor float64) {
	s.count *= factor
	s.rateSum *= factor
}

// avg returns the average fee rate of the sampled transactions.
func (s *rateStat) avg() feeRate {
	if s.count <= 0 {
		return 0
	}
	return feeRate(s.rateSum / s.count)
}

// rateBucket holds the confirmation statistics of the transactions paying a
// fee rate between the bound of the previous bucket and its own.
type rateBucket struct {
	// within[c] counts the transactions confirmed within c+1 blocks.  The
	// last range also counts everything slower.
	within []rateStat

	// mined counts every confirmed transaction of the bucket.
	mined rateStat
}

// confirmStats is the set of fee rate buckets of an estimator together with
// the transactions still waiting in the pool, by the number of blocks they
// have waited.
type confirmStats struct {
	bounds      []feeRate
	buckets     []rateBucket
	waiting     [][]rateStat
	maxConfirms int32
}

// newConfirmStats returns empty statistics for the bucket bounds.  The last
// bound must be +Inf.
func newConfirmStats(bounds []feeRate, maxConfirms int32) *confirmStats {
	s := &confirmStats{
		bounds:      bounds,
		buckets:     make([]rateBucket, len(bounds)),
		maxConfirms: maxConfirms,
	}
	for i := range s.buckets {
		s.buckets[i].within = make([]rateStat, maxConfirms)
	}
	s.resetWaiting()
	return s
}

// resetWaiting forgets every waiting transaction.
func (s *confirmStats) resetWaiting() {
	s.waiting = make([][]rateStat, len(s.bounds))
	for i := range s.waiting {
		s.waiting[i] = make([]rateStat, s.maxConfirms)
	}
}

// bucketBounds returns exponentially spaced bounds from min up to max,
// including extra when it falls in that range, followed by +Inf.
func bucketBounds(min, max, extra, step float64) []feeRate {
	var bounds []feeRate
	prev := 0.0
	for f := min; f < max; f *= step {
		if f > extra && prev < extra {
			bounds = append(bounds, feeRate(extra))
		}
		bounds = append(bounds, feeRate(f))
		prev = f
	}
	return append(bounds, feeRate(math.Inf(1)))
}

// bucketIndex returns the first bucket whose bound is not lower than rate.
func (s *confirmStats) bucketIndex(rate feeRate) int {
	return sort.Search(len(s.bounds), func(i int) bool {
		return s.bounds[i] >= rate
	})
}

// rangeIndex returns the confirmation range of a delay of blocks.
func (s *confirmStats) rangeIndex(blocks int32) int {
	if blocks > s.maxConfirms {
		return int(s.maxConfirms) - 1
	}
	return int(blocks) - 1
}

// newBlock decays the confirmed samples by factor and makes every waiting
// transaction one block older.
func (s *confirmStats) newBlock(factor float64) {
	for b := range s.buckets {
		bucket := &s.buckets[b]
		bucket.mined.scale(factor)
		for c := range bucket.within {
			bucket.within[c].scale(factor)
		}
	}

	last := int(s.maxConfirms) - 1
	for b := range s.waiting {
		row := s.waiting[b]
		row[last].count += row[last-1].count
		row[last].rateSum += row[last-1].rateSum
		copy(row[1:last], row[:last-1])
		row[0] = rateStat{}
	}
}

// addWaiting records a transaction entering the pool.
func (s *confirmStats) addWaiting(rate feeRate) {
	s.waiting[s.bucketIndex(rate)][0].add(rate)
}

// removeWaiting forgets a transaction that waited for blocks.
func (s *confirmStats) removeWaiting(blocks int32, rate feeRate) {
	b := s.bucketIndex(rate)
	c := s.rangeIndex(blocks + 1)
	stat := &s.waiting[b][c]
	stat.count--
	stat.rateSum -= float64(rate)
	if stat.count < 0 {
		// The transaction was never added.  The statistics are off and
		// the stored state should be discarded.
		log.Errorf("Waiting transaction count of bucket %d and "+
			"confirmation range %d dropped below zero", b, c)
	}
}

// addMined records a transaction confirmed after waiting for blocks.
func (s *confirmStats) addMined(blocks int32, rate feeRate) {
	bucket := &s.buckets[s.bucketIndex(rate)]
	for c := s.rangeIndex(blocks); c < len(bucket.within); c++ {
		bucket.within[c].add(rate)
	}
	bucket.mined.add(rate)
}

// medianRate returns the median fee rate of the cheapest run of buckets in
// which at least successPct of the transactions were confirmed within target
// blocks.  Buckets are grouped from the most expensive down until a group
// holds enough transactions to be judged.  Transactions still waiting count
// against their bucket.
func (s *confirmStats) medianRate(target int32, successPct float64) (feeRate, error) {
	if target <= 0 {
		return 0, errors.New("target confirmation range cannot be <= 0")
	}
	if target > s.maxConfirms {
		return 0, ErrTargetConfTooLarge{MaxConfirms: s.maxConfirms,
			ReqConfirms: target}
	}

	const minGroupTxs = 1

	c := s.rangeIndex(target)
	top := len(s.buckets) - 1
	lo, hi := top, top
	groupEnd := top
	passed := false
	var total, confirmed float64
	for b := top; b >= 0; b-- {
		total += s.buckets[b].mined.count + s.waiting[b][c].count
		confirmed += s.buckets[b].within[c].count
		if total <= minGroupTxs {
			continue
		}
		if confirmed/total < successPct {
			if !passed {
				return 0, ErrNoSuccessPctBucketFound
			}
			break
		}
		lo, hi = b, groupEnd
		groupEnd = b - 1
		passed = true
		total, confirmed = 0, 0
	}

	var half float64
	for b := lo; b <= hi; b++ {
		half += s.buckets[b].mined.count
	}
	if half <= 0 {
		return 0, ErrNotEnoughTxsForEstimate
	}
	half /= 2
	for b := lo; b <= hi; b++ {
		mined := &s.buckets[b].mined
		if mined.count >= half {
			return mined.avg(), nil
		}
		half -= mined.count
	}
	return 0, errors.New("median bucket not found")
}

// dump renders the average fee rate and sample count of every bucket and
// confirmation range.
func (s *confirmStats) dump() string {
	var sb strings.Builder
	sb.WriteString("          |")
	for c := int32(1); c <= s.maxConfirms; c++ {
		if c == s.maxConfirms {
			fmt.Fprintf(&sb, "   %15s", "+Inf")
			continue
		}
		fmt.Fprintf(&sb, "   %15d|", c)
	}
	sb.WriteByte('\n')

	for b, bound := range s.bounds {
		fmt.Fprintf(&sb, "%10.8f", bound/1e8)
		for _, stat := range s.buckets[b].within {
			fmt.Fprintf(&sb, "| %.8f %6.1f", stat.avg()/1e8, stat.count)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// encode serializes the bounds and confirmed statistics.  Waiting
// transactions are not kept since they would linger without the matching
// pool contents.
func (s *confirmStats) encode(buf *bytes.Buffer, bestHeight int32) {
	var b [8]byte
	putU32 := func(v uint32) {
		byteOrder.PutUint32(b[:4], v)
		buf.Write(b[:4])
	}
	putF64 := func(f float64) {
		byteOrder.PutUint64(b[:], math.Float64bits(f))
		buf.Write(b[:])
	}

	putU32(uint32(s.maxConfirms))
	putU32(uint32(bestHeight))
	putU32(uint32(len(s.bounds)))
	for _, bound := range s.bounds {
		putF64(float64(bound))
	}
	for _, bucket := range s.buckets {
		putF64(bucket.mined.count)
		putF64(bucket.mined.rateSum)
		for _, stat := range bucket.within {
			putF64(stat.count)
			putF64(stat.rateSum)
		}
	}
}

// decodeConfirmStats reads statistics written by encode along with the best
// height they were written at.
func decodeConfirmStats(r io.Reader) (*confirmStats, int32, error) {
	var b [8]byte
	readU32 := func() (uint32, error) {
		_, err := io.ReadFull(r, b[:4])
		return byteOrder.Uint32(b[:4]), err
	}
	readF64 := func(f *float64) error {
		_, err := io.ReadFull(r, b[:])
		*f = math.Float64frombits(byteOrder.Uint64(b[:]))
		return err
	}

	maxConfirms, err := readU32()
	if err != nil {
		return nil, 0, err
	}
	if maxConfirms > maxAllowedConfirms || maxConfirms < 2 {
		return nil, 0, fmt.Errorf("confirmation count stored (%d) "+
			"outside allowed range (2-%d)", maxConfirms,
			maxAllowedConfirms)
	}
	bestHeight, err := readU32()
	if err != nil {
		return nil, 0, err
	}
	numBounds, err := readU32()
	if err != nil {
		return nil, 0, err
	}
	if numBounds > maxAllowedBucketFees || numBounds == 0 {
		return nil, 0, fmt.Errorf("fee bucket count stored (%d) "+
			"outside allowed range (1-%d)", numBounds,
			maxAllowedBucketFees)
	}

	bounds := make([]feeRate, numBounds)
	for i := range bounds {
		var f float64
		if err := readF64(&f); err != nil {
			return nil, 0, err
		}
		bounds[i] = feeRate(f)
	}

	s := newConfirmStats(bounds, int32(maxConfirms))
	for i := range s.buckets {
		bucket := &s.buckets[i]
		if err := readF64(&bucket.mined.count); err != nil {
			return nil, 0, err
		}
		if err := readF64(&bucket.mined.rateSum); err != nil {
			return nil, 0, err
		}
		for c := range bucket.within {
			if err := readF64(&bucket.within[c].count); err != nil {
				return nil, 0, err
			}
			if err := readF64(&bucket.within[c].rateSum); err != nil {
				return nil, 0, err
			}
		}
	}
	return s, int32(bestHeight), nil
}

// sameBuckets reports whether both statistics track the same fee rate
// buckets and confirmation ranges.
func (s *confirmStats) sameBuckets(other *confirmStats) error {
	if s.maxConfirms != other.maxConfirms {
		return errors.New("stored max confirmation range different " +
			"than currently configured max confirmation")
	}
	if len(s.bounds) != len(other.bounds) {
		return errors.New("number of stored bucket fees different " +
			"than currently configured bucket fees")
	}
	for i, bound := range s.bounds {
		if other.bounds[i] != bound {
			return errors.New("stored bucket fee rates different " +
				"than currently configured fees")
		}
	}
	return nil
}
