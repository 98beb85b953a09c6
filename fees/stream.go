// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package fees

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// RequiredVersion is the minimum client version able to read the estimate
// streams written by this package.
const RequiredVersion int32 = 120000

// ErrFeeEstimateVersion is returned when a fee estimate stream requires a
// newer client than the one reading it.
var ErrFeeEstimateVersion = errors.New("fee estimate stream requires a " +
	"newer version")

// Saver writes an opaque estimator payload.
type Saver interface {
	Save(w io.Writer) error
}

// Loader reads an opaque estimator payload.
type Loader interface {
	Load(r io.Reader) error
}

// WriteEstimates writes the stream header (the required and writer versions,
// both little-endian int32) followed by the payload produced by s.
func WriteEstimates(w io.Writer, s Saver, writerVersion int32) error {
	return writeEstimates(w, s.Save, writerVersion)
}

func writeEstimates(w io.Writer, save func(io.Writer) error, writerVersion int32) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(RequiredVersion))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(writerVersion))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	return save(w)
}

// ReadEstimates reads a stream written by WriteEstimates and hands the
// payload to l.  Streams whose required version exceeds clientVersion are
// rejected with ErrFeeEstimateVersion and l is left untouched.
func ReadEstimates(r io.Reader, l Loader, clientVersion int32) error {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	required := int32(binary.LittleEndian.Uint32(hdr[0:4]))
	writer := int32(binary.LittleEndian.Uint32(hdr[4:8]))
	if required > clientVersion {
		return fmt.Errorf("%w: up-version (%d) fee estimate file",
			ErrFeeEstimateVersion, required)
	}
	log.Debugf("Reading fee estimates written by version %d", writer)
	return l.Load(r)
}
