// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/davecgh/go-spew/spew"
)

// sampleTx returns a transaction with one input and two outputs, the second
// of which carries a locked reserve payload.
func sampleTx(version int32) *MsgTx {
	prevHash := chainhash.DoubleHashH([]byte("prev"))
	tx := NewMsgTx(version)
	tx.AddTxIn(NewTxIn(NewOutPoint(&prevHash, 3), []byte{0x51}))
	tx.AddTxOut(NewTxOut(5000, []byte{0x76, 0xa9, 0x14}))
	tx.AddTxOut(&TxOut{
		Value:          100,
		PkScript:       []byte{0xa9, 0x14, 0x87},
		UnlockedHeight: 1200,
		Reserve:        []byte("safe-reserve-bytes"),
	})
	tx.LockTime = 77
	return tx
}

// TestTxSerialize tests that Safe transactions round trip through
// Serialize/Deserialize and that the reserve only exists for Safe versions.
func TestTxSerialize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		version     int32
		wantReserve bool
	}{
		{"plain", TxVersion, false},
		{"safe", SafeTxVersion, true},
	}

	for _, test := range tests {
		tx := sampleTx(test.version)

		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			t.Errorf("%s: Serialize: %v", test.name, err)
			continue
		}
		if buf.Len() != tx.SerializeSize() {
			t.Errorf("%s: SerializeSize: got %d, want %d", test.name,
				tx.SerializeSize(), buf.Len())
			continue
		}

		var got MsgTx
		if err := got.Deserialize(bytes.NewReader(buf.Bytes())); err != nil {
			t.Errorf("%s: Deserialize: %v", test.name, err)
			continue
		}
		if got.TxHash() != tx.TxHash() {
			t.Errorf("%s: hash mismatch\ngot: %s want: %s", test.name,
				spew.Sdump(&got), spew.Sdump(tx))
			continue
		}

		out := got.TxOut[1]
		if test.wantReserve {
			if !bytes.Equal(out.Reserve, tx.TxOut[1].Reserve) ||
				out.UnlockedHeight != 1200 {
				t.Errorf("%s: reserve lost: %s", test.name,
					spew.Sdump(out))
			}
		} else if len(out.Reserve) != 0 || out.UnlockedHeight != 0 {
			t.Errorf("%s: unexpected reserve: %s", test.name,
				spew.Sdump(out))
		}
	}
}

// TestTxHashCoversReserve ensures changing only the reserve of a Safe
// transaction changes its hash.
func TestTxHashCoversReserve(t *testing.T) {
	t.Parallel()

	a := sampleTx(SafeTxVersion)
	b := a.Copy()
	if a.TxHash() != b.TxHash() {
		t.Fatalf("copy changed hash")
	}
	b.TxOut[1].Reserve[0] ^= 0xff
	if a.TxHash() == b.TxHash() {
		t.Fatalf("reserve change did not alter hash")
	}
	if !reflect.DeepEqual(a.TxIn, b.TxIn) {
		t.Fatalf("copy altered inputs")
	}
}

// TestTxDeserializeErrors performs negative tests against decoding of
// truncated and oversized transactions.
func TestTxDeserializeErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := sampleTx(SafeTxVersion).Serialize(&buf); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	full := buf.Bytes()

	for _, max := range []int{0, 3, 5, 40, len(full) - 1} {
		var tx MsgTx
		err := tx.Deserialize(bytes.NewReader(full[:max]))
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("truncated at %d: got %v, want EOF", max, err)
		}
	}

	big := sampleTx(SafeTxVersion)
	big.TxOut[1].Reserve = make([]byte, MaxReserveSize+1)
	var msgErr *MessageError
	if err := big.Serialize(io.Discard); !errors.As(err, &msgErr) {
		t.Fatalf("oversized reserve: got %v, want *MessageError", err)
	}
}

// TestIsCoinBase checks coinbase detection.
func TestIsCoinBase(t *testing.T) {
	t.Parallel()

	cb := NewMsgTx(TxVersion)
	cb.AddTxIn(NewTxIn(NewOutPoint(&chainhash.Hash{}, MaxPrevOutIndex), nil))
	if !cb.IsCoinBase() {
		t.Fatalf("coinbase not detected")
	}
	if sampleTx(TxVersion).IsCoinBase() {
		t.Fatalf("regular tx detected as coinbase")
	}
}
