// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	btcwire "github.com/btcsuite/btcd/wire"
)

const (
	// TxVersion is the version used for plain value transfers.
	TxVersion = 1

	// SafeTxVersion is the first transaction version whose outputs carry an
	// unlock height and a reserved-bytes payload.
	SafeTxVersion = 101

	// MaxTxInSequenceNum is the maximum sequence number the sequence field
	// of a transaction input can be.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// MaxPrevOutIndex is the maximum index the index field of a previous
	// outpoint can be.
	MaxPrevOutIndex uint32 = 0xffffffff

	// MinReserveSize is the size of the reserve magic every non-empty
	// reserve starts with.
	MinReserveSize = 4

	// MaxReserveSize is the largest reserve an output may carry.
	MaxReserveSize = 3000

	// maxScriptSize bounds the size of a single script read from the wire.
	maxScriptSize = 10000

	// maxTxSize bounds the count of inputs and outputs accepted while
	// decoding so a malformed count can't force a huge allocation.
	maxTxSize = 1024 * 1024 * 32

	// minTxInPayload is outpoint hash 32 bytes + index 4 bytes + varint
	// script length 1 byte + sequence 4 bytes.
	minTxInPayload = 9 + chainhash.HashSize

	// minTxOutPayload is value 8 bytes + varint script length 1 byte.
	minTxOutPayload = 9

	// defaultTxInOutAlloc is the default size used for the backing array
	// for transaction inputs and outputs.
	defaultTxInOutAlloc = 15

	// pver is the protocol version handed to the shared varint helpers.
	// Transaction encoding does not change with it.
	pver = 0
)

// OutPoint defines a data type that is used to track previous transaction
// outputs.  The layout is shared with btcd.
type OutPoint = btcwire.OutPoint

// TxIn defines a transaction input.  Witness data is never serialized for
// Safe transactions.
type TxIn = btcwire.TxIn

// NewOutPoint returns a new transaction outpoint point with the provided hash
// and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return btcwire.NewOutPoint(hash, index)
}

// NewTxIn returns a new transaction input with the provided previous outpoint
// point and signature script with a default sequence of MaxTxInSequenceNum.
func NewTxIn(prevOut *OutPoint, signatureScript []byte) *TxIn {
	return btcwire.NewTxIn(prevOut, signatureScript, nil)
}

// TxOut defines a transaction output.  UnlockedHeight and Reserve are only
// serialized for transactions with a version of at least SafeTxVersion.
type TxOut struct {
	Value          int64
	PkScript       []byte
	UnlockedHeight int64
	Reserve        []byte
}

// NewTxOut returns a new transaction output with the provided transaction
// value and public key script.
func NewTxOut(value int64, pkScript []byte) *TxOut {
	return &TxOut{
		Value:    value,
		PkScript: pkScript,
	}
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction output for a transaction of the given version.
func (t *TxOut) SerializeSize(txVersion int32) int {
	// Value 8 bytes + serialized varint size for the length of PkScript +
	// PkScript bytes.
	n := 8 + btcwire.VarIntSerializeSize(uint64(len(t.PkScript))) +
		len(t.PkScript)
	if txVersion >= SafeTxVersion {
		// UnlockedHeight 8 bytes + varint reserve length + reserve.
		n += 8 + btcwire.VarIntSerializeSize(uint64(len(t.Reserve))) +
			len(t.Reserve)
	}
	return n
}

// MsgTx represents a Safe transaction.
//
// Use the AddTxIn and AddTxOut functions to build up the list of transaction
// inputs and outputs.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// NewMsgTx returns a new transaction that conforms to the Message interface.
// The return instance has a default version of TxVersion and there are no
// transaction inputs or outputs.  Also, the lock time is set to zero to
// indicate the transaction is valid immediately as opposed to some time in
// future.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{
		Version: version,
		TxIn:    make([]*TxIn, 0, defaultTxInOutAlloc),
		TxOut:   make([]*TxOut, 0, defaultTxInOutAlloc),
	}
}

// AddTxIn adds a transaction input to the message.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the message.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// IsCoinBase determines whether or not a transaction is a coinbase.  A
// coinbase is a special transaction created by miners that has no inputs.
// This is represented in the block chain by a transaction with a single input
// that has a previous output transaction index set to the maximum value along
// with a zero hash.
func (msg *MsgTx) IsCoinBase() bool {
	if len(msg.TxIn) != 1 {
		return false
	}
	prevOut := &msg.TxIn[0].PreviousOutPoint
	return prevOut.Index == MaxPrevOutIndex && prevOut.Hash == chainhash.Hash{}
}

// TxHash generates the hash for the transaction.
func (msg *MsgTx) TxHash() chainhash.Hash {
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))
	_ = msg.Serialize(buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Copy creates a deep copy of a transaction so that the original does not get
// modified when the copy is manipulated.
func (msg *MsgTx) Copy() *MsgTx {
	newTx := MsgTx{
		Version:  msg.Version,
		TxIn:     make([]*TxIn, 0, len(msg.TxIn)),
		TxOut:    make([]*TxOut, 0, len(msg.TxOut)),
		LockTime: msg.LockTime,
	}

	for _, oldTxIn := range msg.TxIn {
		var newScript []byte
		if oldTxIn.SignatureScript != nil {
			newScript = make([]byte, len(oldTxIn.SignatureScript))
			copy(newScript, oldTxIn.SignatureScript)
		}
		newTx.TxIn = append(newTx.TxIn, &TxIn{
			PreviousOutPoint: oldTxIn.PreviousOutPoint,
			SignatureScript:  newScript,
			Sequence:         oldTxIn.Sequence,
		})
	}

	for _, oldTxOut := range msg.TxOut {
		newTxOut := &TxOut{
			Value:          oldTxOut.Value,
			UnlockedHeight: oldTxOut.UnlockedHeight,
		}
		if oldTxOut.PkScript != nil {
			newTxOut.PkScript = append([]byte(nil), oldTxOut.PkScript...)
		}
		if oldTxOut.Reserve != nil {
			newTxOut.Reserve = append([]byte(nil), oldTxOut.Reserve...)
		}
		newTx.TxOut = append(newTx.TxOut, newTxOut)
	}

	return &newTx
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction.
func (msg *MsgTx) SerializeSize() int {
	// Version 4 bytes + LockTime 4 bytes + Serialized varint size for the
	// number of transaction inputs and outputs.
	n := 8 + btcwire.VarIntSerializeSize(uint64(len(msg.TxIn))) +
		btcwire.VarIntSerializeSize(uint64(len(msg.TxOut)))

	for _, txIn := range msg.TxIn {
		n += 40 + btcwire.VarIntSerializeSize(uint64(len(txIn.SignatureScript))) +
			len(txIn.SignatureScript)
	}
	for _, txOut := range msg.TxOut {
		n += txOut.SerializeSize(msg.Version)
	}
	return n
}

// Serialize encodes the transaction to w.
func (msg *MsgTx) Serialize(w io.Writer) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(msg.Version))
	if _, err := w.Write(buf[:4]); err != nil {
		return err
	}

	if err := btcwire.WriteVarInt(w, pver, uint64(len(msg.TxIn))); err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		if err := writeTxIn(w, ti); err != nil {
			return err
		}
	}

	if err := btcwire.WriteVarInt(w, pver, uint64(len(msg.TxOut))); err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		if err := writeTxOut(w, msg.Version, to); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint32(buf[:4], msg.LockTime)
	_, err := w.Write(buf[:4])
	return err
}

// Deserialize decodes a transaction from r into the receiver.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return err
	}
	msg.Version = int32(binary.LittleEndian.Uint32(buf[:4]))

	count, err := btcwire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > maxTxSize/minTxInPayload {
		return messageError("MsgTx.Deserialize", fmt.Sprintf("too many "+
			"input transactions to fit into max message size "+
			"[count %d]", count))
	}
	msg.TxIn = make([]*TxIn, count)
	for i := range msg.TxIn {
		ti := new(TxIn)
		if err := readTxIn(r, ti); err != nil {
			return err
		}
		msg.TxIn[i] = ti
	}

	count, err = btcwire.ReadVarInt(r, pver)
	if err != nil {
		return err
	}
	if count > maxTxSize/minTxOutPayload {
		return messageError("MsgTx.Deserialize", fmt.Sprintf("too many "+
			"output transactions to fit into max message size "+
			"[count %d]", count))
	}
	msg.TxOut = make([]*TxOut, count)
	for i := range msg.TxOut {
		to := new(TxOut)
		if err := readTxOut(r, msg.Version, to); err != nil {
			return err
		}
		msg.TxOut[i] = to
	}

	if _, err := io.ReadFull(r, buf[:4]); err != nil {
		return err
	}
	msg.LockTime = binary.LittleEndian.Uint32(buf[:4])
	return nil
}

func writeTxIn(w io.Writer, ti *TxIn) error {
	var buf [4]byte
	if _, err := w.Write(ti.PreviousOutPoint.Hash[:]); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[:], ti.PreviousOutPoint.Index)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if err := btcwire.WriteVarBytes(w, pver, ti.SignatureScript); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[:], ti.Sequence)
	_, err := w.Write(buf[:])
	return err
}

func readTxIn(r io.Reader, ti *TxIn) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, ti.PreviousOutPoint.Hash[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	ti.PreviousOutPoint.Index = binary.LittleEndian.Uint32(buf[:])

	script, err := btcwire.ReadVarBytes(r, pver, maxScriptSize,
		"transaction input signature script")
	if err != nil {
		return err
	}
	ti.SignatureScript = script

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	ti.Sequence = binary.LittleEndian.Uint32(buf[:])
	return nil
}

func writeTxOut(w io.Writer, txVersion int32, to *TxOut) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(to.Value))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if err := btcwire.WriteVarBytes(w, pver, to.PkScript); err != nil {
		return err
	}
	if txVersion < SafeTxVersion {
		return nil
	}
	if len(to.Reserve) > MaxReserveSize {
		return messageError("writeTxOut", fmt.Sprintf("reserve is "+
			"larger than the max allowed size [count %d, max %d]",
			len(to.Reserve), MaxReserveSize))
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(to.UnlockedHeight))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	return btcwire.WriteVarBytes(w, pver, to.Reserve)
}

func readTxOut(r io.Reader, txVersion int32, to *TxOut) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	to.Value = int64(binary.LittleEndian.Uint64(buf[:]))

	script, err := btcwire.ReadVarBytes(r, pver, maxScriptSize,
		"transaction output public key script")
	if err != nil {
		return err
	}
	to.PkScript = script
	if txVersion < SafeTxVersion {
		return nil
	}

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	to.UnlockedHeight = int64(binary.LittleEndian.Uint64(buf[:]))

	reserve, err := btcwire.ReadVarBytes(r, pver, MaxReserveSize,
		"transaction output reserve")
	if err != nil {
		return err
	}
	to.Reserve = reserve
	return nil
}
