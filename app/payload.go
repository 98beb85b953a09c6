// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package app

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"google.golang.org/protobuf/encoding/protowire"
)

// Payloads are protobuf messages.  Field 1 of every message is the two byte
// little-endian data version; the remaining fields follow in the order they
// are declared on the Go types below.

// PayloadError describes a payload that could not be decoded.
type PayloadError struct {
	Message string
	Err     error
}

// Error satisfies the error interface.
func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: %v", e.Message, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *PayloadError) Unwrap() error {
	return e.Err
}

// field is a single decoded protobuf field.  Only varint and length-delimited
// wire types are used by the payloads; others are skipped.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	bytes []byte
	int   uint64
}

func (f *field) str() string {
	return string(f.bytes)
}

func (f *field) u8() uint8 {
	if len(f.bytes) < 1 {
		return 0
	}
	return f.bytes[0]
}

func (f *field) u16() uint16 {
	if len(f.bytes) < 2 {
		return uint16(f.u8())
	}
	return binary.LittleEndian.Uint16(f.bytes)
}

func (f *field) hash() (chainhash.Hash, error) {
	var h chainhash.Hash
	if len(f.bytes) != chainhash.HashSize {
		return h, fmt.Errorf("id has %d bytes, want %d", len(f.bytes),
			chainhash.HashSize)
	}
	copy(h[:], f.bytes)
	return h, nil
}

// decodeFields walks a serialized message and invokes fn for every field.
func decodeFields(name string, b []byte, fn func(f *field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &PayloadError{name, protowire.ParseError(n)}
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.int, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return &PayloadError{name, protowire.ParseError(n)}
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(&f); err != nil {
			return &PayloadError{name, err}
		}
	}
	return nil
}

// encoder appends proto3 fields, omitting zero values.
type encoder struct {
	b []byte
}

func newEncoder() *encoder {
	e := &encoder{}
	var v [2]byte
	binary.LittleEndian.PutUint16(v[:], DataVersion)
	e.bytes(1, v[:])
	return e
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) str(num protowire.Number, v string) {
	e.bytes(num, []byte(v))
}

func (e *encoder) varint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) boolean(num protowire.Number, v bool) {
	if v {
		e.varint(num, 1)
	}
}

func (e *encoder) u8(num protowire.Number, v uint8) {
	e.bytes(num, []byte{v})
}

func (e *encoder) u16(num protowire.Number, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.bytes(num, b[:])
}

// AppData is the payload of a REGISTER_APP command.
type AppData struct {
	AdminAddress string
	Name         string
	Desc         string
	DevType      uint8
	DevName      string
	WebURL       string
	LogoURL      string
	CoverURL     string
}

// Encode serializes the payload.
func (d *AppData) Encode() []byte {
	e := newEncoder()
	e.str(2, d.AdminAddress)
	e.str(3, d.Name)
	e.str(4, d.Desc)
	e.u8(5, d.DevType)
	e.str(6, d.DevName)
	e.str(7, d.WebURL)
	e.str(8, d.LogoURL)
	e.str(9, d.CoverURL)
	return e.b
}

// Decode parses a serialized payload into the receiver.
func (d *AppData) Decode(b []byte) error {
	return decodeFields("register", b, func(f *field) error {
		switch f.num {
		case 2:
			d.AdminAddress = f.str()
		case 3:
			d.Name = f.str()
		case 4:
			d.Desc = f.str()
		case 5:
			d.DevType = f.u8()
		case 6:
			d.DevName = f.str()
		case 7:
			d.WebURL = f.str()
		case 8:
			d.LogoURL = f.str()
		case 9:
			d.CoverURL = f.str()
		}
		return nil
	})
}

// Authorization set types.
const (
	AuthAdd    uint8 = 1
	AuthDelete uint8 = 2
)

// AuthData is the payload of ADD_AUTH and DELETE_AUTH commands.
type AuthData struct {
	SetType      uint8
	AdminAddress string
	UserAddress  string
	Auth         uint32
}

// Encode serializes the payload.
func (d *AuthData) Encode() []byte {
	e := newEncoder()
	e.u8(2, d.SetType)
	e.str(3, d.AdminAddress)
	e.str(4, d.UserAddress)
	e.varint(5, uint64(d.Auth))
	return e.b
}

// Decode parses a serialized payload into the receiver.
func (d *AuthData) Decode(b []byte) error {
	return decodeFields("auth", b, func(f *field) error {
		switch f.num {
		case 2:
			d.SetType = f.u8()
		case 3:
			d.AdminAddress = f.str()
		case 4:
			d.UserAddress = f.str()
		case 5:
			d.Auth = uint32(f.int)
		}
		return nil
	})
}

// ExtendData is the payload of a CREATE_EXTEND_TX command.
type ExtendData struct {
	Auth uint32
	Data string
}

// Encode serializes the payload.
func (d *ExtendData) Encode() []byte {
	e := newEncoder()
	e.varint(2, uint64(d.Auth))
	e.str(3, d.Data)
	return e.b
}

// Decode parses a serialized payload into the receiver.
func (d *ExtendData) Decode(b []byte) error {
	return decodeFields("extend", b, func(f *field) error {
		switch f.num {
		case 2:
			d.Auth = uint32(f.int)
		case 3:
			d.Data = f.str()
		}
		return nil
	})
}

// AssetData is the payload of an ISSUE_ASSET command.
type AssetData struct {
	ShortName         string
	AssetName         string
	Desc              string
	Unit              string
	TotalAmount       int64
	FirstIssueAmount  int64
	FirstActualAmount int64
	Decimals          uint8
	Destory           bool
	PayCandy          bool
	CandyAmount       int64
	CandyExpired      uint16
	Remarks           string
}

func (d *AssetData) encodeTo(e *encoder) {
	e.str(2, d.ShortName)
	e.str(3, d.AssetName)
	e.str(4, d.Desc)
	e.str(5, d.Unit)
	e.varint(6, uint64(d.TotalAmount))
	e.varint(7, uint64(d.FirstIssueAmount))
	e.varint(8, uint64(d.FirstActualAmount))
	e.u8(9, d.Decimals)
	e.boolean(10, d.Destory)
	e.boolean(11, d.PayCandy)
	e.varint(12, uint64(d.CandyAmount))
	e.u16(13, d.CandyExpired)
	e.str(14, d.Remarks)
}

// Encode serializes the payload.
func (d *AssetData) Encode() []byte {
	e := newEncoder()
	d.encodeTo(e)
	return e.b
}

// ID returns the asset id, the double sha256 of the issue fields without the
// data version.
func (d *AssetData) ID() chainhash.Hash {
	e := &encoder{}
	d.encodeTo(e)
	return chainhash.DoubleHashH(e.b)
}

// Decode parses a serialized payload into the receiver.
func (d *AssetData) Decode(b []byte) error {
	return decodeFields("issue", b, func(f *field) error {
		switch f.num {
		case 2:
			d.ShortName = f.str()
		case 3:
			d.AssetName = f.str()
		case 4:
			d.Desc = f.str()
		case 5:
			d.Unit = f.str()
		case 6:
			d.TotalAmount = int64(f.int)
		case 7:
			d.FirstIssueAmount = int64(f.int)
		case 8:
			d.FirstActualAmount = int64(f.int)
		case 9:
			d.Decimals = f.u8()
		case 10:
			d.Destory = f.int != 0
		case 11:
			d.PayCandy = f.int != 0
		case 12:
			d.CandyAmount = int64(f.int)
		case 13:
			d.CandyExpired = f.u16()
		case 14:
			d.Remarks = f.str()
		}
		return nil
	})
}

// CommonData is the payload of ADD_ASSET, TRANSFER_ASSET, DESTORY_ASSET and
// CHANGE_ASSET commands.
type CommonData struct {
	AssetID chainhash.Hash
	Amount  int64
	Remarks string
}

// Encode serializes the payload.
func (d *CommonData) Encode() []byte {
	e := newEncoder()
	e.bytes(2, d.AssetID[:])
	e.varint(3, uint64(d.Amount))
	e.str(4, d.Remarks)
	return e.b
}

// Decode parses a serialized payload into the receiver.
func (d *CommonData) Decode(b []byte) error {
	return decodeFields("common", b, func(f *field) (err error) {
		switch f.num {
		case 2:
			d.AssetID, err = f.hash()
		case 3:
			d.Amount = int64(f.int)
		case 4:
			d.Remarks = f.str()
		}
		return err
	})
}

// PutCandyData is the payload of a PUT_CANDY command.
type PutCandyData struct {
	AssetID chainhash.Hash
	Amount  int64
	Expired uint16
	Remarks string
}

// Encode serializes the payload.
func (d *PutCandyData) Encode() []byte {
	e := newEncoder()
	e.bytes(2, d.AssetID[:])
	e.varint(3, uint64(d.Amount))
	e.u16(4, d.Expired)
	e.str(5, d.Remarks)
	return e.b
}

// Decode parses a serialized payload into the receiver.
func (d *PutCandyData) Decode(b []byte) error {
	return decodeFields("put candy", b, func(f *field) (err error) {
		switch f.num {
		case 2:
			d.AssetID, err = f.hash()
		case 3:
			d.Amount = int64(f.int)
		case 4:
			d.Expired = f.u16()
		case 5:
			d.Remarks = f.str()
		}
		return err
	})
}

// GetCandyData is the payload of a GET_CANDY command.
type GetCandyData struct {
	AssetID chainhash.Hash
	Amount  int64
	Remarks string
}

// Encode serializes the payload.
func (d *GetCandyData) Encode() []byte {
	e := newEncoder()
	e.bytes(2, d.AssetID[:])
	e.varint(3, uint64(d.Amount))
	e.str(4, d.Remarks)
	return e.b
}

// Decode parses a serialized payload into the receiver.
func (d *GetCandyData) Decode(b []byte) error {
	return decodeFields("get candy", b, func(f *field) (err error) {
		switch f.num {
		case 2:
			d.AssetID, err = f.hash()
		case 3:
			d.Amount = int64(f.int)
		case 4:
			d.Remarks = f.str()
		}
		return err
	})
}

// TransferSafeData is the payload of a TRANSFER_SAFE command.
type TransferSafeData struct {
	Remarks string
}

// Encode serializes the payload.
func (d *TransferSafeData) Encode() []byte {
	e := newEncoder()
	e.str(2, d.Remarks)
	return e.b
}

// Decode parses a serialized payload into the receiver.
func (d *TransferSafeData) Decode(b []byte) error {
	return decodeFields("transfer safe", b, func(f *field) error {
		if f.num == 2 {
			d.Remarks = f.str()
		}
		return nil
	})
}

// Reserve builds a complete output reserve for the command and payload.
func Reserve(appID chainhash.Hash, cmd Command, payload []byte) []byte {
	return FillHeader(&Header{
		Version: HeaderVersion,
		AppID:   appID,
		Cmd:     cmd,
	}, payload)
}
