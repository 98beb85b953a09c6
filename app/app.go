// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package app

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/safeblock/safed/wire"
)

// Command identifies the application command carried by an output reserve.
type Command uint32

// These constants define the known application commands.
const (
	CmdRegisterApp    Command = 100
	CmdAddAuth        Command = 101
	CmdDeleteAuth     Command = 102
	CmdCreateExtendTx Command = 103
	CmdIssueAsset     Command = 200
	CmdAddAsset       Command = 201
	CmdTransferAsset  Command = 202
	CmdDestoryAsset   Command = 203
	CmdChangeAsset    Command = 204
	CmdPutCandy       Command = 205
	CmdGetCandy       Command = 206
	CmdTransferSafe   Command = 300
)

// Map of command values back to their constant names for pretty printing.
var cmdStrings = map[Command]string{
	CmdRegisterApp:    "REGISTER_APP",
	CmdAddAuth:        "ADD_AUTH",
	CmdDeleteAuth:     "DELETE_AUTH",
	CmdCreateExtendTx: "CREATE_EXTEND_TX",
	CmdIssueAsset:     "ISSUE_ASSET",
	CmdAddAsset:       "ADD_ASSET",
	CmdTransferAsset:  "TRANSFER_ASSET",
	CmdDestoryAsset:   "DESTORY_ASSET",
	CmdChangeAsset:    "CHANGE_ASSET",
	CmdPutCandy:       "PUT_CANDY",
	CmdGetCandy:       "GET_CANDY",
	CmdTransferSafe:   "TRANSFER_SAFE",
}

// String returns the Command in human-readable form.
func (c Command) String() string {
	if s, ok := cmdStrings[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// IsAssetCommand returns whether the command belongs to the asset family.
func (c Command) IsAssetCommand() bool {
	return c >= CmdIssueAsset && c <= CmdGetCandy
}

// TxClass classifies an indexed output for app and asset activity lookups.
type TxClass uint8

// App activity classes.
const (
	ClassRegister       TxClass = 4
	ClassAddAuth        TxClass = 5
	ClassDeleteAuth     TxClass = 6
	ClassCreateExtendTx TxClass = 7
)

// Asset activity classes.  ClassAll and ClassUnlocked are only used as
// lookup filters and are never stored.
const (
	ClassAll         TxClass = 1
	ClassUnlocked    TxClass = 2
	ClassLocked      TxClass = 3
	ClassIssue       TxClass = 4
	ClassAddIssue    TxClass = 5
	ClassDestory     TxClass = 6
	ClassTransfer    TxClass = 7
	ClassPutCandy    TxClass = 8
	ClassGetCandy    TxClass = 9
	ClassChangeAsset TxClass = 10
)

// Matches reports whether a stored asset class satisfies the lookup filter.
func (filter TxClass) Matches(stored TxClass) bool {
	switch filter {
	case ClassAll:
		return true
	case ClassUnlocked:
		return stored != ClassLocked
	default:
		return filter == stored
	}
}

// AppClass maps an app command to its activity class.
func AppClass(cmd Command) (TxClass, bool) {
	switch cmd {
	case CmdRegisterApp:
		return ClassRegister, true
	case CmdAddAuth:
		return ClassAddAuth, true
	case CmdDeleteAuth:
		return ClassDeleteAuth, true
	case CmdCreateExtendTx:
		return ClassCreateExtendTx, true
	}
	return 0, false
}

const (
	// HeaderVersion is the header version written by FillHeader.
	HeaderVersion uint16 = 1

	// DataVersion is the payload version written into every message.
	DataVersion uint16 = 1

	// HeaderSize is magic 4 bytes + version 2 bytes + app id 32 bytes +
	// command 4 bytes.  A reserve must be strictly longer to carry data.
	HeaderSize = wire.MinReserveSize + 2 + chainhash.HashSize + 4
)

var (
	// reserveMagic starts every application reserve.
	reserveMagic = []byte("safe")

	// sposMagic marks consensus data following the reserve magic.
	sposMagic = []byte("spos")

	// SafeAssetID is the app id used by all asset commands.
	SafeAssetID = mustHash("cfe2450bf016e2ad8130e4996960a32e0686c1704b62a6ad02e49ee805a9b288")

	// SafePayID is the app id used by plain transfers carrying remarks.
	SafePayID = mustHash("a4bea6705cd38d535e873da1c9ad897048b6bbc8e286ca9b28bd18bb22eedcc9")
)

// ErrNotAppData is returned by ParseReserve when the reserve does not carry an
// application payload.
var ErrNotAppData = errors.New("reserve does not carry application data")

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

// Header is the fixed prefix of an application reserve.
type Header struct {
	Version uint16
	AppID   chainhash.Hash
	Cmd     Command
}

// FillHeader returns the serialized header followed by data.
func FillHeader(h *Header, data []byte) []byte {
	b := make([]byte, 0, HeaderSize+len(data))
	b = append(b, reserveMagic...)
	b = binary.LittleEndian.AppendUint16(b, h.Version)
	b = append(b, h.AppID[:]...)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Cmd))
	return append(b, data...)
}

// ParseReserve splits an output reserve into its header and payload.  It
// returns ErrNotAppData when the reserve is too short to hold a header and
// payload or when it carries SPOS consensus data.
func ParseReserve(reserve []byte) (*Header, []byte, error) {
	if len(reserve) <= HeaderSize {
		return nil, nil, ErrNotAppData
	}
	off := wire.MinReserveSize
	if string(reserve[off:off+4]) == string(sposMagic) {
		return nil, nil, ErrNotAppData
	}

	var h Header
	h.Version = binary.LittleEndian.Uint16(reserve[off:])
	off += 2
	copy(h.AppID[:], reserve[off:off+chainhash.HashSize])
	off += chainhash.HashSize
	h.Cmd = Command(binary.LittleEndian.Uint32(reserve[off:]))
	off += 4

	return &h, reserve[off:], nil
}

// IsAssetReserve reports whether the reserve carries an asset command.
func IsAssetReserve(reserve []byte) bool {
	h, _, err := ParseReserve(reserve)
	if err != nil {
		return false
	}
	return h.AppID == SafeAssetID && h.Cmd.IsAssetCommand()
}

// IsAssetOutput reports whether the output carries an asset rather than SAFE.
func IsAssetOutput(out *wire.TxOut) bool {
	return IsAssetReserve(out.Reserve)
}

// NormalizeName returns the case-folded form names are indexed under.
func NormalizeName(name string) string {
	return strings.ToLower(name)
}
