// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package indexers

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/safeblock/safed/wire"
)

// Address types used by the address and spent indices.
const (
	// AddrTypeUnknown marks a script with no supported address.
	AddrTypeUnknown uint8 = 0

	// AddrTypePubKeyHash covers pay-to-pubkey-hash and pay-to-pubkey
	// scripts.  Both are keyed by the hash160 of the public key.
	AddrTypePubKeyHash uint8 = 1

	// AddrTypeScriptHash covers pay-to-script-hash scripts.
	AddrTypeScriptHash uint8 = 2
)

// keyBuilder assembles composite keys.  Fields are written so that the byte
// order of two keys matches the order of their fields: hashes as raw bytes,
// integers big endian and strings terminated by a zero byte so that a string
// never sorts as a prefix of a longer one.
type keyBuilder []byte

func newKey(sizeHint int) keyBuilder {
	return make(keyBuilder, 0, sizeHint)
}

func (k keyBuilder) hash(h *chainhash.Hash) keyBuilder {
	return append(k, h[:]...)
}

func (k keyBuilder) bytes(b []byte) keyBuilder {
	return append(k, b...)
}

func (k keyBuilder) str(s string) keyBuilder {
	return append(append(k, s...), 0)
}

func (k keyBuilder) u8(v uint8) keyBuilder {
	return append(k, v)
}

func (k keyBuilder) u32(v uint32) keyBuilder {
	return binary.BigEndian.AppendUint32(k, v)
}

func (k keyBuilder) outPoint(op *wire.OutPoint) keyBuilder {
	return k.hash(&op.Hash).u32(op.Index)
}

func (k keyBuilder) String() string {
	return string(k)
}

// scriptAddress returns the address type and hash160 the address and spent
// indices key a script under.
func scriptAddress(pkScript []byte) (uint8, [20]byte) {
	var h [20]byte
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyHashTy:
		copy(h[:], pkScript[3:23])
		return AddrTypePubKeyHash, h

	case txscript.ScriptHashTy:
		copy(h[:], pkScript[2:22])
		return AddrTypeScriptHash, h

	case txscript.PubKeyTy:
		copy(h[:], btcutil.Hash160(pkScript[1:len(pkScript)-1]))
		return AddrTypePubKeyHash, h
	}
	return AddrTypeUnknown, h
}

// ExtractAddress returns the encoded address a public key script pays to.
// Scripts that do not pay to exactly one address are not supported.
func ExtractAddress(pkScript []byte, params *chaincfg.Params) (string, bool) {
	if params == nil {
		return "", false
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		// Non-standard outputs are skipped.
		return "", false
	}
	return addrs[0].EncodeAddress(), true
}
