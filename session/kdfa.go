// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package session

import (
	"crypto"
	"crypto/hmac"
	"encoding/binary"
)

// kdfa implements the TPM KDFa counter-mode key derivation function, TCG
// Part 1 §11.4.10.2: repeated HMAC(key, counter || label || 0x00 ||
// contextU || contextV || sizeInBits) until sizeInBits worth of output
// has been produced. Used only for session parameter-encryption key
// material; the session authorization HMAC itself does not use KDFa.
func kdfa(h crypto.Hash, key, label, contextU, contextV []byte, sizeInBits int) []byte {
	sizeBytes := (sizeInBits + 7) / 8
	out := make([]byte, 0, sizeBytes)

	sizeInBitsBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(sizeInBitsBytes, uint32(sizeInBits))

	for counter := uint32(1); len(out) < sizeBytes; counter++ {
		mac := hmac.New(h.New, key)

		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)

		mac.Write(counterBytes[:])
		mac.Write(label)
		mac.Write([]byte{0x00})
		mac.Write(contextU)
		mac.Write(contextV)
		mac.Write(sizeInBitsBytes)

		out = append(out, mac.Sum(nil)...)
	}

	return out[:sizeBytes]
}
