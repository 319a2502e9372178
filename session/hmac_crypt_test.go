// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package session

import (
	"bytes"

	. "gopkg.in/check.v1"

	tpm2 "github.com/lumoin/go-tpm2-core"
	"github.com/lumoin/go-tpm2-core/pool"
)

type hmacCryptSuite struct{}

var _ = Suite(&hmacCryptSuite{})

// mirror builds a session whose (nonceCaller, nonceTPM) pair is the
// reverse of src's, so mirror.DecryptResponseParameter walks the same
// (nonceCaller, nonceTPM) KDFa order that src.EncryptCommandParameter
// used — exactly as a real TPM decrypting the command src just
// encrypted would. Everything else (authValue, sessionKey, symmetric
// scheme) is configured identically.
func mirror(c *C, p *pool.Pool, src *HMAC) *HMAC {
	srcNonceCaller, err := src.nonceCaller.Bytes()
	c.Assert(err, IsNil)
	srcNonceTPM, err := src.nonceTPM.Bytes()
	c.Assert(err, IsNil)

	m, err := NewHMAC(p, src.sessionHandle, srcNonceCaller, src.hashAlg)
	c.Assert(err, IsNil)

	callerBuf, err := p.Rent(len(srcNonceTPM))
	c.Assert(err, IsNil)
	c.Assert(callerBuf.CopyFrom(srcNonceTPM), IsNil)
	c.Assert(m.nonceCaller.Release(), IsNil)
	m.nonceCaller = callerBuf

	m.symAlgorithm = src.symAlgorithm
	m.symKeyBits = src.symKeyBits
	m.encryptCmd = src.encryptCmd
	m.encryptResp = src.encryptResp
	return m
}

// TestParameterEncryptionAESRoundTrip exercises
// EnableParameterEncryption with SymAlgorithmAES over a payload longer
// than one AES block (16 bytes): a 40-byte TPM2B. This is the shape
// that exposed the CFB encrypter/decrypter confusion — corruption only
// shows up after the first block, so a single-block payload would have
// passed either way.
func (s *hmacCryptSuite) TestParameterEncryptionAESRoundTrip(c *C) {
	p := pool.New()

	client, err := NewHMAC(p, tpm2.Handle(0x03000000), zeroNonceBytes(32), tpm2.HashAlgorithmSHA256)
	c.Assert(err, IsNil)
	defer client.Dispose()
	client.EnableParameterEncryption(SymAlgorithmAES, 128, true, false)

	tpmSide := mirror(c, p, client)
	defer tpmSide.Dispose()

	plaintext := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 10) // 40 bytes
	cpBytes := make([]byte, 2+len(plaintext))
	cpBytes[0] = byte(len(plaintext) >> 8)
	cpBytes[1] = byte(len(plaintext))
	copy(cpBytes[2:], plaintext)

	c.Assert(client.EncryptCommandParameter(cpBytes), IsNil)
	c.Check(bytes.Equal(cpBytes[2:], plaintext), Equals, false)

	c.Assert(tpmSide.DecryptResponseParameter(cpBytes), IsNil)
	c.Check(bytes.Equal(cpBytes[2:], plaintext), Equals, true)
}

// TestParameterEncryptionXORRoundTrip is the same scenario for
// SymAlgorithmXOR, which has no block-size subtlety but should still
// round-trip through the same mirrored-session setup.
func (s *hmacCryptSuite) TestParameterEncryptionXORRoundTrip(c *C) {
	p := pool.New()

	client, err := NewHMAC(p, tpm2.Handle(0x03000000), zeroNonceBytes(32), tpm2.HashAlgorithmSHA256)
	c.Assert(err, IsNil)
	defer client.Dispose()
	client.EnableParameterEncryption(SymAlgorithmXOR, 0, true, false)

	tpmSide := mirror(c, p, client)
	defer tpmSide.Dispose()

	plaintext := bytes.Repeat([]byte{0xAB, 0xCD}, 20) // 40 bytes
	cpBytes := make([]byte, 2+len(plaintext))
	cpBytes[0] = byte(len(plaintext) >> 8)
	cpBytes[1] = byte(len(plaintext))
	copy(cpBytes[2:], plaintext)

	c.Assert(client.EncryptCommandParameter(cpBytes), IsNil)
	c.Check(bytes.Equal(cpBytes[2:], plaintext), Equals, false)

	c.Assert(tpmSide.DecryptResponseParameter(cpBytes), IsNil)
	c.Check(bytes.Equal(cpBytes[2:], plaintext), Equals, true)
}

func zeroNonceBytes(n int) []byte { return make([]byte, n) }
