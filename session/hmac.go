// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	tpm2 "github.com/lumoin/go-tpm2-core"
	"github.com/lumoin/go-tpm2-core/mu"
	"github.com/lumoin/go-tpm2-core/pool"
)

// SymAlgorithm selects the parameter-encryption scheme a session uses
// (spec §4.3 supplemental feature; see SPEC_FULL.md §C.2).
type SymAlgorithm int

const (
	// SymAlgorithmNone disables parameter encryption; the default.
	SymAlgorithmNone SymAlgorithm = iota
	SymAlgorithmAES
	SymAlgorithmXOR
)

// HMAC is a session that owns TPM-side session state mirrored
// externally: rolling nonces, the session key derived at
// TPM2_StartAuthSession, and the entity's authValue, used to compute and
// verify per-command HMACs (spec §4.4).
type HMAC struct {
	pool *pool.Pool

	sessionHandle tpm2.Handle
	hashAlg       tpm2.HashAlgorithmId

	nonceTPM    *pool.Buffer
	nonceCaller *pool.Buffer
	sessionKey  *pool.Buffer // may be empty (zero-length rent is never performed; nil means empty)
	authValue   *pool.Buffer // may be nil (empty)

	attrs tpm2.SessionAttributes

	poisoned bool
	disposed bool

	symAlgorithm  SymAlgorithm
	symKeyBits    int
	encryptCmd    bool
	encryptResp   bool
}

var _ tpm2.Session = (*HMAC)(nil)

// NewHMAC constructs an HMAC session from the sessionHandle, nonceTPM,
// and hashAlg returned by TPM2_StartAuthSession. The session samples its
// own initial nonceCaller of the same size and initialises sessionKey
// and authValue as empty. The default attribute set is
// AttrContinueSession.
func NewHMAC(p *pool.Pool, sessionHandle tpm2.Handle, nonceTPM []byte, hashAlg tpm2.HashAlgorithmId) (*HMAC, error) {
	if !hashAlg.IsValid() {
		return nil, &tpm2.PreconditionError{Op: "NewHMAC", Msg: fmt.Sprintf("unsupported hash algorithm %s", hashAlg)}
	}
	if len(nonceTPM) != hashAlg.Size() {
		return nil, &tpm2.PreconditionError{Op: "NewHMAC", Msg: "nonceTPM size does not match hash algorithm digest size"}
	}

	s := &HMAC{
		pool:          p,
		sessionHandle: sessionHandle,
		hashAlg:       hashAlg,
		attrs:         tpm2.AttrContinueSession,
	}

	nonceTPMBuf, err := p.Rent(len(nonceTPM))
	if err != nil {
		return nil, err
	}
	if err := nonceTPMBuf.CopyFrom(nonceTPM); err != nil {
		_ = nonceTPMBuf.Release()
		return nil, err
	}
	s.nonceTPM = nonceTPMBuf

	if err := s.rollNonceCaller(); err != nil {
		_ = s.nonceTPM.Release()
		return nil, err
	}

	return s, nil
}

// Handle implements tpm2.Session.
func (s *HMAC) Handle() tpm2.Handle { return s.sessionHandle }

// IsPoisoned implements tpm2.Session.
func (s *HMAC) IsPoisoned() bool { return s.poisoned }

// HashAlg returns the session's hash algorithm, so the executor can
// determine the shared algorithm for cpHash/rpHash across every HMAC
// session on a command.
func (s *HMAC) HashAlg() tpm2.HashAlgorithmId { return s.hashAlg }

// SetAttributes replaces the session attributes used on the next
// command (e.g. to request parameter encryption).
func (s *HMAC) SetAttributes(a tpm2.SessionAttributes) { s.attrs = a }

// EnableParameterEncryption turns on command and/or response parameter
// encryption using alg, with symKeyBits of key material for AES.
func (s *HMAC) EnableParameterEncryption(alg SymAlgorithm, symKeyBits int, encryptCmd, encryptResp bool) {
	s.symAlgorithm = alg
	s.symKeyBits = symKeyBits
	s.encryptCmd = encryptCmd
	s.encryptResp = encryptResp
	if encryptCmd {
		s.attrs |= tpm2.AttrDecrypt
	}
	if encryptResp {
		s.attrs |= tpm2.AttrEncrypt
	}
}

// SetAuthValue replaces the entity's authorisation secret used to mix
// into the HMAC key. Trailing zero bytes are stripped, per TCG Part 1
// §19.6.4's treatment of password-derived auth values.
func (s *HMAC) SetAuthValue(p *pool.Pool, value []byte) error {
	trimmed := value
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == 0 {
		trimmed = trimmed[:len(trimmed)-1]
	}

	if s.authValue != nil {
		if err := s.authValue.Release(); err != nil {
			return err
		}
		s.authValue = nil
	}

	if len(trimmed) == 0 {
		return nil
	}

	buf, err := p.Rent(len(trimmed))
	if err != nil {
		return err
	}
	if err := buf.CopyFrom(trimmed); err != nil {
		_ = buf.Release()
		return err
	}
	s.authValue = buf
	return nil
}

// SetSessionKey installs the session key derived out-of-band (e.g. by a
// salted or bound TPM2_StartAuthSession exchange). The core does not
// itself perform salt decryption; it only mixes whatever sessionKey it
// is given into the HMAC key, per spec §4.4.
func (s *HMAC) SetSessionKey(p *pool.Pool, key []byte) error {
	if s.sessionKey != nil {
		if err := s.sessionKey.Release(); err != nil {
			return err
		}
		s.sessionKey = nil
	}
	if len(key) == 0 {
		return nil
	}
	buf, err := p.Rent(len(key))
	if err != nil {
		return err
	}
	if err := buf.CopyFrom(key); err != nil {
		_ = buf.Release()
		return err
	}
	s.sessionKey = buf
	return nil
}

// rollNonceCaller samples a fresh nonceCaller of the session's digest
// size from crypto/rand, releasing any previous one. Invariant: called
// once at construction and once after every successfully verified
// response (spec invariant 3).
func (s *HMAC) rollNonceCaller() error {
	size := s.hashAlg.Size()
	fresh := make([]byte, size)
	if _, err := rand.Read(fresh); err != nil {
		return fmt.Errorf("tpm2: sampling nonceCaller: %w", err)
	}

	buf, err := s.pool.Rent(size)
	if err != nil {
		return err
	}
	if err := buf.CopyFrom(fresh); err != nil {
		_ = buf.Release()
		return err
	}

	if s.nonceCaller != nil {
		if err := s.nonceCaller.Release(); err != nil {
			_ = buf.Release()
			return err
		}
	}
	s.nonceCaller = buf
	return nil
}

// hmacKey returns the byte concatenation of the raw sessionKey and raw
// authValue, with no length fields (spec §4.4, testable property "HMAC
// key construction").
func (s *HMAC) hmacKey() ([]byte, error) {
	var key []byte
	if s.sessionKey != nil {
		b, err := s.sessionKey.Bytes()
		if err != nil {
			return nil, err
		}
		key = append(key, b...)
	}
	if s.authValue != nil {
		b, err := s.authValue.Bytes()
		if err != nil {
			return nil, err
		}
		key = append(key, b...)
	}
	return key, nil
}

// AuthCommandSize implements tpm2.Session: sessionHandle(4) +
// TPM2B nonceCaller(2+digestSize) + attributes(1) +
// TPM2B hmac(2+digestSize).
func (s *HMAC) AuthCommandSize() (int, error) {
	if s.poisoned {
		return 0, &tpm2.SessionPoisonedError{}
	}
	digestSize := s.hashAlg.Size()
	return 4 + 2 + digestSize + 1 + 2 + digestSize, nil
}

// WriteAuthCommand implements tpm2.Session. data = cpHash || nonceCaller
// || nonceTPM || sessionAttributes; auth = HMAC_hashAlg(hmacKey, data).
func (s *HMAC) WriteAuthCommand(w *mu.Writer, cpHash []byte) error {
	if s.poisoned {
		return &tpm2.SessionPoisonedError{}
	}

	nonceCaller, err := s.nonceCaller.Bytes()
	if err != nil {
		return err
	}
	nonceTPM, err := s.nonceTPM.Bytes()
	if err != nil {
		return err
	}

	key, err := s.hmacKey()
	if err != nil {
		return err
	}

	mac := hmac.New(s.hashAlg.GoHash().New, key)
	mac.Write(cpHash)
	mac.Write(nonceCaller)
	mac.Write(nonceTPM)
	mac.Write([]byte{byte(s.attrs)})
	auth := mac.Sum(nil)

	if err := w.WriteUint32(uint32(s.sessionHandle)); err != nil {
		return err
	}
	if err := mu.WriteTPM2BRaw(w, nonceCaller); err != nil {
		return err
	}
	if err := w.WriteUint8(byte(s.attrs)); err != nil {
		return err
	}
	return mu.WriteTPM2BRaw(w, auth)
}

// VerifyAndUpdateResponse implements tpm2.Session. data = rpHash ||
// nonceTPM' || nonceCaller || responseAttributes; compared in constant
// time against the response's hmac. On success the session takes
// ownership of nonceTPM' (the old one zeroised) and immediately draws a
// fresh nonceCaller. On failure the session is poisoned.
func (s *HMAC) VerifyAndUpdateResponse(r *mu.Reader, commandCode tpm2.CommandCode, rpHash []byte) error {
	if s.poisoned {
		return &tpm2.SessionPoisonedError{Command: commandCode}
	}

	newNonceTPM, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return err
	}
	attrByte, err := r.ReadUint8()
	if err != nil {
		return err
	}
	responseHMAC, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return err
	}

	nonceCaller, err := s.nonceCaller.Bytes()
	if err != nil {
		return err
	}

	key, err := s.hmacKey()
	if err != nil {
		return err
	}

	mac := hmac.New(s.hashAlg.GoHash().New, key)
	mac.Write(rpHash)
	mac.Write(newNonceTPM)
	mac.Write(nonceCaller)
	mac.Write([]byte{attrByte})
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(expected, responseHMAC) != 1 {
		s.poisoned = true
		return &tpm2.IntegrityError{Command: commandCode}
	}

	newNonceTPMBuf, err := s.pool.Rent(len(newNonceTPM))
	if err != nil {
		return err
	}
	if err := newNonceTPMBuf.CopyFrom(newNonceTPM); err != nil {
		_ = newNonceTPMBuf.Release()
		return err
	}
	if err := s.nonceTPM.Release(); err != nil {
		_ = newNonceTPMBuf.Release()
		return err
	}
	s.nonceTPM = newNonceTPMBuf

	return s.rollNonceCaller()
}

// EncryptsCommandParameter implements tpm2.Session.
func (s *HMAC) EncryptsCommandParameter() bool { return s.encryptCmd }

// EncryptsResponseParameter implements tpm2.Session.
func (s *HMAC) EncryptsResponseParameter() bool { return s.encryptResp }

// EncryptCommandParameter implements tpm2.Session: encrypts the leading
// TPM2B of cpBytes in place using the session's symmetric scheme, TCG
// Part 1 §21.
func (s *HMAC) EncryptCommandParameter(cpBytes []byte) error {
	return s.crypt(cpBytes, s.nonceCaller, s.nonceTPM, false)
}

// DecryptResponseParameter implements tpm2.Session.
func (s *HMAC) DecryptResponseParameter(rpBytes []byte) error {
	return s.crypt(rpBytes, s.nonceTPM, s.nonceCaller, true)
}

// crypt encrypts or decrypts the leading TPM2B of tpm2b in place.
// decrypt selects which AES CFB stream cipher mode to build: Go's CFB
// encrypter feeds dst back into the shift register while the decrypter
// feeds src back in, so reusing one for the other's direction only
// recovers the first block correctly and corrupts every block after it.
func (s *HMAC) crypt(tpm2b []byte, nonceA, nonceB *pool.Buffer, decrypt bool) error {
	if len(tpm2b) < 2 {
		return &tpm2.PreconditionError{Op: "crypt", Msg: "parameter too short to contain a TPM2B size"}
	}
	size := int(tpm2b[0])<<8 | int(tpm2b[1])
	if 2+size > len(tpm2b) {
		return &tpm2.PreconditionError{Op: "crypt", Msg: "TPM2B size exceeds buffer"}
	}
	data := tpm2b[2 : 2+size]

	key, err := s.hmacKey()
	if err != nil {
		return err
	}
	nA, err := nonceA.Bytes()
	if err != nil {
		return err
	}
	nB, err := nonceB.Bytes()
	if err != nil {
		return err
	}

	switch s.symAlgorithm {
	case SymAlgorithmNone:
		return nil
	case SymAlgorithmXOR:
		mask := kdfa(s.hashAlg.GoHash(), key, []byte("XOR"), nA, nB, len(data)*8)
		for i := range data {
			data[i] ^= mask[i]
		}
		return nil
	case SymAlgorithmAES:
		k := kdfa(s.hashAlg.GoHash(), key, []byte("CFB"), nA, nB, s.symKeyBits+aes.BlockSize*8)
		offset := (s.symKeyBits + 7) / 8
		symKey := k[:offset]
		iv := k[offset:]

		block, err := aes.NewCipher(symKey)
		if err != nil {
			return fmt.Errorf("tpm2: building AES cipher for parameter encryption: %w", err)
		}
		var stream cipher.Stream
		if decrypt {
			stream = cipher.NewCFBDecrypter(block, iv)
		} else {
			stream = cipher.NewCFBEncrypter(block, iv)
		}
		stream.XORKeyStream(data, data)
		return nil
	default:
		return &tpm2.PreconditionError{Op: "crypt", Msg: "unknown symmetric algorithm"}
	}
}

// Dispose implements tpm2.Session: all sensitive fields are zeroised.
// Double-dispose is a no-op.
func (s *HMAC) Dispose() error {
	if s.disposed {
		return nil
	}
	s.disposed = true

	var firstErr error
	release := func(b *pool.Buffer) {
		if b == nil {
			return
		}
		if err := b.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	release(s.nonceTPM)
	release(s.nonceCaller)
	release(s.sessionKey)
	release(s.authValue)
	return firstErr
}
