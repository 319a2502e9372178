// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package session implements the two session variants the executor
// authorizes commands with: password sessions and HMAC sessions (spec
// §3, §4.4, §4.5).
package session

import (
	tpm2 "github.com/lumoin/go-tpm2-core"
	"github.com/lumoin/go-tpm2-core/mu"
	"github.com/lumoin/go-tpm2-core/pool"
)

// Password is a degenerate session: its nonce is always empty, its
// attributes are always 0, its hmac field is the raw password bytes
// verbatim, and its response is never verified.
type Password struct {
	password *pool.Buffer // nil for an empty password
	disposed bool
}

var _ tpm2.Session = (*Password)(nil)

// NewPassword creates a password session from a plaintext password.
// Creating one from an empty password is legal and produces an empty
// hmac field on the wire. Trailing zero bytes are NOT stripped here:
// that stripping (TCG Part 1 §19.6.4) only applies to an HMAC session's
// stored authValue, not to a password session's literal password bytes.
func NewPassword(p *pool.Pool, password []byte) (*Password, error) {
	if len(password) == 0 {
		return &Password{}, nil
	}
	buf, err := p.Rent(len(password))
	if err != nil {
		return nil, err
	}
	if err := buf.CopyFrom(password); err != nil {
		_ = buf.Release()
		return nil, err
	}
	return &Password{password: buf}, nil
}

// Handle implements tpm2.Session.
func (s *Password) Handle() tpm2.Handle { return tpm2.HandlePasswordSession }

// IsPoisoned implements tpm2.Session. A password session can never be
// poisoned: its response is never verified.
func (s *Password) IsPoisoned() bool { return false }

// AuthCommandSize implements tpm2.Session: sessionHandle(4) +
// TPM2B nonce(2, empty) + attributes(1) + TPM2B hmac(2 + len(password)).
func (s *Password) AuthCommandSize() (int, error) {
	n := 0
	if s.password != nil {
		var err error
		n, err = s.password.Length()
		if err != nil {
			return 0, err
		}
	}
	return 4 + 2 + 1 + 2 + n, nil
}

// WriteAuthCommand implements tpm2.Session.
func (s *Password) WriteAuthCommand(w *mu.Writer, cpHash []byte) error {
	if err := w.WriteUint32(uint32(tpm2.HandlePasswordSession)); err != nil {
		return err
	}
	if err := w.WriteUint16(0); err != nil { // empty nonce
		return err
	}
	if err := w.WriteUint8(0); err != nil { // zero attributes
		return err
	}
	return mu.WriteTPM2B(w, s.password)
}

// VerifyAndUpdateResponse implements tpm2.Session. A password session's
// response auth is always accepted unconditionally, but the bytes still
// have to be consumed from the wire in the documented shape.
func (s *Password) VerifyAndUpdateResponse(r *mu.Reader, _ tpm2.CommandCode, _ []byte) error {
	if _, err := mu.ReadTPM2BRaw(r); err != nil { // nonceTPM
		return err
	}
	if _, err := r.ReadUint8(); err != nil { // attributes
		return err
	}
	if _, err := mu.ReadTPM2BRaw(r); err != nil { // hmac
		return err
	}
	return nil
}

// EncryptsCommandParameter implements tpm2.Session: password sessions
// never support parameter encryption.
func (s *Password) EncryptsCommandParameter() bool { return false }

// EncryptsResponseParameter implements tpm2.Session.
func (s *Password) EncryptsResponseParameter() bool { return false }

// EncryptCommandParameter implements tpm2.Session.
func (s *Password) EncryptCommandParameter(_ []byte) error { return nil }

// DecryptResponseParameter implements tpm2.Session.
func (s *Password) DecryptResponseParameter(_ []byte) error { return nil }

// Dispose implements tpm2.Session. Double-dispose is a no-op.
func (s *Password) Dispose() error {
	if s.disposed {
		return nil
	}
	s.disposed = true
	if s.password != nil {
		return s.password.Release()
	}
	return nil
}
