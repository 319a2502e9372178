// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

import "github.com/lumoin/go-tpm2-core/mu"

// Session is the closed variant set of command authorizations the
// executor can emit: a password session or an HMAC session (spec §3,
// §4.4, §4.5). Policy sessions are an out-of-scope handle type (§1, see
// DESIGN.md).
type Session interface {
	// Handle returns the session handle written into the
	// TPMS_AUTH_COMMAND's sessionHandle field (TPM_RH_PW for password
	// sessions).
	Handle() Handle

	// IsPoisoned reports whether this session has previously observed
	// an integrity failure. A poisoned session refuses all further
	// operations without contacting the TPM.
	IsPoisoned() bool

	// AuthCommandSize returns the exact number of bytes
	// WriteAuthCommand will write, so the executor can reserve space
	// for the authSize field before cpHash is computed.
	AuthCommandSize() (int, error)

	// WriteAuthCommand writes this session's TPMS_AUTH_COMMAND
	// (sessionHandle || TPM2B nonce || attributes || TPM2B hmac) using
	// the supplied cpHash, which is shared across all sessions on the
	// command.
	WriteAuthCommand(w *mu.Writer, cpHash []byte) error

	// VerifyAndUpdateResponse reads one TPMS_AUTH_RESPONSE
	// (nonceTPM || attributes || hmac) from r and verifies it against
	// rpHash. On success the session rotates its nonces. On failure
	// the session is poisoned and an *IntegrityError is returned.
	VerifyAndUpdateResponse(r *mu.Reader, commandCode CommandCode, rpHash []byte) error

	// EncryptsCommandParameter reports whether this session requests
	// first-command-parameter encryption (AttrCommandEncrypt).
	EncryptsCommandParameter() bool

	// EncryptsResponseParameter reports whether this session requests
	// first-response-parameter encryption (AttrResponseEncrypt).
	EncryptsResponseParameter() bool

	// EncryptCommandParameter encrypts the leading TPM2B of cpBytes in
	// place. Only called when EncryptsCommandParameter is true.
	EncryptCommandParameter(cpBytes []byte) error

	// DecryptResponseParameter decrypts the leading TPM2B of rpBytes in
	// place. Only called when EncryptsResponseParameter is true.
	DecryptResponseParameter(rpBytes []byte) error

	// Dispose zeroises all sensitive fields. Double-dispose is a no-op.
	Dispose() error
}

// NameResolver obtains the TPM-name of a handle, used by cpHash
// computation for non-permanent handles (spec §4.3). Object-name
// resolution (reading the public area and hashing it) is an external
// collaborator; the core only needs the narrow lookup.
type NameResolver interface {
	// Name returns the TPM-name of h. For a permanent handle, the name
	// is the handle's own encoding (spec §4.3) and callers may pass a
	// resolver that handles this case without lookup.
	Name(h Handle) ([]byte, error)
}

// PermanentNameResolver resolves only permanent handles, returning
// their big-endian encoding as their own name; it fails for any other
// handle type. It is the minimal resolver the core requires, per spec
// §4.3 ("For the core's initial scope, only permanent-handle and
// transient-handle cases must be supported").
type PermanentNameResolver struct{}

// Name implements NameResolver.
func (PermanentNameResolver) Name(h Handle) ([]byte, error) {
	if h.Type() != HandleTypePermanent {
		return nil, &PreconditionError{Op: "PermanentNameResolver.Name", Msg: "handle is not permanent"}
	}
	return []byte{byte(h >> 24), byte(h >> 16), byte(h >> 8), byte(h)}, nil
}
