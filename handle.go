// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package tpm2 is the TPM 2.0 command execution core: wire types, the
// command executor, and the registry of per-command response decoders.
// Session state is in the sibling session package; the sensitive
// memory pool is in the sibling pool package.
package tpm2

import "fmt"

// Handle is a 32-bit value identifying a TPM resource. The
// most-significant octet is the HandleType; the low 24 bits are the
// index within that type.
type Handle uint32

// HandleType is the most-significant octet of a Handle.
type HandleType uint8

// Handle type constants, per TCG Part 2 table "TPM_HT".
const (
	HandleTypePCR           HandleType = 0x00
	HandleTypeNVIndex       HandleType = 0x01
	HandleTypeHMACSession   HandleType = 0x02
	HandleTypePolicySession HandleType = 0x03
	HandleTypePermanent     HandleType = 0x40
	HandleTypeTransient     HandleType = 0x80
	HandleTypePersistent    HandleType = 0x81
	HandleTypeAC            HandleType = 0x90
	HandleTypeExternalNV    HandleType = 0xA0
	HandleTypePermanentNV   HandleType = 0xA1
)

// Well-known permanent handles used by the executor and session layer.
const (
	// HandlePasswordSession is the fixed pseudo-handle used by a
	// password session's TPMS_AUTH_COMMAND.
	HandlePasswordSession Handle = 0x40000009 // TPM_RH_PW
	HandleOwner           Handle = 0x40000001 // TPM_RH_OWNER
	HandleNull            Handle = 0x40000007 // TPM_RH_NULL
	HandleEndorsement     Handle = 0x4000000B // TPM_RH_ENDORSEMENT
	HandlePlatform        Handle = 0x4000000C // TPM_RH_PLATFORM
)

// Type returns the handle's type octet.
func (h Handle) Type() HandleType {
	return HandleType(h >> 24)
}

// Index returns the handle's low 24 bits.
func (h Handle) Index() uint32 {
	return uint32(h) & 0x00FFFFFF
}

func (h Handle) String() string {
	return fmt.Sprintf("0x%08X", uint32(h))
}

// IsPasswordSessionPseudoHandle reports whether h is the TPM_RH_PW
// pseudo-handle used for password authorization.
func (h Handle) IsPasswordSessionPseudoHandle() bool {
	return h == HandlePasswordSession
}

// NewTransientHandle builds a transient object handle (type 0x80) from
// an index.
func NewTransientHandle(index uint32) Handle {
	return Handle(uint32(HandleTypeTransient)<<24 | (index & 0x00FFFFFF))
}

// NewPersistentHandle builds a persistent object handle (type 0x81)
// from an index.
func NewPersistentHandle(index uint32) Handle {
	return Handle(uint32(HandleTypePersistent)<<24 | (index & 0x00FFFFFF))
}

// NewPCRHandle builds a PCR handle (type 0x00) from a PCR index.
func NewPCRHandle(index uint32) Handle {
	return Handle(index & 0x00FFFFFF)
}

// NewNVIndexHandle builds an NV index handle (type 0x01) from an index.
func NewNVIndexHandle(index uint32) Handle {
	return Handle(uint32(HandleTypeNVIndex)<<24 | (index & 0x00FFFFFF))
}

// ObjectHandle is a refined view over Handle that rejects handle types
// which cannot name a loaded object (transient or persistent).
type ObjectHandle Handle

// NewObjectHandle validates h's type before returning a refined view.
func NewObjectHandle(h Handle) (ObjectHandle, error) {
	switch h.Type() {
	case HandleTypeTransient, HandleTypePersistent:
		return ObjectHandle(h), nil
	default:
		return 0, &PreconditionError{Op: "NewObjectHandle", Msg: fmt.Sprintf("handle %s is not an object handle", h)}
	}
}

// Handle returns the underlying Handle.
func (h ObjectHandle) Handle() Handle { return Handle(h) }

// AuthSessionHandle is a refined view over Handle that rejects handle
// types which cannot name an authorization session (HMAC or policy).
type AuthSessionHandle Handle

// NewAuthSessionHandle validates h's type before returning a refined
// view.
func NewAuthSessionHandle(h Handle) (AuthSessionHandle, error) {
	switch h.Type() {
	case HandleTypeHMACSession, HandleTypePolicySession:
		return AuthSessionHandle(h), nil
	default:
		return 0, &PreconditionError{Op: "NewAuthSessionHandle", Msg: fmt.Sprintf("handle %s is not a session handle", h)}
	}
}

// Handle returns the underlying Handle.
func (h AuthSessionHandle) Handle() Handle { return Handle(h) }
