// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

import (
	"crypto"
	"fmt"
)

// HashAlgorithmId identifies a hash algorithm, per TCG Part 2 TPM_ALG_ID.
type HashAlgorithmId uint16

// Hash algorithm identifiers used by the session layer.
const (
	HashAlgorithmNull   HashAlgorithmId = 0x0010
	HashAlgorithmSHA1   HashAlgorithmId = 0x0004
	HashAlgorithmSHA256 HashAlgorithmId = 0x000B
	HashAlgorithmSHA384 HashAlgorithmId = 0x000C
	HashAlgorithmSHA512 HashAlgorithmId = 0x000D
)

// IsValid reports whether the algorithm is one this core knows how to
// use for a session's HMAC.
func (a HashAlgorithmId) IsValid() bool {
	switch a {
	case HashAlgorithmSHA1, HashAlgorithmSHA256, HashAlgorithmSHA384, HashAlgorithmSHA512:
		return true
	default:
		return false
	}
}

// Size returns the algorithm's digest size in bytes. It panics if the
// algorithm is not IsValid, mirroring the teacher's convention that
// programmer errors on a closed enum panic rather than return an error.
func (a HashAlgorithmId) Size() int {
	switch a {
	case HashAlgorithmSHA1:
		return 20
	case HashAlgorithmSHA256:
		return 32
	case HashAlgorithmSHA384:
		return 48
	case HashAlgorithmSHA512:
		return 64
	default:
		panic(fmt.Sprintf("tpm2: unknown hash algorithm %#04x", uint16(a)))
	}
}

// GoHash returns the crypto.Hash equivalent of this algorithm.
func (a HashAlgorithmId) GoHash() crypto.Hash {
	switch a {
	case HashAlgorithmSHA1:
		return crypto.SHA1
	case HashAlgorithmSHA256:
		return crypto.SHA256
	case HashAlgorithmSHA384:
		return crypto.SHA384
	case HashAlgorithmSHA512:
		return crypto.SHA512
	default:
		panic(fmt.Sprintf("tpm2: unknown hash algorithm %#04x", uint16(a)))
	}
}

func (a HashAlgorithmId) String() string {
	switch a {
	case HashAlgorithmSHA1:
		return "SHA1"
	case HashAlgorithmSHA256:
		return "SHA256"
	case HashAlgorithmSHA384:
		return "SHA384"
	case HashAlgorithmSHA512:
		return "SHA512"
	case HashAlgorithmNull:
		return "null"
	default:
		return fmt.Sprintf("HashAlgorithmId(%#04x)", uint16(a))
	}
}

// CommandCode identifies a TPM command, per TCG Part 2 TPM_CC.
type CommandCode uint32

// Command codes the built-in registry decodes or that the executor's
// golden tests exercise.
const (
	CommandCreate          CommandCode = 0x00000153
	CommandFlushContext    CommandCode = 0x00000165
	CommandGetRandom       CommandCode = 0x0000017B
	CommandStartAuthSess   CommandCode = 0x00000176
	CommandGetCapability   CommandCode = 0x0000017A
	CommandPCRRead         CommandCode = 0x0000017E
	CommandReadPublic      CommandCode = 0x00000173
)

func (c CommandCode) String() string {
	switch c {
	case CommandCreate:
		return "TPM2_Create"
	case CommandFlushContext:
		return "TPM2_FlushContext"
	case CommandGetRandom:
		return "TPM2_GetRandom"
	case CommandStartAuthSess:
		return "TPM2_StartAuthSession"
	case CommandGetCapability:
		return "TPM2_GetCapability"
	case CommandPCRRead:
		return "TPM2_PCR_Read"
	case CommandReadPublic:
		return "TPM2_ReadPublic"
	default:
		return fmt.Sprintf("CommandCode(%#08x)", uint32(c))
	}
}

// ResponseCode is the TPM's response code, per TCG Part 2 TPM_RC. Zero
// is success.
type ResponseCode uint32

// ResponseSuccess is the TPM_RC_SUCCESS response code.
const ResponseSuccess ResponseCode = 0x000

// StructTag identifies the shape of a command or response (whether an
// authorization area is present), per TCG Part 2 TPM_ST.
type StructTag uint16

const (
	// TagNoSessions marks a command/response with no authorization
	// area.
	TagNoSessions StructTag = 0x8001
	// TagSessions marks a command/response with an authorization
	// area.
	TagSessions StructTag = 0x8002
)

// SessionAttributes is a bitmask of TPMA_SESSION flags.
type SessionAttributes uint8

const (
	// AttrContinueSession keeps the session loaded after the command
	// completes; it is the default for every session this core
	// creates.
	AttrContinueSession SessionAttributes = 1 << 0
	AttrAuditExclusive  SessionAttributes = 1 << 1
	AttrAuditReset      SessionAttributes = 1 << 2
	AttrDecrypt         SessionAttributes = 1 << 5 // AttrCommandEncrypt
	AttrEncrypt         SessionAttributes = 1 << 6 // AttrResponseEncrypt
	AttrAudit           SessionAttributes = 1 << 7
)
