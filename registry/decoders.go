// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package registry provides the built-in response decoders the core
// ships for its mandatory command set, plus a couple of supplemental
// ones used by object-lifecycle callers (SPEC_FULL.md §C.4).
package registry

import (
	"errors"

	tpm2 "github.com/lumoin/go-tpm2-core"
	"github.com/lumoin/go-tpm2-core/mu"
	"github.com/lumoin/go-tpm2-core/pool"
)

// GetRandomResult is TPM2_GetRandom's decoded response parameter:
// randomBytes, rented from the sensitive pool since the TPM's random
// output is exactly the kind of material the pool exists to protect
// (spec §8 golden scenario 1: "Parsed result: a 16-byte sensitive
// buffer").
type GetRandomResult struct {
	RandomBytes *pool.Buffer
}

func decodeGetRandom(p *pool.Pool) tpm2.Decoder {
	return func(r *mu.Reader) (interface{}, error) {
		buf, err := mu.ReadTPM2B(r, p)
		if err != nil {
			var exhausted *pool.ExhaustedError
			if errors.As(err, &exhausted) {
				return nil, &tpm2.PoolExhaustedError{Command: tpm2.CommandGetRandom, Size: exhausted.Size, Err: exhausted}
			}
			return nil, err
		}
		return &GetRandomResult{RandomBytes: buf}, nil
	}
}

// PCRSelection mirrors one TPMS_PCR_SELECTION entry: a hash algorithm
// and the bitmap of PCR indices selected under it.
type PCRSelection struct {
	Hash      tpm2.HashAlgorithmId
	PCRSelect []byte
}

// PCRReadResult is TPM2_PCR_Read's decoded response: the selection
// structure echoed back, the update counter, and the digests read, in
// the same order as the selections.
type PCRReadResult struct {
	UpdateCounter uint32
	Selections    []PCRSelection
	Values        [][]byte
}

func decodePCRRead(r *mu.Reader) (interface{}, error) {
	counter, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}

	selCount, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	selections := make([]PCRSelection, selCount)
	for i := range selections {
		algVal, err := r.ReadUint16()
		if err != nil {
			return nil, err
		}
		sizeOfSelect, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}
		bitmap, err := r.ReadBytes(int(sizeOfSelect))
		if err != nil {
			return nil, err
		}
		selections[i] = PCRSelection{Hash: tpm2.HashAlgorithmId(algVal), PCRSelect: append([]byte(nil), bitmap...)}
	}

	digestCount, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	values := make([][]byte, digestCount)
	for i := range values {
		d, err := mu.ReadTPM2BRaw(r)
		if err != nil {
			return nil, err
		}
		values[i] = d
	}

	return &PCRReadResult{UpdateCounter: counter, Selections: selections, Values: values}, nil
}

// TPMProperty is one TPMS_TAGGED_PROPERTY entry from a
// TPM_CAP_TPM_PROPERTIES capability query.
type TPMProperty struct {
	Property uint32
	Value    uint32
}

// GetCapabilityResult is TPM2_GetCapability's decoded response.
// Capability selects which union member Raw holds undecoded; the core
// only decodes the TPM_CAP_TPM_PROPERTIES case into Properties. Other
// capabilities are left as Raw for callers that need them.
type GetCapabilityResult struct {
	MoreData   bool
	Capability uint32
	Properties []TPMProperty
	Raw        []byte
}

const capTPMProperties = 0x00000006

func decodeGetCapability(r *mu.Reader) (interface{}, error) {
	moreData, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	capability, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}

	result := &GetCapabilityResult{MoreData: moreData != 0, Capability: capability}

	if capability != capTPMProperties {
		result.Raw, err = r.ReadBytes(r.Remaining())
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	count, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	props := make([]TPMProperty, count)
	for i := range props {
		prop, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		val, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		props[i] = TPMProperty{Property: prop, Value: val}
	}
	result.Properties = props
	return result, nil
}

// StartAuthSessionResult is TPM2_StartAuthSession's decoded response:
// the negotiated nonceTPM. The new session's handle is a response
// handle, parsed by the executor itself, not a parameter; callers
// combine tpm2.Response.Handles[0] with this nonce and their requested
// hashAlg to build a session.HMAC.
type StartAuthSessionResult struct {
	NonceTPM []byte
}

func decodeStartAuthSession(r *mu.Reader) (interface{}, error) {
	nonce, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}
	return &StartAuthSessionResult{NonceTPM: nonce}, nil
}

// decodeFlushContext decodes TPM2_FlushContext's response, which has no
// parameters at all; the decoder exists so the command is registered
// and its (empty) parameter area is validated rather than silently
// accepted.
func decodeFlushContext(r *mu.Reader) (interface{}, error) {
	if r.Remaining() != 0 {
		return nil, &tpm2.PreconditionError{Op: "decodeFlushContext", Msg: "unexpected trailing bytes in TPM2_FlushContext response"}
	}
	return nil, nil
}

// ReadPublicResult is TPM2_ReadPublic's decoded response. The public
// area itself (TPMT_PUBLIC) is left undecoded: its key-template shape is
// the object model's concern, an external collaborator this core only
// hands raw bytes to (DESIGN.md, "Deleted teacher modules").
type ReadPublicResult struct {
	OutPublic     []byte
	Name          []byte
	QualifiedName []byte
}

func decodeReadPublic(r *mu.Reader) (interface{}, error) {
	outPublic, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}
	name, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}
	qualifiedName, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}
	return &ReadPublicResult{OutPublic: outPublic, Name: name, QualifiedName: qualifiedName}, nil
}

// CreationTicket mirrors TPMT_TK_CREATION.
type CreationTicket struct {
	Tag       uint16
	Hierarchy tpm2.Handle
	Digest    []byte
}

// CreateResult is TPM2_Create's decoded response. As with ReadPublic,
// outPublic is left as raw TPM2B bytes.
type CreateResult struct {
	OutPrivate     []byte
	OutPublic      []byte
	CreationData   []byte
	CreationHash   []byte
	CreationTicket CreationTicket
}

func decodeCreate(r *mu.Reader) (interface{}, error) {
	outPrivate, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}
	outPublic, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}
	creationData, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}
	creationHash, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}

	tag, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	hierarchy, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	digest, err := mu.ReadTPM2BRaw(r)
	if err != nil {
		return nil, err
	}

	return &CreateResult{
		OutPrivate:   outPrivate,
		OutPublic:    outPublic,
		CreationData: creationData,
		CreationHash: creationHash,
		CreationTicket: CreationTicket{
			Tag:       tag,
			Hierarchy: tpm2.Handle(hierarchy),
			Digest:    digest,
		},
	}, nil
}

// NewDefault builds a Registry populated with the core's mandatory
// decoders (TPM2_GetRandom, TPM2_GetCapability, TPM2_StartAuthSession,
// TPM2_FlushContext, TPM2_PCR_Read) plus the supplemental
// TPM2_ReadPublic and TPM2_Create decoders (spec §6; SPEC_FULL.md §C.4),
// and freezes it. p is the sensitive pool GetRandom rents its output
// from.
func NewDefault(p *pool.Pool) *tpm2.Registry {
	reg := tpm2.NewRegistry()
	reg.Register(tpm2.CommandGetRandom, decodeGetRandom(p))
	reg.Register(tpm2.CommandGetCapability, decodeGetCapability)
	reg.Register(tpm2.CommandStartAuthSess, decodeStartAuthSession)
	reg.Register(tpm2.CommandFlushContext, decodeFlushContext)
	reg.Register(tpm2.CommandPCRRead, decodePCRRead)
	reg.Register(tpm2.CommandReadPublic, decodeReadPublic)
	reg.Register(tpm2.CommandCreate, decodeCreate)
	reg.Freeze()
	return reg
}
