// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lumoin/go-tpm2-core/mu"
	"github.com/lumoin/go-tpm2-core/transport"
)

// Response-code warning values that the executor transparently retries,
// up to maxRetries, matching the teacher's RunCommand resubmission
// behaviour (SPEC_FULL.md §C.1).
const (
	rcYielded ResponseCode = 0x908
	rcRetry   ResponseCode = 0x922
	rcTesting ResponseCode = 0x90A
)

func isRetryableWarning(rc ResponseCode) bool {
	switch rc {
	case rcYielded, rcRetry, rcTesting:
		return true
	default:
		return false
	}
}

// defaultMaxResponseSize bounds the response buffer the executor
// allocates per command; generous enough for any TPM 2.0 response this
// core decodes, small enough that a misbehaving transport can't force
// an unbounded allocation.
const defaultMaxResponseSize = 4096

// CommandInput is a caller-supplied record describing one command
// invocation (spec §3 "Command input").
type CommandInput struct {
	CommandCode CommandCode

	// Handles is the Handle Area, in wire order.
	Handles []Handle

	// Sessions is the Authorization Area; may be empty for an
	// unauthenticated command.
	Sessions []Session

	// Parameters is the already-serialised Parameter Area.
	Parameters []byte

	// ExpectedResponseHandleCount is how many response handles the
	// command's response carries, so the executor knows how many to
	// parse before the (optional) parameter-size field.
	ExpectedResponseHandleCount int

	// NameResolver supplies TPM-names for handles that appear in
	// cpHash when any session requires cpHash and the handle is not a
	// permanent handle. Required only when Sessions contains an HMAC
	// session and Handles contains anything other than permanent
	// handles.
	NameResolver NameResolver
}

// Response is the decoded result of a successfully executed command
// (response code 0; spec §3 "Response").
type Response struct {
	Tag          StructTag
	ResponseCode ResponseCode
	Handles      []Handle

	// Parameters is the raw parameter area bytes.
	Parameters []byte

	// Decoded holds the registry's decoded value for this command's
	// response, or nil if no decoder was registered (spec §6:
	// "Unregistered commands can still be executed").
	Decoded interface{}
}

// Executor assembles authenticated command buffers, dispatches them
// across a Transport, parses the response, and lets sessions verify
// response integrity (spec §4.3).
type Executor struct {
	transport transport.Transport
	registry  *Registry
	log       *zap.SugaredLogger

	maxResponseSize int
	maxRetries      uint

	ownedSessions map[Handle]Session
}

// ExecutorOption configures an Executor at construction time.
type ExecutorOption func(*Executor)

// WithLogger attaches a structured logger. A nil logger (the default)
// disables logging.
func WithLogger(l *zap.SugaredLogger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// WithMaxResponseSize overrides defaultMaxResponseSize.
func WithMaxResponseSize(n int) ExecutorOption {
	return func(e *Executor) { e.maxResponseSize = n }
}

// WithMaxRetries overrides the default submission budget (5) for TPM
// warnings that indicate the command should be resubmitted. The budget
// counts every submission including the first, so n = 5 allows at most
// 4 resubmissions, and n <= 1 disables resubmission.
func WithMaxRetries(n uint) ExecutorOption {
	return func(e *Executor) { e.maxRetries = n }
}

// NewExecutor creates an Executor that submits commands through t and
// decodes responses using reg.
func NewExecutor(t transport.Transport, reg *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		transport:       t,
		registry:        reg,
		maxResponseSize: defaultMaxResponseSize,
		maxRetries:      5,
		ownedSessions:   make(map[Handle]Session),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// TrackSession registers a session as owned by this Executor, so Close
// flushes it. The executor does not create sessions itself (that's
// TPM2_StartAuthSession, dispatched like any other command); callers
// hand ownership over explicitly.
func (e *Executor) TrackSession(s Session) {
	e.ownedSessions[s.Handle()] = s
}

// Close disposes every session this Executor owns. It does not flush
// them from the TPM (that's the caller's responsibility via
// TPM2_FlushContext, per spec §6 "Persisted state"); it only releases
// this core's mirrored cryptographic state.
func (e *Executor) Close() error {
	var firstErr error
	for h, s := range e.ownedSessions {
		if err := s.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.ownedSessions, h)
	}
	return firstErr
}

// Execute runs the IDLE -> BUILD_HEADER -> BUILD_BODY -> FINALISE_SIZE ->
// SUBMIT -> PARSE_HEADER -> PARSE_BODY -> VERIFY_AUTH -> DECODE -> DONE
// state machine described in spec §4.3. Every transition is total:
// failure at any stage returns a non-nil error and, for session
// integrity failures, poisons the session that failed.
func (e *Executor) Execute(in CommandInput) (*Response, error) {
	// Refuse poisoned sessions without contacting the transport.
	for _, s := range in.Sessions {
		if s.IsPoisoned() {
			return nil, &SessionPoisonedError{Command: in.CommandCode}
		}
	}

	var resp *Response
	var err error
	for tries := uint(1); ; tries++ {
		resp, err = e.executeOnce(in)
		if err == nil {
			return resp, nil
		}

		var tpmErr *TPMResponseError
		if te, ok := err.(*TPMResponseError); ok {
			tpmErr = te
		}
		if tpmErr == nil || tries >= e.maxRetries || !isRetryableWarning(tpmErr.Code) {
			return nil, err
		}
		if e.log != nil {
			e.log.Debugw("retrying command after TPM warning", "command", in.CommandCode, "code", tpmErr.Code, "attempt", tries)
		}
	}
}

func (e *Executor) executeOnce(in CommandInput) (*Response, error) {
	requestBytes, authAlg, err := e.buildCommand(in)
	if err != nil {
		return nil, err
	}

	if e.log != nil {
		e.log.Debugw("submitting command", "command", in.CommandCode, "size", len(requestBytes))
	}

	responseBuf := make([]byte, e.maxResponseSize)
	n, platformCode, err := e.transport.Submit(requestBytes, responseBuf)
	if err != nil {
		return nil, &TransportError{Command: in.CommandCode, PlatformCode: platformCode, Context: "submit", Err: err}
	}

	return e.parseResponse(in, responseBuf[:n], authAlg)
}

// buildCommand implements BUILD_HEADER -> BUILD_BODY -> FINALISE_SIZE.
func (e *Executor) buildCommand(in CommandInput) ([]byte, HashAlgorithmId, error) {
	tag := TagNoSessions
	if len(in.Sessions) > 0 {
		tag = TagSessions
	}

	authAlg, err := authHashAlgorithm(in.Sessions)
	if err != nil {
		return nil, 0, err
	}

	authSizes := make([]int, len(in.Sessions))
	totalAuthSize := 0
	for i, s := range in.Sessions {
		sz, err := s.AuthCommandSize()
		if err != nil {
			return nil, 0, err
		}
		authSizes[i] = sz
		totalAuthSize += sz
	}

	const headerSize = 10
	size := headerSize + 4*len(in.Handles) + len(in.Parameters)
	if tag == TagSessions {
		size += 4 + totalAuthSize
	}

	buf := make([]byte, size)
	w := mu.NewWriter(buf)

	if err := w.WriteUint16(uint16(tag)); err != nil {
		return nil, 0, err
	}
	if err := w.WriteUint32(0); err != nil { // patched below
		return nil, 0, err
	}
	if err := w.WriteUint32(uint32(in.CommandCode)); err != nil {
		return nil, 0, err
	}

	for _, h := range in.Handles {
		if err := w.WriteUint32(uint32(h)); err != nil {
			return nil, 0, err
		}
	}

	if tag == TagSessions {
		if err := w.WriteUint32(uint32(totalAuthSize)); err != nil {
			return nil, 0, err
		}

		// cpHash is only computed when an HMAC session will consume it;
		// password sessions ignore it.
		var cpHash []byte
		for _, s := range in.Sessions {
			if _, ok := s.(interface{ HashAlg() HashAlgorithmId }); ok {
				cpHash, err = e.computeCPHash(in, authAlg)
				if err != nil {
					return nil, 0, err
				}
				break
			}
		}

		for _, s := range in.Sessions {
			if err := s.WriteAuthCommand(w, cpHash); err != nil {
				return nil, 0, err
			}
		}
	}

	paramStart := w.Position()
	if err := w.WriteBytes(in.Parameters); err != nil {
		return nil, 0, err
	}

	for _, s := range in.Sessions {
		if s.EncryptsCommandParameter() {
			if err := s.EncryptCommandParameter(buf[paramStart:]); err != nil {
				return nil, 0, err
			}
			break // only the first session in the auth area may request command encryption
		}
	}

	if err := w.PatchUint32At(2, uint32(w.Position())); err != nil {
		return nil, 0, err
	}

	return buf[:w.Position()], authAlg, nil
}

// computeCPHash implements spec §4.3's cpHash = H(commandCode ||
// name(handle_1) || ... || parameters), computed once and shared across
// every session on the command.
func (e *Executor) computeCPHash(in CommandInput, alg HashAlgorithmId) ([]byte, error) {
	h := alg.GoHash().New()

	var ccBytes [4]byte
	ccBytes[0] = byte(in.CommandCode >> 24)
	ccBytes[1] = byte(in.CommandCode >> 16)
	ccBytes[2] = byte(in.CommandCode >> 8)
	ccBytes[3] = byte(in.CommandCode)
	h.Write(ccBytes[:])

	for _, handle := range in.Handles {
		name, err := e.resolveName(in, handle)
		if err != nil {
			return nil, err
		}
		h.Write(name)
	}

	h.Write(in.Parameters)
	return h.Sum(nil), nil
}

func (e *Executor) resolveName(in CommandInput, handle Handle) ([]byte, error) {
	if handle.Type() == HandleTypePermanent {
		return PermanentNameResolver{}.Name(handle)
	}
	if in.NameResolver == nil {
		return nil, &PreconditionError{Op: "resolveName", Msg: fmt.Sprintf("no NameResolver configured for non-permanent handle %s", handle)}
	}
	return in.NameResolver.Name(handle)
}

// authHashAlgorithm picks the single hash algorithm used to compute
// cpHash/rpHash, shared across every session on the command (spec §4.3:
// "Computes cpHash once (shared across sessions)"). Every HMAC session
// on the command must agree on a hash algorithm; mixing HMAC sessions
// with different algorithms on one command is rejected as a
// precondition failure rather than silently picking one.
func authHashAlgorithm(sessions []Session) (HashAlgorithmId, error) {
	type hashAlgSession interface{ HashAlg() HashAlgorithmId }

	var alg HashAlgorithmId
	found := false
	for _, s := range sessions {
		has, ok := s.(hashAlgSession)
		if !ok {
			continue
		}
		a := has.HashAlg()
		if !found {
			alg = a
			found = true
			continue
		}
		if a != alg {
			return 0, &PreconditionError{Op: "authHashAlgorithm", Msg: "sessions on one command must share a hash algorithm"}
		}
	}
	if !found {
		// Only password sessions present (or none): cpHash is never
		// used, but return a valid default so callers that want it
		// anyway (e.g. encryption nonce derivation) don't panic.
		return HashAlgorithmSHA256, nil
	}
	return alg, nil
}

// parseResponse implements PARSE_HEADER -> PARSE_BODY -> VERIFY_AUTH ->
// DECODE.
func (e *Executor) parseResponse(in CommandInput, raw []byte, authAlg HashAlgorithmId) (*Response, error) {
	r := mu.NewReader(raw)

	tagVal, err := r.ReadUint16()
	if err != nil {
		return nil, &MalformedResponseError{Command: in.CommandCode, Context: "tag", Err: err}
	}
	tag := StructTag(tagVal)

	if _, err := r.ReadUint32(); err != nil { // responseSize, already implicit in len(raw)
		return nil, &MalformedResponseError{Command: in.CommandCode, Context: "responseSize", Err: err}
	}

	rcVal, err := r.ReadUint32()
	if err != nil {
		return nil, &MalformedResponseError{Command: in.CommandCode, Context: "responseCode", Err: err}
	}
	rc := ResponseCode(rcVal)

	if rc != ResponseSuccess {
		// No further parsing, per spec §4.3 step 2.
		return nil, &TPMResponseError{Command: in.CommandCode, Code: rc}
	}

	handles := make([]Handle, in.ExpectedResponseHandleCount)
	for i := range handles {
		hv, err := r.ReadUint32()
		if err != nil {
			return nil, &MalformedResponseError{Command: in.CommandCode, Context: "response handles", Err: err}
		}
		handles[i] = Handle(hv)
	}

	var parameters []byte
	var authAreaBytes []byte

	if tag == TagSessions {
		paramSize, err := r.ReadUint32()
		if err != nil {
			return nil, &MalformedResponseError{Command: in.CommandCode, Context: "parameterSize", Err: err}
		}
		parameters, err = r.ReadBytes(int(paramSize))
		if err != nil {
			return nil, &MalformedResponseError{Command: in.CommandCode, Context: "response parameters", Err: err}
		}
		authAreaBytes, err = r.ReadBytes(r.Remaining())
		if err != nil {
			return nil, &MalformedResponseError{Command: in.CommandCode, Context: "response auth area", Err: err}
		}
	} else {
		parameters, err = r.ReadBytes(r.Remaining())
		if err != nil {
			return nil, &MalformedResponseError{Command: in.CommandCode, Context: "response parameters", Err: err}
		}
	}

	for _, s := range in.Sessions {
		if s.EncryptsResponseParameter() {
			if err := s.DecryptResponseParameter(parameters); err != nil {
				return nil, err
			}
			break
		}
	}

	if tag == TagSessions {
		rpHash := computeRPHash(authAlg, rc, in.CommandCode, parameters)
		ar := mu.NewReader(authAreaBytes)
		for _, s := range in.Sessions {
			if err := s.VerifyAndUpdateResponse(ar, in.CommandCode, rpHash); err != nil {
				if e.log != nil {
					e.log.Warnw("session auth verification failed", "command", in.CommandCode)
				}
				return nil, err
			}
		}
	}

	var decoded interface{}
	if decoder := e.registry.Lookup(in.CommandCode); decoder != nil {
		pr := mu.NewReader(parameters)
		decoded, err = decoder(pr)
		if err != nil {
			return nil, &MalformedResponseError{Command: in.CommandCode, Context: "decode parameters", Err: err}
		}
	}

	return &Response{
		Tag:          tag,
		ResponseCode: rc,
		Handles:      handles,
		Parameters:   parameters,
		Decoded:      decoded,
	}, nil
}

// computeRPHash implements spec §4.3 step 5: rpHash = H(responseCode ||
// commandCode || parameters).
func computeRPHash(alg HashAlgorithmId, rc ResponseCode, cc CommandCode, parameters []byte) []byte {
	h := alg.GoHash().New()
	var rcBytes [4]byte
	rcBytes[0] = byte(rc >> 24)
	rcBytes[1] = byte(rc >> 16)
	rcBytes[2] = byte(rc >> 8)
	rcBytes[3] = byte(rc)
	h.Write(rcBytes[:])

	var ccBytes [4]byte
	ccBytes[0] = byte(cc >> 24)
	ccBytes[1] = byte(cc >> 16)
	ccBytes[2] = byte(cc >> 8)
	ccBytes[3] = byte(cc)
	h.Write(ccBytes[:])

	h.Write(parameters)
	return h.Sum(nil)
}
