// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

// TransientNameFunc looks up the TPM-name of a transient object handle,
// typically by calling TPM2_ReadPublic and hashing the returned public
// area. It is supplied by the caller: computing an object's name is a
// property of the object model, an external collaborator the core only
// consumes (spec §1, §4.3).
type TransientNameFunc func(h Handle) ([]byte, error)

// CompositeResolver is a NameResolver callers can set as
// CommandInput.NameResolver (the executor installs none by default): it
// resolves permanent handles to their own encoding and delegates
// transient handles to a caller-supplied lookup function. Any other
// handle type is a precondition failure, matching spec §4.3's statement
// that only permanent- and transient-handle cases are in the core's
// initial scope.
type CompositeResolver struct {
	Transient TransientNameFunc
}

// Name implements NameResolver.
func (r CompositeResolver) Name(h Handle) ([]byte, error) {
	switch h.Type() {
	case HandleTypePermanent:
		return PermanentNameResolver{}.Name(h)
	case HandleTypeTransient:
		if r.Transient == nil {
			return nil, &PreconditionError{Op: "CompositeResolver.Name", Msg: "no transient name resolver configured"}
		}
		return r.Transient(h)
	default:
		return nil, &PreconditionError{Op: "CompositeResolver.Name", Msg: "handle type not supported for name resolution"}
	}
}
