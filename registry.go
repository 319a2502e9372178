// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package tpm2

import (
	"fmt"
	"sync"

	"github.com/lumoin/go-tpm2-core/mu"
)

// Decoder decodes a command's response parameter area into a typed
// value. Decoders are stateless callables; they borrow the reader and
// the pool and never allocate sensitive material outside the pool.
type Decoder func(r *mu.Reader) (interface{}, error)

// Registry maps a CommandCode to the Decoder that understands its
// response parameters. Registration is explicit, at startup
// (spec §4.3, §6); after Freeze the registry is read-only and requires
// no further locking.
type Registry struct {
	mu       sync.RWMutex
	decoders map[CommandCode]Decoder
	frozen   bool
}

// NewRegistry creates an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[CommandCode]Decoder)}
}

// Register associates code with decoder. It panics if called after
// Freeze, matching the teacher's convention that startup-only
// misconfiguration is a programmer error.
func (r *Registry) Register(code CommandCode, decoder Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("tpm2: cannot register decoder for %s: registry is frozen", code))
	}
	r.decoders[code] = decoder
}

// Freeze marks the registry read-only. Safe to call more than once.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Lookup returns the decoder registered for code, or nil if none was
// registered. Unregistered commands can still be executed by the
// executor — the raw parameter area is returned instead of a decoded
// value (spec §6).
func (r *Registry) Lookup(code CommandCode) Decoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decoders[code]
}
