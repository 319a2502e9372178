// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package mu

import "errors"

// ErrUnderflow is returned when a read would consume more bytes than
// remain in the buffer.
var ErrUnderflow = errors.New("mu: buffer underflow")

// ErrOverflow is returned when a write would exceed the capacity of the
// destination buffer.
var ErrOverflow = errors.New("mu: buffer overflow")

// ErrMalformed is returned for structurally invalid input, such as a
// TPM2B size field that doesn't fit the remaining buffer.
var ErrMalformed = errors.New("mu: malformed input")
