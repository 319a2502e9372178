// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package transport defines the platform interface the executor submits
// serialised commands through, and provides a Linux character-device
// implementation plus an in-process simulator used by tests.
package transport

// Transport submits a serialised command to a TPM and reads back the
// response. It is the one blocking operation in the core (spec §5):
// Submit blocks the calling thread until the TPM responds, and must run
// to completion once started — cancellation mid-Submit is not
// supported, since an aborted write could leave TPM-side state
// corrupted.
//
// Implementations are assumed single-threaded unless documented
// otherwise; the executor does not serialise calls to Submit itself.
type Transport interface {
	// Submit writes request and reads the response into response,
	// returning the number of bytes written into response and a
	// platform-specific status code (0 for success). A non-nil error
	// indicates the platform call itself failed (as opposed to the TPM
	// returning a response with a non-zero TPM response code, which is
	// not an error at this layer).
	Submit(request []byte, response []byte) (bytesWritten int, platformCode int, err error)
}
