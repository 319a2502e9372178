// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package mu

import (
	"fmt"

	"github.com/lumoin/go-tpm2-core/pool"
)

// MaxTPM2BSize is the largest TPM2B size field ReadTPM2B and
// ReadTPM2BRaw accept. It lies above the 16-bit field's range, so no
// size read off the wire is rejected by it; a size larger than the bytes
// left in the input fails in ReadBytes before any pool rent happens.
const MaxTPM2BSize = 1 << 16

// ReadTPM2B reads a 16-bit size followed by that many bytes, renting a
// sensitive buffer from p to hold them. A size of 0 returns (nil, nil):
// an empty TPM2B owns no buffer.
func ReadTPM2B(r *Reader, p *pool.Pool) (*pool.Buffer, error) {
	size, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if int(size) > MaxTPM2BSize {
		return nil, fmt.Errorf("%w: tpm2b size %d exceeds maximum", ErrMalformed, size)
	}

	raw, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, err
	}

	buf, err := p.Rent(int(size))
	if err != nil {
		return nil, err
	}
	if err := buf.CopyFrom(raw); err != nil {
		_ = buf.Release()
		return nil, err
	}
	return buf, nil
}

// WriteTPM2B writes a 16-bit size followed by the buffer's bytes. buf
// may be nil, which writes a zero-size (empty) TPM2B.
func WriteTPM2B(w *Writer, buf *pool.Buffer) error {
	if buf == nil {
		return w.WriteUint16(0)
	}
	b, err := buf.Bytes()
	if err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(len(b))); err != nil {
		return err
	}
	return w.WriteBytes(b)
}

// WriteTPM2BRaw writes a 16-bit size followed by b verbatim, for callers
// that hold a plain (non-pooled) byte slice such as a resolved cpHash.
func WriteTPM2BRaw(w *Writer, b []byte) error {
	if err := w.WriteUint16(uint16(len(b))); err != nil {
		return err
	}
	return w.WriteBytes(b)
}

// ReadTPM2BRaw reads a 16-bit size followed by that many bytes without
// involving the sensitive pool, for non-secret TPM2B fields (e.g. public
// area blobs).
func ReadTPM2BRaw(r *Reader) ([]byte, error) {
	size, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	if int(size) > MaxTPM2BSize {
		return nil, fmt.Errorf("%w: tpm2b size %d exceeds maximum", ErrMalformed, size)
	}
	raw, err := r.ReadBytes(int(size))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}
