// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package mu implements the big-endian wire codec shared by every TPM
// 2.0 command and response: fixed-width integer primitives and
// length-prefixed TPM2B byte strings, read from or written onto a
// borrowed byte slice.
package mu

import (
	"encoding/binary"
	"fmt"
)

// Reader is a cursor over a borrowed byte slice. Every read fails
// cleanly on underflow without consuming partial bytes.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for reading. buf is borrowed, not copied.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Position returns the current cursor offset.
func (r *Reader) Position() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrUnderflow, n, r.Remaining())
	}
	return nil
}

// ReadUint8 reads one byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadUint64 reads a big-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadBytes advances the cursor by n and returns the bytes read. The
// returned slice aliases the reader's backing array.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrMalformed, n)
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}
