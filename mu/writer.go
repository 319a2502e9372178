// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package mu

import (
	"encoding/binary"
	"fmt"
)

// Writer is a cursor over a borrowed mutable byte slice.
type Writer struct {
	buf []byte
	pos int
}

// NewWriter wraps buf for writing. buf is borrowed, not copied, and must
// be large enough for everything the caller intends to write.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Position returns the number of bytes written so far; used to patch the
// command-size field after the body has been assembled.
func (w *Writer) Position() int { return w.pos }

// Bytes returns the portion of the buffer written so far.
func (w *Writer) Bytes() []byte { return w.buf[:w.pos] }

func (w *Writer) need(n int) error {
	if len(w.buf)-w.pos < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrOverflow, n, len(w.buf)-w.pos)
	}
	return nil
}

// WriteUint8 writes one byte.
func (w *Writer) WriteUint8(v uint8) error {
	if err := w.need(1); err != nil {
		return err
	}
	w.buf[w.pos] = v
	w.pos++
	return nil
}

// WriteUint16 writes v big-endian.
func (w *Writer) WriteUint16(v uint16) error {
	if err := w.need(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(w.buf[w.pos:], v)
	w.pos += 2
	return nil
}

// WriteUint32 writes v big-endian.
func (w *Writer) WriteUint32(v uint32) error {
	if err := w.need(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
	return nil
}

// WriteUint64 writes v big-endian.
func (w *Writer) WriteUint64(v uint64) error {
	if err := w.need(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(w.buf[w.pos:], v)
	w.pos += 8
	return nil
}

// WriteBytes copies b into the buffer verbatim (no length prefix).
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.need(len(b)); err != nil {
		return err
	}
	copy(w.buf[w.pos:], b)
	w.pos += len(b)
	return nil
}

// PatchUint32At overwrites the uint32 at a previously recorded offset.
// Used to fill in commandSize once the full body length is known.
func (w *Writer) PatchUint32At(offset int, v uint32) error {
	if offset < 0 || offset+4 > len(w.buf) {
		return fmt.Errorf("%w: patch offset %d out of range", ErrOverflow, offset)
	}
	binary.BigEndian.PutUint32(w.buf[offset:], v)
	return nil
}
