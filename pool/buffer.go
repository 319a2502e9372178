// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package pool

import "sync/atomic"

// Buffer is a unique owner over exactly Length() bytes rented from a
// Pool. Ownership is unique: Buffer carries no sharing, and transfer of
// ownership between callers must be explicit (pass the pointer, don't
// copy the bytes).
type Buffer struct {
	owner *slab
	cell  cellRef
	size  int
	pool  *Pool

	released int32
}

// Length returns the number of usable bytes in the buffer. It fails
// after Release.
func (b *Buffer) Length() (int, error) {
	if atomic.LoadInt32(&b.released) != 0 {
		return 0, &PreconditionError{Op: "length", Msg: "buffer already released"}
	}
	return b.size, nil
}

// Bytes returns the buffer's backing slice. It fails after Release. The
// returned slice aliases the pool's storage and must not be retained
// past Release.
func (b *Buffer) Bytes() ([]byte, error) {
	if atomic.LoadInt32(&b.released) != 0 {
		return nil, &PreconditionError{Op: "bytes", Msg: "buffer already released"}
	}
	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()
	return b.owner.bytes(b.cell), nil
}

// CopyFrom overwrites the buffer's contents with src. len(src) must
// equal the buffer's length.
func (b *Buffer) CopyFrom(src []byte) error {
	dst, err := b.Bytes()
	if err != nil {
		return err
	}
	if len(src) != len(dst) {
		return &PreconditionError{Op: "copyFrom", Msg: "length mismatch"}
	}
	copy(dst, src)
	return nil
}

// Release zeroises the buffer's contents and returns the cell to its
// slab's free list. Double release is an error.
func (b *Buffer) Release() error {
	if !atomic.CompareAndSwapInt32(&b.released, 0, 1) {
		return &PreconditionError{Op: "release", Msg: "double release"}
	}
	b.owner.release(b.cell)
	if b.pool != nil {
		b.pool.noteRelease(b.size)
	}
	return nil
}
