// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

//go:build linux

package transport

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultReadTimeout bounds how long Linux.Submit waits for the TPM
// resource manager to answer before giving up, via poll(2).
const DefaultReadTimeout = 2 * time.Minute

// Linux talks to a TPM through the kernel's resource-managed character
// device, conventionally /dev/tpmrm0. Grounded in the teacher's
// NewTPMContext auto-detection order (/dev/tpmrm0, then /dev/tpm0).
type Linux struct {
	f           *os.File
	readTimeout time.Duration
}

// OpenLinuxDevice opens the TPM character device at path (typically
// "/dev/tpmrm0" or "/dev/tpm0").
func OpenLinuxDevice(path string) (*Linux, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: opening %s: %w", path, err)
	}
	return NewLinuxFromFile(f), nil
}

// NewLinuxFromFile wraps an already-open file descriptor as a Linux
// transport. Exported primarily so tests can exercise Submit's
// write/poll/read framing against a socketpair or pipe instead of a
// real TPM device.
func NewLinuxFromFile(f *os.File) *Linux {
	return &Linux{f: f, readTimeout: DefaultReadTimeout}
}

// SetReadTimeout overrides DefaultReadTimeout.
func (l *Linux) SetReadTimeout(d time.Duration) { l.readTimeout = d }

// Submit implements Transport. The TPM character device protocol is
// write-then-read: a single write(2) of the full command, followed by a
// single read(2) of the full response, whose length is not known in
// advance by the driver so the read is sized to the caller's buffer.
func (l *Linux) Submit(request []byte, response []byte) (int, int, error) {
	if _, err := l.f.Write(request); err != nil {
		return 0, -1, fmt.Errorf("transport: writing command: %w", err)
	}

	if err := l.waitReadable(); err != nil {
		return 0, -1, err
	}

	n, err := l.f.Read(response)
	if err != nil {
		return 0, -1, fmt.Errorf("transport: reading response: %w", err)
	}
	return n, 0, nil
}

// waitReadable polls the device fd for readability, bounding how long
// Submit can block in the kernel waiting on a wedged TPM.
func (l *Linux) waitReadable() error {
	fd := int(l.f.Fd())
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	timeoutMs := int(l.readTimeout / time.Millisecond)
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		return fmt.Errorf("transport: poll: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transport: timed out waiting %s for TPM response", l.readTimeout)
	}
	return nil
}

// Close closes the underlying device file.
func (l *Linux) Close() error {
	return l.f.Close()
}
