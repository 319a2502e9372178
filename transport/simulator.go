// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package transport

import (
	"bytes"
	"fmt"
	"sync"
)

// Simulator is an in-process, scriptable stand-in for a hardware TPM. It
// does not implement any TPM command logic itself — exercising a real
// command/response pair requires a full TPM simulation engine, which is
// out of this core's scope (spec §1 Non-goals: "TSS feature parity").
// Instead, tests script exact request bytes and the response bytes to
// return, which is sufficient to exercise the executor's framing,
// cpHash/rpHash, and session verification without a hardware TPM.
//
// Grounded in the scriptable-fake shape used throughout
// loicsikidi-tpm-stuff's session test suites, which substitute an
// in-process transport for a hardware TPM in every test.
type Simulator struct {
	mu        sync.Mutex
	exchanges []exchange
	next      int
}

type exchange struct {
	expectRequest []byte // nil means "don't check"
	response      []byte
	platformCode  int
}

// NewSimulator creates an empty Simulator. Use Expect to script
// exchanges before running a test.
func NewSimulator() *Simulator {
	return &Simulator{}
}

// Expect scripts the next Submit call: if expectRequest is non-nil, the
// request bytes must match it exactly or Submit returns an error;
// response is copied into the caller's buffer.
func (s *Simulator) Expect(expectRequest, response []byte, platformCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, exchange{
		expectRequest: expectRequest,
		response:      response,
		platformCode:  platformCode,
	})
}

// Submit implements Transport.
func (s *Simulator) Submit(request []byte, response []byte) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.exchanges) {
		return 0, 0, fmt.Errorf("transport: simulator has no more scripted exchanges (request %d)", s.next+1)
	}
	ex := s.exchanges[s.next]
	s.next++

	if ex.expectRequest != nil && !bytes.Equal(ex.expectRequest, request) {
		return 0, 0, fmt.Errorf("transport: simulator request mismatch at exchange %d:\n got  % X\n want % X",
			s.next, request, ex.expectRequest)
	}

	if len(ex.response) > len(response) {
		return 0, 0, fmt.Errorf("transport: response buffer too small: need %d, have %d", len(ex.response), len(response))
	}
	n := copy(response, ex.response)
	return n, ex.platformCode, nil
}

// Exhausted reports whether every scripted exchange has been consumed.
func (s *Simulator) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next == len(s.exchanges)
}
