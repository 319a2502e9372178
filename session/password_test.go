// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package session_test

import (
	"testing"

	. "gopkg.in/check.v1"

	tpm2 "github.com/lumoin/go-tpm2-core"
	"github.com/lumoin/go-tpm2-core/mu"
	"github.com/lumoin/go-tpm2-core/pool"
	"github.com/lumoin/go-tpm2-core/session"
)

func Test(t *testing.T) { TestingT(t) }

type passwordSuite struct{}

var _ = Suite(&passwordSuite{})

// TestPasswordWireEncoding is golden scenario 3 from spec.md §8: password
// "p" produces TPMS_AUTH_COMMAND bytes 40 00 00 09 00 00 00 00 01 70.
func (s *passwordSuite) TestPasswordWireEncoding(c *C) {
	p := pool.New()
	sess, err := session.NewPassword(p, []byte("p"))
	c.Assert(err, IsNil)
	defer sess.Dispose()

	size, err := sess.AuthCommandSize()
	c.Assert(err, IsNil)

	buf := make([]byte, size)
	w := mu.NewWriter(buf)
	c.Assert(sess.WriteAuthCommand(w, nil), IsNil)

	want := []byte{0x40, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00, 0x01, 0x70}
	c.Check(w.Bytes(), DeepEquals, want)
}

func (s *passwordSuite) TestEmptyPasswordIsLegal(c *C) {
	p := pool.New()
	sess, err := session.NewPassword(p, nil)
	c.Assert(err, IsNil)
	defer sess.Dispose()

	size, err := sess.AuthCommandSize()
	c.Assert(err, IsNil)
	c.Check(size, Equals, 4+2+1+2)

	buf := make([]byte, size)
	w := mu.NewWriter(buf)
	c.Assert(sess.WriteAuthCommand(w, nil), IsNil)
	c.Check(w.Bytes()[len(w.Bytes())-2:], DeepEquals, []byte{0x00, 0x00})
}

func (s *passwordSuite) TestHandleIsPasswordPseudoHandle(c *C) {
	p := pool.New()
	sess, err := session.NewPassword(p, []byte("x"))
	c.Assert(err, IsNil)
	defer sess.Dispose()
	c.Check(sess.Handle(), Equals, tpm2.HandlePasswordSession)
	c.Check(sess.Handle().IsPasswordSessionPseudoHandle(), Equals, true)
}

func (s *passwordSuite) TestResponseAlwaysAccepted(c *C) {
	p := pool.New()
	sess, err := session.NewPassword(p, []byte("x"))
	c.Assert(err, IsNil)
	defer sess.Dispose()

	// An arbitrary, garbage TPMS_AUTH_RESPONSE still verifies for a
	// password session.
	resp := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
	r := mu.NewReader(resp)
	err = sess.VerifyAndUpdateResponse(r, tpm2.CommandGetRandom, nil)
	c.Check(err, IsNil)
	c.Check(sess.IsPoisoned(), Equals, false)
}
