// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package pool_test

import (
	"sync"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/lumoin/go-tpm2-core/pool"
)

func Test(t *testing.T) { TestingT(t) }

type poolSuite struct{}

var _ = Suite(&poolSuite{})

func (s *poolSuite) TestRentExactSize(c *C) {
	p := pool.New()
	for _, n := range []int{1, 2, 16, 20, 32, 64, 65} {
		buf, err := p.Rent(n)
		c.Assert(err, IsNil)
		length, err := buf.Length()
		c.Assert(err, IsNil)
		c.Check(length, Equals, n)
		c.Assert(buf.Release(), IsNil)
	}
}

func (s *poolSuite) TestZeroSizeIsError(c *C) {
	p := pool.New()
	_, err := p.Rent(0)
	c.Check(err, NotNil)
}

func (s *poolSuite) TestZeroisationOnRelease(c *C) {
	p := pool.New()
	buf, err := p.Rent(32)
	c.Assert(err, IsNil)
	c.Assert(buf.CopyFrom(make([]byte, 32)), IsNil)

	b, err := buf.Bytes()
	c.Assert(err, IsNil)
	for i := range b {
		b[i] = 0xAA
	}
	c.Assert(buf.Release(), IsNil)

	// Rent another cell of the same size; the free list is last-in,
	// first-out, so it is the same backing cell, now zeroised.
	buf2, err := p.Rent(32)
	c.Assert(err, IsNil)
	b2, err := buf2.Bytes()
	c.Assert(err, IsNil)
	allZero := true
	for _, v := range b2 {
		if v != 0 {
			allZero = false
		}
	}
	c.Check(allZero, Equals, true)
}

func (s *poolSuite) TestDoubleReleaseIsError(c *C) {
	p := pool.New()
	buf, err := p.Rent(8)
	c.Assert(err, IsNil)
	c.Assert(buf.Release(), IsNil)
	c.Check(buf.Release(), NotNil)
}

func (s *poolSuite) TestAccessAfterReleaseIsError(c *C) {
	p := pool.New()
	buf, err := p.Rent(8)
	c.Assert(err, IsNil)
	c.Assert(buf.Release(), IsNil)

	_, err = buf.Bytes()
	c.Check(err, NotNil)
	_, err = buf.Length()
	c.Check(err, NotNil)
}

func (s *poolSuite) TestSlabGrowsBeyondInitialCapacity(c *C) {
	p := pool.New()
	const n = pool.InitialSlabCapacity + 10

	bufs := make([]*pool.Buffer, 0, n)
	for i := 0; i < n; i++ {
		buf, err := p.Rent(16)
		c.Assert(err, IsNil)
		bufs = append(bufs, buf)
	}
	for _, buf := range bufs {
		c.Assert(buf.Release(), IsNil)
	}
}

func (s *poolSuite) TestMaxCellsPerSlabExhausts(c *C) {
	p := pool.New(pool.WithMaxCellsPerSlab(pool.InitialSlabCapacity))

	bufs := make([]*pool.Buffer, 0, pool.InitialSlabCapacity)
	for i := 0; i < pool.InitialSlabCapacity; i++ {
		buf, err := p.Rent(16)
		c.Assert(err, IsNil)
		bufs = append(bufs, buf)
	}

	_, err := p.Rent(16)
	c.Assert(err, NotNil)
	_, isExhausted := err.(*pool.ExhaustedError)
	c.Check(isExhausted, Equals, true)

	for _, buf := range bufs {
		c.Assert(buf.Release(), IsNil)
	}

	// Releasing a cell makes room again.
	_, err = p.Rent(16)
	c.Check(err, IsNil)
}

func (s *poolSuite) TestConcurrentRentReleaseIsSafe(c *C) {
	p := pool.New()

	const goroutines = 16
	const iterations = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				buf, err := p.Rent(24)
				if err != nil {
					c.Error(err)
					return
				}
				length, err := buf.Length()
				if err != nil || length != 24 {
					c.Error("unexpected length")
					return
				}
				if err := buf.Release(); err != nil {
					c.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
