// Copyright 2026 The go-tpm2-core Authors.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

// Package pool implements an exact-size, slab-backed allocator for
// sensitive TPM material (session keys, nonces, authValues, digests).
// Every buffer it hands out is zeroised before it is returned to its
// free list, and the pool is safe for concurrent use.
package pool

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// InitialSlabCapacity is the number of cells a freshly discovered slab
// is seeded with, and the size of each subsequent growth block.
const InitialSlabCapacity = 64

// Pool is a set of slabs keyed by exact element count. It is safe for
// concurrent rent/release from multiple goroutines.
type Pool struct {
	log *zap.SugaredLogger

	mu              sync.Mutex
	slabs           map[int]*slab
	maxCellsPerSlab int

	rentTotal    prometheus.Counter
	releaseTotal prometheus.Counter
	cellsInUse   *prometheus.GaugeVec
	cellsTotal   *prometheus.GaugeVec
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithLogger attaches a structured logger. A nil logger (the default)
// disables logging.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Pool) { p.log = l }
}

// WithMaxCellsPerSlab caps how many cells a single slab (one per
// distinct rented size) will grow to hold. The default, 0, is
// unlimited: a slab grows for as long as the process has memory to give
// it, per spec's "never shrinks within a process lifetime" (it also
// never refuses to grow). Setting a cap turns an unbounded caller
// (e.g. a runaway session leak) into a reported ExhaustedError instead
// of eventually taking down the process.
func WithMaxCellsPerSlab(n int) Option {
	return func(p *Pool) { p.maxCellsPerSlab = n }
}

// WithRegisterer registers the pool's metrics with the given Prometheus
// registerer instead of the default global registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) {
		p.rentTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tpm2core_pool_rent_total",
			Help: "Total number of successful rent operations.",
		})
		p.releaseTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tpm2core_pool_release_total",
			Help: "Total number of successful release operations.",
		})
		p.cellsInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpm2core_pool_cells_in_use",
			Help: "Cells currently rented, by slab element count.",
		}, []string{"cell_size"})
		p.cellsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tpm2core_pool_cells_total",
			Help: "Total cells backing a slab, by slab element count.",
		}, []string{"cell_size"})
		if reg != nil {
			reg.MustRegister(p.rentTotal, p.releaseTotal, p.cellsInUse, p.cellsTotal)
		}
	}
}

// New creates a Pool with no slabs. Slabs are discovered lazily on first
// Rent of a given size.
func New(opts ...Option) *Pool {
	p := &Pool{
		slabs: make(map[int]*slab),
	}
	for _, o := range opts {
		o(p)
	}
	if p.rentTotal == nil {
		WithRegisterer(nil)(p)
	}
	return p
}

// Rent returns a unique owner over exactly n bytes. n must be >= 1. It
// fails with *ExhaustedError if WithMaxCellsPerSlab bounds this size's
// slab and every cell is in use.
func (p *Pool) Rent(n int) (*Buffer, error) {
	if n <= 0 {
		return nil, &PreconditionError{Op: "rent", Msg: fmt.Sprintf("size must be >= 1, got %d", n)}
	}

	s := p.slabFor(n)
	cell, err := s.acquire()
	if err != nil {
		return nil, err
	}

	p.rentTotal.Inc()
	p.cellsInUse.WithLabelValues(label(n)).Inc()

	if p.log != nil {
		p.log.Debugw("pool rent", "size", n)
	}

	return &Buffer{owner: s, cell: cell, size: n, pool: p}, nil
}

func (p *Pool) slabFor(n int) *slab {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.slabs[n]
	if !ok {
		s = newSlab(n, p.maxCellsPerSlab)
		s.pool = p
		p.slabs[n] = s
		p.cellsTotal.WithLabelValues(label(n)).Set(float64(s.total))
	}
	return s
}

func (p *Pool) noteRelease(n int) {
	p.releaseTotal.Inc()
	p.cellsInUse.WithLabelValues(label(n)).Dec()
	if p.log != nil {
		p.log.Debugw("pool release", "size", n)
	}
}

func label(n int) string {
	return fmt.Sprintf("%d", n)
}

// slab owns a growable collection of equal-size cells plus a free-index
// queue. One slab exists per distinct element count.
type slab struct {
	elemSize int
	maxCells int // 0 means unlimited

	mu     sync.Mutex
	blocks [][]byte // backing stores, each at most InitialSlabCapacity*elemSize bytes
	free   []cellRef
	pool   *Pool
	total  int
}

type cellRef struct {
	block int
	index int
}

func newSlab(elemSize, maxCells int) *slab {
	s := &slab{elemSize: elemSize, maxCells: maxCells}
	s.grow()
	return s
}

// growLocked allocates another InitialSlabCapacity-cell backing block
// (fewer cells if a full block would pass maxCells) and enqueues its
// cells as free. Caller must hold s.mu. It is a no-op once maxCells is
// already reached, leaving acquire to report ExhaustedError.
func (s *slab) growLocked() {
	if s.maxCells > 0 && s.total >= s.maxCells {
		return
	}
	cells := InitialSlabCapacity
	if s.maxCells > 0 && s.total+cells > s.maxCells {
		cells = s.maxCells - s.total
	}
	block := make([]byte, cells*s.elemSize)
	blockIdx := len(s.blocks)
	s.blocks = append(s.blocks, block)
	for i := 0; i < cells; i++ {
		s.free = append(s.free, cellRef{block: blockIdx, index: i})
	}
	s.total += cells
	if s.pool != nil && blockIdx > 0 {
		s.pool.cellsTotal.WithLabelValues(label(s.elemSize)).Set(float64(s.total))
	}
}

func (s *slab) grow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.growLocked()
}

func (s *slab) acquire() (cellRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.free) == 0 {
		s.growLocked()
	}

	if len(s.free) == 0 {
		return cellRef{}, &ExhaustedError{Size: s.elemSize, Capacity: s.maxCells}
	}

	n := len(s.free)
	ref := s.free[n-1]
	s.free = s.free[:n-1]
	return ref, nil
}

func (s *slab) bytes(ref cellRef) []byte {
	off := ref.index * s.elemSize
	return s.blocks[ref.block][off : off+s.elemSize]
}

// release zeroises the cell identified by ref and returns it to the free
// list. The zero-then-enqueue order is non-negotiable: a panic between
// the two leaks the cell, never its contents.
func (s *slab) release(ref cellRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bytes(ref)
	for i := range b {
		b[i] = 0
	}
	s.free = append(s.free, ref)
}
