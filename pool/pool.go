// Package pool implements the fixed-size shared chunk pool (C5): a
// contiguous arena partitioned at construction into equal-size slots, handed
// out to download workers and returned by the writer once a chunk's last
// consumer has released it.
package pool

import (
	"errors"
	"sync"
)

// Slot describes one partition of the arena: the byte range [Offset, End)
// within the pool's backing buffer.
type Slot struct {
	Offset int64
	End    int64
	index  int
}

// Len returns the slot's capacity in bytes.
func (s Slot) Len() int64 { return s.End - s.Offset }

// ErrArenaTooSmall is returned when the configured arena cannot fit even a
// single slot sized to the biggest chunk in the manifest.
var ErrArenaTooSmall = errors.New("pool: arena too small for a single slot")

// Pool is a fixed arena of arenaSize bytes divided into N = floor(arenaSize /
// slotSize) equal slots. Slots are handed out via Acquire and returned via
// Release; Release wakes any goroutine blocked in Acquire.
type Pool struct {
	buf      []byte
	slotSize int64

	mu    sync.Mutex
	cond  *sync.Cond
	free  []Slot // free deque, push/pop from the tail
	inUse []bool // indexed by slot index, for NumSlots and double-release detection
}

// New carves an arenaSize-byte buffer into slots of slotSize bytes each. The
// slot size is normally the biggest chunk window size across the manifest
// being installed, per the memory guard computed by the planner.
func New(arenaSize int64, slotSize int64) (*Pool, error) {
	if slotSize <= 0 || arenaSize < slotSize {
		return nil, ErrArenaTooSmall
	}
	n := arenaSize / slotSize
	p := &Pool{
		buf:      make([]byte, n*slotSize),
		slotSize: slotSize,
		free:     make([]Slot, 0, n),
		inUse:    make([]bool, n),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := int64(0); i < n; i++ {
		p.free = append(p.free, Slot{Offset: i * slotSize, End: (i + 1) * slotSize, index: int(i)})
	}
	return p, nil
}

// NumSlots returns the total number of slots the arena was partitioned into.
func (p *Pool) NumSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// SlotSize returns the fixed size of every slot in the arena.
func (p *Pool) SlotSize() int64 { return p.slotSize }

// Bytes returns the backing slice for a previously acquired slot.
func (p *Pool) Bytes(s Slot) []byte {
	return p.buf[s.Offset:s.End]
}

// Acquire pops a free slot, blocking until one is available or stop is
// closed. Returns ok=false if stop fired before a slot freed up. Callers
// that need Acquire to wake promptly on stop should also call Shutdown,
// which broadcasts the condition variable once.
func (p *Pool) Acquire(stop <-chan struct{}) (slot Slot, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.free) == 0 {
		select {
		case <-stop:
			return Slot{}, false
		default:
		}
		p.cond.Wait()
	}
	n := len(p.free)
	s := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse[s.index] = true
	return s, true
}

// Shutdown wakes every goroutine blocked in Acquire so they can observe a
// closed stop channel and return. Safe to call multiple times.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cond.Broadcast()
}

// TryAcquire pops a free slot without blocking. ok is false if the free
// deque is currently empty.
func (p *Pool) TryAcquire() (slot Slot, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return Slot{}, false
	}
	n := len(p.free)
	s := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse[s.index] = true
	return s, true
}

// Release returns a slot to the free deque and wakes any blocked Acquire
// call. Releasing a slot that is not currently in use is a no-op, guarding
// against a duplicate RELEASE_MEMORY observation for the same residency
// cycle.
func (p *Pool) Release(s Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inUse[s.index] {
		return
	}
	p.inUse[s.index] = false
	p.free = append(p.free, s)
	p.cond.Broadcast()
}

// Avail returns the number of currently free slots.
func (p *Pool) Avail() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
