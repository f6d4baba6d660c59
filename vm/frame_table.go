package vm

import (
	"log/slog"
	"sync"
	"time"
)

// FrameID is a handle for one frame in the frame table. 0 is never issued.
type FrameID uint64

// pageRef names a page by owner and address rather than by pointer
type pageRef struct {
	as *AddressSpace
	va uintptr
}

// Frame is one physical page in use by user pages
type Frame struct {
	id    FrameID
	pa    PhysAddr
	kva   []byte
	pages []pageRef
}

// ID returns the frame's handle
func (f *Frame) ID() FrameID {
	return f.id
}

// PhysAddr returns the frame's physical address
func (f *Frame) PhysAddr() PhysAddr {
	return f.pa
}

// FrameTable tracks every frame that holds a user page and reclaims frames
// with a clock sweep when physical memory runs out. A frame's back-links,
// the clock ring and the hand are guarded by mu, which is held across a
// whole eviction including the victim's write-out.
type FrameTable struct {
	mu         sync.Mutex
	phys       PhysicalMemory
	frames     map[FrameID]*Frame
	ring       []*Frame
	hand       int
	nextID     FrameID
	kernelBase uintptr
	metrics    *Metrics
	logger     *slog.Logger
}

// NewFrameTable creates an empty frame table drawing pages from phys
func NewFrameTable(phys PhysicalMemory, kernelBase uintptr, metrics *Metrics, logger *slog.Logger) *FrameTable {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &FrameTable{
		phys:       phys,
		frames:     make(map[FrameID]*Frame),
		kernelBase: kernelBase,
		metrics:    metrics,
		logger:     logger,
	}
}

// acquire returns a zeroed frame already bound to ref. When physical memory
// is exhausted one victim is evicted and its frame reused. ref.as and every
// address space in held must be locked by the caller.
func (ft *FrameTable) acquire(ref pageRef, held ...*AddressSpace) (*Frame, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if pa, ok := ft.phys.GetZeroedPage(); ok {
		ft.nextID++
		f := &Frame{
			id:    ft.nextID,
			pa:    pa,
			kva:   ft.phys.Bytes(pa),
			pages: []pageRef{ref},
		}
		ft.frames[f.id] = f
		ft.ring = append(ft.ring, f)
		ft.metrics.RecordFrameAlloc()
		return f, nil
	}

	start := time.Now()
	f, err := ft.evict(append(held, ref.as))
	if err != nil {
		return nil, err
	}
	clear(f.kva)
	f.pages = append(f.pages, ref)
	ft.metrics.RecordEvictionLatency(time.Since(start))
	return f, nil
}

// evict picks a victim, writes out every page on it and returns it unbound.
// Caller holds ft.mu.
func (ft *FrameTable) evict(held []*AddressSpace) (*Frame, error) {
	victim, unlock := ft.pickVictim(held)
	if victim == nil {
		return nil, ErrAllocationFailure("FrameTable.evict")
	}
	defer unlock()

	ft.logger.Debug("evicting frame", "frame", victim.id, "pages", len(victim.pages))

	for len(victim.pages) > 0 {
		ref := victim.pages[0]
		if p := ref.as.spt.Find(ref.va); p != nil && p.frame == victim.id {
			if err := p.evict(victim.kva); err != nil {
				ft.logger.Error("eviction write-out failed",
					"frame", victim.id, "asid", ref.as.id, "va", ref.va, "error", err)
				return nil, err
			}
			ft.metrics.RecordEviction()
		}
		victim.pages = victim.pages[1:]
	}
	victim.pages = nil
	return victim, nil
}

// release detaches ref from frame id and returns the physical page once no
// page is left on it
func (ft *FrameTable) release(id FrameID, ref pageRef) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	f, ok := ft.frames[id]
	if !ok {
		return
	}

	for i, r := range f.pages {
		if r == ref {
			f.pages = append(f.pages[:i], f.pages[i+1:]...)
			break
		}
	}
	if len(f.pages) > 0 {
		return
	}

	delete(ft.frames, id)
	for i, rf := range ft.ring {
		if rf != f {
			continue
		}
		ft.ring = append(ft.ring[:i], ft.ring[i+1:]...)
		if i < ft.hand {
			ft.hand--
		}
		break
	}
	if ft.hand >= len(ft.ring) {
		ft.hand = 0
	}
	ft.phys.FreePage(f.pa)
}

// bytes returns the kernel view of frame id
func (ft *FrameTable) bytes(id FrameID) []byte {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if f, ok := ft.frames[id]; ok {
		return f.kva
	}
	return nil
}

func (ft *FrameTable) physAddr(id FrameID) (PhysAddr, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if f, ok := ft.frames[id]; ok {
		return f.pa, true
	}
	return 0, false
}

// Len returns the number of frames holding user pages
func (ft *FrameTable) Len() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.frames)
}
