package vm

import (
	"fmt"
	"sync"
)

// physBase keeps frame addresses away from zero so a zero PhysAddr never
// names a real frame.
const physBase PhysAddr = 0x100000

// PhysicalPool is a fixed arena of page frames carved out of one anonymous
// mapping. It implements PhysicalMemory.
type PhysicalPool struct {
	mu      sync.Mutex
	arena   []byte
	free    []uint32 // frame numbers available for allocation
	inUse   []bool
	release func([]byte) error
}

// NewPhysicalPool maps an arena of the given number of frames
func NewPhysicalPool(frames uint32) (*PhysicalPool, error) {
	if frames == 0 {
		return nil, fmt.Errorf("physical pool needs at least one frame")
	}

	arena, release, err := mapArena(int(frames) * PageSize)
	if err != nil {
		return nil, err
	}

	pool := &PhysicalPool{
		arena:   arena,
		free:    make([]uint32, 0, frames),
		inUse:   make([]bool, frames),
		release: release,
	}

	// Pushed in reverse so frame 0 is handed out first
	for i := int(frames) - 1; i >= 0; i-- {
		pool.free = append(pool.free, uint32(i))
	}

	return pool, nil
}

// GetZeroedPage pops a free frame and clears it
func (pp *PhysicalPool) GetZeroedPage() (PhysAddr, bool) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if len(pp.free) == 0 {
		return 0, false
	}

	n := pp.free[len(pp.free)-1]
	pp.free = pp.free[:len(pp.free)-1]
	pp.inUse[n] = true

	clear(pp.frameBytes(n))
	return physBase + PhysAddr(n)*PageSize, true
}

// FreePage returns a frame to the pool. Freeing a frame twice is a kernel bug.
func (pp *PhysicalPool) FreePage(pa PhysAddr) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	n := pp.frameNumber(pa)
	if !pp.inUse[n] {
		panic(fmt.Sprintf("physical page %#x freed twice", uintptr(pa)))
	}
	pp.inUse[n] = false
	pp.free = append(pp.free, n)
}

// Bytes returns the kernel view of the frame at pa
func (pp *PhysicalPool) Bytes(pa PhysAddr) []byte {
	return pp.frameBytes(pp.frameNumber(pa))
}

// Available returns the number of free frames
func (pp *PhysicalPool) Available() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.free)
}

// Capacity returns the total number of frames in the arena
func (pp *PhysicalPool) Capacity() int {
	return len(pp.inUse)
}

// Close unmaps the arena. No frame may be used afterwards.
func (pp *PhysicalPool) Close() error {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if pp.arena == nil {
		return nil
	}
	err := pp.release(pp.arena)
	pp.arena = nil
	pp.free = nil
	return err
}

func (pp *PhysicalPool) frameNumber(pa PhysAddr) uint32 {
	if pa < physBase || (pa-physBase)%PageSize != 0 {
		panic(fmt.Sprintf("invalid physical page address %#x", uintptr(pa)))
	}
	n := uint32((pa - physBase) / PageSize)
	if int(n) >= len(pp.inUse) {
		panic(fmt.Sprintf("physical page %#x outside pool", uintptr(pa)))
	}
	return n
}

func (pp *PhysicalPool) frameBytes(n uint32) []byte {
	off := int(n) * PageSize
	return pp.arena[off : off+PageSize : off+PageSize]
}
