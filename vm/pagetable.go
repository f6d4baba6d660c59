package vm

import (
	"sync"
)

// PTEFlag describes a bit in a software page table entry.
type PTEFlag uint8

const (
	// FlagPresent is set while the entry maps a frame.
	FlagPresent PTEFlag = 1 << iota
	// FlagRW is set if the page can be written to.
	FlagRW
	// FlagAccessed is set by the MMU on any access.
	FlagAccessed
	// FlagDirty is set by the MMU on a write.
	FlagDirty
)

type pte struct {
	pa    PhysAddr
	flags PTEFlag
}

// SoftPageTable is an in-memory stand-in for a hardware page table. Accessed
// and dirty bits are set by AddressSpace.ReadUser and WriteUser, the way an
// MMU would set them on a real access.
type SoftPageTable struct {
	mu      sync.RWMutex
	entries map[uintptr]pte
}

// NewSoftPageTable creates an empty page table
func NewSoftPageTable() *SoftPageTable {
	return &SoftPageTable{
		entries: make(map[uintptr]pte),
	}
}

// SetMapping maps the page at va to pa, clearing accessed and dirty bits
func (pt *SoftPageTable) SetMapping(va uintptr, pa PhysAddr, writable bool) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	flags := FlagPresent
	if writable {
		flags |= FlagRW
	}
	pt.entries[pageRoundDown(va)] = pte{pa: pa, flags: flags}
	return true
}

// ClearMapping marks the page at va not present
func (pt *SoftPageTable) ClearMapping(va uintptr) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.entries, pageRoundDown(va))
}

// GetMapping returns the frame va maps to
func (pt *SoftPageTable) GetMapping(va uintptr) (PhysAddr, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	e, ok := pt.entries[pageRoundDown(va)]
	if !ok {
		return 0, false
	}
	return e.pa, true
}

func (pt *SoftPageTable) IsWritable(va uintptr) bool {
	return pt.hasFlag(va, FlagRW)
}

func (pt *SoftPageTable) IsDirty(va uintptr) bool {
	return pt.hasFlag(va, FlagDirty)
}

func (pt *SoftPageTable) SetDirty(va uintptr, dirty bool) {
	pt.setFlag(va, FlagDirty, dirty)
}

func (pt *SoftPageTable) IsAccessed(va uintptr) bool {
	return pt.hasFlag(va, FlagAccessed)
}

func (pt *SoftPageTable) SetAccessed(va uintptr, accessed bool) {
	pt.setFlag(va, FlagAccessed, accessed)
}

// Len returns the number of present entries
func (pt *SoftPageTable) Len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.entries)
}

func (pt *SoftPageTable) hasFlag(va uintptr, flag PTEFlag) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	e, ok := pt.entries[pageRoundDown(va)]
	return ok && e.flags&flag != 0
}

// setFlag is a no-op for pages that are not present
func (pt *SoftPageTable) setFlag(va uintptr, flag PTEFlag, on bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	key := pageRoundDown(va)
	e, ok := pt.entries[key]
	if !ok {
		return
	}
	if on {
		e.flags |= flag
	} else {
		e.flags &^= flag
	}
	pt.entries[key] = e
}
