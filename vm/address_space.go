package vm

import (
	"log/slog"
	"sync"
)

// AddressSpace is one process's user virtual memory: its supplemental page
// table, its hardware page table and its file mappings. mu is held for the
// duration of every operation, including a whole fault resolution.
type AddressSpace struct {
	mu sync.Mutex

	id           uint64
	vm           *Manager
	pt           PageTable
	spt          *SupplementalPageTable
	regions      map[uintptr]*mmapRegion
	stackPointer uintptr
	logger       *slog.Logger
}

// ID returns the address space identifier
func (as *AddressSpace) ID() uint64 {
	return as.id
}

// PageTable returns the hardware page table
func (as *AddressSpace) PageTable() PageTable {
	return as.pt
}

// Lookup returns the page containing va, or nil
func (as *AddressSpace) Lookup(va uintptr) *Page {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.spt.Find(va)
}

// PageCount returns the number of registered pages
func (as *AddressSpace) PageCount() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.spt.Len()
}

// SetStackPointer records the user stack pointer saved at the last trap
func (as *AddressSpace) SetStackPointer(sp uintptr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.stackPointer = sp
}

// StackPointer returns the recorded user stack pointer
func (as *AddressSpace) StackPointer() uintptr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.stackPointer
}

// AllocPageWithInitializer registers a pending page at va that becomes typ
// on its first fault, after which loader fills it from aux. Nothing is read
// and no frame is used until then.
func (as *AddressSpace) AllocPageWithInitializer(typ PageType, va uintptr, writable bool, loader LazyLoader, aux any) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	_, err := as.allocPageLocked(typ, va, writable, loader, aux)
	return err
}

// AllocPage registers a pending page at va that starts zero-filled
func (as *AddressSpace) AllocPage(typ PageType, va uintptr, writable bool) error {
	return as.AllocPageWithInitializer(typ, va, writable, nil, nil)
}

func (as *AddressSpace) allocPageLocked(typ PageType, va uintptr, writable bool, loader LazyLoader, aux any) (*Page, error) {
	const op = "AllocPage"

	if typ != PageAnon && typ != PageFile {
		return nil, NewVMError(ErrCodeInternal, op, "pending page must become anon or file", nil)
	}
	if va == 0 || !isPageAligned(va) || as.vm.isKernelAddr(va) {
		return nil, ErrInvalidAddress(op, va)
	}

	p := newPage(as, va, writable, &uninitPage{
		target: typ,
		loader: loader,
		aux:    aux,
	})
	if !as.spt.Insert(p) {
		return nil, ErrAddressInUse(op, va)
	}
	return p, nil
}

// ClaimPage makes the page at va resident right away
func (as *AddressSpace) ClaimPage(va uintptr) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	p := as.spt.Find(va)
	if p == nil {
		return ErrPageNotFound("ClaimPage", va)
	}
	if p.frame != 0 {
		return nil
	}
	return as.claimLocked(p)
}

// claimLocked gives p a frame, fills it and installs the mapping. The
// backing commits only after the mapping is in place; on any failure the
// frame is released and p is left as it was.
func (as *AddressSpace) claimLocked(p *Page) error {
	ref := pageRef{as: as, va: p.va}
	f, err := as.vm.frames.acquire(ref)
	if err != nil {
		return err
	}

	p.frame = f.id
	if err := p.backing.swapIn(p, f.kva); err != nil {
		as.unclaim(p, ref)
		return err
	}
	if !as.pt.SetMapping(p.va, f.pa, p.writable) {
		as.unclaim(p, ref)
		return ErrAllocationFailure("ClaimPage")
	}
	p.commitSwapIn()

	as.logger.Debug("page claimed", "va", p.va, "type", p.Type(), "frame", f.id)
	return nil
}

func (as *AddressSpace) unclaim(p *Page, ref pageRef) {
	id := p.frame
	p.frame = 0
	as.vm.frames.release(id, ref)
}

// SetupStack registers the first stack page just below the stack top and
// claims it, and points the stack pointer at the top.
func (as *AddressSpace) SetupStack() error {
	as.mu.Lock()
	defer as.mu.Unlock()

	top := as.vm.stackTop()
	p, err := as.allocPageLocked(PageAnon, top-PageSize, true, nil, nil)
	if err != nil {
		return err
	}
	if err := as.claimLocked(p); err != nil {
		as.spt.Remove(p)
		return err
	}
	as.stackPointer = top
	return nil
}

// LoadSegment registers lazily loaded pages for an executable segment:
// readBytes bytes of file starting at offset, then zeroBytes zeros, mapped
// at upage. Pages become anonymous once loaded, so later evictions go to
// swap and never back to the executable.
func (as *AddressSpace) LoadSegment(file File, offset int64, upage uintptr, readBytes, zeroBytes int, writable bool) error {
	const op = "LoadSegment"

	if (readBytes+zeroBytes)%PageSize != 0 || offset%PageSize != 0 || !isPageAligned(upage) {
		return NewVMError(ErrCodeInvalidAddress, op, "segment is not page aligned", nil)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	var added []*Page
	for va := upage; readBytes > 0 || zeroBytes > 0; va += PageSize {
		pageRead := min(readBytes, PageSize)
		seg := &FileSegment{
			File:      file,
			Offset:    offset,
			ReadBytes: pageRead,
			ZeroBytes: PageSize - pageRead,
		}

		p, err := as.allocPageLocked(PageAnon, va, writable, LazyLoadSegment, seg)
		if err != nil {
			for _, q := range added {
				as.spt.Remove(q)
			}
			return err
		}
		added = append(added, p)

		readBytes -= pageRead
		zeroBytes -= PageSize - pageRead
		offset += int64(pageRead)
	}
	return nil
}

// Destroy tears the address space down on process exit: dirty file pages
// are written back, then every frame, swap slot and mapped file is released.
func (as *AddressSpace) Destroy() {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.teardownLocked()
	as.logger.Debug("address space destroyed")
}
