package vm

import (
	"fmt"
)

// PageType identifies the variant of a page
type PageType int

const (
	// PageUninit is a pending page whose loader has not run yet
	PageUninit PageType = iota
	// PageAnon has no file backing; evicted content goes to swap
	PageAnon
	// PageFile is backed by a region of a file
	PageFile
)

func (t PageType) String() string {
	switch t {
	case PageUninit:
		return "uninit"
	case PageAnon:
		return "anon"
	case PageFile:
		return "file"
	default:
		return fmt.Sprintf("PageType(%d)", int(t))
	}
}

// LazyLoader fills kva with a page's initial content on its first fault.
// aux is the value given at allocation time.
type LazyLoader func(p *Page, kva []byte, aux any) error

// FileSegment locates a page's initial content in a file: ReadBytes bytes at
// Offset, followed by ZeroBytes zero bytes.
type FileSegment struct {
	File      File
	Offset    int64
	ReadBytes int
	ZeroBytes int
}

// pageBacking is implemented by each page variant.
// kva is the kernel view of the page's frame.
type pageBacking interface {
	kind() PageType
	swapIn(p *Page, kva []byte) error
	swapOut(p *Page, kva []byte) error
	// destroy releases variant resources; kva is nil when not resident
	destroy(p *Page, kva []byte)
}

// committer is implemented by variants whose swapIn leaves state to settle
// once the page is mapped. Until commit runs, a failed claim can drop the
// frame and the page is still as it was before the fault.
type committer interface {
	commit(p *Page)
}

// Page is one virtual page of one address space. Its fields are guarded by
// the owning address space's lock.
type Page struct {
	va       uintptr
	writable bool
	as       *AddressSpace
	frame    FrameID // 0 while not resident
	region   *mmapRegion
	backing  pageBacking
}

func newPage(as *AddressSpace, va uintptr, writable bool, backing pageBacking) *Page {
	return &Page{
		va:       va,
		writable: writable,
		as:       as,
		backing:  backing,
	}
}

// VA returns the page-aligned virtual address
func (p *Page) VA() uintptr {
	return p.va
}

// Writable reports whether user writes are allowed
func (p *Page) Writable() bool {
	return p.writable
}

// Resident reports whether the page currently occupies a frame
func (p *Page) Resident() bool {
	return p.frame != 0
}

// Frame returns the frame handle, or 0 if not resident
func (p *Page) Frame() FrameID {
	return p.frame
}

// Kind returns the current variant, PageUninit until first resolution
func (p *Page) Kind() PageType {
	return p.backing.kind()
}

// Type returns the variant the page has or will have once resolved
func (p *Page) Type() PageType {
	if u, ok := p.backing.(*uninitPage); ok {
		return u.target
	}
	return p.backing.kind()
}

// SwapSlot returns the swap slot holding an evicted anonymous page
func (p *Page) SwapSlot() (uint32, bool) {
	if a, ok := p.backing.(*anonPage); ok && a.slot != noSlot {
		return a.slot, true
	}
	return 0, false
}

// evict writes the page out and detaches it from kva's frame
func (p *Page) evict(kva []byte) error {
	if err := p.backing.swapOut(p, kva); err != nil {
		return err
	}
	p.as.pt.ClearMapping(p.va)
	p.frame = 0
	return nil
}

// commitSwapIn settles the backing after a successful claim
func (p *Page) commitSwapIn() {
	if c, ok := p.backing.(committer); ok {
		c.commit(p)
	}
}

// writeBack flushes a resident, dirty file-backed page to its file
func (p *Page) writeBack() error {
	fp, ok := p.backing.(*filePage)
	if !ok || p.frame == 0 {
		return nil
	}
	return fp.writeBack(p, p.as.vm.frames.bytes(p.frame))
}

// destroy releases everything the page holds: variant resources, its frame
// and its share of an mmap region
func (p *Page) destroy() {
	var kva []byte
	if p.frame != 0 {
		kva = p.as.vm.frames.bytes(p.frame)
	}

	p.backing.destroy(p, kva)

	if p.frame != 0 {
		p.as.pt.ClearMapping(p.va)
		p.as.vm.frames.release(p.frame, pageRef{as: p.as, va: p.va})
		p.frame = 0
	}

	if p.region != nil {
		if p.region.dropPage() {
			delete(p.as.regions, p.region.start)
			p.as.vm.closeFile(p.region.file)
		}
		p.region = nil
	}
}

func pageRoundDown(va uintptr) uintptr {
	return va &^ (PageSize - 1)
}

func pageOffset(va uintptr) uintptr {
	return va & (PageSize - 1)
}

func isPageAligned(va uintptr) bool {
	return pageOffset(va) == 0
}
