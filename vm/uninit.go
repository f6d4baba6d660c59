package vm

// uninitPage is a pending page: it knows what it will become and how to
// fill itself, and does both at its first fault.
type uninitPage struct {
	target PageType
	loader LazyLoader
	aux    any

	// resolved is the loaded variant waiting for commit
	resolved pageBacking
}

func (u *uninitPage) kind() PageType {
	return PageUninit
}

// swapIn builds the target variant and runs the loader. The page stays
// pending until commit, so a failed load or mapping lets a later fault retry.
func (u *uninitPage) swapIn(p *Page, kva []byte) error {
	u.resolved = nil

	var b pageBacking
	switch u.target {
	case PageAnon:
		b = newAnonPage()
	case PageFile:
		fp, err := newFilePage(u.aux)
		if err != nil {
			return err
		}
		b = fp
	default:
		return NewVMError(ErrCodeInternal, "uninit.swapIn", "pending page has no target type", nil)
	}

	if u.loader != nil {
		if err := u.loader(p, kva, u.aux); err != nil {
			return err
		}
	}
	u.resolved = b
	return nil
}

// commit switches the page to the variant built by swapIn
func (u *uninitPage) commit(p *Page) {
	if u.resolved == nil {
		return
	}
	p.backing = u.resolved
	u.resolved = nil
	p.commitSwapIn()
}

func (u *uninitPage) swapOut(p *Page, kva []byte) error {
	return NewVMError(ErrCodeInternal, "uninit.swapOut", "pending page cannot be resident", nil)
}

// Nothing to release: a pending page never owned a frame or a slot
func (u *uninitPage) destroy(p *Page, kva []byte) {}

// LazyLoadSegment is a LazyLoader for *FileSegment aux values. It reads the
// segment's bytes and zero-fills the remainder of the page.
func LazyLoadSegment(p *Page, kva []byte, aux any) error {
	seg, ok := aux.(*FileSegment)
	if !ok {
		return NewVMError(ErrCodeInternal, "LazyLoadSegment", "aux is not a *FileSegment", nil)
	}
	if seg.ReadBytes > 0 {
		if err := p.as.vm.readFile(seg.File, seg.Offset, kva[:seg.ReadBytes]); err != nil {
			return err
		}
	}
	clear(kva[seg.ReadBytes:])
	return nil
}
