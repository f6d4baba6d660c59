package vm

// Fork creates a child address space holding an eager copy of this one.
// Resident and swapped-out pages are copied into frames of the child's own;
// pending pages stay pending and load independently in the child. Each file
// mapping is reopened for the child. On failure the partial child is torn
// down and nil is returned.
func (as *AddressSpace) Fork() (*AddressSpace, error) {
	child := as.vm.NewAddressSpace(nil)

	as.mu.Lock()
	defer as.mu.Unlock()
	child.mu.Lock()
	defer child.mu.Unlock()

	child.stackPointer = as.stackPointer

	regions := make(map[*mmapRegion]*mmapRegion, len(as.regions))
	for start, r := range as.regions {
		file, err := as.vm.reopenFile(r.file)
		if err != nil {
			child.teardownLocked()
			return nil, err
		}
		nr := &mmapRegion{
			start:    r.start,
			pages:    r.pages,
			file:     file,
			writable: r.writable,
		}
		child.regions[start] = nr
		regions[r] = nr
	}

	var err error
	as.spt.Range(func(p *Page) bool {
		err = copyPage(child, as, p, regions)
		return err == nil
	})
	if err != nil {
		as.logger.Warn("fork failed", "child", child.id, "error", err)
		child.teardownLocked()
		return nil, err
	}

	as.vm.metrics.RecordForkCopy()
	as.logger.Debug("address space forked", "child", child.id, "pages", child.spt.Len())
	return child, nil
}

// copyPage registers in child a duplicate of parent page src. Caller holds
// both address space locks.
func copyPage(child, parent *AddressSpace, src *Page, regions map[*mmapRegion]*mmapRegion) error {
	region := regions[src.region]

	var backing pageBacking
	switch b := src.backing.(type) {
	case *uninitPage:
		aux := b.aux
		if seg, ok := aux.(*FileSegment); ok && region != nil {
			cp := *seg
			cp.File = region.file
			aux = &cp
		}
		backing = &uninitPage{target: b.target, loader: b.loader, aux: aux}
	case *anonPage:
		backing = newAnonPage()
	case *filePage:
		fp := *b
		if region != nil {
			fp.file = region.file
		}
		backing = &fp
	default:
		return NewVMError(ErrCodeInternal, "Fork", "unknown page variant", nil)
	}

	p := newPage(child, src.va, src.writable, backing)
	if !child.spt.Insert(p) {
		return ErrAddressInUse("Fork", src.va)
	}
	if region != nil {
		p.region = region
		region.addPage()
	}

	if _, pending := backing.(*uninitPage); pending {
		return nil
	}
	return copyContents(child, parent, src, p)
}

// copyContents gives dst a frame filled with src's current contents.
func copyContents(child, parent *AddressSpace, src, dst *Page) error {
	ref := pageRef{as: child, va: dst.va}
	f, err := child.vm.frames.acquire(ref, parent)
	if err != nil {
		return err
	}
	dst.frame = f.id

	// Acquiring may have evicted src itself, so its state is read only now
	dirty := false
	switch {
	case src.frame != 0:
		copy(f.kva, child.vm.frames.bytes(src.frame))
		dirty = parent.pt.IsDirty(src.va)
	default:
		if slot, ok := src.SwapSlot(); ok {
			err = child.vm.swap.Read(slot, f.kva)
		} else {
			err = dst.backing.swapIn(dst, f.kva)
		}
	}
	if err != nil {
		child.unclaim(dst, ref)
		return err
	}

	if !child.pt.SetMapping(dst.va, f.pa, dst.writable) {
		child.unclaim(dst, ref)
		return ErrAllocationFailure("Fork")
	}
	dst.commitSwapIn()
	if dirty {
		child.pt.SetDirty(dst.va, true)
	}
	return nil
}

// teardownLocked is Destroy for callers already holding the lock
func (as *AddressSpace) teardownLocked() {
	as.spt.DestroyAll()
	for start, r := range as.regions {
		delete(as.regions, start)
		as.vm.closeFile(r.file)
	}
}
