package vm

// mmapRegion is one file mapping. Its pages share the reopened file, which
// is closed when the last of them goes away.
type mmapRegion struct {
	start    uintptr
	pages    int
	file     File
	writable bool
	live     int
}

func (r *mmapRegion) addPage() {
	r.live++
}

// dropPage reports whether the last page of the region is gone
func (r *mmapRegion) dropPage() bool {
	r.live--
	return r.live == 0
}

// Mmap maps length bytes of file starting at offset to addr. Pages are
// loaded lazily; the last page's tail beyond the file is zero-filled and
// never written back. On failure nothing is registered.
func (as *AddressSpace) Mmap(addr uintptr, length int, writable bool, file File, offset int64) (uintptr, error) {
	const op = "Mmap"

	if file == nil {
		return 0, NewVMError(ErrCodeInvalidAddress, op, "no file to map", nil)
	}
	if length <= 0 {
		return 0, NewVMError(ErrCodeInvalidAddress, op, "mapping length must be positive", nil)
	}
	if addr == 0 || !isPageAligned(addr) || as.vm.isKernelAddr(addr) {
		return 0, ErrInvalidAddress(op, addr)
	}
	if offset < 0 || offset%PageSize != 0 {
		return 0, NewVMError(ErrCodeInvalidAddress, op, "file offset must be page aligned", nil)
	}

	fileLen := as.vm.fileLength(file)
	if fileLen == 0 {
		return 0, NewVMError(ErrCodeInvalidAddress, op, "cannot map an empty file", nil)
	}

	pages := (length + PageSize - 1) / PageSize
	end := addr + uintptr(pages)*PageSize
	if end <= addr || as.vm.isKernelAddr(end-1) {
		return 0, ErrInvalidAddress(op, addr)
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	top := as.vm.stackTop()
	stackLimit := top - uintptr(as.vm.config.MaxStackSize)
	if addr < top && end > stackLimit {
		return 0, ErrAddressInUse(op, addr)
	}
	if as.spt.overlaps(addr, end) {
		return 0, ErrAddressInUse(op, addr)
	}

	reopened, err := as.vm.reopenFile(file)
	if err != nil {
		return 0, err
	}
	region := &mmapRegion{
		start:    addr,
		pages:    pages,
		file:     reopened,
		writable: writable,
	}

	remaining := max(min(int64(length), fileLen-offset), 0)
	for i := 0; i < pages; i++ {
		readBytes := int(min(remaining, PageSize))
		seg := &FileSegment{
			File:      reopened,
			Offset:    offset + int64(i)*PageSize,
			ReadBytes: readBytes,
			ZeroBytes: PageSize - readBytes,
		}

		va := addr + uintptr(i)*PageSize
		p, err := as.allocPageLocked(PageFile, va, writable, LazyLoadSegment, seg)
		if err != nil {
			as.discardRegion(region)
			return 0, err
		}
		p.region = region
		region.addPage()
		remaining -= int64(readBytes)
	}

	as.regions[addr] = region
	as.logger.Debug("file mapped", "addr", addr, "length", length, "pages", pages, "writable", writable)
	return addr, nil
}

// Munmap removes the mapping that starts at addr. Resident dirty pages are
// written back; pages that were never loaded cause no I/O.
func (as *AddressSpace) Munmap(addr uintptr) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	region, ok := as.regions[addr]
	if !ok {
		return ErrNotMapped("Munmap", addr)
	}

	as.unmapLocked(region)
	as.logger.Debug("file unmapped", "addr", addr, "pages", region.pages)
	return nil
}

// discardRegion undoes a partly built mapping. Once a page holds the region,
// dropping the last page closes the file, so it is closed here only when no
// page was ever added.
func (as *AddressSpace) discardRegion(region *mmapRegion) {
	if region.live == 0 {
		as.vm.closeFile(region.file)
		return
	}
	as.unmapLocked(region)
}

// unmapLocked writes back and removes every page of region
func (as *AddressSpace) unmapLocked(region *mmapRegion) {
	for i := 0; i < region.pages; i++ {
		p := as.spt.Find(region.start + uintptr(i)*PageSize)
		if p == nil || p.region != region {
			continue
		}
		if err := p.writeBack(); err != nil {
			as.logger.Error("mmap writeback failed", "va", p.va, "error", err)
		}
		as.spt.Remove(p)
	}
}
