package vm

import (
	"time"
)

// stackSlack is how far below the stack pointer a fault may land and still
// count as stack access: a call pushes its return address before moving rsp.
const stackSlack = 8

// HandleFault resolves a page fault at addr in this address space. user is
// true for faults raised in user mode, write for write accesses, and
// notPresent when no mapping existed (false means a protection violation).
// It reports whether the access can be retried; false means the faulting
// process must be terminated.
func (as *AddressSpace) HandleFault(addr uintptr, user, write, notPresent bool) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.handleFaultLocked(addr, user, write, notPresent)
}

func (as *AddressSpace) handleFaultLocked(addr uintptr, user, write, notPresent bool) bool {
	start := time.Now()
	metrics := as.vm.metrics

	if err := as.resolveFault(addr, write, notPresent); err != nil {
		metrics.RecordInvalidFault()
		as.logger.Info("page fault rejected",
			"addr", addr, "user", user, "write", write, "not_present", notPresent, "error", err)
		return false
	}

	metrics.RecordFault()
	metrics.RecordFaultLatency(time.Since(start))
	return true
}

func (as *AddressSpace) resolveFault(addr uintptr, write, notPresent bool) error {
	const op = "HandleFault"

	if addr == 0 || as.vm.isKernelAddr(addr) {
		return ErrInvalidFault(op, addr, "null or kernel address")
	}
	// Protection violation on a present page; there is no copy-on-write
	if !notPresent {
		return ErrInvalidFault(op, addr, "write to read-only page")
	}

	va := pageRoundDown(addr)
	p := as.spt.Find(va)
	if p == nil && as.isStackAccess(addr) {
		if err := as.growStack(va); err != nil {
			return err
		}
		p = as.spt.Find(va)
	}
	if p == nil {
		return ErrInvalidFault(op, addr, "no page")
	}
	if write && !p.writable {
		return ErrInvalidFault(op, addr, "write to read-only page")
	}
	if p.frame != 0 {
		// Resident but unmapped: reinstall the mapping
		pa, ok := as.vm.frames.physAddr(p.frame)
		if !ok || !as.pt.SetMapping(p.va, pa, p.writable) {
			return ErrAllocationFailure(op)
		}
		return nil
	}
	return as.claimLocked(p)
}

// isStackAccess reports whether addr is a plausible push below the current
// stack bottom, within the maximum stack size.
func (as *AddressSpace) isStackAccess(addr uintptr) bool {
	top := as.vm.stackTop()
	limit := top - uintptr(as.vm.config.MaxStackSize)
	return addr < top && addr >= limit && addr+stackSlack >= as.stackPointer
}

// growStack registers anonymous pages from va up to the existing stack,
// filling any gap a large push skipped over.
func (as *AddressSpace) growStack(va uintptr) error {
	top := as.vm.stackTop()
	for a := va; a < top && as.spt.Find(a) == nil; a += PageSize {
		if _, err := as.allocPageLocked(PageAnon, a, true, nil, nil); err != nil {
			return err
		}
		as.vm.metrics.RecordStackGrowth()
	}
	return nil
}

// ReadUser copies len(buf) bytes at user address va into buf, faulting pages
// in as the hardware would. Accessed bits are set on every page touched.
func (as *AddressSpace) ReadUser(va uintptr, buf []byte) error {
	return as.access(va, buf, false)
}

// WriteUser copies data to user address va, faulting pages in and setting
// their accessed and dirty bits.
func (as *AddressSpace) WriteUser(va uintptr, data []byte) error {
	return as.access(va, data, true)
}

func (as *AddressSpace) access(va uintptr, buf []byte, write bool) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	for len(buf) > 0 {
		off := int(pageOffset(va))
		n := min(PageSize-off, len(buf))

		kva, err := as.translate(va, write)
		if err != nil {
			return err
		}
		if write {
			copy(kva[off:off+n], buf[:n])
		} else {
			copy(buf[:n], kva[off:off+n])
		}

		buf = buf[n:]
		va += uintptr(n)
	}
	return nil
}

// translate walks the page table for va, raising a fault when the access is
// not allowed, and returns the kernel view of the frame.
func (as *AddressSpace) translate(va uintptr, write bool) ([]byte, error) {
	pa, ok := as.pt.GetMapping(va)
	if !ok || (write && !as.pt.IsWritable(va)) {
		if !as.handleFaultLocked(va, true, write, !ok) {
			return nil, ErrInvalidFault("access", va, "unresolved fault")
		}
		if pa, ok = as.pt.GetMapping(va); !ok {
			return nil, ErrInvalidFault("access", va, "no mapping after fault")
		}
	}

	as.pt.SetAccessed(va, true)
	if write {
		as.pt.SetDirty(va, true)
	}
	return as.vm.phys.Bytes(pa), nil
}
