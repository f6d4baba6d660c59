package vm

// pickVictim runs the second-chance clock over the ring. A frame whose
// pages were accessed since the last sweep has the bits cleared and is
// skipped. Protected frames are never chosen. If a full revolution finds
// nothing, the first frame at or after the starting position that can be
// taken is forced out.
//
// Owners other than those in held are TryLocked; the returned func releases
// them. Caller holds ft.mu.
func (ft *FrameTable) pickVictim(held []*AddressSpace) (*Frame, func()) {
	n := len(ft.ring)
	if n == 0 {
		return nil, nil
	}
	start := ft.hand % n

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		f := ft.ring[idx]
		if ft.referenced(f) || ft.protected(f) {
			continue
		}
		if unlock, ok := lockOwners(f, held); ok {
			ft.hand = (idx + 1) % n
			return f, unlock
		}
	}

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		f := ft.ring[idx]
		if ft.protected(f) {
			continue
		}
		if unlock, ok := lockOwners(f, held); ok {
			ft.hand = (idx + 1) % n
			return f, unlock
		}
	}

	return nil, nil
}

// referenced reports whether any page on f was accessed, clearing the bits
func (ft *FrameTable) referenced(f *Frame) bool {
	accessed := false
	for _, ref := range f.pages {
		if ref.as.pt.IsAccessed(ref.va) {
			ref.as.pt.SetAccessed(ref.va, false)
			accessed = true
		}
	}
	return accessed
}

func (ft *FrameTable) protected(f *Frame) bool {
	for _, ref := range f.pages {
		if uint64(ref.va) >= uint64(ft.kernelBase) {
			return true
		}
	}
	return false
}

// lockOwners TryLocks every owner of f not already in held. An owner that is
// busy resolving its own fault cannot give up a frame.
func lockOwners(f *Frame, held []*AddressSpace) (func(), bool) {
	var locked []*AddressSpace
	unlock := func() {
		for _, as := range locked {
			as.mu.Unlock()
		}
	}

	for _, ref := range f.pages {
		if containsAS(held, ref.as) || containsAS(locked, ref.as) {
			continue
		}
		if !ref.as.mu.TryLock() {
			unlock()
			return nil, false
		}
		locked = append(locked, ref.as)
	}
	return unlock, true
}

func containsAS(list []*AddressSpace, as *AddressSpace) bool {
	for _, x := range list {
		if x == as {
			return true
		}
	}
	return false
}
