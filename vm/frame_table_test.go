package vm

import (
	"bytes"
	"testing"
)

func touch(t *testing.T, as *AddressSpace, va uintptr) {
	t.Helper()
	buf := make([]byte, 1)
	if err := as.ReadUser(va, buf); err != nil {
		t.Fatalf("ReadUser(%#x) failed: %v", va, err)
	}
}

func TestResidentFramesBoundedByPool(t *testing.T) {
	const frames = 4
	m := newTestManager(t, frames, 64)
	as := m.NewAddressSpace(nil)

	const pages = 10
	for i := uintptr(0); i < pages; i++ {
		va := testBase + i*PageSize
		if err := as.AllocPage(PageAnon, va, true); err != nil {
			t.Fatalf("AllocPage failed: %v", err)
		}
		if err := as.WriteUser(va, fillPage(byte(i+1))); err != nil {
			t.Fatalf("WriteUser page %d failed: %v", i, err)
		}
		if n := m.Frames().Len(); n > frames {
			t.Fatalf("%d frames resident with a pool of %d", n, frames)
		}
	}

	for round := 0; round < 2; round++ {
		for i := uintptr(0); i < pages; i++ {
			got := make([]byte, PageSize)
			if err := as.ReadUser(testBase+i*PageSize, got); err != nil {
				t.Fatalf("ReadUser page %d failed: %v", i, err)
			}
			if !bytes.Equal(got, fillPage(byte(i+1))) {
				t.Fatalf("Page %d lost its contents across eviction", i)
			}
			if n := m.Frames().Len(); n > frames {
				t.Fatalf("%d frames resident with a pool of %d", n, frames)
			}
		}
	}

	if m.Metrics().GetEvictions() == 0 || m.Metrics().GetSwapOuts() == 0 || m.Metrics().GetSwapIns() == 0 {
		t.Errorf("Expected evictions and swap traffic, got evictions=%d outs=%d ins=%d",
			m.Metrics().GetEvictions(), m.Metrics().GetSwapOuts(), m.Metrics().GetSwapIns())
	}
}

func TestClockGivesSecondChance(t *testing.T) {
	m := newTestManager(t, 3, 16)
	as := m.NewAddressSpace(nil)

	va := func(i uintptr) uintptr { return testBase + i*PageSize }
	for i := uintptr(0); i < 5; i++ {
		if err := as.AllocPage(PageAnon, va(i), true); err != nil {
			t.Fatalf("AllocPage failed: %v", err)
		}
	}

	// A, B, C fill the pool with their accessed bits set
	touch(t, as, va(0))
	touch(t, as, va(1))
	touch(t, as, va(2))

	// D: one sweep clears every bit, then A is forced out
	touch(t, as, va(3))
	if as.Lookup(va(0)).Resident() {
		t.Fatal("Expected A to be evicted first")
	}

	// B is referenced again, so E takes C
	touch(t, as, va(1))
	touch(t, as, va(4))

	if !as.Lookup(va(1)).Resident() {
		t.Error("Expected recently used B to survive")
	}
	if as.Lookup(va(2)).Resident() {
		t.Error("Expected unreferenced C to be evicted")
	}
	if _, ok := as.pt.GetMapping(va(2)); ok {
		t.Error("Expected evicted page to lose its mapping")
	}
}

func TestClockSkipsKernelFrames(t *testing.T) {
	m := newTestManager(t, 1, 8)
	as := m.NewAddressSpace(nil)

	ft := NewFrameTable(m.phys, uintptr(DefaultKernelBase), nil, nil)
	ft.ring = []*Frame{{
		id:    1,
		pages: []pageRef{{as: as, va: uintptr(DefaultKernelBase) + PageSize}},
	}}

	if f, _ := ft.pickVictim(nil); f != nil {
		t.Error("Expected kernel frame never to be chosen")
	}
}

func TestEvictionSkipsBusyAddressSpace(t *testing.T) {
	m := newTestManager(t, 2, 16)
	busy := m.NewAddressSpace(nil)
	other := m.NewAddressSpace(nil)

	for i := uintptr(0); i < 2; i++ {
		va := testBase + i*PageSize
		if err := busy.AllocPage(PageAnon, va, true); err != nil {
			t.Fatalf("AllocPage failed: %v", err)
		}
		if err := busy.ClaimPage(va); err != nil {
			t.Fatalf("ClaimPage failed: %v", err)
		}
	}
	if err := other.AllocPage(PageAnon, testBase, true); err != nil {
		t.Fatalf("AllocPage failed: %v", err)
	}

	// A resolution in flight holds the address space lock
	busy.mu.Lock()
	ok := other.HandleFault(testBase, true, true, true)
	busy.mu.Unlock()
	if ok {
		t.Fatal("Expected fault to fail while every frame's owner is busy")
	}
	if other.Lookup(testBase).Resident() {
		t.Fatal("Failed claim must leave the page non-resident")
	}

	if !other.HandleFault(testBase, true, true, true) {
		t.Fatal("Expected fault to succeed once the owner is idle")
	}
	if m.Frames().Len() != 2 {
		t.Errorf("Expected 2 frames in use, got %d", m.Frames().Len())
	}
}

func TestSwapExhaustionPanics(t *testing.T) {
	m := newTestManager(t, 2, 1)
	as := m.NewAddressSpace(nil)

	for i := uintptr(0); i < 4; i++ {
		if err := as.AllocPage(PageAnon, testBase+i*PageSize, true); err != nil {
			t.Fatalf("AllocPage failed: %v", err)
		}
	}

	touch(t, as, testBase)
	touch(t, as, testBase+PageSize)
	touch(t, as, testBase+2*PageSize) // the only slot is used here

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Expected panic when swap is exhausted")
		}
		err, ok := r.(error)
		if !ok || !IsErrorCode(err, ErrCodeSwapExhausted) {
			t.Errorf("Expected swap exhausted panic, got %v", r)
		}
	}()
	as.HandleFault(testBase+3*PageSize, true, false, true)
}

func TestFailedSwapWriteReleasesSlot(t *testing.T) {
	pool, err := NewPhysicalPool(1)
	if err != nil {
		t.Fatalf("Failed to create physical pool: %v", err)
	}
	defer pool.Close()

	dev := &flakyBlockDevice{memBlockDevice: newMemBlockDevice(4 * SectorsPerSlot)}
	m, err := NewManager(newTestConfig(t, 1, 4), pool, dev)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	as := m.NewAddressSpace(nil)

	a, b := testBase, testBase+PageSize
	for _, va := range []uintptr{a, b} {
		if err := as.AllocPage(PageAnon, va, true); err != nil {
			t.Fatalf("AllocPage failed: %v", err)
		}
	}
	if err := as.WriteUser(a, fillPage(0x3C)); err != nil {
		t.Fatalf("WriteUser failed: %v", err)
	}

	dev.failWrites = true
	if err := as.ReadUser(b, make([]byte, 1)); err == nil {
		t.Fatal("Expected the fault to fail when swap writes fail")
	}
	if got := m.Swap().InUse(); got != 0 {
		t.Errorf("Expected the slot to be released after a failed write, got %d in use", got)
	}
	if !as.Lookup(a).Resident() {
		t.Error("Victim must stay resident when its write-out fails")
	}

	dev.failWrites = false
	touch(t, as, b)
	got := make([]byte, PageSize)
	if err := as.ReadUser(a, got); err != nil {
		t.Fatalf("ReadUser failed: %v", err)
	}
	if !bytes.Equal(got, fillPage(0x3C)) {
		t.Error("Victim lost its contents after a failed write-out")
	}
}
