package vm

import (
	"bytes"
	"os"
	"testing"
)

func TestForkCopiesResidentPages(t *testing.T) {
	m := newTestManager(t, 8, 16)
	parent := m.NewAddressSpace(nil)

	for i := uintptr(0); i < 3; i++ {
		if err := parent.AllocPage(PageAnon, testBase+i*PageSize, true); err != nil {
			t.Fatalf("AllocPage failed: %v", err)
		}
		if err := parent.WriteUser(testBase+i*PageSize, fillPage(byte('A'+i))); err != nil {
			t.Fatalf("WriteUser failed: %v", err)
		}
	}
	parent.SetStackPointer(0x47470000)

	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	if child.ID() == parent.ID() {
		t.Fatal("Child must get its own identifier")
	}
	if child.StackPointer() != 0x47470000 {
		t.Errorf("Expected stack pointer to be inherited, got %#x", child.StackPointer())
	}

	for i := uintptr(0); i < 3; i++ {
		got := make([]byte, PageSize)
		if err := child.ReadUser(testBase+i*PageSize, got); err != nil {
			t.Fatalf("Child ReadUser failed: %v", err)
		}
		if !bytes.Equal(got, fillPage(byte('A'+i))) {
			t.Errorf("Child page %d does not match parent", i)
		}
	}

	// Writes after the fork stay private
	if err := child.WriteUser(testBase, []byte("child")); err != nil {
		t.Fatalf("Child WriteUser failed: %v", err)
	}
	if err := parent.WriteUser(testBase+PageSize, []byte("parent")); err != nil {
		t.Fatalf("Parent WriteUser failed: %v", err)
	}

	buf := make([]byte, 6)
	parent.ReadUser(testBase, buf)
	if buf[0] != 'A' {
		t.Errorf("Child write leaked into parent: %q", buf)
	}
	child.ReadUser(testBase+PageSize, buf)
	if buf[0] != 'B' {
		t.Errorf("Parent write leaked into child: %q", buf)
	}

	if m.Metrics().GetForkCopies() != 1 {
		t.Errorf("Expected 1 fork, got %d", m.Metrics().GetForkCopies())
	}
}

func TestForkCopiesSwappedPages(t *testing.T) {
	m := newTestManager(t, 3, 32)
	parent := m.NewAddressSpace(nil)

	const pages = 6
	for i := uintptr(0); i < pages; i++ {
		if err := parent.AllocPage(PageAnon, testBase+i*PageSize, true); err != nil {
			t.Fatalf("AllocPage failed: %v", err)
		}
		if err := parent.WriteUser(testBase+i*PageSize, fillPage(byte(i+1))); err != nil {
			t.Fatalf("WriteUser failed: %v", err)
		}
	}
	if m.Swap().InUse() == 0 {
		t.Fatal("Expected some parent pages in swap before fork")
	}

	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}

	for _, as := range []*AddressSpace{child, parent} {
		for i := uintptr(0); i < pages; i++ {
			got := make([]byte, PageSize)
			if err := as.ReadUser(testBase+i*PageSize, got); err != nil {
				t.Fatalf("ReadUser failed: %v", err)
			}
			if !bytes.Equal(got, fillPage(byte(i+1))) {
				t.Errorf("Address space %d page %d corrupted by fork", as.ID(), i)
			}
		}
	}

	child.Destroy()
	parent.Destroy()
	if m.Swap().InUse() != 0 || m.Frames().Len() != 0 {
		t.Errorf("Expected everything released, slots=%d frames=%d", m.Swap().InUse(), m.Frames().Len())
	}
}

func TestForkKeepsPendingPagesPending(t *testing.T) {
	m := newTestManager(t, 4, 8)
	parent := m.NewAddressSpace(nil)

	path := writeTestFile(t, PageSize, func(i int) byte { return 's' })
	file := openTestFile(t, path)
	if err := parent.LoadSegment(file, 0, testBase, PageSize, 0, false); err != nil {
		t.Fatalf("LoadSegment failed: %v", err)
	}

	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}
	p := child.Lookup(testBase)
	if p == nil || p.Kind() != PageUninit || p.Resident() {
		t.Fatal("Expected child page to stay pending")
	}
	if p.Type() != PageAnon {
		t.Errorf("Expected eventual type anon, got %s", p.Type())
	}

	buf := make([]byte, 4)
	if err := child.ReadUser(testBase, buf); err != nil {
		t.Fatalf("Child ReadUser failed: %v", err)
	}
	if string(buf) != "ssss" {
		t.Errorf("Expected lazily loaded contents in child, got %q", buf)
	}
	if parent.Lookup(testBase).Resident() {
		t.Error("Loading in the child must not load the parent's page")
	}
}

func TestForkMappings(t *testing.T) {
	m := newTestManager(t, 8, 16)
	parent := m.NewAddressSpace(nil)

	path := writeTestFile(t, 2*PageSize, func(i int) byte { return '-' })
	file := openTestFile(t, path)
	if _, err := parent.Mmap(testBase, 2*PageSize, true, file, 0); err != nil {
		t.Fatalf("Mmap failed: %v", err)
	}
	if err := parent.WriteUser(testBase, []byte("P")); err != nil {
		t.Fatalf("WriteUser failed: %v", err)
	}

	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork failed: %v", err)
	}

	buf := make([]byte, 1)
	if err := child.ReadUser(testBase, buf); err != nil || buf[0] != 'P' {
		t.Fatalf("Expected child to see the parent's unsaved write, got %q (%v)", buf, err)
	}
	if err := child.WriteUser(testBase+PageSize, []byte("C")); err != nil {
		t.Fatalf("Child WriteUser failed: %v", err)
	}

	if err := parent.Munmap(testBase); err != nil {
		t.Fatalf("Parent Munmap failed: %v", err)
	}
	if child.PageCount() != 2 {
		t.Fatalf("Parent unmap must not touch the child, got %d pages", child.PageCount())
	}
	if err := child.Munmap(testBase); err != nil {
		t.Fatalf("Child Munmap failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if data[0] != 'P' || data[PageSize] != 'C' {
		t.Errorf("Expected both writes in file, got %q and %q", data[0], data[PageSize])
	}
}
