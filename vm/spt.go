package vm

import (
	"github.com/benbjohnson/immutable"
)

type vaComparer struct{}

func (vaComparer) Compare(a, b uintptr) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SupplementalPageTable maps page-aligned virtual addresses to pages for one
// address space. It is ordered, so range overlap checks and teardown walks
// visit pages by address. Callers hold the owning address space's lock.
//
// The map is persistent: Range and DestroyAll walk a snapshot and stay valid
// while the table is modified underneath them.
type SupplementalPageTable struct {
	pages *immutable.SortedMap[uintptr, *Page]
}

// NewSupplementalPageTable creates an empty table
func NewSupplementalPageTable() *SupplementalPageTable {
	return &SupplementalPageTable{
		pages: immutable.NewSortedMap[uintptr, *Page](vaComparer{}),
	}
}

// Find returns the page containing va, or nil
func (spt *SupplementalPageTable) Find(va uintptr) *Page {
	p, ok := spt.pages.Get(pageRoundDown(va))
	if !ok {
		return nil
	}
	return p
}

// Insert registers p. It returns false, leaving the table unchanged, if a
// page already occupies p's address.
func (spt *SupplementalPageTable) Insert(p *Page) bool {
	if _, ok := spt.pages.Get(p.va); ok {
		return false
	}
	spt.pages = spt.pages.Set(p.va, p)
	return true
}

// Remove unregisters p and destroys it
func (spt *SupplementalPageTable) Remove(p *Page) error {
	cur, ok := spt.pages.Get(p.va)
	if !ok || cur != p {
		return ErrPageNotFound("SupplementalPageTable.Remove", p.va)
	}
	spt.pages = spt.pages.Delete(p.va)
	p.destroy()
	return nil
}

// DestroyAll destroys every page, releasing their frames and swap slots.
// Mappings of resident pages are cleared one by one; dropping the page table
// itself is the caller's job.
func (spt *SupplementalPageTable) DestroyAll() {
	snapshot := spt.pages
	spt.pages = immutable.NewSortedMap[uintptr, *Page](vaComparer{})

	itr := snapshot.Iterator()
	for !itr.Done() {
		_, p, ok := itr.Next()
		if !ok {
			break
		}
		p.destroy()
	}
}

// Len returns the number of registered pages
func (spt *SupplementalPageTable) Len() int {
	return spt.pages.Len()
}

// Range calls fn for each page in address order until fn returns false
func (spt *SupplementalPageTable) Range(fn func(p *Page) bool) {
	itr := spt.pages.Iterator()
	for !itr.Done() {
		_, p, ok := itr.Next()
		if !ok || !fn(p) {
			return
		}
	}
}

// overlaps reports whether any page lies in [start, end)
func (spt *SupplementalPageTable) overlaps(start, end uintptr) bool {
	itr := spt.pages.Iterator()
	itr.Seek(start)
	if itr.Done() {
		return false
	}
	va, _, ok := itr.Next()
	return ok && va < end
}
