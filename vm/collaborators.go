package vm

// PhysAddr is the physical address of a frame-sized page of memory.
type PhysAddr uintptr

// PhysicalMemory hands out raw physical pages to the VM subsystem.
type PhysicalMemory interface {
	// GetZeroedPage returns a zero-filled page, or false if the pool is empty.
	GetZeroedPage() (PhysAddr, bool)
	// FreePage returns a page obtained from GetZeroedPage.
	FreePage(pa PhysAddr)
	// Bytes is the kernel's view of the page at pa, PageSize bytes long.
	Bytes(pa PhysAddr) []byte
}

// BlockDevice is a sector-addressed device. Buffers are SectorSize bytes.
type BlockDevice interface {
	ReadSector(index uint64, buf []byte) error
	WriteSector(index uint64, buf []byte) error
	SectorCount() uint64
}

// File is the filesystem's open-file handle. Callers serialise access
// through the manager's filesystem lock.
type File interface {
	Seek(offset int64) error
	Read(buf []byte) (int, error)
	WriteAt(buf []byte, offset int64) (int, error)
	// Reopen returns an independent handle to the same file.
	Reopen() (File, error)
	Length() int64
	Close() error
}

// PageTable is one address space's hardware page table.
type PageTable interface {
	SetMapping(va uintptr, pa PhysAddr, writable bool) bool
	ClearMapping(va uintptr)
	GetMapping(va uintptr) (PhysAddr, bool)
	IsWritable(va uintptr) bool
	IsDirty(va uintptr) bool
	SetDirty(va uintptr, dirty bool)
	IsAccessed(va uintptr) bool
	SetAccessed(va uintptr, accessed bool)
}

// Scheduler reports which address space the running thread belongs to.
type Scheduler interface {
	CurrentAddressSpace() *AddressSpace
}
