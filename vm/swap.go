package vm

import (
	"math/bits"
	"sync"
)

// SwapTable allocates page-sized slots on a swap block device. Slot i lives
// in sectors [i*SectorsPerSlot, (i+1)*SectorsPerSlot). Occupancy is kept only
// in memory; swap contents mean nothing across a restart.
type SwapTable struct {
	mu       sync.Mutex
	dev      BlockDevice
	used     []uint64 // one bit per slot, set = occupied
	packed   []uint64 // one bit per slot, set = slot holds a compressed image
	numSlots uint32
	inUse    uint32
	freeHint uint32
	codec    CompressionType
	metrics  *Metrics
}

// NewSwapTable creates a slot allocator over every whole slot of dev
func NewSwapTable(dev BlockDevice, codec CompressionType) *SwapTable {
	numSlots := uint32(dev.SectorCount() / SectorsPerSlot)
	numWords := (numSlots + 63) / 64
	return &SwapTable{
		dev:      dev,
		used:     make([]uint64, numWords),
		packed:   make([]uint64, numWords),
		numSlots: numSlots,
		codec:    codec,
	}
}

// AllocSlot finds a free slot, marks it occupied and returns its index.
func (st *SwapTable) AllocSlot() (uint32, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	numWords := uint32(len(st.used))
	startWord := st.freeHint / 64
	for i := uint32(0); i < numWords; i++ {
		wordIdx := (startWord + i) % numWords
		word := st.used[wordIdx]
		if word == ^uint64(0) {
			continue
		}

		bitPos := bits.TrailingZeros64(^word)
		slot := wordIdx*64 + uint32(bitPos)
		if slot >= st.numSlots {
			// Tail bits of the last word are not real slots
			continue
		}

		st.used[wordIdx] |= 1 << bitPos
		st.inUse++
		st.freeHint = slot + 1
		if st.freeHint >= st.numSlots {
			st.freeHint = 0
		}
		return slot, nil
	}

	return 0, ErrSwapExhausted("AllocSlot")
}

// FreeSlot marks slot free. Freeing a free slot is a caller error.
func (st *SwapTable) FreeSlot(slot uint32) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if slot >= st.numSlots || !testBit(st.used, slot) {
		return ErrInvalidSlot("FreeSlot", slot)
	}

	clearBit(st.used, slot)
	clearBit(st.packed, slot)
	st.inUse--
	return nil
}

// Write stores one page in slot, sector by sector
func (st *SwapTable) Write(slot uint32, page []byte) error {
	if len(page) != PageSize {
		return ErrShortTransfer("SwapTable.Write", PageSize, len(page))
	}
	if !st.isAllocated(slot) {
		return ErrInvalidSlot("SwapTable.Write", slot)
	}

	image, cp, err := st.encode(page)
	if err != nil {
		return ErrIOFailure("SwapTable.Write", err)
	}

	base := uint64(slot) * SectorsPerSlot
	for i := uint64(0); i < SectorsPerSlot; i++ {
		sector := image[i*SectorSize : (i+1)*SectorSize]
		if err := st.dev.WriteSector(base+i, sector); err != nil {
			return ErrIOFailure("SwapTable.Write", err)
		}
	}

	st.mu.Lock()
	if cp != nil {
		setBit(st.packed, slot)
	} else {
		clearBit(st.packed, slot)
	}
	st.mu.Unlock()

	if cp != nil && st.metrics != nil {
		st.metrics.RecordCompressedSwapOut(cp.GetCompressionRatio())
	}

	return nil
}

// Read loads the page stored in slot into page, sector by sector
func (st *SwapTable) Read(slot uint32, page []byte) error {
	if len(page) != PageSize {
		return ErrShortTransfer("SwapTable.Read", PageSize, len(page))
	}

	st.mu.Lock()
	allocated := slot < st.numSlots && testBit(st.used, slot)
	packed := allocated && testBit(st.packed, slot)
	st.mu.Unlock()
	if !allocated {
		return ErrInvalidSlot("SwapTable.Read", slot)
	}

	image := page
	if packed {
		image = make([]byte, PageSize)
	}

	base := uint64(slot) * SectorsPerSlot
	for i := uint64(0); i < SectorsPerSlot; i++ {
		sector := image[i*SectorSize : (i+1)*SectorSize]
		if err := st.dev.ReadSector(base+i, sector); err != nil {
			return ErrIOFailure("SwapTable.Read", err)
		}
	}

	if !packed {
		return nil
	}

	cp, err := DeserializeCompressedPage(image)
	if err != nil {
		return ErrIOFailure("SwapTable.Read", err)
	}
	data, err := DecompressPage(cp)
	if err != nil {
		return ErrIOFailure("SwapTable.Read", err)
	}
	copy(page, data)
	return nil
}

// SlotCount returns the total number of slots on the device
func (st *SwapTable) SlotCount() uint32 {
	return st.numSlots
}

// InUse returns the number of occupied slots
func (st *SwapTable) InUse() uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inUse
}

// IsAllocated reports whether slot is occupied
func (st *SwapTable) IsAllocated(slot uint32) bool {
	return st.isAllocated(slot)
}

func (st *SwapTable) isAllocated(slot uint32) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return slot < st.numSlots && testBit(st.used, slot)
}

// encode returns the slot image for page. cp is nil when the page is
// stored raw.
func (st *SwapTable) encode(page []byte) (image []byte, cp *CompressedPage, err error) {
	if st.codec == CompressionNone {
		return page, nil, nil
	}

	cp, err = CompressPage(page, st.codec)
	if err != nil {
		return nil, nil, err
	}
	if cp.CompressionType == CompressionNone || !cp.FitsInSlot() {
		return page, nil, nil
	}

	image, err = SerializeCompressedPage(cp)
	if err != nil {
		return nil, nil, err
	}
	return image, cp, nil
}

func testBit(words []uint64, i uint32) bool {
	return words[i/64]&(1<<(i%64)) != 0
}

func setBit(words []uint64, i uint32) {
	words[i/64] |= 1 << (i % 64)
}

func clearBit(words []uint64, i uint32) {
	words[i/64] &^= 1 << (i % 64)
}
