package vm

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSwapAllocFree(t *testing.T) {
	st := NewSwapTable(newMemBlockDevice(4*SectorsPerSlot), CompressionNone)

	if st.SlotCount() != 4 {
		t.Fatalf("Expected 4 slots, got %d", st.SlotCount())
	}

	seen := make(map[uint32]bool)
	for i := 0; i < 4; i++ {
		slot, err := st.AllocSlot()
		if err != nil {
			t.Fatalf("AllocSlot %d failed: %v", i, err)
		}
		if seen[slot] {
			t.Fatalf("Slot %d handed out twice", slot)
		}
		seen[slot] = true
	}

	_, err := st.AllocSlot()
	if !IsErrorCode(err, ErrCodeSwapExhausted) {
		t.Fatalf("Expected swap exhausted, got %v", err)
	}

	if err := st.FreeSlot(2); err != nil {
		t.Fatalf("FreeSlot failed: %v", err)
	}
	slot, err := st.AllocSlot()
	if err != nil {
		t.Fatalf("AllocSlot after free failed: %v", err)
	}
	if slot != 2 {
		t.Errorf("Expected freed slot 2 to be reused, got %d", slot)
	}
	if st.InUse() != 4 {
		t.Errorf("Expected 4 slots in use, got %d", st.InUse())
	}
}

func TestSwapFreeUnallocatedSlot(t *testing.T) {
	st := NewSwapTable(newMemBlockDevice(2*SectorsPerSlot), CompressionNone)

	if err := st.FreeSlot(0); !IsErrorCode(err, ErrCodeInvalidSlot) {
		t.Errorf("Expected invalid slot freeing a free slot, got %v", err)
	}
	if err := st.FreeSlot(99); !IsErrorCode(err, ErrCodeInvalidSlot) {
		t.Errorf("Expected invalid slot freeing out of range, got %v", err)
	}
}

func TestSwapSlotSectorLayout(t *testing.T) {
	dev := newMemBlockDevice(3 * SectorsPerSlot)
	st := NewSwapTable(dev, CompressionNone)

	st.AllocSlot()
	slot, _ := st.AllocSlot()
	if slot != 1 {
		t.Fatalf("Expected slot 1, got %d", slot)
	}

	if err := st.Write(slot, fillPage(0xAB)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := []uint64{8, 9, 10, 11, 12, 13, 14, 15}
	if len(dev.writes) != len(want) {
		t.Fatalf("Expected %d sector writes, got %v", len(want), dev.writes)
	}
	for i, s := range want {
		if dev.writes[i] != s {
			t.Errorf("Sector write %d: got %d, want %d", i, dev.writes[i], s)
		}
	}
	for s := 0; s < SectorsPerSlot; s++ {
		if dev.sectors[s][0] != 0 {
			t.Errorf("Slot 0 sector %d was touched", s)
		}
	}
}

func TestSwapRoundTrip(t *testing.T) {
	codecs := []CompressionType{CompressionNone, CompressionLZ4, CompressionSnappy}

	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			dev, err := NewFileBlockDevice(filepath.Join(t.TempDir(), "swap.dsk"), 4*SectorsPerSlot)
			if err != nil {
				t.Fatalf("Failed to create block device: %v", err)
			}
			defer dev.Close()

			st := NewSwapTable(dev, codec)
			pages := [][]byte{patternPage(), randomPage(7), fillPage(0)}

			slots := make([]uint32, len(pages))
			for i, page := range pages {
				slots[i], err = st.AllocSlot()
				if err != nil {
					t.Fatalf("AllocSlot failed: %v", err)
				}
				if err := st.Write(slots[i], page); err != nil {
					t.Fatalf("Write failed: %v", err)
				}
			}

			for i, page := range pages {
				got := make([]byte, PageSize)
				if err := st.Read(slots[i], got); err != nil {
					t.Fatalf("Read failed: %v", err)
				}
				if !bytes.Equal(got, page) {
					t.Errorf("Page %d changed across swap round trip", i)
				}
			}
		})
	}
}

func TestSwapRejectsBadTransfers(t *testing.T) {
	st := NewSwapTable(newMemBlockDevice(SectorsPerSlot), CompressionNone)

	if err := st.Write(0, fillPage(1)); !IsErrorCode(err, ErrCodeInvalidSlot) {
		t.Errorf("Expected invalid slot writing an unallocated slot, got %v", err)
	}

	slot, _ := st.AllocSlot()
	if err := st.Write(slot, make([]byte, 100)); !IsErrorCode(err, ErrCodeShortTransfer) {
		t.Errorf("Expected short transfer for a partial page, got %v", err)
	}
	if err := st.Read(slot, make([]byte, 100)); !IsErrorCode(err, ErrCodeShortTransfer) {
		t.Errorf("Expected short transfer for a partial page, got %v", err)
	}
}

func TestSwapDeviceSmallerThanSlot(t *testing.T) {
	st := NewSwapTable(newMemBlockDevice(SectorsPerSlot-1), CompressionNone)

	if st.SlotCount() != 0 {
		t.Fatalf("Expected 0 slots, got %d", st.SlotCount())
	}
	if _, err := st.AllocSlot(); !IsErrorCode(err, ErrCodeSwapExhausted) {
		t.Errorf("Expected swap exhausted, got %v", err)
	}
}
