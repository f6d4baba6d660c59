package vm

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const testBase uintptr = 0x10000000

func newTestConfig(t *testing.T, frames uint32, slots uint64) *Config {
	t.Helper()
	config := DefaultConfig()
	config.FramePoolSize = frames
	config.SwapDevice = filepath.Join(t.TempDir(), "swap.dsk")
	config.SwapSectors = slots * SectorsPerSlot
	return config
}

func newTestManager(t *testing.T, frames uint32, slots uint64) *Manager {
	t.Helper()
	m, err := Open(newTestConfig(t, frames, slots))
	if err != nil {
		t.Fatalf("Failed to open manager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// writeTestFile creates a file of size bytes where byte i is fill(i)
func writeTestFile(t *testing.T, size int, fill func(i int) byte) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = fill(i)
	}
	path := filepath.Join(t.TempDir(), "data.bin")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func openTestFile(t *testing.T, path string) *OSFile {
	t.Helper()
	f, err := OpenFile(path, os.O_RDWR)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// countingFile counts writes and closes made through it and through its
// reopened handles
type countingFile struct {
	File
	mu     *sync.Mutex
	writes *[]int64
	closes *int
}

func newCountingFile(f File) *countingFile {
	return &countingFile{File: f, mu: &sync.Mutex{}, writes: &[]int64{}, closes: new(int)}
}

func (c *countingFile) WriteAt(buf []byte, offset int64) (int, error) {
	c.mu.Lock()
	*c.writes = append(*c.writes, offset)
	c.mu.Unlock()
	return c.File.WriteAt(buf, offset)
}

func (c *countingFile) Reopen() (File, error) {
	f, err := c.File.Reopen()
	if err != nil {
		return nil, err
	}
	return &countingFile{File: f, mu: c.mu, writes: c.writes, closes: c.closes}, nil
}

func (c *countingFile) Close() error {
	c.mu.Lock()
	*c.closes++
	c.mu.Unlock()
	return c.File.Close()
}

func (c *countingFile) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.closes
}

func (c *countingFile) writeOffsets() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), *c.writes...)
}

// memBlockDevice is an in-memory BlockDevice that logs sector access order
type memBlockDevice struct {
	mu      sync.Mutex
	sectors [][]byte
	reads   []uint64
	writes  []uint64
}

func newMemBlockDevice(sectors uint64) *memBlockDevice {
	d := &memBlockDevice{sectors: make([][]byte, sectors)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, SectorSize)
	}
	return d
}

func (d *memBlockDevice) ReadSector(index uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads = append(d.reads, index)
	copy(buf, d.sectors[index])
	return nil
}

func (d *memBlockDevice) WriteSector(index uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, index)
	copy(d.sectors[index], buf)
	return nil
}

func (d *memBlockDevice) SectorCount() uint64 {
	return uint64(len(d.sectors))
}

var errInjectedWrite = errors.New("injected sector write failure")

// flakyBlockDevice fails every sector write while failWrites is set
type flakyBlockDevice struct {
	*memBlockDevice
	failWrites bool
}

func (d *flakyBlockDevice) WriteSector(index uint64, buf []byte) error {
	if d.failWrites {
		return errInjectedWrite
	}
	return d.memBlockDevice.WriteSector(index, buf)
}

// refusingPageTable turns down the next SetMapping once refuseNext is set
type refusingPageTable struct {
	*SoftPageTable
	refuseNext bool
}

func (pt *refusingPageTable) SetMapping(va uintptr, pa PhysAddr, writable bool) bool {
	if pt.refuseNext {
		pt.refuseNext = false
		return false
	}
	return pt.SoftPageTable.SetMapping(va, pa, writable)
}

func fillPage(b byte) []byte {
	page := make([]byte, PageSize)
	for i := range page {
		page[i] = b
	}
	return page
}
