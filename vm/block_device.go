package vm

import (
	"fmt"
	"os"
	"sync"
)

// FileBlockDevice exposes a regular file as a sector-addressed block device
type FileBlockDevice struct {
	file    *os.File
	sectors uint64
	mutex   sync.Mutex
}

// NewFileBlockDevice opens (or creates) fileName and sizes it to hold the
// given number of sectors
func NewFileBlockDevice(fileName string, sectors uint64) (*FileBlockDevice, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create file %s: %w", fileName, err)
	}

	if err := file.Truncate(int64(sectors) * SectorSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to size block device %s: %w", fileName, err)
	}

	return &FileBlockDevice{
		file:    file,
		sectors: sectors,
	}, nil
}

// ReadSector reads one sector into buf
func (bd *FileBlockDevice) ReadSector(index uint64, buf []byte) error {
	if err := bd.check(index, buf); err != nil {
		return err
	}

	bd.mutex.Lock()
	defer bd.mutex.Unlock()

	_, err := bd.file.ReadAt(buf[:SectorSize], int64(index)*SectorSize)
	if err != nil {
		return fmt.Errorf("failed to read sector %d: %w", index, err)
	}
	return nil
}

// WriteSector writes one sector from buf
func (bd *FileBlockDevice) WriteSector(index uint64, buf []byte) error {
	if err := bd.check(index, buf); err != nil {
		return err
	}

	bd.mutex.Lock()
	defer bd.mutex.Unlock()

	_, err := bd.file.WriteAt(buf[:SectorSize], int64(index)*SectorSize)
	if err != nil {
		return fmt.Errorf("failed to write sector %d: %w", index, err)
	}
	return nil
}

// SectorCount returns the device size in sectors
func (bd *FileBlockDevice) SectorCount() uint64 {
	return bd.sectors
}

// Sync flushes written sectors to stable storage
func (bd *FileBlockDevice) Sync() error {
	bd.mutex.Lock()
	defer bd.mutex.Unlock()
	return bd.file.Sync()
}

// Close closes the underlying file
func (bd *FileBlockDevice) Close() error {
	if bd.file != nil {
		return bd.file.Close()
	}
	return nil
}

func (bd *FileBlockDevice) check(index uint64, buf []byte) error {
	if index >= bd.sectors {
		return fmt.Errorf("sector %d out of range (device has %d)", index, bd.sectors)
	}
	if len(buf) < SectorSize {
		return fmt.Errorf("sector buffer must be at least %d bytes, got %d", SectorSize, len(buf))
	}
	return nil
}
