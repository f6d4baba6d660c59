package vm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Manager owns the state shared by every address space: the frame table,
// the swap table and the filesystem lock.
type Manager struct {
	config  *Config
	phys    PhysicalMemory
	frames  *FrameTable
	swap    *SwapTable
	sched   Scheduler
	metrics *Metrics
	logger  *slog.Logger

	// fsLock serialises every file seek, read and write
	fsLock sync.Mutex

	nextASID atomic.Uint64
	closers  []io.Closer
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger; by default nothing is logged
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithScheduler sets the scheduler used by Resolve
func WithScheduler(sched Scheduler) Option {
	return func(m *Manager) {
		m.sched = sched
	}
}

// WithMetrics shares an existing metrics tracker
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a manager over the given physical memory and swap
// device
func NewManager(config *Config, phys PhysicalMemory, swapDev BlockDevice, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, NewVMError(ErrCodeInvalidConfig, "NewManager", "invalid configuration", err)
	}
	codec, err := ParseCompressionType(config.SwapCompression)
	if err != nil {
		return nil, NewVMError(ErrCodeInvalidConfig, "NewManager", "invalid configuration", err)
	}

	m := &Manager{
		config: config.Clone(),
		phys:   phys,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = discardLogger()
	}
	if m.metrics == nil {
		m.metrics = NewMetrics()
	}
	m.logger = m.logger.With("component", "vm")

	m.frames = NewFrameTable(phys, uintptr(config.KernelBase), m.metrics,
		m.logger.With("subsystem", "frames"))
	m.swap = NewSwapTable(swapDev, codec)
	m.swap.metrics = m.metrics

	m.logger.Info("virtual memory initialized",
		"swap_slots", m.swap.SlotCount(),
		"swap_compression", codec.String(),
		"user_stack_top", fmt.Sprintf("%#x", config.UserStackTop))

	return m, nil
}

// Open builds a manager from configuration alone: an mmap-backed physical
// pool of FramePoolSize frames and a file-backed swap device.
func Open(config *Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, NewVMError(ErrCodeInvalidConfig, "Open", "invalid configuration", err)
	}

	pool, err := NewPhysicalPool(config.FramePoolSize)
	if err != nil {
		return nil, NewVMError(ErrCodeAllocationFailure, "Open", "failed to map physical pool", err)
	}
	dev, err := NewFileBlockDevice(config.SwapDevice, config.SwapSectors)
	if err != nil {
		pool.Close()
		return nil, ErrIOFailure("Open", err)
	}

	m, err := NewManager(config, pool, dev, opts...)
	if err != nil {
		dev.Close()
		pool.Close()
		return nil, err
	}
	m.closers = append(m.closers, dev, pool)
	return m, nil
}

// NewAddressSpace creates an empty address space. A nil page table gets a
// software page table.
func (m *Manager) NewAddressSpace(pt PageTable) *AddressSpace {
	if pt == nil {
		pt = NewSoftPageTable()
	}
	id := m.nextASID.Add(1)
	return &AddressSpace{
		id:           id,
		vm:           m,
		pt:           pt,
		spt:          NewSupplementalPageTable(),
		regions:      make(map[uintptr]*mmapRegion),
		stackPointer: m.stackTop(),
		logger:       m.logger.With("asid", id),
	}
}

// Resolve handles a page fault for the address space the scheduler reports
// as current
func (m *Manager) Resolve(addr uintptr, user, write, notPresent bool) bool {
	if m.sched == nil {
		m.logger.Error("fault with no scheduler", "addr", addr)
		return false
	}
	as := m.sched.CurrentAddressSpace()
	if as == nil {
		m.metrics.RecordInvalidFault()
		return false
	}
	return as.HandleFault(addr, user, write, notPresent)
}

// Config returns a copy of the manager's configuration
func (m *Manager) Config() *Config {
	return m.config.Clone()
}

func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

func (m *Manager) Frames() *FrameTable {
	return m.frames
}

func (m *Manager) Swap() *SwapTable {
	return m.swap
}

// Close releases resources created by Open. Address spaces must be
// destroyed first.
func (m *Manager) Close() error {
	if m.config.EnableMetrics {
		m.metrics.LogMetrics(m.logger)
	}

	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func (m *Manager) isKernelAddr(va uintptr) bool {
	return uint64(va) >= m.config.KernelBase
}

func (m *Manager) stackTop() uintptr {
	return uintptr(m.config.UserStackTop)
}

// readFile fills buf from file at offset; anything short of len(buf) is an
// error
func (m *Manager) readFile(file File, offset int64, buf []byte) error {
	m.fsLock.Lock()
	defer m.fsLock.Unlock()

	if err := file.Seek(offset); err != nil {
		return ErrIOFailure("readFile", err)
	}
	n, err := file.Read(buf)
	if err != nil {
		return ErrIOFailure("readFile", err)
	}
	if n != len(buf) {
		return ErrShortTransfer("readFile", len(buf), n)
	}
	return nil
}

func (m *Manager) writeFile(file File, offset int64, buf []byte) error {
	m.fsLock.Lock()
	defer m.fsLock.Unlock()

	n, err := file.WriteAt(buf, offset)
	if err != nil {
		return ErrIOFailure("writeFile", err)
	}
	if n != len(buf) {
		return ErrShortTransfer("writeFile", len(buf), n)
	}
	return nil
}

func (m *Manager) reopenFile(file File) (File, error) {
	m.fsLock.Lock()
	defer m.fsLock.Unlock()

	f, err := file.Reopen()
	if err != nil {
		return nil, ErrIOFailure("reopenFile", err)
	}
	return f, nil
}

func (m *Manager) fileLength(file File) int64 {
	m.fsLock.Lock()
	defer m.fsLock.Unlock()
	return file.Length()
}

func (m *Manager) closeFile(file File) {
	m.fsLock.Lock()
	defer m.fsLock.Unlock()

	if err := file.Close(); err != nil {
		m.logger.Warn("failed to close mapped file", "error", err)
	}
}
