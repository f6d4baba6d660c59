package vm

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

const (
	// PageSize is the size of a virtual page and of a physical frame.
	PageSize = 4096
	// SectorSize is the size of one block device sector.
	SectorSize = 512
	// SectorsPerSlot is the number of sectors backing one swap slot.
	SectorsPerSlot = PageSize / SectorSize

	DefaultUserStackTop = 0x47480000
	DefaultKernelBase   = 0x8004000000
	DefaultMaxStackSize = 1 << 20
)

// Config holds virtual memory subsystem configuration
type Config struct {
	// Physical memory
	FramePoolSize uint32 `json:"frame_pool_size"` // Number of physical frames available to user pages

	// Swap
	SwapDevice      string `json:"swap_device"`      // Path of the file acting as the swap block device
	SwapSectors     uint64 `json:"swap_sectors"`     // Size of the swap device in sectors
	SwapCompression string `json:"swap_compression"` // Slot compression (none, lz4, snappy)

	// Address space layout
	UserStackTop uint64 `json:"user_stack_top"` // Highest user stack address (exclusive)
	MaxStackSize uint64 `json:"max_stack_size"` // Maximum size the stack may grow to
	KernelBase   uint64 `json:"kernel_base"`    // First kernel virtual address

	// Observability
	EnableMetrics bool   `json:"enable_metrics"` // Whether to collect metrics
	LogLevel      string `json:"log_level"`      // Log level (debug, info, warn, error)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		FramePoolSize:   64,
		SwapDevice:      "./swap.dsk",
		SwapSectors:     8 * 1024, // 1024 slots, 4 MiB
		SwapCompression: "none",
		UserStackTop:    DefaultUserStackTop,
		MaxStackSize:    DefaultMaxStackSize,
		KernelBase:      DefaultKernelBase,
		EnableMetrics:   true,
		LogLevel:        "info",
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigFromEnv loads configuration from environment variables
// Falls back to default values if environment variables are not set
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()

	if val := os.Getenv("HEXVM_FRAME_POOL_SIZE"); val != "" {
		if size, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.FramePoolSize = uint32(size)
		}
	}

	// Swap
	if val := os.Getenv("HEXVM_SWAP_DEVICE"); val != "" {
		config.SwapDevice = val
	}

	if val := os.Getenv("HEXVM_SWAP_SECTORS"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			config.SwapSectors = n
		}
	}

	if val := os.Getenv("HEXVM_SWAP_COMPRESSION"); val != "" {
		config.SwapCompression = val
	}

	// Layout, accepts 0x-prefixed values
	if val := os.Getenv("HEXVM_USER_STACK_TOP"); val != "" {
		if n, err := strconv.ParseUint(val, 0, 64); err == nil {
			config.UserStackTop = n
		}
	}

	if val := os.Getenv("HEXVM_MAX_STACK_SIZE"); val != "" {
		if n, err := strconv.ParseUint(val, 0, 64); err == nil {
			config.MaxStackSize = n
		}
	}

	if val := os.Getenv("HEXVM_KERNEL_BASE"); val != "" {
		if n, err := strconv.ParseUint(val, 0, 64); err == nil {
			config.KernelBase = n
		}
	}

	if val := os.Getenv("HEXVM_ENABLE_METRICS"); val != "" {
		config.EnableMetrics = val == "true" || val == "1"
	}

	if val := os.Getenv("HEXVM_LOG_LEVEL"); val != "" {
		config.LogLevel = val
	}

	return config
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(path, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.FramePoolSize == 0 {
		return fmt.Errorf("frame pool size must be greater than 0")
	}

	if c.SwapDevice == "" {
		return fmt.Errorf("swap device cannot be empty")
	}

	if c.SwapSectors < SectorsPerSlot {
		return fmt.Errorf("swap device must hold at least one slot (%d sectors)", SectorsPerSlot)
	}

	if _, err := ParseCompressionType(c.SwapCompression); err != nil {
		return err
	}

	if c.UserStackTop == 0 || c.UserStackTop%PageSize != 0 {
		return fmt.Errorf("user stack top %#x must be a non-zero multiple of %d", c.UserStackTop, PageSize)
	}

	if c.MaxStackSize < PageSize || c.MaxStackSize%PageSize != 0 {
		return fmt.Errorf("max stack size must be a positive multiple of %d", PageSize)
	}

	if c.MaxStackSize > c.UserStackTop {
		return fmt.Errorf("max stack size %d exceeds user stack top %#x", c.MaxStackSize, c.UserStackTop)
	}

	if c.KernelBase <= c.UserStackTop {
		return fmt.Errorf("kernel base %#x must lie above user stack top %#x", c.KernelBase, c.UserStackTop)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
