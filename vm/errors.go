package vm

import (
	"fmt"
)

// ErrorCode represents different types of virtual memory errors
type ErrorCode int

const (
	// Generic errors
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInternal

	// Resource errors
	ErrCodeAllocationFailure
	ErrCodeSwapExhausted

	// Fault errors
	ErrCodeInvalidFault
	ErrCodeInvalidAddress
	ErrCodeAddressInUse

	// Page errors
	ErrCodePageNotFound
	ErrCodeNotMapped

	// Swap errors
	ErrCodeInvalidSlot

	// I/O errors
	ErrCodeIOFailure
	ErrCodeShortTransfer

	// Configuration errors
	ErrCodeInvalidConfig
)

// VMError represents a virtual memory error with context
type VMError struct {
	Code    ErrorCode
	Message string
	Op      string // Operation that failed
	Err     error  // Underlying error (if any)
}

// Error implements the error interface
func (e *VMError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *VMError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a specific error code
func (e *VMError) Is(target error) bool {
	if t, ok := target.(*VMError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewVMError creates a new virtual memory error
func NewVMError(code ErrorCode, op, message string, err error) *VMError {
	return &VMError{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// Helper functions for common errors

func ErrAllocationFailure(op string) *VMError {
	return NewVMError(
		ErrCodeAllocationFailure,
		op,
		"no physical frame available",
		nil,
	)
}

func ErrSwapExhausted(op string) *VMError {
	return NewVMError(
		ErrCodeSwapExhausted,
		op,
		"no free swap slot",
		nil,
	)
}

func ErrInvalidFault(op string, addr uintptr, reason string) *VMError {
	return NewVMError(
		ErrCodeInvalidFault,
		op,
		fmt.Sprintf("invalid fault at %#x: %s", addr, reason),
		nil,
	)
}

func ErrInvalidAddress(op string, addr uintptr) *VMError {
	return NewVMError(
		ErrCodeInvalidAddress,
		op,
		fmt.Sprintf("invalid address %#x", addr),
		nil,
	)
}

func ErrAddressInUse(op string, addr uintptr) *VMError {
	return NewVMError(
		ErrCodeAddressInUse,
		op,
		fmt.Sprintf("address %#x already mapped", addr),
		nil,
	)
}

func ErrPageNotFound(op string, addr uintptr) *VMError {
	return NewVMError(
		ErrCodePageNotFound,
		op,
		fmt.Sprintf("no page at %#x", addr),
		nil,
	)
}

func ErrNotMapped(op string, addr uintptr) *VMError {
	return NewVMError(
		ErrCodeNotMapped,
		op,
		fmt.Sprintf("no mapping starts at %#x", addr),
		nil,
	)
}

func ErrInvalidSlot(op string, slot uint32) *VMError {
	return NewVMError(
		ErrCodeInvalidSlot,
		op,
		fmt.Sprintf("swap slot %d is not allocated", slot),
		nil,
	)
}

func ErrIOFailure(op string, err error) *VMError {
	return NewVMError(
		ErrCodeIOFailure,
		op,
		"I/O operation failed",
		err,
	)
}

func ErrShortTransfer(op string, want, got int) *VMError {
	return NewVMError(
		ErrCodeShortTransfer,
		op,
		fmt.Sprintf("short transfer: expected %d bytes, got %d", want, got),
		nil,
	)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if ve, ok := err.(*VMError); ok {
		return ve.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrCodeUnknown
func GetErrorCode(err error) ErrorCode {
	if ve, ok := err.(*VMError); ok {
		return ve.Code
	}
	return ErrCodeUnknown
}
