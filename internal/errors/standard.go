// Package errors provides the kernel's error taxonomy: errno values as seen
// by user code and categorized errors for kernel-internal reporting.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCategory groups errno values into the classes the kernel reports.
type ErrorCategory string

const (
	CategoryPermission ErrorCategory = "PERMISSION"
	CategoryArgument   ErrorCategory = "ARGUMENT"
	CategoryBusy       ErrorCategory = "BUSY"
	CategoryFault      ErrorCategory = "FAULT"
	CategoryConnection ErrorCategory = "CONNECTION"
	CategoryLookup     ErrorCategory = "LOOKUP"
	CategoryResource   ErrorCategory = "RESOURCE"
	CategoryInternal   ErrorCategory = "INTERNAL"
)

// KernelError provides a consistent error format
type KernelError struct {
	Category ErrorCategory
	Errno    Errno
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface
func (e *KernelError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Errno, e.Message, e.Caller)
}

// Is reports a match against a bare Errno so errors.Is(err, EBUSY) works.
func (e *KernelError) Is(target error) bool {
	if n, ok := target.(Errno); ok {
		return e.Errno == n
	}
	return false
}

// New creates a categorized kernel error for the given errno.
func New(errno Errno, message string, context map[string]interface{}) *KernelError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &KernelError{
		Category: errno.Category(),
		Errno:    errno,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Errorf is New with a formatted message and no context.
func Errorf(errno Errno, format string, args ...interface{}) *KernelError {
	e := New(errno, fmt.Sprintf(format, args...), nil)
	e.Caller = callerName(2)
	return e
}

func callerName(skip int) string {
	if pc, _, _, ok := runtime.Caller(skip); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			return fn.Name()
		}
	}
	return "unknown"
}

// ErrnoOf extracts the errno carried by err. Errors that carry none map to
// EINTERNAL, nil maps to ok=false.
func ErrnoOf(err error) (Errno, bool) {
	if err == nil {
		return 0, false
	}
	var ke *KernelError
	if stderrors.As(err, &ke) {
		return ke.Errno, true
	}
	var n Errno
	if stderrors.As(err, &n) {
		return n, true
	}
	return EINTERNAL, true
}

// Common error constructors

func PermissionDenied(operation string, pid int) *KernelError {
	return New(EPERM, fmt.Sprintf("Process %d lacks permission for %s", pid, operation),
		map[string]interface{}{"operation": operation, "pid": pid})
}

func BadAddress(addr, length uint32, context string) *KernelError {
	return New(EFAULT, fmt.Sprintf("Cannot access %d bytes at %#08x in %s", length, addr, context),
		map[string]interface{}{"address": addr, "length": length, "context": context})
}

func OutOfMemory(size uint32, context string) *KernelError {
	return New(ENOMEM, fmt.Sprintf("Cannot allocate %d bytes in %s", size, context),
		map[string]interface{}{"size": size, "context": context})
}

func WrongResource(errno Errno, handle uint32, want, got string) *KernelError {
	return New(errno, fmt.Sprintf("Resource %d is a %s, not a %s", handle, got, want),
		map[string]interface{}{"handle": handle, "want": want, "got": got})
}

func NotFound(what, key string) *KernelError {
	return New(ENOENT, fmt.Sprintf("No %s named %q", what, key),
		map[string]interface{}{"what": what, "key": key})
}

func Exhausted(space string, size int) *KernelError {
	return New(ENOMEM, fmt.Sprintf("All %d identifiers of %s are in use", size, space),
		map[string]interface{}{"space": space, "size": size})
}
