package errors

import "fmt"

// Errno is an error number as returned to user code. System calls report
// failures by storing the negated value in the return register.
type Errno int32

const (
	EPERM       Errno = 0
	EBUSY       Errno = 1
	EFAULT      Errno = 2
	ENOEXEC     Errno = 3
	ENOMEM      Errno = 4
	ECANCELED   Errno = 5
	EINVAL      Errno = 6
	ENOENT      Errno = 7
	EWOULDBLOCK Errno = 8
	ENOSYS      Errno = 9
	ENOTCONN    Errno = 10
	ENOTSOCK    Errno = 11
	E2BIG       Errno = 12
	EDEADLK     Errno = 13
	EINTERNAL   Errno = 14
)

var errnoNames = [...]string{
	EPERM:       "EPERM",
	EBUSY:       "EBUSY",
	EFAULT:      "EFAULT",
	ENOEXEC:     "ENOEXEC",
	ENOMEM:      "ENOMEM",
	ECANCELED:   "ECANCELED",
	EINVAL:      "EINVAL",
	ENOENT:      "ENOENT",
	EWOULDBLOCK: "EWOULDBLOCK",
	ENOSYS:      "ENOSYS",
	ENOTCONN:    "ENOTCONN",
	ENOTSOCK:    "ENOTSOCK",
	E2BIG:       "E2BIG",
	EDEADLK:     "EDEADLK",
	EINTERNAL:   "EINTERNAL",
}

func (e Errno) String() string {
	if e >= 0 && int(e) < len(errnoNames) {
		return errnoNames[e]
	}
	return fmt.Sprintf("Errno(%d)", int32(e))
}

// Error lets a bare Errno be used as an error value.
func (e Errno) Error() string { return e.String() }

// Ret returns the register encoding of the error: the two's complement of
// the errno. EPERM therefore encodes as 0 like success; callers that need
// to tell them apart must use the out-of-band error.
func (e Errno) Ret() uint32 { return uint32(-int32(e)) }

// Category classifies an errno.
func (e Errno) Category() ErrorCategory {
	switch e {
	case EPERM:
		return CategoryPermission
	case EINVAL, ENOTSOCK, ENOSYS, ENOEXEC:
		return CategoryArgument
	case EBUSY, EDEADLK, EWOULDBLOCK:
		return CategoryBusy
	case EFAULT:
		return CategoryFault
	case ENOTCONN, ECANCELED:
		return CategoryConnection
	case ENOENT:
		return CategoryLookup
	case ENOMEM, E2BIG:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// Ret encodes the outcome of an operation for the return register: the
// errno of err when it is non-nil, value otherwise.
func Ret(value uint32, err error) uint32 {
	if n, ok := ErrnoOf(err); ok {
		return n.Ret()
	}
	return value
}
