package kernel

import "fmt"

// System call numbers.
const (
	SysSystem uint32 = iota
	SysThreadExit
	SysThreadCreate
	SysThreadJoin
	SysThreadYield
	SysThreadInfo
	SysProcessCreate
	SysMap
	SysMapAlloc
	SysUnmap
	SysServiceCreate
	SysServiceListen
	SysServiceConnect
	SysSocketSend
	SysSocketReceive
	SysSocketWait
	SysLockCreate
	SysLockAcquire
	SysLockRelease
	SysDTGetNodeByPath
	SysDTGetNodeByPhandle
	SysDTGetNodeByCompatible
	SysDTGetPropertyArray32
	SysDTGetPropertyString
	SysDTGetPropertyPhandle
	SysResourceDestroy

	NumSyscalls
)

// SYSTEM functions.
const (
	SystemDebug    uint32 = 0
	SystemGetSplit uint32 = 1
)

// THREAD_INFO functions.
const (
	InfoTID uint32 = iota
	InfoPID
	InfoUID
	InfoGID
)

var syscallNames = [NumSyscalls]string{
	"SYSTEM", "THREAD_EXIT", "THREAD_CREATE", "THREAD_JOIN", "THREAD_YIELD",
	"THREAD_INFO", "PROCESS_CREATE", "MAP", "MAP_ALLOC", "UNMAP",
	"SERVICE_CREATE", "SERVICE_LISTEN", "SERVICE_CONNECT",
	"SOCKET_SEND", "SOCKET_RECEIVE", "SOCKET_WAIT",
	"LOCK_CREATE", "LOCK_ACQUIRE", "LOCK_RELEASE",
	"DT_GET_NODE_BY_PATH", "DT_GET_NODE_BY_PHANDLE", "DT_GET_NODE_BY_COMPATIBLE",
	"DT_GET_PROPERTY_ARRAY32", "DT_GET_PROPERTY_STRING", "DT_GET_PROPERTY_PHANDLE",
	"RESOURCE_DESTROY",
}

// SyscallName returns the name of system call n.
func SyscallName(n uint32) string {
	if n < NumSyscalls {
		return syscallNames[n]
	}
	return fmt.Sprintf("SYSCALL%d", n)
}
