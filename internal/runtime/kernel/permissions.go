package kernel

import "strings"

// Permission is a set of process capabilities.
type Permission uint32

const (
	PermCreateProcess Permission = 1 << 0
	PermMapMemory     Permission = 1 << 1
	PermService       Permission = 1 << 2
	PermLocks         Permission = 1 << 3
	PermIRQ           Permission = 1 << 4

	// PermInherit asks for the parent's permissions.
	PermInherit Permission = 1 << 31
	PermAll     Permission = 0x7fffffff
	PermNone    Permission = 0
)

// InheritStackSize as a stack length asks for the parent's stack size.
const InheritStackSize uint32 = 0xffffffff

var permissionNames = []struct {
	perm Permission
	name string
}{
	{PermCreateProcess, "CREATE_PROC"},
	{PermMapMemory, "MAP_MEMORY"},
	{PermService, "SERVICE"},
	{PermLocks, "LOCKS"},
	{PermIRQ, "IRQ"},
}

// Has reports whether every permission in q is granted.
func (p Permission) Has(q Permission) bool { return p&q == q }

func (p Permission) String() string {
	if p == PermNone {
		return "NONE"
	}
	var names []string
	for _, pn := range permissionNames {
		if p&pn.perm != 0 {
			names = append(names, pn.name)
		}
	}
	if p&PermInherit != 0 {
		names = append(names, "INHERIT")
	}
	return strings.Join(names, "|")
}

// childPermissions computes the permissions of a new process. A child
// never gets a permission its parent lacks; the initial process has no
// parent and gets what it asks for.
func childPermissions(requested Permission, parent *Process) Permission {
	if parent == nil {
		if requested&PermInherit != 0 {
			return PermAll
		}
		return requested & PermAll
	}
	if requested&PermInherit != 0 {
		return parent.permissions
	}
	return requested & PermAll & parent.permissions
}
