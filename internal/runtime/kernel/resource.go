package kernel

import (
	"fmt"
	"sort"

	"github.com/orizon-lang/mordax/internal/runtime/numalloc"
)

// ResourceType identifies the kind of object behind a handle.
type ResourceType uint8

const (
	ResourceSocket ResourceType = iota
	ResourceService
	ResourceLock
	ResourceNode
)

var resourceNames = [...]string{"socket", "service", "lock", "node"}

func (t ResourceType) String() string {
	if int(t) < len(resourceNames) {
		return resourceNames[t]
	}
	return fmt.Sprintf("ResourceType(%d)", uint8(t))
}

// Resource is one entry of a resource table.
type Resource struct {
	Handle uint32
	Type   ResourceType
	Object any
}

// ResourceTable maps the handles of one process to kernel objects.
// Handles start at 1.
type ResourceTable struct {
	handles *numalloc.Allocator
	entries map[uint32]Resource
}

// NewResourceTable creates a table with room for size handles.
func NewResourceTable(size uint32) *ResourceTable {
	return &ResourceTable{
		handles: numalloc.New("handles", 1, size),
		entries: make(map[uint32]Resource),
	}
}

// Add stores obj and returns its handle.
func (rt *ResourceTable) Add(typ ResourceType, obj any) (uint32, error) {
	h, err := rt.handles.Allocate()
	if err != nil {
		return 0, err
	}
	rt.entries[h] = Resource{Handle: h, Type: typ, Object: obj}
	return h, nil
}

// Get returns the resource behind handle h.
func (rt *ResourceTable) Get(h uint32) (Resource, bool) {
	r, ok := rt.entries[h]
	return r, ok
}

// Remove deletes handle h and returns what it referred to.
func (rt *ResourceTable) Remove(h uint32) (Resource, bool) {
	r, ok := rt.entries[h]
	if !ok {
		return Resource{}, false
	}
	delete(rt.entries, h)
	rt.handles.Free(h)
	return r, true
}

// Len returns the number of live handles.
func (rt *ResourceTable) Len() int { return len(rt.entries) }

// Resources returns the live resources in handle order.
func (rt *ResourceTable) Resources() []Resource {
	out := make([]Resource, 0, len(rt.entries))
	for _, r := range rt.entries {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Free removes every handle in handle order, calling destroy on each.
func (rt *ResourceTable) Free(destroy func(Resource)) {
	for _, r := range rt.Resources() {
		rt.Remove(r.Handle)
		if destroy != nil {
			destroy(r)
		}
	}
}
