package vm

import "fmt"

// DestroyFunc tears an object's storage down when its last handle reference
// dies.
type DestroyFunc func(obj interface{})

// CloneFunc produces an independent copy of an object's storage.
type CloneFunc func(obj interface{}) interface{}

type storeEntry struct {
	obj     interface{}
	refs    int
	destroy DestroyFunc
	clone   CloneFunc
	valid   bool
}

// ObjectStore is the handle allocator objects with engine-level lifetime
// callbacks register with. Handle 0 is never issued.
type ObjectStore struct {
	entries  []storeEntry
	freeList []uint32
	live     int
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{}
}

// Put registers an object with its destroy and clone callbacks and returns
// its handle. The caller holds the initial reference.
func (s *ObjectStore) Put(obj interface{}, destroy DestroyFunc, clone CloneFunc) uint32 {
	entry := storeEntry{obj: obj, refs: 1, destroy: destroy, clone: clone, valid: true}
	s.live++
	if n := len(s.freeList); n > 0 {
		h := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		s.entries[h-1] = entry
		return h
	}
	s.entries = append(s.entries, entry)
	return uint32(len(s.entries))
}

func (s *ObjectStore) entry(handle uint32) *storeEntry {
	if handle == 0 || int(handle) > len(s.entries) {
		return nil
	}
	e := &s.entries[handle-1]
	if !e.valid {
		return nil
	}
	return e
}

// Get returns the stored object, or nil for a dead handle.
func (s *ObjectStore) Get(handle uint32) interface{} {
	if e := s.entry(handle); e != nil {
		return e.obj
	}
	return nil
}

// AddRef takes an additional handle reference.
func (s *ObjectStore) AddRef(handle uint32) {
	if e := s.entry(handle); e != nil {
		e.refs++
	}
}

// Release drops one handle reference; the last one runs the destroy
// callback and retires the handle.
func (s *ObjectStore) Release(handle uint32) {
	e := s.entry(handle)
	if e == nil {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	e.valid = false
	s.live--
	s.freeList = append(s.freeList, handle)
	if e.destroy != nil {
		e.destroy(e.obj)
	}
	e.obj = nil
}

// Clone invokes the object's clone callback and registers the copy under a
// fresh handle.
func (s *ObjectStore) Clone(handle uint32) (interface{}, uint32, error) {
	e := s.entry(handle)
	if e == nil {
		return nil, 0, fmt.Errorf("object store: dead handle %d", handle)
	}
	if e.clone == nil {
		return nil, 0, fmt.Errorf("object store: object %d is not cloneable", handle)
	}
	obj := e.clone(e.obj)
	h := s.Put(obj, e.destroy, e.clone)
	return obj, h, nil
}

// Count returns the number of live objects.
func (s *ObjectStore) Count() int {
	return s.live
}
