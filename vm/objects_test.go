package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storedThing struct {
	destroyed int
	label     string
}

func TestObjectStoreLifecycle(t *testing.T) {
	store := NewObjectStore()
	thing := &storedThing{label: "x"}

	h := store.Put(thing, func(obj interface{}) {
		obj.(*storedThing).destroyed++
	}, nil)
	require.NotZero(t, h)
	assert.Equal(t, 1, store.Count())
	assert.Same(t, thing, store.Get(h))

	store.AddRef(h)
	store.Release(h)
	assert.Equal(t, 0, thing.destroyed)

	store.Release(h)
	assert.Equal(t, 1, thing.destroyed)
	assert.Equal(t, 0, store.Count())
	assert.Nil(t, store.Get(h))

	// Releasing a dead handle stays a no-op.
	store.Release(h)
	assert.Equal(t, 1, thing.destroyed)
}

func TestObjectStoreReusesHandles(t *testing.T) {
	store := NewObjectStore()
	h1 := store.Put(&storedThing{}, nil, nil)
	store.Release(h1)
	h2 := store.Put(&storedThing{}, nil, nil)
	assert.Equal(t, h1, h2)
}

func TestObjectStoreClone(t *testing.T) {
	store := NewObjectStore()
	orig := &storedThing{label: "orig"}
	h := store.Put(orig, nil, func(obj interface{}) interface{} {
		return &storedThing{label: obj.(*storedThing).label + "-copy"}
	})

	cloned, h2, err := store.Clone(h)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	assert.Equal(t, "orig-copy", cloned.(*storedThing).label)
	assert.Equal(t, 2, store.Count())

	notCloneable := store.Put(&storedThing{}, nil, nil)
	_, _, err = store.Clone(notCloneable)
	assert.Error(t, err)

	_, _, err = store.Clone(12345)
	assert.Error(t, err)
}
