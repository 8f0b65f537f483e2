package netif

import (
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolHandles(t *testing.T) {
	pool := NewPool[string]()

	h1 := pool.Add("a")
	h2 := pool.Add("b")
	assert.NotEqual(t, INVALID_HANDLE, h1)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, pool.Len())

	v, ok := pool.Get(h1)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = pool.Del(h1)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = pool.Get(h1)
	assert.False(t, ok)
	_, ok = pool.Del(h1)
	assert.False(t, ok)

	h3 := pool.Add("c")
	assert.NotEqual(t, h1, h3, "handles must not be reused")
	assert.Equal(t, 2, pool.Len())
}

func TestCode(t *testing.T) {
	assert.Equal(t, 0, Code(nil))
	assert.Equal(t, -1, Code(fmt.Errorf("plain")))
	assert.Equal(t, int(syscall.EBUSY), Code(fmt.Errorf("start: %w", syscall.EBUSY)))
}
