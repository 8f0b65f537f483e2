package netif

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLibrary struct {
	Library
	variant string
}

func TestSelectorPicksVariantByPointerWidth(t *testing.T) {
	sel := NewSelector()
	for _, variant := range []string{"tapcfg32", "tapcfg64"} {
		v := variant
		sel.Register(v, func(name string) (Library, error) {
			return &stubLibrary{variant: name}, nil
		})
	}

	b32, err := sel.Resolve(32)
	require.NoError(t, err)
	assert.Equal(t, "tapcfg32", b32.Variant)
	assert.Equal(t, 32, b32.Bits)
	assert.Equal(t, "tapcfg32", b32.Library.(*stubLibrary).variant)

	b64, err := sel.Resolve(64)
	require.NoError(t, err)
	assert.Equal(t, "tapcfg64", b64.Variant)
	assert.Equal(t, "tapcfg64", b64.Library.(*stubLibrary).variant)
}

func TestSelectorUnsupported(t *testing.T) {
	sel := NewSelector()

	_, err := sel.Resolve(64)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	_, err = sel.Resolve(16)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	cause := errors.New("library missing")
	sel.Register("tapcfg64", func(string) (Library, error) { return nil, cause })
	_, err = sel.Resolve(64)
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.ErrorIs(t, err, cause)
}

func TestResolveIsStable(t *testing.T) {
	b1, err1 := Resolve()
	b2, err2 := Resolve()

	assert.Equal(t, err1, err2)
	if err1 == nil {
		assert.Same(t, b1, b2)
		assert.Equal(t, PointerBits, b1.Bits)
	} else {
		assert.ErrorIs(t, err1, ErrUnsupportedPlatform)
	}
}

func TestPointerBits(t *testing.T) {
	assert.Contains(t, []int{32, 64}, PointerBits)
}
