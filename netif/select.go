package netif

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// PointerBits is the native pointer width of the running process.
const PointerBits = 32 << (^uintptr(0) >> 63)

// Backend is the capability set bound for this process. It is immutable and
// safe to share between sessions.
type Backend struct {
	Library
	Variant string
	Bits    int
}

// Loader binds the named library variant.
type Loader func(variant string) (Library, error)

// Selector maps a pointer width to a library variant and the variant to the
// loader that binds it.
type Selector struct {
	lock     sync.RWMutex
	variants map[int]string
	loaders  map[string]Loader
}

func NewSelector() *Selector {
	return &Selector{
		variants: map[int]string{
			32: "tapcfg32",
			64: "tapcfg64",
		},
		loaders: make(map[string]Loader),
	}
}

func (self *Selector) Register(variant string, loader Loader) {
	self.lock.Lock()
	self.loaders[variant] = loader
	self.lock.Unlock()
}

func (self *Selector) Resolve(bits int) (*Backend, error) {
	self.lock.RLock()
	variant, ok := self.variants[bits]
	loader := self.loaders[variant]
	self.lock.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no library variant for %d-bit process", ErrUnsupportedPlatform, bits)
	}

	if loader == nil {
		return nil, fmt.Errorf("%w: library %s not available", ErrUnsupportedPlatform, variant)
	}

	lib, err := loader(variant)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", ErrUnsupportedPlatform, variant, err)
	}

	logrus.Debugf("bound native library %s for %d-bit process\n", variant, bits)
	return &Backend{Library: lib, Variant: variant, Bits: bits}, nil
}

var (
	_selector = NewSelector()

	_resolveOnce sync.Once
	_backend     *Backend
	_backendErr  error
)

// Register adds a loader to the process-wide selector. Platform files call it
// from init.
func Register(variant string, loader Loader) {
	_selector.Register(variant, loader)
}

// Resolve binds the library variant matching PointerBits on first use and
// returns the same Backend on every later call.
func Resolve() (*Backend, error) {
	_resolveOnce.Do(func() {
		_backend, _backendErr = _selector.Resolve(PointerBits)
		if _backendErr != nil {
			logrus.WithError(_backendErr).Errorf("resolve native library fail")
		}
	})

	return _backend, _backendErr
}
