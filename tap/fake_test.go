package tap

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"sync"

	"github.com/lkyzhu/tapcfg-go/netif"
)

type readResult struct {
	data []byte
	n    int
	err  error
}

type addrCall struct {
	addr netip.Addr
	bits uint8
}

// fakeLibrary is an in-memory netif.Library. Reads are served from reads in
// order; when reads is empty and block is set, Read waits until Stop.
type fakeLibrary struct {
	lock sync.Mutex

	initErr    error
	startErr   error
	taken      map[string]bool
	fallback   string
	statusErr  error
	addrErr    error
	destroyErr error

	handle  netif.Handle
	logf    netif.LogCallback
	name    string
	started bool
	flags   int
	mtu     int
	hwaddr  net.HardwareAddr
	dhcp    []byte
	ipv4    []addrCall
	ipv6    []addrCall

	reads    []readResult
	block    bool
	stopped  chan struct{}
	writeN   func(n int) (int, error)
	written  [][]byte
	ready    bool
	readyErr error

	starts   int
	stops    int
	destroys int
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{
		taken:    make(map[string]bool),
		fallback: "tap9",
		mtu:      1500,
		stopped:  make(chan struct{}),
	}
}

func (self *fakeLibrary) Init() (netif.Handle, error) {
	if self.initErr != nil {
		return netif.INVALID_HANDLE, self.initErr
	}
	self.handle = 42
	return self.handle, nil
}

func (self *fakeLibrary) Destroy(h netif.Handle) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.destroys++
	return self.destroyErr
}

func (self *fakeLibrary) SetLogCallback(h netif.Handle, cb netif.LogCallback) {
	self.lock.Lock()
	self.logf = cb
	self.lock.Unlock()
}

func (self *fakeLibrary) Start(h netif.Handle, name string, fallback bool) error {
	self.lock.Lock()
	defer self.lock.Unlock()

	self.starts++
	if self.startErr != nil {
		return self.startErr
	}

	if name == "" || self.taken[name] {
		if !fallback {
			return os.ErrExist
		}
		if self.logf != nil {
			self.logf(netif.LOG_INFO, "Opening device '"+name+"' failed, trying to find another one")
		}
		name = self.fallback
	}

	self.name = name
	self.started = true
	return nil
}

func (self *fakeLibrary) Stop(h netif.Handle) error {
	self.lock.Lock()
	defer self.lock.Unlock()

	self.stops++
	if self.started {
		self.started = false
		close(self.stopped)
	}
	return nil
}

func (self *fakeLibrary) WaitReadable(h netif.Handle, msec int) (bool, error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.ready, self.readyErr
}

func (self *fakeLibrary) WaitWritable(h netif.Handle, msec int) (bool, error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.ready, self.readyErr
}

func (self *fakeLibrary) Read(h netif.Handle, buf []byte) (int, error) {
	self.lock.Lock()
	if len(self.reads) == 0 {
		block := self.block
		stopped := self.stopped
		self.lock.Unlock()

		if block {
			<-stopped
			return -1, os.ErrClosed
		}
		return 0, nil
	}

	r := self.reads[0]
	self.reads = self.reads[1:]
	self.lock.Unlock()

	if r.err != nil {
		return -1, r.err
	}
	copy(buf, r.data)
	if r.n != 0 {
		return r.n, nil
	}
	return len(r.data), nil
}

func (self *fakeLibrary) Write(h netif.Handle, buf []byte) (int, error) {
	self.lock.Lock()
	defer self.lock.Unlock()

	self.written = append(self.written, append([]byte(nil), buf...))
	if self.writeN != nil {
		return self.writeN(len(buf))
	}
	return len(buf), nil
}

func (self *fakeLibrary) Name(h netif.Handle) (string, error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	if self.name == "" {
		return "", errors.New("no name")
	}
	return self.name, nil
}

func (self *fakeLibrary) HardwareAddr(h netif.Handle) (net.HardwareAddr, error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.hwaddr, nil
}

func (self *fakeLibrary) SetHardwareAddr(h netif.Handle, addr net.HardwareAddr) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.hwaddr = append(net.HardwareAddr(nil), addr...)
	return nil
}

func (self *fakeLibrary) Status(h netif.Handle) (int, error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.flags, self.statusErr
}

func (self *fakeLibrary) SetStatus(h netif.Handle, flags int) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	if self.statusErr != nil {
		return self.statusErr
	}
	self.flags = flags
	return nil
}

func (self *fakeLibrary) MTU(h netif.Handle) (int, error) {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.mtu, nil
}

func (self *fakeLibrary) SetMTU(h netif.Handle, mtu int) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.mtu = mtu
	return nil
}

func (self *fakeLibrary) SetIPv4(h netif.Handle, addr netip.Addr, bits uint8) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	if self.addrErr != nil {
		return self.addrErr
	}
	self.ipv4 = append(self.ipv4, addrCall{addr, bits})
	return nil
}

func (self *fakeLibrary) SetIPv6(h netif.Handle, addr netip.Addr, bits uint8) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	if self.addrErr != nil {
		return self.addrErr
	}
	self.ipv6 = append(self.ipv6, addrCall{addr, bits})
	return nil
}

func (self *fakeLibrary) SetDhcpOptions(h netif.Handle, opts []byte) error {
	self.lock.Lock()
	defer self.lock.Unlock()
	self.dhcp = append([]byte(nil), opts...)
	return nil
}
