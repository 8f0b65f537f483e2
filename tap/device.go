// Package tap manages one TAP interface per Device: its lifecycle, frame I/O
// and link configuration.
//
// A Device is created, started, used and released:
//
//	dev, err := tap.New()
//	if err != nil {
//		return err
//	}
//	defer dev.Release()
//
//	if err := dev.Start("tap0", true); err != nil {
//		return err
//	}
//
// A Device has a single logical owner. The only call that may be made
// concurrently with ReadFrame or WriteFrame is Stop or Release, which makes
// the blocked call fail with ErrStreamClosed or ErrReadFailed.
package tap

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/lkyzhu/tapcfg-go/dhcp"
	"github.com/lkyzhu/tapcfg-go/ether"
	"github.com/lkyzhu/tapcfg-go/netif"
	"github.com/sirupsen/logrus"
)

type State int

const (
	StateCreated State = iota
	StateStarted
	StateStopped
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

const (
	MIN_MTU = 68
	MAX_MTU = 65535
)

// Device exclusively owns one native handle. It must not be copied after
// creation; go vet reports copies through the embedded lock.
type Device struct {
	lock   sync.Mutex
	lib    netif.Library
	handle netif.Handle
	state  State
	name   string
	log    *logrus.Entry
	nlog   *logrus.Entry
}

// New creates a Device on the native library bound for this process.
func New() (*Device, error) {
	backend, err := netif.Resolve()
	if err != nil {
		return nil, err
	}

	return NewWith(backend)
}

// NewWith creates a Device on lib.
func NewWith(lib netif.Library) (*Device, error) {
	if lib == nil {
		return nil, argError("create", "library is nil")
	}

	h, err := lib.Init()
	if err != nil {
		logrus.WithError(err).Errorf("init tap handle fail")
		return nil, nativeError("create", ErrInitializationFailed, err)
	}
	if h == netif.INVALID_HANDLE {
		return nil, &Error{Op: "create", Kind: ErrInitializationFailed}
	}

	entry := logrus.WithFields(logrus.Fields{"module": "tap", "handle": h})
	dev := &Device{
		lib:    lib,
		handle: h,
		state:  StateCreated,
		log:    entry,
		nlog:   entry.WithField("native", true),
	}
	lib.SetLogCallback(h, dev.nativeLog)

	return dev, nil
}

// nativeLog may be called while self.lock is held, so it only touches the
// immutable nlog entry.
func (self *Device) nativeLog(level int, msg string) {
	entry := self.nlog
	switch {
	case level <= netif.LOG_ERR:
		entry.Error(msg)
	case level <= netif.LOG_NOTICE:
		entry.Warn(msg)
	case level == netif.LOG_INFO:
		entry.Info(msg)
	default:
		entry.Debug(msg)
	}
}

func (self *Device) State() State {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.state
}

// live returns the handle when the device is in one of states.
func (self *Device) live(op string, states ...State) (netif.Handle, error) {
	self.lock.Lock()
	defer self.lock.Unlock()

	for _, s := range states {
		if self.state == s {
			return self.handle, nil
		}
	}

	return netif.INVALID_HANDLE, stateError(op, self.state)
}

func (self *Device) closed() bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.state != StateStarted
}

// Start creates the OS interface. When name is taken or invalid and fallback
// is set, the native layer picks a name; Name reports the one in use.
func (self *Device) Start(name string, fallback bool) error {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.state != StateCreated {
		return stateError("start", self.state)
	}

	if err := self.lib.Start(self.handle, name, fallback); err != nil {
		self.log.WithError(err).Errorf("start device %q fail", name)
		return nativeError("start", ErrStartFailed, err)
	}

	ifname, err := self.lib.Name(self.handle)
	if err != nil {
		self.log.WithError(err).Errorf("get device name fail")
		if serr := self.lib.Stop(self.handle); serr != nil {
			self.log.WithError(serr).Errorf("stop device fail")
		}
		return nativeError("start", ErrStartFailed, err)
	}

	self.name = ifname
	self.state = StateStarted
	self.log = self.log.WithField("dev", ifname)
	self.log.Infof("device started, requested name %q\n", name)

	return nil
}

// ReadFrame blocks until the device delivers one frame. A zero-byte read
// means the stream is closed and is reported as ErrStreamClosed.
func (self *Device) ReadFrame() (*ether.Frame, error) {
	const op = "read frame"

	h, err := self.live(op, StateStarted)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, ether.MTU)
	n, err := self.lib.Read(h, buf)
	switch {
	case err != nil && (errors.Is(err, io.EOF) || self.closed()):
		return nil, &Error{Op: op, Kind: ErrStreamClosed, Err: err}
	case err != nil:
		self.log.WithError(err).Errorf("read frame fail")
		return nil, nativeError(op, ErrReadFailed, err)
	case n < 0:
		return nil, &Error{Op: op, Kind: ErrReadFailed, Code: n}
	case n == 0:
		return nil, &Error{Op: op, Kind: ErrStreamClosed}
	}

	frame, err := ether.FromReceivedBytes(buf, n)
	if err != nil {
		self.log.WithError(err).Errorf("bad frame from device, %d bytes", n)
		return nil, &Error{Op: op, Kind: ErrReadFailed, Err: err}
	}

	self.log.Debugf("read frame: %v\n", frame)
	return frame, nil
}

// WriteFrame submits the frame in one native write. A short write is
// returned as *PartialWriteError and is not retried.
func (self *Device) WriteFrame(frame *ether.Frame) error {
	const op = "write frame"

	h, err := self.live(op, StateStarted)
	if err != nil {
		return err
	}

	if frame == nil {
		return argError(op, "frame is nil")
	}

	buf, length := frame.WireBytes()
	n, err := self.lib.Write(h, buf)
	switch {
	case err != nil:
		self.log.WithError(err).Errorf("write frame fail")
		return nativeError(op, ErrWriteFailed, err)
	case n < 0:
		return &Error{Op: op, Kind: ErrWriteFailed, Code: n}
	case n < length:
		self.log.Warnf("partial write: %d of %d bytes\n", n, length)
		return &PartialWriteError{Written: n, Length: length}
	}

	self.log.Debugf("write frame: %v\n", frame)
	return nil
}

func msec(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int(timeout.Milliseconds())
}

// WaitReadable reports whether a frame can be read within timeout. Expiry is
// (false, nil); a negative timeout waits forever.
func (self *Device) WaitReadable(timeout time.Duration) (bool, error) {
	h, err := self.live("wait readable", StateStarted)
	if err != nil {
		return false, err
	}

	ready, err := self.lib.WaitReadable(h, msec(timeout))
	if err != nil {
		if self.closed() {
			return false, &Error{Op: "wait readable", Kind: ErrStreamClosed, Err: err}
		}
		return false, nativeError("wait readable", ErrReadFailed, err)
	}

	return ready, nil
}

func (self *Device) WaitWritable(timeout time.Duration) (bool, error) {
	h, err := self.live("wait writable", StateStarted)
	if err != nil {
		return false, err
	}

	ready, err := self.lib.WaitWritable(h, msec(timeout))
	if err != nil {
		return false, nativeError("wait writable", ErrWriteFailed, err)
	}

	return ready, nil
}

func (self *Device) Enabled() (bool, error) {
	h, err := self.live("get status", StateStarted)
	if err != nil {
		return false, err
	}

	flags, err := self.lib.Status(h)
	if err != nil {
		return false, nativeError("get status", ErrConfigFailed, err)
	}

	return flags&netif.STATUS_ALL_UP != 0, nil
}

func (self *Device) SetEnabled(enabled bool) error {
	h, err := self.live("set status", StateStarted)
	if err != nil {
		return err
	}

	flags := netif.STATUS_ALL_DOWN
	if enabled {
		flags = netif.STATUS_ALL_UP
	}

	if err := self.lib.SetStatus(h, flags); err != nil {
		return nativeError("set status", ErrConfigFailed, err)
	}

	self.log.Infof("device enabled: %v\n", enabled)
	return nil
}

// SetAddress assigns addr/prefixLen, IPv4 or IPv6 by the address family.
func (self *Device) SetAddress(addr netip.Addr, prefixLen int) error {
	const op = "set address"

	h, err := self.live(op, StateStarted)
	if err != nil {
		return err
	}

	if !addr.IsValid() {
		return argError(op, "invalid address")
	}

	addr = addr.Unmap()
	if prefixLen < 0 || prefixLen > addr.BitLen() {
		return argError(op, "prefix length %d out of range for %v", prefixLen, addr)
	}

	if addr.Is4() {
		err = self.lib.SetIPv4(h, addr, uint8(prefixLen))
	} else {
		err = self.lib.SetIPv6(h, addr, uint8(prefixLen))
	}
	if err != nil {
		self.log.WithError(err).Errorf("set address %v/%d fail", addr, prefixLen)
		return nativeError(op, ErrAddressAssignmentFailed, err)
	}

	self.log.Infof("address %v/%d assigned\n", addr, prefixLen)
	return nil
}

// Name returns the interface name the native layer assigned.
func (self *Device) Name() (string, error) {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.state != StateStarted && self.state != StateStopped {
		return "", stateError("get name", self.state)
	}

	return self.name, nil
}

func (self *Device) HardwareAddr() (net.HardwareAddr, error) {
	h, err := self.live("get hwaddr", StateStarted)
	if err != nil {
		return nil, err
	}

	addr, err := self.lib.HardwareAddr(h)
	if err != nil {
		return nil, nativeError("get hwaddr", ErrConfigFailed, err)
	}

	return addr, nil
}

func (self *Device) SetHardwareAddr(addr net.HardwareAddr) error {
	h, err := self.live("set hwaddr", StateStarted)
	if err != nil {
		return err
	}

	if len(addr) != ether.ADDR_LEN {
		return argError("set hwaddr", "hardware address %v is not %d bytes", addr, ether.ADDR_LEN)
	}

	if err := self.lib.SetHardwareAddr(h, addr); err != nil {
		return nativeError("set hwaddr", ErrConfigFailed, err)
	}

	self.log.Infof("hardware address set to %v\n", addr)
	return nil
}

func (self *Device) MTU() (int, error) {
	h, err := self.live("get mtu", StateStarted)
	if err != nil {
		return 0, err
	}

	mtu, err := self.lib.MTU(h)
	if err != nil {
		return 0, nativeError("get mtu", ErrConfigFailed, err)
	}

	return mtu, nil
}

func (self *Device) SetMTU(mtu int) error {
	h, err := self.live("set mtu", StateStarted)
	if err != nil {
		return err
	}

	if mtu < MIN_MTU || mtu > MAX_MTU {
		return argError("set mtu", "mtu %d out of range [%d, %d]", mtu, MIN_MTU, MAX_MTU)
	}

	if err := self.lib.SetMTU(h, mtu); err != nil {
		return nativeError("set mtu", ErrConfigFailed, err)
	}

	self.log.Infof("mtu set to %d\n", mtu)
	return nil
}

func (self *Device) SetDhcpOptions(opts *dhcp.Options) error {
	h, err := self.live("set dhcp options", StateStarted)
	if err != nil {
		return err
	}

	if opts == nil {
		return argError("set dhcp options", "options are nil")
	}

	buff, err := opts.Pack()
	if err != nil {
		return &Error{Op: "set dhcp options", Kind: ErrInvalidArgument, Err: err}
	}

	if err := self.lib.SetDhcpOptions(h, buff); err != nil {
		return nativeError("set dhcp options", ErrConfigFailed, err)
	}

	return nil
}

// Stop tears down the OS interface. It does nothing on a device that was
// never started or is already stopped.
func (self *Device) Stop() error {
	self.lock.Lock()
	defer self.lock.Unlock()

	switch self.state {
	case StateCreated, StateStopped:
		return nil
	case StateReleased:
		return stateError("stop", self.state)
	}

	self.state = StateStopped
	if err := self.lib.Stop(self.handle); err != nil {
		self.log.WithError(err).Errorf("stop device fail")
		return nativeError("stop", ErrStopFailed, err)
	}

	self.log.Infof("device stopped\n")
	return nil
}

// Release stops the device if needed and destroys the native handle. It
// never fails; native errors are logged. Calls after the first do nothing.
func (self *Device) Release() {
	self.lock.Lock()
	defer self.lock.Unlock()

	if self.state == StateReleased {
		return
	}

	if self.state == StateStarted {
		self.state = StateStopped
		if err := self.lib.Stop(self.handle); err != nil {
			self.log.WithError(err).Errorf("stop device on release fail")
		}
	}

	if err := self.lib.Destroy(self.handle); err != nil {
		self.log.WithError(err).Errorf("destroy tap handle fail")
	}

	self.handle = netif.INVALID_HANDLE
	self.state = StateReleased
	self.log.Infof("device released\n")
}

// Close releases the device and always returns nil.
func (self *Device) Close() error {
	self.Release()
	return nil
}
