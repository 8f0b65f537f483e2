package netif

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const (
	TUN_CLONE_DEV = "/dev/net/tun"
	IFNAMSIZ      = 16
)

func init() {
	Register("tapcfg32", loadWater)
	Register("tapcfg64", loadWater)
}

func loadWater(variant string) (Library, error) {
	if _, err := os.Stat(TUN_CLONE_DEV); err != nil {
		return nil, err
	}

	return &waterLibrary{pool: NewPool[*tapDevice]()}, nil
}

type tapDevice struct {
	lock sync.Mutex
	ifce *water.Interface
	name string
	logf LogCallback
	dhcp []byte
}

func (self *tapDevice) ifname() string {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.name
}

func (self *tapDevice) log(level int, format string, args ...interface{}) {
	self.lock.Lock()
	logf := self.logf
	self.lock.Unlock()

	msg := fmt.Sprintf(format, args...)
	if logf != nil {
		logf(level, msg)
		return
	}

	switch {
	case level <= LOG_ERR:
		logrus.Error(msg)
	case level <= LOG_NOTICE:
		logrus.Warn(msg)
	case level == LOG_INFO:
		logrus.Info(msg)
	default:
		logrus.Debug(msg)
	}
}

// waterLibrary is the Linux TAP library: songgao/water owns the character
// device, netlink configures the link.
type waterLibrary struct {
	pool *Pool[*tapDevice]
}

func (self *waterLibrary) device(h Handle) (*tapDevice, error) {
	dev, ok := self.pool.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}
	return dev, nil
}

func (self *waterLibrary) started(h Handle) (*tapDevice, *water.Interface, error) {
	dev, err := self.device(h)
	if err != nil {
		return nil, nil, err
	}

	dev.lock.Lock()
	ifce := dev.ifce
	dev.lock.Unlock()
	if ifce == nil {
		return nil, nil, ErrNotStarted
	}

	return dev, ifce, nil
}

func (self *waterLibrary) link(h Handle) (*tapDevice, netlink.Link, error) {
	dev, _, err := self.started(h)
	if err != nil {
		return nil, nil, err
	}

	name := dev.ifname()
	link, err := netlink.LinkByName(name)
	if err != nil {
		dev.log(LOG_ERR, "Couldn't find link %s: %v", name, err)
		return nil, nil, err
	}

	return dev, link, nil
}

func (self *waterLibrary) Init() (Handle, error) {
	h := self.pool.Add(&tapDevice{})
	logrus.Debugf("tap handle %d allocated\n", h)
	return h, nil
}

func (self *waterLibrary) Destroy(h Handle) error {
	dev, ok := self.pool.Del(h)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, h)
	}

	dev.lock.Lock()
	ifce := dev.ifce
	dev.ifce = nil
	dev.lock.Unlock()

	if ifce != nil {
		return ifce.Close()
	}

	return nil
}

func (self *waterLibrary) SetLogCallback(h Handle, cb LogCallback) {
	dev, err := self.device(h)
	if err != nil {
		return
	}

	dev.lock.Lock()
	dev.logf = cb
	dev.lock.Unlock()
}

func validName(name string) bool {
	return name != "" && len(name) < IFNAMSIZ
}

func (self *waterLibrary) Start(h Handle, name string, fallback bool) error {
	dev, err := self.device(h)
	if err != nil {
		return err
	}

	dev.lock.Lock()
	started := dev.ifce != nil
	dev.lock.Unlock()
	if started {
		return fmt.Errorf("device %s already started", dev.ifname())
	}

	if !validName(name) {
		if !fallback {
			dev.log(LOG_DEBUG, "Device name '%s' is not a valid interface name", name)
			return unix.EINVAL
		}
		name = ""
	}

	cfg := water.Config{
		DeviceType: water.TAP,
	}
	cfg.Name = name
	ifce, err := water.New(cfg)
	if err != nil && name != "" && fallback {
		dev.log(LOG_INFO, "Opening device '%s' failed, trying to find another one", name)
		cfg.Name = ""
		ifce, err = water.New(cfg)
	}

	if err != nil {
		dev.log(LOG_ERR, "Couldn't open the tap device: %v", err)
		dev.log(LOG_INFO, "Check that you are running the program with root privileges and have TUN/TAP driver installed")
		return err
	}

	dev.lock.Lock()
	dev.ifce = ifce
	dev.name = ifce.Name()
	dev.lock.Unlock()

	dev.log(LOG_INFO, "Device %s opened", ifce.Name())
	return nil
}

func (self *waterLibrary) Stop(h Handle) error {
	dev, err := self.device(h)
	if err != nil {
		return err
	}

	dev.lock.Lock()
	ifce := dev.ifce
	dev.ifce = nil
	dev.lock.Unlock()

	if ifce == nil {
		return nil
	}

	dev.log(LOG_DEBUG, "Closing device %s", dev.ifname())
	return ifce.Close()
}

func (self *waterLibrary) wait(h Handle, events int16, msec int) (bool, error) {
	dev, ifce, err := self.started(h)
	if err != nil {
		return false, err
	}

	conn, ok := ifce.ReadWriteCloser.(syscall.Conn)
	if !ok {
		return false, fmt.Errorf("device %s has no pollable descriptor", dev.ifname())
	}

	rc, err := conn.SyscallConn()
	if err != nil {
		return false, err
	}

	ready := false
	var perr error
	err = rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
		for {
			n, err := unix.Poll(fds, msec)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				perr = err
				return
			}
			if n == 0 {
				return
			}
			if fds[0].Revents&unix.POLLNVAL != 0 {
				perr = unix.EBADF
				return
			}
			ready = fds[0].Revents&(events|unix.POLLHUP|unix.POLLERR) != 0
			return
		}
	})
	if err != nil {
		return false, err
	}

	return ready, perr
}

func (self *waterLibrary) WaitReadable(h Handle, msec int) (bool, error) {
	return self.wait(h, unix.POLLIN, msec)
}

func (self *waterLibrary) WaitWritable(h Handle, msec int) (bool, error) {
	return self.wait(h, unix.POLLOUT, msec)
}

func (self *waterLibrary) Read(h Handle, buf []byte) (int, error) {
	_, ifce, err := self.started(h)
	if err != nil {
		return -1, err
	}

	return ifce.Read(buf)
}

func (self *waterLibrary) Write(h Handle, buf []byte) (int, error) {
	_, ifce, err := self.started(h)
	if err != nil {
		return -1, err
	}

	return ifce.Write(buf)
}

func (self *waterLibrary) Name(h Handle) (string, error) {
	dev, err := self.device(h)
	if err != nil {
		return "", err
	}

	name := dev.ifname()
	if name == "" {
		return "", ErrNotStarted
	}
	return name, nil
}

func (self *waterLibrary) HardwareAddr(h Handle) (net.HardwareAddr, error) {
	_, link, err := self.link(h)
	if err != nil {
		return nil, err
	}

	return link.Attrs().HardwareAddr, nil
}

func (self *waterLibrary) SetHardwareAddr(h Handle, addr net.HardwareAddr) error {
	dev, link, err := self.link(h)
	if err != nil {
		return err
	}

	if err := netlink.LinkSetHardwareAddr(link, addr); err != nil {
		dev.log(LOG_ERR, "Error trying to set new hardware address: %v", err)
		return err
	}

	return nil
}

func (self *waterLibrary) Status(h Handle) (int, error) {
	_, link, err := self.link(h)
	if err != nil {
		return STATUS_ALL_DOWN, err
	}

	if link.Attrs().Flags&net.FlagUp != 0 {
		return STATUS_ALL_UP, nil
	}

	return STATUS_ALL_DOWN, nil
}

func (self *waterLibrary) SetStatus(h Handle, flags int) error {
	dev, link, err := self.link(h)
	if err != nil {
		return err
	}

	if flags&STATUS_ALL_UP != 0 {
		err = netlink.LinkSetUp(link)
	} else {
		err = netlink.LinkSetDown(link)
	}
	if err != nil {
		dev.log(LOG_ERR, "Error changing status of interface %s: %v", dev.ifname(), err)
		return err
	}

	return nil
}

func (self *waterLibrary) MTU(h Handle) (int, error) {
	_, link, err := self.link(h)
	if err != nil {
		return 0, err
	}

	return link.Attrs().MTU, nil
}

func (self *waterLibrary) SetMTU(h Handle, mtu int) error {
	dev, link, err := self.link(h)
	if err != nil {
		return err
	}

	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		dev.log(LOG_ERR, "Error trying to set new MTU %d: %v", mtu, err)
		return err
	}

	return nil
}

func (self *waterLibrary) setAddr(h Handle, addr netip.Addr, bits uint8, width int) error {
	dev, link, err := self.link(h)
	if err != nil {
		return err
	}

	if int(bits) > width {
		return unix.EINVAL
	}

	ipNet := &net.IPNet{IP: net.IP(addr.AsSlice()), Mask: net.CIDRMask(int(bits), width)}
	if err := netlink.AddrReplace(link, &netlink.Addr{IPNet: ipNet}); err != nil {
		dev.log(LOG_ERR, "Error trying to configure address %v: %v", ipNet, err)
		return err
	}

	dev.log(LOG_DEBUG, "Configured address %v on %s", ipNet, dev.ifname())
	return nil
}

func (self *waterLibrary) SetIPv4(h Handle, addr netip.Addr, bits uint8) error {
	if !addr.Is4() {
		return unix.EAFNOSUPPORT
	}
	return self.setAddr(h, addr, bits, 32)
}

func (self *waterLibrary) SetIPv6(h Handle, addr netip.Addr, bits uint8) error {
	if !addr.Is6() || addr.Is4In6() {
		return unix.EAFNOSUPPORT
	}
	return self.setAddr(h, addr, bits, 128)
}

// SetDhcpOptions keeps the options on the device. The Linux TAP driver has no
// built-in DHCP server to hand them to.
func (self *waterLibrary) SetDhcpOptions(h Handle, opts []byte) error {
	dev, _, err := self.started(h)
	if err != nil {
		return err
	}

	dev.lock.Lock()
	dev.dhcp = append([]byte(nil), opts...)
	dev.lock.Unlock()

	dev.log(LOG_DEBUG, "Stored %d bytes of DHCP options for %s, not applied by the kernel driver", len(opts), dev.ifname())
	return nil
}
