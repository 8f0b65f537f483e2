package netif

import (
	"errors"
	"net"
	"net/netip"
	"syscall"
)

// Handle is an opaque reference to one native TAP configuration object.
// The zero Handle is never returned by Init.
type Handle uint64

const (
	INVALID_HANDLE Handle = 0
)

const (
	STATUS_ALL_DOWN = 0x0000
	STATUS_IPV4_UP  = 0x0001
	STATUS_IPV6_UP  = 0x0002
	STATUS_ALL_UP   = STATUS_IPV4_UP | STATUS_IPV6_UP
)

// Log levels passed to a LogCallback.
const (
	LOG_EMERG = iota
	LOG_ALERT
	LOG_CRIT
	LOG_ERR
	LOG_WARNING
	LOG_NOTICE
	LOG_INFO
	LOG_DEBUG
)

type LogCallback func(level int, msg string)

// Library is the native interface library: one implementation per platform,
// bound once per process by the Selector.
type Library interface {
	Init() (Handle, error)
	Destroy(h Handle) error
	SetLogCallback(h Handle, cb LogCallback)

	Start(h Handle, name string, fallback bool) error
	Stop(h Handle) error

	// WaitReadable and WaitWritable report false with a nil error when the
	// timeout expires before the device becomes ready.
	WaitReadable(h Handle, msec int) (bool, error)
	WaitWritable(h Handle, msec int) (bool, error)

	Read(h Handle, buf []byte) (int, error)
	Write(h Handle, buf []byte) (int, error)

	Name(h Handle) (string, error)
	HardwareAddr(h Handle) (net.HardwareAddr, error)
	SetHardwareAddr(h Handle, addr net.HardwareAddr) error
	Status(h Handle) (int, error)
	SetStatus(h Handle, flags int) error
	MTU(h Handle) (int, error)
	SetMTU(h Handle, mtu int) error
	SetIPv4(h Handle, addr netip.Addr, bits uint8) error
	SetIPv6(h Handle, addr netip.Addr, bits uint8) error
	SetDhcpOptions(h Handle, opts []byte) error
}

var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrInvalidHandle       = errors.New("invalid handle")
	ErrNotStarted          = errors.New("device not started")
)

// Code returns the native status code carried by err, -1 when err carries
// none and 0 for a nil error.
func Code(err error) int {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}

	return -1
}
