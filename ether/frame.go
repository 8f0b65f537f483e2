// Package ether provides a view over a single Ethernet II frame as it crosses
// a TAP device.
package ether

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

const (
	// MTU is the capacity of a frame buffer: 1500 bytes of payload, the
	// 14-byte header, a 4-byte VLAN tag and 4 reserved bytes.
	MTU        = 1522
	HEADER_LEN = 14
	ADDR_LEN   = 6
)

var (
	ErrFrameTooShort = errors.New("frame too short")
	ErrFrameTooLong  = errors.New("frame too long")
)

type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeVLAN EtherType = 0x8100
	EtherTypeIPv6 EtherType = 0x86DD
)

func (t EtherType) String() string {
	switch t {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeVLAN:
		return "VLAN"
	case EtherTypeIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("0x%04x", uint16(t))
	}
}

// Frame is a view over buf[:n]. Accessors other than Dst, Src and Data alias
// the backing buffer.
type Frame struct {
	buf []byte
	n   int
}

// FromReceivedBytes wraps the first n bytes of buf without copying.
func FromReceivedBytes(buf []byte, n int) (*Frame, error) {
	if n < HEADER_LEN {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, n)
	}

	if n > len(buf) || n > MTU {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, n)
	}

	return &Frame{buf: buf, n: n}, nil
}

// New assembles a frame for sending in a fresh MTU-sized buffer.
func New(dst, src net.HardwareAddr, etherType EtherType, payload []byte) (*Frame, error) {
	f := &Frame{buf: make([]byte, MTU), n: HEADER_LEN}

	if err := f.SetDst(dst); err != nil {
		return nil, err
	}
	if err := f.SetSrc(src); err != nil {
		return nil, err
	}
	f.SetEtherType(etherType)
	if err := f.SetPayload(payload); err != nil {
		return nil, err
	}

	return f, nil
}

func (self *Frame) Dst() net.HardwareAddr {
	return append(net.HardwareAddr(nil), self.buf[0:6]...)
}

func (self *Frame) Src() net.HardwareAddr {
	return append(net.HardwareAddr(nil), self.buf[6:12]...)
}

func (self *Frame) EtherType() EtherType {
	return EtherType(binary.BigEndian.Uint16(self.buf[12:14]))
}

func (self *Frame) Payload() []byte {
	return self.buf[HEADER_LEN:self.n]
}

func (self *Frame) Len() int {
	return self.n
}

// Bytes returns the valid part of the frame, aliasing the backing buffer.
func (self *Frame) Bytes() []byte {
	return self.buf[:self.n]
}

// WireBytes returns exactly what should be handed to the device: no padding
// and no FCS.
func (self *Frame) WireBytes() ([]byte, int) {
	return self.buf[:self.n], self.n
}

// Data returns a copy of the valid part of the frame.
func (self *Frame) Data() []byte {
	return append([]byte(nil), self.buf[:self.n]...)
}

func (self *Frame) SetDst(addr net.HardwareAddr) error {
	if len(addr) != ADDR_LEN {
		return fmt.Errorf("invalid destination address %v", addr)
	}
	copy(self.buf[0:6], addr)
	return nil
}

func (self *Frame) SetSrc(addr net.HardwareAddr) error {
	if len(addr) != ADDR_LEN {
		return fmt.Errorf("invalid source address %v", addr)
	}
	copy(self.buf[6:12], addr)
	return nil
}

func (self *Frame) SetEtherType(t EtherType) {
	binary.BigEndian.PutUint16(self.buf[12:14], uint16(t))
}

// SetPayload copies payload after the header and adjusts the frame length.
func (self *Frame) SetPayload(payload []byte) error {
	n := HEADER_LEN + len(payload)
	if n > MTU {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLong, n)
	}

	if n > len(self.buf) {
		buf := make([]byte, MTU)
		copy(buf, self.buf[:HEADER_LEN])
		self.buf = buf
	}

	copy(self.buf[HEADER_LEN:], payload)
	self.n = n
	return nil
}

func (self *Frame) IsBroadcast() bool {
	for _, b := range self.buf[0:6] {
		if b != 0xFF {
			return false
		}
	}
	return true
}

func (self *Frame) IsMulticast() bool {
	return self.buf[0]&0x01 == 0x01
}

func (self *Frame) String() string {
	return fmt.Sprintf("%v > %v %v len %d", self.Src(), self.Dst(), self.EtherType(), self.n)
}

// BroadcastAddr returns ff:ff:ff:ff:ff:ff.
func BroadcastAddr() net.HardwareAddr {
	return net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
}
