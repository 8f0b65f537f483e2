package tap

import (
	"net"
	"net/netip"

	"github.com/lkyzhu/tapcfg-go/dhcp"
	"github.com/lkyzhu/tapcfg-go/netif"
	"github.com/sirupsen/logrus"
)

// Config describes a device to bring up in one step. Zero fields are left as
// the native layer created them.
type Config struct {
	Name          string
	AllowFallback bool
	MTU           int
	HardwareAddr  net.HardwareAddr
	Addresses     []netip.Prefix
	Enabled       bool
	Dhcp          *dhcp.Options
}

// Open creates, starts and configures a device on the process library.
func Open(cfg Config) (*Device, error) {
	backend, err := netif.Resolve()
	if err != nil {
		return nil, err
	}

	return OpenWith(backend, cfg)
}

// OpenWith is Open on an explicit library. The device is released on every
// failure path.
func OpenWith(lib netif.Library, cfg Config) (*Device, error) {
	dev, err := NewWith(lib)
	if err != nil {
		return nil, err
	}

	if err := dev.apply(cfg); err != nil {
		logrus.WithError(err).Errorf("open device %q fail", cfg.Name)
		dev.Release()
		return nil, err
	}

	return dev, nil
}

func (self *Device) apply(cfg Config) error {
	if err := self.Start(cfg.Name, cfg.AllowFallback); err != nil {
		return err
	}

	if cfg.HardwareAddr != nil {
		if err := self.SetHardwareAddr(cfg.HardwareAddr); err != nil {
			return err
		}
	}

	if cfg.MTU != 0 {
		if err := self.SetMTU(cfg.MTU); err != nil {
			return err
		}
	}

	for _, prefix := range cfg.Addresses {
		if err := self.SetAddress(prefix.Addr(), prefix.Bits()); err != nil {
			return err
		}
	}

	if cfg.Dhcp != nil {
		if err := self.SetDhcpOptions(cfg.Dhcp); err != nil {
			return err
		}
	}

	if cfg.Enabled {
		return self.SetEnabled(true)
	}

	return nil
}
