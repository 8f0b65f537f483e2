// Package dhcp builds the DHCP option blob a TAP driver hands out to the host
// side of the interface.
package dhcp

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const (
	OPT_PAD           = 0
	OPT_ROUTER        = 3
	OPT_DNS           = 6
	OPT_DOMAIN_NAME   = 15
	OPT_NTP           = 42
	OPT_LEASE_TIME    = 51
	OPT_DOMAIN_SEARCH = 119
	OPT_END           = 255

	MAX_OPT_LEN = 255
)

type Options struct {
	Router        netip.Addr
	DNS           []netip.Addr
	DomainName    string
	SearchDomains []string
	NTP           []netip.Addr
	LeaseTime     time.Duration
}

func appendOpt(buff []byte, code byte, data []byte) ([]byte, error) {
	if len(data) > MAX_OPT_LEN {
		return nil, fmt.Errorf("dhcp option %d too long: %d bytes", code, len(data))
	}

	buff = append(buff, code, byte(len(data)))
	return append(buff, data...), nil
}

func packAddrs(addrs []netip.Addr) ([]byte, error) {
	data := make([]byte, 0, 4*len(addrs))
	for _, addr := range addrs {
		addr = addr.Unmap()
		if !addr.Is4() {
			return nil, fmt.Errorf("dhcp option address %v is not ipv4", addr)
		}
		ip := addr.As4()
		data = append(data, ip[:]...)
	}
	return data, nil
}

func normalizeDomain(name string) (string, error) {
	fqdn := dns.Fqdn(strings.TrimSpace(name))
	if _, ok := dns.IsDomainName(fqdn); !ok || fqdn == "." {
		return "", fmt.Errorf("invalid domain name %q", name)
	}
	return fqdn, nil
}

// Pack encodes the options as a sequence of DHCP TLVs without a trailing end
// option.
func (self *Options) Pack() ([]byte, error) {
	var (
		buff []byte
		err  error
	)

	if self.Router.IsValid() {
		data, err := packAddrs([]netip.Addr{self.Router})
		if err != nil {
			return nil, err
		}
		if buff, err = appendOpt(buff, OPT_ROUTER, data); err != nil {
			return nil, err
		}
	}

	if len(self.DNS) != 0 {
		data, err := packAddrs(self.DNS)
		if err != nil {
			return nil, err
		}
		if buff, err = appendOpt(buff, OPT_DNS, data); err != nil {
			return nil, err
		}
	}

	if self.DomainName != "" {
		fqdn, err := normalizeDomain(self.DomainName)
		if err != nil {
			return nil, err
		}
		if buff, err = appendOpt(buff, OPT_DOMAIN_NAME, []byte(strings.TrimSuffix(fqdn, "."))); err != nil {
			return nil, err
		}
	}

	if len(self.NTP) != 0 {
		data, err := packAddrs(self.NTP)
		if err != nil {
			return nil, err
		}
		if buff, err = appendOpt(buff, OPT_NTP, data); err != nil {
			return nil, err
		}
	}

	if self.LeaseTime > 0 {
		data := binary.BigEndian.AppendUint32(nil, uint32(self.LeaseTime/time.Second))
		if buff, err = appendOpt(buff, OPT_LEASE_TIME, data); err != nil {
			return nil, err
		}
	}

	if len(self.SearchDomains) != 0 {
		data := make([]byte, 0, 64)
		for _, domain := range self.SearchDomains {
			fqdn, err := normalizeDomain(domain)
			if err != nil {
				return nil, err
			}

			name := make([]byte, 256)
			off, err := dns.PackDomainName(fqdn, name, 0, nil, false)
			if err != nil {
				logrus.WithError(err).Errorf("pack search domain %v fail", domain)
				return nil, err
			}
			data = append(data, name[:off]...)
		}
		if buff, err = appendOpt(buff, OPT_DOMAIN_SEARCH, data); err != nil {
			return nil, err
		}
	}

	logrus.Debugf("packed dhcp options: %d bytes\n", len(buff))
	return buff, nil
}

func unpackAddrs(code byte, data []byte) ([]netip.Addr, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("dhcp option %d: bad address list length %d", code, len(data))
	}

	addrs := make([]netip.Addr, 0, len(data)/4)
	for i := 0; i < len(data); i += 4 {
		addrs = append(addrs, netip.AddrFrom4([4]byte(data[i:i+4])))
	}
	return addrs, nil
}

// Unpack decodes options produced by Pack. Unknown options are skipped.
func Unpack(buff []byte) (*Options, error) {
	opts := new(Options)

	for i := 0; i < len(buff); {
		code := buff[i]
		if code == OPT_PAD {
			i++
			continue
		}
		if code == OPT_END {
			break
		}
		if i+2 > len(buff) || i+2+int(buff[i+1]) > len(buff) {
			return nil, fmt.Errorf("dhcp option %d truncated", code)
		}

		data := buff[i+2 : i+2+int(buff[i+1])]
		i += 2 + len(data)

		switch code {
		case OPT_ROUTER:
			addrs, err := unpackAddrs(code, data)
			if err != nil {
				return nil, err
			}
			if len(addrs) != 0 {
				opts.Router = addrs[0]
			}
		case OPT_DNS:
			addrs, err := unpackAddrs(code, data)
			if err != nil {
				return nil, err
			}
			opts.DNS = addrs
		case OPT_NTP:
			addrs, err := unpackAddrs(code, data)
			if err != nil {
				return nil, err
			}
			opts.NTP = addrs
		case OPT_DOMAIN_NAME:
			opts.DomainName = string(data)
		case OPT_LEASE_TIME:
			if len(data) != 4 {
				return nil, fmt.Errorf("dhcp option %d: bad length %d", code, len(data))
			}
			opts.LeaseTime = time.Duration(binary.BigEndian.Uint32(data)) * time.Second
		case OPT_DOMAIN_SEARCH:
			for off := 0; off < len(data); {
				name, next, err := dns.UnpackDomainName(data, off)
				if err != nil {
					return nil, fmt.Errorf("dhcp option %d: %w", code, err)
				}
				opts.SearchDomains = append(opts.SearchDomains, strings.TrimSuffix(name, "."))
				off = next
			}
		default:
			logrus.Debugf("skip unknown dhcp option %d\n", code)
		}
	}

	return opts, nil
}
