// Package tun manages the virtual network interface backing a tunnel.
// This file contains the network profile applied to the interface when a
// tunnel comes up.
package tun

import (
	"fmt"
	"net"

	"github.com/ikesession/ikesessiond/common"
)

const (
	// MinMTU is the IPv4 minimum reassembly size.
	MinMTU = 576
	// MaxMTU covers jumbo frames.
	MaxMTU = 9000
)

// Profile describes the addressing applied to the virtual interface.
// Route and address programming beyond the MTU is left to the engine's
// own tooling.
type Profile struct {
	// Address is the interface address in CIDR form
	Address string
	// MTU is the interface MTU, accounting for tunnel overhead
	MTU int
	// DNS lists the resolvers to use while the tunnel is up
	DNS []string
	// Routes lists destinations in CIDR form routed into the tunnel
	Routes []string
}

// DefaultProfile returns the addressing used when none is configured.
func DefaultProfile() Profile {
	return Profile{
		Address: "10.0.0.2/24",
		MTU:     1400,
		DNS:     []string{"8.8.8.8", "8.8.4.4"},
		Routes:  []string{"0.0.0.0/0"},
	}
}

// Validate checks the profile for addressing mistakes.
func (p Profile) Validate() error {
	if p.MTU < MinMTU || p.MTU > MaxMTU {
		return fmt.Errorf("%w: mtu %d out of range [%d, %d]", common.ErrInvalidConfig, p.MTU, MinMTU, MaxMTU)
	}
	if _, _, err := net.ParseCIDR(p.Address); err != nil {
		return fmt.Errorf("%w: address %q is not valid CIDR", common.ErrInvalidConfig, p.Address)
	}
	for _, dns := range p.DNS {
		if net.ParseIP(dns) == nil {
			return fmt.Errorf("%w: dns server %q is not a valid IP", common.ErrInvalidConfig, dns)
		}
	}
	for _, route := range p.Routes {
		if _, _, err := net.ParseCIDR(route); err != nil {
			return fmt.Errorf("%w: route %q is not valid CIDR", common.ErrInvalidConfig, route)
		}
	}
	return nil
}
