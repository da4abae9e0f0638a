// Package tun manages the virtual network interface backing a tunnel.
// This file contains traffic counters read from the kernel.
package tun

import (
	"fmt"

	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/ikesession/ikesessiond/common"
)

// Stats is a traffic snapshot for one interface.
type Stats struct {
	Interface   string `json:"interface"`
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	Errors      uint64 `json:"errors"`
	Drops       uint64 `json:"drops"`
}

// ReadStats returns the kernel's traffic counters for the named
// interface.
func ReadStats(name string) (Stats, error) {
	counters, err := gnet.IOCounters(true)
	if err != nil {
		return Stats{}, common.WrapError(err, "read interface counters")
	}
	for _, c := range counters {
		if c.Name != name {
			continue
		}
		return Stats{
			Interface:   name,
			BytesSent:   c.BytesSent,
			BytesRecv:   c.BytesRecv,
			PacketsSent: c.PacketsSent,
			PacketsRecv: c.PacketsRecv,
			Errors:      c.Errin + c.Errout,
			Drops:       c.Dropin + c.Dropout,
		}, nil
	}
	return Stats{}, fmt.Errorf("interface %q not found", name)
}
