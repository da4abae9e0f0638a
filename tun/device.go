// Package tun manages the virtual network interface backing a tunnel.
// This file contains device acquisition and release. Devices are owned
// by tunnel engines; the session core never manipulates them directly.
package tun

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ikesession/ikesessiond/common"
)

// Device represents an acquired virtual interface.
type Device struct {
	mu      sync.Mutex
	name    string
	profile Profile
	file    *os.File
	closed  bool
}

// Open acquires a tun interface through /dev/net/tun and applies the
// profile's MTU. The kernel may adjust the requested name; Name reports
// the name actually assigned. Open fails without CAP_NET_ADMIN.
func Open(name string, profile Profile) (*Device, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, common.WrapError(err, "open /dev/net/tun")
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, common.WrapError(err, "build interface request")
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, common.WrapError(err, "create tun interface")
	}

	dev := &Device{
		name:    ifr.Name(),
		profile: profile,
		file:    os.NewFile(uintptr(fd), "/dev/net/tun"),
	}
	dev.applyMTU()
	common.LogInfo("tun: acquired device %s (mtu %d)", dev.name, profile.MTU)
	return dev, nil
}

// NewSimulated returns a device with no kernel interface behind it, for
// engines that only simulate liveness.
func NewSimulated(name string, profile Profile) *Device {
	return &Device{name: name, profile: profile}
}

// applyMTU sets the link MTU through a side socket. Failure is not
// fatal; the engine's tooling may set it instead.
func (d *Device) applyMTU() {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		common.LogWarn("tun: mtu socket: %v", err)
		return
	}
	defer unix.Close(sock)

	ifr, err := unix.NewIfreq(d.name)
	if err != nil {
		common.LogWarn("tun: mtu request: %v", err)
		return
	}
	ifr.SetUint32(uint32(d.profile.MTU))
	if err := unix.IoctlIfreq(sock, unix.SIOCSIFMTU, ifr); err != nil {
		common.LogWarn("tun: set mtu on %s: %v", d.name, err)
	}
}

// Name returns the interface name assigned by the kernel, or the
// requested name for simulated devices.
func (d *Device) Name() string {
	return d.name
}

// MTU returns the profile MTU.
func (d *Device) MTU() int {
	return d.profile.MTU
}

// Profile returns the addressing profile the device was acquired with.
func (d *Device) Profile() Profile {
	return d.profile
}

// Simulated reports whether the device has no kernel interface.
func (d *Device) Simulated() bool {
	return d.file == nil
}

// Close releases the interface. Closing the tun file descriptor removes
// a non-persistent interface. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	common.LogInfo("tun: released device %s", d.name)
	if d.file == nil {
		return nil
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("release tun interface %s: %w", d.name, err)
	}
	return nil
}
