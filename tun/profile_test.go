package tun

import (
	"errors"
	"testing"

	"github.com/ikesession/ikesessiond/common"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()

	if p.Address != "10.0.0.2/24" {
		t.Errorf("Address = %q, want 10.0.0.2/24", p.Address)
	}
	if p.MTU != 1400 {
		t.Errorf("MTU = %d, want 1400", p.MTU)
	}
	if len(p.DNS) != 2 {
		t.Errorf("DNS = %v, want two resolvers", p.DNS)
	}
	if len(p.Routes) != 1 || p.Routes[0] != "0.0.0.0/0" {
		t.Errorf("Routes = %v, want default route only", p.Routes)
	}

	if err := p.Validate(); err != nil {
		t.Errorf("DefaultProfile().Validate() error = %v", err)
	}
}

func TestProfile_Validate(t *testing.T) {
	valid := DefaultProfile()

	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr bool
	}{
		{"default", func(p *Profile) {}, false},
		{"mtu at minimum", func(p *Profile) { p.MTU = 576 }, false},
		{"mtu at maximum", func(p *Profile) { p.MTU = 9000 }, false},
		{"mtu below minimum", func(p *Profile) { p.MTU = 575 }, true},
		{"mtu above maximum", func(p *Profile) { p.MTU = 9001 }, true},
		{"bad address", func(p *Profile) { p.Address = "10.0.0.2" }, true},
		{"bad dns", func(p *Profile) { p.DNS = []string{"not-an-ip"} }, true},
		{"bad route", func(p *Profile) { p.Routes = []string{"10.0.0.0/33"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			p.DNS = append([]string(nil), valid.DNS...)
			p.Routes = append([]string(nil), valid.Routes...)
			tt.mutate(&p)

			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, common.ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want wrapped ErrInvalidConfig", err)
			}
		})
	}
}

func TestSimulatedDevice(t *testing.T) {
	dev := NewSimulated("ike0", DefaultProfile())

	if dev.Name() != "ike0" {
		t.Errorf("Name() = %q, want ike0", dev.Name())
	}
	if dev.MTU() != 1400 {
		t.Errorf("MTU() = %d, want 1400", dev.MTU())
	}
	if !dev.Simulated() {
		t.Error("Simulated() = false, want true")
	}

	if err := dev.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() error = %v, should be idempotent", err)
	}
}

func TestOpenWithoutPrivileges(t *testing.T) {
	dev, err := Open("ike-test0", DefaultProfile())
	if err != nil {
		// Expected on builders without CAP_NET_ADMIN or /dev/net/tun.
		t.Skipf("tun open unavailable here: %v", err)
	}
	defer dev.Close()

	if dev.Name() == "" {
		t.Error("Name() is empty for an acquired device")
	}
	if dev.Simulated() {
		t.Error("Simulated() = true for an acquired device")
	}
}

func TestOpenRejectsBadProfile(t *testing.T) {
	bad := DefaultProfile()
	bad.MTU = 100

	if _, err := Open("ike-test0", bad); !errors.Is(err, common.ErrInvalidConfig) {
		t.Errorf("Open() error = %v, want ErrInvalidConfig", err)
	}
}

func TestReadStats(t *testing.T) {
	stats, err := ReadStats("lo")
	if err != nil {
		t.Fatalf("ReadStats(lo) error = %v", err)
	}
	if stats.Interface != "lo" {
		t.Errorf("Interface = %q, want lo", stats.Interface)
	}

	if _, err := ReadStats("definitely-missing0"); err == nil {
		t.Error("ReadStats() should fail for an unknown interface")
	}
}
