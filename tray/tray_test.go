package tray

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
	"time"
)

func TestIconsDecodeAsPNG(t *testing.T) {
	icons := map[string][]byte{
		"connected":  iconConnected,
		"connecting": iconConnecting,
		"disabled":   iconDisabled,
		"error":      iconError,
	}
	for name, data := range icons {
		t.Run(name, func(t *testing.T) {
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("png.Decode() error = %v", err)
			}
			b := img.Bounds()
			if b.Dx() != iconSize || b.Dy() != iconSize {
				t.Errorf("icon bounds = %dx%d, want %dx%d", b.Dx(), b.Dy(), iconSize, iconSize)
			}
		})
	}
}

func TestIconsAreDistinct(t *testing.T) {
	icons := [][]byte{iconConnected, iconConnecting, iconDisabled, iconError}
	for i := range icons {
		for j := i + 1; j < len(icons); j++ {
			if bytes.Equal(icons[i], icons[j]) {
				t.Errorf("icons %d and %d are identical", i, j)
			}
		}
	}
}

func TestIconFor(t *testing.T) {
	tests := []struct {
		phase    string
		hasError bool
		want     []byte
	}{
		{"CONNECTED", false, iconConnected},
		{"CONNECTING", false, iconConnecting},
		{"DISCONNECTING", false, iconConnecting},
		{"DISABLED", false, iconDisabled},
		{"DISABLED", true, iconError},
	}
	for _, tt := range tests {
		if got := iconFor(tt.phase, tt.hasError); !bytes.Equal(got, tt.want) {
			t.Errorf("iconFor(%q, %v) picked the wrong icon", tt.phase, tt.hasError)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		phase  string
		server string
		want   string
	}{
		{"CONNECTED", "vpn.example.com", "●  Connected: vpn.example.com"},
		{"CONNECTING", "vpn.example.com", "⟳  Connecting: vpn.example.com..."},
		{"DISCONNECTING", "", "⟳  Disconnecting..."},
		{"DISABLED", "", "○  Disconnected"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.phase, tt.server); got != tt.want {
			t.Errorf("statusLabel(%q, %q) = %q, want %q", tt.phase, tt.server, got, tt.want)
		}
	}
}

func TestTooltipNamesGateway(t *testing.T) {
	got := tooltipFor("CONNECTED", "vpn.example.com")
	if !strings.Contains(got, "vpn.example.com") {
		t.Errorf("tooltipFor() = %q, want gateway named", got)
	}
	if got := tooltipFor("DISABLED", ""); !strings.Contains(got, "disconnected") {
		t.Errorf("tooltipFor() = %q, want disconnected", got)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{90 * time.Second, "00:01:30"},
		{3*time.Hour + 2*time.Minute + time.Second, "03:02:01"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
