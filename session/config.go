// Package session implements the VPN session lifecycle state machine.
// This file contains the per-attempt connection configuration.
package session

import (
	"fmt"
	"strings"

	"github.com/ikesession/ikesessiond/common"
)

// Config holds the parameters for a single connection attempt. It is
// captured when a connect request is accepted and destroyed when the
// session returns to PhaseDisabled.
//
// PSK is an opaque byte sequence. It must never appear in logs, error
// messages, or status output.
type Config struct {
	Server     string
	Identifier string
	PSK        []byte
}

// Validate checks that all required fields are present. It reports
// problems without touching any external resource.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server) == "" {
		return fmt.Errorf("%w: server address is required", common.ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Identifier) == "" {
		return fmt.Errorf("%w: identifier is required", common.ErrInvalidConfig)
	}
	if len(c.PSK) == 0 {
		return fmt.Errorf("%w: pre-shared key is required", common.ErrInvalidConfig)
	}
	return nil
}

// String returns a loggable description of the config. The pre-shared
// key is omitted.
func (c Config) String() string {
	return fmt.Sprintf("server=%q identifier=%q", c.Server, c.Identifier)
}

// clone returns a deep copy so later caller-side mutation of the PSK
// slice cannot reach the session's captured config.
func (c Config) clone() Config {
	out := c
	out.PSK = append([]byte(nil), c.PSK...)
	return out
}

// Zero overwrites the PSK bytes in place.
func (c *Config) Zero() {
	for i := range c.PSK {
		c.PSK[i] = 0
	}
	c.PSK = nil
}
