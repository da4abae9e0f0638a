// Package engine provides tunnel engine implementations for the session
// state machine. This file contains the strongSwan engine, which drives
// charon through the swanctl utility.
package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/session"
)

// SwanctlConfig configures the strongSwan engine.
type SwanctlConfig struct {
	// Binary is the swanctl executable, resolved via PATH when relative
	Binary string
	// ConnName is the connection name used in generated configs
	ConnName string
	// Device is the xfrm interface reported while the tunnel is up,
	// when the installation uses one
	Device string
}

// DefaultSwanctlConfig returns the configuration used when fields are
// left empty.
func DefaultSwanctlConfig() SwanctlConfig {
	return SwanctlConfig{
		Binary:   "swanctl",
		ConnName: "ikesession",
	}
}

// SwanctlEngine negotiates IKEv2/IPsec tunnels by loading a generated
// connection into charon and initiating it. charon owns key exchange,
// ESP, and interface/route installation; this engine only sequences it.
type SwanctlEngine struct {
	mu      sync.Mutex
	config  SwanctlConfig
	running bool
}

// NewSwanctlEngine verifies the swanctl binary is available and returns
// the engine.
func NewSwanctlEngine(config SwanctlConfig) (*SwanctlEngine, error) {
	defs := DefaultSwanctlConfig()
	if config.Binary == "" {
		config.Binary = defs.Binary
	}
	if config.ConnName == "" {
		config.ConnName = defs.ConnName
	}

	if _, err := exec.LookPath(config.Binary); err != nil {
		return nil, fmt.Errorf("swanctl binary %q not found: %w (is strongSwan installed?)", config.Binary, err)
	}
	return &SwanctlEngine{config: config}, nil
}

// Name identifies this engine in logs and status output.
func (e *SwanctlEngine) Name() string { return "swanctl" }

// DeviceName reports the configured xfrm interface while the tunnel is
// up.
func (e *SwanctlEngine) DeviceName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.config.Device == "" {
		return ""
	}
	return e.config.Device
}

// Start loads the connection and secret into charon and initiates the
// child SA. It blocks until charon reports the SA established or failed,
// or until ctx ends.
func (e *SwanctlEngine) Start(ctx context.Context, cfg session.Config) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.mu.Unlock()

	if err := e.loadConfig(ctx, cfg); err != nil {
		return err
	}
	if err := e.initiate(ctx); err != nil {
		// Clean up any half-established SA before reporting failure.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), common.AbortTimeout)
		defer cancel()
		if _, terr := e.run(cleanupCtx, "--terminate", "--ike", e.config.ConnName); terr != nil {
			common.LogDebug("engine: post-failure terminate: %v", terr)
		}
		return err
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	common.LogInfo("engine: tunnel %s established", e.config.ConnName)
	return nil
}

// Stop terminates the IKE SA and blocks until charon confirms or ctx
// ends. Stopping a stopped engine is a no-op.
func (e *SwanctlEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	out, err := e.run(ctx, "--terminate", "--ike", e.config.ConnName)
	if err != nil {
		return fmt.Errorf("terminate tunnel: %w: %s", err, lastLine(out))
	}
	common.LogInfo("engine: tunnel %s terminated", e.config.ConnName)
	return nil
}

// loadConfig writes the rendered swanctl config to a private temp file,
// loads it, and removes the file. The PSK only ever touches disk with
// 0600 permissions and for the duration of the load.
func (e *SwanctlEngine) loadConfig(ctx context.Context, cfg session.Config) error {
	path, err := e.writeConfigFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	out, err := e.run(ctx, "--load-all", "--file", path)
	if err != nil {
		return fmt.Errorf("load tunnel config: %w: %s", err, lastLine(out))
	}
	return nil
}

func (e *SwanctlEngine) writeConfigFile(cfg session.Config) (string, error) {
	f, err := os.CreateTemp("", "ikesessiond-swanctl-*.conf")
	if err != nil {
		return "", common.WrapError(err, "create temp config file")
	}
	defer f.Close()

	if err := f.Chmod(0600); err != nil {
		os.Remove(f.Name())
		return "", common.WrapError(err, "restrict temp config permissions")
	}
	if _, err := f.WriteString(renderSwanctlConf(e.config.ConnName, cfg)); err != nil {
		os.Remove(f.Name())
		return "", common.WrapError(err, "write temp config file")
	}
	return f.Name(), nil
}

// initiate brings the child SA up.
func (e *SwanctlEngine) initiate(ctx context.Context) error {
	out, err := e.run(ctx, "--initiate", "--child", e.config.ConnName)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrConnectionFailed, failureReason(out, err))
	}
	return nil
}

// run executes swanctl and returns its combined output. Arguments never
// contain secrets; the generated config file does, which is why it is
// referenced by path.
func (e *SwanctlEngine) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.config.Binary, args...)
	out, err := cmd.CombinedOutput()
	text := string(out)
	common.LogDebug("engine: %s %s: %s", e.config.Binary, strings.Join(args, " "), strings.TrimSpace(text))
	return text, err
}

// renderSwanctlConf produces a swanctl.conf snippet declaring one IKEv2
// connection authenticated by PSK, plus its secret.
func renderSwanctlConf(conn string, cfg session.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "connections {\n")
	fmt.Fprintf(&b, "    %s {\n", conn)
	fmt.Fprintf(&b, "        version = 2\n")
	fmt.Fprintf(&b, "        remote_addrs = %s\n", cfg.Server)
	fmt.Fprintf(&b, "        vips = 0.0.0.0\n")
	fmt.Fprintf(&b, "        proposals = aes256-sha256-x25519,default\n")
	fmt.Fprintf(&b, "        local {\n")
	fmt.Fprintf(&b, "            auth = psk\n")
	fmt.Fprintf(&b, "            id = %s\n", cfg.Identifier)
	fmt.Fprintf(&b, "        }\n")
	fmt.Fprintf(&b, "        remote {\n")
	fmt.Fprintf(&b, "            auth = psk\n")
	fmt.Fprintf(&b, "        }\n")
	fmt.Fprintf(&b, "        children {\n")
	fmt.Fprintf(&b, "            %s {\n", conn)
	fmt.Fprintf(&b, "                remote_ts = 0.0.0.0/0\n")
	fmt.Fprintf(&b, "                esp_proposals = aes256-sha256,default\n")
	fmt.Fprintf(&b, "            }\n")
	fmt.Fprintf(&b, "        }\n")
	fmt.Fprintf(&b, "    }\n")
	fmt.Fprintf(&b, "}\n")
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "secrets {\n")
	fmt.Fprintf(&b, "    ike-%s {\n", conn)
	fmt.Fprintf(&b, "        id = %s\n", cfg.Identifier)
	fmt.Fprintf(&b, "        secret = 0x%s\n", hex.EncodeToString(cfg.PSK))
	fmt.Fprintf(&b, "    }\n")
	fmt.Fprintf(&b, "}\n")
	return b.String()
}

// failureReason extracts the most useful line from swanctl output, since
// the exit error alone is usually just a status code.
func failureReason(out string, err error) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "failed") || strings.Contains(lower, "error") {
			return line
		}
	}
	if last := lastLine(out); last != "" {
		return last
	}
	return err.Error()
}

func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
