// Package cli implements the terminal client for the session daemon.
// Commands talk to a running daemon over the local control API, so
// they behave the same whether the daemon was started by systemd or
// by hand in another shell.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/control"
	"github.com/ikesession/ikesessiond/keyring"
)

// PSKEnvVar names the environment variable consulted for the
// pre-shared key before falling back to an interactive prompt.
const PSKEnvVar = "IKESD_PSK"

// CLI runs commands against a daemon instance.
type CLI struct {
	client *control.Client
	out    io.Writer
}

// New returns a CLI talking to the daemon at addr. An empty addr uses
// the default loopback address.
func New(addr, token string) *CLI {
	return &CLI{
		client: control.NewClient(addr, token),
		out:    os.Stdout,
	}
}

// ConnectOptions carries the connect command's inputs. The pre-shared
// key is deliberately absent: it is resolved from a file, the
// environment, the keyring, or a prompt so it never appears in shell
// history or process listings.
type ConnectOptions struct {
	Server     string
	Identifier string
	PSKFile    string
	SavePSK    bool
}

// Connect asks the daemon to bring the tunnel up and waits for the
// attempt to resolve.
func (c *CLI) Connect(ctx context.Context, opts ConnectOptions) error {
	if opts.Server == "" {
		return fmt.Errorf("%w: server is required", common.ErrInvalidConfig)
	}

	psk, err := resolvePSK(opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Connecting to %s...\n", opts.Server)

	if _, err := c.client.Connect(ctx, control.ConnectRequest{
		Server:     opts.Server,
		Identifier: opts.Identifier,
		PSK:        string(psk),
	}); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "✓ Connected to %s\n", opts.Server)

	// Only keys that actually worked are worth keeping.
	if opts.SavePSK {
		if err := keyring.Store(opts.Server, opts.Identifier, psk); err != nil {
			fmt.Fprintf(c.out, "Warning: could not save key: %v\n", err)
		} else {
			fmt.Fprintln(c.out, "✓ Pre-shared key saved")
		}
	}
	return nil
}

// Forget removes the stored pre-shared key for a gateway.
func (c *CLI) Forget(server, identifier string) error {
	if server == "" {
		return fmt.Errorf("%w: server is required", common.ErrInvalidConfig)
	}

	if err := keyring.Delete(server, identifier); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "✓ Forgot key for %s\n", server)
	return nil
}

// Disconnect tears the tunnel down gracefully. Asking while already
// disconnected is not an error.
func (c *CLI) Disconnect(ctx context.Context) error {
	fmt.Fprintln(c.out, "Disconnecting...")

	if _, err := c.client.Disconnect(ctx); err != nil {
		return err
	}

	fmt.Fprintln(c.out, "✓ Disconnected")
	return nil
}

// ForceDisconnect aborts whatever the session is doing and returns it
// to the disabled phase immediately.
func (c *CLI) ForceDisconnect(ctx context.Context) error {
	if _, err := c.client.ForceDisconnect(ctx); err != nil {
		return err
	}

	fmt.Fprintln(c.out, "✓ Session reset")
	return nil
}

// Status shows the daemon's current view of the session.
func (c *CLI) Status(ctx context.Context) error {
	status, err := c.client.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Phase:\t%s\n", status.State.Phase)
	if status.State.Server != "" {
		fmt.Fprintf(w, "Server:\t%s\n", status.State.Server)
	}
	if status.State.Identifier != "" {
		fmt.Fprintf(w, "Identifier:\t%s\n", status.State.Identifier)
	}
	fmt.Fprintf(w, "Engine:\t%s\n", status.Engine)
	if status.Device != "" {
		fmt.Fprintf(w, "Device:\t%s\n", status.Device)
	}
	if status.UptimeSec > 0 {
		fmt.Fprintf(w, "Uptime:\t%s\n", formatDuration(time.Duration(status.UptimeSec)*time.Second))
	}
	fmt.Fprintf(w, "Health:\t%s\n", status.Health.State)
	if status.Stats != nil {
		fmt.Fprintf(w, "Traffic:\t%s sent, %s received\n",
			formatBytes(status.Stats.BytesSent), formatBytes(status.Stats.BytesRecv))
	}
	if status.State.Error != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", status.State.Error)
	}
	fmt.Fprintf(w, "Daemon:\t%s\n", status.Version)

	return w.Flush()
}

// Permission reports whether the gate currently authorizes tunnel
// changes, without triggering an interactive authorization request.
func (c *CLI) Permission(ctx context.Context) error {
	resp, err := c.client.Permission(ctx)
	if err != nil {
		return err
	}

	if resp.Allowed {
		fmt.Fprintln(c.out, "✓ Tunnel management is authorized")
	} else {
		fmt.Fprintln(c.out, "✗ Tunnel management requires authorization")
	}
	return nil
}

// History lists recent connection attempts, newest first.
func (c *CLI) History(ctx context.Context, limit int) error {
	attempts, err := c.client.History(ctx, limit)
	if err != nil {
		return err
	}

	if len(attempts) == 0 {
		fmt.Fprintln(c.out, "No connection attempts recorded.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSERVER\tOUTCOME\tDURATION\tERROR")
	fmt.Fprintln(w, "-------\t------\t-------\t--------\t-----")

	for _, a := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			formatTimestamp(a.StartedAt), a.Server, a.Outcome,
			attemptDuration(a), orDash(a.Error))
	}

	return w.Flush()
}

// Watch streams phase changes to the terminal until ctx is cancelled.
func (c *CLI) Watch(ctx context.Context) error {
	fmt.Fprintln(c.out, "Watching session events (Ctrl+C to stop)...")

	err := c.client.Watch(ctx, func(msg control.EventMessage) {
		line := fmt.Sprintf("%s  %s", formatTimestamp(msg.Timestamp), msg.State.Phase)
		if msg.State.Server != "" {
			line += "  " + msg.State.Server
		}
		if msg.State.Error != "" {
			line += "  (" + msg.State.Error + ")"
		}
		if msg.Type == control.MsgSnapshot {
			line += "  [current]"
		}
		fmt.Fprintln(c.out, line)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// resolvePSK obtains the pre-shared key: from the key file when one
// was given, else from IKESD_PSK, else from a key saved in the
// keyring, else by prompting on the terminal.
func resolvePSK(opts ConnectOptions) ([]byte, error) {
	if opts.PSKFile != "" {
		data, err := os.ReadFile(opts.PSKFile)
		if err != nil {
			return nil, fmt.Errorf("read PSK file: %w", err)
		}
		psk := bytes.TrimRight(data, "\r\n")
		if len(psk) == 0 {
			return nil, fmt.Errorf("%w: PSK file %s is empty", common.ErrInvalidConfig, opts.PSKFile)
		}
		return psk, nil
	}

	if psk := os.Getenv(PSKEnvVar); psk != "" {
		return []byte(psk), nil
	}

	if opts.Server != "" {
		if psk, err := keyring.Get(opts.Server, opts.Identifier); err == nil {
			return psk, nil
		}
	}

	return promptPSK()
}

// promptPSK reads the key from the terminal with echo disabled.
func promptPSK() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%w: no PSK given and stdin is not a terminal", common.ErrInvalidConfig)
	}

	fmt.Fprint(os.Stderr, "Pre-shared key: ")
	psk, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read PSK: %w", err)
	}
	if len(psk) == 0 {
		return nil, fmt.Errorf("%w: empty PSK", common.ErrInvalidConfig)
	}
	return psk, nil
}

// ExitCode maps an error to the process exit status: 0 on success, 2
// for usage and configuration problems, 3 when the daemon is not
// reachable, 4 when authorization is refused, 1 otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, common.ErrInvalidConfig):
		return 2
	case errors.Is(err, common.ErrNotRunning):
		return 3
	case errors.Is(err, common.ErrPermissionDenied),
		errors.Is(err, common.ErrUnauthorized):
		return 4
	default:
		return 1
	}
}

// attemptDuration renders how long an attempt lasted, or "-" while it
// is still open.
func attemptDuration(a control.Attempt) string {
	if a.EndedAt == "" {
		return "-"
	}
	started, err1 := time.Parse(time.RFC3339, a.StartedAt)
	ended, err2 := time.Parse(time.RFC3339, a.EndedAt)
	if err1 != nil || err2 != nil {
		return "-"
	}
	return formatDuration(ended.Sub(started))
}

// formatTimestamp renders an RFC 3339 timestamp in local time.
func formatTimestamp(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Printf(`ikesession - IKEv2 session control

Usage:
  ikesession [OPTIONS] COMMAND

Commands:
  daemon                Run the session daemon in the foreground
  status                Show the current session state
  connect SERVER        Bring the tunnel up and wait for the outcome
  disconnect            Tear the tunnel down gracefully
  force-disconnect      Abort immediately, whatever the session is doing
  permission            Report whether tunnel changes are authorized
  history               List recent connection attempts
  watch                 Stream phase changes as they happen
  tui                   Open the interactive dashboard
  tray                  Run a system tray indicator
  forget SERVER         Remove the saved pre-shared key for a gateway
  version               Show version and exit

Options:
  --addr HOST:PORT      Daemon control address (default %s)
  --token TOKEN         Control API token (default from the config file)
  --config PATH         Configuration file path
  --id NAME             IKE identifier to present on connect
  --psk-file PATH       Read the pre-shared key from a file
  --save-psk            Save the key to the keyring after connecting
  --limit N             Number of history rows to show
  --help                Show this help message

Examples:
  ikesession connect vpn.example.com --id alice@example.com --save-psk
  ikesession status
  ikesession disconnect

Notes:
  - The pre-shared key is read from --psk-file, then the IKESD_PSK
    environment variable, then the keyring, then an interactive
    prompt. It is never accepted as a command-line argument.
  - connect blocks until the attempt succeeds or fails.
`, common.DefaultListenAddr)
}
