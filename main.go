// Package main provides the entry point for ikesession, a daemon and
// CLI that manage the lifecycle of a single IKEv2/IPsec tunnel.
//
// The daemon owns the session state machine, drives the tunnel engine,
// checks authorization through polkit, journals connection attempts,
// and exposes a local HTTP and WebSocket control API. Every other
// command is a thin client of that API.
//
// Usage:
//
//	ikesession [options] COMMAND
//
// Environment:
//
//	The default engine drives strongSwan via the swanctl binary, which
//	must be installed and running for real tunnels. The simulated "dev"
//	engine needs nothing.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ikesession/ikesessiond/cli"
	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/config"
	"github.com/ikesession/ikesessiond/control"
	"github.com/ikesession/ikesessiond/engine"
	"github.com/ikesession/ikesessiond/history"
	"github.com/ikesession/ikesessiond/permission"
	"github.com/ikesession/ikesessiond/session"
	"github.com/ikesession/ikesessiond/tray"
	"github.com/ikesession/ikesessiond/tui"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	showVersion = flag.Bool("version", false, "Show version and exit")
	showHelp    = flag.Bool("help", false, "Show help message")
	configPath  = flag.String("config", "", "Configuration file path")
	addrFlag    = flag.String("addr", "", "Daemon control address")
	tokenFlag   = flag.String("token", "", "Control API token")
)

func main() {
	flag.Usage = cli.PrintHelp
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		os.Exit(0)
	}
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintHelp()
		os.Exit(2)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "help":
		cli.PrintHelp()
	case "version":
		printVersion()
	case "daemon":
		if err := runDaemon(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		runCommand(cmd, rest)
	}
}

func printVersion() {
	fmt.Printf("%s v%s\n", common.AppName, appVersion)
	if buildTime != "unknown" {
		fmt.Printf("  Build:  %s\n", buildTime)
		fmt.Printf("  Commit: %s\n", commitSHA)
	}
}

// runCommand dispatches a client command against a running daemon.
// Ctrl+C cancels the command, which matters for connect and watch.
func runCommand(cmd string, args []string) {
	addr, token := clientTarget()
	app := cli.New(addr, token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "status":
		err = app.Status(ctx)
	case "connect":
		var opts cli.ConnectOptions
		if opts, err = parseConnectArgs(args); err == nil {
			err = app.Connect(ctx, opts)
		}
	case "disconnect":
		err = app.Disconnect(ctx)
	case "force-disconnect":
		err = app.ForceDisconnect(ctx)
	case "permission":
		err = app.Permission(ctx)
	case "history":
		var limit int
		if limit, err = parseHistoryArgs(args); err == nil {
			err = app.History(ctx, limit)
		}
	case "watch":
		err = app.Watch(ctx)
	case "tui":
		err = tui.Run(addr, token)
	case "tray":
		err = tray.Run(addr, token)
	case "forget":
		var server, id string
		if server, id, err = parseForgetArgs(args); err == nil {
			err = app.Forget(server, id)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		cli.PrintHelp()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}

// clientTarget resolves where client commands connect. Flags win;
// otherwise the daemon's config file supplies the address and token,
// so commands work out of the box on the machine the daemon runs on.
func clientTarget() (addr, token string) {
	addr, token = *addrFlag, *tokenFlag
	if addr != "" && token != "" {
		return addr, token
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return addr, token
	}
	if addr == "" {
		addr = cfg.Control.ListenAddr
	}
	if token == "" {
		token = cfg.Control.Token
	}
	return addr, token
}

// parseConnectArgs reads "connect SERVER [--id NAME] [--psk-file PATH]
// [--save-psk]". Flags may also follow the server argument.
func parseConnectArgs(args []string) (cli.ConnectOptions, error) {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	id := fs.String("id", "", "IKE identifier to present")
	pskFile := fs.String("psk-file", "", "Read the pre-shared key from a file")
	savePSK := fs.Bool("save-psk", false, "Save the key to the keyring after connecting")

	if err := fs.Parse(args); err != nil {
		return cli.ConnectOptions{}, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	server := fs.Arg(0)
	if rest := fs.Args(); len(rest) > 1 {
		if err := fs.Parse(rest[1:]); err != nil {
			return cli.ConnectOptions{}, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
		}
	}

	return cli.ConnectOptions{
		Server:     server,
		Identifier: *id,
		PSKFile:    *pskFile,
		SavePSK:    *savePSK,
	}, nil
}

// parseForgetArgs reads "forget SERVER [--id NAME]".
func parseForgetArgs(args []string) (server, id string, err error) {
	fs := flag.NewFlagSet("forget", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	idFlag := fs.String("id", "", "IKE identifier the key was saved under")

	if err := fs.Parse(args); err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	server = fs.Arg(0)
	if rest := fs.Args(); len(rest) > 1 {
		if err := fs.Parse(rest[1:]); err != nil {
			return "", "", fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
		}
	}

	return server, *idFlag, nil
}

// parseHistoryArgs reads "history [--limit N]". A zero limit lets the
// daemon apply its default.
func parseHistoryArgs(args []string) (int, error) {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 0, "Number of history rows to show")

	if err := fs.Parse(args); err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
	}
	return *limit, nil
}

// runDaemon brings up the whole daemon: engine, permission gate,
// session manager, health monitor, attempt journal, and the control
// API. It blocks until SIGINT or SIGTERM.
func runDaemon(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level, err := common.ParseLevel(cfg.Daemon.LogLevel)
	if err != nil {
		level = common.LevelInfo
	}
	if err := common.InitLogger(common.LogConfig{
		Level:      level,
		EnableFile: cfg.Daemon.LogFile != "",
		FilePath:   cfg.Daemon.LogFile,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	common.LogInfo("Starting %s v%s (engine %s)", common.AppName, appVersion, cfg.Engine.Type)

	eng, err := buildEngine(cfg.Engine)
	if err != nil {
		return err
	}
	gate := buildGate(cfg.Permission)

	manager := session.NewManager(eng, gate, cfg.Session.Options())
	defer manager.Close()

	var monitor *session.Monitor
	if cfg.Health.Enabled {
		monitor = session.NewMonitor(cfg.Health.MonitorConfig(), func() session.Phase {
			return manager.State().Phase
		})
		if err := monitor.Start(); err != nil {
			common.LogWarn("health monitor did not start: %v", err)
			monitor = nil
		} else {
			defer monitor.Stop()
		}
	}

	var store *history.Store
	if cfg.History.Enabled {
		dbPath := cfg.History.Path
		if dbPath == "" {
			if dbPath, err = config.DefaultHistoryPath(); err != nil {
				return err
			}
		}
		if store, err = history.Open(dbPath); err != nil {
			return err
		}
		defer store.Close()

		recorder := history.NewRecorder(store, cfg.History.Retention)
		defer manager.Subscribe(recorder.Handle)()
	}

	service := control.NewService(control.Deps{
		Manager: manager,
		Gate:    gate,
		Monitor: monitor,
		Store:   store,
		Version: appVersion,
	})
	server := control.NewServer(service, control.ServerOptions{
		Addr:  cfg.Control.ListenAddr,
		Token: cfg.Control.Token,
	})
	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	common.LogInfo("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), common.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		common.LogWarn("control API shutdown: %v", err)
	}
	return nil
}

// buildEngine selects the tunnel engine from configuration.
func buildEngine(cfg config.EngineConfig) (session.Engine, error) {
	switch cfg.Type {
	case config.EngineDev:
		return engine.NewDevEngine(engine.DevConfig{DeviceName: cfg.Device}), nil
	default:
		return engine.NewSwanctlEngine(engine.SwanctlConfig{
			Binary:   cfg.Binary,
			ConnName: cfg.ConnName,
			Device:   cfg.Device,
		})
	}
}

// buildGate selects the authorization gate. When polkit cannot be
// reached the daemon keeps running, but tunnel changes fail with a
// permission-unavailable error until it is restarted.
func buildGate(cfg config.PermissionConfig) permission.Gate {
	switch cfg.Gate {
	case config.GateAllow:
		return permission.NewStaticGate(true)
	case config.GateDeny:
		return permission.NewStaticGate(false)
	default:
		gate, err := permission.NewPolkitGate(cfg.ActionID)
		if err != nil {
			common.LogError("polkit gate unavailable: %v", err)
			return permission.NewUnavailableGate(err)
		}
		return gate
	}
}
