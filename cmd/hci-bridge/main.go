package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/hci-bridge/internal/activity"
	"github.com/chaz8081/hci-bridge/internal/bridge"
	"github.com/chaz8081/hci-bridge/internal/config"
	"github.com/chaz8081/hci-bridge/internal/controller"
	"github.com/chaz8081/hci-bridge/internal/status"
	"github.com/chaz8081/hci-bridge/internal/transport"
	"github.com/chaz8081/hci-bridge/internal/version"
)

func main() {
	app := cli.NewApp()
	app.Name = "hci-bridge"
	app.Usage = "relay HCI traffic between a host serial port and a Bluetooth controller"
	app.Version = version.String()
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/hci-bridge/config.yaml)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "override log_level (debug, info, warn, error)",
		},
		cli.StringFlag{
			Name:  "host-port",
			Usage: "override host.port (\"-\" for stdin/stdout)",
		},
		cli.StringFlag{
			Name:  "mode",
			Usage: "override bridge.mode (concurrent, polling)",
		},
	}
	app.Action = runCommand
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Run the bridge until interrupted (default)",
			Action: runCommand,
		},
		{
			Name:   "ports",
			Usage:  "List serial ports usable as host or controller endpoints",
			Action: portsCommand,
		},
		{
			Name:   "init-config",
			Usage:  "Write the default config file if none exists",
			Action: initConfigCommand,
		},
		{
			Name:   "version",
			Usage:  "Print the bridge version",
			Action: versionCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, red("error: "+err.Error()))
		os.Exit(1)
	}
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	applyOverrides(c, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	setupLogging(cfg)
	// Standard output carries H4 traffic when the host is on stdio.
	banner := io.Writer(os.Stdout)
	if cfg.Host.Port == transport.StdioPort {
		banner = os.Stderr
	}
	printBanner(banner, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runBridge(ctx, cfg)
}

func runBridge(ctx context.Context, cfg *config.Config) error {
	var indicator activity.Func
	if cfg.Activity.LED != "" {
		led := activity.NewLED(cfg.Activity.LED)
		defer led.Close()
		indicator = led.Func()
	}

	ctrlTransport := controller.Transport(cfg.Controller.Transport)
	opener := &controller.Opener{
		Host: transport.SerialConfig{
			Port:        cfg.Host.Port,
			Baud:        cfg.Host.Baud,
			ReadTimeout: cfg.Host.ReadTimeout,
		},
		Controller: controller.Options{
			Transport:   ctrlTransport,
			Device:      cfg.Controller.Device,
			Port:        cfg.Controller.Port,
			Baud:        cfg.Controller.Baud,
			ReadTimeout: cfg.Controller.ReadTimeout,
		},
	}
	if ctrlTransport == controller.TransportHCIUser && cfg.Controller.BringUp {
		opener.BringUp = controller.NewBringUp(controller.AdapterFor(cfg.Controller.Device), cfg.Controller.Device)
	}

	sd := status.NewSystemd()
	sup := bridge.NewSupervisor(opener, bridge.SupervisorOptions{
		Interval:    cfg.Backoff.Interval,
		MaxInterval: cfg.Backoff.Max,
		Transport:   ctrlTransport.ID(),
		Session: bridge.SessionOptions{
			Mode:      bridge.Mode(cfg.Bridge.Mode),
			ChunkSize: cfg.Bridge.ChunkSize,
			Activity:  indicator,
			OnState:   sd.OnState,
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sd.Watchdog(gctx)
		return nil
	})
	if cfg.Status.Listen != "" {
		g.Go(func() error { return status.Serve(gctx, cfg.Status.Listen, sup) })
	}
	g.Go(func() error { return sup.Run(gctx) })

	err := g.Wait()
	sd.Stopping()
	slog.Info("[BRIDGE] stopped", "sessions", sup.Status().Session)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// applyOverrides applies command-line flags on top of the loaded config.
func applyOverrides(c *cli.Context, cfg *config.Config) {
	if v := c.GlobalString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.GlobalString("host-port"); v != "" {
		cfg.Host.Port = v
	}
	if v := c.GlobalString("mode"); v != "" {
		cfg.Bridge.Mode = v
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

func setupLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// printBanner displays the startup configuration summary.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, cyan("=== hci-bridge "+version.String()+" ==="))
	if cfg.Host.Port == transport.StdioPort {
		fmt.Fprintln(w, "  Host:       stdio")
	} else {
		fmt.Fprintf(w, "  Host:       %s @ %d\n", cfg.Host.Port, cfg.Host.Baud)
	}
	switch cfg.Controller.Transport {
	case string(controller.TransportUART):
		fmt.Fprintf(w, "  Controller: uart %s @ %d\n", cfg.Controller.Port, cfg.Controller.Baud)
	default:
		fmt.Fprintf(w, "  Controller: hci%d (user channel)\n", cfg.Controller.Device)
	}
	fmt.Fprintf(w, "  Mode:       %s\n", cfg.Bridge.Mode)
	fmt.Fprintf(w, "  Backoff:    %s\n", cfg.Backoff.Interval)
	if cfg.Activity.LED != "" {
		fmt.Fprintf(w, "  LED:        %s\n", cfg.Activity.LED)
	}
	if cfg.Status.Listen != "" {
		fmt.Fprintf(w, "  Status:     http://%s/status\n", cfg.Status.Listen)
	}
	fmt.Fprintf(w, "  Log:        %s\n", cfg.LogLevel)
	fmt.Fprintln(w, cyan("==============================="))
}

func portsCommand(c *cli.Context) error {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println(yellow("No serial ports found"))
		return nil
	}
	for _, p := range ports {
		if !p.IsUSB {
			fmt.Println(p.Name)
			continue
		}
		fmt.Printf("%s  %s  %s:%s", green(p.Name), p.Product, p.VID, p.PID)
		if p.SerialNumber != "" {
			fmt.Printf("  serial=%s", p.SerialNumber)
		}
		fmt.Println()
	}
	return nil
}

func initConfigCommand(c *cli.Context) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println(yellow("Config already exists at " + config.DefaultConfigPath()))
		return nil
	}
	fmt.Println(green("Wrote default config to " + path))
	return nil
}

func versionCommand(c *cli.Context) error {
	fmt.Println("hci-bridge", version.String())
	return nil
}

func cyan(s string) string   { return color.New(color.FgHiCyan).SprintFunc()(s) }
func green(s string) string  { return color.New(color.FgHiGreen).SprintFunc()(s) }
func yellow(s string) string { return color.New(color.FgHiYellow).SprintFunc()(s) }
func red(s string) string    { return color.New(color.FgHiRed).SprintFunc()(s) }
