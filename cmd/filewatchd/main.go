// filewatchd - Drop-folder automation daemon
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/user/filewatchd/internal/config"
	"github.com/user/filewatchd/internal/delivery"
	"github.com/user/filewatchd/internal/diag"
	"github.com/user/filewatchd/internal/service"
	"github.com/user/filewatchd/internal/worker"
)

func main() {
	app := &cli.App{
		Name:    "filewatchd",
		Usage:   "Watch drop folders and run configured actions on settled files",
		Version: "1.0.0",
		Commands: []*cli.Command{
			startCommand(),
			statusCommand(),
			configCommand(),
			installServiceCommand(),
			uninstallServiceCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().
		Logger()
}

func configPath(c *cli.Context) string {
	if p := c.String("config"); p != "" {
		return p
	}
	return config.DefaultConfigFile()
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start watching the configured folders",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (trace, debug, info, warn, error)",
			},
		},
		Action: func(c *cli.Context) error {
			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			yellow := color.New(color.FgYellow)
			green := color.New(color.FgGreen)

			cyan.Println("filewatchd")
			cyan.Println(strings.Repeat("=", 50))

			bootLog := newLogger("info")
			store, err := config.NewStore(configPath(c), bootLog)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			defer store.Close()

			cfg := store.Current()
			level := cfg.Global.LogLevel
			if v := c.String("log-level"); v != "" {
				level = v
			}
			log := newLogger(level)

			gray.Printf("Config file: %s\n", store.Path())
			gray.Printf("Watched folders: %d, actions: %d\n", len(cfg.Folders), len(cfg.Actions))
			if len(cfg.Folders) == 0 {
				yellow.Println("No folders configured yet - edit the config file and the service will pick it up")
			}

			rec := diag.NewRecorder()
			sender := delivery.NewSender(&http.Client{Timeout: 30 * time.Second}, log)
			w := worker.New(store, rec, sender, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			w.Start(ctx)

			if err := store.Watch(); err != nil {
				log.Warn().Err(err).Msg("config hot reload unavailable")
			}

			var srv *diag.Server
			if port := cfg.Global.DiagnosticsPort; port > 0 {
				srv = diag.NewServer(port, rec, w, log)
				srv.Start()
				gray.Printf("Diagnostics: http://127.0.0.1:%d/api/status\n", port)
			}

			cyan.Println("\nWatching for dropped files...")
			gray.Println("Press Ctrl+C to stop")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan

			yellow.Println("\n\nStopping...")
			w.Stop()
			if srv != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				srv.Shutdown(shutdownCtx)
			}
			green.Println("Stopped")

			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check configuration and running daemon status",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			red := color.New(color.FgRed)
			yellow := color.New(color.FgYellow)

			cyan.Println("filewatchd Status")
			cyan.Println(strings.Repeat("=", 50))

			path := configPath(c)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				red.Println("[ERR] Configuration not found")
				yellow.Println("   Run: filewatchd config init")
				return nil
			}

			store, err := config.NewStore(path, newLogger("error"))
			if err != nil {
				red.Println("[ERR] Failed to load configuration")
				gray.Printf("   %v\n", err)
				return nil
			}
			defer store.Close()

			cfg := store.Current()
			green.Println("[OK] Configuration valid")
			gray.Printf("   %s\n", path)
			gray.Printf("   Folders: %d, actions: %d\n", len(cfg.Folders), len(cfg.Actions))
			for _, f := range cfg.Folders {
				gray.Printf("   %s -> %s\n", f.FolderPath, f.ActionName)
			}

			if port := cfg.Global.DiagnosticsPort; port > 0 {
				client := &http.Client{Timeout: 2 * time.Second}
				resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/api/status", port))
				if err != nil {
					yellow.Println("\n[WARN] Daemon not reachable")
					gray.Println("   Start with: filewatchd start")
					return nil
				}
				defer resp.Body.Close()

				var status map[string]any
				if err := json.NewDecoder(resp.Body).Decode(&status); err == nil {
					green.Println("\n[OK] Daemon running")
					gray.Printf("   Uptime: %vs\n", status["uptimeSeconds"])
					gray.Printf("   Delivered: %v, failed: %v\n", status["delivered"], status["failed"])
					if open, ok := status["openCircuits"].([]any); ok && len(open) > 0 {
						yellow.Printf("   Open circuits: %v\n", open)
					}
				}
				return nil
			}

			gray.Println("\nDiagnostics endpoint disabled (set global.diagnosticsPort to enable)")
			return nil
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or initialize the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the current configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the configuration file",
					},
				},
				Action: func(c *cli.Context) error {
					gray := color.New(color.FgHiBlack)
					yellow := color.New(color.FgYellow)

					path := configPath(c)
					data, err := os.ReadFile(path)
					if os.IsNotExist(err) {
						yellow.Println("No configuration file found")
						gray.Println("   Run: filewatchd config init")
						return nil
					}
					if err != nil {
						return err
					}
					gray.Printf("%s\n\n", path)
					fmt.Println(string(data))
					return nil
				},
			},
			{
				Name:  "init",
				Usage: "Write a default configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the configuration file",
					},
				},
				Action: func(c *cli.Context) error {
					green := color.New(color.FgGreen)
					gray := color.New(color.FgHiBlack)
					yellow := color.New(color.FgYellow)

					path := configPath(c)
					if _, err := os.Stat(path); err == nil {
						yellow.Println("Configuration already exists")
						gray.Printf("   %s\n", path)
						return nil
					}

					store, err := config.NewStore(path, newLogger("error"))
					if err != nil {
						return err
					}
					defer store.Close()
					if err := store.Save(config.Default()); err != nil {
						return fmt.Errorf("failed to write configuration: %w", err)
					}

					green.Println("Configuration created")
					gray.Printf("   %s\n", path)
					gray.Println("   Add folders and actions, then run: filewatchd start")
					return nil
				},
			},
		},
	}
}

func installServiceCommand() *cli.Command {
	return &cli.Command{
		Name:  "install-service",
		Usage: "Install as system service (launchd on macOS, systemd on Linux)",
		Action: func(c *cli.Context) error {
			installer := service.NewInstaller()
			return installer.Install()
		},
	}
}

func uninstallServiceCommand() *cli.Command {
	return &cli.Command{
		Name:  "uninstall-service",
		Usage: "Uninstall system service",
		Action: func(c *cli.Context) error {
			installer := service.NewInstaller()
			return installer.Uninstall()
		},
	}
}
