package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/interactionlab/tandem/config"
	"github.com/interactionlab/tandem/internal/audit"
	"github.com/interactionlab/tandem/internal/domain/model"
)

const ServiceName = "tandem"

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Coordination server for multi-participant browser experiments",
		Commands: []*cli.Command{
			serveCmd(),
			replayAuditCmd(),
		},
	}

	return app.Run(os.Args)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the coordinator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the configuration file",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "listen port (overrides config and environment)",
			},
		},
		Action: func(c *cli.Context) error {
			overrides := config.NewOverrides()
			if c.IsSet("port") {
				if err := overrides.Set("port", strconv.Itoa(c.Int("port"))); err != nil {
					return err
				}
			}

			cfg, err := config.Load(c.String("config"), overrides)
			if err != nil {
				return err
			}

			app := NewApp(cfg)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}

func replayAuditCmd() *cli.Command {
	return &cli.Command{
		Name:      "replay-audit",
		Usage:     "Re-run parity validation over a persisted audit artifact",
		ArgsUsage: "<session_id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-dir",
				Value: "data",
				Usage: "audit output directory",
			},
			&cli.StringFlag{
				Name:  "experiment",
				Value: "default",
				Usage: "experiment id the session belongs to",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("replay-audit takes exactly one session id", 2)
			}
			sessionID := model.SessionID(c.Args().First())

			report, err := audit.Replay(c.String("data-dir"), c.String("experiment"), sessionID)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Println(string(out))

			if report.Failed() {
				return cli.Exit(fmt.Sprintf("parity validation failed: %s", report.Result), 1)
			}
			return nil
		},
	}
}
