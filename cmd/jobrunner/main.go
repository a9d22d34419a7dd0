// jobrunner runs the jobs configured in a YAML or JSON file.
//
// Usage:
//
//	jobrunner [--config jobs.yaml] run
//	jobrunner [--config jobs.yaml] validate
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/quintans/dig-scheduler/internal/app"
	"github.com/quintans/dig-scheduler/internal/config"
)

const stopTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "jobrunner:", err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobrunner",
		Usage: "run scheduled jobs, each in its own dependency scope",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path of the YAML or JSON configuration",
				Sources: cli.EnvVars("JOBRUNNER_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the scheduler until interrupted",
				Action: runAction,
			},
			{
				Name:   "validate",
				Usage:  "check the configuration and exit",
				Action: validateAction,
			},
		},
		DefaultCommand: "run",
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	fxApp := app.New(cfg)
	if err := fxApp.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return fxApp.Stop(stopCtx)
}

func validateAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "configuration is valid: %d job(s), store %s\n", len(cfg.Jobs), cfg.Store.Driver)
	return nil
}
