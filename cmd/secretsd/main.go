package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "secretsd",
		Usage: "Share secrets anonymously, after logging in",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "pretty",
				Usage:   "Human friendly console logs instead of JSON",
				EnvVars: []string{"SECRETS_PRETTY_LOGS"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"SECRETS_LOG_LEVEL"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := zerolog.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(level)
			if ctx.Bool("pretty") {
				log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			sweepCmd(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Error().Err(err).Msg("Application failed")
		os.Exit(1)
	}
}
