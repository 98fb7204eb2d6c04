package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	// Secrets such as the Sentry DSN or the ngrok token may live in .env
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			logrus.WithError(err).Warn("Could not load .env file")
		}
	}

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
		Sources: cli.EnvVars("LAYERDECK_CONFIG"),
	}

	app := &cli.Command{
		Name:  "layerdeck",
		Usage: "Playlist and layer playback sessions over a local sound library",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Scan the library and serve the HTTP API",
				Action: serve,
			},
			{
				Name:      "probe",
				Usage:     "Print tags and duration of audio files",
				ArgsUsage: "<file>...",
				Action:    probe,
			},
			{
				Name:      "play",
				Usage:     "Play files as a playlist on the headless engine, logging progress",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "loop",
						Usage: "Keep cycling through the playlist",
					},
					&cli.FloatFlag{
						Name:  "volume",
						Usage: "Initial volume between 0 and 1",
						Value: 1,
					},
				},
				Action: play,
			},
			{
				Name:   "init-config",
				Usage:  "Write a default configuration file",
				Action: initConfig,
			},
		},
		DefaultCommand: "serve",
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "layerdeck:", err)
		os.Exit(1)
	}
}
