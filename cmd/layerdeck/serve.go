package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"layerdeck/internal/config"
	"layerdeck/internal/database"
	"layerdeck/internal/engine"
	"layerdeck/internal/logging"
	"layerdeck/internal/metadata"
	"layerdeck/internal/scheduler"
	"layerdeck/internal/server"
	"layerdeck/internal/session"
	"layerdeck/internal/telemetry"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

// app holds what every command needs after configuration is loaded
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	close  func()
}

func setup(cmd *cli.Command) (*app, error) {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("error configuring logging: %w", err)
	}

	reporting, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		logger.WithError(err).Warn("Error reporting disabled")
	} else if reporting {
		logger.WithField("environment", cfg.Telemetry.Environment).Info("Error reporting enabled")
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		close: func() {
			telemetry.Flush(2 * time.Second)
			logCloser.Close()
		},
	}, nil
}

// streamResolver maps library stream URLs to the files they serve
func streamResolver(db *database.Database) func(string) (string, bool) {
	return func(source string) (string, bool) {
		id, ok := strings.CutPrefix(source, database.StreamURL(""))
		if !ok {
			return "", false
		}
		path, err := db.GetMediaPath(id)
		if err != nil {
			return "", false
		}
		return path, true
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	if _, err := os.Stat(cfg.Library.Path); os.IsNotExist(err) {
		logger.WithField("library_path", cfg.Library.Path).Info("Creating library directory")
		if err := os.MkdirAll(cfg.Library.Path, 0755); err != nil {
			return fmt.Errorf("error creating library directory: %w", err)
		}
	}

	db, err := database.NewDatabase(cfg.Database.Path, cfg.Database.MaxConnections, logger.WithField("module", "database"))
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	defer db.Close()

	extractor := metadata.NewExtractor(cfg.Library.SupportedFormats, logger.WithField("module", "metadata"))

	loop := scheduler.NewLoop(logger.WithField("module", "scheduler"))
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go loop.Run(loopCtx)

	factory := engine.NewHeadlessFactory(engine.HeadlessConfig{
		Scheduler: loop,
		Prober:    extractor,
		Resolve:   streamResolver(db),
		TempDir:   cfg.Player.TempDir,
		Logger:    logger.WithField("module", "engine"),
	})

	sessions := session.NewManager(session.Config{
		Runner:           loop,
		Factory:          factory,
		ProgressInterval: cfg.Player.ProgressInterval(),
		DefaultVolume:    cfg.Player.DefaultVolume,
		Timeout:          cfg.Player.SessionTimeout(),
		Logger:           logger.WithField("module", "session"),
	})

	musicServer, err := server.NewMusicServer(cfg, db, extractor, sessions, logger)
	if err != nil {
		return fmt.Errorf("error creating server: %w", err)
	}

	if err := musicServer.ScanLibrary(); err != nil {
		return fmt.Errorf("error scanning library: %w", err)
	}

	if cfg.Library.ScanOnStartup {
		sounds, err := db.GetAllSounds()
		if err != nil {
			logger.WithError(err).Warn("Could not get sound count")
		} else if len(sounds) == 0 {
			logger.WithField("supported_formats", cfg.Library.SupportedFormats).Warn("No supported audio files found in library")
		}
	}

	err = musicServer.Start(ctx)
	logger.Info("Shutting down")
	musicServer.Shutdown()
	loop.Close()
	return err
}

func initConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.DefaultConfig().SaveToFile(path); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return nil
}
