package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"layerdeck/internal/engine"
	"layerdeck/internal/metadata"
	"layerdeck/internal/playlist"
	"layerdeck/internal/scheduler"
	"layerdeck/internal/transport"
	"layerdeck/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func probe(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if cmd.Args().Len() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	extractor := metadata.NewExtractor(a.cfg.Library.SupportedFormats, a.logger.WithField("module", "metadata"))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, path := range cmd.Args().Slice() {
		if !extractor.IsAudioFile(path) {
			a.logger.WithField("file_path", path).Warn("Skipping unsupported file")
			continue
		}
		info, err := extractor.Probe(path)
		if err != nil {
			return fmt.Errorf("probe %s: %w", path, err)
		}
		if err := enc.Encode(info); err != nil {
			return err
		}
	}
	return nil
}

// play runs a playlist of local files on the headless engine until the last
// track ends, or forever with --loop
func play(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if cmd.Args().Len() == 0 {
		return fmt.Errorf("at least one file is required")
	}
	volume := cmd.Float("volume")
	if volume < 0 || volume > 1 {
		return fmt.Errorf("volume must be between 0 and 1")
	}

	var tracks []models.Track
	for _, path := range cmd.Args().Slice() {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
		tracks = append(tracks, models.Track{ID: abs, SourceURL: abs, DisplayName: name})
	}

	extractor := metadata.NewExtractor(a.cfg.Library.SupportedFormats, logger.WithField("module", "metadata"))
	loop := scheduler.NewLoop(logger.WithField("module", "scheduler"))
	defer loop.Close()
	go loop.Run(context.Background())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	factory := engine.NewHeadlessFactory(engine.HeadlessConfig{
		Scheduler: loop,
		Prober:    extractor,
		TempDir:   a.cfg.Player.TempDir,
		Logger:    logger.WithField("module", "engine"),
	})

	loopForever := cmd.Bool("loop")
	var p *playlist.Player
	ok := loop.Do(func() {
		t := transport.New(transport.Config{
			Scheduler:        loop,
			Factory:          factory,
			ProgressInterval: a.cfg.Player.ProgressInterval(),
			Volume:           volume,
			Logger:           logger.WithField("module", "transport"),
		})
		// Registered before the player so the index is still the one
		// that ended.
		t.Observe(func(ev transport.Event) {
			state := p.State()
			entry := logger.WithFields(logrus.Fields{
				"index": state.CurrentIndex,
				"track": tracks[state.CurrentIndex].DisplayName,
			})
			switch ev.Kind {
			case transport.EventReady:
				if state.DurationSeconds != nil {
					entry = entry.WithField("duration", fmt.Sprintf("%.1fs", *state.DurationSeconds))
				}
				entry.Info("Track ready")
			case transport.EventProgress:
				entry.WithField("position", fmt.Sprintf("%.1fs", ev.Seconds)).Info("Playing")
			case transport.EventError:
				entry.WithError(ev.Err).Warn("Track unavailable")
			case transport.EventEnded:
				entry.Info("Track ended")
				if !loopForever && state.CurrentIndex == len(tracks)-1 {
					cancel()
				}
			}
		})
		p = playlist.New(t, logrus.NewEntry(logger))
		p.LoadPlaylist(tracks)
		p.PlayIndex(0)
	})
	if !ok {
		return fmt.Errorf("scheduler stopped before playback started")
	}

	<-ctx.Done()
	loop.Do(p.Dispose)
	return nil
}
