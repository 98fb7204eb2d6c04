package server

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// startFileWatcher initializes fsnotify watcher for recursive library monitoring.
func (ms *MusicServer) startFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	ms.watcher = watcher

	go ms.watchFiles()

	if err := ms.addDirectoryToWatcher(ms.config.Library.Path); err != nil {
		return err
	}

	ms.logger.WithField("library_path", ms.config.Library.Path).Info("File watcher started")
	return nil
}

// addDirectoryToWatcher recursively walks and adds subdirectories to watcher.
func (ms *MusicServer) addDirectoryToWatcher(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return ms.watcher.Add(path)
		}
		return nil
	})
}

// watchFiles selects on watcher channels and dispatches events.
func (ms *MusicServer) watchFiles() {
	for {
		select {
		case event, ok := <-ms.watcher.Events:
			if !ok {
				return
			}
			ms.handleFileEvent(event)

		case err, ok := <-ms.watcher.Errors:
			if !ok {
				return
			}
			ms.logger.WithError(err).Error("File watcher error")
		}
	}
}

// handleFileEvent filters events and delegates creation/removal actions.
func (ms *MusicServer) handleFileEvent(event fsnotify.Event) {
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") {
		return
	}

	isAudioFile := ms.extractor.IsAudioFile(event.Name)

	switch {
	case event.Has(fsnotify.Create) && isAudioFile:
		go func(name string) {
			time.Sleep(500 * time.Millisecond) // let the writer finish
			ms.handleNewFile(name)
		}(event.Name)

	case (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && isAudioFile:
		go ms.handleRemovedFile(event.Name)

	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := ms.addDirectoryToWatcher(event.Name); err != nil {
				ms.logger.WithError(err).WithField("directory", event.Name).Warn("Could not watch new directory")
				return
			}
			ms.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

// handleNewFile probes a new file and stores it as a sound or a layer.
func (ms *MusicServer) handleNewFile(filePath string) {
	logger := ms.logger.WithField("file_path", filePath)
	logger.Info("New audio file detected")

	exists, err := ms.db.MediaExists(filePath)
	if err != nil {
		logger.WithError(err).Error("Error checking if media exists")
		return
	}
	if exists {
		logger.Debug("Media already exists in database")
		return
	}

	add := ms.addSound
	if _, isLayer := ms.layerParent(filePath); isLayer {
		add = ms.addLayer
	}
	if _, err := add(filePath); err != nil {
		logger.WithError(err).Error("Error adding media")
		return
	}
	ms.tracks.Clear()
}

// handleRemovedFile removes rows referencing deleted audio files.
func (ms *MusicServer) handleRemovedFile(filePath string) {
	logger := ms.logger.WithField("file_path", filePath)

	if err := ms.db.RemoveByPath(filePath); err != nil {
		logger.WithError(err).Error("Error removing media from database")
		return
	}
	ms.tracks.Clear()
	logger.Info("Removed media from database")
}

// stopFileWatcher closes the watcher (idempotent).
func (ms *MusicServer) stopFileWatcher() {
	if ms.watcher != nil {
		ms.watcher.Close()
	}
}
