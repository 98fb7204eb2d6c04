package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"layerdeck/pkg/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a catalog row does not exist.
var ErrNotFound = errors.New("not found")

// Database wraps a *sql.DB holding the sound catalog: sounds, the layers
// recorded on top of them, and playlists of sounds. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Entry

	// Prepared statements for better performance
	insertSoundStmt  *sql.Stmt
	updateSoundStmt  *sql.Stmt
	getSoundByIDStmt *sql.Stmt
	insertLayerStmt  *sql.Stmt
	updateLayerStmt  *sql.Stmt
	getLayerByIDStmt *sql.Stmt
}

const soundColumns = `id, name, owner_name, file_path, COALESCE(image_url, ''), duration, bpm,
	COALESCE(music_key, ''), COALESCE(genre, ''), file_size, COALESCE(artwork_id, ''), slug, created_at`

const layerColumns = `id, sound_id, name, owner_name, file_path, duration, file_size, created_at`

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. Caller should Close() it
// when finished.
func NewDatabase(dbPath string, maxConnections int, logger *logrus.Entry) (*Database, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("module", "database")

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConnections < 1 {
		maxConnections = 5
	}
	conn.SetMaxOpenConns(maxConnections)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist, then
// executes any migrations. This is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	soundsTable := `
	CREATE TABLE IF NOT EXISTS sounds (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_name TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL UNIQUE,
		image_url TEXT,
		duration REAL DEFAULT 0,
		bpm INTEGER DEFAULT 0,
		music_key TEXT,
		genre TEXT,
		file_size INTEGER NOT NULL DEFAULT 0,
		slug TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	layersTable := `
	CREATE TABLE IF NOT EXISTS layers (
		id TEXT PRIMARY KEY,
		sound_id TEXT NOT NULL,
		name TEXT NOT NULL,
		owner_name TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL UNIQUE,
		duration REAL DEFAULT 0,
		file_size INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (sound_id) REFERENCES sounds(id) ON DELETE CASCADE
	);`

	playlistsTable := `
	CREATE TABLE IF NOT EXISTS playlists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	playlistSoundsTable := `
	CREATE TABLE IF NOT EXISTS playlist_sounds (
		playlist_id INTEGER,
		sound_id TEXT,
		position INTEGER,
		added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (playlist_id) REFERENCES playlists(id) ON DELETE CASCADE,
		FOREIGN KEY (sound_id) REFERENCES sounds(id) ON DELETE CASCADE,
		PRIMARY KEY (playlist_id, sound_id)
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_sounds_slug ON sounds(slug);",
		"CREATE INDEX IF NOT EXISTS idx_sounds_name ON sounds(name);",
		"CREATE INDEX IF NOT EXISTS idx_layers_sound ON layers(sound_id);",
		"CREATE INDEX IF NOT EXISTS idx_playlist_sounds_position ON playlist_sounds(playlist_id, position);",
	}

	for _, table := range []string{soundsTable, layersTable, playlistsTable, playlistSoundsTable} {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}
	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	return db.runMigrations()
}

// runMigrations performs incremental schema updates in-place. Each migration
// must be idempotent.
func (db *Database) runMigrations() error {
	// Migration 1: embedded artwork reference on sounds
	var columnExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('sounds')
		WHERE name = 'artwork_id'`).Scan(&columnExists)
	if err != nil {
		return err
	}

	if !columnExists {
		if _, err := db.conn.Exec("ALTER TABLE sounds ADD COLUMN artwork_id TEXT"); err != nil {
			return err
		}
		db.logger.Info("Added artwork_id column to sounds table")
	}

	return nil
}

// prepareStatements prepares commonly used SQL statements
func (db *Database) prepareStatements() error {
	var err error

	db.insertSoundStmt, err = db.conn.Prepare(`
		INSERT INTO sounds (id, name, owner_name, file_path, image_url, duration, bpm, music_key, genre, file_size, artwork_id, slug)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert sound statement: %w", err)
	}

	db.updateSoundStmt, err = db.conn.Prepare(`
		UPDATE sounds SET name = ?, owner_name = ?, image_url = ?, duration = ?, bpm = ?, music_key = ?, genre = ?, file_size = ?, artwork_id = ?, slug = ?
		WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare update sound statement: %w", err)
	}

	db.getSoundByIDStmt, err = db.conn.Prepare(`SELECT ` + soundColumns + ` FROM sounds WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get sound statement: %w", err)
	}

	db.insertLayerStmt, err = db.conn.Prepare(`
		INSERT INTO layers (id, sound_id, name, owner_name, file_path, duration, file_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert layer statement: %w", err)
	}

	db.updateLayerStmt, err = db.conn.Prepare(`
		UPDATE layers SET sound_id = ?, name = ?, owner_name = ?, duration = ?, file_size = ?
		WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare update layer statement: %w", err)
	}

	db.getLayerByIDStmt, err = db.conn.Prepare(`SELECT ` + layerColumns + ` FROM layers WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get layer statement: %w", err)
	}

	return nil
}

// StreamURL is the API path a sound or layer is served from.
func StreamURL(id string) string {
	return "/stream/" + id
}

// ArtworkURL is the API path embedded artwork is served from.
func ArtworkURL(artworkID string) string {
	return "/artwork/" + artworkID
}

// UpsertSound inserts a new sound or updates the one stored for the same
// file path, returning the sound's ID.
func (db *Database) UpsertSound(sound models.Sound) (string, error) {
	var existingID string
	err := db.conn.QueryRow("SELECT id FROM sounds WHERE file_path = ?", sound.FilePath).Scan(&existingID)
	if err == nil {
		_, err = db.updateSoundStmt.Exec(
			sound.Name, sound.OwnerName, sound.ImageURL, sound.Duration, sound.BPM,
			sound.Key, sound.Genre, sound.FileSize, sound.ArtworkID, sound.Slug,
			existingID)
		if err != nil {
			db.logger.WithError(err).WithField("sound_id", existingID).Error("Failed to update existing sound")
		}
		return existingID, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id := sound.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = db.insertSoundStmt.Exec(
		id, sound.Name, sound.OwnerName, sound.FilePath, sound.ImageURL, sound.Duration,
		sound.BPM, sound.Key, sound.Genre, sound.FileSize, sound.ArtworkID, sound.Slug)
	if err != nil {
		db.logger.WithError(err).WithField("file_path", sound.FilePath).Error("Failed to insert new sound")
		return "", err
	}
	return id, nil
}

// UpsertLayer inserts a new layer or updates the one stored for the same
// file path, returning the layer's ID.
func (db *Database) UpsertLayer(layer models.Layer) (string, error) {
	var existingID string
	err := db.conn.QueryRow("SELECT id FROM layers WHERE file_path = ?", layer.FilePath).Scan(&existingID)
	if err == nil {
		_, err = db.updateLayerStmt.Exec(
			layer.SoundID, layer.Name, layer.OwnerName, layer.Duration, layer.FileSize,
			existingID)
		if err != nil {
			db.logger.WithError(err).WithField("layer_id", existingID).Error("Failed to update existing layer")
		}
		return existingID, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	id := layer.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = db.insertLayerStmt.Exec(
		id, layer.SoundID, layer.Name, layer.OwnerName, layer.FilePath, layer.Duration, layer.FileSize)
	if err != nil {
		db.logger.WithError(err).WithField("file_path", layer.FilePath).Error("Failed to insert new layer")
		return "", err
	}
	return id, nil
}

// GetAllSounds returns every sound ordered by name.
func (db *Database) GetAllSounds() ([]models.Sound, error) {
	rows, err := db.conn.Query(`SELECT ` + soundColumns + ` FROM sounds ORDER BY name, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSoundRows(rows)
}

// GetSoundByID returns a single sound.
func (db *Database) GetSoundByID(id string) (*models.Sound, error) {
	sound, err := scanSound(db.getSoundByIDStmt.QueryRow(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sound, nil
}

// GetSoundsByIDs returns the sounds for ids in the given order, skipping
// ids that do not exist.
func (db *Database) GetSoundsByIDs(ids []string) ([]models.Sound, error) {
	sounds := make([]models.Sound, 0, len(ids))
	for _, id := range ids {
		sound, err := db.GetSoundByID(id)
		if errors.Is(err, ErrNotFound) {
			db.logger.WithField("sound_id", id).Debug("Skipping unknown sound")
			continue
		}
		if err != nil {
			return nil, err
		}
		sounds = append(sounds, *sound)
	}
	return sounds, nil
}

// SoundIDBySlug finds the sound a layer directory refers to.
func (db *Database) SoundIDBySlug(slug string) (string, error) {
	var id string
	err := db.conn.QueryRow("SELECT id FROM sounds WHERE slug = ? ORDER BY created_at LIMIT 1", slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

// GetLayersForSound returns the layers recorded on a sound, oldest first.
func (db *Database) GetLayersForSound(soundID string) ([]models.Layer, error) {
	rows, err := db.conn.Query(`SELECT `+layerColumns+` FROM layers WHERE sound_id = ? ORDER BY created_at, name`, soundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var layers []models.Layer
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

// GetLayerByID returns a single layer.
func (db *Database) GetLayerByID(id string) (*models.Layer, error) {
	layer, err := scanLayer(db.getLayerByIDStmt.QueryRow(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &layer, nil
}

// GetMediaPath returns the file behind a sound or layer id.
func (db *Database) GetMediaPath(id string) (string, error) {
	var path string
	err := db.conn.QueryRow(`
		SELECT file_path FROM sounds WHERE id = ?
		UNION ALL
		SELECT file_path FROM layers WHERE id = ?
		LIMIT 1`, id, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return path, err
}

// RemoveByPath deletes the sound or layer stored for a file path.
func (db *Database) RemoveByPath(filePath string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM layers WHERE file_path = ?", filePath); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM sounds WHERE file_path = ?", filePath); err != nil {
		return err
	}
	return tx.Commit()
}

// MediaExists reports whether a sound or layer is stored for a file path.
func (db *Database) MediaExists(filePath string) (bool, error) {
	var count int
	err := db.conn.QueryRow(`
		SELECT (SELECT COUNT(*) FROM sounds WHERE file_path = ?) +
		       (SELECT COUNT(*) FROM layers WHERE file_path = ?)`, filePath, filePath).Scan(&count)
	return count > 0, err
}

// CreatePlaylist inserts a new playlist and returns its ID.
func (db *Database) CreatePlaylist(name, description string) (int, error) {
	result, err := db.conn.Exec("INSERT INTO playlists (name, description) VALUES (?, ?)", name, description)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// GetAllPlaylists returns all playlists along with derived track counts.
func (db *Database) GetAllPlaylists() ([]models.Playlist, error) {
	rows, err := db.conn.Query(`
		SELECT p.id, p.name, COALESCE(p.description, ''), p.created_at, COUNT(ps.sound_id)
		FROM playlists p
		LEFT JOIN playlist_sounds ps ON p.id = ps.playlist_id
		GROUP BY p.id
		ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var playlists []models.Playlist
	for rows.Next() {
		var p models.Playlist
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.TrackCount); err != nil {
			return nil, err
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

// GetPlaylist returns a playlist with its track count.
func (db *Database) GetPlaylist(id int) (*models.Playlist, error) {
	var p models.Playlist
	err := db.conn.QueryRow(`
		SELECT p.id, p.name, COALESCE(p.description, ''), p.created_at,
		       (SELECT COUNT(*) FROM playlist_sounds WHERE playlist_id = p.id)
		FROM playlists p WHERE p.id = ?`, id).Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.TrackCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlaylistSounds returns the sounds of a playlist in stored order.
func (db *Database) GetPlaylistSounds(playlistID int) ([]models.Sound, error) {
	rows, err := db.conn.Query(`
		SELECT s.id, s.name, s.owner_name, s.file_path, COALESCE(s.image_url, ''), s.duration, s.bpm,
		       COALESCE(s.music_key, ''), COALESCE(s.genre, ''), s.file_size, COALESCE(s.artwork_id, ''), s.slug, s.created_at
		FROM sounds s
		JOIN playlist_sounds ps ON s.id = ps.sound_id
		WHERE ps.playlist_id = ?
		ORDER BY ps.position`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSoundRows(rows)
}

// AddSoundToPlaylist appends a sound to the end of a playlist (if not
// already present).
func (db *Database) AddSoundToPlaylist(playlistID int, soundID string) error {
	var maxPosition sql.NullInt64
	err := db.conn.QueryRow("SELECT MAX(position) FROM playlist_sounds WHERE playlist_id = ?", playlistID).Scan(&maxPosition)
	if err != nil {
		return err
	}
	position := 0
	if maxPosition.Valid {
		position = int(maxPosition.Int64) + 1
	}

	_, err = db.conn.Exec(`
		INSERT OR IGNORE INTO playlist_sounds (playlist_id, sound_id, position)
		VALUES (?, ?, ?)`, playlistID, soundID, position)
	return err
}

// RemoveSoundFromPlaylist removes a sound from the given playlist.
func (db *Database) RemoveSoundFromPlaylist(playlistID int, soundID string) error {
	_, err := db.conn.Exec("DELETE FROM playlist_sounds WHERE playlist_id = ? AND sound_id = ?", playlistID, soundID)
	return err
}

// DeletePlaylist deletes the playlist and its entries.
func (db *Database) DeletePlaylist(playlistID int) error {
	_, err := db.conn.Exec("DELETE FROM playlists WHERE id = ?", playlistID)
	return err
}

// Close closes the prepared statements and the connection.
func (db *Database) Close() error {
	stmts := []*sql.Stmt{
		db.insertSoundStmt, db.updateSoundStmt, db.getSoundByIDStmt,
		db.insertLayerStmt, db.updateLayerStmt, db.getLayerByIDStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return db.conn.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSound(row rowScanner) (models.Sound, error) {
	var s models.Sound
	err := row.Scan(&s.ID, &s.Name, &s.OwnerName, &s.FilePath, &s.ImageURL, &s.Duration, &s.BPM,
		&s.Key, &s.Genre, &s.FileSize, &s.ArtworkID, &s.Slug, &s.CreatedAt)
	if err != nil {
		return s, err
	}
	s.SourceURL = StreamURL(s.ID)
	if s.ImageURL == "" && s.ArtworkID != "" {
		s.ImageURL = ArtworkURL(s.ArtworkID)
	}
	return s, nil
}

// scanSoundRows scans sound result sets. Callers must have already deferred
// rows.Close().
func scanSoundRows(rows *sql.Rows) ([]models.Sound, error) {
	var sounds []models.Sound
	for rows.Next() {
		s, err := scanSound(rows)
		if err != nil {
			return nil, err
		}
		sounds = append(sounds, s)
	}
	return sounds, rows.Err()
}

func scanLayer(row rowScanner) (models.Layer, error) {
	var l models.Layer
	err := row.Scan(&l.ID, &l.SoundID, &l.Name, &l.OwnerName, &l.FilePath, &l.Duration, &l.FileSize, &l.CreatedAt)
	if err != nil {
		return l, err
	}
	l.SourceURL = StreamURL(l.ID)
	return l, nil
}
