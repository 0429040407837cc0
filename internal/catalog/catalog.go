// ABOUTME: Media database and persisted-volume store backed by a single SQLite file
// ABOUTME: database/sql access style follows the teacher's plain unabstracted store.go; modernc.org/sqlite needs no cgo
package catalog

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/resonatehub/playbackd/internal/engine"
)

// Store resolves track ids to decodable file metadata and persists the
// single player:volume setting across restarts. It implements
// engine.Catalog and engine.VolumeStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under the player thread's single writer

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	track_id TEXT PRIMARY KEY,
	path     TEXT NOT NULL,
	codec    TEXT NOT NULL DEFAULT '',
	disabled INTEGER NOT NULL DEFAULT 0,
	title    TEXT NOT NULL DEFAULT '',
	artist   TEXT NOT NULL DEFAULT '',
	album    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Resolve looks up a track's decodable file metadata (spec.md §1(a)).
func (s *Store) Resolve(trackID string) (engine.TrackMeta, error) {
	var m engine.TrackMeta
	var disabled int
	row := s.db.QueryRow(`SELECT track_id, path, codec, disabled, title, artist, album FROM tracks WHERE track_id = ?`, trackID)
	if err := row.Scan(&m.TrackID, &m.Path, &m.Codec, &disabled, &m.Title, &m.Artist, &m.Album); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engine.TrackMeta{}, fmt.Errorf("catalog: unknown track %q", trackID)
		}
		return engine.TrackMeta{}, fmt.Errorf("catalog: resolve %q: %w", trackID, err)
	}
	m.Disabled = disabled != 0
	return m, nil
}

// Add inserts or replaces a track's catalog entry. Not part of
// engine.Catalog; used by the daemon's library-import path.
func (s *Store) Add(m engine.TrackMeta) error {
	disabled := 0
	if m.Disabled {
		disabled = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO tracks (track_id, path, codec, disabled, title, artist, album) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(track_id) DO UPDATE SET path=excluded.path, codec=excluded.codec, disabled=excluded.disabled, title=excluded.title, artist=excluded.artist, album=excluded.album`,
		m.TrackID, m.Path, m.Codec, disabled, m.Title, m.Artist, m.Album,
	)
	if err != nil {
		return fmt.Errorf("catalog: add %q: %w", m.TrackID, err)
	}
	return nil
}

const volumeKey = "player:volume"

// LoadVolume returns the persisted volume, defaulting to 100 if unset.
func (s *Store) LoadVolume() (int, error) {
	var raw string
	row := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, volumeKey)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 100, nil
		}
		return 0, fmt.Errorf("catalog: load volume: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("catalog: parse persisted volume %q: %w", raw, err)
	}
	return v, nil
}

// SaveVolume persists the current volume.
func (s *Store) SaveVolume(v int) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		volumeKey, fmt.Sprintf("%d", v),
	)
	if err != nil {
		return fmt.Errorf("catalog: save volume: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
