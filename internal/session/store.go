package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/photoframe-go/internal/picker"
)

// ErrCorruptSession is returned when the session file cannot be parsed as
// JSON. The corrupt file is deleted automatically.
var ErrCorruptSession = errors.New("corrupt session file")

// FileName is the session file's name inside the data directory.
const FileName = "picker-session.json"

// sessionFilePerms restricts the session file to owner-only because the
// picker URI grants access to the user's selection flow.
const sessionFilePerms = 0o600

const sessionDirPerms = 0o700

// Record is the on-disk format for the persisted picker session.
type Record struct {
	picker.Session
	SavedAt time.Time `json:"saved_at"`
}

// Store persists the single active picker session.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store writing dataDir/picker-session.json.
func NewStore(dataDir string, logger *slog.Logger) *Store {
	return &Store{
		path:   filepath.Join(dataDir, FileName),
		logger: logger,
	}
}

// Path returns the session file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted session. Returns nil, nil if no session file exists.
func (s *Store) Load() (*Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, s.discardCorrupt(err)
	}

	if rec.ID == "" {
		return nil, s.discardCorrupt(errors.New("missing session id"))
	}

	return &rec, nil
}

func (s *Store) discardCorrupt(cause error) error {
	s.logger.Warn("corrupt session file, deleting",
		slog.String("path", s.path),
		slog.String("error", cause.Error()),
	)

	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
		s.logger.Warn("failed to remove corrupt session file",
			slog.String("path", s.path),
			slog.String("error", rmErr.Error()),
		)
	}

	return fmt.Errorf("%w: %w", ErrCorruptSession, cause)
}

// Save writes the record atomically (temp file + rename), creating the
// directory if needed. A zero SavedAt is stamped with the current time.
func (s *Store) Save(rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), sessionDirPerms); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}

	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	tmpPath := s.path + ".tmp"

	if err := os.WriteFile(tmpPath, data, sessionFilePerms); err != nil {
		return fmt.Errorf("writing session temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming session temp file: %w", err)
	}

	return nil
}

// Delete removes the session file. No error if it doesn't exist.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}

	return nil
}
