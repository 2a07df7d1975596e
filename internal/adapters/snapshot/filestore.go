// Package snapshot persists the merge store as a single JSON document that
// is replaced atomically.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/paddock/internal/adapters/persist"
	"github.com/okian/paddock/internal/domain/model"
	"github.com/okian/paddock/pkg/logger"
)

const (
	// FileName is the snapshot file inside the data directory.
	FileName = "paddock_snapshot.json"
	// Schema identifies snapshot envelopes.
	Schema = "paddock.snapshot"
	// Version is written by this build. Version 1 snapshots predate
	// confidence tiers and still load.
	Version = 2
)

type envelope struct {
	Schema  string                      `json:"schema"`
	Version int                         `json:"version"`
	Day     string                      `json:"day"`
	SavedAt time.Time                   `json:"saved_at"`
	Count   int                         `json:"count"`
	Races   map[string]model.RaceRecord `json:"races"`
}

// FileStore reads and writes the snapshot file.
type FileStore struct {
	path  string
	log   logger.Logger
	clock func() time.Time
}

// Option applies a configuration option to the FileStore.
type Option func(*FileStore)

// WithClock overrides the clock used for saved_at.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.log = l
		}
	}
}

// NewFileStore creates a store for dataDir/paddock_snapshot.json.
func NewFileStore(dataDir string, opts ...Option) *FileStore {
	s := &FileStore{
		path:  filepath.Join(dataDir, FileName),
		log:   logger.Named("snapshot"),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string { return s.path }

// Save writes races as the snapshot for day.
func (s *FileStore) Save(ctx context.Context, day string, races map[string]model.RaceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := envelope{
		Schema:  Schema,
		Version: Version,
		Day:     day,
		SavedAt: s.clock().UTC(),
		Count:   len(races),
		Races:   races,
	}
	if env.Races == nil {
		env.Races = map[string]model.RaceRecord{}
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := persist.WriteAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load returns the newest readable snapshot, falling back to the previous
// good copy when the current file is missing or damaged.
func (s *FileStore) Load(ctx context.Context) (string, map[string]model.RaceRecord, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if n := persist.RemoveStale(s.path); n > 0 {
		s.log.Warn(ctx, "removed interrupted snapshot writes", logger.Int("count", n))
	}

	var env envelope
	used, err := persist.ReadFirst(s.path, func(b []byte) error {
		decoded, derr := decode(b)
		if derr != nil {
			return derr
		}
		env = decoded
		return nil
	})
	if err != nil {
		if allMissing(s.path) {
			return "", nil, ErrNoSnapshot
		}
		return "", nil, err
	}
	if used != s.path {
		s.log.Warn(ctx, "current snapshot unusable, restored previous copy", logger.String("path", used))
	}
	return env.Day, env.Races, nil
}

func decode(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if env.Schema != Schema {
		return envelope{}, fmt.Errorf("%w: schema %q", ErrCorruptSnapshot, env.Schema)
	}
	if env.Version < 1 || env.Version > Version {
		return envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.Races == nil {
		env.Races = map[string]model.RaceRecord{}
	}
	if env.Count != len(env.Races) {
		return envelope{}, fmt.Errorf("%w: count %d, found %d races", ErrCorruptSnapshot, env.Count, len(env.Races))
	}
	if env.Day == "" {
		env.Day = env.SavedAt.Format("2006-01-02")
	}
	return env, nil
}

func allMissing(path string) bool {
	for _, p := range []string{path, path + persist.PrevSuffix} {
		if _, err := os.Stat(p); !errors.Is(err, fs.ErrNotExist) {
			return false
		}
	}
	return true
}
