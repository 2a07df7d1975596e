// Package alertstate persists per-race alert state for the current day.
package alertstate

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
	// FileName is the alert state file inside the data directory.
	FileName = "paddock_alerts.json"
	// Schema identifies alert state envelopes.
	Schema = "paddock.alerts"
	// Version is written by this build.
	Version = 1
)

// ErrCorruptState is returned when neither the file nor its previous copy
// decodes.
var ErrCorruptState = errors.New("corrupt alert state")

type envelope struct {
	Schema  string                      `json:"schema"`
	Version int                         `json:"version"`
	Day     string                      `json:"day"`
	States  map[string]model.AlertState `json:"states"`
}

// FileStore implements alert.StateStore on an atomically replaced file.
type FileStore struct {
	path  string
	log   logger.Logger
	clock func() time.Time
}

// Option applies a configuration option to the FileStore.
type Option func(*FileStore)

// WithClock overrides the clock that decides the current day.
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

// NewFileStore creates a store for dataDir/paddock_alerts.json.
func NewFileStore(dataDir string, opts ...Option) *FileStore {
	s := &FileStore{
		path:  filepath.Join(dataDir, FileName),
		log:   logger.Named("alertstate"),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the state file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) today() string {
	return s.clock().Format("2006-01-02")
}

// Save writes states stamped with the current day.
func (s *FileStore) Save(ctx context.Context, states map[string]model.AlertState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := envelope{Schema: Schema, Version: Version, Day: s.today(), States: states}
	if env.States == nil {
		env.States = map[string]model.AlertState{}
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode alert state: %w", err)
	}
	if err := persist.WriteAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write alert state: %w", err)
	}
	return nil
}

// Load returns today's states. A missing file or one written on another day
// yields an empty map.
func (s *FileStore) Load(ctx context.Context) (map[string]model.AlertState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	persist.RemoveStale(s.path)

	var env envelope
	_, err := persist.ReadFirst(s.path, func(b []byte) error {
		var decoded envelope
		if err := json.Unmarshal(b, &decoded); err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptState, err)
		}
		if decoded.Schema != Schema || decoded.Version != Version {
			return fmt.Errorf("%w: %s v%d", ErrCorruptState, decoded.Schema, decoded.Version)
		}
		env = decoded
		return nil
	})
	if err != nil {
		if missing(s.path) {
			return map[string]model.AlertState{}, nil
		}
		return nil, err
	}
	if env.Day != s.today() {
		s.log.Info(ctx, "alert state is from another day, starting fresh", logger.String("day", env.Day))
		return map[string]model.AlertState{}, nil
	}
	if env.States == nil {
		env.States = map[string]model.AlertState{}
	}
	return env.States, nil
}

func missing(path string) bool {
	for _, p := range []string{path, path + persist.PrevSuffix} {
		if _, err := os.Stat(p); !errors.Is(err, fs.ErrNotExist) {
			return false
		}
	}
	return true
}
