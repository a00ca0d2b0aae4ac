package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/worldsave/pkg/worldsave/aggregate"
	"github.com/randalmurphal/worldsave/pkg/worldsave/codec"
	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
	"github.com/randalmurphal/worldsave/pkg/worldsave/store"
	"github.com/randalmurphal/worldsave/pkg/worldsave/stream"
	"github.com/randalmurphal/worldsave/pkg/worldsave/workers"
)

// ErrInvalidSettings is wrapped by every Validate failure.
var ErrInvalidSettings = errors.New("invalid settings")

// LoadMethod selects how saved entity records are applied on load.
type LoadMethod uint8

const (
	// LoadSync applies every record inline in one tick.
	LoadSync LoadMethod = iota
	// LoadMultithreaded matches records on a worker and applies them back
	// on the owning goroutine.
	LoadMultithreaded
	// LoadDeferred applies a fixed batch of records per tick.
	LoadDeferred
)

// String returns the method name used in configuration.
func (m LoadMethod) String() string {
	switch m {
	case LoadSync:
		return "sync"
	case LoadMultithreaded:
		return "multithreaded"
	case LoadDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ParseLoadMethod parses a configuration value.
func ParseLoadMethod(s string) (LoadMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sync", "synchronous":
		return LoadSync, nil
	case "multithreaded", "async":
		return LoadMultithreaded, nil
	case "deferred", "batched":
		return LoadDeferred, nil
	default:
		return LoadSync, fmt.Errorf("unknown load method %q", s)
	}
}

// Backend selects the blob store.
type Backend struct {
	Type string
	Path string
}

// Settings is the typed engine configuration.
type Settings struct {
	Strategy            aggregate.Strategy
	MultithreadedSaving bool
	LoadMethod          LoadMethod
	DeferredBatchSize   int

	// LoadTimeout is the load watchdog deadline. Zero disables it.
	LoadTimeout time.Duration

	Compression           bool
	PerObjectVersionCheck bool
	LegacySchemaVersion   uint32
	SchemaVersion         uint32
	GameVersion           int64

	DefaultSlot        string
	PersistentPlayer   bool
	PersistentGameMode bool
	AutoDestroy        bool

	Streaming stream.Mode
	Workers   int
	Backend   Backend

	// ClassRedirects maps old class paths to their replacements.
	ClassRedirects map[string]string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Strategy:              aggregate.Disabled,
		LoadMethod:            LoadSync,
		DeferredBatchSize:     10,
		LoadTimeout:           30 * time.Second,
		Compression:           true,
		PerObjectVersionCheck: true,
		LegacySchemaVersion:   codec.LegacySchemaVersion,
		SchemaVersion:         codec.SchemaVersion,
		DefaultSlot:           "SaveGame",
		AutoDestroy:           true,
		Streaming:             stream.Disabled,
		Workers:               workers.DefaultSize,
		Backend:               Backend{Type: store.BackendMemory},
		ClassRedirects:        map[string]string{},
	}
}

// SettingsFrom derives Settings from cfg, starting from DefaultSettings.
// It fails only on values that cannot be parsed; call Validate for range
// checks.
func SettingsFrom(cfg Config) (Settings, error) {
	s := DefaultSettings()
	var errs []error

	if cfg.Has("strategy") {
		v, err := aggregate.ParseStrategy(cfg.String("strategy", ""))
		errs = append(errs, err)
		s.Strategy = v
	}
	if cfg.Has("load_method") {
		v, err := ParseLoadMethod(cfg.String("load_method", ""))
		errs = append(errs, err)
		s.LoadMethod = v
	}
	if cfg.Has("streaming") {
		v, err := stream.ParseMode(cfg.String("streaming", ""))
		errs = append(errs, err)
		s.Streaming = v
	}

	s.MultithreadedSaving = cfg.Bool("multithreaded_saving", s.MultithreadedSaving)
	s.DeferredBatchSize = cfg.Int("deferred_batch_size", s.DeferredBatchSize)
	s.LoadTimeout = cfg.Duration("load_timeout", s.LoadTimeout)
	s.Compression = cfg.Bool("compression", s.Compression)
	s.PerObjectVersionCheck = cfg.Bool("per_object_version_check", s.PerObjectVersionCheck)
	s.LegacySchemaVersion = uint32(cfg.Int("legacy_schema_version", int(s.LegacySchemaVersion)))
	s.SchemaVersion = uint32(cfg.Int("schema_version", int(s.SchemaVersion)))
	s.GameVersion = int64(cfg.Int("game_version", int(s.GameVersion)))
	s.DefaultSlot = cfg.String("default_slot", s.DefaultSlot)
	s.PersistentPlayer = cfg.Bool("persistent_player", s.PersistentPlayer)
	s.PersistentGameMode = cfg.Bool("persistent_game_mode", s.PersistentGameMode)
	s.AutoDestroy = cfg.Bool("auto_destroy", s.AutoDestroy)
	s.Workers = cfg.Int("workers", s.Workers)
	s.Backend.Type = cfg.String("backend.type", s.Backend.Type)
	s.Backend.Path = cfg.String("backend.path", s.Backend.Path)
	s.ClassRedirects = cfg.StringMap("class_redirects", s.ClassRedirects)

	if err := errors.Join(errs...); err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return s, nil
}

// Validate checks ranges and combinations.
func (s Settings) Validate() error {
	var errs []error
	if s.DeferredBatchSize < 1 {
		errs = append(errs, fmt.Errorf("deferred_batch_size must be positive, got %d", s.DeferredBatchSize))
	}
	if s.LoadTimeout < 0 {
		errs = append(errs, fmt.Errorf("load_timeout must not be negative, got %s", s.LoadTimeout))
	}
	if s.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", s.Workers))
	}
	if s.SchemaVersion > codec.SchemaVersion {
		errs = append(errs, fmt.Errorf("schema_version %d is newer than supported %d", s.SchemaVersion, codec.SchemaVersion))
	}
	if s.LegacySchemaVersion == 0 || s.LegacySchemaVersion > s.SchemaVersion {
		errs = append(errs, fmt.Errorf("legacy_schema_version %d must be in 1..%d", s.LegacySchemaVersion, s.SchemaVersion))
	}
	if strings.TrimSpace(s.DefaultSlot) == "" {
		errs = append(errs, errors.New("default_slot must not be empty"))
	}
	switch s.Backend.Type {
	case "", store.BackendMemory, store.BackendSQLite:
	case store.BackendBolt:
		if s.Backend.Path == "" {
			errs = append(errs, errors.New("backend.path is required for bolt"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend.type %q", s.Backend.Type))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// StoreOptions returns the adapter options matching s. Each backend call is
// a single attempt; saves pace their own retries across ticks.
func (s Settings) StoreOptions() store.Options {
	opts := store.DefaultOptions()
	opts.Retry = wserrors.NoRetry
	opts.Compression = s.Compression
	opts.Schema = s.SchemaVersion
	opts.Legacy = s.LegacySchemaVersion
	opts.Game = s.GameVersion
	return opts
}

// AggregateOptions returns the aggregator options matching s.
func (s Settings) AggregateOptions() aggregate.Options {
	return aggregate.Options{
		Strategy:           s.Strategy,
		PersistentGameMode: s.PersistentGameMode,
		PersistentPlayer:   s.PersistentPlayer,
	}
}
