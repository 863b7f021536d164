package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/aware-sync/internal/config"
	"github.com/tonimelisma/aware-sync/internal/cursor"
	"github.com/tonimelisma/aware-sync/internal/deviceid"
	"github.com/tonimelisma/aware-sync/internal/source"
	"github.com/tonimelisma/aware-sync/internal/sync"
	"github.com/tonimelisma/aware-sync/internal/transport"
)

const stateDirPermissions = 0o700

// SyncSession holds the stores and per-collection engine specs for one
// invocation of the sync command.
type SyncSession struct {
	Source   *source.Store
	State    *cursor.SQLiteStore
	Cursors  sync.CursorStore
	DeviceID string
	Specs    []sync.CollectionSpec
}

// openStores opens the record database read-write and the state database,
// creating the state directory on first use. The record database must
// already exist: it belongs to the AWARE client.
func openStores(cfg *config.Config, logger *slog.Logger) (*source.Store, *cursor.SQLiteStore, error) {
	if cfg.Source.Path == "" {
		return nil, nil, errors.New("source.path is not set; point it at the AWARE database")
	}

	if _, err := os.Stat(cfg.Source.Path); err != nil {
		return nil, nil, fmt.Errorf("record database: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.State.Path), stateDirPermissions); err != nil {
		return nil, nil, fmt.Errorf("creating state directory: %w", err)
	}

	src, err := source.Open(cfg.Source.Path, logger)
	if err != nil {
		return nil, nil, err
	}

	state, err := cursor.Open(cfg.State.Path, logger)
	if err != nil {
		src.Close()
		return nil, nil, err
	}

	return src, state, nil
}

// NewSyncSession opens the stores, resolves the device id and builds one
// CollectionSpec per collection. With no collections configured, every table
// in the record database is synced.
func NewSyncSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SyncSession, error) {
	if cfg.Server.Host == "" {
		return nil, errors.New("server.host is not set; add it to the config file or pass --host")
	}

	src, state, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}

	s := &SyncSession{Source: src, State: state, Cursors: state}

	if err := s.init(ctx, cfg, logger); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *SyncSession) init(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	resolveID := deviceid.LoadOrCreate

	if cfg.Sync.DryRun {
		s.Cursors = cursor.NewOverlay(s.State)
		resolveID = deviceid.LoadOrGenerate
	}

	id, err := resolveID(cfg.State.DeviceIDPath, cfg.Server.DeviceID)
	if err != nil {
		return err
	}

	s.DeviceID = id
	logger.Debug("using device id", slog.String("device_id", id))

	names := cfg.Source.Collections
	if len(names) == 0 {
		if names, err = s.Source.Tables(ctx); err != nil {
			return err
		}

		if len(names) == 0 {
			return fmt.Errorf("no collections found in %s", cfg.Source.Path)
		}
	}

	limiter, err := transport.NewBandwidthLimiter(cfg.Server.BandwidthLimit, logger)
	if err != nil {
		return err
	}

	debug, err := sync.ParseDebugLevel(cfg.Sync.DebugLevel)
	if err != nil {
		return err
	}

	for _, name := range names {
		table, err := s.Source.Collection(ctx, name)
		if err != nil {
			return err
		}

		s.Specs = append(s.Specs, sync.CollectionSpec{
			Config: engineConfig(cfg, name, id, debug, limiter),
			Source: table,
		})
	}

	return nil
}

// engineConfig maps the resolved configuration onto one engine. The
// limiter is shared so the bandwidth cap holds across collections.
func engineConfig(cfg *config.Config, collection, deviceID string, debug sync.DebugLevel,
	limiter *transport.BandwidthLimiter,
) sync.Config {
	ua := cfg.Server.UserAgent
	if ua == "" {
		ua = "aware-sync/" + version
	}

	return sync.Config{
		Host:            cfg.Server.Host,
		Collection:      collection,
		BatchSize:       cfg.Sync.BatchSize,
		RemoveAfterSync: cfg.Sync.RemoveAfterSync && !cfg.Sync.DryRun,
		Background:      cfg.Server.Background,
		Compact:         cfg.Sync.Compact,
		DebugLevel:      debug,
		DeviceID:        deviceID,
		Test:            cfg.Sync.DryRun,
		Limiter:         limiter,
		RequestTimeout:  cfg.Server.RequestTimeoutDuration(),
		ResourceTimeout: cfg.Server.ResourceTimeoutDuration(),
		UserAgent:       ua,
	}
}

// managerOptions builds the Manager's options from cfg. Conditions are
// rebuilt on every call so a reload can switch them on or off.
func managerOptions(cfg *config.Config, b sync.Broadcaster, logger *slog.Logger) sync.ManagerOptions {
	var conds []sync.Condition

	if cfg.Sync.WiFiOnly {
		conds = append(conds, sync.WiFiOnly(logger))
	}

	if cfg.Sync.ChargingOnly {
		conds = append(conds, sync.ChargingOnly(logger))
	}

	if n := cfg.Sync.MinFreeSpaceBytes(); n > 0 {
		conds = append(conds, sync.MinFreeSpace(filepath.Dir(cfg.State.Path), n, logger))
	}

	return sync.ManagerOptions{
		Interval:        cfg.Sync.IntervalDuration(),
		Conditions:      conds,
		MaxParallel:     cfg.Sync.MaxParallel,
		ShutdownTimeout: cfg.Sync.ShutdownTimeoutDuration(),
		Broadcaster:     b,
	}
}

// Close releases both stores.
func (s *SyncSession) Close() error {
	return errors.Join(s.Source.Close(), s.State.Close())
}
