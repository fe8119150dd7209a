package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tbrandal/backscroll/internal/chattui"
	"github.com/tbrandal/backscroll/internal/config"
	"github.com/tbrandal/backscroll/internal/db"
	"github.com/tbrandal/backscroll/internal/events"
	"github.com/tbrandal/backscroll/internal/logging"
	"github.com/tbrandal/backscroll/internal/readtrack"
	"github.com/tbrandal/backscroll/internal/source"
	"github.com/tbrandal/backscroll/internal/timeline"
	"github.com/tbrandal/backscroll/internal/viewport"
)

// runChat opens the channel view. The local sqlite store always backs read
// cursors; history comes from the gateway when one is configured, otherwise
// from the store itself.
func runChat(ctx context.Context, flags *rootFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log := logging.Component("cli")

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	src, closeSource, err := buildSource(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer closeSource()

	registry := timeline.NewRegistry(src, timeline.Options{
		InitialPageSize: cfg.Timeline.InitialPageSize,
		PageSize:        cfg.Timeline.PageSize,
		Build: timeline.BuildOptions{
			SelfID:   cfg.TUI.SelfID,
			GroupGap: cfg.Timeline.GroupGap,
		},
	})
	tracker := readtrack.NewStoreTracker(database)

	boundary, err := tracker.LastRead(ctx, flags.channelID)
	if err != nil {
		log.Warn().Err(err).Str("channel_id", flags.channelID).Msg("read cursor unavailable, opening at live head")
		boundary = ""
	}

	return chattui.Run(chattui.Config{
		ChannelID:        flags.channelID,
		SelfID:           cfg.TUI.SelfID,
		Theme:            cfg.TUI.Theme,
		UnreadBoundaryID: boundary,
		Registry:         registry,
		Tracker:          tracker,
		Viewport: viewport.Config{
			SettleDelay:     cfg.Timeline.SettleDelay,
			ReadThresholdPx: cfg.Timeline.ReadThresholdPx,
		},
	})
}

func openDatabase(cfg *config.Config) (*db.DB, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return db.Open(cfg.Database.Path)
}

func buildSource(ctx context.Context, cfg *config.Config, database *db.DB) (timeline.Source, func(), error) {
	if cfg.Gateway.URL == "" {
		local := source.NewLocal(database, events.NewBus())
		return local, func() {}, nil
	}

	gw, err := source.DialGateway(ctx, source.GatewayConfig{
		URL:               cfg.Gateway.URL,
		DialTimeout:       cfg.Gateway.DialTimeout,
		ReconnectInterval: cfg.Gateway.ReconnectInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	return gw, func() { _ = gw.Close() }, nil
}
