package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"

	"accounts/internal/accounts"
	"accounts/internal/api"
	"accounts/internal/config"
	"accounts/internal/model"
	"accounts/internal/pg"
	"accounts/internal/reference"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(2)
	}
	slog.SetDefault(newLogger(cfg))

	if err := run(context.Background(), cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	// 1. модели и гибридные атрибуты
	reg, issues, err := model.Load(cfg.ModelsDir)
	if err != nil {
		return err
	}
	for _, is := range issues {
		slog.Warn("schema lint", "entity", is.Entity, "field", is.Field, "code", is.Code, "message", is.Message)
	}
	if err := accounts.Register(reg); err != nil {
		return err
	}
	slog.Info("models loaded", "entities", len(reg.Entities()))

	// 2. справочники
	catalog, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		return err
	}
	slog.Info("catalogs loaded", "count", len(catalog))

	// 3. база
	db, err := pg.Open(ctx, cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, db, reg); err != nil {
			return err
		}
		slog.Info("schema migrated")
	}
	err = pg.InTransaction(ctx, db, func(tx *sql.Tx) error {
		n, err := reference.Seed(ctx, tx, reg, catalog, cfg.Seed)
		if n > 0 {
			slog.Info("catalogs seeded", "created", n)
		}
		return err
	})
	if err != nil {
		return err
	}

	// 4. REST API
	srv, err := api.NewServer(reg, db, cfg, catalog, issues)
	if err != nil {
		return err
	}
	return srv.Run(":" + cfg.Port)
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
