package reference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"accounts/internal/config"
	"accounts/internal/db/crud"
	"accounts/internal/db/smartquery"
	"accounts/internal/model"
)

// Seed создаёт по записи на каждый действующий элемент справочника, если её ещё нет
// (поиск по коду). Возвращает число созданных записей.
func Seed(ctx context.Context, s smartquery.Session, reg *model.Registry, catalog Catalog, rules []config.SeedRule) (int, error) {
	created := 0
	now := time.Now()
	for _, rule := range rules {
		dir, ok := catalog[rule.Catalog]
		if !ok {
			return created, fmt.Errorf("seed: catalog %q not found", rule.Catalog)
		}
		e, err := reg.Entity(rule.Entity)
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", rule.Catalog, err)
		}
		codeField := rule.CodeField
		if codeField == "" {
			codeField = "code"
		}
		repo := crud.New(e)
		for _, it := range dir.Sorted() {
			active, err := it.ActiveAt(now)
			if err != nil {
				return created, fmt.Errorf("seed %s: %w", rule.Catalog, err)
			}
			if !active {
				slog.Debug("seed: item skipped", "catalog", rule.Catalog, "code", it.Code)
				continue
			}
			var defaults map[string]any
			if rule.NameField != "" {
				defaults = map[string]any{rule.NameField: it.Name}
			}
			_, isNew, err := repo.GetOrCreate(ctx, s, smartquery.Filters{codeField: it.Code}, defaults)
			if err != nil {
				return created, fmt.Errorf("seed %s/%s: %w", rule.Catalog, it.Code, err)
			}
			if isNew {
				created++
			}
		}
		slog.Info("seed: catalog applied", "catalog", rule.Catalog, "entity", e.FQN(), "items", len(dir.Items))
	}
	return created, nil
}
