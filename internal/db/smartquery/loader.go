package smartquery

import (
	"context"
	"database/sql"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"accounts/internal/model"
)

// Session - то, через что выполняются запросы: *sql.DB, *sql.Tx, *sql.Conn.
type Session interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowSource interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

const batchSize = 500

// hydrate собирает записи из строк: корни и присоединённые связи
// дедуплицируются по первичному ключу, порядок корней - порядок первого появления.
func hydrate(rows rowSource, sels []selection) ([]*model.Record, error) {
	total := 0
	for _, s := range sels {
		total += len(s.cols)
	}
	vals := make([]any, total)
	ptrs := make([]any, total)
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	idents := make([]map[string]*model.Record, len(sels))
	for i := range idents {
		idents[i] = map[string]*model.Record{}
	}
	cur := make([]*model.Record, len(sels))
	var roots []*model.Record

	for rows.Next() {
		for i := range vals {
			vals[i] = nil
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		off := 0
		for i, s := range sels {
			data := vals[off : off+len(s.cols)]
			off += len(s.cols)
			cur[i] = nil

			var parent *model.Record
			if s.parent >= 0 {
				if parent = cur[s.parent]; parent == nil {
					continue
				}
				parent.MarkLoaded(s.rel.Name)
			}

			rec := model.NewRecord(s.mapper.Entity)
			for ci, c := range s.cols {
				rec.Data[c.Name] = c.FromDB(data[ci])
			}
			key := rec.Key()
			if key == "" {
				// LEFT JOIN без пары
				continue
			}
			if seen, ok := idents[i][key]; ok {
				rec = seen
			} else {
				idents[i][key] = rec
				if s.parent < 0 {
					roots = append(roots, rec)
				}
			}
			cur[i] = rec
			if parent != nil {
				parent.AddRelated(s.rel.Name, rec)
			}
		}
	}
	return roots, rows.Err()
}

// recordsAt собирает записи, достижимые от корней по цепочке связей.
func recordsAt(roots []*model.Record, rels []*model.Relation) []*model.Record {
	cur := roots
	for _, rel := range rels {
		seen := map[*model.Record]struct{}{}
		var next []*model.Record
		for _, r := range cur {
			for _, c := range r.Related(rel.Name) {
				if _, ok := seen[c]; ok {
					continue
				}
				seen[c] = struct{}{}
				next = append(next, c)
			}
		}
		cur = next
	}
	return cur
}

// loadBatch загружает связь d.Path отдельными запросами "WHERE remote IN (...)".
func (q *Query) loadBatch(ctx context.Context, s Session, roots []*model.Record, d Directive) error {
	rels, err := resolvePath(q.root.Entity, d.Path)
	if err != nil {
		return err
	}
	rel := rels[len(rels)-1]
	parents := recordsAt(roots, rels[:len(rels)-1])

	byKey := map[string][]*model.Record{}
	var keys []any
	for _, p := range parents {
		p.MarkLoaded(rel.Name)
		v := p.Data[rel.LocalColumn]
		if v == nil {
			continue
		}
		k := model.KeyString(v)
		if _, ok := byKey[k]; !ok {
			keys = append(keys, v)
		}
		byKey[k] = append(byKey[k], p)
	}

	target := model.RootMapper(rel.Target)
	sels, cols := selectionsFor(target, nil)
	order := make([]string, 0, len(rel.Target.PrimaryKey()))
	for _, pk := range rel.Target.PrimaryKey() {
		order = append(order, target.Col(pk))
	}

	for start := 0; start < len(keys); start += batchSize {
		chunk := keys[start:min(start+batchSize, len(keys))]
		query, args, err := sq.Select(cols...).
			From(target.From()).
			Where(sq.Eq{target.Col(rel.RemoteColumn): chunk}).
			OrderBy(order...).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		slog.Debug("smartquery: batch load", "path", d.Path, "keys", len(chunk))
		children, err := queryRecords(ctx, s, query, args, sels)
		if err != nil {
			return err
		}
		batchLoads.Inc()
		for _, c := range children {
			for _, p := range byKey[model.KeyString(c.Data[rel.RemoteColumn])] {
				p.AddRelated(rel.Name, c)
			}
		}
	}
	return nil
}

func queryRecords(ctx context.Context, s Session, query string, args []any, sels []selection) ([]*model.Record, error) {
	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return hydrate(rows, sels)
}
