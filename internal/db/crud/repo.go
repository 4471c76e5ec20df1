// Package crud - запись и чтение отдельных сущностей поверх smartquery.
package crud

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"accounts/internal/db/smartquery"
	"accounts/internal/model"
)

// Repo - CRUD-операции одной сущности.
type Repo struct {
	entity *model.Entity
	now    func() time.Time
}

func New(e *model.Entity) *Repo {
	return &Repo{entity: e, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repo) Entity() *model.Entity { return r.entity }

// Fill присваивает атрибуты записи. Допустимы только settable-атрибуты:
// колонки, гибридные свойства с setter и изменяемые связи.
func (r *Repo) Fill(rec *model.Record, fields map[string]any) error {
	in, err := model.Inspect(r.entity)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		if !in.IsSettable(name) {
			return fmt.Errorf("%s: %w: attribute '%s' doesn't exist", r.entity.FQN(), ErrUnknownAttribute, name)
		}
		v := fields[name]
		if rel, ok := r.entity.Relation(name); ok {
			if err := setRelation(rec, rel, v); err != nil {
				return fmt.Errorf("%s.%s: %w", r.entity.FQN(), name, err)
			}
			continue
		}
		if p, ok := r.entity.HybridProperty(name); ok {
			if err := p.Set(rec, v); err != nil {
				return fmt.Errorf("%s.%s: %w", r.entity.FQN(), name, err)
			}
			continue
		}
		rec.Set(name, v)
	}
	return nil
}

func setRelation(rec *model.Record, rel *model.Relation, v any) error {
	if rel.Kind == model.ToMany {
		children, ok := v.([]*model.Record)
		if !ok && v != nil {
			return fmt.Errorf("expected a list of %s records, got %T", rel.Target.FQN(), v)
		}
		rec.SetRelated(rel.Name, children)
		rec.MarkPending(rel.Name)
		return nil
	}

	switch x := v.(type) {
	case nil:
		rec.Set(rel.LocalColumn, nil)
		rec.SetRelated(rel.Name, nil)
	case *model.Record:
		if x == nil {
			rec.Set(rel.LocalColumn, nil)
			rec.SetRelated(rel.Name, nil)
			return nil
		}
		key := x.Data[rel.RemoteColumn]
		if key == nil {
			return fmt.Errorf("%w: related %s is not saved", ErrInvalidKey, rel.Target.FQN())
		}
		rec.Set(rel.LocalColumn, key)
		rec.SetRelated(rel.Name, []*model.Record{x})
	default:
		rec.Set(rel.LocalColumn, v)
	}
	return nil
}

// Create - новая запись из полей; id, created_at и updated_at заполняются автоматически.
func (r *Repo) Create(ctx context.Context, s smartquery.Session, fields map[string]any) (*model.Record, error) {
	rec := model.NewRecord(r.entity)
	if err := r.Fill(rec, fields); err != nil {
		return nil, err
	}
	if err := r.insert(ctx, s, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// BulkCreate вставляет записи по очереди; первая ошибка прерывает вставку.
func (r *Repo) BulkCreate(ctx context.Context, s smartquery.Session, recs []*model.Record) error {
	for i, rec := range recs {
		if err := r.insert(ctx, s, rec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// Save вставляет новую запись или обновляет сохранённую (по наличию version).
func (r *Repo) Save(ctx context.Context, s smartquery.Session, rec *model.Record) error {
	if rec.Data[model.ColVersion] == nil {
		return r.insert(ctx, s, rec)
	}
	return r.update(ctx, s, rec)
}

// Update - Fill и Save.
func (r *Repo) Update(ctx context.Context, s smartquery.Session, rec *model.Record, fields map[string]any) error {
	if err := r.Fill(rec, fields); err != nil {
		return err
	}
	return r.Save(ctx, s, rec)
}

func (r *Repo) Delete(ctx context.Context, s smartquery.Session, rec *model.Record) error {
	b := sq.Delete(r.entity.QualifiedTable()).PlaceholderFormat(sq.Dollar)
	for _, p := range r.entity.PrimaryKey() {
		b = b.Where(sq.Eq{model.Ident(p): rec.Data[p]})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	res, err := s.ExecContext(ctx, query, args...)
	if err != nil {
		return mapPgError(r.entity.FQN(), err, true)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", r.entity.FQN(), smartquery.ErrNotFound)
	}
	slog.Debug("crud: deleted", "entity", r.entity.FQN(), "key", rec.Key())
	return nil
}

// Find - запись по первичному ключу или ErrNotFound.
func (r *Repo) Find(ctx context.Context, s smartquery.Session, key ...any) (*model.Record, error) {
	rec, err := r.FindOrNone(ctx, s, key...)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", r.entity.FQN(), smartquery.ErrNotFound)
	}
	return rec, nil
}

// FindOrNone - запись по первичному ключу или nil.
func (r *Repo) FindOrNone(ctx context.Context, s smartquery.Session, key ...any) (*model.Record, error) {
	pk := r.entity.PrimaryKey()
	if len(key) != len(pk) {
		return nil, fmt.Errorf("%s: %w: want %d values, got %d", r.entity.FQN(), ErrInvalidKey, len(pk), len(key))
	}
	filters := make(smartquery.Filters, len(pk))
	for i, p := range pk {
		filters[p] = key[i]
	}
	q, err := smartquery.Where(r.entity, filters)
	if err != nil {
		return nil, err
	}
	return q.OneOrNone(ctx, s)
}

// GetOrCreate ищет запись по фильтрам; если её нет - создаёт из фильтров и defaults.
func (r *Repo) GetOrCreate(ctx context.Context, s smartquery.Session, filters smartquery.Filters, defaults map[string]any) (*model.Record, bool, error) {
	rec, err := r.lookup(ctx, s, filters)
	if err != nil || rec != nil {
		return rec, false, err
	}
	rec, err = r.Create(ctx, s, merge(filters, defaults))
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// UpdateOrCreate обновляет найденную по фильтрам запись значениями defaults
// или создаёт новую.
func (r *Repo) UpdateOrCreate(ctx context.Context, s smartquery.Session, filters smartquery.Filters, defaults map[string]any) (*model.Record, bool, error) {
	rec, err := r.lookup(ctx, s, filters)
	if err != nil {
		return nil, false, err
	}
	if rec != nil {
		return rec, false, r.Update(ctx, s, rec, defaults)
	}
	rec, err = r.Create(ctx, s, merge(filters, defaults))
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Exists - есть ли запись, подходящая под фильтры.
func (r *Repo) Exists(ctx context.Context, s smartquery.Session, filters smartquery.Filters) (bool, error) {
	q, err := smartquery.Where(r.entity, filters)
	if err != nil {
		return false, err
	}
	return q.Exists(ctx, s)
}

func (r *Repo) lookup(ctx context.Context, s smartquery.Session, filters smartquery.Filters) (*model.Record, error) {
	q, err := smartquery.Where(r.entity, filters)
	if err != nil {
		return nil, err
	}
	return q.OneOrNone(ctx, s)
}

func merge(filters smartquery.Filters, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(filters)+len(defaults))
	for k, v := range filters {
		out[k] = v
	}
	for k, v := range defaults {
		out[k] = v
	}
	return out
}

func (r *Repo) returning() string {
	cols := r.entity.ColumnList()
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = model.Ident(c.Name)
	}
	return "RETURNING " + strings.Join(parts, ", ")
}

func (r *Repo) insert(ctx context.Context, s smartquery.Session, rec *model.Record) error {
	now := r.now()
	if r.entity.HasSystemID() && rec.Data[model.ColID] == nil {
		rec.Data[model.ColID] = NewID()
	}
	if rec.Data[model.ColCreatedAt] == nil {
		rec.Data[model.ColCreatedAt] = now
	}
	rec.Data[model.ColUpdatedAt] = now

	var (
		cols []string
		vals []any
	)
	for _, c := range r.entity.ColumnList() {
		v, ok := rec.Data[c.Name]
		if !ok || c.Name == model.ColVersion {
			continue
		}
		cols = append(cols, model.Ident(c.Name))
		vals = append(vals, toDB(c, v))
	}
	query, args, err := sq.Insert(r.entity.QualifiedTable()).
		Columns(cols...).
		Values(vals...).
		Suffix(r.returning()).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if err := r.scan(s.QueryRowContext(ctx, query, args...), rec); err != nil {
		return mapPgError(r.entity.FQN(), err, false)
	}
	slog.Debug("crud: inserted", "entity", r.entity.FQN(), "key", rec.Key())
	return r.savePending(ctx, s, rec)
}

// update пишет settable-колонки и увеличивает version; при заданной version
// запись обновляется, только если её не изменили параллельно.
func (r *Repo) update(ctx context.Context, s smartquery.Session, rec *model.Record) error {
	b := sq.Update(r.entity.QualifiedTable()).PlaceholderFormat(sq.Dollar)
	for _, c := range r.entity.ColumnList() {
		if c.PrimaryKey || c.System {
			continue
		}
		if v, ok := rec.Data[c.Name]; ok {
			b = b.Set(model.Ident(c.Name), toDB(c, v))
		}
	}
	ver := model.Ident(model.ColVersion)
	b = b.Set(ver, sq.Expr(ver+" + 1")).
		Set(model.Ident(model.ColUpdatedAt), r.now())
	for _, p := range r.entity.PrimaryKey() {
		b = b.Where(sq.Eq{model.Ident(p): rec.Data[p]})
	}
	b = b.Where(sq.Eq{ver: rec.Data[model.ColVersion]})

	query, args, err := b.Suffix(r.returning()).ToSql()
	if err != nil {
		return err
	}
	err = r.scan(s.QueryRowContext(ctx, query, args...), rec)
	if errors.Is(err, sql.ErrNoRows) {
		cur, ferr := r.FindOrNone(ctx, s, rec.KeyValues()...)
		if ferr != nil {
			return ferr
		}
		if cur == nil {
			return fmt.Errorf("%s: %w", r.entity.FQN(), smartquery.ErrNotFound)
		}
		return fmt.Errorf("%s: %w: expected version %v", r.entity.FQN(), ErrVersionConflict, cur.Data[model.ColVersion])
	}
	if err != nil {
		return mapPgError(r.entity.FQN(), err, false)
	}
	return r.savePending(ctx, s, rec)
}

// savePending записывает присвоенные to-many связи: дети получают FK родителя,
// прежние дети, не вошедшие в список, отвязываются.
func (r *Repo) savePending(ctx context.Context, s smartquery.Session, rec *model.Record) error {
	for _, name := range rec.Pending() {
		rel, _ := r.entity.Relation(name)
		parent := rec.Data[rel.LocalColumn]
		child := New(rel.Target)
		child.now = r.now

		var keep []any
		for _, c := range rec.Related(name) {
			c.Set(rel.RemoteColumn, parent)
			if err := child.Save(ctx, s, c); err != nil {
				return fmt.Errorf("%s.%s: %w", r.entity.FQN(), name, err)
			}
			keep = append(keep, c.Key())
		}

		pk := rel.Target.PrimaryKey()
		if len(pk) != 1 {
			continue
		}
		ver := model.Ident(model.ColVersion)
		query, args, err := sq.Update(rel.Target.QualifiedTable()).
			Set(model.Ident(rel.RemoteColumn), nil).
			Set(ver, sq.Expr(ver+" + 1")).
			Set(model.Ident(model.ColUpdatedAt), r.now()).
			Where(sq.Eq{model.Ident(rel.RemoteColumn): parent}).
			Where(sq.NotEq{model.Ident(pk[0]): keep}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := s.ExecContext(ctx, query, args...); err != nil {
			return mapPgError(rel.Target.FQN(), err, false)
		}
	}
	rec.ClearPending()
	return nil
}

func (r *Repo) scan(row *sql.Row, rec *model.Record) error {
	cols := r.entity.ColumnList()
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		return err
	}
	for i, c := range cols {
		rec.Data[c.Name] = c.FromDB(vals[i])
	}
	return nil
}

// toDB: json/array колонки передаются строкой JSON
func toDB(c *model.Column, v any) any {
	if c.Type != model.TypeJSON && c.Type != model.TypeArray {
		return v
	}
	switch x := v.(type) {
	case nil, string:
		return x
	case json.RawMessage:
		return string(x)
	case []byte:
		return string(x)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	return string(b)
}
