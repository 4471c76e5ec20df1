package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const reprMaxLength = 15

// Record - материализованная строка сущности вместе с загруженными связями.
type Record struct {
	Entity *Entity
	Data   map[string]any

	related map[string][]*Record
	loaded  map[string]bool
	seen    map[string]map[string]struct{}
	pending map[string]bool
}

func NewRecord(e *Entity) *Record {
	return &Record{Entity: e, Data: map[string]any{}}
}

// Get - значение колонки или гибридного свойства.
func (r *Record) Get(name string) any {
	if v, ok := r.Data[name]; ok {
		return v
	}
	if p, ok := r.Entity.HybridProperty(name); ok && p.Value != nil {
		return p.Value(r)
	}
	return nil
}

func (r *Record) Set(name string, v any) { r.Data[name] = v }

// KeyValues - значения первичного ключа в порядке объявления.
func (r *Record) KeyValues() []any {
	out := make([]any, len(r.Entity.pk))
	for i, k := range r.Entity.pk {
		out[i] = r.Data[k]
	}
	return out
}

// Key - строковая идентичность записи; "" если ключ не заполнен.
func (r *Record) Key() string {
	vals := r.KeyValues()
	parts := make([]string, len(vals))
	for i, v := range vals {
		if v == nil {
			return ""
		}
		parts[i] = KeyString(v)
	}
	return strings.Join(parts, "-")
}

// KeyString нормализует значение ключа для сравнения (драйвер может вернуть []byte).
func KeyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// MarkLoaded помечает связь загруженной, даже если связанных записей нет.
func (r *Record) MarkLoaded(name string) {
	if r.loaded == nil {
		r.loaded = map[string]bool{}
	}
	r.loaded[name] = true
}

func (r *Record) IsLoaded(name string) bool { return r.loaded[name] }

// AddRelated добавляет связанную запись без дублей (по ключу).
func (r *Record) AddRelated(name string, child *Record) bool {
	r.MarkLoaded(name)
	if r.related == nil {
		r.related = map[string][]*Record{}
		r.seen = map[string]map[string]struct{}{}
	}
	if r.seen[name] == nil {
		r.seen[name] = map[string]struct{}{}
	}
	k := child.Key()
	if _, dup := r.seen[name][k]; dup && k != "" {
		return false
	}
	r.seen[name][k] = struct{}{}
	r.related[name] = append(r.related[name], child)
	return true
}

// SetRelated заменяет связанные записи.
func (r *Record) SetRelated(name string, children []*Record) {
	if r.related != nil {
		delete(r.related, name)
		delete(r.seen, name)
	}
	r.MarkLoaded(name)
	for _, c := range children {
		r.AddRelated(name, c)
	}
}

func (r *Record) Related(name string) []*Record { return r.related[name] }

// MarkPending помечает to-many связь, присвоенную в памяти и ещё не записанную.
func (r *Record) MarkPending(name string) {
	if r.pending == nil {
		r.pending = map[string]bool{}
	}
	r.pending[name] = true
}

// Pending - несохранённые to-many связи в порядке имён.
func (r *Record) Pending() []string {
	out := make([]string, 0, len(r.pending))
	for k := range r.pending {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Record) ClearPending() { r.pending = nil }

// One - связанная to-one запись или nil.
func (r *Record) One(name string) *Record {
	if rs := r.related[name]; len(rs) > 0 {
		return rs[0]
	}
	return nil
}

// String: <Post #11 body:'1234567890123'>
func (r *Record) String() string {
	id := r.Key()
	if id == "" {
		id = "None"
	}

	single := len(r.Entity.Repr) == 1
	attrs := make([]string, 0, len(r.Entity.Repr))
	for _, key := range r.Entity.Repr {
		v := r.Get(key)
		_, quote := v.(string)
		s := fmt.Sprint(v)
		if v == nil {
			s = "None"
		}
		if len(s) > reprMaxLength {
			s = s[:reprMaxLength] + "..."
		}
		if quote {
			s = "'" + s + "'"
		}
		if single {
			attrs = append(attrs, s)
		} else {
			attrs = append(attrs, key+":"+s)
		}
	}

	var b strings.Builder
	b.WriteString("<" + r.Entity.Name + " #" + id)
	if len(attrs) > 0 {
		b.WriteString(" " + strings.Join(attrs, " "))
	}
	b.WriteString(">")
	return b.String()
}

type DictOptions struct {
	Nested  bool
	Hybrid  bool
	Exclude []string
}

// AsDict сериализует запись: колонки, по желанию гибриды и загруженные связи
// (на один уровень вглубь).
func (r *Record) AsDict(opt DictOptions) map[string]any {
	excluded := toSet(opt.Exclude)
	out := make(map[string]any, len(r.Data))
	for _, c := range r.Entity.columns {
		if _, skip := excluded[c.Name]; skip || c.Hidden {
			continue
		}
		out[c.Name] = r.Data[c.Name]
	}
	if opt.Hybrid {
		props, _ := r.Entity.hybridNames()
		for _, n := range props {
			if p, _ := r.Entity.HybridProperty(n); p.Hidden {
				continue
			}
			out[n] = r.Get(n)
		}
	}
	if !opt.Nested {
		return out
	}
	child := DictOptions{Hybrid: opt.Hybrid}
	for _, rel := range r.Entity.relations {
		if _, skip := excluded[rel.Name]; skip || rel.ViewOnly || !r.IsLoaded(rel.Name) {
			continue
		}
		if rel.Kind == ToOne {
			if one := r.One(rel.Name); one != nil {
				out[rel.Name] = one.AsDict(child)
			} else {
				out[rel.Name] = nil
			}
			continue
		}
		items := make([]map[string]any, 0, len(r.related[rel.Name]))
		for _, c := range r.related[rel.Name] {
			items = append(items, c.AsDict(child))
		}
		out[rel.Name] = items
	}
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.AsDict(DictOptions{Nested: true, Hybrid: true}))
}
