package model

import (
	"fmt"
	"sort"
	"sync"
)

// Inspection - вычисленные наборы атрибутов сущности.
type Inspection struct {
	Columns           []string `json:"columns"`
	PrimaryKeys       []string `json:"primary_keys"`
	Relations         []string `json:"relations"`
	SettableRelations []string `json:"settable_relations"`
	HybridProperties  []string `json:"hybrid_properties"`
	HybridMethods     []string `json:"hybrid_methods"`
	Filterable        []string `json:"filterable"`
	Sortable          []string `json:"sortable"`
	Settable          []string `json:"settable"`

	filterable map[string]struct{}
	sortable   map[string]struct{}
	settable   map[string]struct{}
	relations  map[string]struct{}
}

var inspections sync.Map // *Entity -> *Inspection

func invalidate(e *Entity) { inspections.Delete(e) }

// Inspect возвращает наборы атрибутов сущности. Результат кэшируется на весь
// процесс; параллельное первое вычисление даёт одинаковый результат.
func Inspect(e *Entity) (*Inspection, error) {
	if e == nil || e.Table == "" || len(e.pk) == 0 {
		return nil, fmt.Errorf("%w: no mapping metadata", ErrInvalidEntity)
	}
	if v, ok := inspections.Load(e); ok {
		return v.(*Inspection), nil
	}
	in := compute(e)
	v, _ := inspections.LoadOrStore(e, in)
	return v.(*Inspection), nil
}

func compute(e *Entity) *Inspection {
	in := &Inspection{
		Columns:     e.ColumnNames(),
		PrimaryKeys: append([]string(nil), e.pk...),
	}
	for _, r := range e.relations {
		if r.ViewOnly {
			continue
		}
		in.Relations = append(in.Relations, r.Name)
		if !r.Immutable {
			in.SettableRelations = append(in.SettableRelations, r.Name)
		}
	}
	in.HybridProperties, in.HybridMethods = e.hybridNames()

	var settableProps []string
	for _, n := range in.HybridProperties {
		if p, _ := e.HybridProperty(n); p != nil && p.Set != nil {
			settableProps = append(settableProps, n)
		}
	}
	var settableCols []string
	for _, c := range e.columns {
		if !c.ReadOnly && !c.System {
			settableCols = append(settableCols, c.Name)
		}
	}

	var visibleCols, visibleProps []string
	for _, c := range e.columns {
		if !c.Hidden {
			visibleCols = append(visibleCols, c.Name)
		}
	}
	for _, n := range in.HybridProperties {
		if p, _ := e.HybridProperty(n); p != nil && !p.Hidden {
			visibleProps = append(visibleProps, n)
		}
	}

	in.Filterable = union(in.Relations, visibleCols, visibleProps, in.HybridMethods)
	in.Sortable = union(visibleCols, visibleProps)
	in.Settable = union(settableCols, settableProps, in.SettableRelations)

	in.filterable = toSet(in.Filterable)
	in.sortable = toSet(in.Sortable)
	in.settable = toSet(in.Settable)
	in.relations = toSet(in.Relations)
	return in
}

func (in *Inspection) IsFilterable(name string) bool { _, ok := in.filterable[name]; return ok }
func (in *Inspection) IsSortable(name string) bool   { _, ok := in.sortable[name]; return ok }
func (in *Inspection) IsSettable(name string) bool   { _, ok := in.settable[name]; return ok }
func (in *Inspection) IsRelation(name string) bool   { _, ok := in.relations[name]; return ok }

func union(sets ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range sets {
		for _, v := range s {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func toSet(vs []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		m[v] = struct{}{}
	}
	return m
}
