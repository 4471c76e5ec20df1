package model

import (
	"encoding/json"
	"sort"
	"sync"
)

type ColumnType string

const (
	TypeString   ColumnType = "string"
	TypeText     ColumnType = "text"
	TypeInt      ColumnType = "int"
	TypeFloat    ColumnType = "float"
	TypeMoney    ColumnType = "money"
	TypeBool     ColumnType = "bool"
	TypeDate     ColumnType = "date"
	TypeDateTime ColumnType = "datetime"
	TypeEnum     ColumnType = "enum"
	TypeJSON     ColumnType = "json"
	TypeArray    ColumnType = "array"
)

// Системные колонки
const (
	ColID        = "id"
	ColVersion   = "version"
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
)

// Column - колонка таблицы сущности.
type Column struct {
	Name       string
	Type       ColumnType
	Enum       []string
	ElemType   string
	Nullable   bool
	Unique     bool
	Default    string
	PrimaryKey bool
	System     bool
	ReadOnly   bool
	Hidden     bool   // не сериализуется и не фильтруется
	Relation   string // имя to-one связи, для которой это FK-колонка
}

// FromDB нормализует значение драйвера: []byte -> string или json.RawMessage.
func (c *Column) FromDB(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch c.Type {
	case TypeJSON, TypeArray:
		return json.RawMessage(append([]byte(nil), b...))
	}
	return string(b)
}

type RelationKind int

const (
	ToOne RelationKind = iota
	ToMany
)

func (k RelationKind) String() string {
	if k == ToMany {
		return "many"
	}
	return "one"
}

// Relation - связь между сущностями. Условие соединения всегда
// target.RemoteColumn = owner.LocalColumn.
type Relation struct {
	Name         string
	Owner        *Entity
	Target       *Entity
	Kind         RelationKind
	LocalColumn  string
	RemoteColumn string
	ViewOnly     bool
	Immutable    bool
	Backref      bool
	OnDelete     string
}

// Entity - дескриптор сущности: колонки, ключи, связи, гибридные атрибуты.
type Entity struct {
	Module string
	Name   string
	Schema string
	Table  string
	Repr   []string

	columns   []*Column
	colIdx    map[string]*Column
	pk        []string
	relations []*Relation
	relIdx    map[string]*Relation
	unique    [][]string

	mu       sync.RWMutex
	hybrids  map[string]*HybridProperty
	methods  map[string]*HybridMethod
	hasSysID bool
}

func newEntity(module, name string) *Entity {
	return &Entity{
		Module:  module,
		Name:    name,
		colIdx:  map[string]*Column{},
		relIdx:  map[string]*Relation{},
		hybrids: map[string]*HybridProperty{},
		methods: map[string]*HybridMethod{},
	}
}

func (e *Entity) FQN() string { return e.Module + "." + e.Name }

// QualifiedTable - "schema"."table"
func (e *Entity) QualifiedTable() string {
	if e.Schema == "" {
		return Ident(e.Table)
	}
	return Ident(e.Schema) + "." + Ident(e.Table)
}

func (e *Entity) Column(name string) (*Column, bool) {
	c, ok := e.colIdx[name]
	return c, ok
}

func (e *Entity) ColumnList() []*Column { return e.columns }

func (e *Entity) ColumnNames() []string {
	out := make([]string, len(e.columns))
	for i, c := range e.columns {
		out[i] = c.Name
	}
	return out
}

func (e *Entity) PrimaryKey() []string { return e.pk }

// HasSystemID - первичный ключ это системный text id (ULID)
func (e *Entity) HasSystemID() bool { return e.hasSysID }

func (e *Entity) UniqueSets() [][]string { return e.unique }

// Relation возвращает связь по имени, включая viewonly.
func (e *Entity) Relation(name string) (*Relation, bool) {
	r, ok := e.relIdx[name]
	return r, ok
}

func (e *Entity) RelationList() []*Relation { return e.relations }

func (e *Entity) HybridProperty(name string) (*HybridProperty, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.hybrids[name]
	return p, ok
}

func (e *Entity) HybridMethod(name string) (*HybridMethod, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.methods[name]
	return m, ok
}

func (e *Entity) hybridNames() (props, methods []string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for n := range e.hybrids {
		props = append(props, n)
	}
	for n := range e.methods {
		methods = append(methods, n)
	}
	sort.Strings(props)
	sort.Strings(methods)
	return props, methods
}

// hasName - занято ли имя колонкой, связью или гибридом
func (e *Entity) hasName(name string) bool {
	if _, ok := e.colIdx[name]; ok {
		return true
	}
	if _, ok := e.relIdx[name]; ok {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, p := e.hybrids[name]
	_, m := e.methods[name]
	return p || m
}

func (e *Entity) addColumn(c *Column) {
	e.columns = append(e.columns, c)
	e.colIdx[c.Name] = c
	if c.PrimaryKey {
		e.pk = append(e.pk, c.Name)
	}
}

func (e *Entity) addRelation(r *Relation) {
	e.relations = append(e.relations, r)
	e.relIdx[r.Name] = r
}
