package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"accounts/internal/dsl"
)

var (
	ErrInvalidEntity      = errors.New("invalid entity")
	ErrDuplicateAttribute = errors.New("duplicate attribute")
	ErrInvalidModel       = errors.New("invalid model definition")
)

// Registry - все дескрипторы сущностей процесса. Строится один раз при старте;
// гибриды регистрируются до начала обслуживания запросов.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	order    []string
}

func modelErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidModel, fmt.Sprintf(format, args...))
}

// Load читает все *.dsl из каталога и строит реестр. Замечания линтера
// возвращаются вместе с реестром и не считаются ошибкой.
func Load(dir string) (*Registry, []SchemaIssue, error) {
	defs, err := dsl.LoadAllEntities(dir)
	if err != nil {
		return nil, nil, err
	}
	issues := Lint(defs)
	reg, err := NewRegistry(defs)
	if err != nil {
		return nil, issues, err
	}
	return reg, issues, nil
}

// NewRegistry строит дескрипторы из DSL: колонки, FK, связи ref/many/back.
func NewRegistry(defs map[string]*dsl.Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(defs))}

	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r.order = keys

	// 1) сущности и первичные ключи
	for _, k := range keys {
		d := defs[k]
		if !ValidIdent(d.Name) {
			return nil, modelErr("%s: bad entity name", k)
		}
		e := newEntity(d.Module, d.Name)
		e.Schema = strings.ToLower(d.Module)
		e.Table = TableName(d.Name)
		if t := strings.TrimSpace(d.Options["table"]); t != "" {
			e.Table = t
		}
		if rp := strings.TrimSpace(d.Options["repr"]); rp != "" {
			for _, a := range strings.Split(rp, ",") {
				if a = strings.TrimSpace(a); a != "" {
					e.Repr = append(e.Repr, a)
				}
			}
		}
		if len(d.Constraints.PrimaryKey) == 0 {
			e.hasSysID = true
			e.addColumn(&Column{Name: ColID, Type: TypeString, PrimaryKey: true, System: true, ReadOnly: true})
		}
		r.entities[k] = e
	}

	// 2) колонки и to-one связи
	for _, k := range keys {
		d, e := defs[k], r.entities[k]
		for _, f := range d.Fields {
			if !ValidIdent(f.Name) {
				return nil, modelErr("%s.%s: bad field name", k, f.Name)
			}
			switch f.Type {
			case "many":
				continue
			case "ref":
				target, err := r.resolve(d.Module, f.RefTarget)
				if err != nil {
					return nil, modelErr("%s.%s: %v", k, f.Name, err)
				}
				if len(target.pk) != 1 {
					return nil, modelErr("%s.%s: target %s must have a single-column primary key", k, f.Name, target.FQN())
				}
				tpk := target.colIdx[target.pk[0]]
				fk := f.Name + "_id"
				if e.hasName(fk) || e.hasName(f.Name) {
					return nil, modelErr("%s.%s: name collision", k, f.Name)
				}
				e.addColumn(&Column{
					Name:     fk,
					Type:     tpk.Type,
					Nullable: !f.Flag("required"),
					Unique:   f.Flag("unique"),
					Relation: f.Name,
				})
				e.addRelation(&Relation{
					Name:         f.Name,
					Owner:        e,
					Target:       target,
					Kind:         ToOne,
					LocalColumn:  fk,
					RemoteColumn: tpk.Name,
					ViewOnly:     f.Flag("viewonly"),
					Immutable:    f.Flag("readonly") || f.Flag("immutable"),
					OnDelete:     strings.ToLower(f.Options["on_delete"]),
				})
			default:
				if e.hasName(f.Name) {
					return nil, modelErr("%s.%s: duplicates a system or another column", k, f.Name)
				}
				e.addColumn(&Column{
					Name:     f.Name,
					Type:     ColumnType(f.Type),
					Enum:     f.Enum,
					ElemType: f.ElemType,
					Nullable: !f.Flag("required"),
					Unique:   f.Flag("unique"),
					Default:  f.Options["default"],
					ReadOnly: f.Flag("readonly"),
					Hidden:   f.Flag("hidden"),
				})
			}
		}
		// составной ключ: колонки уже объявлены полями
		for _, p := range d.Constraints.PrimaryKey {
			c, ok := e.colIdx[p]
			if !ok {
				return nil, modelErr("%s: primary_key column %q is not declared", k, p)
			}
			c.PrimaryKey, c.Nullable = true, false
			e.pk = append(e.pk, p)
		}
		e.unique = d.Constraints.Unique
		e.addColumn(&Column{Name: ColVersion, Type: TypeInt, System: true, ReadOnly: true})
		e.addColumn(&Column{Name: ColCreatedAt, Type: TypeDateTime, System: true})
		e.addColumn(&Column{Name: ColUpdatedAt, Type: TypeDateTime, System: true})
	}

	// 3) to-many: many[Target.field] и обратные back=
	for _, k := range keys {
		d, e := defs[k], r.entities[k]
		for _, f := range d.Fields {
			switch {
			case f.Type == "many":
				target, err := r.resolve(d.Module, f.RefTarget)
				if err != nil {
					return nil, modelErr("%s.%s: %v", k, f.Name, err)
				}
				back, ok := target.relIdx[f.RefField]
				if !ok || back.Kind != ToOne || back.Target != e {
					return nil, modelErr("%s.%s: %s.%s is not a ref to %s", k, f.Name, target.FQN(), f.RefField, e.FQN())
				}
				if e.hasName(f.Name) {
					return nil, modelErr("%s.%s: name collision", k, f.Name)
				}
				e.addRelation(&Relation{
					Name:         f.Name,
					Owner:        e,
					Target:       target,
					Kind:         ToMany,
					LocalColumn:  back.RemoteColumn,
					RemoteColumn: back.LocalColumn,
					ViewOnly:     f.Flag("viewonly"),
					Immutable:    f.Flag("readonly") || f.Flag("immutable"),
				})
			case f.Type == "ref" && f.Options["back"] != "":
				name := f.Options["back"]
				fwd := e.relIdx[f.Name]
				if !ValidIdent(name) || fwd.Target.hasName(name) {
					return nil, modelErr("%s.%s: back=%s collides on %s", k, f.Name, name, fwd.Target.FQN())
				}
				fwd.Target.addRelation(&Relation{
					Name:         name,
					Owner:        fwd.Target,
					Target:       e,
					Kind:         ToMany,
					LocalColumn:  fwd.RemoteColumn,
					RemoteColumn: fwd.LocalColumn,
					Backref:      true,
				})
			}
		}
	}

	for _, k := range keys {
		e := r.entities[k]
		if len(e.pk) == 0 {
			return nil, modelErr("%s: no primary key", k)
		}
		for _, a := range e.Repr {
			if _, ok := e.colIdx[a]; !ok {
				return nil, modelErr("%s: repr attribute %q is not a column", k, a)
			}
		}
	}
	return r, nil
}

// resolve ищет цель ссылки: "Name" в текущем модуле или "module.Name"
func (r *Registry) resolve(module, ref string) (*Entity, error) {
	if strings.Contains(ref, ".") {
		if e, ok := r.entities[ref]; ok {
			return e, nil
		}
		return nil, fmt.Errorf("unknown entity %q", ref)
	}
	if e, ok := r.entities[module+"."+ref]; ok {
		return e, nil
	}
	if e, ok := r.Lookup("", ref); ok {
		return e, nil
	}
	return nil, fmt.Errorf("unknown entity %q", ref)
}

// Entities - все сущности в стабильном порядке FQN.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entities[k])
	}
	return out
}

// Entity находит сущность по "module.Name" или по уникальному "Name".
func (r *Registry) Entity(name string) (*Entity, error) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		if e, ok := r.Lookup(name[:i], name[i+1:]); ok {
			return e, nil
		}
	} else if e, ok := r.Lookup("", name); ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q is not registered", ErrInvalidEntity, name)
}

// MustEntity - для статической настройки (main, тесты).
func (r *Registry) MustEntity(name string) *Entity {
	e, err := r.Entity(name)
	if err != nil {
		panic(err)
	}
	return e
}

// Lookup возвращает сущность по паре {module, entity} без учёта регистра.
// Если module пустой, имя должно быть уникальным среди всех модулей.
func (r *Registry) Lookup(module, name string) (*Entity, bool) {
	if name == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ml := strings.ToLower(strings.TrimSpace(module))
	nl := strings.ToLower(strings.TrimSpace(name))

	if ml != "" {
		if e, ok := r.entities[module+"."+name]; ok {
			return e, true
		}
		for _, e := range r.entities {
			if strings.ToLower(e.Module) == ml && strings.ToLower(e.Name) == nl {
				return e, true
			}
		}
		return nil, false
	}

	var found *Entity
	for _, e := range r.entities {
		if strings.ToLower(e.Name) == nl {
			if found != nil { // неуникально
				return nil, false
			}
			found = e
		}
	}
	return found, found != nil
}

// RegisterHybridProperty добавляет гибридное свойство сущности.
// Совпадение имени с колонкой, связью или другим гибридом - ошибка.
func (r *Registry) RegisterHybridProperty(entity string, p HybridProperty) error {
	e, err := r.Entity(entity)
	if err != nil {
		return err
	}
	if !ValidIdent(p.Name) || p.Expr == nil {
		return modelErr("%s: hybrid property %q needs a valid name and Expr", e.FQN(), p.Name)
	}
	if e.hasName(p.Name) {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateAttribute, e.FQN(), p.Name)
	}
	e.mu.Lock()
	e.hybrids[p.Name] = &p
	e.mu.Unlock()
	invalidate(e)
	return nil
}

// RegisterHybridMethod добавляет гибридный метод сущности.
func (r *Registry) RegisterHybridMethod(entity string, m HybridMethod) error {
	e, err := r.Entity(entity)
	if err != nil {
		return err
	}
	if !ValidIdent(m.Name) || m.Expr == nil {
		return modelErr("%s: hybrid method %q needs a valid name and Expr", e.FQN(), m.Name)
	}
	if e.hasName(m.Name) {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateAttribute, e.FQN(), m.Name)
	}
	e.mu.Lock()
	e.methods[m.Name] = &m
	e.mu.Unlock()
	invalidate(e)
	return nil
}
