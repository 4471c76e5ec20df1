package dsl

// Entity описывает сущность из DSL
type Entity struct {
	Module      string
	Name        string
	Fields      []Field
	Options     map[string]string // опции из строки "entity X: table=... repr=a,b"
	Constraints Constraints
}

// Constraints - блок constraints: внутри сущности
type Constraints struct {
	Unique     [][]string
	PrimaryKey []string // составной ключ; если пусто - системный id
}

// Field описывает поле сущности
type Field struct {
	Name      string
	Type      string            // string, int, float, bool, date, datetime, enum, ref, many, array
	Enum      []string          // значения enum
	RefTarget string            // ref[Target] / many[Target.field]
	RefField  string            // для many: поле-ссылка на стороне Target
	ElemType  string            // для array
	Options   map[string]string // required, unique, default, back, viewonly, readonly, on_delete ...
}

// FQN - module.Name
func (e *Entity) FQN() string {
	if e.Module == "" {
		return e.Name
	}
	return e.Module + "." + e.Name
}

// Flag - опция-флаг (без значения или =true)
func (f Field) Flag(name string) bool {
	v, ok := f.Options[name]
	return ok && (v == "true" || v == "")
}
