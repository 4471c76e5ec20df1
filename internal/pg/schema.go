package pg

import (
	"fmt"
	"strings"

	"accounts/internal/model"
)

type OnDeletePolicy string

const (
	OnDeleteRestrict OnDeletePolicy = "RESTRICT"
	OnDeleteSetNull  OnDeletePolicy = "SET NULL"
	OnDeleteCascade  OnDeletePolicy = "CASCADE"
)

func mapType(c *model.Column) (string, error) {
	switch c.Type {
	case model.TypeString, model.TypeText, model.TypeEnum:
		// enum пока как text; допустимые значения проверяет API
		return "text", nil
	case model.TypeInt:
		return "bigint", nil
	case model.TypeFloat:
		return "double precision", nil
	case model.TypeMoney:
		return "numeric(18,2)", nil
	case model.TypeBool:
		return "boolean", nil
	case model.TypeDate:
		return "date", nil
	case model.TypeDateTime:
		return "timestamp with time zone", nil
	case model.TypeJSON, model.TypeArray:
		// массив примитивов - jsonb
		return "jsonb", nil
	default:
		return "", fmt.Errorf("unknown type: %s", c.Type)
	}
}

func onDeletePolicy(rel *model.Relation) OnDeletePolicy {
	switch rel.OnDelete {
	case "set_null":
		return OnDeleteSetNull
	case "cascade":
		return OnDeleteCascade
	default:
		return OnDeleteRestrict
	}
}

func columnDef(c *model.Column) (string, error) {
	typ, err := mapType(c)
	if err != nil {
		return "", err
	}
	null := "null"
	if !c.Nullable || c.System {
		null = "not null"
	}
	def := ""
	switch {
	case c.Name == model.ColVersion:
		def = " default 1"
	case c.Name == model.ColCreatedAt || c.Name == model.ColUpdatedAt:
		def = " default now()"
	case strings.TrimSpace(c.Default) != "":
		def = " default " + literal(c.Default)
	}
	return fmt.Sprintf("%s %s %s%s", model.Ident(c.Name), typ, null, def), nil
}

func literal(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

// GenerateDDL возвращает карту ключ -> SQL DDL (схемы и таблицы, затем FK).
// Ключи сортируются так, что FK применяются после создания всех таблиц.
func GenerateDDL(reg *model.Registry) (map[string]string, error) {
	out := map[string]string{}

	// --- Phase A: schemas + tables + unique ---
	var phaseASb strings.Builder
	seenSchemas := map[string]struct{}{}

	type fkStmt struct {
		owner, name, col, ref, refCol string
		onDelete                      OnDeletePolicy
	}
	var fks []fkStmt

	for _, e := range reg.Entities() {
		if _, ok := seenSchemas[e.Schema]; !ok {
			fmt.Fprintf(&phaseASb, "create schema if not exists %s;\n", model.Ident(e.Schema))
			seenSchemas[e.Schema] = struct{}{}
		}

		var cols []string
		for _, c := range e.ColumnList() {
			def, err := columnDef(c)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.FQN(), c.Name, err)
			}
			cols = append(cols, def)
		}
		pk := make([]string, 0, len(e.PrimaryKey()))
		for _, p := range e.PrimaryKey() {
			pk = append(pk, model.Ident(p))
		}
		cols = append(cols, "primary key ("+strings.Join(pk, ", ")+")")

		fmt.Fprintf(&phaseASb, "create table if not exists %s (\n  %s\n);\n",
			e.QualifiedTable(), strings.Join(cols, ",\n  "))

		// UNIQUE по полям
		for _, c := range e.ColumnList() {
			if c.Unique && !c.PrimaryKey {
				fmt.Fprintf(&phaseASb, "create unique index if not exists %s on %s(%s);\n",
					model.Ident(e.Table+"_"+c.Name+"_uq"), e.QualifiedTable(), model.Ident(c.Name))
			}
		}

		// UNIQUE составные
		for _, set := range e.UniqueSets() {
			if len(set) == 0 {
				continue
			}
			parts := make([]string, len(set))
			for i, p := range set {
				parts[i] = model.Ident(p)
			}
			fmt.Fprintf(&phaseASb, "create unique index if not exists %s on %s(%s);\n",
				model.Ident(e.Table+"_"+strings.Join(set, "_")+"_uq"), e.QualifiedTable(), strings.Join(parts, ", "))
		}

		// FK собираем, но не исполняем пока
		for _, rel := range e.RelationList() {
			if rel.Kind != model.ToOne || rel.Owner != e {
				continue
			}
			fks = append(fks, fkStmt{
				owner:    e.QualifiedTable(),
				name:     e.Table + "_" + rel.Name + "_fk",
				col:      rel.LocalColumn,
				ref:      rel.Target.QualifiedTable(),
				refCol:   rel.RemoteColumn,
				onDelete: onDeletePolicy(rel),
			})
		}
	}

	out["000_schemas_and_tables"] = phaseASb.String()

	// --- Phase B: foreign keys (после создания всех таблиц) ---
	// по одному ключу на FK: duplicate_object при повторном запуске пропускается поштучно
	for _, fk := range fks {
		out["200_fk_"+fk.name] = fmt.Sprintf(
			"alter table %s add constraint %s foreign key (%s) references %s(%s) on delete %s;",
			fk.owner, model.Ident(fk.name), model.Ident(fk.col), fk.ref, model.Ident(fk.refCol), fk.onDelete)
	}
	return out, nil
}
