package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"accounts/internal/db/smartquery"
	"accounts/internal/model"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Module string `json:"module"`
	Entity string `json:"entity"`
	Table  string `json:"table"`
}

func (s *Server) MetaListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ents := s.reg.Entities()
		out := make([]metaEntityListItem, 0, len(ents))
		for _, e := range ents {
			out = append(out, metaEntityListItem{Module: e.Module, Entity: e.Name, Table: e.QualifiedTable()})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	ElemType string   `json:"elemType,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	Nullable bool     `json:"nullable"`
	Unique   bool     `json:"unique,omitempty"`
	ReadOnly bool     `json:"readonly,omitempty"`
	System   bool     `json:"system,omitempty"`
	Default  string   `json:"default,omitempty"`
	Relation string   `json:"relation,omitempty"`
}

type metaRelation struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	RefFQN   string `json:"refFQN"`
	ViewOnly bool   `json:"viewonly,omitempty"`
	OnDelete string `json:"onDelete,omitempty"`
}

type metaEntity struct {
	Module      string            `json:"module"`
	Entity      string            `json:"entity"`
	Fields      []metaField       `json:"fields"`
	Relations   []metaRelation    `json:"relations"`
	Constraints map[string]any    `json:"constraints,omitempty"` // {"unique":[["code"],["base","quote","date"]]}
	Inspection  *model.Inspection `json:"inspection"`
	Operators   []string          `json:"operators"`
}

func (s *Server) MetaEntityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := s.entity(c)
		if !ok {
			return
		}
		in, err := model.Inspect(e)
		if err != nil {
			fail(c, err)
			return
		}

		fields := make([]metaField, 0, len(e.ColumnList()))
		for _, col := range e.ColumnList() {
			if col.Hidden {
				continue
			}
			fields = append(fields, metaField{
				Name:     col.Name,
				Type:     string(col.Type),
				ElemType: col.ElemType,
				Enum:     append([]string(nil), col.Enum...),
				Nullable: col.Nullable,
				Unique:   col.Unique,
				ReadOnly: col.ReadOnly,
				System:   col.System,
				Default:  col.Default,
				Relation: col.Relation,
			})
		}

		rels := make([]metaRelation, 0, len(e.RelationList()))
		for _, r := range e.RelationList() {
			rels = append(rels, metaRelation{
				Name:     r.Name,
				Kind:     r.Kind.String(),
				RefFQN:   r.Target.FQN(),
				ViewOnly: r.ViewOnly,
				OnDelete: r.OnDelete,
			})
		}

		var constraints map[string]any
		if sets := e.UniqueSets(); len(sets) > 0 {
			uniq := make([][]string, 0, len(sets))
			for _, set := range sets {
				uniq = append(uniq, append([]string(nil), set...))
			}
			constraints = map[string]any{"unique": uniq}
		}

		c.JSON(http.StatusOK, metaEntity{
			Module:      e.Module,
			Entity:      e.Name,
			Fields:      fields,
			Relations:   rels,
			Constraints: constraints,
			Inspection:  in,
			Operators:   smartquery.Operators(),
		})
	}
}

func (s *Server) MetaCatalogListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		names := make([]string, 0, len(s.catalog))
		for n := range s.catalog {
			names = append(names, n)
		}
		sort.Strings(names)
		c.JSON(http.StatusOK, gin.H{"catalogs": names})
	}
}

func (s *Server) MetaCatalogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		dir, ok := s.catalog[name]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"errors": []FieldError{ferr(ErrNotFound, "name", "Catalog not found")}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"name": name, "items": dir.Sorted()})
	}
}

// SchemaLintHandler отдаёт замечания линтера, собранные при загрузке моделей.
func (s *Server) SchemaLintHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		issues := s.issues
		if issues == nil {
			issues = []model.SchemaIssue{}
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues})
	}
}
