package model

import (
	"fmt"
	"sort"
	"strings"

	"accounts/internal/dsl"
)

type SchemaIssue struct {
	Entity  string `json:"entity"` // FQN: module.Entity
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lint проверяет базовые противоречия в DSL, которые не мешают построить реестр.
func Lint(defs map[string]*dsl.Entity) []SchemaIssue {
	var issues []SchemaIssue

	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, fqn := range keys {
		e := defs[fqn]
		for _, f := range e.Fields {
			od := strings.TrimSpace(strings.ToLower(f.Options["on_delete"]))
			if od != "" {
				switch od {
				case "restrict", "set_null", "cascade":
				default:
					issues = append(issues, SchemaIssue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "on_delete_unknown",
						Message: fmt.Sprintf("unknown on_delete policy %q (allowed: restrict|set_null|cascade)", od),
					})
				}
				if f.Type != "ref" {
					issues = append(issues, SchemaIssue{
						Entity:  fqn,
						Field:   f.Name,
						Code:    "on_delete_not_ref",
						Message: "on_delete applies to ref fields only",
					})
				}
			}

			// required ref + set_null - конфликт
			if f.Type == "ref" && f.Flag("required") && od == "set_null" {
				issues = append(issues, SchemaIssue{
					Entity:  fqn,
					Field:   f.Name,
					Code:    "required_conflicts_on_delete",
					Message: "required ref cannot have on_delete=set_null; use restrict (or make field optional)",
				})
			}

			// viewonly + readonly избыточно: viewonly и так не присваивается
			if f.Flag("viewonly") && f.Flag("readonly") {
				issues = append(issues, SchemaIssue{
					Entity:  fqn,
					Field:   f.Name,
					Code:    "viewonly_readonly",
					Message: "viewonly relation is never settable, readonly is redundant",
				})
			}

			if f.Options["back"] != "" && f.Type != "ref" {
				issues = append(issues, SchemaIssue{
					Entity:  fqn,
					Field:   f.Name,
					Code:    "back_not_ref",
					Message: "back= applies to ref fields only",
				})
			}
		}
	}
	return issues
}
