package model

import (
	"regexp"
	"strings"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// имена атрибутов не должны содержать "__" и начинаться/заканчиваться на "_",
// иначе токены фильтров (a___b__op) становятся неоднозначными
var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*(_[A-Za-z0-9]+)*$`)

// ValidIdent проверяет имя сущности/поля/связи/гибрида.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// элементарная плюрализация (users, posts, categories)
func plural(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.HasSuffix(s, "s"):
		return s
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}

// snake: AuthorizationData -> authorization_data
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TableName: plural(snake(entity)) с защитой keyword'ов
func TableName(entity string) string {
	t := plural(snake(entity))
	if isReserved(t) {
		t = "e_" + t
	}
	return t
}

// Ident квотирует идентификатор для SQL.
func Ident(s string) string {
	return `"` + strings.ReplaceAll(strings.ToLower(s), `"`, `""`) + `"`
}
