package smartquery

import "strings"

const (
	RelationSplitter = "___"
	OperatorSplitter = "__"
	DescPrefix       = "-"
)

// splitRelation делит "post___user___name" на ("post___user", "name").
func splitRelation(attr string) (prefix, name string) {
	i := strings.LastIndex(attr, RelationSplitter)
	if i < 0 {
		return "", attr
	}
	return attr[:i], attr[i+len(RelationSplitter):]
}

// splitOperator делит "created_at__year_ge" на ("created_at", "year_ge") по
// самому правому "__". Без разделителя оператор - exact.
func splitOperator(attr string) (field, op string) {
	i := strings.LastIndex(attr, OperatorSplitter)
	if i < 0 {
		return attr, ""
	}
	return attr[:i], attr[i+len(OperatorSplitter):]
}

// stripDesc: "-rating" -> ("rating", true); лишние ведущие "-" тоже срезаются
func stripDesc(attr string) (string, bool) {
	name := strings.TrimLeft(attr, DescPrefix)
	return name, len(name) != len(attr)
}

// Path собирает точечный путь связи для eager-загрузки: Path("post", "comments").
func Path(segments ...string) string { return strings.Join(segments, ".") }

// tokenPath: "post___user" -> "post.user"
func tokenPath(p string) string { return strings.ReplaceAll(p, RelationSplitter, ".") }

// SplitToken делит токен фильтра на путь связей, атрибут и оператор:
// "post___user___name__in" -> ([post user], "name", "in").
func SplitToken(token string) (path []string, attr, op string) {
	prefix, name := splitRelation(token)
	if prefix != "" {
		path = strings.Split(prefix, RelationSplitter)
	}
	attr, op = splitOperator(name)
	return path, attr, op
}
