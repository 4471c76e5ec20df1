package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	moduleRe      = regexp.MustCompile(`^module\s+([A-Za-z0-9_.-]+)$`)
	entityRe      = regexp.MustCompile(`^entity\s+(\w+):(.*)$`)
	fieldRe       = regexp.MustCompile(`^(\w+):\s*([^\s#]+)(.*)$`)
	constraintsRe = regexp.MustCompile(`^constraints\s*:$`)
	constraintRe  = regexp.MustCompile(`^(unique|primary_key)\s*\(\s*([^)]+)\)$`)

	enumRe  = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe   = regexp.MustCompile(`^ref\[([A-Za-z0-9_.]+)\]$`)
	manyRe  = regexp.MustCompile(`^many\[([A-Za-z0-9_.]+)\.(\w+)\]$`)
	arrayRe = regexp.MustCompile(`^array\[(.+)\]$`)
)

var primitiveTypes = map[string]bool{
	"string": true, "text": true, "int": true, "float": true, "money": true,
	"bool": true, "date": true, "datetime": true, "json": true,
}

// parser - построчный разбор одного источника.
type parser struct {
	src    string
	line   int
	module string
	cur    *Entity
	inCons bool // внутри блока constraints:
	out    []*Entity
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%s:%d: %s", p.src, p.line, fmt.Sprintf(format, args...))
}

func (p *parser) flush() {
	if p.cur != nil {
		p.out = append(p.out, p.cur)
		p.cur = nil
	}
}

func (p *parser) feed(line string) error {
	if m := moduleRe.FindStringSubmatch(line); m != nil {
		p.flush()
		p.module, p.inCons = m[1], false
		return nil
	}
	if m := entityRe.FindStringSubmatch(line); m != nil {
		p.flush()
		p.cur = &Entity{Name: m[1], Module: p.module, Options: parseOptions(m[2])}
		p.inCons = false
		return nil
	}
	if p.cur == nil {
		// вне сущности ничего не значит
		return nil
	}
	if constraintsRe.MatchString(line) {
		p.inCons = true
		return nil
	}
	if p.inCons {
		if m := constraintRe.FindStringSubmatch(line); m != nil {
			return p.constraint(m[1], splitList(m[2]))
		}
		p.inCons = false
	}
	if m := fieldRe.FindStringSubmatch(line); m != nil {
		f, err := p.field(m[1], m[2], m[3])
		if err != nil {
			return err
		}
		p.cur.Fields = append(p.cur.Fields, f)
	}
	return nil
}

func (p *parser) constraint(kind string, cols []string) error {
	if len(cols) == 0 {
		return nil
	}
	c := &p.cur.Constraints
	switch kind {
	case "unique":
		c.Unique = append(c.Unique, cols)
	case "primary_key":
		if len(c.PrimaryKey) > 0 {
			return p.errorf("%s: primary_key declared twice", p.cur.Name)
		}
		c.PrimaryKey = cols
	}
	return nil
}

func (p *parser) field(name, typ, tail string) (Field, error) {
	// "enum[a, b]" режется регэкспом по пробелу: доклеиваем до закрывающей скобки
	if strings.Count(typ, "[") > strings.Count(typ, "]") {
		if i := strings.Index(tail, "]"); i >= 0 {
			typ, tail = typ+tail[:i+1], tail[i+1:]
		}
	}
	f := Field{Name: name, Type: typ, Options: parseOptions(strings.ReplaceAll(tail, ",", " "))}

	switch {
	case enumRe.MatchString(typ):
		f.Type, f.Enum = "enum", splitList(enumRe.FindStringSubmatch(typ)[1])
	case refRe.MatchString(typ):
		f.Type, f.RefTarget = "ref", refRe.FindStringSubmatch(typ)[1]
	case manyRe.MatchString(typ):
		m := manyRe.FindStringSubmatch(typ)
		f.Type, f.RefTarget, f.RefField = "many", m[1], m[2]
	case arrayRe.MatchString(typ):
		elem := strings.TrimSpace(arrayRe.FindStringSubmatch(typ)[1])
		if refRe.MatchString(elem) {
			return f, p.errorf("%s.%s: array[ref[...]] is not supported, use many[Target.field]", p.cur.Name, name)
		}
		f.Type, f.ElemType = "array", elem
		if em := enumRe.FindStringSubmatch(elem); em != nil {
			f.ElemType, f.Enum = "enum", splitList(em[1])
		}
	case !primitiveTypes[typ]:
		return f, p.errorf("%s.%s: unknown type %q", p.cur.Name, name, typ)
	}
	return f, nil
}

// ParseEntities разбирает DSL из reader; name нужен только для сообщений об ошибках
func ParseEntities(r io.Reader, name string) ([]*Entity, error) {
	p := &parser{src: name}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.line++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.feed(line); err != nil {
			return nil, err
		}
	}
	p.flush()
	return p.out, sc.Err()
}

// LoadEntities читает один *.dsl файл
func LoadEntities(path string) ([]*Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseEntities(f, path)
}

// LoadAllEntities обходит каталог и собирает сущности всех *.dsl по FQN.
func LoadAllEntities(root string) (map[string]*Entity, error) {
	result := make(map[string]*Entity)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		ents, err := LoadEntities(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, e := range ents {
			if e.Module == "" {
				return fmt.Errorf("entity %q in %s has no module, add `module <name>` at the top", e.Name, path)
			}
			if _, dup := result[e.FQN()]; dup {
				return fmt.Errorf("duplicate entity %q in module %q (file: %s)", e.Name, e.Module, path)
			}
			result[e.FQN()] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parseOptions: "k=v flag k2='v 2' # коммент" -> map; флаг без значения -> "true"
func parseOptions(tail string) map[string]string {
	s := strings.TrimSpace(tail)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) >= 8 && strings.EqualFold(s[:8], "options:") {
		s = s[8:]
	}

	out := map[string]string{}
	for _, tok := range splitOptionTokens(s) {
		k, v, hasValue := strings.Cut(tok, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !hasValue {
			k, v = strings.Trim(k, ","), "true"
		} else {
			v = unquote(strings.TrimSpace(v))
		}
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// splitOptionTokens режет по пробелам вне кавычек и квадратных скобок.
func splitOptionTokens(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		quote rune
		depth int
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			if depth == 0 {
				quote = r
			}
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case (r == ' ' || r == '\t') && depth == 0:
			if buf.Len() > 0 {
				out = append(out, buf.String())
				buf.Reset()
			}
			continue
		}
		buf.WriteRune(r)
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.Trim(strings.TrimSpace(p), `"'`); p != "" {
			out = append(out, p)
		}
	}
	return out
}
