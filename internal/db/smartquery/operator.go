package smartquery

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Operator - закрытый набор операторов фильтрации.
type Operator int

const (
	OpExact Operator = iota
	OpNot
	OpIsNull
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpIn
	OpNotIn
	OpBetween
	OpLike
	OpILike
	OpStartsWith
	OpIStartsWith
	OpEndsWith
	OpIEndsWith
	OpContains
	OpYear
	OpYearNe
	OpYearGt
	OpYearGe
	OpYearLt
	OpYearLe
	OpMonth
	OpMonthNe
	OpMonthGt
	OpMonthGe
	OpMonthLt
	OpMonthLe
	OpDay
	OpDayNe
	OpDayGt
	OpDayGe
	OpDayLt
	OpDayLe
)

var operatorNames = [...]string{
	OpExact:       "exact",
	OpNot:         "not",
	OpIsNull:      "isnull",
	OpNe:          "ne",
	OpGt:          "gt",
	OpGe:          "ge",
	OpLt:          "lt",
	OpLe:          "le",
	OpIn:          "in",
	OpNotIn:       "notin",
	OpBetween:     "between",
	OpLike:        "like",
	OpILike:       "ilike",
	OpStartsWith:  "startswith",
	OpIStartsWith: "istartswith",
	OpEndsWith:    "endswith",
	OpIEndsWith:   "iendswith",
	OpContains:    "contains",
	OpYear:        "year",
	OpYearNe:      "year_ne",
	OpYearGt:      "year_gt",
	OpYearGe:      "year_ge",
	OpYearLt:      "year_lt",
	OpYearLe:      "year_le",
	OpMonth:       "month",
	OpMonthNe:     "month_ne",
	OpMonthGt:     "month_gt",
	OpMonthGe:     "month_ge",
	OpMonthLt:     "month_lt",
	OpMonthLe:     "month_le",
	OpDay:         "day",
	OpDayNe:       "day_ne",
	OpDayGt:       "day_gt",
	OpDayGe:       "day_ge",
	OpDayLt:       "day_lt",
	OpDayLe:       "day_le",
}

var operatorByName = func() map[string]Operator {
	m := make(map[string]Operator, len(operatorNames))
	for op, name := range operatorNames {
		m[name] = Operator(op)
	}
	return m
}()

func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return "Operator(" + strconv.Itoa(int(o)) + ")"
}

// ParseOperator: пустое имя означает exact.
func ParseOperator(name string) (Operator, bool) {
	if name == "" {
		return OpExact, true
	}
	op, ok := operatorByName[name]
	return op, ok
}

// Operators - имена всех операторов в порядке объявления.
func Operators() []string { return append([]string(nil), operatorNames[:]...) }

// apply строит предикат над SQL-операндом col (колонка или выражение гибрида).
func (o Operator) apply(col string, v any) (sq.Sqlizer, error) {
	switch o {
	case OpExact:
		return sq.Eq{col: v}, nil
	case OpNot:
		return not{sq.Eq{col: v}}, nil
	case OpIsNull:
		if truthy(v) {
			return sq.Eq{col: nil}, nil
		}
		return sq.NotEq{col: nil}, nil
	case OpNe:
		return sq.NotEq{col: v}, nil
	case OpGt, OpGe, OpLt, OpLe:
		if v == nil {
			return nil, fmt.Errorf("%s needs a non-null value", o)
		}
		switch o {
		case OpGt:
			return sq.Gt{col: v}, nil
		case OpGe:
			return sq.GtOrEq{col: v}, nil
		case OpLt:
			return sq.Lt{col: v}, nil
		default:
			return sq.LtOrEq{col: v}, nil
		}
	case OpIn, OpNotIn:
		items, err := listValue(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o, err)
		}
		// пустой список: in -> (1=0), notin -> (1=1)
		if o == OpIn {
			return sq.Eq{col: items}, nil
		}
		return sq.NotEq{col: items}, nil
	case OpBetween:
		items, err := listValue(v)
		if err != nil || len(items) != 2 {
			return nil, fmt.Errorf("between needs exactly 2 bounds, got %v", v)
		}
		return sq.Expr(col+" BETWEEN ? AND ?", items[0], items[1]), nil
	case OpLike, OpILike, OpStartsWith, OpIStartsWith, OpEndsWith, OpIEndsWith, OpContains:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s needs a string, got %T", o, v)
		}
		switch o {
		case OpLike:
			return sq.Like{col: s}, nil
		case OpILike:
			return sq.ILike{col: s}, nil
		case OpStartsWith:
			return sq.Like{col: s + "%"}, nil
		case OpIStartsWith:
			return sq.ILike{col: s + "%"}, nil
		case OpEndsWith:
			return sq.Like{col: "%" + s}, nil
		case OpIEndsWith:
			return sq.ILike{col: "%" + s}, nil
		default:
			return sq.ILike{col: "%" + s + "%"}, nil
		}
	case OpYear, OpYearNe, OpYearGt, OpYearGe, OpYearLt, OpYearLe:
		return datePart("YEAR", col, o-OpYear, v)
	case OpMonth, OpMonthNe, OpMonthGt, OpMonthGe, OpMonthLt, OpMonthLe:
		return datePart("MONTH", col, o-OpMonth, v)
	case OpDay, OpDayNe, OpDayGt, OpDayGe, OpDayLt, OpDayLe:
		return datePart("DAY", col, o-OpDay, v)
	}
	return nil, fmt.Errorf("operator %s is not implemented", o)
}

// суффиксы сравнения для частей даты: offset от OpYear/OpMonth/OpDay
var datePartCmp = [...]string{"=", "<>", ">", ">=", "<", "<="}

func datePart(part, col string, offset Operator, v any) (sq.Sqlizer, error) {
	if v == nil {
		return nil, fmt.Errorf("%s comparison needs a value", strings.ToLower(part))
	}
	return sq.Expr("EXTRACT("+part+" FROM "+col+") "+datePartCmp[offset]+" ?", v), nil
}

// not - отрицание произвольного предиката
type not struct{ pred sq.Sqlizer }

func (n not) ToSql() (string, []any, error) {
	s, args, err := n.pred.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + s + ")", args, nil
}

// listValue приводит срез/массив к []any.
func listValue(v any) ([]any, error) {
	if v == nil {
		return nil, fmt.Errorf("expected a list, got null")
	}
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// truthy - значение isnull: bool, строка "true"/"1", ненулевое число.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		b, err := strconv.ParseBool(x)
		return err == nil && b
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	}
	return true
}
