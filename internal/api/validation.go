package api

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"accounts/internal/accounts"
	"accounts/internal/db/crud"
	"accounts/internal/db/smartquery"
	"accounts/internal/model"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок, которыми будем пользоваться
const (
	ErrRequired         = "required"
	ErrTypeMismatch     = "type_mismatch"
	ErrEnumInvalid      = "enum_invalid"
	ErrUnknownField     = "unknown_field"
	ErrUnknownOperator  = "unknown_operator"
	ErrUnknownRelation  = "unknown_relation"
	ErrInvalidStrategy  = "invalid_load_strategy"
	ErrInvalidValue     = "invalid_value"
	ErrUniqueViolation  = "unique_violation"
	ErrRefNotFound      = "ref_not_found"
	ErrStillReferenced  = "still_referenced"
	ErrNotFound         = "not_found"
	ErrMultipleFound    = "multiple_found"
	ErrVersionConflict  = "version_conflict"
	ErrInvalidKey       = "invalid_key"
	ErrInvalidLogin     = "invalid_credentials"
	ErrAccountNotActive = "not_confirmed"
	ErrInternal         = "internal"
)

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// errorStatus переводит ошибку слоя запросов в HTTP-статус и FieldError.
func errorStatus(err error) (int, FieldError) {
	field := ""
	var te *smartquery.TokenError
	if errors.As(err, &te) {
		field = te.Token
	}
	msg := err.Error()

	switch {
	case errors.Is(err, smartquery.ErrUnknownAttribute), errors.Is(err, crud.ErrUnknownAttribute):
		return http.StatusBadRequest, ferr(ErrUnknownField, field, msg)
	case errors.Is(err, smartquery.ErrUnknownOperator):
		return http.StatusBadRequest, ferr(ErrUnknownOperator, field, msg)
	case errors.Is(err, smartquery.ErrUnknownRelation):
		return http.StatusBadRequest, ferr(ErrUnknownRelation, field, msg)
	case errors.Is(err, smartquery.ErrInvalidLoadStrategy):
		return http.StatusBadRequest, ferr(ErrInvalidStrategy, field, msg)
	case errors.Is(err, smartquery.ErrInvalidFilterValue):
		return http.StatusBadRequest, ferr(ErrInvalidValue, field, msg)
	case errors.Is(err, crud.ErrInvalidKey):
		return http.StatusBadRequest, ferr(ErrInvalidKey, field, msg)
	case errors.Is(err, smartquery.ErrNotFound):
		return http.StatusNotFound, ferr(ErrNotFound, field, msg)
	case errors.Is(err, crud.ErrAlreadyExists), errors.Is(err, accounts.ErrEmailExists):
		return http.StatusConflict, ferr(ErrUniqueViolation, field, msg)
	case errors.Is(err, crud.ErrReferenceNotFound):
		return http.StatusConflict, ferr(ErrRefNotFound, field, msg)
	case errors.Is(err, crud.ErrStillReferenced):
		return http.StatusConflict, ferr(ErrStillReferenced, field, msg)
	case errors.Is(err, crud.ErrVersionConflict):
		return http.StatusConflict, ferr(ErrVersionConflict, field, msg)
	case errors.Is(err, smartquery.ErrMultipleFound):
		return http.StatusConflict, ferr(ErrMultipleFound, field, msg)
	case errors.Is(err, accounts.ErrInvalidCredentials):
		return http.StatusUnauthorized, ferr(ErrInvalidLogin, field, msg)
	case errors.Is(err, accounts.ErrNotConfirmed):
		return http.StatusForbidden, ferr(ErrAccountNotActive, field, msg)
	case errors.Is(err, accounts.ErrLoginRequired), errors.Is(err, accounts.ErrUnknownSocialType):
		return http.StatusBadRequest, ferr(ErrRequired, field, msg)
	}
	return http.StatusInternalServerError, ferr(ErrInternal, field, "internal error")
}

var (
	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD
)

// ValidateBody проверяет и НОРМАЛИЗУЕТ тело запроса под колонки сущности.
// Связи и гибриды не трогаем: их проверяет Fill и база.
func ValidateBody(e *model.Entity, obj map[string]any, isCreate bool) []FieldError {
	var errs []FieldError

	// 1) required - только при создании
	if isCreate {
		for _, c := range e.ColumnList() {
			if c.Nullable || c.System || c.Default != "" || (c.PrimaryKey && e.HasSystemID()) {
				continue
			}
			name := c.Name
			if c.Relation != "" {
				if _, ok := obj[c.Relation]; ok {
					continue
				}
			}
			if v, ok := obj[name]; !ok || v == nil {
				errs = append(errs, ferr(ErrRequired, name, "Field '"+name+"' is required"))
			}
		}
	}

	// 2) системные поля не присваиваются
	for name := range obj {
		if c, ok := e.Column(name); ok && c.System {
			errs = append(errs, ferr(ErrUnknownField, name, "Field '"+name+"' is system"))
		}
	}

	// 3) типы
	for name, val := range obj {
		c, ok := e.Column(name)
		if !ok || c.System || val == nil {
			continue
		}
		norm, err := coerceValue(c, val)
		if err != nil {
			code := ErrTypeMismatch
			if c.Type == model.TypeEnum {
				code = ErrEnumInvalid
			}
			errs = append(errs, ferr(code, name, "Field '"+name+"' "+err.Error()))
			continue
		}
		obj[name] = norm
	}
	return errs
}

// coerceValue приводит значение из JSON к типу колонки.
func coerceValue(c *model.Column, v any) (any, error) {
	switch c.Type {
	case model.TypeString, model.TypeText:
		return toStringStrict(v)
	case model.TypeInt:
		return toIntStrict(v)
	case model.TypeFloat, model.TypeMoney:
		return toFloatStrict(v)
	case model.TypeBool:
		return toBoolStrict(v)
	case model.TypeDate:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if !dateRe.MatchString(s) {
			return nil, errors.New("must match YYYY-MM-DD")
		}
		// легкая валидация корректности даты
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, errors.New("invalid date")
		}
		return s, nil
	case model.TypeDateTime:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		// примем RFC3339 (в т.ч. с миллисекундами)
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, errors.New("must be RFC3339 datetime")
		}
		return t, nil
	case model.TypeEnum:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		for _, ev := range c.Enum {
			if s == ev {
				return s, nil
			}
		}
		return nil, fmt.Errorf("value '%s' is not allowed", s)
	default:
		// json и array уходят в базу как есть
		return v, nil
	}
}

func toStringStrict(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	// числа и bool не форматируем в строку - лучше отдать ошибку
	return "", errors.New("must be string")
}

func toIntStrict(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		// JSON числа приходят как float64 - проверяем целостность
		if t != float64(int64(t)) {
			return 0, errors.New("must be integer")
		}
		return int64(t), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	default:
		return 0, errors.New("must be integer")
	}
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be number")
		}
		return f, nil
	default:
		return 0, errors.New("must be number")
	}
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
	}
	return false, errors.New("must be boolean")
}
