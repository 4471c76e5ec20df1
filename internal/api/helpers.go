package api

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"accounts/internal/model"
)

// flatten: запись с гибридами и загруженными связями
func flatten(rec *model.Record) map[string]any {
	return rec.AsDict(model.DictOptions{Nested: true, Hybrid: true})
}

// keyOf разбирает :id; составной ключ передаётся через запятую.
func keyOf(e *model.Entity, raw string) []any {
	if len(e.PrimaryKey()) == 1 {
		return []any{raw}
	}
	parts := strings.Split(raw, ",")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func getClientVersion(c *gin.Context, body map[string]any) (int64, bool) {
	// приоритет - заголовок
	if h := strings.Trim(strings.TrimSpace(c.GetHeader("If-Match")), `"`); h != "" {
		if v, err := strconv.ParseInt(h, 10, 64); err == nil {
			return v, true
		}
	}
	if body != nil {
		if f, ok := body["version"]; ok {
			switch t := f.(type) {
			case float64:
				return int64(t), true
			case string:
				if v, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
					return v, true
				}
			}
		}
	}
	return 0, false
}
