package crud

import (
	"context"

	"accounts/internal/db/smartquery"
	"accounts/internal/model"
)

type Meta struct {
	Count int64 `json:"count"`
}

// Page - страница результата и общее число записей без limit/offset.
type Page struct {
	Result []*model.Record `json:"result"`
	Meta   Meta            `json:"meta"`
}

// Paginate выполняет q со страницей limit/offset и отдельный count по тому же
// дескриптору без пагинации.
func Paginate(ctx context.Context, s smartquery.Session, q *smartquery.Query, limit, offset uint64) (Page, error) {
	n, err := q.Count(ctx, s)
	if err != nil {
		return Page{}, err
	}
	recs, err := q.Limit(limit).Offset(offset).All(ctx, s)
	if err != nil {
		return Page{}, err
	}
	if recs == nil {
		recs = []*model.Record{}
	}
	return Page{Result: recs, Meta: Meta{Count: n}}, nil
}
