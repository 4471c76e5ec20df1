package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"accounts/internal/accounts"
	"accounts/internal/db/crud"
	"accounts/internal/db/smartquery"
	"accounts/internal/model"
	"accounts/internal/pg"
)

// GET /api/:module/:entity
func (s *Server) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := s.entity(c)
		if !ok {
			return
		}
		lp, err := parseListParams(e, c.Request.URL.Query(), s.cfg.DefaultLimit, s.cfg.MaxLimit)
		if err != nil {
			fail(c, err)
			return
		}
		q, err := smartquery.SmartQuery(e, lp.Filters, lp.Sort, lp.With)
		if err != nil {
			fail(c, err)
			return
		}
		page, err := crud.Paginate(c.Request.Context(), s.db, q.Nulls(lp.Nulls), lp.Limit, lp.Offset)
		if err != nil {
			fail(c, err)
			return
		}
		c.Header("X-Total-Count", strconv.FormatInt(page.Meta.Count, 10))
		c.JSON(http.StatusOK, page)
	}
}

// GET /api/:module/:entity/_count
func (s *Server) CountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := s.filtered(c)
		if !ok {
			return
		}
		n, err := q.Count(c.Request.Context(), s.db)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// GET /api/:module/:entity/_exists
func (s *Server) ExistsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := s.filtered(c)
		if !ok {
			return
		}
		found, err := q.Exists(c.Request.Context(), s.db)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exists": found})
	}
}

// filtered - запрос только по фильтрам листинга.
func (s *Server) filtered(c *gin.Context) (*smartquery.Query, bool) {
	e, ok := s.entity(c)
	if !ok {
		return nil, false
	}
	lp, err := parseListParams(e, c.Request.URL.Query(), s.cfg.DefaultLimit, s.cfg.MaxLimit)
	if err == nil {
		var q *smartquery.Query
		if q, err = smartquery.Where(e, lp.Filters); err == nil {
			return q, true
		}
	}
	fail(c, err)
	return nil, false
}

// GET /api/:module/:entity/:id
func (s *Server) GetOneHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := s.entity(c)
		if !ok {
			return
		}
		filters, err := keyFilters(e, c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		var schema smartquery.Schema
		if w := c.Query("_with"); w != "" {
			if schema, err = smartquery.ParseSchema(w); err != nil {
				fail(c, err)
				return
			}
		}
		q, err := smartquery.SmartQuery(e, filters, nil, schema)
		if err != nil {
			fail(c, err)
			return
		}
		rec, err := q.One(c.Request.Context(), s.db)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, flatten(rec))
	}
}

// POST /api/:module/:entity
func (s *Server) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := s.entity(c)
		if !ok {
			return
		}
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []FieldError{ferr(ErrTypeMismatch, "", "Invalid JSON")}})
			return
		}
		if errs := ValidateBody(e, obj, true); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}

		repo := crud.New(e)
		var rec *model.Record
		err := pg.InTransaction(c.Request.Context(), s.db, func(tx *sql.Tx) error {
			if err := resolveRelations(c.Request.Context(), tx, e, obj); err != nil {
				return err
			}
			var err error
			rec, err = repo.Create(c.Request.Context(), tx, obj)
			return err
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, flatten(rec))
	}
}

// PATCH /api/:module/:entity/:id
func (s *Server) UpdatePartialHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := s.entity(c)
		if !ok {
			return
		}
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []FieldError{ferr(ErrTypeMismatch, "", "Invalid JSON")}})
			return
		}
		clientVer, hasVer := getClientVersion(c, obj)
		delete(obj, model.ColVersion)
		if errs := ValidateBody(e, obj, false); len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}

		repo := crud.New(e)
		var rec *model.Record
		err := pg.InTransaction(c.Request.Context(), s.db, func(tx *sql.Tx) error {
			var err error
			rec, err = repo.Find(c.Request.Context(), tx, keyOf(e, c.Param("id"))...)
			if err != nil {
				return err
			}
			// версия клиента проверяется тем же UPDATE ... WHERE version = ?
			if hasVer {
				rec.Set(model.ColVersion, clientVer)
			}
			if err := resolveRelations(c.Request.Context(), tx, e, obj); err != nil {
				return err
			}
			return repo.Update(c.Request.Context(), tx, rec, obj)
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, flatten(rec))
	}
}

// DELETE /api/:module/:entity/:id
func (s *Server) DeleteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		e, ok := s.entity(c)
		if !ok {
			return
		}
		repo := crud.New(e)
		err := pg.InTransaction(c.Request.Context(), s.db, func(tx *sql.Tx) error {
			rec, err := repo.Find(c.Request.Context(), tx, keyOf(e, c.Param("id"))...)
			if err != nil {
				return err
			}
			return repo.Delete(c.Request.Context(), tx, rec)
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type registerReq struct {
	Fullname         string `json:"fullname"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Password         string `json:"password" binding:"required"`
	RegistrationType string `json:"registration_type"`
	SocialType       string `json:"social_type"`
	ExternalID       string `json:"external_id"`
}

// POST /auth/register
func (s *Server) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []FieldError{ferr(ErrRequired, "password", err.Error())}})
			return
		}
		if req.SocialType != "" && !s.catalog["social_types"].Has(req.SocialType) {
			fail(c, fmt.Errorf("%w: %q", accounts.ErrUnknownSocialType, req.SocialType))
			return
		}
		var acc *model.Record
		err := pg.InTransaction(c.Request.Context(), s.db, func(tx *sql.Tx) error {
			var err error
			acc, err = s.accounts.CreateAccount(c.Request.Context(), tx, accounts.NewAccount{
				Fullname:         req.Fullname,
				Email:            req.Email,
				Phone:            req.Phone,
				Password:         req.Password,
				RegistrationType: req.RegistrationType,
				SocialType:       req.SocialType,
				ExternalID:       req.ExternalID,
			})
			return err
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, flatten(acc))
	}
}

type loginReq struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /auth/login
func (s *Server) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []FieldError{ferr(ErrRequired, "", err.Error())}})
			return
		}
		acc, err := s.accounts.Authenticate(c.Request.Context(), s.db, req.Login, req.Password)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, flatten(acc))
	}
}

// keyFilters - фильтр по первичному ключу из :id.
func keyFilters(e *model.Entity, raw string) (smartquery.Filters, error) {
	pk := e.PrimaryKey()
	key := keyOf(e, raw)
	if len(key) != len(pk) {
		return nil, fmt.Errorf("%s: %w: want %d values, got %d", e.FQN(), crud.ErrInvalidKey, len(pk), len(key))
	}
	out := make(smartquery.Filters, len(pk))
	for i, p := range pk {
		out[p] = key[i]
	}
	return out, nil
}

// resolveRelations заменяет ключи to-many связей в теле на записи.
// Ключи to-one остаются как есть: FK проверит база.
func resolveRelations(ctx context.Context, sess smartquery.Session, e *model.Entity, obj map[string]any) error {
	for name, v := range obj {
		rel, ok := e.Relation(name)
		if !ok || rel.Kind != model.ToMany || v == nil {
			continue
		}
		ids, ok := v.([]any)
		if !ok {
			return &smartquery.TokenError{Token: name, Detail: "must be an array of ids", Err: smartquery.ErrInvalidFilterValue}
		}
		pk := rel.Target.PrimaryKey()
		if len(pk) != 1 {
			return &smartquery.TokenError{Token: name, Detail: "target has a composite key", Err: smartquery.ErrInvalidFilterValue}
		}
		q, err := smartquery.Where(rel.Target, smartquery.Filters{pk[0] + smartquery.OperatorSplitter + "in": ids})
		if err != nil {
			return err
		}
		found, err := q.All(ctx, sess)
		if err != nil {
			return err
		}
		byKey := make(map[string]*model.Record, len(found))
		for _, r := range found {
			byKey[fmt.Sprint(r.Data[pk[0]])] = r
		}
		recs := make([]*model.Record, 0, len(ids))
		for _, id := range ids {
			r, ok := byKey[fmt.Sprint(id)]
			if !ok {
				return fmt.Errorf("%s.%s: %w: %v", e.FQN(), name, crud.ErrReferenceNotFound, id)
			}
			recs = append(recs, r)
		}
		obj[name] = recs
	}
	return nil
}
