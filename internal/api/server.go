package api

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"accounts/internal/accounts"
	"accounts/internal/config"
	"accounts/internal/model"
	"accounts/internal/reference"
)

// Server держит реестр моделей, пул соединений и справочники.
type Server struct {
	reg      *model.Registry
	db       *sql.DB
	cfg      config.Config
	catalog  reference.Catalog
	issues   []model.SchemaIssue
	accounts *accounts.Service
}

func NewServer(reg *model.Registry, db *sql.DB, cfg config.Config, catalog reference.Catalog, issues []model.SchemaIssue) (*Server, error) {
	svc, err := accounts.NewService(reg)
	if err != nil {
		return nil, err
	}
	return &Server{reg: reg, db: db, cfg: cfg, catalog: catalog, issues: issues, accounts: svc}, nil
}

// entity находит сущность по :module/:entity; иначе отвечает 404.
func (s *Server) entity(c *gin.Context) (*model.Entity, bool) {
	e, ok := s.reg.Lookup(c.Param("module"), c.Param("entity"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"errors": []FieldError{ferr(ErrNotFound, "entity", "Entity not found")}})
		return nil, false
	}
	return e, true
}

// fail отвечает ошибкой слоя запросов.
func fail(c *gin.Context, err error) {
	status, fe := errorStatus(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"errors": []FieldError{fe}})
}
