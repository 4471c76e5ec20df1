// Package accounts - учётные записи, роли и данные авторизации.
package accounts

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/crypto/bcrypt"

	"accounts/internal/model"
)

const (
	EntityAccount     = "accounts.Account"
	EntityRole        = "accounts.Role"
	EntityAccountRole = "accounts.AccountRole"
	EntityAuth        = "accounts.AuthorizationData"
	EntitySocial      = "accounts.SocialIntegration"
)

// Register добавляет гибридные атрибуты сущностей модуля accounts.
func Register(reg *model.Registry) error {
	auth, err := reg.Entity(EntityAuth)
	if err != nil {
		return err
	}
	links, err := reg.Entity(EntityAccountRole)
	if err != nil {
		return err
	}
	roles, err := reg.Entity(EntityRole)
	if err != nil {
		return err
	}

	if err := reg.RegisterHybridProperty(EntityAuth, model.HybridProperty{
		Name:  "is_confirmed",
		Expr:  func(m model.Mapper) string { return m.Col("confirmed_at") + " IS NOT NULL" },
		Value: func(r *model.Record) any { return confirmed(r) },
	}); err != nil {
		return err
	}

	if err := reg.RegisterHybridProperty(EntityAuth, model.HybridProperty{
		Name:   "password",
		Hidden: true,
		Expr:   func(m model.Mapper) string { return m.Col("password_hash") },
		Value:  func(r *model.Record) any { return r.Data["password_hash"] },
		Set: func(r *model.Record, v any) error {
			plain, ok := v.(string)
			if !ok || plain == "" {
				return fmt.Errorf("password must be a non-empty string")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			r.Set("password_hash", string(hash))
			return nil
		},
	}); err != nil {
		return err
	}

	// активна, если есть хотя бы одна подтверждённая авторизация
	if err := reg.RegisterHybridProperty(EntityAccount, model.HybridProperty{
		Name: "is_active",
		Expr: func(m model.Mapper) string {
			a := model.Mapper{Entity: auth, Alias: m.Qualifier() + "_auth"}
			return "EXISTS (SELECT 1 FROM " + a.From() +
				" WHERE " + a.Col("account_id") + " = " + m.Col(model.ColID) +
				" AND " + a.Col("confirmed_at") + " IS NOT NULL)"
		},
		Value: func(r *model.Record) any {
			for _, a := range r.Related("auths") {
				if confirmed(a) {
					return true
				}
			}
			return false
		},
	}); err != nil {
		return err
	}

	return reg.RegisterHybridMethod(EntityAccount, model.HybridMethod{
		Name: "has_role",
		Expr: func(v any, m model.Mapper) (sq.Sqlizer, error) {
			code, err := roleCode(v)
			if err != nil {
				return nil, err
			}
			l := model.Mapper{Entity: links, Alias: m.Qualifier() + "_ar"}
			ro := model.Mapper{Entity: roles, Alias: m.Qualifier() + "_role"}
			return sq.Expr("EXISTS (SELECT 1 FROM "+l.From()+
				" JOIN "+ro.From()+" ON "+ro.Col(model.ColID)+" = "+l.Col("role_id")+
				" WHERE "+l.Col("account_id")+" = "+m.Col(model.ColID)+
				" AND "+ro.Col("code")+" = ?)", code), nil
		},
		Value: func(r *model.Record, v any) bool {
			code, err := roleCode(v)
			if err != nil {
				return false
			}
			for _, link := range r.Related("account_roles") {
				if role := link.One("role"); role != nil && role.Get("code") == code {
					return true
				}
			}
			return false
		},
	})
}

func confirmed(r *model.Record) bool {
	switch v := r.Data["confirmed_at"].(type) {
	case nil:
		return false
	case time.Time:
		return !v.IsZero()
	}
	return true
}

// roleCode: код роли строкой или записью Role
func roleCode(v any) (string, error) {
	switch x := v.(type) {
	case string:
		if x == "" {
			return "", fmt.Errorf("has_role: empty role code")
		}
		return x, nil
	case *model.Record:
		if x != nil {
			if code, ok := x.Get("code").(string); ok {
				return code, nil
			}
		}
	}
	return "", fmt.Errorf("has_role expects a role code, got %T", v)
}

// VerifyPassword сверяет пароль с хэшем записи AuthorizationData.
func VerifyPassword(auth *model.Record, plain string) bool {
	hash, _ := auth.Data["password_hash"].(string)
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
