package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"accounts/internal/db/crud"
	"accounts/internal/db/smartquery"
	"accounts/internal/model"
)

var (
	ErrEmailExists        = errors.New("email is already in use")
	ErrLoginRequired      = errors.New("email or phone is required")
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrNotConfirmed       = errors.New("account is not confirmed")
	ErrUnknownSocialType  = errors.New("unknown type of social integration")
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"

	RegistrationForms  = "forms"
	RegistrationPhone  = "phone"
	RegistrationSocial = "social"
)

// NewAccount - данные регистрации.
type NewAccount struct {
	Fullname string
	Email    string
	Phone    string
	Password string

	Role             string // по умолчанию customer
	RegistrationType string // по умолчанию forms
	SocialType       string
	ExternalID       string
	SkipConfirmation bool
}

func (n NewAccount) login() string {
	if n.Email != "" {
		return n.Email
	}
	return n.Phone
}

type Service struct {
	accounts, roles, links, auths, socials *crud.Repo
	now                                    func() time.Time
}

func NewService(reg *model.Registry) (*Service, error) {
	s := &Service{now: func() time.Time { return time.Now().UTC() }}
	for _, p := range []struct {
		fqn  string
		repo **crud.Repo
	}{
		{EntityAccount, &s.accounts},
		{EntityRole, &s.roles},
		{EntityAccountRole, &s.links},
		{EntityAuth, &s.auths},
		{EntitySocial, &s.socials},
	} {
		e, err := reg.Entity(p.fqn)
		if err != nil {
			return nil, err
		}
		*p.repo = crud.New(e)
	}
	return s, nil
}

// CreateAccount создаёт учётную запись с ролью, данными авторизации и,
// для регистрации через соцсеть, привязкой к ней. Вызывать внутри транзакции.
func (s *Service) CreateAccount(ctx context.Context, sess smartquery.Session, in NewAccount) (*model.Record, error) {
	if in.login() == "" {
		return nil, ErrLoginRequired
	}
	if in.Role == "" {
		in.Role = RoleCustomer
	}
	if in.RegistrationType == "" {
		in.RegistrationType = RegistrationForms
	}
	if in.RegistrationType == RegistrationSocial && in.SocialType == "" {
		return nil, ErrUnknownSocialType
	}

	if in.Email != "" {
		taken, err := s.IsEmailExists(ctx, sess, in.Email)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%s: %w", in.Email, ErrEmailExists)
		}
	}

	q, err := smartquery.Where(s.roles.Entity(), smartquery.Filters{"code": in.Role})
	if err != nil {
		return nil, err
	}
	role, err := q.One(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("role %q: %w", in.Role, err)
	}

	fields := map[string]any{"fullname": nilIfEmpty(in.Fullname)}
	if in.Email != "" {
		fields["email"] = strings.ToLower(in.Email)
	}
	if in.Phone != "" {
		fields["phone"] = in.Phone
	}
	acc, err := s.accounts.Create(ctx, sess, fields)
	if err != nil {
		return nil, err
	}

	link, err := s.links.Create(ctx, sess, map[string]any{"account": acc, "role": role})
	if err != nil {
		return nil, err
	}
	acc.SetRelated("account_roles", []*model.Record{link})

	authFields := map[string]any{
		"login":             strings.ToLower(in.login()),
		"password":          in.Password,
		"registration_type": in.RegistrationType,
		"account":           acc,
	}
	if in.SkipConfirmation {
		authFields["confirmed_at"] = s.now()
	}
	auth, err := s.auths.Create(ctx, sess, authFields)
	if err != nil {
		return nil, err
	}
	acc.SetRelated("auths", []*model.Record{auth})

	if in.RegistrationType == RegistrationSocial {
		social, err := s.socials.Create(ctx, sess, map[string]any{
			"social_type": in.SocialType,
			"external_id": nilIfEmpty(in.ExternalID),
			"auth_data":   auth,
		})
		if err != nil {
			return nil, err
		}
		auth.SetRelated("socials", []*model.Record{social})
	}

	slog.Info("accounts: created", "id", acc.Key(), "role", in.Role, "registration", in.RegistrationType)
	return acc, nil
}

// UpdateAccount обновляет поля учётной записи; "password" меняет пароль
// во всех её данных авторизации.
func (s *Service) UpdateAccount(ctx context.Context, sess smartquery.Session, acc *model.Record, fields map[string]any) error {
	rest := make(map[string]any, len(fields))
	for k, v := range fields {
		rest[k] = v
	}
	if pw, ok := rest["password"]; ok {
		delete(rest, "password")
		q, err := smartquery.Where(s.auths.Entity(), smartquery.Filters{"account": acc})
		if err != nil {
			return err
		}
		auths, err := q.All(ctx, sess)
		if err != nil {
			return err
		}
		for _, a := range auths {
			if err := s.auths.Update(ctx, sess, a, map[string]any{"password": pw}); err != nil {
				return err
			}
		}
	}
	if len(rest) == 0 {
		return nil
	}
	return s.accounts.Update(ctx, sess, acc, rest)
}

// IsEmailExists: адрес занят учётной записью или используется как логин.
func (s *Service) IsEmailExists(ctx context.Context, sess smartquery.Session, email string) (bool, error) {
	email = strings.ToLower(email)
	ok, err := s.accounts.Exists(ctx, sess, smartquery.Filters{"email": email})
	if err != nil || ok {
		return ok, err
	}
	return s.auths.Exists(ctx, sess, smartquery.Filters{"login": email})
}

// Authenticate находит данные авторизации по логину и проверяет пароль.
// Возвращает учётную запись с загруженными auths и ролями.
func (s *Service) Authenticate(ctx context.Context, sess smartquery.Session, login, password string) (*model.Record, error) {
	q, err := smartquery.SmartQuery(s.accounts.Entity(),
		smartquery.Filters{"auths___login": strings.ToLower(login)}, nil,
		smartquery.Schema{smartquery.JoinedLoad("account_roles", smartquery.JoinedLoad("role"))})
	if err != nil {
		return nil, err
	}
	acc, err := q.First(ctx, sess)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ErrInvalidCredentials
	}
	for _, a := range acc.Related("auths") {
		if a.Get("login") != strings.ToLower(login) || !VerifyPassword(a, password) {
			continue
		}
		if !confirmed(a) {
			return nil, ErrNotConfirmed
		}
		return acc, nil
	}
	return nil, ErrInvalidCredentials
}

// Confirm отмечает данные авторизации подтверждёнными.
func (s *Service) Confirm(ctx context.Context, sess smartquery.Session, auth *model.Record) error {
	if confirmed(auth) {
		return nil
	}
	return s.auths.Update(ctx, sess, auth, map[string]any{"confirmed_at": s.now()})
}

func nilIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
