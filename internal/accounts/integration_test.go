package accounts_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounts/internal/accounts"
	"accounts/internal/config"
	"accounts/internal/db/crud"
	"accounts/internal/db/smartquery"
	"accounts/internal/pg"
	"accounts/internal/pg/pgtest"
	"accounts/internal/reference"
)

func TestAccountsIntegration(t *testing.T) {
	reg := registry(t)
	db := pgtest.Start(t, reg)
	ctx := context.Background()

	catalog, err := reference.LoadEnumCatalog("../../reference/enums")
	require.NoError(t, err)
	rules := []config.SeedRule{{Catalog: "roles", Entity: accounts.EntityRole, NameField: "title"}}
	n, err := reference.Seed(ctx, db, reg, catalog, rules)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	svc, err := accounts.NewService(reg)
	require.NoError(t, err)

	bill := &accounts.NewAccount{
		Fullname: "Bill", Email: "Bill@Example.com", Password: "pw-bill", SkipConfirmation: true,
	}
	err = pg.InTransaction(ctx, db, func(tx *sql.Tx) error {
		if _, err := svc.CreateAccount(ctx, tx, *bill); err != nil {
			return err
		}
		_, err := svc.CreateAccount(ctx, tx, accounts.NewAccount{
			Phone: "+100", Password: "pw-alex", Role: accounts.RoleAdmin,
			RegistrationType: accounts.RegistrationSocial, SocialType: "vk", ExternalID: "42",
		})
		return err
	})
	require.NoError(t, err)

	account := reg.MustEntity(accounts.EntityAccount)

	t.Run("email is taken", func(t *testing.T) {
		ok, err := svc.IsEmailExists(ctx, db, "bill@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = svc.IsEmailExists(ctx, db, "nobody@example.com")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = svc.CreateAccount(ctx, db, *bill)
		assert.ErrorIs(t, err, accounts.ErrEmailExists)
	})

	t.Run("hybrid filters", func(t *testing.T) {
		q, err := smartquery.Where(account, smartquery.Filters{"is_active": true})
		require.NoError(t, err)
		active, err := q.All(ctx, db)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "bill@example.com", active[0].Get("email"))

		q, err = smartquery.Where(account, smartquery.Filters{"has_role": accounts.RoleAdmin})
		require.NoError(t, err)
		admin, err := q.One(ctx, db)
		require.NoError(t, err)
		assert.Equal(t, "+100", admin.Get("phone"))

		q, err = smartquery.Where(account, smartquery.Filters{"auths___socials___social_type": "vk"})
		require.NoError(t, err)
		n, err := q.Count(ctx, db)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("authenticate", func(t *testing.T) {
		acc, err := svc.Authenticate(ctx, db, "BILL@example.com", "pw-bill")
		require.NoError(t, err)
		assert.Equal(t, "Bill", acc.Get("fullname"))
		m, _ := account.HybridMethod("has_role")
		assert.True(t, m.Value(acc, accounts.RoleCustomer))

		_, err = svc.Authenticate(ctx, db, "bill@example.com", "nope")
		assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
		_, err = svc.Authenticate(ctx, db, "ghost", "pw")
		assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
		_, err = svc.Authenticate(ctx, db, "+100", "pw-alex")
		assert.ErrorIs(t, err, accounts.ErrNotConfirmed)
	})

	t.Run("password change and confirmation", func(t *testing.T) {
		q, err := smartquery.Where(account, smartquery.Filters{"phone": "+100"})
		require.NoError(t, err)
		alex, err := q.One(ctx, db)
		require.NoError(t, err)
		require.NoError(t, svc.UpdateAccount(ctx, db, alex, map[string]any{"password": "pw-new", "fullname": "Alex"}))
		assert.Equal(t, "Alex", alex.Get("fullname"))

		auths := crud.New(reg.MustEntity(accounts.EntityAuth))
		auth, _, err := auths.GetOrCreate(ctx, db, smartquery.Filters{"login": "+100"}, nil)
		require.NoError(t, err)
		require.NoError(t, svc.Confirm(ctx, db, auth))

		_, err = svc.Authenticate(ctx, db, "+100", "pw-alex")
		assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
		_, err = svc.Authenticate(ctx, db, "+100", "pw-new")
		assert.NoError(t, err)
	})

	t.Run("deleting an account cascades", func(t *testing.T) {
		q, err := smartquery.Where(account, smartquery.Filters{"email": "bill@example.com"})
		require.NoError(t, err)
		acc, err := q.One(ctx, db)
		require.NoError(t, err)
		require.NoError(t, crud.New(account).Delete(ctx, db, acc))

		ok, err := svc.IsEmailExists(ctx, db, "bill@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("seeding again creates nothing", func(t *testing.T) {
		n, err := reference.Seed(ctx, db, reg, catalog, rules)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
