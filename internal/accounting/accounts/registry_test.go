package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/accounting/shared"
)

type stubRepo struct {
	accounts map[int64]Account
	mappings map[string]int64
	getCalls int
	mapCalls int
}

func (s *stubRepo) Get(ctx context.Context, id int64) (Account, error) {
	s.getCalls++
	if a, ok := s.accounts[id]; ok {
		return a, nil
	}
	return Account{}, shared.ErrAccountNotFound
}

func (s *stubRepo) GetByCode(ctx context.Context, code string) (Account, error) {
	for _, a := range s.accounts {
		if a.Code == code {
			return a, nil
		}
	}
	return Account{}, shared.ErrAccountNotFound
}

func (s *stubRepo) ListPostable(ctx context.Context) ([]Account, error) {
	var out []Account
	for _, a := range s.accounts {
		if a.IsPostable {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubRepo) GetMapping(ctx context.Context, module, key string) (int64, error) {
	s.mapCalls++
	if id, ok := s.mappings[module+":"+key]; ok {
		return id, nil
	}
	return 0, shared.ErrAccountNotConfigured
}

func TestRegistryReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := &stubRepo{
		accounts: map[int64]Account{
			7: {ID: 7, Code: "1.1.40", Name: "Inventory WH-1", Type: AccountTypeAsset, NormalSide: BalanceSideDebit, IsPostable: true, IsActive: true},
		},
		mappings: map[string]int64{"INVENTORY:1": 7},
	}
	reg := NewRegistry(repo, client, time.Minute)
	ctx := context.Background()

	got, err := reg.ResolveKey(ctx, "inventory", "1")
	require.NoError(t, err)
	require.Equal(t, int64(7), got.ID)
	require.Equal(t, 1, repo.mapCalls)

	// Second resolve served from cache.
	got, err = reg.ResolveKey(ctx, "INVENTORY", "1")
	require.NoError(t, err)
	require.Equal(t, "1.1.40", got.Code)
	require.Equal(t, 1, repo.mapCalls)

	require.NoError(t, reg.Invalidate(ctx, "INVENTORY", "1"))
	_, err = reg.ResolveKey(ctx, "INVENTORY", "1")
	require.NoError(t, err)
	require.Equal(t, 2, repo.mapCalls)
}

func TestRegistryUnmappedKey(t *testing.T) {
	reg := NewRegistry(&stubRepo{mappings: map[string]int64{}}, nil, 0)
	_, err := reg.ResolveKey(context.Background(), "GL", "MISSING")
	require.ErrorIs(t, err, shared.ErrAccountNotConfigured)
}

func TestNominalAccounts(t *testing.T) {
	require.True(t, AccountTypeRevenue.IsNominal())
	require.True(t, AccountTypeCOGS.IsNominal())
	require.False(t, AccountTypeAsset.IsNominal())
	require.Equal(t, BalanceSideDebit, DefaultNormalSide(AccountTypeExpense))
	require.Equal(t, BalanceSideCredit, DefaultNormalSide(AccountTypeLiability))
}
