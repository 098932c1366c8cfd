package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry resolves symbolic business keys (module, key) to postable
// accounts through account_mappings, with a read-through Redis cache so
// hot posting paths do not hit the database for configuration data.
type Registry struct {
	repo  Repository
	cache *redis.Client
	ttl   time.Duration
}

// NewRegistry constructs the registry. cache may be nil, in which case
// every lookup goes to the repository.
func NewRegistry(repo Repository, cache *redis.Client, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Registry{repo: repo, cache: cache, ttl: ttl}
}

// Get returns an account by id.
func (r *Registry) Get(ctx context.Context, id int64) (Account, error) {
	return r.repo.Get(ctx, id)
}

// ResolveKey resolves a symbolic key to its configured account.
func (r *Registry) ResolveKey(ctx context.Context, module, key string) (Account, error) {
	module = strings.ToUpper(module)
	cacheKey := fmt.Sprintf("acct:map:%s:%s", module, key)
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached Account
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}
	accountID, err := r.repo.GetMapping(ctx, module, key)
	if err != nil {
		return Account{}, err
	}
	account, err := r.repo.Get(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	if r.cache != nil {
		if raw, err := json.Marshal(account); err == nil {
			_ = r.cache.Set(ctx, cacheKey, raw, r.ttl).Err()
		}
	}
	return account, nil
}

// Invalidate drops a cached mapping after configuration changes.
func (r *Registry) Invalidate(ctx context.Context, module, key string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, fmt.Sprintf("acct:map:%s:%s", strings.ToUpper(module), key)).Err()
}
