package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ferramas/ferramas-backend/pkg/logger"
)

const defaultTTL = 2 * time.Minute

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
	GuardKey(token string) string
}

// Redis shares in-flight tokens across instances with SET NX and a TTL.
type Redis struct {
	store redisStore
	ttl   time.Duration
	owner string
}

// NewRedis builds a redis-backed guard. The TTL bounds how long a crashed instance can hold a token.
func NewRedis(store redisStore, ttl time.Duration) (*Redis, error) {
	if store == nil {
		return nil, errors.New("redis store is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{store: store, ttl: ttl, owner: uuid.NewString()}, nil
}

func (g *Redis) TryAcquire(ctx context.Context, token string) (bool, error) {
	ok, err := g.store.SetNX(ctx, g.store.GuardKey(token), g.owner, g.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx guard key: %w", err)
	}
	return ok, nil
}

// Release deletes the token key only if this instance still owns it.
func (g *Redis) Release(ctx context.Context, token string) error {
	if _, err := g.store.DelIfValue(ctx, g.store.GuardKey(token), g.owner); err != nil {
		return fmt.Errorf("release guard key: %w", err)
	}
	return nil
}

// Chain consults the local guard first and then the shared redis guard.
type Chain struct {
	local  *Local
	remote *Redis
	logg   *logger.Logger
}

// NewChain combines both layers. A nil remote leaves only the local guard active.
func NewChain(local *Local, remote *Redis, logg *logger.Logger) (*Chain, error) {
	if local == nil {
		return nil, errors.New("local guard is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Chain{local: local, remote: remote, logg: logg}, nil
}

func (c *Chain) TryAcquire(ctx context.Context, token string) bool {
	if !c.local.TryAcquire(ctx, token) {
		return false
	}
	if c.remote == nil {
		return true
	}
	ok, err := c.remote.TryAcquire(ctx, token)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "redis confirm guard unavailable; relying on local guard")
		return true
	}
	if !ok {
		c.local.Release(ctx, token)
		return false
	}
	return true
}

func (c *Chain) Release(ctx context.Context, token string) {
	if c.remote != nil {
		if err := c.remote.Release(ctx, token); err != nil {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "failed to release redis confirm guard")
		}
	}
	c.local.Release(ctx, token)
}
