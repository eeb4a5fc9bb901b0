package idempotency

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	authmw "github.com/micro-chain/netdisk/internal/auth/middleware"
	apperrors "github.com/micro-chain/netdisk/internal/pkg/errors"
	"github.com/micro-chain/netdisk/internal/pkg/response"
	"go.uber.org/zap"
)

// DefaultLockTTL is the lifetime of an in-flight lock when none is configured.
const DefaultLockTTL = 10 * time.Second

// LockStore is the ephemeral store backing the guard. Acquisition must be a
// single atomic set-if-absent round trip; *redis.Client from internal/pkg/redis
// satisfies this interface.
type LockStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
}

// Guard rejects a second concurrent invocation of the same mutating operation
// by the same user. Operations opt in explicitly by wrapping their route with
// Middleware; chunk upload is deliberately never wrapped, it has its own
// per-chunk idempotency.
type Guard struct {
	store  LockStore
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a guard backed by the given lock store.
func New(store LockStore, ttl time.Duration, logger *zap.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Guard{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// lock is the per-request acquisition state; it travels in the gin context
// rather than any per-goroutine storage.
type lock struct {
	key        string
	token      string
	acquiredAt time.Time
}

// Middleware wraps a mutating operation identified by name. The lock key is
// userID + "-" + operation, so unrelated users and unrelated operations never
// contend. Requests without an authenticated user fail hard.
func (g *Guard) Middleware(operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(authmw.ContextUserID)
		if userID == "" {
			g.logger.Error("idempotency guard invoked without user identity",
				zap.String("operation", operation),
				zap.String("path", c.Request.URL.Path),
			)
			response.AbortWithCode(c, apperrors.ErrMissingIdentity)
			return
		}

		l, err := g.Acquire(c.Request.Context(), userID, operation)
		if err != nil {
			response.HandleError(c, err)
			c.Abort()
			return
		}

		c.Next()

		// Released on success and on handler error alike. The release runs
		// on a detached context: a client disconnect cancels the request
		// context and would otherwise pin the lock for the full TTL.
		g.Release(context.WithoutCancel(c.Request.Context()), l)
	}
}

// Acquire takes the (user, operation) lock. A held lock yields
// ErrDuplicateInFlight; store failures surface as retryable storage errors.
func (g *Guard) Acquire(ctx context.Context, userID, operation string) (*lock, error) {
	key := userID + "-" + operation
	token := uuid.New().String()

	ok, err := g.store.SetNX(ctx, key, token, g.ttl)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageFailed, "acquire idempotency lock")
	}
	if !ok {
		g.logger.Warn("duplicate in-flight request rejected",
			zap.String("key", key),
		)
		return nil, apperrors.New(apperrors.ErrDuplicateInFlight, key)
	}

	return &lock{
		key:        key,
		token:      token,
		acquiredAt: time.Now(),
	}, nil
}

// Release deletes the lock only while its TTL has not yet elapsed. Past the
// TTL the key has expired (or is about to) and may already belong to a later
// caller's re-acquisition, so it is left for the store to expire.
func (g *Guard) Release(ctx context.Context, l *lock) {
	if l == nil {
		return
	}

	if time.Since(l.acquiredAt) >= g.ttl {
		g.logger.Warn("idempotency lock outlived its ttl, leaving it to expire",
			zap.String("key", l.key),
			zap.Duration("held", time.Since(l.acquiredAt)),
		)
		return
	}

	if _, err := g.store.Del(ctx, l.key); err != nil {
		g.logger.Error("failed to release idempotency lock",
			zap.String("key", l.key),
			zap.Error(err),
		)
	}
}
