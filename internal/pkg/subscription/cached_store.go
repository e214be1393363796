package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
	"github.com/ManuelReschke/FitClash/internal/pkg/entitlements"
	"github.com/ManuelReschke/FitClash/internal/pkg/metrics"
)

const (
	cacheKeyPrefix  = "entitlement:active:"
	genKeyPrefix    = "entitlement:gen:"
	extRefKeyPrefix = "entitlement:ext:"
)

// DefaultCacheTTL bounds staleness when an invalidation could not reach Redis.
const DefaultCacheTTL = 30 * time.Second

const (
	// loadTimeout bounds a shared store read once it is detached from the
	// request that started it.
	loadTimeout       = 5 * time.Second
	invalidateTimeout = 2 * time.Second
	genTTL            = 24 * time.Hour
	extRefTTL         = 7 * 24 * time.Hour
)

var errStaleGeneration = errors.New("cache generation moved")

type cacheEntry struct {
	Subscription *models.Subscription `json:"subscription"`
}

// CachedStore is a Redis read-through cache in front of a Store. Every
// mutation invalidates the affected user. Store errors are never cached and
// Redis failures fall through to the wrapped store.
//
// Each user has a generation counter bumped on invalidation. A load only
// writes its result back when the generation is unchanged since the load
// started, so a read racing a mutation cannot re-cache the old row.
type CachedStore struct {
	Store
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedStore wraps inner. A non-positive ttl uses DefaultCacheTTL.
func NewCachedStore(inner Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{Store: inner, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) GetActive(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "subscription.get_active"
	if err := requireUserID(op, userID); err != nil {
		return nil, err
	}

	key := cacheKeyPrefix + userID
	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var entry cacheEntry
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			metrics.SubscriptionCacheTotal.WithLabelValues("hit").Inc()
			return entry.Subscription, nil
		}
		log.Warnf("subscription cache: dropping undecodable entry for user %s", userID)
		s.invalidate(ctx, userID)
	case errors.Is(err, redis.Nil):
		metrics.SubscriptionCacheTotal.WithLabelValues("miss").Inc()
	default:
		metrics.SubscriptionCacheTotal.WithLabelValues("error").Inc()
		log.Warnf("subscription cache: read failed for user %s: %v", userID, err)
	}

	// The shared load must not die with whichever caller happened to start it.
	ch := s.group.DoChan(userID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.load(lctx, userID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sub, _ := res.Val.(*models.Subscription)
		return sub.Clone(), nil
	case <-ctx.Done():
		return nil, apperror.Storage(op, ctx.Err(), false, "user_id", userID)
	}
}

func (s *CachedStore) load(ctx context.Context, userID string) (*models.Subscription, error) {
	gen, genErr := s.generation(ctx, userID)
	sub, err := s.Store.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		log.Warnf("subscription cache: generation read failed for user %s: %v", userID, genErr)
		return sub, nil
	}
	s.put(ctx, userID, gen, sub)
	return sub, nil
}

func (s *CachedStore) Activate(ctx context.Context, userID string, tier entitlements.Tier, externalRef string) (*models.Subscription, error) {
	sub, err := s.Store.Activate(ctx, userID, tier, externalRef)
	// Invalidate even on error: a failed activation may still have committed.
	s.invalidate(ctx, userID)
	if externalRef != "" {
		s.rememberExternalRef(ctx, externalRef, userID)
	}
	return sub, err
}

func (s *CachedStore) DeactivateByExternalID(ctx context.Context, externalRef string) (*models.Subscription, error) {
	sub, err := s.Store.DeactivateByExternalID(ctx, externalRef)
	s.invalidateExternal(ctx, externalRef, sub, err)
	return sub, err
}

func (s *CachedStore) UpdateTierByExternalID(ctx context.Context, externalRef string, tier entitlements.Tier, isActive bool) (*models.Subscription, error) {
	sub, err := s.Store.UpdateTierByExternalID(ctx, externalRef, tier, isActive)
	s.invalidateExternal(ctx, externalRef, sub, err)
	return sub, err
}

func (s *CachedStore) DeactivateForUser(ctx context.Context, userID, reason string) (*models.Subscription, error) {
	sub, err := s.Store.DeactivateForUser(ctx, userID, reason)
	s.invalidate(ctx, userID)
	return sub, err
}

// invalidateExternal clears the owner of externalRef. When the store did not
// hand back the row (error or no open match) the owner is looked up through
// the reference index and then the wrapped store.
func (s *CachedStore) invalidateExternal(ctx context.Context, externalRef string, sub *models.Subscription, err error) {
	if sub != nil && err == nil {
		s.invalidate(ctx, sub.UserID)
		return
	}
	owners := map[string]struct{}{}
	if sub != nil {
		owners[sub.UserID] = struct{}{}
	}
	if externalRef == "" {
		return
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	userID, rerr := s.rdb.Get(dctx, extRefKeyPrefix+externalRef).Result()
	switch {
	case rerr == nil && userID != "":
		owners[userID] = struct{}{}
	case rerr != nil && !errors.Is(rerr, redis.Nil):
		log.Warnf("subscription cache: reference lookup failed for %s: %v", externalRef, rerr)
	}
	if resolver, ok := s.Store.(ExternalRefResolver); ok {
		userID, rerr := resolver.UserIDByExternalID(dctx, externalRef)
		switch {
		case rerr != nil:
			log.Warnf("subscription cache: owner lookup failed for %s: %v", externalRef, rerr)
		case userID != "":
			owners[userID] = struct{}{}
		}
	}
	for userID := range owners {
		s.invalidate(ctx, userID)
	}
}

func (s *CachedStore) generation(ctx context.Context, userID string) (string, error) {
	gen, err := s.rdb.Get(ctx, genKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// put writes the loaded row unless the user was invalidated after gen was read.
func (s *CachedStore) put(ctx context.Context, userID, gen string, sub *models.Subscription) {
	data, err := json.Marshal(cacheEntry{Subscription: sub})
	if err != nil {
		return
	}
	genKey := genKeyPrefix + userID
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKeyPrefix+userID, data, s.ttl)
			if ref := sub.External(); ref != "" {
				pipe.Set(ctx, extRefKeyPrefix+ref, userID, extRefTTL)
			}
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		log.Debugf("subscription cache: skipped stale write for user %s", userID)
	default:
		log.Warnf("subscription cache: write failed for user %s: %v", userID, err)
	}
}

func (s *CachedStore) rememberExternalRef(ctx context.Context, externalRef, userID string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := s.rdb.Set(dctx, extRefKeyPrefix+externalRef, userID, extRefTTL).Err(); err != nil {
		log.Warnf("subscription cache: reference index write failed for %s: %v", externalRef, err)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	// Detach from the request context so a canceled request still clears the key.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	genKey := genKeyPrefix + userID
	_, err := s.rdb.TxPipelined(dctx, func(pipe redis.Pipeliner) error {
		pipe.Del(dctx, cacheKeyPrefix+userID)
		pipe.Incr(dctx, genKey)
		pipe.Expire(dctx, genKey, genTTL)
		return nil
	})
	if err != nil {
		log.Errorf("subscription cache: invalidate failed for user %s: %v", userID, err)
	}
}
