package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"guestlist/entity"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/redis/go-redis/v9"
)

type PromoCodeStore interface {
	GetByCode(ctx context.Context, organizationID, code string) (entity.PromoCode, error)
	Put(ctx context.Context, promo entity.PromoCode) error
}

// PromoCodes is a read-through cache in front of the promo code store.
// Redis failures fall back to the store. Reads only fill a missing key, so a
// value read before a Put never replaces the one the Put wrote.
type PromoCodes struct {
	store PromoCodeStore
	rdb   redis.Cmdable
	ttl   time.Duration
}

func NewPromoCodes(store PromoCodeStore, rdb redis.Cmdable, ttl time.Duration) PromoCodes {
	if store == nil {
		panic("missing promo code store")
	}
	if rdb == nil {
		panic("missing redis client")
	}

	return PromoCodes{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
	}
}

func promoCodeKey(organizationID, code string) string {
	return fmt.Sprintf("promo_code:%s:%s", organizationID, code)
}

func (c PromoCodes) GetByCode(ctx context.Context, organizationID, code string) (entity.PromoCode, error) {
	key := promoCodeKey(organizationID, code)
	logger := log.FromContext(ctx).WithField("key", key)

	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var promo entity.PromoCode
		if err := json.Unmarshal([]byte(val), &promo); err == nil {
			return promo, nil
		}
		logger.WithError(err).Warn("Dropping unreadable cached promo code")
	case errors.Is(err, redis.Nil):
	default:
		logger.WithError(err).Warn("Promo code cache unavailable")
	}

	promo, err := c.store.GetByCode(ctx, organizationID, code)
	if err != nil {
		return entity.PromoCode{}, err
	}

	data, err := json.Marshal(promo)
	if err != nil {
		return entity.PromoCode{}, fmt.Errorf("marshalling promo code: %w", err)
	}
	if err := c.rdb.SetNX(ctx, key, string(data), c.ttl).Err(); err != nil {
		logger.WithError(err).Warn("Could not cache promo code")
	}

	return promo, nil
}

// Put writes through to the store, then to the cache. When the cache write
// fails the cached copy is dropped instead.
func (c PromoCodes) Put(ctx context.Context, promo entity.PromoCode) error {
	if err := c.store.Put(ctx, promo); err != nil {
		return err
	}

	key := promoCodeKey(promo.OrganizationID, promo.Code)
	data, err := json.Marshal(promo)
	if err != nil {
		return fmt.Errorf("marshalling promo code: %w", err)
	}

	err = c.rdb.Set(ctx, key, string(data), c.ttl).Err()
	if err == nil {
		return nil
	}
	log.FromContext(ctx).WithError(err).WithField("key", key).Warn("Could not cache promo code, dropping it")

	if err := c.rdb.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("deleting cached promo code: %w", err)
	}

	return nil
}
