package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	gocacheStore "github.com/eko/gocache/store/go_cache/v4"
	redisStore "github.com/eko/gocache/store/redis/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

var Cache *cache.Cache[[]byte]

var errCacheDisabled = errors.New("cache not initialized")

func InitCache() {
	if Config.RedisUrl != "" {
		Cache = cache.New[[]byte](
			redisStore.NewRedis(
				redis.NewClient(
					&redis.Options{
						Addr: Config.RedisUrl,
					},
				),
			),
		)
		fmt.Println("using redis")
	} else {
		Cache = cache.New[[]byte](
			gocacheStore.NewGoCache(
				gocache.New(
					10*time.Minute,
					20*time.Minute),
			),
		)
		fmt.Println("using gocache")
	}
}

// GetCache fills model from the cached value, any error means a miss
func GetCache(ctx context.Context, key string, model any) error {
	if Cache == nil {
		return errCacheDisabled
	}
	data, err := Cache.Get(ctx, key)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, model)
}

func SetCache(ctx context.Context, key string, model any, duration time.Duration) error {
	if Cache == nil {
		return nil
	}
	data, err := msgpack.Marshal(model)
	if err != nil {
		return err
	}
	duration = GenRandomDuration(duration)
	return Cache.Set(ctx, key, data, store.WithExpiration(duration))
}

func DeleteCache(ctx context.Context, key string) error {
	if Cache == nil {
		return nil
	}
	return Cache.Delete(ctx, key)
}

func ClearCache(ctx context.Context) error {
	if Cache == nil {
		return nil
	}
	return Cache.Clear(ctx)
}

// GenRandomDuration spreads expirations over a few extra minutes
func GenRandomDuration(delay time.Duration) time.Duration {
	return delay + time.Duration(rand.Int63n(int64(5*time.Minute)))
}
