package xredis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// renew only if we still own the key
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// release only if we still own the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockMaster is a SETNX lease. Whoever holds Key is the master; the lease expires
// on its own if the holder dies.
type RedisLockMaster struct {
	rdb *redis.Client
	key string
	ttl time.Duration
	id  string
}

func NewRedisLockMaster(rdb *redis.Client, key string, ttl time.Duration) *RedisLockMaster {
	host, _ := os.Hostname()
	return &RedisLockMaster{
		rdb: rdb,
		key: key,
		ttl: ttl,
		id:  fmt.Sprintf("%s-%s", host, uuid.New().String()),
	}
}

func (r *RedisLockMaster) ID() string { return r.id }

// TryAcquireMaster takes the lease or renews it when already held by us.
func (r *RedisLockMaster) TryAcquireMaster(ctx context.Context) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.key, r.id, r.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, r.rdb, []string{r.key}, r.id, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return renewed == 1, nil
}

// Release drops the lease if we hold it.
func (r *RedisLockMaster) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, r.rdb, []string{r.key}, r.id).Err()
}
