package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "issuance_lock:"

// ErrNotOwner is returned when releasing a lock that is held by someone else.
var ErrNotOwner = errors.New("lock held by another owner")

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IssuanceLock serializes issuance per purchase across service instances.
type IssuanceLock struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewIssuanceLock(client *redis.Client, ttl time.Duration) *IssuanceLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &IssuanceLock{Client: client, TTL: ttl}
}

func key(purchaseID string) string {
	return keyPrefix + purchaseID
}

// Acquire takes the purchase lock for owner. It returns false without error
// when another owner currently holds it.
func (l *IssuanceLock) Acquire(ctx context.Context, purchaseID, owner string) (bool, error) {
	ok, err := l.Client.SetNX(ctx, key(purchaseID), owner, l.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire issuance lock for %s: %w", purchaseID, err)
	}
	return ok, nil
}

// Release drops the lock if owner still holds it. An already expired lock is not an error.
func (l *IssuanceLock) Release(ctx context.Context, purchaseID, owner string) error {
	res, err := releaseScript.Run(ctx, l.Client, []string{key(purchaseID)}, owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release issuance lock for %s: %w", purchaseID, err)
	}
	if res == 0 {
		holder, err := l.Client.Get(ctx, key(purchaseID)).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		if holder != owner {
			return ErrNotOwner
		}
	}
	return nil
}
