// Package issuancelock fast-fails concurrent issuance for the same
// transaction. The partial unique index on fiscal_documents remains
// the authority; the lock only spares the loser a burned RPS number.
package issuancelock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	appconfig "github.com/smallbiznis/emissor/internal/config"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lock guards one (issuer, transaction) pair for the duration of a
// submission round trip. A nil Lock is valid and grants every acquire:
// deployments without Redis rely on the database constraint alone.
type Lock struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func New(cfg appconfig.Config) *Lock {
	if cfg.LockRedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.LockRedisAddr,
		Password: cfg.LockRedisPassword,
		DB:       cfg.LockRedisDB,
	})
	return &Lock{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    cfg.LockTTL,
	}
}

// Acquire takes the lock for the pair. The returned release func is
// safe to call whether or not the lock was granted. Redis being down
// is not a reason to refuse issuance, so errors surface only for
// programmer mistakes.
func (l *Lock) Acquire(ctx context.Context, issuerID snowflake.ID, transactionID string) (release func(), acquired bool, err error) {
	noop := func() {}
	if l == nil || l.client == nil {
		return noop, true, nil
	}
	if transactionID == "" {
		return noop, false, errors.New("lock transaction id is empty")
	}

	key := fmt.Sprintf("emissor:issue:%s:%s", issuerID, transactionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return noop, true, nil
	}
	if !ok {
		return noop, false, nil
	}

	release = func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.script.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
