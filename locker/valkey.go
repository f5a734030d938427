package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

const keyPrefix = "lock:"

// releaseScript deletes the lock only while it still carries our token, so a
// holder whose TTL expired cannot release somebody else's lock.
var releaseScript = valkey.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var errHeld = errors.New("lock held elsewhere")

// Valkey is a Locker shared by every process talking to the same valkey or
// redis server. A lock expires after TTL even if its holder dies.
type Valkey struct {
	client  valkey.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// DialValkey connects to addr with client-side caching disabled.
func DialValkey(addr, password string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		Password:     password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", addr, err)
	}
	return client, nil
}

// NewValkey returns a distributed locker. A zero timeout waits until ctx is done.
func NewValkey(client valkey.Client, ttl, timeout time.Duration, logger *slog.Logger) *Valkey {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Valkey{client: client, ttl: ttl, timeout: timeout, logger: logger}
}

func (v *Valkey) Lock(ctx context.Context, key string) (Unlock, error) {
	lockKey := keyPrefix + key
	token := uuid.NewString()

	waitCtx, cancel := waitContext(ctx, v.timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(waitCtx, func() (struct{}, error) {
		cmd := v.client.B().Set().Key(lockKey).Value(token).Nx().PxMilliseconds(v.ttl.Milliseconds()).Build()
		err := v.client.Do(waitCtx, cmd).Error()
		switch {
		case err == nil:
			return struct{}{}, nil
		case valkey.IsValkeyNil(err):
			return struct{}{}, errHeld
		case waitCtx.Err() == nil && !isReply(err):
			return struct{}{}, backoff.Permanent(&UnavailableError{Key: key, Err: err})
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b))
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		if waitCtx.Err() != nil || errors.Is(err, errHeld) {
			return nil, waitError(ctx, key, v.timeout)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	return func() { v.release(lockKey, token) }, nil
}

// isReply reports whether err is an error reply from a reachable server
// rather than a failure to talk to it.
func isReply(err error) bool {
	_, ok := valkey.IsValkeyErr(err)
	return ok
}

func (v *Valkey) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Exec(ctx, v.client, []string{lockKey}, []string{token}).Error(); err != nil {
		// the TTL still frees the key
		v.logger.Warn("lock release failed", "key", lockKey, "error", err)
	}
}
