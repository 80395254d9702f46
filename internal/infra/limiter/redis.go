package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var attemptScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// Redis is a fixed-window limiter shared by every process pointing at the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedis allows limit attempts per subject within window.
func NewRedis(client redis.UniversalClient, prefix string, limit int, window time.Duration) *Redis {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "offramp:verify"
	}
	return &Redis{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow consumes one attempt for subject.
func (r *Redis) Allow(ctx context.Context, subject string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	windowMs := r.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s", r.prefix, subject)
	count, err := attemptScript.Run(ctx, r.client, []string{key}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return count <= int64(r.limit), nil
}
