package suppression

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChecker consults a shared Redis SET whose members are MD5 hex
// digests. Suited to suppression sets refreshed out-of-band that many
// workers consult at once.
type RedisChecker struct {
	client *redis.Client
	key    string
}

func NewRedisChecker(client *redis.Client, key string) *RedisChecker {
	if key == "" {
		key = "suppression:md5"
	}
	return &RedisChecker{client: client, key: key}
}

func (c *RedisChecker) IsSuppressed(ctx context.Context, email string) (bool, error) {
	ok, err := c.client.SIsMember(ctx, c.key, HashEmail(email)).Result()
	if err != nil {
		return false, fmt.Errorf("suppression: sismember: %w", err)
	}
	return ok, nil
}

func (c *RedisChecker) CheckBatch(ctx context.Context, emails []string) (map[string]bool, error) {
	out := make(map[string]bool, len(emails))
	if len(emails) == 0 {
		return out, nil
	}

	members := make([]interface{}, len(emails))
	for i, e := range emails {
		members[i] = HashEmail(e)
	}
	verdicts, err := c.client.SMIsMember(ctx, c.key, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("suppression: smismember: %w", err)
	}
	for i, e := range emails {
		out[e] = verdicts[i]
	}
	return out, nil
}

// Seed adds addresses to the set. Used by refresh jobs and tests; the
// import path itself never writes.
func (c *RedisChecker) Seed(ctx context.Context, emails ...string) error {
	if len(emails) == 0 {
		return nil
	}
	members := make([]interface{}, len(emails))
	for i, e := range emails {
		members[i] = HashEmail(e)
	}
	if err := c.client.SAdd(ctx, c.key, members...).Err(); err != nil {
		return fmt.Errorf("suppression: sadd: %w", err)
	}
	return nil
}
