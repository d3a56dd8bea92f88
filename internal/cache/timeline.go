// Package cache implements the per-user timeline cache (component B):
// an ordered, bounded set of (post_id, score) pairs backed by a Redis
// sorted set, with the insert-and-trim step executed as a single Lua
// script so concurrent adds for the same owner can never leave the cap
// exceeded or evict a higher-scored entry than the one just inserted.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	pkgcache "github.com/feed-system/feed-system/pkg/cache"
)

const (
	keyPrefix = "timeline:"

	// reverseIndexPrefix maps a post id to the set of owner timelines it
	// was fanned out into, so remove_post_everywhere never needs a SCAN
	// over the whole keyspace.
	reverseIndexPrefix = "post_owners:"

	// safetyTTL bounds abandoned timelines purely as an operational
	// cleanup measure; the Lua script below is the only mechanism that
	// enforces TIMELINE_CAP.
	safetyTTL = 7 * 24 * time.Hour
)

// addTrimScript performs ZADD then ZREMRANGEBYRANK atomically: KEYS[1] is
// the timeline key, ARGV[1] the cap, ARGV[2] the score, ARGV[3] the member.
const addTrimScript = `
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
local cap = tonumber(ARGV[1])
local size = redis.call('ZCARD', KEYS[1])
if size > cap then
  redis.call('ZREMRANGEBYRANK', KEYS[1], 0, size - cap - 1)
end
redis.call('EXPIRE', KEYS[1], ARGV[4])
return redis.status_reply('OK')
`

// addManyScript applies an arbitrary number of (score, member) pairs before
// trimming once, so a whole fan-out chunk is atomic against the cap, not
// just each individual entry.
const addManyScript = `
local cap = tonumber(ARGV[1])
local ttl = ARGV[2]
for i = 3, #ARGV, 2 do
  redis.call('ZADD', KEYS[1], ARGV[i], ARGV[i+1])
end
local size = redis.call('ZCARD', KEYS[1])
if size > cap then
  redis.call('ZREMRANGEBYRANK', KEYS[1], 0, size - cap - 1)
end
redis.call('EXPIRE', KEYS[1], ttl)
return redis.status_reply('OK')
`

type Entry struct {
	PostID int64
	Score  float64
}

type TimelineCache struct {
	client *pkgcache.RedisClient
	cap    int64
}

func NewTimelineCache(client *pkgcache.RedisClient, cap int64) *TimelineCache {
	return &TimelineCache{client: client, cap: cap}
}

func key(ownerID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, ownerID)
}

func reverseKey(postID int64) string {
	return fmt.Sprintf("%s%d", reverseIndexPrefix, postID)
}

// member encodes a post id as a fixed-width, zero-padded sorted-set member
// so that Redis's native tie-break on equal scores (lexicographic comparison
// of the member string) follows numeric post id order: ascending ZRANGE
// order puts the lowest post id first among equal scores, so ZREVRANGE
// (what Range uses) yields the highest post id first and lists the lower
// one last, and ZREMRANGEBYRANK (what the trim uses) evicts the lowest post
// id first. A plain decimal string would instead compare lexicographically
// ("10" before "9"), which matches neither numeric order nor the tie-break
// rule.
func member(postID int64) string {
	return fmt.Sprintf("%020d", postID)
}

func decodeMember(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

// Add inserts or updates one entry and atomically trims the owner's
// timeline to the configured cap.
func (c *TimelineCache) Add(ctx context.Context, ownerID, postID int64, score float64) error {
	ttl := strconv.Itoa(int(safetyTTL.Seconds()))
	return c.client.Eval(ctx, addTrimScript, []string{key(ownerID)},
		c.cap, score, member(postID), ttl).Err()
}

// AddMany applies a whole batch of entries for one owner atomically against
// the cap. The fan-out worker calls it once per follower with that post's
// single entry; it does not write several owners' timelines in one call.
func (c *TimelineCache) AddMany(ctx context.Context, ownerID int64, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	args := make([]interface{}, 0, 2+len(entries)*2)
	args = append(args, c.cap, strconv.Itoa(int(safetyTTL.Seconds())))
	for _, e := range entries {
		args = append(args, e.Score, member(e.PostID))
	}
	if err := c.client.Eval(ctx, addManyScript, []string{key(ownerID)}, args...).Err(); err != nil {
		return err
	}
	for _, e := range entries {
		_ = c.client.SAdd(ctx, reverseKey(e.PostID), ownerID)
	}
	return nil
}

// Range returns entries descending by score, offset applied after sort.
func (c *TimelineCache) Range(ctx context.Context, ownerID int64, offset, limit int) ([]Entry, error) {
	start := int64(offset)
	stop := int64(offset + limit - 1)
	zs, err := c.client.ZRevRangeWithScores(ctx, key(ownerID), start, stop)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		id, err := parseMember(z.Member)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{PostID: id, Score: z.Score})
	}
	return entries, nil
}

func parseMember(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case string:
		return decodeMember(v)
	default:
		return 0, fmt.Errorf("unexpected member type %T", raw)
	}
}

// Invalidate drops the whole timeline, used by the follow service after
// a follow/unfollow. Nothing repopulates the dropped entries: later reads
// see an empty push timeline until the fan-out worker writes new posts.
func (c *TimelineCache) Invalidate(ctx context.Context, ownerID int64) error {
	return c.client.Delete(ctx, key(ownerID))
}

// Available is a cheap liveness probe; callers must treat any error as
// "cache unavailable", never propagate it as a request failure.
func (c *TimelineCache) Available(ctx context.Context) bool {
	return c.client.Ping(ctx) == nil
}

// RemovePostEverywhere is best-effort: it only reaches timelines the
// fan-out worker actually wrote to (tracked in the reverse index), and it
// never blocks a caller on the post-creation or fan-out path.
func (c *TimelineCache) RemovePostEverywhere(ctx context.Context, postID int64) error {
	owners, err := c.client.SMembers(ctx, reverseKey(postID))
	if err != nil {
		return err
	}
	for _, raw := range owners {
		ownerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		_ = c.client.ZRem(ctx, key(ownerID), member(postID))
	}
	return c.client.Delete(ctx, reverseKey(postID))
}
