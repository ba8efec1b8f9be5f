package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Row values are "<status>|<claim id>|<claimed at unix ms>[|<completed at unix ms>]".
// Pending rows carry the claim lease as their TTL, so an abandoned claim
// disappears on its own and the next SET NX succeeds.

var completeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1])) == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1])) == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// Redis is a Ledger backed by one string key per event.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis returns a Redis ledger storing keys under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) key(eventID string) string {
	return r.prefix + eventID
}

func (r *Redis) Get(ctx context.Context, eventID string) (*Event, error) {
	v, err := r.client.Get(ctx, r.key(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", ErrPersistence, eventID, err)
	}
	ev, err := decodeRow(eventID, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return ev, nil
}

func (r *Redis) Create(ctx context.Context, eventID string) error {
	now := r.now()
	ok, err := r.client.SetNX(ctx, r.key(eventID), encodeDone(uuid.NewString(), now, now), 0).Result()
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrPersistence, eventID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrPersistence, ErrDuplicate, eventID)
	}
	return nil
}

func (r *Redis) Claim(ctx context.Context, eventID string, lease time.Duration) (Claim, bool, error) {
	c := Claim{EventID: eventID, ID: uuid.NewString()}
	value := pendingPrefix(c.ID) + strconv.FormatInt(r.now().UnixMilli(), 10)

	ok, err := r.client.SetNX(ctx, r.key(eventID), value, lease).Result()
	if err != nil {
		return Claim{}, false, fmt.Errorf("%w: claim %s: %w", ErrPersistence, eventID, err)
	}
	if !ok {
		return Claim{}, false, nil
	}
	return c, true, nil
}

func (r *Redis) Complete(ctx context.Context, c Claim) error {
	ev, err := r.Get(ctx, c.EventID)
	if err != nil {
		return err
	}
	if ev == nil || ev.ClaimID != c.ID {
		return ErrClaimLost
	}

	done := encodeDone(c.ID, ev.ClaimedAt, r.now())
	n, err := completeScript.Run(ctx, r.client, []string{r.key(c.EventID)}, pendingPrefix(c.ID), done).Int()
	if err != nil {
		return fmt.Errorf("%w: complete %s: %w", ErrPersistence, c.EventID, err)
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, c Claim) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(c.EventID)}, pendingPrefix(c.ID)).Int()
	if err != nil {
		return fmt.Errorf("%w: release %s: %w", ErrPersistence, c.EventID, err)
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func pendingPrefix(claimID string) string {
	return string(StatusPending) + "|" + claimID + "|"
}

func encodeDone(claimID string, claimedAt, completedAt time.Time) string {
	return fmt.Sprintf("%s|%s|%d|%d", StatusDone, claimID, claimedAt.UnixMilli(), completedAt.UnixMilli())
}

func decodeRow(eventID, v string) (*Event, error) {
	parts := strings.Split(v, "|")
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed ledger row for %s", eventID)
	}
	claimedMs, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed ledger row for %s: %w", eventID, err)
	}

	ev := &Event{
		ID:        eventID,
		Status:    Status(parts[0]),
		ClaimID:   parts[1],
		ClaimedAt: time.UnixMilli(claimedMs),
	}
	if len(parts) > 3 {
		completedMs, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed ledger row for %s: %w", eventID, err)
		}
		completed := time.UnixMilli(completedMs)
		ev.CompletedAt = &completed
	}
	return ev, nil
}
