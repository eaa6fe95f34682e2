package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/regscout/regscout/internal/pkg/cache"
)

const chatQuotaKeyPrefix = "chat:quota"

// Allow consumes one unit of the user's daily chat quota and reports whether
// the send may proceed. A negative limit means unlimited. The counter lives
// in Redis with a key per user per UTC day, expiring at end of day.
//
// On a Redis error the send is allowed: quota is a free-tier soft limit, and
// chat availability matters more than strict enforcement. The error is
// returned so the caller can log it.
func Allow(ctx context.Context, userID uint, limit int) (bool, int, error) {
	if limit < 0 {
		return true, -1, nil
	}

	now := time.Now().UTC()
	key := dayKey(userID, now)

	client := cache.GetClient()
	n, err := client.Incr(ctx, key).Result()
	if err != nil {
		return true, 0, err
	}
	if n == 1 {
		client.ExpireAt(ctx, key, endOfDay(now))
	}

	used := int(n)
	if used > limit {
		return false, 0, nil
	}
	return true, limit - used, nil
}

// Refund returns one consumed unit after a send that never produced a
// reply, so a failed request does not burn quota. No-op for unlimited
// plans; fails soft like Allow.
func Refund(ctx context.Context, userID uint, limit int) error {
	if limit < 0 {
		return nil
	}
	return cache.GetClient().Decr(ctx, dayKey(userID, time.Now().UTC())).Err()
}

// Used returns the number of chat messages the user sent today.
func Used(ctx context.Context, userID uint) (int, error) {
	n, err := cache.GetClient().Get(ctx, dayKey(userID, time.Now().UTC())).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func dayKey(userID uint, t time.Time) string {
	return fmt.Sprintf("%s:%d:%s", chatQuotaKeyPrefix, userID, t.Format("2006-01-02"))
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
