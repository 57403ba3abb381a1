package tiered

import (
	"context"
	"slices"
	"time"

	"github.com/blueberrycongee/embedcache/pkg/cache"
)

// tag adds member to the tag set and raises the set's TTL to at least ttl.
// The TTL is never lowered, so a set outlives every member written into it
// and disappears on its own once they have all expired.
func (s *Store) tag(ctx context.Context, tag, member string, ttl time.Duration) error {
	setKey := s.keys.Tag(tag)
	if err := s.remote.AddToSet(ctx, setKey, member); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}

	current, err := s.remote.TTL(ctx, setKey)
	if err != nil {
		return err
	}
	if current >= ttl {
		return nil
	}
	return s.remote.Expire(ctx, setKey, ttl)
}

// InvalidateByTag deletes every member of the tag set from both tiers,
// deletes the set itself and returns the member count. An absent tag
// returns 0.
func (s *Store) InvalidateByTag(ctx context.Context, tagName string) (int, error) {
	setKey := s.keys.Tag(tagName)

	var members []string
	if s.remote != nil {
		var err error
		members, err = s.remote.Members(ctx, setKey)
		if err != nil {
			return 0, s.fail("invalidate_tag", setKey, err)
		}
	}

	memberSet := make(map[string]struct{}, len(members))
	for _, key := range members {
		memberSet[key] = struct{}{}
	}

	// Entries written with SkipRemote are only known to L1.
	now := s.now()
	removedLocal := s.local.DeleteFunc(func(key string, entry *cache.Entry) bool {
		if _, ok := memberSet[key]; ok {
			return true
		}
		return !entry.Expired(now) && slices.Contains(entry.Tags, tagName)
	})

	count := len(members)
	for _, key := range removedLocal {
		if _, ok := memberSet[key]; !ok {
			count++
		}
	}

	if s.remote != nil {
		keys := append(slices.Clone(members), setKey)
		if err := s.remote.Delete(ctx, keys...); err != nil {
			return 0, s.fail("invalidate_tag", setKey, err)
		}
	}

	s.deletes.Add(int64(count))
	s.observer.Delete(cache.NamespaceNone, count)
	s.logger.Info("cache invalidated by tag", "tag", tagName, "count", count)
	return count, nil
}
