package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"rating_store/internal/domain"
)

// ReviewsGroup is the cache group of review projections.
const ReviewsGroup = "reviews"

// RatingCache keys entries by entity id and group. Entries never expire;
// they are dropped by the writes that change them. A nil backend disables
// caching.
type RatingCache struct{ c domain.Cache }

func NewRatingCache(c domain.Cache) *RatingCache { return &RatingCache{c: c} }

func (rc *RatingCache) Key(id int64, group string) string {
	return fmt.Sprintf("%s:%d", group, id)
}

func (rc *RatingCache) Get(ctx context.Context, id int64, group string, dst any) bool {
	if rc == nil || rc.c == nil {
		return false
	}
	ok, err := rc.c.Get(ctx, rc.Key(id, group), dst)
	if err != nil {
		log.Warn().Err(err).Int64("id", id).Str("group", group).Msg("cache get failed")
		return false
	}
	return ok
}

func (rc *RatingCache) Store(ctx context.Context, id int64, group string, v any) {
	if rc == nil || rc.c == nil {
		return
	}
	if err := rc.c.Set(ctx, rc.Key(id, group), v, 0); err != nil {
		log.Warn().Err(err).Int64("id", id).Str("group", group).Msg("cache set failed")
	}
}

func (rc *RatingCache) Delete(ctx context.Context, id int64, group string) {
	if rc == nil || rc.c == nil {
		return
	}
	if err := rc.c.Del(ctx, rc.Key(id, group)); err != nil {
		log.Warn().Err(err).Int64("id", id).Str("group", group).Msg("cache delete failed")
	}
}
