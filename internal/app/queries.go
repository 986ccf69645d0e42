package app

import (
	"context"
	"errors"

	"rating_store/internal/domain"
)

// QueryService reads reviews through the rating cache.
type QueryService struct {
	repo    domain.RatingRepository
	content domain.ContentStore
	cache   *RatingCache
}

func NewQueryService(r domain.RatingRepository, c domain.ContentStore, cache *RatingCache) *QueryService {
	return &QueryService{repo: r, content: c, cache: cache}
}

// Review materializes one review. A content item without a rating row comes
// back as an invalid Review rather than an error; only a missing item is
// domain.ErrNotFound.
func (s *QueryService) Review(ctx context.Context, id int64) (*domain.Review, error) {
	var p domain.ReviewProjection
	if s.cache.Get(ctx, id, ReviewsGroup, &p) {
		return domain.NewReview(p, s.content), nil
	}
	p, err := s.repo.ReviewProjection(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return s.orphan(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.cache.Store(ctx, id, ReviewsGroup, p)
	return domain.NewReview(p, s.content), nil
}

func (s *QueryService) orphan(ctx context.Context, id int64) (*domain.Review, error) {
	it, err := s.content.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.NewReview(domain.ReviewProjection{
		ReviewID: it.ID,
		AuthorID: it.Author,
		Title:    it.Title,
		Content:  it.Content,
		Date:     it.Date,
		Status:   it.Status,
	}, s.content), nil
}

// Reviews lists reviews; list entries are not cached.
func (s *QueryService) Reviews(ctx context.Context, q domain.ReviewsQuery) ([]*domain.Review, error) {
	ps, err := s.repo.ListProjections(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Review, 0, len(ps))
	for _, p := range ps {
		out = append(out, domain.NewReview(p, s.content))
	}
	return out, nil
}

// Total counts with the filters of Reviews, ignoring paging.
func (s *QueryService) Total(ctx context.Context, q domain.ReviewsQuery) (int, error) {
	return s.repo.CountReviews(ctx, q)
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
