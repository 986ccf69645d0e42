package app

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"rating_store/internal/domain"
)

// PageSize is the number of legacy rows read and written per page.
const PageSize = 250

// MigrationStore is everything an import run touches.
type MigrationStore interface {
	domain.LegacySource
	domain.MigrationState
	domain.Transactor
}

// MigrationStats counts what a run (or one page of it) did.
type MigrationStats struct {
	Pages    int   `json:"pages"`
	Rows     int   `json:"rows"`
	Skipped  int   `json:"skipped"`
	Repaired int   `json:"repaired"` // imported with invalid fields reset
	Ratings  int64 `json:"ratings"`
	Posts    int64 `json:"posts"`
	Terms    int64 `json:"terms"`
	Users    int64 `json:"users"`
	Markers  int64 `json:"markers_deleted"`
}

func (s *MigrationStats) add(o MigrationStats) {
	s.Pages += o.Pages
	s.Rows += o.Rows
	s.Skipped += o.Skipped
	s.Repaired += o.Repaired
	s.Ratings += o.Ratings
	s.Posts += o.Posts
	s.Terms += o.Terms
	s.Users += o.Users
}

// PageObserver sees every committed page.
type PageObserver func(page MigrationStats, took time.Duration)

// MigrationService rebuilds the canonical tables from marker-tagged legacy rows.
type MigrationService struct {
	store     MigrationStore
	validate  *validator.Validate
	limiter   *rate.Limiter
	observe   PageObserver
	maxRating int
}

type MigrationOption func(*MigrationService)

// WithPageLimiter throttles page reads.
func WithPageLimiter(l *rate.Limiter) MigrationOption {
	return func(s *MigrationService) { s.limiter = l }
}

// WithPayloadValidator replaces the default payload validator.
func WithPayloadValidator(v *validator.Validate) MigrationOption {
	return func(s *MigrationService) { s.validate = v }
}

func WithPageObserver(fn PageObserver) MigrationOption {
	return func(s *MigrationService) { s.observe = fn }
}

// WithImportMaxRating sets the top of the rating scale legacy ratings are
// validated and clamped against.
func WithImportMaxRating(n int) MigrationOption {
	return func(s *MigrationService) {
		if n > 0 {
			s.maxRating = n
		}
	}
}

func NewMigrationService(store MigrationStore, opts ...MigrationOption) *MigrationService {
	s := &MigrationService{store: store, maxRating: DefaultMaxRating}
	for _, o := range opts {
		o(s)
	}
	if s.validate == nil {
		s.validate = NewValidator(s.maxRating)
	}
	return s
}

// Run drains every page tagged with marker. Each page commits on its own;
// an error stops the run with earlier pages kept and the marker intact, so a
// rerun resumes safely. After a full drain the marker rows are deleted and
// the migration state is reset.
func (s *MigrationService) Run(ctx context.Context, marker string) (MigrationStats, error) {
	var stats MigrationStats
	l := log.With().Str("marker", marker).Logger()

	for offset := 0; ; offset += PageSize {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return stats, err
			}
		}
		rows, err := s.store.LegacyRows(ctx, marker, offset, PageSize)
		if err != nil {
			return stats, fmt.Errorf("read page at offset %d: %w", offset, err)
		}
		if len(rows) == 0 {
			break
		}
		start := time.Now()
		page, err := s.importPage(ctx, rows)
		if err != nil {
			l.Error().Err(err).Int("offset", offset).Msg("import page failed")
			return stats, fmt.Errorf("import page at offset %d: %w", offset, err)
		}
		took := time.Since(start)
		stats.add(page)
		if s.observe != nil {
			s.observe(page, took)
		}
		l.Debug().Int("offset", offset).Int("rows", page.Rows).Int64("ratings", page.Ratings).Dur("took", took).Msg("import page committed")
	}

	n, err := s.store.DeleteMarker(ctx, marker)
	if err != nil {
		return stats, fmt.Errorf("delete marker: %w", err)
	}
	stats.Markers = n
	if err := s.store.Reset(ctx); err != nil {
		return stats, fmt.Errorf("reset migration state: %w", err)
	}
	l.Info().
		Int("pages", stats.Pages).
		Int("rows", stats.Rows).
		Int("skipped", stats.Skipped).
		Int64("ratings", stats.Ratings).
		Msg("import finished")
	return stats, nil
}

type pendingRow struct {
	reviewID int64
	payload  domain.LegacyPayload
}

func (s *MigrationService) importPage(ctx context.Context, rows []domain.LegacyRow) (MigrationStats, error) {
	page := MigrationStats{Pages: 1, Rows: len(rows)}
	pending := make([]pendingRow, 0, len(rows))
	for _, r := range rows {
		p, err := domain.DecodeLegacyPayload(r.MetaValue)
		if err != nil || r.PostID <= 0 {
			log.Warn().Err(err).Int64("meta_id", r.MetaID).Int64("post_id", r.PostID).Msg("legacy row skipped")
			page.Skipped++
			continue
		}
		repaired, err := s.repairPayload(&p)
		if err != nil {
			log.Warn().Err(err).Int64("meta_id", r.MetaID).Int64("post_id", r.PostID).Msg("legacy row skipped")
			page.Skipped++
			continue
		}
		if len(repaired) > 0 {
			log.Warn().Strs("fields", repaired).Int64("meta_id", r.MetaID).Int64("post_id", r.PostID).Msg("legacy row imported with invalid fields reset")
			page.Repaired++
		}
		pending = append(pending, pendingRow{reviewID: r.PostID, payload: p})
	}
	if len(pending) == 0 {
		return page, nil
	}

	err := s.store.InTx(ctx, func(tx domain.PageStore) error {
		ratings := make([]map[string]any, 0, len(pending))
		reviewIDs := make([]int64, 0, len(pending))
		for _, pr := range pending {
			ratings = append(ratings, pr.payload.ToRating(pr.reviewID).Row())
			reviewIDs = append(reviewIDs, pr.reviewID)
		}
		n, err := tx.InsertBulk(ctx, domain.TableRatings, ratings, domain.RatingColumns)
		if err != nil {
			return err
		}
		page.Ratings = n

		ids, err := tx.RatingIDs(ctx, domain.UniqueInt(reviewIDs))
		if err != nil {
			return fmt.Errorf("resolve rating ids: %w", err)
		}
		for _, kind := range domain.AssignmentKinds {
			var assigned []map[string]any
			for _, pr := range pending {
				ratingID := ids[pr.reviewID]
				if ratingID == 0 {
					continue
				}
				for _, target := range pr.payload.AssignedIDs(kind) {
					row := map[string]any{"rating_id": ratingID, kind.TargetColumn(): target}
					if kind == domain.AssignPost {
						row["is_published"] = bool(pr.payload.IsApproved)
					}
					assigned = append(assigned, row)
				}
			}
			if len(assigned) == 0 {
				continue
			}
			n, err := tx.InsertBulk(ctx, kind.Table(), assigned, kind.Columns())
			if err != nil {
				return err
			}
			switch kind {
			case domain.AssignPost:
				page.Posts = n
			case domain.AssignTerm:
				page.Terms = n
			case domain.AssignUser:
				page.Users = n
			}
		}
		return nil
	})
	return page, err
}

// repairPayload resets every field of p that fails validation: the rating
// is clamped into range, over-long text is truncated, malformed email and
// ip values are cleared. It returns the names of the reset fields and an
// error only when a failure has no repair.
func (s *MigrationService) repairPayload(p *domain.LegacyPayload) ([]string, error) {
	err := s.validate.Struct(p)
	if err == nil {
		return nil, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	var fields []string
	for _, fe := range verrs {
		switch fe.StructField() {
		case "Rating":
			p.Rating = domain.FlexInt(min(max(int(p.Rating), 0), s.maxRating))
		case "Type":
			p.Type = truncateRunes(p.Type, 20)
		case "Name":
			p.Name = truncateRunes(p.Name, 250)
		case "Email":
			p.Email = ""
		case "IPAddress":
			p.IPAddress = ""
		default:
			return nil, validateStruct(s.validate, p)
		}
		fields = append(fields, fe.Field())
	}
	if err := validateStruct(s.validate, p); err != nil {
		return nil, err
	}
	return fields, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
