// Package matching selects and ranks expert candidates for a query.
package matching

import (
	"context"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/geo"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/scoring"
)

// minMatches is the guaranteed match floor. When fewer than this many
// candidates survive the exclusion filters, recently-contacted experts are
// backfilled with a modest random score so no question goes out to an empty
// room.
const minMatches = 3

// Backfilled candidates land in this score range: below genuine strong
// matches, above the similarity floor.
const (
	backfillMin = 0.25
	backfillMax = 0.45
)

// diversityThreshold is the result count below which the diversity filter is
// skipped entirely. With this few matches there is nothing to thin out.
const diversityThreshold = 5

// Store is the persistence surface the selector needs.
type Store interface {
	// OutreachCountsSince returns, per contact, the number of sent outreach
	// attempts recorded at or after the given time, ignoring rows for
	// excludeQueryID.
	OutreachCountsSince(ctx context.Context, excludeQueryID uuid.UUID, since time.Time) (map[uuid.UUID]int, error)
	SaveMatches(ctx context.Context, matches []*model.MatchRecord) error
}

// Options tune one selection run. Zero values fall back to configuration.
type Options struct {
	Limit             int
	QueryTags         []string
	QueryCoord        *geom.Coord
	LocationBoost     bool
	ExcludeContactIDs []uuid.UUID
	// IncludeRecent admits recently contacted experts as ordinary candidates
	// instead of deferring them to the backfill pool.
	IncludeRecent bool
}

// Selector ranks candidates for queries and persists the resulting matches.
type Selector struct {
	engine *scoring.Engine
	store  Store
	cfg    config.MatchingConfig
	recent config.OutreachConfig
	rng    *rand.Rand
	now    func() time.Time
}

// NewSelector creates a Selector. A nil rng gets a fresh PCG source.
func NewSelector(engine *scoring.Engine, store Store, cfg config.MatchingConfig, recent config.OutreachConfig, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Selector{
		engine: engine,
		store:  store,
		cfg:    cfg,
		recent: recent,
		rng:    rng,
		now:    time.Now,
	}
}

// Select scores the candidate pool against the query, ranks it, applies the
// diversity filter and limit, and persists the surviving matches. The
// returned records are in rank order with wave groups assigned.
func (s *Selector) Select(ctx context.Context, query *model.Query, candidates []*model.Contact, opts Options) ([]*model.MatchRecord, error) {
	now := s.now()

	contacted := map[uuid.UUID]int{}
	if !opts.IncludeRecent {
		var err error
		contacted, err = s.store.OutreachCountsSince(ctx, query.ID, now.Add(-time.Duration(s.recent.RecentContactHrs)*time.Hour))
		if err != nil {
			return nil, eris.Wrap(err, "matching: load recent outreach")
		}
	}
	weekCounts, err := s.store.OutreachCountsSince(ctx, query.ID, now.AddDate(0, 0, -s.recent.RecentQueryWindow))
	if err != nil {
		return nil, eris.Wrap(err, "matching: load outreach counts")
	}

	excluded := make(map[uuid.UUID]struct{}, len(opts.ExcludeContactIDs))
	for _, id := range opts.ExcludeContactIDs {
		excluded[id] = struct{}{}
	}

	in := scoring.Input{
		QuestionText:  query.QuestionText,
		QueryTags:     opts.QueryTags,
		QueryCoord:    opts.QueryCoord,
		LocalQuery:    geo.IsLocalQuery(query.QuestionText),
		LocationBoost: opts.LocationBoost,
	}

	var records []*model.MatchRecord
	var deferred []*model.Contact
	contactsByID := make(map[uuid.UUID]*model.Contact, len(candidates))

	for _, c := range candidates {
		if !c.Matchable() || c.PhoneNumber == query.UserPhone {
			continue
		}
		if _, skip := excluded[c.ID]; skip {
			continue
		}
		if contacted[c.ID] > 0 {
			deferred = append(deferred, c)
			continue
		}
		contactsByID[c.ID] = c
		records = append(records, s.score(in, query, c, weekCounts[c.ID], now))
	}

	// Guarantee a minimum pool by re-admitting recently contacted experts
	// with a modest random score.
	for _, c := range deferred {
		if len(records) >= minMatches {
			break
		}
		contactsByID[c.ID] = c
		rec := s.score(in, query, c, weekCounts[c.ID], now)
		rec.Scores.FinalScore = backfillMin + s.rng.Float64()*(backfillMax-backfillMin)
		rec.Reasons = append(rec.Reasons, "backfilled to meet minimum match count")
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Scores.FinalScore > records[j].Scores.FinalScore
	})

	records = diversify(records, contactsByID)

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if query.MaxExperts > 0 && query.MaxExperts < limit {
		limit = query.MaxExperts
	}
	if len(records) > limit {
		records = records[:limit]
	}

	waveSize := s.cfg.WaveSize
	if waveSize <= 0 {
		waveSize = 1
	}
	for i, rec := range records {
		rec.WaveGroup = i/waveSize + 1
	}

	if err := s.store.SaveMatches(ctx, records); err != nil {
		return nil, eris.Wrap(err, "matching: save matches")
	}

	zap.L().Info("matching: selected experts",
		zap.String("query_id", query.ID.String()),
		zap.Int("candidates", len(candidates)),
		zap.Int("matched", len(records)),
	)

	return records, nil
}

func (s *Selector) score(in scoring.Input, query *model.Query, c *model.Contact, weekCount int, now time.Time) *model.MatchRecord {
	scores, distance := s.engine.Score(in, c)
	tz := geo.TimezoneOffset(c.Location())

	availability := "available"
	if !geo.IsBusinessHours(tz, now) {
		availability = "off_hours"
	}

	return &model.MatchRecord{
		ID:                 uuid.New(),
		QueryID:            query.ID,
		ContactID:          c.ID,
		Scores:             scores,
		Reasons:            reasons(scores, c),
		DistanceKm:         distance,
		TimezoneOffset:     tz,
		AvailabilityStatus: availability,
		RecentQueryCount:   weekCount,
		CreatedAt:          now,
	}
}

// reasons produces the human-readable explanation strings stored alongside
// each match.
func reasons(scores model.MatchScores, c *model.Contact) []string {
	var out []string
	if scores.EmbeddingSimilarity > 0.3 {
		out = append(out, "profile closely matches the question")
	}
	if scores.TagOverlap > 0.5 {
		out = append(out, "expertise tags overlap the question topics")
	}
	if c.TrustScore > 0.7 {
		out = append(out, "high trust score")
	}
	if c.ResponseRate > 0.7 {
		out = append(out, "responds reliably")
	}
	if scores.GeographicBoost > 0 {
		out = append(out, "located near the question's area")
	}
	return out
}

// diversify thins over-represented expertise clusters out of a large result
// set. The top three ranked matches always survive; past those, at most two
// matches share an expertise signature. Small result sets pass through
// untouched.
func diversify(records []*model.MatchRecord, contacts map[uuid.UUID]*model.Contact) []*model.MatchRecord {
	if len(records) <= diversityThreshold {
		return records
	}

	seen := make(map[string]int)
	out := make([]*model.MatchRecord, 0, len(records))
	for i, rec := range records {
		sig := expertiseSignature(contacts[rec.ContactID])
		if i >= minMatches && seen[sig] >= 2 {
			continue
		}
		seen[sig]++
		out = append(out, rec)
	}
	return out
}

// expertiseSignature is the contact's top three tag names, sorted and
// lowercased, as a grouping key.
func expertiseSignature(c *model.Contact) string {
	if c == nil {
		return ""
	}
	names := make([]string, 0, len(c.ExpertiseTags))
	for _, t := range c.ExpertiseTags {
		names = append(names, strings.ToLower(t.Name))
	}
	sort.Strings(names)
	if len(names) > 3 {
		names = names[:3]
	}
	return strings.Join(names, "|")
}
