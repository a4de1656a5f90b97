package outreach

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	// HasContribution reports whether the expert is already invited to the
	// query.
	HasContribution(ctx context.Context, queryID, contactID uuid.UUID) (bool, error)
	CreateContribution(ctx context.Context, contribution *model.Contribution) error
	SaveOutreach(ctx context.Context, records []*model.OutreachRecord) error
}

// Orchestrator fans invitations out to matched experts.
type Orchestrator struct {
	store    Store
	registry *Registry
	throttle *Throttle
	cfg      config.OutreachConfig
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store Store, registry *Registry, throttle *Throttle, cfg config.OutreachConfig) *Orchestrator {
	return &Orchestrator{store: store, registry: registry, throttle: throttle, cfg: cfg}
}

// Dispatch invites every given expert to the query concurrently, bounded by
// the configured concurrency. Each expert gets one outreach record; a
// contribution row is created only for successful deliveries. Delivery
// failures are recorded, not returned; only persistence failures abort.
func (o *Orchestrator) Dispatch(ctx context.Context, query *model.Query, contacts []*model.Contact) ([]*model.OutreachRecord, error) {
	// The group context is for the fan-out only; it is canceled once Wait
	// returns, and the record save below still needs the caller's context.
	g, gctx := errgroup.WithContext(ctx)
	limit := o.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	var mu sync.Mutex
	var records []*model.OutreachRecord
	add := func(rec *model.OutreachRecord) {
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
	}

	for _, contact := range contacts {
		g.Go(func() error {
			rec, err := o.dispatchOne(gctx, query, contact)
			if err != nil {
				return err
			}
			add(rec)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "outreach: dispatch")
	}

	if err := o.store.SaveOutreach(ctx, records); err != nil {
		return nil, eris.Wrap(err, "outreach: save records")
	}

	sent := 0
	for _, rec := range records {
		if rec.Status == model.OutreachStatusSent {
			sent++
		}
	}
	zap.L().Info("outreach: dispatched",
		zap.String("query_id", query.ID.String()),
		zap.Int("experts", len(contacts)),
		zap.Int("sent", sent),
	)

	return records, nil
}

// dispatchOne invites a single expert. The per-expert lock makes the
// invited check and the contribution insert atomic with respect to other
// dispatches.
func (o *Orchestrator) dispatchOne(ctx context.Context, query *model.Query, contact *model.Contact) (*model.OutreachRecord, error) {
	unlock := o.throttle.Lock(contact.ID)
	defer unlock()

	rec := &model.OutreachRecord{
		ID:        uuid.New(),
		QueryID:   query.ID,
		ContactID: contact.ID,
		CreatedAt: time.Now(),
	}

	invited, err := o.store.HasContribution(ctx, query.ID, contact.ID)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: check existing invitation")
	}
	if invited {
		rec.Status = model.OutreachStatusSkipped
		rec.Detail = "already invited"
		return rec, nil
	}

	if !o.throttle.Allow(contact.ID) {
		rec.Status = model.OutreachStatusSkipped
		rec.Detail = "rate limited"
		return rec, nil
	}

	channel, err := o.deliver(ctx, query, contact)
	if err != nil {
		rec.Status = model.OutreachStatusFailed
		rec.Channel = channel
		rec.Detail = err.Error()
		zap.L().Warn("outreach: delivery failed",
			zap.String("query_id", query.ID.String()),
			zap.String("contact_id", contact.ID.String()),
			zap.Error(err),
		)
		return rec, nil
	}

	now := time.Now()
	contactID := contact.ID
	if err := o.store.CreateContribution(ctx, &model.Contribution{
		ID:          uuid.New(),
		QueryID:     query.ID,
		ContactID:   &contactID,
		RequestedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, eris.Wrap(err, "outreach: create contribution")
	}

	rec.Status = model.OutreachStatusSent
	rec.Channel = channel
	return rec, nil
}

// deliver tries the contact's channels in preference order and returns the
// channel that accepted the invitation.
func (o *Orchestrator) deliver(ctx context.Context, query *model.Query, contact *model.Contact) (string, error) {
	var lastErr error
	var lastChannel string

	for _, channel := range o.registry.ChannelsFor(contact) {
		notifier, ok := o.registry.Get(channel)
		if !ok {
			continue
		}
		lastChannel = channel
		if err := notifier.Notify(ctx, contact, query); err != nil {
			lastErr = err
			continue
		}
		return channel, nil
	}

	if lastErr != nil {
		return lastChannel, lastErr
	}
	return "", eris.New("no notifier registered for contact channels")
}
