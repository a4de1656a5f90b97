// Package settlement drives payment for completed answers: it hands the
// compiled answer to the ledger and notifies paid contributors.
package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/ledger"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errandboy_settlements_total",
		Help: "Settlement attempts by outcome.",
	}, []string{"outcome"})

	settledCentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "errandboy_settled_cents_total",
		Help: "Total cents settled through the ledger.",
	})
)

// Notifier tells a contributor they were paid. Delivery failures are logged,
// never propagated; the ledger rows are the source of truth.
type Notifier interface {
	NotifyPayout(ctx context.Context, contactID uuid.UUID, queryID uuid.UUID, amountCents int64) error
}

// Coordinator implements the synthesizer's settlement hook.
type Coordinator struct {
	ledger   *ledger.Engine
	notifier Notifier
}

// NewCoordinator creates a Coordinator. The notifier may be nil.
func NewCoordinator(engine *ledger.Engine, notifier Notifier) *Coordinator {
	return &Coordinator{ledger: engine, notifier: notifier}
}

// Settle pays out one completed answer. Re-settling an already settled query
// is a no-op, so retries after partial failures are safe.
func (c *Coordinator) Settle(ctx context.Context, query *model.Query, answer *model.CompiledAnswer) error {
	split, err := c.ledger.Settle(ctx, query, answer)
	if errors.Is(err, ledger.ErrAlreadySettled) {
		settlementsTotal.WithLabelValues("duplicate").Inc()
		zap.L().Info("settlement: query already settled",
			zap.String("query_id", query.ID.String()),
		)
		return nil
	}
	if err != nil {
		settlementsTotal.WithLabelValues("failure").Inc()
		return eris.Wrap(err, "settlement: settle query")
	}

	settlementsTotal.WithLabelValues("success").Inc()
	settledCentsTotal.Add(float64(split.TotalAmountCents))

	if c.notifier != nil {
		for _, share := range split.Distribution {
			if share.ContactID == nil {
				continue
			}
			if err := c.notifier.NotifyPayout(ctx, *share.ContactID, query.ID, share.PayoutCents); err != nil {
				zap.L().Warn("settlement: payout notification failed",
					zap.String("contact_id", share.ContactID.String()),
					zap.String("query_id", query.ID.String()),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}
