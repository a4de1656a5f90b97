// Package ledger implements double-entry bookkeeping for query payments and
// the citation-weighted split of each query's contributor pool.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/config"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// Sentinel errors callers branch on.
var (
	ErrAlreadySettled = errors.New("ledger: query already settled")
	ErrNoCitations    = errors.New("ledger: answer has no citations to pay")
	ErrNoCharge       = errors.New("ledger: query has no cost to settle")
	ErrUnbalanced     = errors.New("ledger: transaction entries do not balance")
)

// Store is the persistence surface the ledger needs.
type Store interface {
	// GetPayoutSplit returns nil when the query has no settlement yet.
	GetPayoutSplit(ctx context.Context, queryID uuid.UUID) (*model.PayoutSplit, error)
	SavePayoutSplit(ctx context.Context, split *model.PayoutSplit) error
	InsertLedgerEntries(ctx context.Context, entries []*model.LedgerEntry) error
	// AccountEntries returns entries for one account, newest first. A limit
	// of 0 means no limit.
	AccountEntries(ctx context.Context, accountType, accountID string, limit int) ([]*model.LedgerEntry, error)
	EntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*model.LedgerEntry, error)
	AddContactEarnings(ctx context.Context, contactID uuid.UUID, amountCents int64) error
	SetContributionPayout(ctx context.Context, contributionID uuid.UUID, amountCents int64) error
}

// Engine records settlements and answers balance queries.
type Engine struct {
	store Store
	cfg   config.LedgerConfig
}

// NewEngine creates a ledger Engine.
func NewEngine(store Store, cfg config.LedgerConfig) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Settle splits the query's cost into contributor, platform, and referral
// pools and writes one balanced ledger transaction paying every cited
// contributor proportionally to citation count. Settling an already settled
// query returns the existing split with ErrAlreadySettled.
func (e *Engine) Settle(ctx context.Context, query *model.Query, answer *model.CompiledAnswer) (*model.PayoutSplit, error) {
	existing, err := e.store.GetPayoutSplit(ctx, query.ID)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: check existing settlement")
	}
	if existing != nil {
		return existing, ErrAlreadySettled
	}

	if len(answer.Citations) == 0 {
		return nil, ErrNoCitations
	}
	total := query.TotalCostCents
	if total <= 0 {
		return nil, ErrNoCharge
	}

	// Each pool floors independently; the lost cents sweep into the
	// platform fee so the transaction still balances to the exact charge.
	contributorPool := int64(math.Floor(float64(total) * e.cfg.ContributorPoolPct))
	platformFee := int64(math.Floor(float64(total) * e.cfg.PlatformPct))
	referralBonus := int64(math.Floor(float64(total) * e.cfg.ReferralPct))
	platformFee += total - contributorPool - platformFee - referralBonus

	shares := computeShares(answer.Citations, contributorPool)

	now := time.Now()
	txID := uuid.New()
	queryID := query.ID

	entries := []*model.LedgerEntry{
		{
			ID:              uuid.New(),
			TransactionID:   txID,
			TransactionType: model.TransactionQueryPayment,
			AccountType:     model.AccountTypeUser,
			AccountID:       query.UserPhone,
			EntryType:       model.LedgerEntryDebit,
			AmountCents:     total,
			Currency:        "USD",
			QueryID:         &queryID,
			Description:     "query payment",
			CreatedAt:       now,
		},
		{
			ID:              uuid.New(),
			TransactionID:   txID,
			TransactionType: model.TransactionPlatformFee,
			AccountType:     model.AccountTypePlatform,
			AccountID:       model.PlatformRevenueAccount,
			EntryType:       model.LedgerEntryCredit,
			AmountCents:     platformFee,
			Currency:        "USD",
			QueryID:         &queryID,
			Description:     "platform fee",
			CreatedAt:       now,
		},
	}

	if referralBonus > 0 {
		entries = append(entries, &model.LedgerEntry{
			ID:              uuid.New(),
			TransactionID:   txID,
			TransactionType: model.TransactionReferralBonus,
			AccountType:     model.AccountTypeReferral,
			AccountID:       model.ReferralPoolAccount,
			EntryType:       model.LedgerEntryCredit,
			AmountCents:     referralBonus,
			Currency:        "USD",
			QueryID:         &queryID,
			Description:     "referral bonus pool",
			CreatedAt:       now,
		})
	}

	for _, share := range shares {
		// Shares that floor to zero stay in the distribution record but get
		// no ledger entry.
		if share.PayoutCents == 0 {
			continue
		}
		accountID := share.ContributionID.String()
		if share.ContactID != nil {
			accountID = share.ContactID.String()
		}
		entries = append(entries, &model.LedgerEntry{
			ID:              uuid.New(),
			TransactionID:   txID,
			TransactionType: model.TransactionContributionPayout,
			AccountType:     model.AccountTypeContributor,
			AccountID:       accountID,
			EntryType:       model.LedgerEntryCredit,
			AmountCents:     share.PayoutCents,
			Currency:        "USD",
			QueryID:         &queryID,
			ContactID:       share.ContactID,
			Description:     "contribution payout",
			Metadata: map[string]any{
				"citation_id":     share.CitationID.String(),
				"contribution_id": share.ContributionID.String(),
				"weight":          share.Weight,
			},
			CreatedAt: now,
		})
	}

	if err := validateBalance(entries); err != nil {
		return nil, err
	}
	if err := e.store.InsertLedgerEntries(ctx, entries); err != nil {
		return nil, eris.Wrap(err, "ledger: insert entries")
	}

	for _, share := range shares {
		if err := e.store.SetContributionPayout(ctx, share.ContributionID, share.PayoutCents); err != nil {
			return nil, eris.Wrap(err, "ledger: record contribution payout")
		}
		if share.ContactID != nil {
			if err := e.store.AddContactEarnings(ctx, *share.ContactID, share.PayoutCents); err != nil {
				return nil, eris.Wrap(err, "ledger: update contact earnings")
			}
		}
	}

	split := &model.PayoutSplit{
		ID:                   uuid.New(),
		QueryID:              queryID,
		TotalAmountCents:     total,
		ContributorPoolCents: contributorPool,
		PlatformFeeCents:     platformFee,
		ReferralBonusCents:   referralBonus,
		Distribution:         shares,
		IsProcessed:          true,
		ProcessedAt:          &now,
		CreatedAt:            now,
	}
	if err := e.store.SavePayoutSplit(ctx, split); err != nil {
		return nil, eris.Wrap(err, "ledger: save payout split")
	}

	zap.L().Info("ledger: query settled",
		zap.String("query_id", queryID.String()),
		zap.Int64("total_cents", total),
		zap.Int64("contributor_pool_cents", contributorPool),
		zap.Int64("platform_fee_cents", platformFee),
		zap.Int64("referral_bonus_cents", referralBonus),
		zap.Int("contributors", len(shares)),
	)

	return split, nil
}

// computeShares turns citations into per-contribution payouts. Weights are
// citation counts normalized to sum to 1; every payout floors except the
// last contributor, who absorbs the leftover cents so the pool pays out
// exactly. Contributions keep first-citation order.
func computeShares(citations []model.Citation, pool int64) []model.PayoutShare {
	type agg struct {
		first model.Citation
		count int
	}

	var order []uuid.UUID
	byContribution := make(map[uuid.UUID]*agg)
	for _, c := range citations {
		a, ok := byContribution[c.ContributionID]
		if !ok {
			a = &agg{first: c}
			byContribution[c.ContributionID] = a
			order = append(order, c.ContributionID)
		}
		a.count++
	}

	total := float64(len(citations))
	shares := make([]model.PayoutShare, 0, len(order))
	var paid int64
	for i, id := range order {
		a := byContribution[id]
		weight := float64(a.count) / total

		var payout int64
		if i == len(order)-1 {
			payout = pool - paid
		} else {
			payout = int64(math.Floor(float64(pool) * weight))
		}
		paid += payout

		shares = append(shares, model.PayoutShare{
			CitationID:     a.first.ID,
			ContributionID: id,
			ContactID:      a.first.ContactID,
			Weight:         weight,
			PayoutCents:    payout,
		})
	}

	return shares
}

// Balance returns credits minus debits for one account.
func (e *Engine) Balance(ctx context.Context, accountType, accountID string) (int64, error) {
	entries, err := e.store.AccountEntries(ctx, accountType, accountID, 0)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: load account entries")
	}

	var balance int64
	for _, entry := range entries {
		switch entry.EntryType {
		case model.LedgerEntryCredit:
			balance += entry.AmountCents
		case model.LedgerEntryDebit:
			balance -= entry.AmountCents
		}
	}
	return balance, nil
}

// History returns an account's most recent entries.
func (e *Engine) History(ctx context.Context, accountType, accountID string, limit int) ([]*model.LedgerEntry, error) {
	entries, err := e.store.AccountEntries(ctx, accountType, accountID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: load account history")
	}
	return entries, nil
}

// ValidateTransaction checks that one transaction's debits equal its credits.
func (e *Engine) ValidateTransaction(ctx context.Context, transactionID uuid.UUID) error {
	entries, err := e.store.EntriesByTransaction(ctx, transactionID)
	if err != nil {
		return eris.Wrap(err, "ledger: load transaction")
	}
	if len(entries) == 0 {
		return eris.New(fmt.Sprintf("ledger: transaction %s has no entries", transactionID))
	}
	return validateBalance(entries)
}

func validateBalance(entries []*model.LedgerEntry) error {
	var debits, credits int64
	for _, entry := range entries {
		switch entry.EntryType {
		case model.LedgerEntryDebit:
			debits += entry.AmountCents
		case model.LedgerEntryCredit:
			credits += entry.AmountCents
		}
	}
	if debits != credits {
		return fmt.Errorf("%w: debits %d, credits %d", ErrUnbalanced, debits, credits)
	}
	return nil
}
