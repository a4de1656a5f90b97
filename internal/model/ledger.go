package model

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType is the side of a double-entry row.
type LedgerEntryType string

const (
	LedgerEntryDebit  LedgerEntryType = "debit"
	LedgerEntryCredit LedgerEntryType = "credit"
)

// TransactionType categorizes ledger rows by business purpose.
type TransactionType string

const (
	TransactionQueryPayment       TransactionType = "query_payment"
	TransactionContributionPayout TransactionType = "contribution_payout"
	TransactionPlatformFee        TransactionType = "platform_fee"
	TransactionReferralBonus      TransactionType = "referral_bonus"
	TransactionRefund             TransactionType = "refund"
	TransactionAdjustment         TransactionType = "adjustment"
)

// Well-known account keys.
const (
	AccountTypeUser        = "user"
	AccountTypeContributor = "contributor"
	AccountTypePlatform    = "platform"
	AccountTypeReferral    = "referral"

	PlatformRevenueAccount = "platform_revenue"
	ReferralPoolAccount    = "referral_pool"
)

// LedgerEntry is one immutable double-entry row. All rows sharing a
// TransactionID form one balanced transaction: sum(debits) == sum(credits).
type LedgerEntry struct {
	ID              uuid.UUID       `json:"id"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	TransactionType TransactionType `json:"transaction_type"`
	AccountType     string          `json:"account_type"`
	AccountID       string          `json:"account_id"`
	EntryType       LedgerEntryType `json:"entry_type"`
	AmountCents     int64           `json:"amount_cents"`
	Currency        string          `json:"currency"`
	QueryID         *uuid.UUID      `json:"query_id,omitempty"`
	ContactID       *uuid.UUID      `json:"contact_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// PayoutShare is one contributor's slice of a settlement.
type PayoutShare struct {
	CitationID     uuid.UUID  `json:"citation_id"`
	ContributionID uuid.UUID  `json:"contribution_id"`
	ContactID      *uuid.UUID `json:"contact_id,omitempty"`
	Weight         float64    `json:"weight"`
	PayoutCents    int64      `json:"payout_cents"`
}

// PayoutSplit is the denormalized snapshot of one settlement, kept for audit
// and display without re-deriving from ledger rows. At most one exists per
// query; its presence is the settlement idempotency guard.
type PayoutSplit struct {
	ID                   uuid.UUID     `json:"id"`
	QueryID              uuid.UUID     `json:"query_id"`
	TotalAmountCents     int64         `json:"total_amount_cents"`
	ContributorPoolCents int64         `json:"contributor_pool_cents"`
	PlatformFeeCents     int64         `json:"platform_fee_cents"`
	ReferralBonusCents   int64         `json:"referral_bonus_cents"`
	Distribution         []PayoutShare `json:"distribution"`
	IsProcessed          bool          `json:"is_processed"`
	ProcessedAt          *time.Time    `json:"processed_at,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
}
