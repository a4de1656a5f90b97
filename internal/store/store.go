// Package store persists the routing pipeline: contacts, queries, matches,
// contributions, answers, and the ledger. Two backends implement the same
// interface, SQLite for single-node deployments and PostgreSQL for shared
// ones.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// ErrNotFound is returned by single-row getters when no row matches.
var ErrNotFound = errors.New("store: not found")

// QueryFilter specifies criteria for listing queries.
type QueryFilter struct {
	Status    model.QueryStatus `json:"status,omitempty"`
	UserPhone string            `json:"user_phone,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	Offset    int               `json:"offset,omitempty"`
}

// ContactFilter specifies criteria for listing contacts.
type ContactFilter struct {
	Status        model.ContactStatus `json:"status,omitempty"`
	OnlyMatchable bool                `json:"only_matchable,omitempty"`
	Limit         int                 `json:"limit,omitempty"`
	Offset        int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the routing pipeline.
type Store interface {
	// Contacts
	CreateContact(ctx context.Context, contact *model.Contact) error
	GetContact(ctx context.Context, id uuid.UUID) (*model.Contact, error)
	GetContactsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Contact, error)
	ListContacts(ctx context.Context, filter ContactFilter) ([]*model.Contact, error)
	UpdateContact(ctx context.Context, contact *model.Contact) error
	AddContactEarnings(ctx context.Context, id uuid.UUID, amountCents int64) error

	// Queries
	CreateQuery(ctx context.Context, query *model.Query) error
	GetQuery(ctx context.Context, id uuid.UUID) (*model.Query, error)
	ListQueries(ctx context.Context, filter QueryFilter) ([]*model.Query, error)
	UpdateQueryStatus(ctx context.Context, id uuid.UUID, status model.QueryStatus, errorMessage string) error

	// Matches and outreach
	SaveMatches(ctx context.Context, matches []*model.MatchRecord) error
	ListMatches(ctx context.Context, queryID uuid.UUID) ([]*model.MatchRecord, error)
	SaveOutreach(ctx context.Context, records []*model.OutreachRecord) error
	// OutreachCountsSince counts sent outreach per contact since the given
	// time, ignoring rows for excludeQueryID so re-routing a query does not
	// count its own invitations. Both the recent-contact exclusion and the
	// weekly load figure come from this.
	OutreachCountsSince(ctx context.Context, excludeQueryID uuid.UUID, since time.Time) (map[uuid.UUID]int, error)

	// Contributions
	CreateContribution(ctx context.Context, contribution *model.Contribution) error
	GetContribution(ctx context.Context, id uuid.UUID) (*model.Contribution, error)
	HasContribution(ctx context.Context, queryID, contactID uuid.UUID) (bool, error)
	ListContributions(ctx context.Context, queryID uuid.UUID) ([]*model.Contribution, error)
	RecordResponse(ctx context.Context, id uuid.UUID, responseText string, confidence float64) error
	MarkContributionUsed(ctx context.Context, id uuid.UUID, relevanceScore float64) error
	SetContributionPayout(ctx context.Context, id uuid.UUID, amountCents int64) error

	// Compiled answers
	SaveCompiledAnswer(ctx context.Context, answer *model.CompiledAnswer) error
	// GetCompiledAnswer returns nil when the query has no answer yet.
	GetCompiledAnswer(ctx context.Context, queryID uuid.UUID) (*model.CompiledAnswer, error)
	MarkAnswerAccepted(ctx context.Context, queryID uuid.UUID) error

	// Ledger
	InsertLedgerEntries(ctx context.Context, entries []*model.LedgerEntry) error
	AccountEntries(ctx context.Context, accountType, accountID string, limit int) ([]*model.LedgerEntry, error)
	EntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*model.LedgerEntry, error)
	// GetPayoutSplit returns nil when the query has no settlement yet.
	GetPayoutSplit(ctx context.Context, queryID uuid.UUID) (*model.PayoutSplit, error)
	SavePayoutSplit(ctx context.Context, split *model.PayoutSplit) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
