package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	id                   TEXT PRIMARY KEY,
	phone_number         TEXT NOT NULL UNIQUE,
	email                TEXT NOT NULL DEFAULT '',
	name                 TEXT NOT NULL DEFAULT '',
	bio                  TEXT NOT NULL DEFAULT '',
	expertise_summary    TEXT NOT NULL DEFAULT '',
	expertise_tags       TEXT NOT NULL DEFAULT '[]',
	trust_score          REAL NOT NULL DEFAULT 0.5,
	response_rate        REAL NOT NULL DEFAULT 0,
	avg_response_minutes REAL NOT NULL DEFAULT 0,
	is_available         INTEGER NOT NULL DEFAULT 1,
	max_queries_per_day  INTEGER NOT NULL DEFAULT 10,
	total_earnings_cents INTEGER NOT NULL DEFAULT 0,
	total_contributions  INTEGER NOT NULL DEFAULT 0,
	status               TEXT NOT NULL DEFAULT 'pending',
	metadata             TEXT,
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL,
	deleted_at           DATETIME
);

CREATE TABLE IF NOT EXISTS queries (
	id               TEXT PRIMARY KEY,
	user_phone       TEXT NOT NULL,
	question_text    TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	min_experts      INTEGER NOT NULL DEFAULT 3,
	max_experts      INTEGER NOT NULL DEFAULT 10,
	timeout_minutes  INTEGER NOT NULL DEFAULT 60,
	total_cost_cents INTEGER NOT NULL DEFAULT 0,
	platform_fee_cents INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	context          TEXT,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	deleted_at       DATETIME
);

CREATE TABLE IF NOT EXISTS matches (
	id                  TEXT PRIMARY KEY,
	query_id            TEXT NOT NULL REFERENCES queries(id),
	contact_id          TEXT NOT NULL REFERENCES contacts(id),
	scores              TEXT NOT NULL,
	reasons             TEXT NOT NULL DEFAULT '[]',
	wave_group          INTEGER NOT NULL DEFAULT 1,
	distance_km         REAL,
	timezone_offset     INTEGER,
	availability_status TEXT NOT NULL DEFAULT '',
	recent_query_count  INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL,
	UNIQUE (query_id, contact_id)
);

CREATE TABLE IF NOT EXISTS outreach (
	id         TEXT PRIMARY KEY,
	query_id   TEXT NOT NULL REFERENCES queries(id),
	contact_id TEXT NOT NULL REFERENCES contacts(id),
	channel    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contributions (
	id                  TEXT PRIMARY KEY,
	query_id            TEXT NOT NULL REFERENCES queries(id),
	contact_id          TEXT REFERENCES contacts(id),
	response_text       TEXT NOT NULL DEFAULT '',
	confidence_score    REAL NOT NULL DEFAULT 0,
	requested_at        DATETIME NOT NULL,
	responded_at        DATETIME,
	was_used            INTEGER NOT NULL DEFAULT 0,
	relevance_score     REAL NOT NULL DEFAULT 0,
	payout_amount_cents INTEGER NOT NULL DEFAULT 0,
	display_name        TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	UNIQUE (query_id, contact_id)
);

CREATE TABLE IF NOT EXISTS compiled_answers (
	id                      TEXT PRIMARY KEY,
	query_id                TEXT NOT NULL UNIQUE REFERENCES queries(id),
	final_answer            TEXT NOT NULL,
	summary                 TEXT NOT NULL DEFAULT '',
	confidence_score        REAL NOT NULL DEFAULT 0,
	compilation_method      TEXT NOT NULL DEFAULT '',
	compilation_prompt      TEXT NOT NULL DEFAULT '',
	compilation_tokens_used INTEGER NOT NULL DEFAULT 0,
	key_insights            TEXT NOT NULL DEFAULT '[]',
	accepted_at             DATETIME,
	created_at              DATETIME NOT NULL,
	updated_at              DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS citations (
	id                 TEXT PRIMARY KEY,
	compiled_answer_id TEXT NOT NULL REFERENCES compiled_answers(id),
	contribution_id    TEXT NOT NULL REFERENCES contributions(id),
	contact_id         TEXT REFERENCES contacts(id),
	handle             TEXT NOT NULL,
	claim_text         TEXT NOT NULL DEFAULT '',
	source_excerpt     TEXT NOT NULL DEFAULT '',
	position_in_answer INTEGER NOT NULL DEFAULT 0,
	confidence         REAL NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id               TEXT PRIMARY KEY,
	transaction_id   TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	account_type     TEXT NOT NULL,
	account_id       TEXT NOT NULL,
	entry_type       TEXT NOT NULL,
	amount_cents     INTEGER NOT NULL,
	currency         TEXT NOT NULL DEFAULT 'USD',
	query_id         TEXT,
	contact_id       TEXT,
	description      TEXT NOT NULL DEFAULT '',
	metadata         TEXT,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS payout_splits (
	id                     TEXT PRIMARY KEY,
	query_id               TEXT NOT NULL UNIQUE REFERENCES queries(id),
	total_amount_cents     INTEGER NOT NULL,
	contributor_pool_cents INTEGER NOT NULL,
	platform_fee_cents     INTEGER NOT NULL,
	referral_bonus_cents   INTEGER NOT NULL,
	distribution           TEXT NOT NULL DEFAULT '[]',
	is_processed           INTEGER NOT NULL DEFAULT 0,
	processed_at           DATETIME,
	created_at             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
CREATE INDEX IF NOT EXISTS idx_queries_status ON queries(status);
CREATE INDEX IF NOT EXISTS idx_queries_user_phone ON queries(user_phone);
CREATE INDEX IF NOT EXISTS idx_matches_query_id ON matches(query_id);
CREATE INDEX IF NOT EXISTS idx_outreach_contact_created ON outreach(contact_id, created_at);
CREATE INDEX IF NOT EXISTS idx_contributions_query_id ON contributions(query_id);
CREATE INDEX IF NOT EXISTS idx_citations_answer_id ON citations(compiled_answer_id);
CREATE INDEX IF NOT EXISTS idx_ledger_account ON ledger_entries(account_type, account_id);
CREATE INDEX IF NOT EXISTS idx_ledger_transaction ON ledger_entries(transaction_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Contacts ---

func (s *SQLiteStore) CreateContact(ctx context.Context, c *model.Contact) error {
	tagsJSON, err := json.Marshal(c.ExpertiseTags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal expertise tags")
	}
	metaJSON, err := marshalNullable(c.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, phone_number, email, name, bio, expertise_summary,
			expertise_tags, trust_score, response_rate, avg_response_minutes, is_available,
			max_queries_per_day, total_earnings_cents, total_contributions, status, metadata,
			created_at, updated_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.PhoneNumber, c.Email, c.Name, c.Bio, c.ExpertiseSummary,
		string(tagsJSON), c.TrustScore, c.ResponseRate, c.AvgResponseMinutes, c.IsAvailable,
		c.MaxQueriesPerDay, c.TotalEarningsCents, c.TotalContributions, string(c.Status), metaJSON,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), nullableTime(c.DeletedAt),
	)
	return eris.Wrap(err, "sqlite: insert contact")
}

const contactColumns = `id, phone_number, email, name, bio, expertise_summary,
	expertise_tags, trust_score, response_rate, avg_response_minutes, is_available,
	max_queries_per_day, total_earnings_cents, total_contributions, status, metadata,
	created_at, updated_at, deleted_at`

func (s *SQLiteStore) GetContact(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id.String())
	return scanContact(row)
}

func (s *SQLiteStore) GetContactsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Contact, error) {
	out := make(map[uuid.UUID]*model.Contact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id IN (`
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += `, `
		}
		query += `?`
		args[i] = id.String()
	}
	query += `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get contacts by ids")
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get contacts iterate")
}

func (s *SQLiteStore) ListContacts(ctx context.Context, filter ContactFilter) ([]*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE deleted_at IS NULL`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OnlyMatchable {
		query += ` AND status = 'active' AND is_available = 1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close()

	var out []*model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

func (s *SQLiteStore) UpdateContact(ctx context.Context, c *model.Contact) error {
	tagsJSON, err := json.Marshal(c.ExpertiseTags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal expertise tags")
	}
	metaJSON, err := marshalNullable(c.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact metadata")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET phone_number = ?, email = ?, name = ?, bio = ?,
			expertise_summary = ?, expertise_tags = ?, trust_score = ?, response_rate = ?,
			avg_response_minutes = ?, is_available = ?, max_queries_per_day = ?,
			status = ?, metadata = ?, updated_at = ?, deleted_at = ?
		 WHERE id = ?`,
		c.PhoneNumber, c.Email, c.Name, c.Bio,
		c.ExpertiseSummary, string(tagsJSON), c.TrustScore, c.ResponseRate,
		c.AvgResponseMinutes, c.IsAvailable, c.MaxQueriesPerDay,
		string(c.Status), metaJSON, time.Now().UTC(), nullableTime(c.DeletedAt),
		c.ID.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update contact %s", c.ID)
	}
	return checkRowsAffected(res, "contact", c.ID.String())
}

func (s *SQLiteStore) AddContactEarnings(ctx context.Context, id uuid.UUID, amountCents int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET total_earnings_cents = total_earnings_cents + ?,
			total_contributions = total_contributions + 1, updated_at = ?
		 WHERE id = ?`,
		amountCents, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add earnings for contact %s", id)
	}
	return checkRowsAffected(res, "contact", id.String())
}

// --- Queries ---

func (s *SQLiteStore) CreateQuery(ctx context.Context, q *model.Query) error {
	ctxJSON, err := marshalNullable(q.Context)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal query context")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queries (id, user_phone, question_text, status, min_experts, max_experts,
			timeout_minutes, total_cost_cents, platform_fee_cents, error_message, context,
			created_at, updated_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID.String(), q.UserPhone, q.QuestionText, string(q.Status), q.MinExperts, q.MaxExperts,
		q.TimeoutMinutes, q.TotalCostCents, q.PlatformFeeCents, q.ErrorMessage, ctxJSON,
		q.CreatedAt.UTC(), q.UpdatedAt.UTC(), nullableTime(q.DeletedAt),
	)
	return eris.Wrap(err, "sqlite: insert query")
}

const queryColumns = `id, user_phone, question_text, status, min_experts, max_experts,
	timeout_minutes, total_cost_cents, platform_fee_cents, error_message, context,
	created_at, updated_at, deleted_at`

func (s *SQLiteStore) GetQuery(ctx context.Context, id uuid.UUID) (*model.Query, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = ?`, id.String())
	return scanQuery(row)
}

func (s *SQLiteStore) ListQueries(ctx context.Context, filter QueryFilter) ([]*model.Query, error) {
	query := `SELECT ` + queryColumns + ` FROM queries WHERE deleted_at IS NULL`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.UserPhone != "" {
		query += ` AND user_phone = ?`
		args = append(args, filter.UserPhone)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queries")
	}
	defer rows.Close()

	var out []*model.Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list queries iterate")
}

func (s *SQLiteStore) UpdateQueryStatus(ctx context.Context, id uuid.UUID, status model.QueryStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queries SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errorMessage, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update query status %s", id)
	}
	return checkRowsAffected(res, "query", id.String())
}

// --- Matches and outreach ---

func (s *SQLiteStore) SaveMatches(ctx context.Context, matches []*model.MatchRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save matches")
	}
	defer tx.Rollback()

	for _, m := range matches {
		scoresJSON, err := json.Marshal(m.Scores)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal match scores")
		}
		reasonsJSON, err := json.Marshal(m.Reasons)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal match reasons")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO matches (id, query_id, contact_id, scores, reasons, wave_group,
				distance_km, timezone_offset, availability_status, recent_query_count, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (query_id, contact_id) DO UPDATE SET
				scores = excluded.scores, reasons = excluded.reasons, wave_group = excluded.wave_group`,
			m.ID.String(), m.QueryID.String(), m.ContactID.String(), string(scoresJSON), string(reasonsJSON),
			m.WaveGroup, nullableFloat(m.DistanceKm), nullableInt(m.TimezoneOffset),
			m.AvailabilityStatus, m.RecentQueryCount, m.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert match")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save matches")
}

func (s *SQLiteStore) ListMatches(ctx context.Context, queryID uuid.UUID) ([]*model.MatchRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query_id, contact_id, scores, reasons, wave_group, distance_km,
			timezone_offset, availability_status, recent_query_count, created_at
		 FROM matches WHERE query_id = ?
		 ORDER BY json_extract(scores, '$.final_score') DESC`,
		queryID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list matches")
	}
	defer rows.Close()

	var out []*model.MatchRecord
	for rows.Next() {
		var m model.MatchRecord
		var id, qID, cID, scoresJSON, reasonsJSON string
		var distance sql.NullFloat64
		var tz sql.NullInt64

		if err := rows.Scan(&id, &qID, &cID, &scoresJSON, &reasonsJSON, &m.WaveGroup,
			&distance, &tz, &m.AvailabilityStatus, &m.RecentQueryCount, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match")
		}

		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse match id")
		}
		if m.QueryID, err = uuid.Parse(qID); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse match query id")
		}
		if m.ContactID, err = uuid.Parse(cID); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse match contact id")
		}
		if err := json.Unmarshal([]byte(scoresJSON), &m.Scores); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal match scores")
		}
		if err := json.Unmarshal([]byte(reasonsJSON), &m.Reasons); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal match reasons")
		}
		if distance.Valid {
			m.DistanceKm = &distance.Float64
		}
		if tz.Valid {
			v := int(tz.Int64)
			m.TimezoneOffset = &v
		}
		out = append(out, &m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list matches iterate")
}

func (s *SQLiteStore) SaveOutreach(ctx context.Context, records []*model.OutreachRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save outreach")
	}
	defer tx.Rollback()

	for _, r := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outreach (id, query_id, contact_id, channel, status, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID.String(), r.QueryID.String(), r.ContactID.String(), r.Channel,
			string(r.Status), r.Detail, r.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert outreach record")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save outreach")
}

func (s *SQLiteStore) OutreachCountsSince(ctx context.Context, excludeQueryID uuid.UUID, since time.Time) (map[uuid.UUID]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT contact_id, COUNT(*) FROM outreach
		 WHERE status = ? AND created_at >= ? AND query_id != ?
		 GROUP BY contact_id`,
		string(model.OutreachStatusSent), since.UTC(), excludeQueryID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: outreach counts")
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var idStr string
		var n int
		if err := rows.Scan(&idStr, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outreach count")
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse outreach contact id")
		}
		out[id] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: outreach counts iterate")
}

// --- Contributions ---

func (s *SQLiteStore) CreateContribution(ctx context.Context, c *model.Contribution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contributions (id, query_id, contact_id, response_text, confidence_score,
			requested_at, responded_at, was_used, relevance_score, payout_amount_cents,
			display_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.QueryID.String(), nullableUUID(c.ContactID), c.ResponseText, c.ConfidenceScore,
		c.RequestedAt.UTC(), nullableTime(c.RespondedAt), c.WasUsed, c.RelevanceScore, c.PayoutAmountCents,
		c.DisplayName, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert contribution")
}

const contributionColumns = `id, query_id, contact_id, response_text, confidence_score,
	requested_at, responded_at, was_used, relevance_score, payout_amount_cents,
	display_name, created_at, updated_at`

func (s *SQLiteStore) GetContribution(ctx context.Context, id uuid.UUID) (*model.Contribution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, id.String())
	return scanContribution(row)
}

func (s *SQLiteStore) HasContribution(ctx context.Context, queryID, contactID uuid.UUID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contributions WHERE query_id = ? AND contact_id = ?`,
		queryID.String(), contactID.String(),
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has contribution")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListContributions(ctx context.Context, queryID uuid.UUID) ([]*model.Contribution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE query_id = ? ORDER BY requested_at`,
		queryID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contributions")
	}
	defer rows.Close()

	var out []*model.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contributions iterate")
}

func (s *SQLiteStore) RecordResponse(ctx context.Context, id uuid.UUID, responseText string, confidence float64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE contributions SET response_text = ?, confidence_score = ?, responded_at = ?, updated_at = ?
		 WHERE id = ?`,
		responseText, confidence, now, now, id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record response %s", id)
	}
	return checkRowsAffected(res, "contribution", id.String())
}

func (s *SQLiteStore) MarkContributionUsed(ctx context.Context, id uuid.UUID, relevanceScore float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contributions SET was_used = 1, relevance_score = ?, updated_at = ? WHERE id = ?`,
		relevanceScore, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark contribution used %s", id)
	}
	return checkRowsAffected(res, "contribution", id.String())
}

func (s *SQLiteStore) SetContributionPayout(ctx context.Context, id uuid.UUID, amountCents int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contributions SET payout_amount_cents = ?, updated_at = ? WHERE id = ?`,
		amountCents, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set contribution payout %s", id)
	}
	return checkRowsAffected(res, "contribution", id.String())
}

// --- Compiled answers ---

func (s *SQLiteStore) SaveCompiledAnswer(ctx context.Context, a *model.CompiledAnswer) error {
	insightsJSON, err := json.Marshal(a.KeyInsights)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal key insights")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save answer")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO compiled_answers (id, query_id, final_answer, summary, confidence_score,
			compilation_method, compilation_prompt, compilation_tokens_used, key_insights,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.QueryID.String(), a.FinalAnswer, a.Summary, a.ConfidenceScore,
		a.CompilationMethod, a.CompilationPrompt, a.CompilationTokensUsed, string(insightsJSON),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert compiled answer")
	}

	for _, c := range a.Citations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO citations (id, compiled_answer_id, contribution_id, contact_id, handle,
				claim_text, source_excerpt, position_in_answer, confidence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), a.ID.String(), c.ContributionID.String(), nullableUUID(c.ContactID),
			c.Handle, c.ClaimText, c.SourceExcerpt, c.PositionInAnswer, c.Confidence, c.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert citation")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save answer")
}

func (s *SQLiteStore) GetCompiledAnswer(ctx context.Context, queryID uuid.UUID) (*model.CompiledAnswer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query_id, final_answer, summary, confidence_score, compilation_method,
			compilation_prompt, compilation_tokens_used, key_insights, accepted_at, created_at, updated_at
		 FROM compiled_answers WHERE query_id = ?`,
		queryID.String(),
	)

	var a model.CompiledAnswer
	var id, qID, insightsJSON string
	var acceptedAt sql.NullTime
	err := row.Scan(&id, &qID, &a.FinalAnswer, &a.Summary, &a.ConfidenceScore, &a.CompilationMethod,
		&a.CompilationPrompt, &a.CompilationTokensUsed, &insightsJSON, &acceptedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get compiled answer")
	}

	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse answer id")
	}
	if a.QueryID, err = uuid.Parse(qID); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse answer query id")
	}
	if err := json.Unmarshal([]byte(insightsJSON), &a.KeyInsights); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal key insights")
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		a.AcceptedAt = &t
	}

	citations, err := s.listCitations(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Citations = citations
	return &a, nil
}

func (s *SQLiteStore) MarkAnswerAccepted(ctx context.Context, queryID uuid.UUID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE compiled_answers SET accepted_at = ?, updated_at = ? WHERE query_id = ?`,
		now, now, queryID.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark answer accepted %s", queryID)
	}
	return checkRowsAffected(res, "compiled answer", queryID.String())
}

func (s *SQLiteStore) listCitations(ctx context.Context, answerID uuid.UUID) ([]model.Citation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, compiled_answer_id, contribution_id, contact_id, handle, claim_text,
			source_excerpt, position_in_answer, confidence, created_at
		 FROM citations WHERE compiled_answer_id = ? ORDER BY position_in_answer`,
		answerID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list citations")
	}
	defer rows.Close()

	var out []model.Citation
	for rows.Next() {
		var c model.Citation
		var id, aID, contribID string
		var contactID sql.NullString

		if err := rows.Scan(&id, &aID, &contribID, &contactID, &c.Handle, &c.ClaimText,
			&c.SourceExcerpt, &c.PositionInAnswer, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan citation")
		}

		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse citation id")
		}
		if c.CompiledAnswerID, err = uuid.Parse(aID); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse citation answer id")
		}
		if c.ContributionID, err = uuid.Parse(contribID); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse citation contribution id")
		}
		if contactID.Valid {
			parsed, err := uuid.Parse(contactID.String)
			if err != nil {
				return nil, eris.Wrap(err, "sqlite: parse citation contact id")
			}
			c.ContactID = &parsed
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list citations iterate")
}

// --- Ledger ---

func (s *SQLiteStore) InsertLedgerEntries(ctx context.Context, entries []*model.LedgerEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert ledger entries")
	}
	defer tx.Rollback()

	for _, e := range entries {
		metaJSON, err := marshalNullable(e.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal ledger metadata")
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (id, transaction_id, transaction_type, account_type,
				account_id, entry_type, amount_cents, currency, query_id, contact_id,
				description, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), e.TransactionID.String(), string(e.TransactionType), e.AccountType,
			e.AccountID, string(e.EntryType), e.AmountCents, e.Currency, nullableUUID(e.QueryID),
			nullableUUID(e.ContactID), e.Description, metaJSON, e.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert ledger entry")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit ledger entries")
}

const ledgerColumns = `id, transaction_id, transaction_type, account_type, account_id,
	entry_type, amount_cents, currency, query_id, contact_id, description, metadata, created_at`

func (s *SQLiteStore) AccountEntries(ctx context.Context, accountType, accountID string, limit int) ([]*model.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		 WHERE account_type = ? AND account_id = ? ORDER BY created_at DESC`
	args := []any{accountType, accountID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: account entries")
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func (s *SQLiteStore) EntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE transaction_id = ?`,
		transactionID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: entries by transaction")
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func (s *SQLiteStore) GetPayoutSplit(ctx context.Context, queryID uuid.UUID) (*model.PayoutSplit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query_id, total_amount_cents, contributor_pool_cents, platform_fee_cents,
			referral_bonus_cents, distribution, is_processed, processed_at, created_at
		 FROM payout_splits WHERE query_id = ?`,
		queryID.String(),
	)

	var p model.PayoutSplit
	var id, qID, distJSON string
	var processedAt sql.NullTime
	err := row.Scan(&id, &qID, &p.TotalAmountCents, &p.ContributorPoolCents, &p.PlatformFeeCents,
		&p.ReferralBonusCents, &distJSON, &p.IsProcessed, &processedAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get payout split")
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse split id")
	}
	if p.QueryID, err = uuid.Parse(qID); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse split query id")
	}
	if err := json.Unmarshal([]byte(distJSON), &p.Distribution); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal distribution")
	}
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Time
	}
	return &p, nil
}

func (s *SQLiteStore) SavePayoutSplit(ctx context.Context, p *model.PayoutSplit) error {
	distJSON, err := json.Marshal(p.Distribution)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal distribution")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO payout_splits (id, query_id, total_amount_cents, contributor_pool_cents,
			platform_fee_cents, referral_bonus_cents, distribution, is_processed, processed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.QueryID.String(), p.TotalAmountCents, p.ContributorPoolCents,
		p.PlatformFeeCents, p.ReferralBonusCents, string(distJSON), p.IsProcessed,
		nullableTime(p.ProcessedAt), p.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert payout split")
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanContact(row scannable) (*model.Contact, error) {
	var c model.Contact
	var id, tagsJSON string
	var metaJSON sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(&id, &c.PhoneNumber, &c.Email, &c.Name, &c.Bio, &c.ExpertiseSummary,
		&tagsJSON, &c.TrustScore, &c.ResponseRate, &c.AvgResponseMinutes, &c.IsAvailable,
		&c.MaxQueriesPerDay, &c.TotalEarningsCents, &c.TotalContributions, &c.Status, &metaJSON,
		&c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan contact")
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse contact id")
	}
	if err := json.Unmarshal([]byte(tagsJSON), &c.ExpertiseTags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal expertise tags")
	}
	if metaJSON.Valid {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal contact metadata")
		}
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return &c, nil
}

func scanQuery(row scannable) (*model.Query, error) {
	var q model.Query
	var id string
	var ctxJSON sql.NullString
	var deletedAt sql.NullTime

	err := row.Scan(&id, &q.UserPhone, &q.QuestionText, &q.Status, &q.MinExperts, &q.MaxExperts,
		&q.TimeoutMinutes, &q.TotalCostCents, &q.PlatformFeeCents, &q.ErrorMessage, &ctxJSON,
		&q.CreatedAt, &q.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan query")
	}

	if q.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse query id")
	}
	if ctxJSON.Valid {
		if err := json.Unmarshal([]byte(ctxJSON.String), &q.Context); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal query context")
		}
	}
	if deletedAt.Valid {
		q.DeletedAt = &deletedAt.Time
	}
	return &q, nil
}

func scanContribution(row scannable) (*model.Contribution, error) {
	var c model.Contribution
	var id string
	var contactID sql.NullString
	var respondedAt sql.NullTime

	err := row.Scan(&id, &c.QueryID, &contactID, &c.ResponseText, &c.ConfidenceScore,
		&c.RequestedAt, &respondedAt, &c.WasUsed, &c.RelevanceScore, &c.PayoutAmountCents,
		&c.DisplayName, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan contribution")
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse contribution id")
	}
	if contactID.Valid {
		parsed, err := uuid.Parse(contactID.String)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse contribution contact id")
		}
		c.ContactID = &parsed
	}
	if respondedAt.Valid {
		c.RespondedAt = &respondedAt.Time
	}
	return &c, nil
}

func scanLedgerEntries(rows *sql.Rows) ([]*model.LedgerEntry, error) {
	var out []*model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var id, txID string
		var queryID, contactID, metaJSON sql.NullString

		err := rows.Scan(&id, &txID, &e.TransactionType, &e.AccountType, &e.AccountID,
			&e.EntryType, &e.AmountCents, &e.Currency, &queryID, &contactID,
			&e.Description, &metaJSON, &e.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger entry")
		}

		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse ledger id")
		}
		if e.TransactionID, err = uuid.Parse(txID); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse ledger transaction id")
		}
		if queryID.Valid {
			parsed, err := uuid.Parse(queryID.String)
			if err != nil {
				return nil, eris.Wrap(err, "sqlite: parse ledger query id")
			}
			e.QueryID = &parsed
		}
		if contactID.Valid {
			parsed, err := uuid.Parse(contactID.String)
			if err != nil {
				return nil, eris.Wrap(err, "sqlite: parse ledger contact id")
			}
			e.ContactID = &parsed
		}
		if metaJSON.Valid {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal ledger metadata")
			}
		}
		out = append(out, &e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: ledger entries iterate")
}

func marshalNullable(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}
