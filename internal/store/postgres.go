package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/brianellis1997/ErrandBoy-sub000/internal/db"
	"github.com/brianellis1997/ErrandBoy-sub000/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"get_query":           `SELECT ` + queryColumns + ` FROM queries WHERE id = $1`,
	"update_query_status": `UPDATE queries SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
	"get_contact":         `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`,
	"has_contribution":    `SELECT COUNT(*) FROM contributions WHERE query_id = $1 AND contact_id = $2`,
	"list_contributions":  `SELECT ` + contributionColumns + ` FROM contributions WHERE query_id = $1 ORDER BY requested_at`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS contacts (
	id                   TEXT PRIMARY KEY,
	phone_number         TEXT NOT NULL UNIQUE,
	email                TEXT NOT NULL DEFAULT '',
	name                 TEXT NOT NULL DEFAULT '',
	bio                  TEXT NOT NULL DEFAULT '',
	expertise_summary    TEXT NOT NULL DEFAULT '',
	expertise_tags       JSONB NOT NULL DEFAULT '[]',
	trust_score          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	response_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_response_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_available         BOOLEAN NOT NULL DEFAULT true,
	max_queries_per_day  INTEGER NOT NULL DEFAULT 10,
	total_earnings_cents BIGINT NOT NULL DEFAULT 0,
	total_contributions  INTEGER NOT NULL DEFAULT 0,
	status               TEXT NOT NULL DEFAULT 'pending',
	metadata             JSONB,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at           TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS queries (
	id                 TEXT PRIMARY KEY,
	user_phone         TEXT NOT NULL,
	question_text      TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	min_experts        INTEGER NOT NULL DEFAULT 3,
	max_experts        INTEGER NOT NULL DEFAULT 10,
	timeout_minutes    INTEGER NOT NULL DEFAULT 60,
	total_cost_cents   BIGINT NOT NULL DEFAULT 0,
	platform_fee_cents BIGINT NOT NULL DEFAULT 0,
	error_message      TEXT NOT NULL DEFAULT '',
	context            JSONB,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS matches (
	id                  TEXT PRIMARY KEY,
	query_id            TEXT NOT NULL REFERENCES queries(id),
	contact_id          TEXT NOT NULL REFERENCES contacts(id),
	scores              JSONB NOT NULL,
	reasons             JSONB NOT NULL DEFAULT '[]',
	wave_group          INTEGER NOT NULL DEFAULT 1,
	distance_km         DOUBLE PRECISION,
	timezone_offset     INTEGER,
	availability_status TEXT NOT NULL DEFAULT '',
	recent_query_count  INTEGER NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (query_id, contact_id)
);

CREATE TABLE IF NOT EXISTS outreach (
	id         TEXT PRIMARY KEY,
	query_id   TEXT NOT NULL REFERENCES queries(id),
	contact_id TEXT NOT NULL REFERENCES contacts(id),
	channel    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contributions (
	id                  TEXT PRIMARY KEY,
	query_id            TEXT NOT NULL REFERENCES queries(id),
	contact_id          TEXT REFERENCES contacts(id),
	response_text       TEXT NOT NULL DEFAULT '',
	confidence_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	requested_at        TIMESTAMPTZ NOT NULL,
	responded_at        TIMESTAMPTZ,
	was_used            BOOLEAN NOT NULL DEFAULT false,
	relevance_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	payout_amount_cents BIGINT NOT NULL DEFAULT 0,
	display_name        TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (query_id, contact_id)
);

CREATE TABLE IF NOT EXISTS compiled_answers (
	id                      TEXT PRIMARY KEY,
	query_id                TEXT NOT NULL UNIQUE REFERENCES queries(id),
	final_answer            TEXT NOT NULL,
	summary                 TEXT NOT NULL DEFAULT '',
	confidence_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	compilation_method      TEXT NOT NULL DEFAULT '',
	compilation_prompt      TEXT NOT NULL DEFAULT '',
	compilation_tokens_used BIGINT NOT NULL DEFAULT 0,
	key_insights            JSONB NOT NULL DEFAULT '[]',
	accepted_at             TIMESTAMPTZ,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
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
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id               TEXT PRIMARY KEY,
	transaction_id   TEXT NOT NULL,
	transaction_type TEXT NOT NULL,
	account_type     TEXT NOT NULL,
	account_id       TEXT NOT NULL,
	entry_type       TEXT NOT NULL,
	amount_cents     BIGINT NOT NULL,
	currency         TEXT NOT NULL DEFAULT 'USD',
	query_id         TEXT,
	contact_id       TEXT,
	description      TEXT NOT NULL DEFAULT '',
	metadata         JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS payout_splits (
	id                     TEXT PRIMARY KEY,
	query_id               TEXT NOT NULL UNIQUE REFERENCES queries(id),
	total_amount_cents     BIGINT NOT NULL,
	contributor_pool_cents BIGINT NOT NULL,
	platform_fee_cents     BIGINT NOT NULL,
	referral_bonus_cents   BIGINT NOT NULL,
	distribution           JSONB NOT NULL DEFAULT '[]',
	is_processed           BOOLEAN NOT NULL DEFAULT false,
	processed_at           TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// --- Contacts ---

func (s *PostgresStore) CreateContact(ctx context.Context, c *model.Contact) error {
	tagsJSON, err := json.Marshal(c.ExpertiseTags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal expertise tags")
	}
	metaJSON, err := marshalNullableJSON(c.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contact metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO contacts (id, phone_number, email, name, bio, expertise_summary,
			expertise_tags, trust_score, response_rate, avg_response_minutes, is_available,
			max_queries_per_day, total_earnings_cents, total_contributions, status, metadata,
			created_at, updated_at, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		c.ID.String(), c.PhoneNumber, c.Email, c.Name, c.Bio, c.ExpertiseSummary,
		tagsJSON, c.TrustScore, c.ResponseRate, c.AvgResponseMinutes, c.IsAvailable,
		c.MaxQueriesPerDay, c.TotalEarningsCents, c.TotalContributions, string(c.Status), metaJSON,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(), c.DeletedAt,
	)
	return eris.Wrap(err, "postgres: insert contact")
}

func (s *PostgresStore) GetContact(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id.String())
	c, err := scanPgContact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) GetContactsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Contact, error) {
	out := make(map[uuid.UUID]*model.Contact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ANY($1)`, idStrs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get contacts by ids")
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanPgContact(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, eris.Wrap(rows.Err(), "postgres: get contacts iterate")
}

func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE deleted_at IS NULL`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.OnlyMatchable {
		query += ` AND status = 'active' AND is_available = true`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var out []*model.Contact
	for rows.Next() {
		c, err := scanPgContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

func (s *PostgresStore) UpdateContact(ctx context.Context, c *model.Contact) error {
	tagsJSON, err := json.Marshal(c.ExpertiseTags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal expertise tags")
	}
	metaJSON, err := marshalNullableJSON(c.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contact metadata")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET phone_number = $1, email = $2, name = $3, bio = $4,
			expertise_summary = $5, expertise_tags = $6, trust_score = $7, response_rate = $8,
			avg_response_minutes = $9, is_available = $10, max_queries_per_day = $11,
			status = $12, metadata = $13, updated_at = $14, deleted_at = $15
		 WHERE id = $16`,
		c.PhoneNumber, c.Email, c.Name, c.Bio,
		c.ExpertiseSummary, tagsJSON, c.TrustScore, c.ResponseRate,
		c.AvgResponseMinutes, c.IsAvailable, c.MaxQueriesPerDay,
		string(c.Status), metaJSON, time.Now().UTC(), c.DeletedAt,
		c.ID.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update contact %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contact %s", c.ID)
	}
	return nil
}

func (s *PostgresStore) AddContactEarnings(ctx context.Context, id uuid.UUID, amountCents int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET total_earnings_cents = total_earnings_cents + $1,
			total_contributions = total_contributions + 1, updated_at = $2
		 WHERE id = $3`,
		amountCents, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: add earnings for contact %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contact %s", id)
	}
	return nil
}

// --- Queries ---

func (s *PostgresStore) CreateQuery(ctx context.Context, q *model.Query) error {
	ctxJSON, err := marshalNullableJSON(q.Context)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal query context")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO queries (id, user_phone, question_text, status, min_experts, max_experts,
			timeout_minutes, total_cost_cents, platform_fee_cents, error_message, context,
			created_at, updated_at, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		q.ID.String(), q.UserPhone, q.QuestionText, string(q.Status), q.MinExperts, q.MaxExperts,
		q.TimeoutMinutes, q.TotalCostCents, q.PlatformFeeCents, q.ErrorMessage, ctxJSON,
		q.CreatedAt.UTC(), q.UpdatedAt.UTC(), q.DeletedAt,
	)
	return eris.Wrap(err, "postgres: insert query")
}

func (s *PostgresStore) GetQuery(ctx context.Context, id uuid.UUID) (*model.Query, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+queryColumns+` FROM queries WHERE id = $1`, id.String())
	q, err := scanPgQuery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

func (s *PostgresStore) ListQueries(ctx context.Context, filter QueryFilter) ([]*model.Query, error) {
	query := `SELECT ` + queryColumns + ` FROM queries WHERE deleted_at IS NULL`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.UserPhone != "" {
		query += fmt.Sprintf(` AND user_phone = $%d`, argIdx)
		args = append(args, filter.UserPhone)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queries")
	}
	defer rows.Close()

	var out []*model.Query
	for rows.Next() {
		q, err := scanPgQuery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list queries iterate")
}

func (s *PostgresStore) UpdateQueryStatus(ctx context.Context, id uuid.UUID, status model.QueryStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE queries SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(status), errorMessage, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update query status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "query %s", id)
	}
	return nil
}

// --- Matches and outreach ---

func (s *PostgresStore) SaveMatches(ctx context.Context, matches []*model.MatchRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save matches")
	}
	defer tx.Rollback(ctx)

	for _, m := range matches {
		scoresJSON, err := json.Marshal(m.Scores)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal match scores")
		}
		reasonsJSON, err := json.Marshal(m.Reasons)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal match reasons")
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO matches (id, query_id, contact_id, scores, reasons, wave_group,
				distance_km, timezone_offset, availability_status, recent_query_count, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (query_id, contact_id) DO UPDATE SET
				scores = $4, reasons = $5, wave_group = $6`,
			m.ID.String(), m.QueryID.String(), m.ContactID.String(), scoresJSON, reasonsJSON,
			m.WaveGroup, m.DistanceKm, m.TimezoneOffset,
			m.AvailabilityStatus, m.RecentQueryCount, m.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert match")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save matches")
}

func (s *PostgresStore) ListMatches(ctx context.Context, queryID uuid.UUID) ([]*model.MatchRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, query_id, contact_id, scores, reasons, wave_group, distance_km,
			timezone_offset, availability_status, recent_query_count, created_at
		 FROM matches WHERE query_id = $1
		 ORDER BY (scores->>'final_score')::float DESC`,
		queryID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list matches")
	}
	defer rows.Close()

	var out []*model.MatchRecord
	for rows.Next() {
		var m model.MatchRecord
		var id, qID, cID string
		var scoresJSON, reasonsJSON []byte

		if err := rows.Scan(&id, &qID, &cID, &scoresJSON, &reasonsJSON, &m.WaveGroup,
			&m.DistanceKm, &m.TimezoneOffset, &m.AvailabilityStatus, &m.RecentQueryCount, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match")
		}

		if m.ID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrap(err, "postgres: parse match id")
		}
		if m.QueryID, err = uuid.Parse(qID); err != nil {
			return nil, eris.Wrap(err, "postgres: parse match query id")
		}
		if m.ContactID, err = uuid.Parse(cID); err != nil {
			return nil, eris.Wrap(err, "postgres: parse match contact id")
		}
		if err := json.Unmarshal(scoresJSON, &m.Scores); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal match scores")
		}
		if err := json.Unmarshal(reasonsJSON, &m.Reasons); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal match reasons")
		}
		out = append(out, &m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list matches iterate")
}

func (s *PostgresStore) SaveOutreach(ctx context.Context, records []*model.OutreachRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{
			r.ID.String(), r.QueryID.String(), r.ContactID.String(),
			r.Channel, string(r.Status), r.Detail, r.CreatedAt.UTC(),
		}
	}

	_, err := db.CopyFrom(ctx, s.pool, "outreach",
		[]string{"id", "query_id", "contact_id", "channel", "status", "detail", "created_at"},
		rows,
	)
	return eris.Wrap(err, "postgres: save outreach")
}

func (s *PostgresStore) OutreachCountsSince(ctx context.Context, excludeQueryID uuid.UUID, since time.Time) (map[uuid.UUID]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT contact_id, COUNT(*) FROM outreach
		 WHERE status = $1 AND created_at >= $2 AND query_id != $3
		 GROUP BY contact_id`,
		string(model.OutreachStatusSent), since.UTC(), excludeQueryID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: outreach counts")
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var idStr string
		var n int
		if err := rows.Scan(&idStr, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outreach count")
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: parse outreach contact id")
		}
		out[id] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: outreach counts iterate")
}

// --- Contributions ---

func (s *PostgresStore) CreateContribution(ctx context.Context, c *model.Contribution) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contributions (id, query_id, contact_id, response_text, confidence_score,
			requested_at, responded_at, was_used, relevance_score, payout_amount_cents,
			display_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID.String(), c.QueryID.String(), uuidPtrString(c.ContactID), c.ResponseText, c.ConfidenceScore,
		c.RequestedAt.UTC(), c.RespondedAt, c.WasUsed, c.RelevanceScore, c.PayoutAmountCents,
		c.DisplayName, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert contribution")
}

func (s *PostgresStore) GetContribution(ctx context.Context, id uuid.UUID) (*model.Contribution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE id = $1`, id.String())
	c, err := scanPgContribution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *PostgresStore) HasContribution(ctx context.Context, queryID, contactID uuid.UUID) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM contributions WHERE query_id = $1 AND contact_id = $2`,
		queryID.String(), contactID.String(),
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "postgres: has contribution")
	}
	return n > 0, nil
}

func (s *PostgresStore) ListContributions(ctx context.Context, queryID uuid.UUID) ([]*model.Contribution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE query_id = $1 ORDER BY requested_at`,
		queryID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contributions")
	}
	defer rows.Close()

	var out []*model.Contribution
	for rows.Next() {
		c, err := scanPgContribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contributions iterate")
}

func (s *PostgresStore) RecordResponse(ctx context.Context, id uuid.UUID, responseText string, confidence float64) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE contributions SET response_text = $1, confidence_score = $2, responded_at = $3, updated_at = $4
		 WHERE id = $5`,
		responseText, confidence, now, now, id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record response %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contribution %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkContributionUsed(ctx context.Context, id uuid.UUID, relevanceScore float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contributions SET was_used = true, relevance_score = $1, updated_at = $2 WHERE id = $3`,
		relevanceScore, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark contribution used %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contribution %s", id)
	}
	return nil
}

func (s *PostgresStore) SetContributionPayout(ctx context.Context, id uuid.UUID, amountCents int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contributions SET payout_amount_cents = $1, updated_at = $2 WHERE id = $3`,
		amountCents, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set contribution payout %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "contribution %s", id)
	}
	return nil
}

// --- Compiled answers ---

func (s *PostgresStore) SaveCompiledAnswer(ctx context.Context, a *model.CompiledAnswer) error {
	insightsJSON, err := json.Marshal(a.KeyInsights)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal key insights")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save answer")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO compiled_answers (id, query_id, final_answer, summary, confidence_score,
			compilation_method, compilation_prompt, compilation_tokens_used, key_insights,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID.String(), a.QueryID.String(), a.FinalAnswer, a.Summary, a.ConfidenceScore,
		a.CompilationMethod, a.CompilationPrompt, a.CompilationTokensUsed, insightsJSON,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert compiled answer")
	}

	for _, c := range a.Citations {
		_, err := tx.Exec(ctx,
			`INSERT INTO citations (id, compiled_answer_id, contribution_id, contact_id, handle,
				claim_text, source_excerpt, position_in_answer, confidence, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID.String(), a.ID.String(), c.ContributionID.String(), uuidPtrString(c.ContactID),
			c.Handle, c.ClaimText, c.SourceExcerpt, c.PositionInAnswer, c.Confidence, c.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert citation")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save answer")
}

func (s *PostgresStore) MarkAnswerAccepted(ctx context.Context, queryID uuid.UUID) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE compiled_answers SET accepted_at = $1, updated_at = $2 WHERE query_id = $3`,
		now, now, queryID.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark answer accepted %s", queryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "compiled answer %s", queryID)
	}
	return nil
}

func (s *PostgresStore) GetCompiledAnswer(ctx context.Context, queryID uuid.UUID) (*model.CompiledAnswer, error) {
	var a model.CompiledAnswer
	var id, qID string
	var insightsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, query_id, final_answer, summary, confidence_score, compilation_method,
			compilation_prompt, compilation_tokens_used, key_insights, accepted_at, created_at, updated_at
		 FROM compiled_answers WHERE query_id = $1`,
		queryID.String(),
	).Scan(&id, &qID, &a.FinalAnswer, &a.Summary, &a.ConfidenceScore, &a.CompilationMethod,
		&a.CompilationPrompt, &a.CompilationTokensUsed, &insightsJSON, &a.AcceptedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get compiled answer")
	}

	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "postgres: parse answer id")
	}
	if a.QueryID, err = uuid.Parse(qID); err != nil {
		return nil, eris.Wrap(err, "postgres: parse answer query id")
	}
	if err := json.Unmarshal(insightsJSON, &a.KeyInsights); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal key insights")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, compiled_answer_id, contribution_id, contact_id, handle, claim_text,
			source_excerpt, position_in_answer, confidence, created_at
		 FROM citations WHERE compiled_answer_id = $1 ORDER BY position_in_answer`,
		a.ID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list citations")
	}
	defer rows.Close()

	for rows.Next() {
		var c model.Citation
		var cID, aID, contribID string
		var contactID *string

		if err := rows.Scan(&cID, &aID, &contribID, &contactID, &c.Handle, &c.ClaimText,
			&c.SourceExcerpt, &c.PositionInAnswer, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan citation")
		}

		if c.ID, err = uuid.Parse(cID); err != nil {
			return nil, eris.Wrap(err, "postgres: parse citation id")
		}
		if c.CompiledAnswerID, err = uuid.Parse(aID); err != nil {
			return nil, eris.Wrap(err, "postgres: parse citation answer id")
		}
		if c.ContributionID, err = uuid.Parse(contribID); err != nil {
			return nil, eris.Wrap(err, "postgres: parse citation contribution id")
		}
		if contactID != nil {
			parsed, err := uuid.Parse(*contactID)
			if err != nil {
				return nil, eris.Wrap(err, "postgres: parse citation contact id")
			}
			c.ContactID = &parsed
		}
		a.Citations = append(a.Citations, c)
	}
	return &a, eris.Wrap(rows.Err(), "postgres: list citations iterate")
}

// --- Ledger ---

func (s *PostgresStore) InsertLedgerEntries(ctx context.Context, entries []*model.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	rows := make([][]any, len(entries))
	for i, e := range entries {
		metaJSON, err := marshalNullableJSON(e.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal ledger metadata")
		}
		rows[i] = []any{
			e.ID.String(), e.TransactionID.String(), string(e.TransactionType),
			e.AccountType, e.AccountID, string(e.EntryType), e.AmountCents, e.Currency,
			uuidPtrString(e.QueryID), uuidPtrString(e.ContactID), e.Description, metaJSON,
			e.CreatedAt.UTC(),
		}
	}

	_, err := db.CopyFrom(ctx, s.pool, "ledger_entries",
		[]string{"id", "transaction_id", "transaction_type", "account_type", "account_id",
			"entry_type", "amount_cents", "currency", "query_id", "contact_id",
			"description", "metadata", "created_at"},
		rows,
	)
	return eris.Wrap(err, "postgres: insert ledger entries")
}

func (s *PostgresStore) AccountEntries(ctx context.Context, accountType, accountID string, limit int) ([]*model.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		 WHERE account_type = $1 AND account_id = $2 ORDER BY created_at DESC`
	args := []any{accountType, accountID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: account entries")
	}
	defer rows.Close()
	return scanPgLedgerEntries(rows)
}

func (s *PostgresStore) EntriesByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE transaction_id = $1`,
		transactionID.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: entries by transaction")
	}
	defer rows.Close()
	return scanPgLedgerEntries(rows)
}

func (s *PostgresStore) GetPayoutSplit(ctx context.Context, queryID uuid.UUID) (*model.PayoutSplit, error) {
	var p model.PayoutSplit
	var id, qID string
	var distJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, query_id, total_amount_cents, contributor_pool_cents, platform_fee_cents,
			referral_bonus_cents, distribution, is_processed, processed_at, created_at
		 FROM payout_splits WHERE query_id = $1`,
		queryID.String(),
	).Scan(&id, &qID, &p.TotalAmountCents, &p.ContributorPoolCents, &p.PlatformFeeCents,
		&p.ReferralBonusCents, &distJSON, &p.IsProcessed, &p.ProcessedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get payout split")
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "postgres: parse split id")
	}
	if p.QueryID, err = uuid.Parse(qID); err != nil {
		return nil, eris.Wrap(err, "postgres: parse split query id")
	}
	if err := json.Unmarshal(distJSON, &p.Distribution); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal distribution")
	}
	return &p, nil
}

func (s *PostgresStore) SavePayoutSplit(ctx context.Context, p *model.PayoutSplit) error {
	distJSON, err := json.Marshal(p.Distribution)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal distribution")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO payout_splits (id, query_id, total_amount_cents, contributor_pool_cents,
			platform_fee_cents, referral_bonus_cents, distribution, is_processed, processed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID.String(), p.QueryID.String(), p.TotalAmountCents, p.ContributorPoolCents,
		p.PlatformFeeCents, p.ReferralBonusCents, distJSON, p.IsProcessed,
		p.ProcessedAt, p.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert payout split")
}

// --- scan helpers ---

func scanPgContact(row pgx.Row) (*model.Contact, error) {
	var c model.Contact
	var id, status string
	var tagsJSON, metaJSON []byte

	err := row.Scan(&id, &c.PhoneNumber, &c.Email, &c.Name, &c.Bio, &c.ExpertiseSummary,
		&tagsJSON, &c.TrustScore, &c.ResponseRate, &c.AvgResponseMinutes, &c.IsAvailable,
		&c.MaxQueriesPerDay, &c.TotalEarningsCents, &c.TotalContributions, &status, &metaJSON,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan contact")
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "postgres: parse contact id")
	}
	c.Status = model.ContactStatus(status)
	if err := json.Unmarshal(tagsJSON, &c.ExpertiseTags); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal expertise tags")
	}
	if metaJSON != nil {
		if err := json.Unmarshal(metaJSON, &c.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal contact metadata")
		}
	}
	return &c, nil
}

func scanPgQuery(row pgx.Row) (*model.Query, error) {
	var q model.Query
	var id, status string
	var ctxJSON []byte

	err := row.Scan(&id, &q.UserPhone, &q.QuestionText, &status, &q.MinExperts, &q.MaxExperts,
		&q.TimeoutMinutes, &q.TotalCostCents, &q.PlatformFeeCents, &q.ErrorMessage, &ctxJSON,
		&q.CreatedAt, &q.UpdatedAt, &q.DeletedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan query")
	}

	if q.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "postgres: parse query id")
	}
	q.Status = model.QueryStatus(status)
	if ctxJSON != nil {
		if err := json.Unmarshal(ctxJSON, &q.Context); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal query context")
		}
	}
	return &q, nil
}

func scanPgContribution(row pgx.Row) (*model.Contribution, error) {
	var c model.Contribution
	var id, qID string
	var contactID *string

	err := row.Scan(&id, &qID, &contactID, &c.ResponseText, &c.ConfidenceScore,
		&c.RequestedAt, &c.RespondedAt, &c.WasUsed, &c.RelevanceScore, &c.PayoutAmountCents,
		&c.DisplayName, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan contribution")
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, eris.Wrap(err, "postgres: parse contribution id")
	}
	if c.QueryID, err = uuid.Parse(qID); err != nil {
		return nil, eris.Wrap(err, "postgres: parse contribution query id")
	}
	if contactID != nil {
		parsed, err := uuid.Parse(*contactID)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: parse contribution contact id")
		}
		c.ContactID = &parsed
	}
	return &c, nil
}

func scanPgLedgerEntries(rows pgx.Rows) ([]*model.LedgerEntry, error) {
	var out []*model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var id, txID, txType, entryType string
		var queryID, contactID *string
		var metaJSON []byte

		err := rows.Scan(&id, &txID, &txType, &e.AccountType, &e.AccountID,
			&entryType, &e.AmountCents, &e.Currency, &queryID, &contactID,
			&e.Description, &metaJSON, &e.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger entry")
		}

		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, eris.Wrap(err, "postgres: parse ledger id")
		}
		if e.TransactionID, err = uuid.Parse(txID); err != nil {
			return nil, eris.Wrap(err, "postgres: parse ledger transaction id")
		}
		e.TransactionType = model.TransactionType(txType)
		e.EntryType = model.LedgerEntryType(entryType)
		if queryID != nil {
			parsed, err := uuid.Parse(*queryID)
			if err != nil {
				return nil, eris.Wrap(err, "postgres: parse ledger query id")
			}
			e.QueryID = &parsed
		}
		if contactID != nil {
			parsed, err := uuid.Parse(*contactID)
			if err != nil {
				return nil, eris.Wrap(err, "postgres: parse ledger contact id")
			}
			e.ContactID = &parsed
		}
		if metaJSON != nil {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal ledger metadata")
			}
		}
		out = append(out, &e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: ledger entries iterate")
}

func marshalNullableJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
