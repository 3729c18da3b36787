package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository provides typed access to Postgres resources.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a new connection pool to the database with the desired
// search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo_postgres"),
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations applies schema migrations on the connected database.
func (r *PostgresRepository) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return applyMigrations(ctx, filesystem, "postgres", func(sql string) error {
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, sql)
			return err
		})
	})
}

const leadColumns = `
id, phone, name, email, region, city, interest, availability,
status, eligible,
follow_up_attempts, last_follow_up_at, next_follow_up_due,
preferred_meeting_at, preferred_time,
first_contact_at, last_interaction_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID, &l.Phone, &l.Name, &l.Email, &l.Region, &l.City, &l.Interest, &l.Availability,
		&l.Status, &l.Eligible,
		&l.FollowUpAttempts, &l.LastFollowUpAt, &l.NextFollowUpDue,
		&l.PreferredMeetingAt, &l.PreferredTime,
		&l.FirstContactAt, &l.LastInteractionAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLead inserts a new lead for the phone, or returns the existing row
// when the phone is already known. The phone uniqueness constraint makes
// this idempotent under concurrent delivery.
func (r *PostgresRepository) CreateLead(ctx context.Context, phone string) (*Lead, error) {
	q := `
INSERT INTO leads (id, phone, status, first_contact_at, last_interaction_at)
VALUES ($1, $2, 'new', NOW(), NOW())
ON CONFLICT (phone) DO NOTHING
RETURNING ` + leadColumns + `;`

	lead, err := scanLead(r.pool.QueryRow(ctx, q, uuid.NewString(), phone))
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	// Conflict path: another delivery created it first.
	return r.GetLeadByPhone(ctx, phone)
}

// GetLeadByPhone loads a lead by its canonical phone.
func (r *PostgresRepository) GetLeadByPhone(ctx context.Context, phone string) (*Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE phone = $1 LIMIT 1;`
	lead, err := scanLead(r.pool.QueryRow(ctx, q, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead by phone: %w", err)
	}
	return lead, nil
}

// GetLeadByID loads a lead by its internal identifier.
func (r *PostgresRepository) GetLeadByID(ctx context.Context, id string) (*Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1 LIMIT 1;`
	lead, err := scanLead(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead by id: %w", err)
	}
	return lead, nil
}

// UpdateLeadStatus sets the lead status.
func (r *PostgresRepository) UpdateLeadStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE leads SET status = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("update lead status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastInteraction refreshes the last-interaction timestamp.
func (r *PostgresRepository) TouchLastInteraction(ctx context.Context, id string) error {
	const q = `UPDATE leads SET last_interaction_at = NOW(), updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("touch last interaction: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetEligibility records the outcome of a regional eligibility check.
func (r *PostgresRepository) SetEligibility(ctx context.Context, id string, eligible bool) error {
	const q = `UPDATE leads SET eligible = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, eligible)
	if err != nil {
		return fmt.Errorf("set eligibility: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFollowUpDue arms (or re-arms) the follow-up deadline.
func (r *PostgresRepository) SetFollowUpDue(ctx context.Context, id string, due time.Time) error {
	const q = `UPDATE leads SET next_follow_up_due = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, due)
	if err != nil {
		return fmt.Errorf("set follow-up due: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementFollowUp bumps the attempt counter and stamps the attempt time.
// Invoked by the follow-up sweep, not by message processing.
func (r *PostgresRepository) IncrementFollowUp(ctx context.Context, id string) error {
	const q = `
UPDATE leads
SET follow_up_attempts = follow_up_attempts + 1,
    last_follow_up_at = NOW(),
    updated_at = NOW()
WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("increment follow-up: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLeads returns leads ordered by first contact, optionally filtered by
// status.
func (r *PostgresRepository) ListLeads(ctx context.Context, status string, limit, offset int) ([]Lead, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + leadColumns + ` FROM leads`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY first_contact_at DESC LIMIT %d OFFSET %d;`, limit, offset)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	defer rows.Close()

	var leads []Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, *lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}

// InsertConversation stores one inbound/outbound exchange. Rows are never
// updated after insertion.
func (r *PostgresRepository) InsertConversation(ctx context.Context, conv Conversation) (*Conversation, error) {
	const q = `
INSERT INTO conversations (id, lead_id, message_in, message_out, tokens_input, tokens_output, tokens_total, cost_cents, latency_ms, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
RETURNING id, timestamp, created_at;`

	conv.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, q,
		conv.ID,
		conv.LeadID,
		conv.MessageIn,
		conv.MessageOut,
		conv.TokensInput,
		conv.TokensOutput,
		conv.TokensTotal,
		conv.CostCents,
		conv.LatencyMs,
	).Scan(&conv.ID, &conv.Timestamp, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &conv, nil
}

// ListRecentConversations returns the latest exchanges for a lead, newest
// first.
func (r *PostgresRepository) ListRecentConversations(ctx context.Context, leadID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, lead_id, message_in, message_out, tokens_input, tokens_output, tokens_total, cost_cents, latency_ms, timestamp, created_at
FROM conversations
WHERE lead_id = $1
ORDER BY timestamp DESC
LIMIT $2;`

	rows, err := r.pool.Query(ctx, q, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.LeadID, &c.MessageIn, &c.MessageOut, &c.TokensInput, &c.TokensOutput, &c.TokensTotal, &c.CostCents, &c.LatencyMs, &c.Timestamp, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

// InsertScheduling creates a meeting record. The meeting time must be
// strictly in the future.
func (r *PostgresRepository) InsertScheduling(ctx context.Context, sch Scheduling) (*Scheduling, error) {
	if !sch.MeetingAt.After(time.Now().UTC()) {
		return nil, fmt.Errorf("insert scheduling: meeting time must be in the future")
	}
	if sch.Status == "" {
		sch.Status = "scheduled"
	}

	const q = `
INSERT INTO schedulings (id, lead_id, meeting_at, status, assigned_agent, agent_email, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at, updated_at;`

	sch.ID = uuid.NewString()
	err := r.pool.QueryRow(ctx, q,
		sch.ID,
		sch.LeadID,
		sch.MeetingAt,
		sch.Status,
		sch.AssignedAgent,
		sch.AgentEmail,
		sch.Notes,
	).Scan(&sch.ID, &sch.CreatedAt, &sch.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert scheduling: %w", err)
	}
	return &sch, nil
}

// ListUpcomingSchedulings returns future meetings ordered soonest first.
func (r *PostgresRepository) ListUpcomingSchedulings(ctx context.Context, limit int) ([]Scheduling, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, lead_id, meeting_at, status, assigned_agent, agent_email, notes, created_at, updated_at
FROM schedulings
WHERE meeting_at > NOW() AND status = 'scheduled'
ORDER BY meeting_at ASC
LIMIT $1;`

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming schedulings: %w", err)
	}
	defer rows.Close()

	var out []Scheduling
	for rows.Next() {
		var s Scheduling
		if err := rows.Scan(&s.ID, &s.LeadID, &s.MeetingAt, &s.Status, &s.AssignedAgent, &s.AgentEmail, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduling: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedulings: %w", err)
	}
	return out, nil
}

// GetUsageStats aggregates counters used by the admin reporting endpoints.
func (r *PostgresRepository) GetUsageStats(ctx context.Context) (*UsageStats, error) {
	stats := &UsageStats{LeadsByStatus: map[string]int64{}}

	const leadQ = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '24 hours')
FROM leads;`
	if err := r.pool.QueryRow(ctx, leadQ).Scan(&stats.TotalLeads, &stats.NewLeads24h); err != nil {
		return nil, fmt.Errorf("usage stats leads: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("usage stats status breakdown: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status breakdown: %w", err)
		}
		stats.LeadsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status breakdown: %w", err)
	}

	const convQ = `
SELECT COUNT(*),
       COALESCE(SUM(tokens_total), 0),
       COALESCE(SUM(cost_cents), 0),
       COALESCE(AVG(latency_ms), 0)
FROM conversations;`
	if err := r.pool.QueryRow(ctx, convQ).Scan(&stats.TotalConversations, &stats.TotalTokens, &stats.TotalCostCents, &stats.AvgLatencyMs); err != nil {
		return nil, fmt.Errorf("usage stats conversations: %w", err)
	}

	const schQ = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status = 'scheduled' AND meeting_at > NOW())
FROM schedulings;`
	if err := r.pool.QueryRow(ctx, schQ).Scan(&stats.TotalSchedulings, &stats.UpcomingSchedulings); err != nil {
		return nil, fmt.Errorf("usage stats schedulings: %w", err)
	}

	return stats, nil
}
