package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// -- Leads --

func (r *SQLiteRepository) CreateLead(ctx context.Context, phone string) (*Lead, error) {
	q := `
INSERT INTO leads (id, phone, status, first_contact_at, last_interaction_at)
VALUES (?, ?, 'new', ?, ?)
ON CONFLICT (phone) DO NOTHING
RETURNING ` + leadColumns + `;`

	now := time.Now().UTC()
	lead, err := scanLead(r.db.QueryRowContext(ctx, q, uuid.NewString(), phone, now, now))
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	return r.GetLeadByPhone(ctx, phone)
}

func (r *SQLiteRepository) GetLeadByPhone(ctx context.Context, phone string) (*Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE phone = ? LIMIT 1;`
	lead, err := scanLead(r.db.QueryRowContext(ctx, q, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead by phone: %w", err)
	}
	return lead, nil
}

func (r *SQLiteRepository) GetLeadByID(ctx context.Context, id string) (*Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE id = ? LIMIT 1;`
	lead, err := scanLead(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead by id: %w", err)
	}
	return lead, nil
}

func (r *SQLiteRepository) UpdateLeadStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE leads SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	return r.execOne(ctx, "update lead status", q, status, id)
}

func (r *SQLiteRepository) TouchLastInteraction(ctx context.Context, id string) error {
	const q = `UPDATE leads SET last_interaction_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	return r.execOne(ctx, "touch last interaction", q, time.Now().UTC(), id)
}

func (r *SQLiteRepository) SetEligibility(ctx context.Context, id string, eligible bool) error {
	const q = `UPDATE leads SET eligible = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	return r.execOne(ctx, "set eligibility", q, eligible, id)
}

func (r *SQLiteRepository) SetFollowUpDue(ctx context.Context, id string, due time.Time) error {
	const q = `UPDATE leads SET next_follow_up_due = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	return r.execOne(ctx, "set follow-up due", q, due.UTC(), id)
}

func (r *SQLiteRepository) IncrementFollowUp(ctx context.Context, id string) error {
	const q = `
UPDATE leads
SET follow_up_attempts = follow_up_attempts + 1,
    last_follow_up_at = ?,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;`
	return r.execOne(ctx, "increment follow-up", q, time.Now().UTC(), id)
}

func (r *SQLiteRepository) ListLeads(ctx context.Context, status string, limit, offset int) ([]Lead, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + leadColumns + ` FROM leads`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY first_contact_at DESC LIMIT ? OFFSET ?;`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
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

// -- Conversations --

func (r *SQLiteRepository) InsertConversation(ctx context.Context, conv Conversation) (*Conversation, error) {
	const q = `
INSERT INTO conversations (id, lead_id, message_in, message_out, tokens_input, tokens_output, tokens_total, cost_cents, latency_ms, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id, timestamp, created_at;`

	conv.ID = uuid.NewString()
	err := r.db.QueryRowContext(ctx, q,
		conv.ID,
		conv.LeadID,
		conv.MessageIn,
		conv.MessageOut,
		conv.TokensInput,
		conv.TokensOutput,
		conv.TokensTotal,
		conv.CostCents,
		conv.LatencyMs,
		time.Now().UTC(),
	).Scan(&conv.ID, &conv.Timestamp, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &conv, nil
}

func (r *SQLiteRepository) ListRecentConversations(ctx context.Context, leadID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, lead_id, message_in, message_out, tokens_input, tokens_output, tokens_total, cost_cents, latency_ms, timestamp, created_at
FROM conversations
WHERE lead_id = ?
ORDER BY timestamp DESC
LIMIT ?;`

	rows, err := r.db.QueryContext(ctx, q, leadID, limit)
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

// -- Schedulings --

func (r *SQLiteRepository) InsertScheduling(ctx context.Context, sch Scheduling) (*Scheduling, error) {
	if !sch.MeetingAt.After(time.Now().UTC()) {
		return nil, fmt.Errorf("insert scheduling: meeting time must be in the future")
	}
	if sch.Status == "" {
		sch.Status = "scheduled"
	}

	const q = `
INSERT INTO schedulings (id, lead_id, meeting_at, status, assigned_agent, agent_email, notes)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id, created_at, updated_at;`

	sch.ID = uuid.NewString()
	err := r.db.QueryRowContext(ctx, q,
		sch.ID,
		sch.LeadID,
		sch.MeetingAt.UTC(),
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

func (r *SQLiteRepository) ListUpcomingSchedulings(ctx context.Context, limit int) ([]Scheduling, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, lead_id, meeting_at, status, assigned_agent, agent_email, notes, created_at, updated_at
FROM schedulings
WHERE meeting_at > ? AND status = 'scheduled'
ORDER BY meeting_at ASC
LIMIT ?;`

	rows, err := r.db.QueryContext(ctx, q, time.Now().UTC(), limit)
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

// -- Reporting --

func (r *SQLiteRepository) GetUsageStats(ctx context.Context) (*UsageStats, error) {
	stats := &UsageStats{LeadsByStatus: map[string]int64{}}
	now := time.Now().UTC()

	const leadQ = `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
FROM leads;`
	if err := r.db.QueryRowContext(ctx, leadQ, now.Add(-24*time.Hour)).Scan(&stats.TotalLeads, &stats.NewLeads24h); err != nil {
		return nil, fmt.Errorf("usage stats leads: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status;`)
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
	if err := r.db.QueryRowContext(ctx, convQ).Scan(&stats.TotalConversations, &stats.TotalTokens, &stats.TotalCostCents, &stats.AvgLatencyMs); err != nil {
		return nil, fmt.Errorf("usage stats conversations: %w", err)
	}

	const schQ = `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status = 'scheduled' AND meeting_at > ? THEN 1 ELSE 0 END), 0)
FROM schedulings;`
	if err := r.db.QueryRowContext(ctx, schQ, now).Scan(&stats.TotalSchedulings, &stats.UpcomingSchedulings); err != nil {
		return nil, fmt.Errorf("usage stats schedulings: %w", err)
	}

	return stats, nil
}

// -- Helpers --

func (r *SQLiteRepository) execOne(ctx context.Context, op, q string, args ...any) error {
	ct, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
