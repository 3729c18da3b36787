package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("repo: not found")

// Repository defines the interface for data persistence.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Leads
	CreateLead(ctx context.Context, phone string) (*Lead, error)
	GetLeadByPhone(ctx context.Context, phone string) (*Lead, error)
	GetLeadByID(ctx context.Context, id string) (*Lead, error)
	UpdateLeadStatus(ctx context.Context, id, status string) error
	TouchLastInteraction(ctx context.Context, id string) error
	SetEligibility(ctx context.Context, id string, eligible bool) error
	SetFollowUpDue(ctx context.Context, id string, due time.Time) error
	IncrementFollowUp(ctx context.Context, id string) error
	ListLeads(ctx context.Context, status string, limit, offset int) ([]Lead, error)

	// Conversations
	InsertConversation(ctx context.Context, conv Conversation) (*Conversation, error)
	ListRecentConversations(ctx context.Context, leadID string, limit int) ([]Conversation, error)

	// Schedulings
	InsertScheduling(ctx context.Context, sch Scheduling) (*Scheduling, error)
	ListUpcomingSchedulings(ctx context.Context, limit int) ([]Scheduling, error)

	// Reporting
	GetUsageStats(ctx context.Context) (*UsageStats, error)
}
