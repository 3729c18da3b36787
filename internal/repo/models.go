package repo

import "time"

// Lead represents a row in the leads table. Status holds the stable
// storage token; the screening package owns the typed enum.
type Lead struct {
	ID           string
	Phone        string
	Name         *string
	Email        *string
	Region       *string
	City         *string
	Interest     *string
	Availability *string

	Status   string
	Eligible *bool

	FollowUpAttempts int
	LastFollowUpAt   *time.Time
	NextFollowUpDue  *time.Time

	PreferredMeetingAt *time.Time
	PreferredTime      *string

	FirstContactAt    time.Time
	LastInteractionAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is a single inbound/outbound exchange with a lead.
// Rows are append-only; usage metadata stays nil when the upstream
// response did not carry it.
type Conversation struct {
	ID     string
	LeadID string

	MessageIn  string
	MessageOut string

	TokensInput  *int
	TokensOutput *int
	TokensTotal  *int
	CostCents    *int
	LatencyMs    *int

	Timestamp time.Time
	CreatedAt time.Time
}

// Scheduling is a meeting booked for a lead.
type Scheduling struct {
	ID     string
	LeadID string

	MeetingAt time.Time
	Status    string

	AssignedAgent *string
	AgentEmail    *string
	Notes         *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsUpcoming reports whether the meeting is still in the future.
func (s Scheduling) IsUpcoming(now time.Time) bool {
	return s.MeetingAt.After(now)
}

// IsPast reports whether the meeting time has already passed.
func (s Scheduling) IsPast(now time.Time) bool {
	return s.MeetingAt.Before(now)
}

// UsageStats aggregates reporting counters for the admin endpoints.
type UsageStats struct {
	TotalLeads    int64
	NewLeads24h   int64
	LeadsByStatus map[string]int64

	TotalConversations int64
	TotalTokens        int64
	TotalCostCents     int64
	AvgLatencyMs       float64

	TotalSchedulings    int64
	UpcomingSchedulings int64
}
