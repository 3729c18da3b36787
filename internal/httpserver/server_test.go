package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/repo"
)

type stubRepository struct {
	leads         map[string]*repo.Lead
	conversations map[string][]repo.Conversation
	stats         *repo.UsageStats
}

func (s *stubRepository) Close()                                     {}
func (s *stubRepository) Ping(context.Context) error                 { return nil }
func (s *stubRepository) RunMigrations(context.Context, fs.FS) error { return nil }

func (s *stubRepository) CreateLead(context.Context, string) (*repo.Lead, error) {
	return nil, repo.ErrNotFound
}
func (s *stubRepository) GetLeadByPhone(context.Context, string) (*repo.Lead, error) {
	return nil, repo.ErrNotFound
}

func (s *stubRepository) GetLeadByID(_ context.Context, id string) (*repo.Lead, error) {
	lead, ok := s.leads[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return lead, nil
}

func (s *stubRepository) UpdateLeadStatus(context.Context, string, string) error  { return nil }
func (s *stubRepository) TouchLastInteraction(context.Context, string) error      { return nil }
func (s *stubRepository) SetEligibility(context.Context, string, bool) error      { return nil }
func (s *stubRepository) SetFollowUpDue(context.Context, string, time.Time) error { return nil }
func (s *stubRepository) IncrementFollowUp(context.Context, string) error         { return nil }

func (s *stubRepository) ListLeads(_ context.Context, status string, limit, offset int) ([]repo.Lead, error) {
	var out []repo.Lead
	for _, lead := range s.leads {
		if status == "" || lead.Status == status {
			out = append(out, *lead)
		}
	}
	return out, nil
}

func (s *stubRepository) InsertConversation(context.Context, repo.Conversation) (*repo.Conversation, error) {
	return nil, nil
}

func (s *stubRepository) ListRecentConversations(_ context.Context, leadID string, limit int) ([]repo.Conversation, error) {
	convs := s.conversations[leadID]
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (s *stubRepository) InsertScheduling(context.Context, repo.Scheduling) (*repo.Scheduling, error) {
	return nil, nil
}
func (s *stubRepository) ListUpcomingSchedulings(context.Context, int) ([]repo.Scheduling, error) {
	return nil, nil
}

func (s *stubRepository) GetUsageStats(context.Context) (*repo.UsageStats, error) {
	return s.stats, nil
}

func newTestServer(repository repo.Repository) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(":0", logger, nil, Handlers{}, "")
	srv.SetDependencies(Dependencies{Repository: repository})
	return srv
}

func TestAdminLeadDetail(t *testing.T) {
	stub := &stubRepository{
		leads: map[string]*repo.Lead{
			"lead-1": {ID: "lead-1", Phone: "5511999998888", Status: "awaiting_response"},
		},
		conversations: map[string][]repo.Conversation{
			"lead-1": {
				{ID: "conv-2", LeadID: "lead-1", MessageIn: "qual o valor?", MessageOut: "depende da região"},
				{ID: "conv-1", LeadID: "lead-1", MessageIn: "oi", MessageOut: "olá"},
			},
		},
	}
	srv := newTestServer(stub)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/leads/lead-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Lead struct {
			ID    string `json:"ID"`
			Phone string `json:"Phone"`
		} `json:"lead"`
		ConversationCount int `json:"conversation_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Lead.ID != "lead-1" || body.Lead.Phone != "5511999998888" {
		t.Fatalf("unexpected lead in body: %+v", body.Lead)
	}
	if body.ConversationCount != 2 {
		t.Fatalf("expected 2 conversations, got %d", body.ConversationCount)
	}
}

func TestAdminLeadDetailNotFound(t *testing.T) {
	srv := newTestServer(&stubRepository{leads: map[string]*repo.Lead{}})

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/leads/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminLeadsList(t *testing.T) {
	stub := &stubRepository{
		leads: map[string]*repo.Lead{
			"lead-1": {ID: "lead-1", Phone: "5511999998881", Status: "new"},
			"lead-2": {ID: "lead-2", Phone: "5511999998882", Status: "awaiting_response"},
		},
	}
	srv := newTestServer(stub)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/leads?status=new", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("expected 1 lead with status new, got %d", body.Count)
	}
}

func TestAdminUsage(t *testing.T) {
	stub := &stubRepository{
		stats: &repo.UsageStats{
			TotalLeads:         5,
			TotalConversations: 12,
			TotalTokens:        3400,
			TotalCostCents:     7,
			LeadsByStatus:      map[string]int64{"new": 2, "awaiting_response": 3},
		},
	}
	srv := newTestServer(stub)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/usage", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Leads struct {
			Total int64 `json:"total"`
		} `json:"leads"`
		Conversations struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Leads.Total != 5 || body.Conversations.TotalTokens != 3400 {
		t.Fatalf("unexpected usage body: %s", rec.Body.String())
	}
}
