package screening

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/llm"
	"github.com/estevaoantuness/agentenaval/internal/metrics"
	"github.com/estevaoantuness/agentenaval/internal/region"
	"github.com/estevaoantuness/agentenaval/internal/repo"
)

// Store is the slice of the repository the engine needs.
type Store interface {
	CreateLead(ctx context.Context, phone string) (*repo.Lead, error)
	GetLeadByPhone(ctx context.Context, phone string) (*repo.Lead, error)
	GetLeadByID(ctx context.Context, id string) (*repo.Lead, error)
	UpdateLeadStatus(ctx context.Context, id, status string) error
	TouchLastInteraction(ctx context.Context, id string) error
	SetEligibility(ctx context.Context, id string, eligible bool) error
	SetFollowUpDue(ctx context.Context, id string, due time.Time) error
	IncrementFollowUp(ctx context.Context, id string) error
	InsertConversation(ctx context.Context, conv repo.Conversation) (*repo.Conversation, error)
	ListRecentConversations(ctx context.Context, leadID string, limit int) ([]repo.Conversation, error)
}

// Generator produces assistant replies with usage metadata.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []llm.Turn, userMessage string) (*llm.Reply, error)
}

// ContactLocker is an optional cross-instance lock keyed by contact.
// The in-process keyed mutex already serializes within one instance.
type ContactLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Config tunes the engine.
type Config struct {
	SystemPrompt  string
	HistoryLimit  int
	FollowUpDelay time.Duration
	LockWait      time.Duration
	LockTTL       time.Duration
}

// Result is the success outcome of processing one inbound message.
type Result struct {
	LeadID      string
	Phone       string
	Reply       string
	TokensTotal int
	LatencyMs   int
	CostUSD     float64
}

// EligibilityResult is the outcome of a regional eligibility check.
// Description is the conversational outcome text; Detail carries the
// classification summary with the macro-region name.
type EligibilityResult struct {
	LeadID      string
	Eligible    bool
	Description string
	Detail      string
}

// Engine owns the lead lifecycle: it creates and finds leads, drives status
// transitions, builds conversation context, invokes response generation,
// persists exchanges, and arms follow-up deadlines.
type Engine struct {
	store     Store
	generator Generator
	validator *region.Validator
	locker    ContactLocker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	mu           sync.Mutex
	contactLocks map[string]*contactLock
}

// contactLock is a per-contact mutex with a holder/waiter count so the
// entry can be evicted once nobody references it.
type contactLock struct {
	mu   sync.Mutex
	refs int
}

// New creates the screening engine. locker may be nil for single-instance
// deployments.
func New(store Store, generator Generator, validator *region.Validator, locker ContactLocker, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg Config) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.FollowUpDelay <= 0 {
		cfg.FollowUpDelay = 2 * time.Hour
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Engine{
		store:        store,
		generator:    generator,
		validator:    validator,
		locker:       locker,
		metrics:      metricRegistry,
		logger:       logger.With("component", "screening"),
		cfg:          cfg,
		contactLocks: map[string]*contactLock{},
	}
}

// ReceiveMessage processes one inbound message from a contact: it resolves
// or creates the lead, advances its status, generates a reply with bounded
// conversation context, persists the exchange, and re-arms the follow-up
// deadline when the lead is still awaiting a resolution.
//
// State writes are serialized per contact; the generation call runs outside
// the lock. A generation failure leaves the lead exactly as the first
// locked section committed it, with no conversation row.
func (e *Engine) ReceiveMessage(ctx context.Context, contactKey, rawText string) (*Result, error) {
	phone := NormalizeContact(contactKey)
	if phone == "" {
		e.countOutcome(CodeInvalidContact)
		return nil, newError(CodeInvalidContact, fmt.Sprintf("contact key %q is not a valid phone", contactKey), nil)
	}
	clean := SanitizeText(rawText)

	unlock := e.lockContact(ctx, phone)
	lead, history, err := e.prepareLead(ctx, phone)
	unlock()
	if err != nil {
		e.countOutcome(CodePersistence)
		return nil, err
	}

	reply, err := e.generator.Generate(ctx, e.cfg.SystemPrompt, history, clean)
	if err != nil {
		e.countOutcome(CodeGenerationFailed)
		e.logger.Error("response generation failed", "lead_id", lead.ID, "error", err)
		return nil, newError(CodeGenerationFailed, "response generation failed", err)
	}

	unlock = e.lockContact(ctx, phone)
	defer unlock()

	// A successful generation always carries usage metadata; zero is a real
	// measurement, not absence, so every field is stored.
	conv := repo.Conversation{
		LeadID:       lead.ID,
		MessageIn:    clean,
		MessageOut:   reply.Text,
		TokensInput:  intPtr(reply.TokensInput),
		TokensOutput: intPtr(reply.TokensOutput),
		TokensTotal:  intPtr(reply.TokensTotal),
		CostCents:    intPtr(reply.CostCents),
		LatencyMs:    intPtr(reply.LatencyMs),
	}
	if _, err := e.store.InsertConversation(ctx, conv); err != nil {
		e.countOutcome(CodePersistence)
		return nil, newError(CodePersistence, "store conversation", err)
	}

	// Re-read the status: an eligibility check may have moved it while the
	// generation call was in flight.
	current, err := e.store.GetLeadByID(ctx, lead.ID)
	if err != nil {
		e.countOutcome(CodePersistence)
		return nil, newError(CodePersistence, "reload lead", err)
	}
	if status, perr := ParseStatus(current.Status); perr == nil && status == StatusAwaitingResponse {
		due := time.Now().UTC().Add(e.cfg.FollowUpDelay)
		if err := e.store.SetFollowUpDue(ctx, lead.ID, due); err != nil {
			e.countOutcome(CodePersistence)
			return nil, newError(CodePersistence, "arm follow-up", err)
		}
		e.logger.Info("follow-up armed", "lead_id", lead.ID, "due", due)
	}

	e.countOutcome("success")
	return &Result{
		LeadID:      lead.ID,
		Phone:       phone,
		Reply:       reply.Text,
		TokensTotal: reply.TokensTotal,
		LatencyMs:   reply.LatencyMs,
		CostUSD:     reply.CostUSD,
	}, nil
}

// prepareLead runs under the contact lock: find-or-create, the NEW ->
// IN_SCREENING transition, the last-interaction refresh, and the bounded
// history read.
func (e *Engine) prepareLead(ctx context.Context, phone string) (*repo.Lead, []llm.Turn, error) {
	lead, err := e.store.GetLeadByPhone(ctx, phone)
	if errors.Is(err, repo.ErrNotFound) {
		lead, err = e.store.CreateLead(ctx, phone)
		if err == nil {
			e.logger.Info("new lead created", "lead_id", lead.ID, "phone", phone)
		}
	}
	if err != nil {
		return nil, nil, newError(CodePersistence, "resolve lead", err)
	}

	status, err := ParseStatus(lead.Status)
	if err != nil {
		return nil, nil, newError(CodePersistence, "stored lead status", err)
	}

	if status == StatusNew {
		if err := e.transition(ctx, lead.ID, status, StatusInScreening); err != nil {
			return nil, nil, newError(CodePersistence, "advance new lead", err)
		}
	}

	if err := e.store.TouchLastInteraction(ctx, lead.ID); err != nil {
		return nil, nil, newError(CodePersistence, "refresh last interaction", err)
	}

	return lead, e.buildHistory(ctx, lead.ID), nil
}

// ValidateEligibility classifies the lead's region and moves the lead to
// AWAITING_RESPONSE or NOT_ELIGIBLE accordingly. Repeated calls with an
// unchanged region land in the same end state; each call re-logs the
// transition. The status read-modify-write runs under the same per-contact
// lock as message processing, so a concurrent inbound message cannot
// overwrite the eligibility transition.
func (e *Engine) ValidateEligibility(ctx context.Context, leadID string) (*EligibilityResult, error) {
	lead, err := e.store.GetLeadByID(ctx, leadID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, newError(CodeLeadNotFound, fmt.Sprintf("lead %s not found", leadID), nil)
	}
	if err != nil {
		return nil, newError(CodePersistence, "load lead", err)
	}

	unlock := e.lockContact(ctx, lead.Phone)
	defer unlock()

	// Re-read under the lock; the first read only resolved the contact key.
	lead, err = e.store.GetLeadByID(ctx, leadID)
	if err != nil {
		return nil, newError(CodePersistence, "reload lead", err)
	}
	if lead.Region == nil || *lead.Region == "" {
		return nil, newError(CodeRegionMissing, "lead has no region set", nil)
	}

	current, err := ParseStatus(lead.Status)
	if err != nil {
		return nil, newError(CodePersistence, "stored lead status", err)
	}

	classification, detail := e.validator.Describe(*lead.Region)
	eligible := classification == region.Eligible
	if err := e.store.SetEligibility(ctx, leadID, eligible); err != nil {
		return nil, newError(CodePersistence, "record eligibility", err)
	}

	next := StatusNotEligible
	description := fmt.Sprintf("A região %s ainda não está aberta para implantações, mas vamos registrar seu interesse para futuras expansões.", *lead.Region)
	if eligible {
		next = StatusAwaitingResponse
		description = fmt.Sprintf("Ótimo! A região %s é elegível para franquias.", *lead.Region)
	}
	if err := e.transition(ctx, leadID, current, next); err != nil {
		return nil, newError(CodePersistence, "apply eligibility status", err)
	}

	e.logger.Info("lead eligibility checked",
		"lead_id", leadID,
		"region", *lead.Region,
		"is_eligible", eligible,
		"classification", detail,
	)

	return &EligibilityResult{
		LeadID:      leadID,
		Eligible:    eligible,
		Description: description,
		Detail:      detail,
	}, nil
}

// MarkForResponse forces a lead into AWAITING_RESPONSE and arms the
// follow-up deadline. Used when the conversation flow determines the next
// move belongs to the lead. Serialized per contact like every other status
// write.
func (e *Engine) MarkForResponse(ctx context.Context, leadID string) error {
	lead, err := e.store.GetLeadByID(ctx, leadID)
	if errors.Is(err, repo.ErrNotFound) {
		return newError(CodeLeadNotFound, fmt.Sprintf("lead %s not found", leadID), nil)
	}
	if err != nil {
		return newError(CodePersistence, "load lead", err)
	}

	unlock := e.lockContact(ctx, lead.Phone)
	defer unlock()

	lead, err = e.store.GetLeadByID(ctx, leadID)
	if err != nil {
		return newError(CodePersistence, "reload lead", err)
	}

	current, err := ParseStatus(lead.Status)
	if err != nil {
		return newError(CodePersistence, "stored lead status", err)
	}
	if err := e.transition(ctx, leadID, current, StatusAwaitingResponse); err != nil {
		return newError(CodePersistence, "mark for response", err)
	}

	due := time.Now().UTC().Add(e.cfg.FollowUpDelay)
	if err := e.store.SetFollowUpDue(ctx, leadID, due); err != nil {
		return newError(CodePersistence, "arm follow-up", err)
	}
	return nil
}

// RegisterFollowUpAttempt records one re-engagement attempt. Invoked by the
// external follow-up sweep.
func (e *Engine) RegisterFollowUpAttempt(ctx context.Context, leadID string) error {
	if err := e.store.IncrementFollowUp(ctx, leadID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return newError(CodeLeadNotFound, fmt.Sprintf("lead %s not found", leadID), nil)
		}
		return newError(CodePersistence, "register follow-up attempt", err)
	}
	return nil
}

// buildHistory returns up to HistoryLimit stored exchanges as role-tagged
// turns, oldest first. History is best-effort context: read failures are
// logged and an empty history returned.
func (e *Engine) buildHistory(ctx context.Context, leadID string) []llm.Turn {
	convs, err := e.store.ListRecentConversations(ctx, leadID, e.cfg.HistoryLimit)
	if err != nil {
		e.logger.Warn("history read failed, continuing without context", "lead_id", leadID, "error", err)
		return nil
	}

	turns := make([]llm.Turn, 0, len(convs)*2)
	// Rows arrive newest first; replay them oldest first.
	for i := len(convs) - 1; i >= 0; i-- {
		turns = append(turns,
			llm.Turn{Role: "user", Content: convs[i].MessageIn},
			llm.Turn{Role: "assistant", Content: convs[i].MessageOut},
		)
	}
	return turns
}

// transition persists a status change and emits the audit log entry. The
// log line is the only record of state history.
func (e *Engine) transition(ctx context.Context, leadID string, from, to Status) error {
	if err := e.store.UpdateLeadStatus(ctx, leadID, to.String()); err != nil {
		return err
	}
	e.logger.Info("lead status change",
		"lead_id", leadID,
		"old_status", from.String(),
		"new_status", to.String(),
	)
	if e.metrics != nil {
		e.metrics.LeadTransitions.WithLabelValues(from.String(), to.String()).Inc()
	}
	return nil
}

// lockContact serializes state access for one contact. Within the process a
// keyed mutex is always taken; when a distributed locker is configured it is
// acquired best-effort on top, so duplicate webhook deliveries landing on
// different instances do not interleave. Lock entries are evicted once the
// last holder releases, so the map stays bounded by in-flight contacts.
func (e *Engine) lockContact(ctx context.Context, phone string) func() {
	e.mu.Lock()
	l, ok := e.contactLocks[phone]
	if !ok {
		l = &contactLock{}
		e.contactLocks[phone] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	release := func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.contactLocks, phone)
		}
		e.mu.Unlock()
	}

	if e.locker == nil {
		return release
	}

	key := "lead_lock:" + phone
	deadline := time.Now().Add(e.cfg.LockWait)
	for {
		ok, err := e.locker.TryLock(ctx, key, e.cfg.LockTTL)
		if err != nil {
			e.logger.Warn("distributed contact lock unavailable", "phone", phone, "error", err)
			break
		}
		if ok {
			return func() {
				if err := e.locker.Unlock(ctx, key); err != nil {
					e.logger.Warn("distributed contact unlock failed", "phone", phone, "error", err)
				}
				release()
			}
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			e.logger.Warn("distributed contact lock wait exhausted", "phone", phone)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	return release
}

func (e *Engine) countOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.MessagesProcessed.WithLabelValues(outcome).Inc()
	}
}

func intPtr(v int) *int {
	return &v
}
