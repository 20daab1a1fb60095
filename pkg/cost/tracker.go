// Package cost accumulates the cost amounts the backend reports on the
// event stream and checks them against the per-query budget from
// settings. Amounts arrive already priced, so the tracker only sums:
// per turn, per conversation, and for the whole run.
package cost

import (
	"fmt"
	"sync"

	"github.com/stagehand-dev/stagehand/pkg/logging"
	"github.com/stagehand-dev/stagehand/pkg/telemetry"
)

// WarnPercent is the budget utilization at which ShouldWarn trips.
const WarnPercent = 80.0

// BudgetStatus is a snapshot of spend against the per-query budget.
type BudgetStatus struct {
	TurnCost         float64 `json:"turn_cost"`
	ConversationCost float64 `json:"conversation_cost"`
	RunCost          float64 `json:"run_cost"`
	Budget           float64 `json:"budget"`
	Percent          float64 `json:"percent"`
	Exceeded         bool    `json:"exceeded"`
	ShouldWarn       bool    `json:"should_warn"`
}

// WarningMessage returns a user-facing budget warning, or "" when spend
// is comfortably inside the budget (or no budget is set).
func (bs BudgetStatus) WarningMessage() string {
	if bs.Budget <= 0 {
		return ""
	}
	if bs.Exceeded {
		return fmt.Sprintf("⛔ Query budget exceeded: $%.4f of $%.2f", bs.TurnCost, bs.Budget)
	}
	if bs.ShouldWarn {
		return fmt.Sprintf("⚠️  Query cost $%.4f of $%.2f (%.0f%% of budget)", bs.TurnCost, bs.Budget, bs.Percent)
	}
	return ""
}

// Tracker sums reported cost amounts. All methods are safe for
// concurrent use.
type Tracker struct {
	mu       sync.Mutex
	logger   *logging.Logger
	notifier *Notifier

	budget  float64
	turn    float64
	run     float64
	byConv  map[int64]float64
	current int64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger attaches a logger for cost events.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithBudget sets the initial per-query budget in dollars. Zero means
// unlimited.
func WithBudget(maxCostPerQuery float64) Option {
	return func(t *Tracker) {
		t.budget = maxCostPerQuery
	}
}

// NewTracker creates a tracker with no spend recorded.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		byConv:   make(map[int64]float64),
		notifier: NewNotifier(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Notifier returns the tracker's budget notifier for callback
// registration.
func (t *Tracker) Notifier() *Notifier {
	return t.notifier
}

// SetBudget replaces the per-query budget. Settings hot-reload calls
// this when max_cost_per_query changes.
func (t *Tracker) SetBudget(maxCostPerQuery float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if maxCostPerQuery < 0 {
		maxCostPerQuery = 0
	}
	t.budget = maxCostPerQuery
}

// BeginTurn resets the per-turn accumulator ahead of a new query. Alert
// levels fire again for the new turn.
func (t *Tracker) BeginTurn(conversationID int64) {
	t.mu.Lock()
	t.turn = 0
	t.current = conversationID
	t.mu.Unlock()
	t.notifier.Reset()
}

// Record adds a reported cost amount to the turn, conversation, and run
// totals and returns the resulting budget status. Non-positive amounts
// are ignored.
func (t *Tracker) Record(conversationID int64, amount float64) BudgetStatus {
	if amount <= 0 {
		return t.Status(conversationID)
	}

	t.mu.Lock()
	t.turn += amount
	t.run += amount
	t.byConv[conversationID] += amount
	status := t.statusLocked(conversationID)
	t.mu.Unlock()

	telemetry.RecordCost(amount)
	t.logEvent(logging.LevelDebug, "cost_recorded", fmt.Sprintf("$%.6f recorded", amount), map[string]any{
		"conversation_id": conversationID,
		"amount":          amount,
		"turn_total":      status.TurnCost,
		"run_total":       status.RunCost,
	})

	t.notifier.Check(status)
	return status
}

// TurnCost returns the spend accumulated since BeginTurn.
func (t *Tracker) TurnCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turn
}

// RunCost returns the total spend for the process lifetime.
func (t *Tracker) RunCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run
}

// ConversationCost returns the spend recorded for one conversation.
func (t *Tracker) ConversationCost(conversationID int64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byConv[conversationID]
}

// Status snapshots spend against the budget for a conversation.
func (t *Tracker) Status(conversationID int64) BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(conversationID)
}

// CurrentStatus snapshots spend for the conversation passed to the most
// recent BeginTurn.
func (t *Tracker) CurrentStatus() BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(t.current)
}

func (t *Tracker) statusLocked(conversationID int64) BudgetStatus {
	status := BudgetStatus{
		TurnCost:         t.turn,
		ConversationCost: t.byConv[conversationID],
		RunCost:          t.run,
		Budget:           t.budget,
	}
	if t.budget > 0 {
		status.Percent = t.turn / t.budget * 100
		status.Exceeded = t.turn >= t.budget
		status.ShouldWarn = status.Percent >= WarnPercent
	}
	return status
}

func (t *Tracker) logEvent(level logging.Level, eventType, message string, details map[string]any) {
	if t.logger == nil {
		return
	}
	t.logger.Log(logging.Event{
		Level:     level,
		Category:  logging.CategoryCost,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}
