package cost

import (
	"fmt"
	"sync"
)

// AlertLevel grades how close turn spend is to the budget.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"     // 50% of budget
	AlertWarning  AlertLevel = "warning"  // 75% of budget
	AlertCritical AlertLevel = "critical" // 90% of budget
	AlertExceeded AlertLevel = "exceeded" // 100% of budget
)

// alertThresholds maps each level to the budget percentage that trips
// it, checked in ascending order.
var alertThresholds = []struct {
	level   AlertLevel
	percent float64
}{
	{AlertInfo, 50},
	{AlertWarning, 75},
	{AlertCritical, 90},
	{AlertExceeded, 100},
}

// Alert is delivered to registered callbacks when turn spend crosses a
// threshold for the first time in the current turn.
type Alert struct {
	Level   AlertLevel   `json:"level"`
	Percent float64      `json:"percent"`
	Status  BudgetStatus `json:"status"`
}

// Message returns a display string for the alert.
func (a Alert) Message() string {
	switch a.Level {
	case AlertExceeded:
		return fmt.Sprintf("⛔ Query budget exceeded: $%.4f of $%.2f", a.Status.TurnCost, a.Status.Budget)
	case AlertCritical:
		return fmt.Sprintf("⚠️  Query cost at %.0f%% of budget ($%.4f of $%.2f)", a.Percent, a.Status.TurnCost, a.Status.Budget)
	case AlertWarning:
		return fmt.Sprintf("⚠️  Query cost at %.0f%% of budget ($%.4f of $%.2f)", a.Percent, a.Status.TurnCost, a.Status.Budget)
	default:
		return fmt.Sprintf("Query cost at %.0f%% of budget ($%.4f of $%.2f)", a.Percent, a.Status.TurnCost, a.Status.Budget)
	}
}

// AlertFunc receives budget alerts. Callbacks run synchronously on the
// goroutine that recorded the cost, so they should return quickly.
type AlertFunc func(Alert)

// Notifier fires each alert level at most once per turn. Reset starts a
// fresh turn.
type Notifier struct {
	mu        sync.Mutex
	callbacks []AlertFunc
	fired     map[AlertLevel]bool
}

// NewNotifier creates a notifier with no callbacks registered.
func NewNotifier() *Notifier {
	return &Notifier{fired: make(map[AlertLevel]bool)}
}

// OnAlert registers a callback for threshold crossings.
func (n *Notifier) OnAlert(fn AlertFunc) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = append(n.callbacks, fn)
}

// Reset clears fired levels so the next turn alerts again.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fired = make(map[AlertLevel]bool)
}

// Check fires a callback for every threshold the status has crossed
// that has not fired this turn. A single large cost can trip several
// levels at once; each is delivered in ascending order.
func (n *Notifier) Check(status BudgetStatus) {
	if status.Budget <= 0 {
		return
	}

	n.mu.Lock()
	var pending []Alert
	for _, th := range alertThresholds {
		if status.Percent >= th.percent && !n.fired[th.level] {
			n.fired[th.level] = true
			pending = append(pending, Alert{Level: th.level, Percent: status.Percent, Status: status})
		}
	}
	callbacks := make([]AlertFunc, len(n.callbacks))
	copy(callbacks, n.callbacks)
	n.mu.Unlock()

	for _, alert := range pending {
		for _, fn := range callbacks {
			fn(alert)
		}
	}
}
