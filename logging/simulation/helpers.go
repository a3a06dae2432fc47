package simulation

import (
	"context"

	"netball/server/logging"
)

// EventTickBudgetOverrun is emitted when a loop iteration takes longer than one frame.
const EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
	Steps          int     `json:"steps"`
	Clamped        bool    `json:"clamped,omitempty"`
}

// TickBudgetOverrun publishes a warning when the loop exceeds its budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, frame int64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Frame:    frame,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}
