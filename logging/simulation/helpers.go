package simulation

import (
	"context"

	"github.com/bchoi12/birdtown-sub001/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a replication step exceeds the allotted tick budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
	Inbound        int     `json:"inbound"`
}

// TickBudgetOverrun publishes a warning when a step exceeds the configured tick budget.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, seq uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventTickBudgetOverrun,
		Seq:      seq,
		Actor:    logging.EntityRef{Kind: logging.EntityKindLoop},
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
