package simulation

import (
	"context"

	"arena/netsync/logging"
)

const (
	// EventTickBudgetOverrun is emitted when a synchronizer tick exceeds its frame budget.
	EventTickBudgetOverrun logging.EventType = "simulation.tick_budget_overrun"
	// EventStepPanic is emitted when a tick step or message handler panics and is isolated.
	EventStepPanic logging.EventType = "simulation.step_panic"
)

// TickBudgetOverrunPayload captures timing details for a tick budget breach.
type TickBudgetOverrunPayload struct {
	DurationMillis int64   `json:"durationMillis"`
	BudgetMillis   int64   `json:"budgetMillis"`
	Ratio          float64 `json:"ratio"`
	Streak         uint64  `json:"streak"`
}

// StepPanicPayload identifies the isolated step.
type StepPanicPayload struct {
	Step  string `json:"step"`
	Panic string `json:"panic"`
}

// TickBudgetOverrun publishes a warning when a tick runs long.
func TickBudgetOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickBudgetOverrunPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickBudgetOverrun,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

// StepPanic publishes an error when a recovered panic is isolated.
func StepPanic(ctx context.Context, pub logging.Publisher, tick uint64, payload StepPanicPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventStepPanic,
		Tick:     tick,
		Severity: logging.SeverityError,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}
