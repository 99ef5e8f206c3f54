// Package escalate bumps open, unacknowledged alerts past their
// severity-specific time threshold. Single-level for now: level 0 alerts go
// to level 1. Rules carry a next_role that anticipates role-based routing;
// it is only logged, not enforced.
package escalate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aquawatch-backend/internal/storage"
	"aquawatch-backend/internal/telemetry"
)

type Store interface {
	ListOpenUnacknowledgedAlerts(ctx context.Context) ([]storage.AlertRecord, error)
	ListEscalationRules(ctx context.Context) ([]storage.EscalationRule, error)
	EscalateAlerts(ctx context.Context, ids []string, level int) error
}

type Engine struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
	// RulesPath optionally names a YAML file with default escalation rules,
	// used when the store has none configured.
	RulesPath string
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{Store: store, Logger: logger, Now: time.Now}
}

type Result struct {
	Escalated int      `json:"escalated"`
	IDs       []string `json:"ids"`
}

// Run performs one escalation sweep. Alerts with no rule for their severity
// are skipped; already-escalated alerts (level >= 1) are never re-escalated.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	alerts, err := e.Store.ListOpenUnacknowledgedAlerts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list alerts: %w", err)
	}

	rules, err := e.Store.ListEscalationRules(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list escalation rules: %w", err)
	}
	if len(rules) == 0 && e.RulesPath != "" {
		rules, err = LoadRules(e.RulesPath)
		if err != nil {
			return Result{}, fmt.Errorf("load rules file: %w", err)
		}
	}
	ruleMap := map[telemetry.Severity]storage.EscalationRule{}
	for _, rule := range rules {
		ruleMap[rule.Severity] = rule
	}

	now := e.Now()
	ids := []string{}
	for _, alert := range alerts {
		rule, ok := ruleMap[alert.Severity]
		if !ok {
			continue
		}
		elapsed := now.Sub(alert.CreatedAt).Minutes()
		if elapsed > rule.MinutesToEscalate && alert.EscalationLevel < 1 {
			ids = append(ids, alert.ID)
			e.Logger.Info("escalating alert",
				slog.String("alert_id", alert.ID),
				slog.String("severity", string(alert.Severity)),
				slog.String("next_role", rule.NextRole))
		}
	}

	if len(ids) > 0 {
		if err := e.Store.EscalateAlerts(ctx, ids, 1); err != nil {
			return Result{}, fmt.Errorf("apply escalations: %w", err)
		}
	}

	return Result{Escalated: len(ids), IDs: ids}, nil
}
