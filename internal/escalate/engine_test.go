package escalate

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aquawatch-backend/internal/storage"
	"aquawatch-backend/internal/telemetry"
)

type mockStore struct {
	alerts    []storage.AlertRecord
	rules     []storage.EscalationRule
	escalated []string
}

func (m *mockStore) ListOpenUnacknowledgedAlerts(ctx context.Context) ([]storage.AlertRecord, error) {
	return m.alerts, nil
}

func (m *mockStore) ListEscalationRules(ctx context.Context) ([]storage.EscalationRule, error) {
	return m.rules, nil
}

func (m *mockStore) EscalateAlerts(ctx context.Context, ids []string, level int) error {
	m.escalated = append(m.escalated, ids...)
	for i := range m.alerts {
		for _, id := range ids {
			if m.alerts[i].ID == id {
				m.alerts[i].EscalationLevel = level
			}
		}
	}
	return nil
}

var sweepNow = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

func newTestEngine(store *mockStore) *Engine {
	e := NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.Now = func() time.Time { return sweepNow }
	return e
}

func openAlert(id string, severity telemetry.Severity, age time.Duration, level int) storage.AlertRecord {
	return storage.AlertRecord{
		ID:              id,
		DeviceID:        "dev-1",
		Severity:        severity,
		Status:          telemetry.AlertOpen,
		EscalationLevel: level,
		CreatedAt:       sweepNow.Add(-age),
	}
}

func criticalRule(minutes float64) storage.EscalationRule {
	return storage.EscalationRule{Severity: telemetry.SeverityCritical, MinutesToEscalate: minutes, NextRole: "admin"}
}

func TestRunEscalatesOverdueAlert(t *testing.T) {
	store := &mockStore{
		alerts: []storage.AlertRecord{openAlert("a1", telemetry.SeverityCritical, 10*time.Minute, 0)},
		rules:  []storage.EscalationRule{criticalRule(5)},
	}
	e := newTestEngine(store)

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Escalated != 1 || len(result.IDs) != 1 || result.IDs[0] != "a1" {
		t.Fatalf("expected a1 escalated once, got %+v", result)
	}
}

func TestRunDoesNotReEscalate(t *testing.T) {
	store := &mockStore{
		alerts: []storage.AlertRecord{openAlert("a1", telemetry.SeverityCritical, 10*time.Minute, 0)},
		rules:  []storage.EscalationRule{criticalRule(5)},
	}
	e := newTestEngine(store)

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Second sweep ten minutes later: the alert is already at level 1.
	e.Now = func() time.Time { return sweepNow.Add(10 * time.Minute) }
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Escalated != 0 {
		t.Fatalf("level >= 1 must never re-escalate, got %+v", result)
	}
	if len(store.escalated) != 1 {
		t.Fatalf("expected a single escalation overall, got %d", len(store.escalated))
	}
}

func TestRunSkipsAlertWithoutRule(t *testing.T) {
	store := &mockStore{
		alerts: []storage.AlertRecord{openAlert("a1", telemetry.SeverityInfo, time.Hour, 0)},
		rules:  []storage.EscalationRule{criticalRule(5)},
	}
	e := newTestEngine(store)

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Escalated != 0 {
		t.Fatalf("no rule configured means skip, got %+v", result)
	}
}

func TestRunLeavesYoungAlert(t *testing.T) {
	store := &mockStore{
		alerts: []storage.AlertRecord{openAlert("a1", telemetry.SeverityCritical, 3*time.Minute, 0)},
		rules:  []storage.EscalationRule{criticalRule(5)},
	}
	e := newTestEngine(store)

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Escalated != 0 {
		t.Fatalf("alert inside its window must not escalate, got %+v", result)
	}
}

func TestRunUsesRulesFileWhenStoreEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := "rules:\n  - severity: critical\n    minutes_to_escalate: 5\n    next_role: admin\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	store := &mockStore{
		alerts: []storage.AlertRecord{openAlert("a1", telemetry.SeverityCritical, 10*time.Minute, 0)},
	}
	e := newTestEngine(store)
	e.RulesPath = path

	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Escalated != 1 {
		t.Fatalf("expected fallback rules to apply, got %+v", result)
	}
}

func TestLoadRulesRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatalf("expected error for empty rules file")
	}
}
