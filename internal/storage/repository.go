package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"aquawatch-backend/internal/telemetry"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

// --- device registry ---

func (r *Repository) GetDeviceCredentials(ctx context.Context, deviceID string) ([]byte, int64, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT device_secret, last_nonce FROM devices WHERE id=$1 AND device_secret IS NOT NULL`, deviceID)
	var secret []byte
	var lastNonce int64
	if err := row.Scan(&secret, &lastNonce); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}
	return secret, lastNonce, nil
}

func (r *Repository) GetBlockReason(ctx context.Context, deviceID string) (string, bool, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT reason FROM blocked_devices WHERE device_id=$1`, deviceID)
	var reason string
	if err := row.Scan(&reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return reason, true, nil
}

// CommitNonce advances a device's last accepted nonce. The conditional WHERE
// is the serialization point for concurrent messages from the same device:
// exactly one of two racing commits with the same nonce can win.
func (r *Repository) CommitNonce(ctx context.Context, deviceID string, nonce int64) (bool, error) {
	tag, err := r.Store.Pool.Exec(ctx, `
		UPDATE devices SET last_nonce=$1 WHERE id=$2 AND last_nonce < $1`, nonce, deviceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ResolveAPIKey(ctx context.Context, apiKey string) (DeviceRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT id, name FROM devices WHERE api_key=$1`, apiKey)
	var rec DeviceRecord
	if err := row.Scan(&rec.ID, &rec.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeviceRecord{}, ErrNotFound
		}
		return DeviceRecord{}, err
	}
	return rec, nil
}

func (r *Repository) UpdateDeviceStatus(ctx context.Context, deviceID string, status telemetry.DeviceStatus, seenAt time.Time) error {
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE devices SET status=$1, last_seen=$2 WHERE id=$3`, status, seenAt, deviceID)
	return err
}

// --- readings ---

func (r *Repository) InsertReading(ctx context.Context, reading telemetry.Reading) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO sensor_data (id, device_id, tds, temperature, voltage, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.NewString(), reading.DeviceID, reading.TDS, reading.Temperature, reading.Voltage, reading.RecordedAt,
	)
	return err
}

// --- heartbeat ---

func (r *Repository) GetHeartbeat(ctx context.Context, deviceID string) (HeartbeatRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT device_id, last_seen, voltage, status FROM device_heartbeat WHERE device_id=$1`, deviceID)
	var rec HeartbeatRecord
	if err := row.Scan(&rec.DeviceID, &rec.LastSeen, &rec.Voltage, &rec.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return HeartbeatRecord{}, ErrNotFound
		}
		return HeartbeatRecord{}, err
	}
	return rec, nil
}

func (r *Repository) UpsertHeartbeat(ctx context.Context, rec HeartbeatRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO device_heartbeat (device_id, last_seen, voltage, status)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (device_id) DO UPDATE SET last_seen=$2, voltage=$3, status=$4`,
		rec.DeviceID, rec.LastSeen, rec.Voltage, rec.Status,
	)
	return err
}

func (r *Repository) InsertStateHistory(ctx context.Context, deviceID string, oldState, newState telemetry.DeviceState) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO device_state_history (device_id, old_state, new_state, created_at)
		VALUES ($1,$2,$3,now())`,
		deviceID, oldState, newState,
	)
	return err
}

// --- alerts ---

func (r *Repository) CreateAlert(ctx context.Context, alert AlertRecord) (string, error) {
	id := uuid.NewString()
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO alerts (id, device_id, message, severity, status, escalation_level, created_at)
		VALUES ($1,$2,$3,$4,$5,0,now())`,
		id, alert.DeviceID, alert.Message, alert.Severity, alert.Status,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListOpenUnacknowledgedAlerts(ctx context.Context) ([]AlertRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, device_id, message, severity, status, escalation_level, created_at
		FROM alerts WHERE status <> 'resolved' AND acknowledged_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []AlertRecord{}
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Message, &rec.Severity, &rec.Status, &rec.EscalationLevel, &rec.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// EscalateAlerts bumps the listed alerts to the given level in one statement.
// The WHERE clause re-checks the escalation invariant so a concurrent
// acknowledge or resolve between scan and update cannot be overridden.
func (r *Repository) EscalateAlerts(ctx context.Context, ids []string, level int) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.Store.Pool.Exec(ctx, `
		UPDATE alerts SET escalation_level=$1
		WHERE id = ANY($2) AND status <> 'resolved' AND acknowledged_at IS NULL AND escalation_level < $1`,
		level, ids,
	)
	return err
}

func (r *Repository) ListEscalationRules(ctx context.Context) ([]EscalationRule, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT severity, minutes_to_escalate, next_role FROM escalation_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []EscalationRule{}
	for rows.Next() {
		var rec EscalationRule
		if err := rows.Scan(&rec.Severity, &rec.MinutesToEscalate, &rec.NextRole); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// --- security events ---

func (r *Repository) InsertSecurityEvent(ctx context.Context, event SecurityEventRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO security_events (device_id, reason, payload, ip, created_at)
		VALUES ($1,$2,$3,$4,now())`,
		event.DeviceID, event.Reason, event.Payload, event.SourceIP,
	)
	return err
}

// --- push subscriptions ---

func (r *Repository) ListUserIDsByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT id FROM profiles WHERE role=$1`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) ListSubscriptions(ctx context.Context, userIDs []string) ([]SubscriptionRecord, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth
		FROM notification_subscriptions WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []SubscriptionRecord{}
	for rows.Next() {
		var rec SubscriptionRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Endpoint, &rec.P256dh, &rec.Auth); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) DeleteSubscription(ctx context.Context, id string) error {
	_, err := r.Store.Pool.Exec(ctx, `DELETE FROM notification_subscriptions WHERE id=$1`, id)
	return err
}
