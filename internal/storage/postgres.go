package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"pricewatch/internal/alert"
)

const (
	alertColumns = `id,
        user_id,
        alert_type,
        search,
        target_price::text,
        currency,
        original_price::text,
        alert_when,
        status,
        expires_at,
        created_at,
        updated_at,
        price_history,
        check_count,
        last_checked_at,
        current_price::text,
        triggered_at,
        triggered_price::text,
        notification_sent,
        notification_sent_at,
        notify`

	insertAlertSQL = `INSERT INTO price_alerts (
        id, user_id, alert_type, search, target_price, currency, original_price,
        alert_when, status, expires_at, created_at, updated_at, price_history,
        check_count, last_checked_at, current_price, triggered_at, triggered_price,
        notification_sent, notification_sent_at, notify
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
    )`

	updateAlertSQL = `UPDATE price_alerts SET
        alert_type           = $2,
        search               = $3,
        target_price         = $4,
        currency             = $5,
        original_price       = $6,
        alert_when           = $7,
        status               = $8,
        expires_at           = $9,
        updated_at           = $10,
        price_history        = $11,
        check_count          = $12,
        last_checked_at      = $13,
        current_price        = $14,
        triggered_at         = $15,
        triggered_price      = $16,
        notification_sent    = $17,
        notification_sent_at = $18,
        notify               = $19
    WHERE id = $1`

	saveAlertSQL = updateAlertSQL + ` AND status <> 'deleted'`

	selectAlertByIDSQL = `SELECT ` + alertColumns + ` FROM price_alerts WHERE id = $1`

	selectAlertForUpdateSQL = selectAlertByIDSQL + ` FOR UPDATE`

	expireAlertsSQL = `UPDATE price_alerts
    SET status = 'expired', updated_at = $1
    WHERE status IN ('active', 'paused') AND expires_at < $1`

	selectActiveSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE status = 'active'
    ORDER BY created_at ASC`

	selectPendingSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE status = 'triggered' AND notification_sent = FALSE
    ORDER BY triggered_at ASC`

	statsSQL = `SELECT status, alert_type, COUNT(*)
    FROM price_alerts
    WHERE user_id = $1 AND status <> 'deleted'
    GROUP BY status, alert_type`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a new alert.
func (s *Store) Create(ctx context.Context, a *alert.PriceAlert) (*alert.PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	args, err := insertArgs(a)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, insertAlertSQL, args...); err != nil {
		return nil, persistenceErr("insert alert", err)
	}
	return a.Clone(), nil
}

// FindByID loads one alert.
func (s *Store) FindByID(ctx context.Context, id string) (*alert.PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	a, err := scanAlert(pool.QueryRow(ctx, selectAlertByIDSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceErr("find alert", err)
	}
	return a, nil
}

// FindByUser lists a user's alerts newest first.
func (s *Store) FindByUser(ctx context.Context, userID string, opts ListOptions) ([]*alert.PriceAlert, error) {
	var (
		where = []string{"user_id = $1"}
		args  = []any{userID}
	)
	if !opts.IncludeDeleted && opts.Status != alert.StatusDeleted {
		where = append(where, "status <> 'deleted'")
	}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		where = append(where, fmt.Sprintf("alert_type = $%d", len(args)))
	}

	query := `SELECT ` + alertColumns + ` FROM price_alerts WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return s.queryAlerts(ctx, "list user alerts", query, args...)
}

// FindActive materialises lazy expiry and returns the alerts still active.
func (s *Store) FindActive(ctx context.Context, now time.Time) ([]*alert.PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, expireAlertsSQL, now.UTC()); err != nil {
		return nil, persistenceErr("expire alerts", err)
	}
	return s.queryAlerts(ctx, "list active alerts", selectActiveSQL)
}

// FindPendingNotifications lists triggered alerts that were never acknowledged.
func (s *Store) FindPendingNotifications(ctx context.Context) ([]*alert.PriceAlert, error) {
	return s.queryAlerts(ctx, "list pending notifications", selectPendingSQL)
}

// Update locks the row, applies mutate and writes the result back in one transaction.
func (s *Store) Update(ctx context.Context, id string, mutate func(*alert.PriceAlert) error) (*alert.PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, persistenceErr("begin update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := scanAlert(tx.QueryRow(ctx, selectAlertForUpdateSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceErr("load alert", err)
	}

	if err := mutate(a); err != nil {
		return nil, err
	}

	args, err := updateArgs(a)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, updateAlertSQL, args...); err != nil {
		return nil, persistenceErr("update alert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, persistenceErr("commit update", err)
	}
	return a, nil
}

// Save overwrites a non-deleted alert.
func (s *Store) Save(ctx context.Context, a *alert.PriceAlert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	args, err := updateArgs(a)
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, saveAlertSQL, args...)
	if err != nil {
		return persistenceErr("save alert", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes an alert.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	_, err := s.Update(ctx, id, func(a *alert.PriceAlert) error {
		ok, err := applyDelete(a)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyDeleted
		}
		deleted = true
		return nil
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, errAlreadyDeleted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return deleted, nil
}

var errAlreadyDeleted = errors.New("already deleted")

// Stats aggregates a user's alerts by status and type.
func (s *Store) Stats(ctx context.Context, userID string) (Stats, error) {
	stats := Stats{ByType: make(map[alert.Type]int)}
	pool, err := s.getPool()
	if err != nil {
		return stats, err
	}

	rows, err := pool.Query(ctx, statsSQL, userID)
	if err != nil {
		return stats, persistenceErr("alert stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, typ string
			count       int
		)
		if err := rows.Scan(&status, &typ, &count); err != nil {
			return stats, persistenceErr("scan alert stats", err)
		}
		stats.add(alert.Status(status), alert.Type(typ), count)
	}
	if err := rows.Err(); err != nil {
		return stats, persistenceErr("iterate alert stats", err)
	}
	return stats, nil
}

func (s *Store) queryAlerts(ctx context.Context, op, query string, args ...any) ([]*alert.PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistenceErr(op, err)
	}
	defer rows.Close()

	var result []*alert.PriceAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, persistenceErr(op, err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(op, err)
	}
	return result, nil
}

func scanAlert(row rowScanner) (*alert.PriceAlert, error) {
	var (
		a                                             alert.PriceAlert
		typ, status                                   string
		target                                        string
		original, current, triggered                  *string
		searchJSON, whenJSON, historyJSON, notifyJSON []byte
	)

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&typ,
		&searchJSON,
		&target,
		&a.Currency,
		&original,
		&whenJSON,
		&status,
		&a.ExpiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&historyJSON,
		&a.CheckCount,
		&a.LastCheckedAt,
		&current,
		&a.TriggeredAt,
		&triggered,
		&a.NotificationSent,
		&a.NotificationSentAt,
		&notifyJSON,
	)
	if err != nil {
		return nil, err
	}

	a.Type = alert.Type(typ)
	a.Status = alert.Status(status)

	if a.TargetPrice, err = decimal.NewFromString(target); err != nil {
		return nil, fmt.Errorf("parse target_price: %w", err)
	}
	if a.OriginalPrice, err = parseNullDecimal(original); err != nil {
		return nil, fmt.Errorf("parse original_price: %w", err)
	}
	if a.CurrentPrice, err = parseNullDecimal(current); err != nil {
		return nil, fmt.Errorf("parse current_price: %w", err)
	}
	if a.TriggeredPrice, err = parseNullDecimal(triggered); err != nil {
		return nil, fmt.Errorf("parse triggered_price: %w", err)
	}

	for _, field := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"search", searchJSON, &a.Search},
		{"alert_when", whenJSON, &a.When},
		{"price_history", historyJSON, &a.History},
		{"notify", notifyJSON, &a.Notify},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", field.name, err)
		}
	}

	a.ExpiresAt = a.ExpiresAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func parseNullDecimal(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

type encodedAlert struct {
	search, when, history, notify []byte
}

func encode(a *alert.PriceAlert) (encodedAlert, error) {
	var (
		enc encodedAlert
		err error
	)
	if enc.search, err = json.Marshal(a.Search); err != nil {
		return enc, fmt.Errorf("encode search: %w", err)
	}
	if enc.when, err = json.Marshal(a.When); err != nil {
		return enc, fmt.Errorf("encode alert_when: %w", err)
	}
	history := a.History
	if history == nil {
		history = []alert.Observation{}
	}
	if enc.history, err = json.Marshal(history); err != nil {
		return enc, fmt.Errorf("encode price_history: %w", err)
	}
	if enc.notify, err = json.Marshal(a.Notify); err != nil {
		return enc, fmt.Errorf("encode notify: %w", err)
	}
	return enc, nil
}

func insertArgs(a *alert.PriceAlert) ([]any, error) {
	enc, err := encode(a)
	if err != nil {
		return nil, err
	}
	return []any{
		a.ID,
		a.UserID,
		string(a.Type),
		enc.search,
		a.TargetPrice.String(),
		a.Currency,
		nullDecimal(a.OriginalPrice),
		enc.when,
		string(a.Status),
		a.ExpiresAt,
		a.CreatedAt,
		a.UpdatedAt,
		enc.history,
		a.CheckCount,
		a.LastCheckedAt,
		nullDecimal(a.CurrentPrice),
		a.TriggeredAt,
		nullDecimal(a.TriggeredPrice),
		a.NotificationSent,
		a.NotificationSentAt,
		enc.notify,
	}, nil
}

func updateArgs(a *alert.PriceAlert) ([]any, error) {
	enc, err := encode(a)
	if err != nil {
		return nil, err
	}
	return []any{
		a.ID,
		string(a.Type),
		enc.search,
		a.TargetPrice.String(),
		a.Currency,
		nullDecimal(a.OriginalPrice),
		enc.when,
		string(a.Status),
		a.ExpiresAt,
		a.UpdatedAt,
		enc.history,
		a.CheckCount,
		a.LastCheckedAt,
		nullDecimal(a.CurrentPrice),
		a.TriggeredAt,
		nullDecimal(a.TriggeredPrice),
		a.NotificationSent,
		a.NotificationSentAt,
		enc.notify,
	}, nil
}
