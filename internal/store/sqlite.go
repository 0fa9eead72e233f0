// Package store persists production requests and their status ledger.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const requestColumns = `request_id, requester_id, factory_id, product_id, requested_quantity, current_quantity,
	adjustment_type, priority, response_deadline, delivery_deadline, reason, status, status_memo,
	revision_count, created_at, updated_at`

// SQLiteStore provides SQLite-backed request and ledger persistence
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRequest inserts a request and its initial ledger entry
func (s *SQLiteStore) CreateRequest(ctx context.Context, req *domain.ProductionRequest, entry *domain.StatusHistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO production_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.RequestID,
		req.RequesterID,
		req.FactoryID,
		req.ProductID,
		req.RequestedQuantity,
		req.CurrentQuantity,
		string(req.AdjustmentType),
		string(req.Priority),
		formatTime(req.ResponseDeadline),
		formatTime(req.DeliveryDeadline),
		req.Reason,
		string(req.Status),
		req.StatusMemo,
		req.RevisionCount,
		formatTime(req.CreatedAt),
		formatTime(req.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: request %s already exists", domain.ErrConflict, req.RequestID)
		}
		return unavailable(err)
	}

	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// GetRequest retrieves a request by id
func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*domain.ProductionRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM production_requests WHERE request_id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return req, nil
}

// ListRequests returns requests matching the filter, oldest first
func (s *SQLiteStore) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]*domain.ProductionRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM production_requests WHERE 1=1`
	var args []interface{}

	if filter.FactoryID != "" {
		query += " AND factory_id = ?"
		args = append(args, filter.FactoryID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY created_at, request_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var reqs []*domain.ProductionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return reqs, nil
}

// ApplyTransition writes a status change and its ledger entry in one
// transaction, provided the stored status still equals tr.From.
func (s *SQLiteStore) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE production_requests
		SET status = ?, status_memo = ?, updated_at = ?
		WHERE request_id = ? AND status = ?`,
		string(tr.To), tr.Memo, formatTime(tr.At), tr.RequestID, string(tr.From))
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM production_requests WHERE request_id = ?`, tr.RequestID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("request %s: %w", tr.RequestID, domain.ErrNotFound)
		}
		if err != nil {
			return unavailable(err)
		}
		return fmt.Errorf("%w: request %s is %s, expected %s", domain.ErrConflict, tr.RequestID, current, tr.From)
	}

	if err := insertHistory(ctx, tx, tr.Entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// ListHistory returns a request's ledger entries in chronological order
func (s *SQLiteStore) ListHistory(ctx context.Context, requestID string) ([]*domain.StatusHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT history_id, request_id, previous_status, new_status, changed_by, change_reason, changed_at
		FROM status_history WHERE request_id = ?
		ORDER BY changed_at, history_id
	`, requestID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var entries []*domain.StatusHistoryEntry
	for rows.Next() {
		var e domain.StatusHistoryEntry
		var prev, reason sql.NullString
		var newStatus, changedBy, changedAt string
		if err := rows.Scan(&e.HistoryID, &e.RequestID, &prev, &newStatus, &changedBy, &reason, &changedAt); err != nil {
			return nil, unavailable(err)
		}
		if prev.Valid {
			st := domain.Status(prev.String)
			e.PreviousStatus = &st
		}
		e.NewStatus = domain.Status(newStatus)
		e.ChangedBy = domain.Actor(changedBy)
		e.ChangeReason = reason.String
		if e.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return entries, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, e *domain.StatusHistoryEntry) error {
	var prev sql.NullString
	if e.PreviousStatus != nil {
		prev = sql.NullString{String: string(*e.PreviousStatus), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO status_history (history_id, request_id, previous_status, new_status, changed_by, change_reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.HistoryID, e.RequestID, prev, string(e.NewStatus), string(e.ChangedBy), e.ChangeReason, formatTime(e.ChangedAt))
	if err != nil {
		return unavailable(err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row scanner) (*domain.ProductionRequest, error) {
	var req domain.ProductionRequest
	var requesterID, reason, memo sql.NullString
	var adjustment, priority, status string
	var responseDeadline, deliveryDeadline, createdAt, updatedAt string

	err := row.Scan(&req.RequestID, &requesterID, &req.FactoryID, &req.ProductID, &req.RequestedQuantity, &req.CurrentQuantity,
		&adjustment, &priority, &responseDeadline, &deliveryDeadline, &reason, &status, &memo,
		&req.RevisionCount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	req.RequesterID = requesterID.String
	req.Reason = reason.String
	req.StatusMemo = memo.String
	req.AdjustmentType = domain.AdjustmentType(adjustment)
	req.Priority = domain.Priority(priority)
	req.Status = domain.Status(status)

	for _, f := range []struct {
		raw string
		dst *time.Time
	}{
		{responseDeadline, &req.ResponseDeadline},
		{deliveryDeadline, &req.DeliveryDeadline},
		{createdAt, &req.CreatedAt},
		{updatedAt, &req.UpdatedAt},
	} {
		t, err := parseTime(f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = t
	}

	return &req, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}
