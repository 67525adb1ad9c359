package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"focusattend/internal/errs"
)

// Repository persists attendance records in Postgres. The viewer-facing
// lists exclude records the viewer has hidden.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, session_id, label, code, threshold_minutes, radius_meters, owner_id, summary, summary_user_ids, hidden_by, created_at`

// Insert writes a new record. The summary and its user-id index are stored
// as jsonb so membership checks stay in SQL.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SummaryUserIDs == nil {
		rec.SummaryUserIDs = []string{}
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return Record{}, fmt.Errorf("encode summary: %w", err)
	}
	userIDs, err := json.Marshal(rec.SummaryUserIDs)
	if err != nil {
		return Record{}, fmt.Errorf("encode user ids: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, session_id, label, code, threshold_minutes, radius_meters, owner_id, summary, summary_user_ids)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, rec.ID, rec.SessionID, rec.Label, rec.Code, rec.ThresholdMinutes, rec.RadiusMeters, rec.OwnerID, summary, userIDs)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.HiddenBy = nil
	return rec, nil
}

// GetByID returns a single record.
func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records WHERE id = $1
	`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errs.ErrNotFound
	}
	return rec, err
}

// ListRecentByOwner returns the owner's newest records, skipping any the
// owner has hidden.
func (r *Repository) ListRecentByOwner(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE owner_id = $1 AND NOT (hidden_by @> $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, ownerID, jsonMember(ownerID), limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// ListRecentByUser returns the newest records whose summary includes the
// user, skipping any the user has hidden.
func (r *Repository) ListRecentByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}
	member := jsonMember(userID)
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE summary_user_ids @> $1 AND NOT (hidden_by @> $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, member, limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// Hide appends the viewer to the record's hidden set. Idempotent; the
// record stays visible to every other viewer.
func (r *Repository) Hide(ctx context.Context, recordID, viewerID string) error {
	member := jsonMember(viewerID)
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET hidden_by = CASE WHEN hidden_by @> $2 THEN hidden_by ELSE hidden_by || $2 END
		WHERE id = $1
	`, recordID, member)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// jsonMember renders a one-element jsonb array for containment checks.
func jsonMember(id string) []byte {
	raw, _ := json.Marshal([]string{id})
	return raw
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec      Record
		summary  []byte
		userIDs  []byte
		hiddenBy []byte
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Label, &rec.Code, &rec.ThresholdMinutes,
		&rec.RadiusMeters, &rec.OwnerID, &summary, &userIDs, &hiddenBy, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(summary, &rec.Summary); err != nil {
		return Record{}, fmt.Errorf("decode summary: %w", err)
	}
	if err := json.Unmarshal(userIDs, &rec.SummaryUserIDs); err != nil {
		return Record{}, fmt.Errorf("decode user ids: %w", err)
	}
	if err := json.Unmarshal(hiddenBy, &rec.HiddenBy); err != nil {
		return Record{}, fmt.Errorf("decode hidden by: %w", err)
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
