package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/parishledger/be-money-requests/internal/apperr"
	"github.com/parishledger/be-money-requests/internal/database"
)

// HistoryRepository appends and reads the append-only status history. The
// table has a delete-prevention trigger, so Append is the only mutation.
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append inserts one history entry.
func (r *HistoryRepository) Append(ctx context.Context, entry *StatusHistoryEntry) error {
	entry.ID = uuid.NewString()

	query := `
		INSERT INTO request_status_history
		    (id, request_id, old_status, new_status, changed_by, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING changed_at
	`

	err := r.db.Runner(ctx).QueryRow(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.OldStatus,
		entry.NewStatus,
		entry.ChangedBy,
		entry.Note,
	).Scan(&entry.ChangedAt)

	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to append status history")
	}
	return nil
}

// ListByRequestID returns a request's status trail oldest-first.
func (r *HistoryRepository) ListByRequestID(ctx context.Context, requestID string) ([]*StatusHistoryEntry, error) {
	query := `
		SELECT id, request_id, old_status, new_status, changed_by, note, changed_at
		FROM request_status_history
		WHERE request_id = $1
		ORDER BY changed_at ASC
	`

	rows, err := r.db.Runner(ctx).Query(ctx, query, requestID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get status history")
	}
	defer rows.Close()

	var entries []*StatusHistoryEntry
	for rows.Next() {
		entry := &StatusHistoryEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.RequestID,
			&entry.OldStatus,
			&entry.NewStatus,
			&entry.ChangedBy,
			&entry.Note,
			&entry.ChangedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan history entry")
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
