package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Event is one staged outbox row: a committed state change waiting to be
// relayed to the bus.
type Event struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	EventType string
	Sequence  int64
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Repository reads and settles outbox rows. Writes happen inside the auction
// store's commit transactions, not here.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FetchUnsent returns staged events oldest first. Relays may overlap; the
// bus-side message id dedup keeps delivery at-least-once without duplicates
// surviving downstream.
func (r *Repository) FetchUnsent(ctx context.Context, limit int32) ([]Event, error) {
	const query = `
		SELECT id, auction_id, event_type, sequence, payload, created_at
		FROM auction_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AuctionID, &e.EventType, &e.Sequence, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkSent settles published events.
func (r *Repository) MarkSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	const query = `
		UPDATE auction_outbox SET sent_at = now()
		WHERE id = ANY($1::uuid[])
	`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(raw)); err != nil {
		return fmt.Errorf("failed to mark outbox events sent: %w", err)
	}
	return nil
}
