package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bidhaus/auctiond/internal/auction/events"
	"github.com/bidhaus/auctiond/internal/auctionerrors"
	"github.com/bidhaus/auctiond/internal/models"
	"github.com/bidhaus/auctiond/internal/sqlutil"
)

// outboxNotifyChannel is NOTIFY-ed inside every committing transaction so the
// outbox worker wakes without waiting for its poll tick.
const outboxNotifyChannel = "auction_outbox"

// ErrHighestBidConflict is returned when the conditional highest-bid update
// matched no row even though the caller held the serialized section. It marks
// a broken invariant, not a user-facing rejection.
var ErrHighestBidConflict = errors.New("highest bid conditional update matched no row")

// ErrCancelConflict is returned when a cancellation's database guard rejects a
// cancel the serialized section had already validated.
var ErrCancelConflict = errors.New("cancel conditional update matched no row")

// Repository is the durable auction store over Postgres.
type Repository struct {
	db *sql.DB
}

func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type CreateAuctionRequest struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	SellerID   uuid.UUID
	StartPrice decimal.Decimal
	CreatedAt  time.Time
}

func (r *Repository) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	const query = `
		INSERT INTO auctions (id, product_id, seller_id, start_price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		req.ID, req.ProductID, req.SellerID, req.StartPrice, models.AuctionStatusOpen, req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return &models.Auction{
		ID:         req.ID,
		ProductID:  req.ProductID,
		SellerID:   req.SellerID,
		StartPrice: req.StartPrice,
		Status:     models.AuctionStatusOpen,
		CreatedAt:  req.CreatedAt,
	}, nil
}

// GetAuction returns the auction with its denormalized highest bid resolved.
func (r *Repository) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	const query = `
		SELECT a.id, a.product_id, a.seller_id, a.start_price, a.status, a.created_at,
		       b.id, b.auction_id, b.bidder_id, b.amount, b.accepted_at
		FROM auctions a
		LEFT JOIN bids b ON b.id = a.highest_bid_id
		WHERE a.id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)
	auction, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auctionerrors.ErrAuctionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction %s: %w", id, err)
	}
	return auction, nil
}

// ListAuctionsByStatus returns auctions in the given status, newest first.
func (r *Repository) ListAuctionsByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	const query = `
		SELECT a.id, a.product_id, a.seller_id, a.start_price, a.status, a.created_at,
		       b.id, b.auction_id, b.bidder_id, b.amount, b.accepted_at
		FROM auctions a
		LEFT JOIN bids b ON b.id = a.highest_bid_id
		WHERE a.status = $1
		ORDER BY a.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions by status %s: %w", status, err)
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction row: %w", err)
		}
		auctions = append(auctions, *auction)
	}
	return auctions, rows.Err()
}

// ListBids returns the full bid ledger for an auction, descending by accepted
// time. This ordering is the resync contract of the details read.
func (r *Repository) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	const query = `
		SELECT id, auction_id, bidder_id, amount, accepted_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY accepted_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.AcceptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid row: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// AppendBid durably commits an accepted bid: insert into the ledger, advance
// the denormalized highest bid behind an amount comparison, and stage the
// BidAccepted event in the outbox. All of it is one transaction; a failure
// leaves the auction exactly as it was.
func (r *Repository) AppendBid(ctx context.Context, bid models.Bid, payload events.BidAcceptedPayload) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		const insertBid = `
			INSERT INTO bids (id, auction_id, bidder_id, amount, accepted_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.ExecContext(ctx, insertBid,
			bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.AcceptedAt); err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}

		// Conditional update: only advance if the stored highest is still lower.
		// Under per-auction serialization this always matches; a miss is a broken
		// invariant surfaced to the caller.
		const advanceHighest = `
			UPDATE auctions a
			SET highest_bid_id = $1
			WHERE a.id = $2
			  AND a.status = 'OPEN'
			  AND (a.highest_bid_id IS NULL
			       OR (SELECT b.amount FROM bids b WHERE b.id = a.highest_bid_id) < $3)
		`
		res, err := tx.ExecContext(ctx, advanceHighest, bid.ID, bid.AuctionID, bid.Amount)
		if err != nil {
			return fmt.Errorf("failed to advance highest bid: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return ErrHighestBidConflict
		}

		if err := insertOutbox(ctx, tx, bid.AuctionID, events.TypeBidAccepted, payload); err != nil {
			return err
		}
		return notifyOutbox(ctx, tx)
	})
}

// CloseAuction transitions an auction to FINISHED and stages the AuctionClosed
// event. Returns false without touching anything when the auction is already
// terminal, making deadline close idempotent.
func (r *Repository) CloseAuction(ctx context.Context, id uuid.UUID, payload events.AuctionClosedPayload) (bool, error) {
	var performed bool
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		const finish = `
			UPDATE auctions SET status = 'FINISHED'
			WHERE id = $1 AND status = 'OPEN'
		`
		res, err := tx.ExecContext(ctx, finish, id)
		if err != nil {
			return fmt.Errorf("failed to close auction %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return nil
		}
		performed = true

		if err := insertOutbox(ctx, tx, id, events.TypeAuctionClosed, payload); err != nil {
			return err
		}
		return notifyOutbox(ctx, tx)
	})
	if err != nil {
		return false, err
	}
	return performed, nil
}

// CancelAuction transitions a bidless open auction to CANCELLED. The database
// guard re-checks the empty-ledger condition the serialized section validated.
func (r *Repository) CancelAuction(ctx context.Context, id uuid.UUID, payload events.AuctionCancelledPayload) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		const cancel = `
			UPDATE auctions SET status = 'CANCELLED'
			WHERE id = $1 AND status = 'OPEN'
			  AND NOT EXISTS (SELECT 1 FROM bids WHERE auction_id = $1)
		`
		res, err := tx.ExecContext(ctx, cancel, id)
		if err != nil {
			return fmt.Errorf("failed to cancel auction %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return ErrCancelConflict
		}

		if err := insertOutbox(ctx, tx, id, events.TypeAuctionCancelled, payload); err != nil {
			return err
		}
		return notifyOutbox(ctx, tx)
	})
}

// DueAuctions returns open auctions created at or before the cutoff, oldest
// first. The scheduler derives the cutoff from now minus the auction duration.
func (r *Repository) DueAuctions(ctx context.Context, cutoff time.Time, limit int32) ([]uuid.UUID, error) {
	const query = `
		SELECT id FROM auctions
		WHERE status = 'OPEN' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due auctions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EarliestOpenCreation returns the creation time of the oldest open auction,
// or nil when none are open. Adding the auction duration to it yields the next
// deadline the scheduler must wake for.
func (r *Repository) EarliestOpenCreation(ctx context.Context) (*time.Time, error) {
	const query = `
		SELECT MIN(created_at) FROM auctions WHERE status = 'OPEN'
	`
	var earliest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query).Scan(&earliest); err != nil {
		return nil, fmt.Errorf("failed to fetch earliest open auction: %w", err)
	}
	return sqlutil.FromSqlTime(earliest), nil
}

// insertOutbox stages a committed event row inside the caller's transaction.
// The per-auction sequence is assigned here, under the same serialization that
// ordered the state change itself.
func insertOutbox(ctx context.Context, tx *sql.Tx, auctionID uuid.UUID, eventType events.Type, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	const query = `
		INSERT INTO auction_outbox (id, auction_id, event_type, sequence, payload)
		VALUES ($1, $2, $3,
		        (SELECT COALESCE(MAX(sequence), 0) + 1 FROM auction_outbox WHERE auction_id = $2),
		        $4)
	`
	if _, err := tx.ExecContext(ctx, query, uuid.New(), auctionID, string(eventType), data); err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

func notifyOutbox(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, '')`, outboxNotifyChannel); err != nil {
		return fmt.Errorf("failed to notify outbox channel: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*models.Auction, error) {
	var a models.Auction
	var bidID, bidAuctionID, bidderID uuid.NullUUID
	var amount decimal.NullDecimal
	var acceptedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.ProductID, &a.SellerID, &a.StartPrice, &a.Status, &a.CreatedAt,
		&bidID, &bidAuctionID, &bidderID, &amount, &acceptedAt,
	)
	if err != nil {
		return nil, err
	}
	if bidID.Valid {
		a.HighestBid = &models.Bid{
			ID:         bidID.UUID,
			AuctionID:  bidAuctionID.UUID,
			BidderID:   bidderID.UUID,
			Amount:     amount.Decimal,
			AcceptedAt: acceptedAt.Time,
		}
	}
	return &a, nil
}
