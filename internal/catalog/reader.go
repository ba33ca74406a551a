package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bidhaus/auctiond/internal/auctionerrors"
	"github.com/bidhaus/auctiond/internal/models"
)

// Reader supplies immutable auction subject metadata. This subsystem never
// writes through it.
type Reader interface {
	Product(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// PostgresReader reads products from the catalog tables.
type PostgresReader struct {
	db *sql.DB
}

func NewPostgresReader(db *sql.DB) *PostgresReader {
	return &PostgresReader{db: db}
}

func (r *PostgresReader) Product(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	const query = `
		SELECT id, name, floor_price
		FROM products
		WHERE id = $1
	`
	var p models.Product
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.FloorPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auctionerrors.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	return &p, nil
}
