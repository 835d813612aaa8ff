package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/caixalink/pairing-server-go/internal/model"
)

type SaleRepository interface {
	Insert(ctx context.Context, sale *model.Sale) error
	CountSince(ctx context.Context, since time.Time) (int, error)
}

type saleRepo struct {
	db *sqlx.DB
}

func NewSaleRepository(db *sqlx.DB) SaleRepository {
	return &saleRepo{db: db}
}

func (r *saleRepo) Insert(ctx context.Context, sale *model.Sale) error {
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sales (id, desktop_session_id, mobile_session_id, items, subtotal_cents, discount_percent, total_cents, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sale.ID, sale.DesktopSessionID, sale.MobileSessionID, items,
		sale.SubtotalCents, sale.DiscountPercent, sale.TotalCents, sale.FinalizedAt)
	return err
}

func (r *saleRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sales WHERE finalized_at >= $1
	`, since)
	return count, err
}
