package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/caixalink/pairing-server-go/internal/model"
)

type PairingEventRepository interface {
	Insert(ctx context.Context, event model.PairingEvent) error
	CountSince(ctx context.Context, since time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type pairingEventRepo struct {
	db *sqlx.DB
}

func NewPairingEventRepository(db *sqlx.DB) PairingEventRepository {
	return &pairingEventRepo{db: db}
}

func (r *pairingEventRepo) Insert(ctx context.Context, event model.PairingEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pairing_events (id, event_type, session_id, counterpart_id, code, device_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.Type, event.SessionID, event.CounterpartID, event.Code, event.DeviceType, event.CreatedAt)
	return err
}

func (r *pairingEventRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM pairing_events WHERE created_at >= $1
	`, since)
	return count, err
}

func (r *pairingEventRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_events WHERE created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
