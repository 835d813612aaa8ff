package service

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/caixalink/pairing-server-go/internal/errors"
	"github.com/caixalink/pairing-server-go/internal/model"
	"github.com/caixalink/pairing-server-go/internal/repository"
)

const salePersistTimeout = 5 * time.Second

// SaleService computes the finalize-sale handshake. Persistence is an
// audit concern only and happens off the hot path; the pairing decision
// never waits on the database.
type SaleService struct {
	dir      *Directory
	saleRepo repository.SaleRepository
}

func NewSaleService(dir *Directory, saleRepo repository.SaleRepository) *SaleService {
	return &SaleService{
		dir:      dir,
		saleRepo: saleRepo,
	}
}

// Finalize closes the desktop's running transaction. An explicit saleData
// payload wins; otherwise the cart scratch accumulated from forwarded scan
// events is consumed.
func (s *SaleService) Finalize(desktop model.Session, req *model.SaleRequest) (*model.Sale, error) {
	var items []model.SaleItem
	var discount float64

	if req != nil && len(req.Items) > 0 {
		items = req.Items
		discount = req.DiscountPercent
		s.dir.TakeCart(desktop.ID)
	} else {
		items, discount = s.dir.TakeCart(desktop.ID)
		if req != nil && req.DiscountPercent != 0 {
			discount = req.DiscountPercent
		}
	}

	if len(items) == 0 {
		return nil, apperrors.MissingRequired("items")
	}
	if discount < 0 || discount > 100 {
		return nil, apperrors.InvalidInput("discountPercent", "must be between 0 and 100")
	}

	var subtotal int64
	for _, item := range items {
		if item.PriceCents < 0 {
			return nil, apperrors.InvalidInput("priceCents", "must not be negative")
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		subtotal += item.PriceCents * int64(qty)
	}

	discountCents := int64(math.Round(float64(subtotal) * discount / 100))

	sale := &model.Sale{
		ID:               uuid.NewString(),
		DesktopSessionID: desktop.ID,
		MobileSessionID:  desktop.PairedWith,
		Items:            items,
		SubtotalCents:    subtotal,
		DiscountPercent:  discount,
		TotalCents:       subtotal - discountCents,
		FinalizedAt:      time.Now(),
	}

	s.persist(sale)

	log.Info().
		Str("saleId", sale.ID).
		Str("desktopSessionId", sale.DesktopSessionID).
		Int("items", len(sale.Items)).
		Int64("totalCents", sale.TotalCents).
		Msg("sale finalized")

	return sale, nil
}

func (s *SaleService) persist(sale *model.Sale) {
	if s.saleRepo == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), salePersistTimeout)
		defer cancel()

		if err := s.saleRepo.Insert(ctx, sale); err != nil {
			log.Error().Err(err).Str("saleId", sale.ID).Msg("failed to persist sale")
		}
	}()
}
