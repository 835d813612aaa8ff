package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caixalink/pairing-server-go/internal/repository"
	"github.com/caixalink/pairing-server-go/internal/service"
	"github.com/caixalink/pairing-server-go/internal/sse"
)

// StatsHandler exposes broker counters for dashboards and smoke checks.
type StatsHandler struct {
	dir       *service.Directory
	registry  *service.Registry
	broker    *sse.Broker
	eventRepo repository.PairingEventRepository
	saleRepo  repository.SaleRepository
	startedAt time.Time
}

func NewStatsHandler(
	dir *service.Directory,
	registry *service.Registry,
	broker *sse.Broker,
	eventRepo repository.PairingEventRepository,
	saleRepo repository.SaleRepository,
) *StatsHandler {
	return &StatsHandler{
		dir:       dir,
		registry:  registry,
		broker:    broker,
		eventRepo: eventRepo,
		saleRepo:  saleRepo,
		startedAt: time.Now(),
	}
}

// GET /v1/stats
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"uptime":           time.Since(h.startedAt).Milliseconds(),
		"sessions":         h.dir.Count(),
		"pairs":            h.dir.CountPaired(),
		"liveCodes":        h.registry.LiveCodes(),
		"streamClients":    h.broker.TotalClients(),
		"totalConnections": h.dir.TotalCreated(),
	}

	since := time.Now().Add(-24 * time.Hour)
	if h.eventRepo != nil {
		if count, err := h.eventRepo.CountSince(r.Context(), since); err == nil {
			stats["pairingEvents24h"] = count
		} else {
			log.Warn().Err(err).Msg("stats: failed to count pairing events")
		}
	}
	if h.saleRepo != nil {
		if count, err := h.saleRepo.CountSince(r.Context(), since); err == nil {
			stats["sales24h"] = count
		} else {
			log.Warn().Err(err).Msg("stats: failed to count sales")
		}
	}

	writeJSON(w, http.StatusOK, stats)
}
